package dto

import (
	"time"

	"github.com/ShapArt/outlook-exporter/internal/domain"
)

// TicketResponse is the operator view of a ticket.
type TicketResponse struct {
	ID                 int64                 `json:"id"`
	EntryID            string                `json:"entry_id"`
	Subject            string                `json:"subject"`
	SenderEmail        string                `json:"sender_email"`
	Priority           domain.TicketPriority `json:"priority"`
	Status             domain.TicketStatus   `json:"status"`
	Overdue            bool                  `json:"overdue"`
	Responsible        *string               `json:"responsible"`
	Comment            string                `json:"comment,omitempty"`
	CreatedAt          time.Time             `json:"created_at"`
	SLAStartedAt       time.Time             `json:"sla_started_at"`
	ResponseDueAt      time.Time             `json:"response_due_at"`
	DueAt              time.Time             `json:"due_at"`
	FirstResponseAt    *time.Time            `json:"first_response_at,omitempty"`
	LastReminderAt     *time.Time            `json:"last_reminder_at,omitempty"`
	ReminderCount      int                   `json:"reminder_count"`
	EscalationLevel    int                   `json:"escalation_level"`
	ResponseBreachedAt *time.Time            `json:"response_breached_at,omitempty"`
	ResolvedAt         *time.Time            `json:"resolved_at,omitempty"`
	ClosedAt           *time.Time            `json:"closed_at,omitempty"`
	RowVersion         int64                 `json:"row_version"`
	UpdatedAt          time.Time             `json:"updated_at"`
	UpdatedBy          string                `json:"updated_by"`
}

// TicketDetailResponse adds the body to the list view.
type TicketDetailResponse struct {
	TicketResponse
	Body string `json:"body"`
}

// EventResponse is one audit trail entry.
type EventResponse struct {
	ID        string                 `json:"id"`
	Type      domain.TicketEventType `json:"type"`
	Source    string                 `json:"source"`
	Payload   map[string]any         `json:"payload,omitempty"`
	CreatedAt time.Time              `json:"created_at"`
}

// PageMeta describes the page returned by list endpoints.
type PageMeta struct {
	Page     int `json:"page"`
	PageSize int `json:"page_size"`
	Count    int `json:"count"`
}

// PassRequest is the optional body of pass endpoints.
type PassRequest struct {
	Since *time.Time `json:"since"`
}

// ReconcileRequest carries rows edited outside the workbook.
type ReconcileRequest struct {
	Rows []domain.SnapshotRow `json:"rows"`
}

// TokenResponse wraps an issued bearer token.
type TokenResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// NewTicketResponse maps a ticket to its list view.
func NewTicketResponse(t *domain.Ticket) TicketResponse {
	return TicketResponse{
		ID:                 t.ID,
		EntryID:            t.EntryID,
		Subject:            t.Subject,
		SenderEmail:        t.SenderEmail,
		Priority:           t.Priority,
		Status:             t.Status,
		Overdue:            t.Overdue(),
		Responsible:        t.Responsible,
		Comment:            t.Comment,
		CreatedAt:          t.CreatedAt,
		SLAStartedAt:       t.SLAStartedAt,
		ResponseDueAt:      t.ResponseDueAt,
		DueAt:              t.DueAt,
		FirstResponseAt:    t.FirstResponseAt,
		LastReminderAt:     t.LastReminderAt,
		ReminderCount:      t.ReminderCount,
		EscalationLevel:    t.EscalationLevel,
		ResponseBreachedAt: t.ResponseBreachedAt,
		ResolvedAt:         t.ResolvedAt,
		ClosedAt:           t.ClosedAt,
		RowVersion:         t.RowVersion,
		UpdatedAt:          t.UpdatedAt,
		UpdatedBy:          t.UpdatedBy,
	}
}

// NewEventResponses maps the audit trail.
func NewEventResponses(evs []domain.TicketEvent) []EventResponse {
	out := make([]EventResponse, 0, len(evs))
	for _, e := range evs {
		out = append(out, EventResponse{
			ID:        e.ID,
			Type:      e.Type,
			Source:    e.Source,
			Payload:   e.Payload,
			CreatedAt: e.CreatedAt,
		})
	}
	return out
}
