package domain

import "time"

// TicketEventType captures what happened in an event log entry.
type TicketEventType string

const (
	EventTicketCreated     TicketEventType = "ticket_created"
	EventTicketFollowUp    TicketEventType = "ticket_followup"
	EventStatusChanged     TicketEventType = "status_changed"
	EventSLAOverdue        TicketEventType = "sla_overdue"
	EventSLARecovered      TicketEventType = "sla_recovered"
	EventEscalationFired   TicketEventType = "escalation_fired"
	EventResponseBreached  TicketEventType = "sla_response_breached"
	EventReminderSent      TicketEventType = "reminder_sent"
	EventReminderPreviewed TicketEventType = "reminder_previewed"
	EventResponseApplied   TicketEventType = "response_applied"
	EventCommentAdded      TicketEventType = "comment_added"
	EventResponseRejected  TicketEventType = "response_rejected"
	EventExcelSync         TicketEventType = "excel_sync"
	EventExcelConflict     TicketEventType = "excel_conflict"
)

// Event sources, also written to Ticket.UpdatedBy.
const (
	SourceIngest   = "ingest"
	SourceRecalc   = "recalc"
	SourceReminder = "reminder"
	SourceMail     = "mail"
	SourceExcel    = "excel"
)

// TicketEvent is an immutable audit trail entry. A non-nil DedupKey is unique
// across the log; appending the same key twice keeps the first entry.
type TicketEvent struct {
	ID        string
	TicketID  int64
	Type      TicketEventType
	Source    string
	Payload   map[string]any
	DedupKey  *string
	CreatedAt time.Time
}
