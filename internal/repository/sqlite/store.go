// Package sqlite implements the repositories on a local SQLite file via gorm.
package sqlite

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/ShapArt/outlook-exporter/internal/domain"
	"github.com/ShapArt/outlook-exporter/internal/repository"
)

// Store bundles the gorm-backed repositories.
type Store struct {
	db *gorm.DB
}

// NewStore migrates the schema and returns the store.
func NewStore(db *gorm.DB) (*Store, error) {
	if err := db.AutoMigrate(&ticketRow{}, &eventRow{}, &responseRow{}); err != nil {
		return nil, fmt.Errorf("auto migrate: %w", err)
	}
	return &Store{db: db}, nil
}

// Tickets exposes the store as a TicketRepository.
func (s *Store) Tickets() repository.TicketRepository { return ticketRepo{s.db} }

// Events exposes the store as a TicketEventRepository.
func (s *Store) Events() repository.TicketEventRepository { return eventRepo{s.db} }

// Responses exposes the store as a VotingResponseRepository.
func (s *Store) Responses() repository.VotingResponseRepository { return responseRepo{s.db} }

type ticketRepo struct{ db *gorm.DB }

func (r ticketRepo) Create(ctx context.Context, ticket *domain.Ticket, events []domain.TicketEvent) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		row := toTicketRow(*ticket)
		row.ID = 0
		row.RowVersion = 1
		if err := tx.Create(&row).Error; err != nil {
			return fmt.Errorf("insert ticket: %w", err)
		}
		ticket.ID = row.ID
		ticket.RowVersion = 1
		return insertEvents(tx, ticket.ID, events)
	})
}

func (r ticketRepo) Update(ctx context.Context, ticket *domain.Ticket, expectedVersion int64, events []domain.TicketEvent) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&ticketRow{}).
			Where("id = ? AND row_version = ?", ticket.ID, expectedVersion).
			Updates(map[string]any{
				"priority":             string(ticket.Priority),
				"status":               string(ticket.Status),
				"responsible":          ticket.Responsible,
				"comment":              ticket.Comment,
				"sla_started_at":       utc(ticket.SLAStartedAt),
				"due_at":               utc(ticket.DueAt),
				"response_due_at":      utc(ticket.ResponseDueAt),
				"first_response_at":    utcPtr(ticket.FirstResponseAt),
				"last_inbound_at":      utc(ticket.LastInboundAt),
				"last_reminder_at":     utcPtr(ticket.LastReminderAt),
				"reminder_count":       ticket.ReminderCount,
				"escalation_level":     ticket.EscalationLevel,
				"response_breached_at": utcPtr(ticket.ResponseBreachedAt),
				"resolved_at":          utcPtr(ticket.ResolvedAt),
				"closed_at":            utcPtr(ticket.ClosedAt),
				"row_version":          expectedVersion + 1,
				"updated_at":           utc(ticket.UpdatedAt),
				"updated_by":           ticket.UpdatedBy,
			})
		if result.Error != nil {
			return fmt.Errorf("update ticket: %w", result.Error)
		}
		if result.RowsAffected == 0 {
			return repository.ErrVersionConflict
		}
		return insertEvents(tx, ticket.ID, events)
	})
	if err != nil {
		return err
	}
	ticket.RowVersion = expectedVersion + 1
	return nil
}

func (r ticketRepo) GetByID(ctx context.Context, id int64) (*domain.Ticket, error) {
	return r.first(r.db.WithContext(ctx).Where("id = ?", id))
}

func (r ticketRepo) FindByThreadKey(ctx context.Context, threadKey string, since time.Time) (*domain.Ticket, error) {
	return r.first(r.db.WithContext(ctx).
		Where("thread_key = ? AND last_inbound_at >= ?", threadKey, utc(since)).
		Order("last_inbound_at desc").
		Order("id desc"))
}

func (r ticketRepo) FindByFingerprint(ctx context.Context, sender, normalizedSubject, bodyHash string, since time.Time) (*domain.Ticket, error) {
	return r.first(r.db.WithContext(ctx).
		Where("sender_email = ? AND normalized_subject = ? AND body_hash = ? AND created_at >= ?", sender, normalizedSubject, bodyHash, utc(since)).
		Order("created_at desc"))
}

func (r ticketRepo) first(query *gorm.DB) (*domain.Ticket, error) {
	var row ticketRow
	if err := query.Take(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	ticket := fromTicketRow(row)
	return &ticket, nil
}

func (r ticketRepo) ListWithFilter(ctx context.Context, filter repository.TicketFilter) ([]domain.Ticket, error) {
	query := r.db.WithContext(ctx).Model(&ticketRow{})
	if len(filter.Statuses) > 0 {
		query = query.Where("status IN ?", filter.Statuses)
	}
	if len(filter.Priorities) > 0 {
		query = query.Where("priority IN ?", filter.Priorities)
	}
	if filter.Responsible != nil {
		query = query.Where("LOWER(responsible) = ?", strings.ToLower(*filter.Responsible))
	}
	if filter.SearchTerm != nil {
		if term := strings.ToLower(strings.TrimSpace(*filter.SearchTerm)); term != "" {
			like := "%" + term + "%"
			query = query.Where("(LOWER(subject) LIKE ? OR LOWER(body) LIKE ?)", like, like)
		}
	}
	if filter.Limit > 0 {
		query = query.Limit(filter.Limit)
		if filter.Offset > 0 {
			query = query.Offset(filter.Offset)
		}
	}

	var rows []ticketRow
	if err := query.Order("id asc").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("query tickets: %w", err)
	}
	result := make([]domain.Ticket, 0, len(rows))
	for _, row := range rows {
		result = append(result, fromTicketRow(row))
	}
	return result, nil
}

func insertEvents(tx *gorm.DB, ticketID int64, events []domain.TicketEvent) error {
	for _, event := range events {
		event.TicketID = ticketID
		row, err := toEventRow(event)
		if err != nil {
			return err
		}
		if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&row).Error; err != nil {
			return fmt.Errorf("insert event %s: %w", event.Type, err)
		}
	}
	return nil
}

type eventRepo struct{ db *gorm.DB }

func (r eventRepo) Append(ctx context.Context, events ...domain.TicketEvent) error {
	db := r.db.WithContext(ctx)
	for _, event := range events {
		if err := insertEvents(db, event.TicketID, []domain.TicketEvent{event}); err != nil {
			return err
		}
	}
	return nil
}

func (r eventRepo) ListByTicket(ctx context.Context, ticketID int64) ([]domain.TicketEvent, error) {
	var rows []eventRow
	if err := r.db.WithContext(ctx).
		Where("ticket_id = ?", ticketID).
		Order("seq asc").
		Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	result := make([]domain.TicketEvent, 0, len(rows))
	for _, row := range rows {
		event, err := fromEventRow(row)
		if err != nil {
			return nil, err
		}
		result = append(result, event)
	}
	return result, nil
}

func (r eventRepo) ExistsByDedupKey(ctx context.Context, key string) (bool, error) {
	var count int64
	if err := r.db.WithContext(ctx).Model(&eventRow{}).Where("dedup_key = ?", key).Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

type responseRepo struct{ db *gorm.DB }

func (r responseRepo) Record(ctx context.Context, resp domain.VotingResponse) (bool, error) {
	row := responseRow{
		MessageID:  resp.MessageID,
		TicketID:   resp.TicketID,
		Option:     resp.Option,
		Round:      resp.Round,
		Applied:    resp.Applied,
		Reason:     resp.Reason,
		ReceivedAt: utc(resp.ReceivedAt),
	}
	result := r.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&row)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

func (r responseRepo) HasApplied(ctx context.Context, ticketID int64, round int) (bool, error) {
	var count int64
	if err := r.db.WithContext(ctx).Model(&responseRow{}).
		Where("ticket_id = ? AND round = ? AND applied = ?", ticketID, round, true).
		Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

func (r responseRepo) ListByTicket(ctx context.Context, ticketID int64) ([]domain.VotingResponse, error) {
	var rows []responseRow
	if err := r.db.WithContext(ctx).Where("ticket_id = ?", ticketID).Order("received_at asc").Find(&rows).Error; err != nil {
		return nil, err
	}
	result := make([]domain.VotingResponse, 0, len(rows))
	for _, row := range rows {
		result = append(result, domain.VotingResponse{
			MessageID:  row.MessageID,
			TicketID:   row.TicketID,
			Option:     row.Option,
			Round:      row.Round,
			Applied:    row.Applied,
			Reason:     row.Reason,
			ReceivedAt: row.ReceivedAt,
		})
	}
	return result, nil
}

func toTicketRow(t domain.Ticket) ticketRow {
	return ticketRow{
		ID:                 t.ID,
		EntryID:            t.EntryID,
		ThreadKey:          t.ThreadKey,
		Priority:           string(t.Priority),
		Status:             string(t.Status),
		Responsible:        t.Responsible,
		SenderEmail:        t.SenderEmail,
		Subject:            t.Subject,
		NormalizedSubject:  t.NormalizedSubject,
		Body:               t.Body,
		BodyHash:           t.BodyHash,
		Comment:            t.Comment,
		CreatedAt:          utc(t.CreatedAt),
		SLAStartedAt:       utc(t.SLAStartedAt),
		DueAt:              utc(t.DueAt),
		ResponseDueAt:      utc(t.ResponseDueAt),
		FirstResponseAt:    utcPtr(t.FirstResponseAt),
		LastInboundAt:      utc(t.LastInboundAt),
		LastReminderAt:     utcPtr(t.LastReminderAt),
		ReminderCount:      t.ReminderCount,
		EscalationLevel:    t.EscalationLevel,
		ResponseBreachedAt: utcPtr(t.ResponseBreachedAt),
		ResolvedAt:         utcPtr(t.ResolvedAt),
		ClosedAt:           utcPtr(t.ClosedAt),
		RowVersion:         t.RowVersion,
		UpdatedAt:          utc(t.UpdatedAt),
		UpdatedBy:          t.UpdatedBy,
	}
}

func fromTicketRow(row ticketRow) domain.Ticket {
	return domain.Ticket{
		ID:                 row.ID,
		EntryID:            row.EntryID,
		ThreadKey:          row.ThreadKey,
		Priority:           domain.TicketPriority(row.Priority),
		Status:             domain.TicketStatus(row.Status),
		Responsible:        row.Responsible,
		SenderEmail:        row.SenderEmail,
		Subject:            row.Subject,
		NormalizedSubject:  row.NormalizedSubject,
		Body:               row.Body,
		BodyHash:           row.BodyHash,
		Comment:            row.Comment,
		CreatedAt:          row.CreatedAt,
		SLAStartedAt:       row.SLAStartedAt,
		DueAt:              row.DueAt,
		ResponseDueAt:      row.ResponseDueAt,
		FirstResponseAt:    row.FirstResponseAt,
		LastInboundAt:      row.LastInboundAt,
		LastReminderAt:     row.LastReminderAt,
		ReminderCount:      row.ReminderCount,
		EscalationLevel:    row.EscalationLevel,
		ResponseBreachedAt: row.ResponseBreachedAt,
		ResolvedAt:         row.ResolvedAt,
		ClosedAt:           row.ClosedAt,
		RowVersion:         row.RowVersion,
		UpdatedAt:          row.UpdatedAt,
		UpdatedBy:          row.UpdatedBy,
	}
}

func toEventRow(event domain.TicketEvent) (eventRow, error) {
	payload := []byte("{}")
	if event.Payload != nil {
		encoded, err := json.Marshal(event.Payload)
		if err != nil {
			return eventRow{}, fmt.Errorf("encode event payload: %w", err)
		}
		payload = encoded
	}
	return eventRow{
		ID:        event.ID,
		TicketID:  event.TicketID,
		Type:      string(event.Type),
		Source:    event.Source,
		Payload:   string(payload),
		DedupKey:  event.DedupKey,
		CreatedAt: utc(event.CreatedAt),
	}, nil
}

func fromEventRow(row eventRow) (domain.TicketEvent, error) {
	event := domain.TicketEvent{
		ID:        row.ID,
		TicketID:  row.TicketID,
		Type:      domain.TicketEventType(row.Type),
		Source:    row.Source,
		DedupKey:  row.DedupKey,
		CreatedAt: row.CreatedAt,
	}
	if row.Payload != "" {
		if err := json.Unmarshal([]byte(row.Payload), &event.Payload); err != nil {
			return domain.TicketEvent{}, fmt.Errorf("decode event payload: %w", err)
		}
	}
	return event, nil
}

// utc normalizes times before they reach the driver. SQLite keeps them as
// text in the value's own zone, so range filters and ordering only compare
// instants when every stored value shares one offset.
func utc(t time.Time) time.Time {
	return t.UTC()
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := t.UTC()
	return &v
}
