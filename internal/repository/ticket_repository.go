package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ShapArt/outlook-exporter/internal/domain"
)

// TicketFilter captures listing parameters. A zero Limit returns every match.
type TicketFilter struct {
	Statuses    []domain.TicketStatus
	Priorities  []domain.TicketPriority
	Responsible *string
	SearchTerm  *string
	Limit       int
	Offset      int
}

// TicketRepository encapsulates ticket persistence. Create and Update write
// the ticket row and its events in one transaction.
type TicketRepository interface {
	// Create assigns ID and sets RowVersion to 1.
	Create(ctx context.Context, ticket *domain.Ticket, events []domain.TicketEvent) error
	// Update commits only when the stored row_version equals expectedVersion,
	// then sets ticket.RowVersion to expectedVersion+1. Otherwise it returns
	// ErrVersionConflict and writes nothing.
	Update(ctx context.Context, ticket *domain.Ticket, expectedVersion int64, events []domain.TicketEvent) error
	GetByID(ctx context.Context, id int64) (*domain.Ticket, error)
	// FindByThreadKey returns the most recent ticket of the thread with inbound
	// activity at or after since, or ErrNotFound.
	FindByThreadKey(ctx context.Context, threadKey string, since time.Time) (*domain.Ticket, error)
	// FindByFingerprint returns a ticket with the same sender, normalized
	// subject and body hash created at or after since, or ErrNotFound.
	FindByFingerprint(ctx context.Context, sender, normalizedSubject, bodyHash string, since time.Time) (*domain.Ticket, error)
	ListWithFilter(ctx context.Context, filter TicketFilter) ([]domain.Ticket, error)
}

type ticketRepository struct {
	pool *pgxpool.Pool
}

// NewTicketRepository instantiates the Postgres repository.
func NewTicketRepository(pool *pgxpool.Pool) TicketRepository {
	return &ticketRepository{pool: pool}
}

const ticketColumns = `id, entry_id, thread_key, priority, status, responsible, sender_email,
               subject, normalized_subject, body, body_hash, comment, created_at, sla_started_at,
               due_at, response_due_at, first_response_at, last_inbound_at, last_reminder_at,
               reminder_count, escalation_level, response_breached_at, resolved_at, closed_at, row_version, updated_at, updated_by`

func (r *ticketRepository) Create(ctx context.Context, ticket *domain.Ticket, events []domain.TicketEvent) error {
	const query = `
        INSERT INTO tickets (entry_id, thread_key, priority, status, responsible, sender_email,
            subject, normalized_subject, body, body_hash, comment, created_at, sla_started_at,
            due_at, response_due_at, first_response_at, last_inbound_at, last_reminder_at,
            reminder_count, escalation_level, response_breached_at, resolved_at, closed_at, row_version, updated_at, updated_by)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23,1,$24,$25)
        RETURNING id`

	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		if err := tx.QueryRow(ctx, query,
			ticket.EntryID,
			ticket.ThreadKey,
			ticket.Priority,
			ticket.Status,
			ticket.Responsible,
			ticket.SenderEmail,
			ticket.Subject,
			ticket.NormalizedSubject,
			ticket.Body,
			ticket.BodyHash,
			ticket.Comment,
			ticket.CreatedAt,
			ticket.SLAStartedAt,
			ticket.DueAt,
			ticket.ResponseDueAt,
			ticket.FirstResponseAt,
			ticket.LastInboundAt,
			ticket.LastReminderAt,
			ticket.ReminderCount,
			ticket.EscalationLevel,
			ticket.ResponseBreachedAt,
			ticket.ResolvedAt,
			ticket.ClosedAt,
			ticket.UpdatedAt,
			ticket.UpdatedBy,
		).Scan(&ticket.ID); err != nil {
			return fmt.Errorf("insert ticket: %w", err)
		}
		ticket.RowVersion = 1
		return insertEvents(ctx, tx, ticket.ID, events)
	})
}

func (r *ticketRepository) Update(ctx context.Context, ticket *domain.Ticket, expectedVersion int64, events []domain.TicketEvent) error {
	const query = `
        UPDATE tickets SET priority=$1, status=$2, responsible=$3, comment=$4, sla_started_at=$5,
            due_at=$6, response_due_at=$7, first_response_at=$8, last_inbound_at=$9, last_reminder_at=$10,
            reminder_count=$11, escalation_level=$12, response_breached_at=$13, resolved_at=$14,
            closed_at=$15, row_version=row_version+1, updated_at=$16, updated_by=$17
        WHERE id=$18 AND row_version=$19`

	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		cmd, err := tx.Exec(ctx, query,
			ticket.Priority,
			ticket.Status,
			ticket.Responsible,
			ticket.Comment,
			ticket.SLAStartedAt,
			ticket.DueAt,
			ticket.ResponseDueAt,
			ticket.FirstResponseAt,
			ticket.LastInboundAt,
			ticket.LastReminderAt,
			ticket.ReminderCount,
			ticket.EscalationLevel,
			ticket.ResponseBreachedAt,
			ticket.ResolvedAt,
			ticket.ClosedAt,
			ticket.UpdatedAt,
			ticket.UpdatedBy,
			ticket.ID,
			expectedVersion,
		)
		if err != nil {
			return fmt.Errorf("update ticket: %w", err)
		}
		if cmd.RowsAffected() == 0 {
			return ErrVersionConflict
		}
		return insertEvents(ctx, tx, ticket.ID, events)
	})
	if err != nil {
		return err
	}
	ticket.RowVersion = expectedVersion + 1
	return nil
}

func (r *ticketRepository) GetByID(ctx context.Context, id int64) (*domain.Ticket, error) {
	query := `SELECT ` + ticketColumns + ` FROM tickets WHERE id=$1`
	return r.fetchSingle(ctx, query, id)
}

func (r *ticketRepository) FindByThreadKey(ctx context.Context, threadKey string, since time.Time) (*domain.Ticket, error) {
	query := `SELECT ` + ticketColumns + `
        FROM tickets WHERE thread_key=$1 AND last_inbound_at >= $2
        ORDER BY last_inbound_at DESC, id DESC LIMIT 1`
	return r.fetchSingle(ctx, query, threadKey, since)
}

func (r *ticketRepository) FindByFingerprint(ctx context.Context, sender, normalizedSubject, bodyHash string, since time.Time) (*domain.Ticket, error) {
	query := `SELECT ` + ticketColumns + `
        FROM tickets WHERE sender_email=$1 AND normalized_subject=$2 AND body_hash=$3 AND created_at >= $4
        ORDER BY created_at DESC LIMIT 1`
	return r.fetchSingle(ctx, query, sender, normalizedSubject, bodyHash, since)
}

func (r *ticketRepository) fetchSingle(ctx context.Context, query string, args ...any) (*domain.Ticket, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	tickets, err := scanTickets(rows)
	if err != nil {
		return nil, err
	}
	if len(tickets) == 0 {
		return nil, ErrNotFound
	}
	return &tickets[0], nil
}

func (r *ticketRepository) ListWithFilter(ctx context.Context, filter TicketFilter) ([]domain.Ticket, error) {
	base := `SELECT ` + ticketColumns + ` FROM tickets`
	clauses := []string{"1=1"}
	args := []any{}

	if len(filter.Statuses) > 0 {
		placeholders := make([]string, len(filter.Statuses))
		for i, status := range filter.Statuses {
			args = append(args, status)
			placeholders[i] = fmt.Sprintf("$%d", len(args))
		}
		clauses = append(clauses, fmt.Sprintf("status IN (%s)", strings.Join(placeholders, ",")))
	}
	if len(filter.Priorities) > 0 {
		placeholders := make([]string, len(filter.Priorities))
		for i, pr := range filter.Priorities {
			args = append(args, pr)
			placeholders[i] = fmt.Sprintf("$%d", len(args))
		}
		clauses = append(clauses, fmt.Sprintf("priority IN (%s)", strings.Join(placeholders, ",")))
	}
	if filter.Responsible != nil {
		args = append(args, strings.ToLower(*filter.Responsible))
		clauses = append(clauses, fmt.Sprintf("LOWER(responsible)=$%d", len(args)))
	}
	if filter.SearchTerm != nil && strings.TrimSpace(*filter.SearchTerm) != "" {
		search := "%" + strings.ToLower(strings.TrimSpace(*filter.SearchTerm)) + "%"
		args = append(args, search)
		placeholder := fmt.Sprintf("$%d", len(args))
		clauses = append(clauses, fmt.Sprintf("(LOWER(subject) LIKE %s OR LOWER(body) LIKE %s)", placeholder, placeholder))
	}

	query := fmt.Sprintf(`%s WHERE %s ORDER BY id ASC`, base, strings.Join(clauses, " AND "))
	if filter.Limit > 0 {
		offset := filter.Offset
		if offset < 0 {
			offset = 0
		}
		query += fmt.Sprintf(" LIMIT %d OFFSET %d", filter.Limit, offset)
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanTickets(rows)
}

func scanTickets(rows pgx.Rows) ([]domain.Ticket, error) {
	var result []domain.Ticket
	for rows.Next() {
		var ticket domain.Ticket
		if err := rows.Scan(
			&ticket.ID,
			&ticket.EntryID,
			&ticket.ThreadKey,
			&ticket.Priority,
			&ticket.Status,
			&ticket.Responsible,
			&ticket.SenderEmail,
			&ticket.Subject,
			&ticket.NormalizedSubject,
			&ticket.Body,
			&ticket.BodyHash,
			&ticket.Comment,
			&ticket.CreatedAt,
			&ticket.SLAStartedAt,
			&ticket.DueAt,
			&ticket.ResponseDueAt,
			&ticket.FirstResponseAt,
			&ticket.LastInboundAt,
			&ticket.LastReminderAt,
			&ticket.ReminderCount,
			&ticket.EscalationLevel,
			&ticket.ResponseBreachedAt,
			&ticket.ResolvedAt,
			&ticket.ClosedAt,
			&ticket.RowVersion,
			&ticket.UpdatedAt,
			&ticket.UpdatedBy,
		); err != nil {
			return nil, err
		}
		result = append(result, ticket)
	}
	return result, rows.Err()
}
