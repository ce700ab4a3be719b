package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ShapArt/outlook-exporter/internal/domain"
)

// TicketEventRepository stores the append-only event log.
type TicketEventRepository interface {
	// Append writes events outside of a ticket mutation. Events whose dedup
	// key already exists are dropped silently.
	Append(ctx context.Context, events ...domain.TicketEvent) error
	ListByTicket(ctx context.Context, ticketID int64) ([]domain.TicketEvent, error)
	ExistsByDedupKey(ctx context.Context, key string) (bool, error)
}

type execer interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
}

type ticketEventRepository struct {
	pool *pgxpool.Pool
}

// NewTicketEventRepository builds repository.
func NewTicketEventRepository(pool *pgxpool.Pool) TicketEventRepository {
	return &ticketEventRepository{pool: pool}
}

func (r *ticketEventRepository) Append(ctx context.Context, events ...domain.TicketEvent) error {
	for _, event := range events {
		if err := insertEvents(ctx, r.pool, event.TicketID, []domain.TicketEvent{event}); err != nil {
			return err
		}
	}
	return nil
}

func insertEvents(ctx context.Context, db execer, ticketID int64, events []domain.TicketEvent) error {
	const query = `
        INSERT INTO ticket_events (id, ticket_id, event_type, source, payload, dedup_key, created_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7)
        ON CONFLICT (dedup_key) DO NOTHING`
	for _, event := range events {
		payload, err := json.Marshal(event.Payload)
		if err != nil {
			return fmt.Errorf("encode event payload: %w", err)
		}
		if _, err := db.Exec(ctx, query,
			event.ID,
			ticketID,
			event.Type,
			event.Source,
			payload,
			event.DedupKey,
			event.CreatedAt,
		); err != nil {
			return fmt.Errorf("insert event %s: %w", event.Type, err)
		}
	}
	return nil
}

func (r *ticketEventRepository) ListByTicket(ctx context.Context, ticketID int64) ([]domain.TicketEvent, error) {
	const query = `
        SELECT id, ticket_id, event_type, source, payload, dedup_key, created_at
        FROM ticket_events WHERE ticket_id=$1 ORDER BY created_at ASC, seq ASC`
	rows, err := r.pool.Query(ctx, query, ticketID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.TicketEvent
	for rows.Next() {
		var (
			event   domain.TicketEvent
			payload []byte
		)
		if err := rows.Scan(
			&event.ID,
			&event.TicketID,
			&event.Type,
			&event.Source,
			&payload,
			&event.DedupKey,
			&event.CreatedAt,
		); err != nil {
			return nil, err
		}
		if len(payload) > 0 {
			if err := json.Unmarshal(payload, &event.Payload); err != nil {
				return nil, fmt.Errorf("decode event payload: %w", err)
			}
		}
		result = append(result, event)
	}
	return result, rows.Err()
}

func (r *ticketEventRepository) ExistsByDedupKey(ctx context.Context, key string) (bool, error) {
	const query = `SELECT EXISTS (SELECT 1 FROM ticket_events WHERE dedup_key=$1)`
	var exists bool
	if err := r.pool.QueryRow(ctx, query, key).Scan(&exists); err != nil {
		return false, err
	}
	return exists, nil
}
