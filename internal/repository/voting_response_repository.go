package repository

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ShapArt/outlook-exporter/internal/domain"
)

// VotingResponseRepository records reminder votes keyed by message id.
type VotingResponseRepository interface {
	// Record stores resp and reports false when its MessageID was seen before.
	Record(ctx context.Context, resp domain.VotingResponse) (bool, error)
	HasApplied(ctx context.Context, ticketID int64, round int) (bool, error)
	ListByTicket(ctx context.Context, ticketID int64) ([]domain.VotingResponse, error)
}

type votingResponseRepository struct {
	pool *pgxpool.Pool
}

// NewVotingResponseRepository builds repository.
func NewVotingResponseRepository(pool *pgxpool.Pool) VotingResponseRepository {
	return &votingResponseRepository{pool: pool}
}

func (r *votingResponseRepository) Record(ctx context.Context, resp domain.VotingResponse) (bool, error) {
	const query = `
        INSERT INTO voting_responses (message_id, ticket_id, option, round, applied, reason, received_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7)
        ON CONFLICT (message_id) DO NOTHING`
	cmd, err := r.pool.Exec(ctx, query,
		resp.MessageID,
		resp.TicketID,
		resp.Option,
		resp.Round,
		resp.Applied,
		resp.Reason,
		resp.ReceivedAt,
	)
	if err != nil {
		return false, err
	}
	return cmd.RowsAffected() == 1, nil
}

func (r *votingResponseRepository) HasApplied(ctx context.Context, ticketID int64, round int) (bool, error) {
	const query = `SELECT EXISTS (SELECT 1 FROM voting_responses WHERE ticket_id=$1 AND round=$2 AND applied)`
	var exists bool
	if err := r.pool.QueryRow(ctx, query, ticketID, round).Scan(&exists); err != nil {
		return false, err
	}
	return exists, nil
}

func (r *votingResponseRepository) ListByTicket(ctx context.Context, ticketID int64) ([]domain.VotingResponse, error) {
	const query = `
        SELECT message_id, ticket_id, option, round, applied, reason, received_at
        FROM voting_responses WHERE ticket_id=$1 ORDER BY received_at ASC`
	rows, err := r.pool.Query(ctx, query, ticketID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.VotingResponse
	for rows.Next() {
		var resp domain.VotingResponse
		if err := rows.Scan(
			&resp.MessageID,
			&resp.TicketID,
			&resp.Option,
			&resp.Round,
			&resp.Applied,
			&resp.Reason,
			&resp.ReceivedAt,
		); err != nil {
			return nil, err
		}
		result = append(result, resp)
	}
	return result, rows.Err()
}
