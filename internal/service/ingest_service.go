package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ShapArt/outlook-exporter/internal/domain"
	"github.com/ShapArt/outlook-exporter/internal/mail"
	"github.com/ShapArt/outlook-exporter/internal/repository"
	apperrors "github.com/ShapArt/outlook-exporter/pkg/util/errorutil"
)

// IngestSummary counts what one ingest pass did with the fetched mail.
type IngestSummary struct {
	Fetched    int `json:"fetched"`
	Created    int `json:"created"`
	FollowUps  int `json:"follow_ups"`
	Duplicates int `json:"duplicates"`
	Skipped    int `json:"skipped"`
}

type ingestOutcome int

const (
	ingestCreated ingestOutcome = iota
	ingestFollowUp
	ingestDuplicate
	ingestSkipped
)

// IngestService turns inbound mail into tickets.
type IngestService struct {
	core     *TicketService
	tickets  repository.TicketRepository
	events   repository.TicketEventRepository
	mailbox  mail.Mailbox
	filter   mail.SenderFilter
	clock    slaClock
	lookback time.Duration
	logger   *zap.Logger
}

// NewIngestService constructs the service.
func NewIngestService(deps Dependencies) *IngestService {
	deps = deps.withDefaults()
	return &IngestService{
		core:     NewTicketService(deps),
		tickets:  deps.TicketRepo,
		events:   deps.EventRepo,
		mailbox:  deps.Mailbox,
		filter:   deps.SenderFilter,
		clock:    slaClock{cal: deps.Calendar, table: deps.Table},
		lookback: deps.Policy.DedupLookback(),
		logger:   deps.Logger,
	}
}

// RunIngest fetches messages received at or after since and creates,
// extends or ignores tickets for each of them in arrival order.
func (s *IngestService) RunIngest(ctx context.Context, since time.Time) (IngestSummary, error) {
	msgs, err := s.mailbox.ListMessages(ctx, s.filter, since)
	if err != nil {
		return IngestSummary{}, apperrors.NewCollaboratorUnavailable("mailbox", 0, err)
	}

	summary := IngestSummary{Fetched: len(msgs)}
	for _, msg := range msgs {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		outcome, err := s.ingestOne(ctx, msg)
		if err != nil {
			return summary, fmt.Errorf("ingest message %s: %w", msg.EntryID, err)
		}
		switch outcome {
		case ingestCreated:
			summary.Created++
		case ingestFollowUp:
			summary.FollowUps++
		case ingestDuplicate:
			summary.Duplicates++
		default:
			summary.Skipped++
		}
	}

	s.logger.Info("ingest finished",
		zap.Int("fetched", summary.Fetched),
		zap.Int("created", summary.Created),
		zap.Int("follow_ups", summary.FollowUps),
		zap.Int("duplicates", summary.Duplicates),
		zap.Int("skipped", summary.Skipped),
	)
	return summary, nil
}

func (s *IngestService) ingestOne(ctx context.Context, msg domain.RawMessage) (ingestOutcome, error) {
	entryID := strings.TrimSpace(msg.EntryID)
	if entryID == "" {
		s.logger.Warn("skipping message without entry id", zap.String("subject", msg.Subject))
		return ingestSkipped, nil
	}
	// replies to our own reminders are handled by the response pass
	if mail.IsReminderReply(msg.Subject) || msg.VotingResponse != "" {
		return ingestSkipped, nil
	}

	key := dedupKey("ingest", entryID)
	seen, err := s.events.ExistsByDedupKey(ctx, *key)
	if err != nil {
		return 0, err
	}
	if seen {
		return ingestDuplicate, nil
	}

	received := msg.ReceivedAt
	if received.IsZero() {
		received = s.core.now()
	}
	sender := strings.ToLower(strings.TrimSpace(msg.Sender))
	normalized := mail.NormalizeSubject(msg.Subject)
	body := mail.CleanBody(msg.Body)
	hash := mail.BodyHash(body)
	since := received.Add(-s.lookback)

	if dup, err := s.tickets.FindByFingerprint(ctx, sender, normalized, hash, since); err == nil {
		s.logger.Debug("duplicate message", zap.String("entry_id", entryID), zap.Int64("ticket_id", dup.ID))
		return ingestDuplicate, nil
	} else if !errors.Is(err, repository.ErrNotFound) {
		return 0, err
	}

	threadKey := mail.ThreadKey(msg.ConversationID, sender, normalized)
	existing, err := s.tickets.FindByThreadKey(ctx, threadKey, since)
	switch {
	case err == nil:
		return ingestFollowUp, s.followUp(ctx, existing.ID, entryID, sender, received, key)
	case !errors.Is(err, repository.ErrNotFound):
		return 0, err
	}

	ticket := &domain.Ticket{
		EntryID:           entryID,
		ThreadKey:         threadKey,
		Priority:          domain.TicketPriorityNormal,
		Status:            domain.TicketStatusNew,
		SenderEmail:       sender,
		Subject:           strings.TrimSpace(msg.Subject),
		NormalizedSubject: normalized,
		Body:              body,
		BodyHash:          hash,
		CreatedAt:         received,
		SLAStartedAt:      received,
		LastInboundAt:     received,
		UpdatedBy:         domain.SourceIngest,
	}
	if err := s.clock.refresh(ticket); err != nil {
		return 0, err
	}
	created := newEvent(domain.EventTicketCreated, map[string]any{
		"entry_id": entryID,
		"sender":   sender,
		"priority": ticket.Priority,
		"due_at":   ticket.DueAt.Format(time.RFC3339),
	})
	created.DedupKey = key
	if err := s.core.create(ctx, ticket, s.core.now(), []domain.TicketEvent{created}); err != nil {
		return 0, err
	}
	s.logger.Info("ticket created",
		zap.Int64("ticket_id", ticket.ID),
		zap.String("entry_id", entryID),
		zap.Time("due_at", ticket.DueAt),
	)
	return ingestCreated, nil
}

// followUp records a new message on an existing thread. The status is left
// alone so a follow-up never reopens a finished ticket.
func (s *IngestService) followUp(ctx context.Context, ticketID int64, entryID, sender string, received time.Time, key *string) error {
	_, _, err := s.core.mutateFresh(ctx, ticketID, domain.SourceIngest, s.core.now(), 1, func(t *domain.Ticket) ([]domain.TicketEvent, error) {
		if received.After(t.LastInboundAt) {
			t.LastInboundAt = received
		}
		e := newEvent(domain.EventTicketFollowUp, map[string]any{
			"entry_id":    entryID,
			"sender":      sender,
			"received_at": received.Format(time.RFC3339),
			"status":      t.Status,
		})
		e.DedupKey = key
		return []domain.TicketEvent{e}, nil
	})
	if err == nil {
		s.logger.Info("follow-up recorded", zap.Int64("ticket_id", ticketID), zap.String("entry_id", entryID))
	}
	return err
}
