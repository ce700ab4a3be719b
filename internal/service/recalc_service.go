package service

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ShapArt/outlook-exporter/internal/domain"
	"github.com/ShapArt/outlook-exporter/internal/repository"
	"github.com/ShapArt/outlook-exporter/internal/sla"
	apperrors "github.com/ShapArt/outlook-exporter/pkg/util/errorutil"
)

// RecalcSummary counts the outcome of one SLA sweep.
type RecalcSummary struct {
	Scanned          int `json:"scanned"`
	Updated          int `json:"updated"`
	Overdue          int `json:"overdue"`
	Recovered        int `json:"recovered"`
	ResponseBreaches int `json:"response_breaches"`
	Escalations      int `json:"escalations"`
	Conflicts        int `json:"conflicts"`
	Failed           int `json:"failed"`
}

// RecalcService re-evaluates open tickets against the SLA clock.
type RecalcService struct {
	core        *TicketService
	tickets     repository.TicketRepository
	clock       slaClock
	concurrency int
	logger      *zap.Logger
}

// NewRecalcService constructs the service.
func NewRecalcService(deps Dependencies) *RecalcService {
	deps = deps.withDefaults()
	concurrency := deps.Policy.RecalcConcurrency
	if concurrency <= 0 {
		concurrency = 1
	}
	return &RecalcService{
		core:        NewTicketService(deps),
		tickets:     deps.TicketRepo,
		clock:       slaClock{cal: deps.Calendar, table: deps.Table},
		concurrency: concurrency,
		logger:      deps.Logger,
	}
}

type recalcChange struct {
	overdue          bool
	recovered        bool
	responseBreached bool
	escalations      int
}

// RecalcOpen evaluates every non-terminal ticket at a single instant. Each
// ticket is its own compare-and-swap unit; running it twice at the same
// instant writes nothing the second time.
func (s *RecalcService) RecalcOpen(ctx context.Context) (RecalcSummary, error) {
	now := s.core.now()
	open, err := s.tickets.ListWithFilter(ctx, repository.TicketFilter{
		Statuses: []domain.TicketStatus{domain.TicketStatusNew, domain.TicketStatusInProgress, domain.TicketStatusOverdue},
	})
	if err != nil {
		return RecalcSummary{}, err
	}

	var (
		mu      sync.Mutex
		summary = RecalcSummary{Scanned: len(open)}
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for _, ticket := range open {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			change, committed, err := s.recalcOne(gctx, ticket, now)

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err != nil && apperrors.IsConflict(err):
				summary.Conflicts++
				s.logger.Warn("recalc conflict persisted after retry", zap.Int64("ticket_id", ticket.ID))
			case err != nil:
				if gctx.Err() != nil {
					return gctx.Err()
				}
				summary.Failed++
				s.logger.Error("recalc failed", zap.Int64("ticket_id", ticket.ID), zap.Error(err))
			case committed:
				summary.Updated++
				if change.overdue {
					summary.Overdue++
				}
				if change.recovered {
					summary.Recovered++
				}
				if change.responseBreached {
					summary.ResponseBreaches++
				}
				summary.Escalations += change.escalations
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return summary, err
	}

	s.logger.Info("recalc finished",
		zap.Int("scanned", summary.Scanned),
		zap.Int("updated", summary.Updated),
		zap.Int("overdue", summary.Overdue),
		zap.Int("recovered", summary.Recovered),
		zap.Int("response_breaches", summary.ResponseBreaches),
		zap.Int("escalations", summary.Escalations),
	)
	return summary, nil
}

func (s *RecalcService) recalcOne(ctx context.Context, ticket domain.Ticket, now time.Time) (recalcChange, bool, error) {
	var change recalcChange
	fn := func(t *domain.Ticket) ([]domain.TicketEvent, error) {
		change = recalcChange{}
		return s.evaluate(t, now, &change)
	}
	_, committed, err := s.core.mutate(ctx, ticket, domain.SourceRecalc, now, fn)
	if err != nil && apperrors.IsConflict(err) {
		_, committed, err = s.core.mutateFresh(ctx, ticket.ID, domain.SourceRecalc, now, 0, fn)
	}
	return change, committed, err
}

// evaluate applies the inclusive overdue rule, records a missed first
// response once, and fires escalation steps that are due but not yet recorded.
func (s *RecalcService) evaluate(t *domain.Ticket, now time.Time, change *recalcChange) ([]domain.TicketEvent, error) {
	if t.Status.Terminal() {
		return nil, nil
	}
	policy, err := s.clock.table.Lookup(t.Priority)
	if err != nil {
		return nil, err
	}
	if err := s.clock.refresh(t); err != nil {
		return nil, err
	}

	elapsed := s.clock.cal.Elapsed(t.SLAStartedAt, now)
	breached := elapsed >= policy.Resolution
	var evs []domain.TicketEvent

	switch {
	case breached && t.Status != domain.TicketStatusOverdue:
		from := t.Status
		if _, err := s.clock.transition(t, transitionRequest{To: domain.TicketStatusOverdue}, now); err != nil {
			return nil, err
		}
		change.overdue = true
		evs = append(evs, newEvent(domain.EventSLAOverdue, map[string]any{
			"from":            from,
			"elapsed_minutes": int64(elapsed / time.Minute),
			"due_at":          t.DueAt.Format(time.RFC3339),
		}))
	case !breached && t.Status == domain.TicketStatusOverdue:
		if _, err := s.clock.transition(t, transitionRequest{To: domain.TicketStatusInProgress}, now); err != nil {
			return nil, err
		}
		change.recovered = true
		evs = append(evs, newEvent(domain.EventSLARecovered, map[string]any{
			"elapsed_minutes": int64(elapsed / time.Minute),
			"due_at":          t.DueAt.Format(time.RFC3339),
		}))
	}

	if t.FirstResponseAt == nil && t.ResponseBreachedAt == nil && elapsed >= policy.Response {
		at := now
		t.ResponseBreachedAt = &at
		change.responseBreached = true
		evs = append(evs, newEvent(domain.EventResponseBreached, map[string]any{
			"elapsed_minutes": int64(elapsed / time.Minute),
			"response_due_at": t.ResponseDueAt.Format(time.RFC3339),
		}))
	}

	ratio := sla.Ratio(elapsed, policy)
	for _, step := range sla.DueSteps(policy, t.EscalationLevel, ratio) {
		t.EscalationLevel++
		change.escalations++
		evs = append(evs, newEvent(domain.EventEscalationFired, map[string]any{
			"level":     t.EscalationLevel,
			"threshold": step.Threshold,
			"action":    string(step.Action),
			"ratio":     ratio,
		}))
	}
	return evs, nil
}
