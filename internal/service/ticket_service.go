package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ShapArt/outlook-exporter/internal/config"
	"github.com/ShapArt/outlook-exporter/internal/domain"
	"github.com/ShapArt/outlook-exporter/internal/events"
	"github.com/ShapArt/outlook-exporter/internal/mail"
	"github.com/ShapArt/outlook-exporter/internal/observability"
	"github.com/ShapArt/outlook-exporter/internal/repository"
	"github.com/ShapArt/outlook-exporter/internal/sla"
	apperrors "github.com/ShapArt/outlook-exporter/pkg/util/errorutil"
)

// Dependencies bundles the stores, collaborators and policy shared by the
// tracker services. Now defaults to time.Now and Logger to a no-op logger.
type Dependencies struct {
	TicketRepo   repository.TicketRepository
	EventRepo    repository.TicketEventRepository
	ResponseRepo repository.VotingResponseRepository
	Dispatcher   events.Dispatcher

	Calendar *sla.Calendar
	Table    sla.Table
	Policy   config.PolicyConfig

	Mailbox      mail.Mailbox
	SenderFilter mail.SenderFilter
	Sender       mail.Sender
	Spreadsheet  Spreadsheet

	Now     func() time.Time
	Logger  *zap.Logger
	Metrics *observability.Metrics
}

func (d Dependencies) withDefaults() Dependencies {
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	if d.Calendar == nil {
		d.Calendar = sla.DefaultCalendar(time.UTC)
	}
	if d.Table == nil {
		d.Table = sla.DefaultTable()
	}
	return d
}

// mutationFunc edits a private copy of a ticket and returns the events that
// describe the change. Returning an error discards the copy.
type mutationFunc func(t *domain.Ticket) ([]domain.TicketEvent, error)

// TicketService is the single write path for tickets: every pass loads the
// current row, edits a copy and commits it with a row_version check.
type TicketService struct {
	tickets    repository.TicketRepository
	events     repository.TicketEventRepository
	dispatcher events.Dispatcher
	clock      slaClock
	now        func() time.Time
	logger     *zap.Logger
}

// NewTicketService constructs the service.
func NewTicketService(deps Dependencies) *TicketService {
	deps = deps.withDefaults()
	return &TicketService{
		tickets:    deps.TicketRepo,
		events:     deps.EventRepo,
		dispatcher: deps.Dispatcher,
		clock:      slaClock{cal: deps.Calendar, table: deps.Table},
		now:        deps.Now,
		logger:     deps.Logger,
	}
}

// GetTicket fetches a ticket by id.
func (s *TicketService) GetTicket(ctx context.Context, id int64) (*domain.Ticket, error) {
	ticket, err := s.tickets.GetByID(ctx, id)
	if err != nil {
		return nil, notFound(err, id)
	}
	return ticket, nil
}

// ListTickets returns tickets matching filter ordered by id.
func (s *TicketService) ListTickets(ctx context.Context, filter repository.TicketFilter) ([]domain.Ticket, error) {
	return s.tickets.ListWithFilter(ctx, filter)
}

// ListEvents returns the audit trail of a ticket in commit order.
func (s *TicketService) ListEvents(ctx context.Context, id int64) ([]domain.TicketEvent, error) {
	if _, err := s.GetTicket(ctx, id); err != nil {
		return nil, err
	}
	return s.events.ListByTicket(ctx, id)
}

// create inserts a new ticket with its creation events.
func (s *TicketService) create(ctx context.Context, ticket *domain.Ticket, at time.Time, evs []domain.TicketEvent) error {
	ticket.UpdatedAt = at
	s.stamp(evs, 0, ticket.UpdatedBy, at)
	if err := s.tickets.Create(ctx, ticket, evs); err != nil {
		return fmt.Errorf("create ticket: %w", err)
	}
	for i := range evs {
		evs[i].TicketID = ticket.ID
	}
	s.publish(ctx, evs, ticket.RowVersion)
	return nil
}

// mutate applies fn to a copy of current and commits it when anything
// changed. It returns the committed ticket, or current when nothing was
// written. A stale row_version surfaces as a Conflict domain error.
func (s *TicketService) mutate(ctx context.Context, current domain.Ticket, source string, at time.Time, fn mutationFunc) (domain.Ticket, bool, error) {
	next := current.Clone()
	evs, err := fn(&next)
	if err != nil {
		return current, false, err
	}
	if len(evs) == 0 && sameState(current, next) {
		return current, false, nil
	}

	next.UpdatedAt = at
	next.UpdatedBy = source
	s.stamp(evs, current.ID, source, at)
	if err := s.tickets.Update(ctx, &next, current.RowVersion, evs); err != nil {
		if errors.Is(err, repository.ErrVersionConflict) {
			return current, false, apperrors.NewConflict("ticket was modified concurrently", map[string]any{
				"ticket_id":        current.ID,
				"expected_version": current.RowVersion,
			})
		}
		return current, false, fmt.Errorf("update ticket %d: %w", current.ID, err)
	}
	s.publish(ctx, evs, next.RowVersion)
	return next, true, nil
}

// mutateFresh loads the ticket and mutates it, reloading and retrying up to
// retries times when another writer got in first.
func (s *TicketService) mutateFresh(ctx context.Context, id int64, source string, at time.Time, retries int, fn mutationFunc) (domain.Ticket, bool, error) {
	for attempt := 0; ; attempt++ {
		current, err := s.GetTicket(ctx, id)
		if err != nil {
			return domain.Ticket{}, false, err
		}
		next, committed, err := s.mutate(ctx, *current, source, at, fn)
		if err != nil && apperrors.IsConflict(err) && attempt < retries {
			s.logger.Debug("retrying after version conflict", zap.Int64("ticket_id", id), zap.Int("attempt", attempt+1))
			continue
		}
		return next, committed, err
	}
}

// appendOnly records events without touching the ticket row.
func (s *TicketService) appendOnly(ctx context.Context, ticket domain.Ticket, source string, at time.Time, evs ...domain.TicketEvent) error {
	s.stamp(evs, ticket.ID, source, at)
	if err := s.events.Append(ctx, evs...); err != nil {
		return fmt.Errorf("append events for ticket %d: %w", ticket.ID, err)
	}
	s.publish(ctx, evs, ticket.RowVersion)
	return nil
}

func (s *TicketService) stamp(evs []domain.TicketEvent, ticketID int64, source string, at time.Time) {
	for i := range evs {
		if evs[i].ID == "" {
			evs[i].ID = uuid.NewString()
		}
		if ticketID != 0 {
			evs[i].TicketID = ticketID
		}
		if evs[i].Source == "" {
			evs[i].Source = source
		}
		if evs[i].CreatedAt.IsZero() {
			evs[i].CreatedAt = at
		}
	}
}

func (s *TicketService) publish(ctx context.Context, evs []domain.TicketEvent, rowVersion int64) {
	if s.dispatcher == nil {
		return
	}
	for _, e := range evs {
		if err := s.dispatcher.Publish(ctx, events.FromTicketEvent(e, rowVersion)); err != nil {
			s.logger.Warn("event handler failed",
				zap.Int64("ticket_id", e.TicketID),
				zap.String("event_type", string(e.Type)),
				zap.Error(err),
			)
		}
	}
}

func notFound(err error, id int64) error {
	if errors.Is(err, repository.ErrNotFound) {
		return apperrors.NewNotFound("ticket", map[string]any{"ticket_id": id})
	}
	return err
}

func newEvent(eventType domain.TicketEventType, payload map[string]any) domain.TicketEvent {
	return domain.TicketEvent{Type: eventType, Payload: payload}
}

func dedupKey(prefix, id string) *string {
	key := prefix + ":" + id
	return &key
}

// sameState compares every mutable field of two tickets.
func sameState(a, b domain.Ticket) bool {
	return a.Priority == b.Priority &&
		a.Status == b.Status &&
		equalString(a.Responsible, b.Responsible) &&
		a.Comment == b.Comment &&
		a.SLAStartedAt.Equal(b.SLAStartedAt) &&
		a.DueAt.Equal(b.DueAt) &&
		a.ResponseDueAt.Equal(b.ResponseDueAt) &&
		equalTime(a.FirstResponseAt, b.FirstResponseAt) &&
		a.LastInboundAt.Equal(b.LastInboundAt) &&
		equalTime(a.LastReminderAt, b.LastReminderAt) &&
		a.ReminderCount == b.ReminderCount &&
		a.EscalationLevel == b.EscalationLevel &&
		equalTime(a.ResponseBreachedAt, b.ResponseBreachedAt) &&
		equalTime(a.ResolvedAt, b.ResolvedAt) &&
		equalTime(a.ClosedAt, b.ClosedAt)
}

func equalString(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func equalTime(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(*b)
}

func normalizeOwner(owner string) *string {
	owner = strings.ToLower(strings.TrimSpace(owner))
	if owner == "" {
		return nil
	}
	return &owner
}

func stringPreview(body string, max int) string {
	body = strings.TrimSpace(body)
	runes := []rune(body)
	if len(runes) <= max {
		return body
	}
	if max <= 3 {
		return string(runes[:max])
	}
	return string(runes[:max-3]) + "..."
}
