// Package memory provides a process-local store used by tests and dry runs.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ShapArt/outlook-exporter/internal/domain"
	"github.com/ShapArt/outlook-exporter/internal/repository"
)

// Store implements the ticket, event and voting response repositories under
// one mutex, so a ticket write and its events are observed together.
type Store struct {
	mu        sync.Mutex
	nextID    int64
	tickets   map[int64]domain.Ticket
	events    []domain.TicketEvent
	dedup     map[string]bool
	responses map[string]domain.VotingResponse
	order     []string
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{
		tickets:   make(map[int64]domain.Ticket),
		dedup:     make(map[string]bool),
		responses: make(map[string]domain.VotingResponse),
	}
}

// Tickets exposes the store as a TicketRepository.
func (s *Store) Tickets() repository.TicketRepository { return ticketRepo{s} }

// Events exposes the store as a TicketEventRepository.
func (s *Store) Events() repository.TicketEventRepository { return eventRepo{s} }

// Responses exposes the store as a VotingResponseRepository.
func (s *Store) Responses() repository.VotingResponseRepository { return responseRepo{s} }

type ticketRepo struct{ s *Store }

func (r ticketRepo) Create(ctx context.Context, ticket *domain.Ticket, events []domain.TicketEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	ticket.ID = s.nextID
	ticket.RowVersion = 1
	s.tickets[ticket.ID] = ticket.Clone()
	s.appendLocked(ticket.ID, events)
	return nil
}

func (r ticketRepo) Update(ctx context.Context, ticket *domain.Ticket, expectedVersion int64, events []domain.TicketEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.tickets[ticket.ID]
	if !ok {
		return repository.ErrNotFound
	}
	if current.RowVersion != expectedVersion {
		return repository.ErrVersionConflict
	}
	stored := ticket.Clone()
	stored.RowVersion = expectedVersion + 1
	// identity and inbound content never change after creation
	stored.EntryID = current.EntryID
	stored.ThreadKey = current.ThreadKey
	stored.CreatedAt = current.CreatedAt
	stored.SenderEmail = current.SenderEmail
	stored.Subject = current.Subject
	stored.NormalizedSubject = current.NormalizedSubject
	stored.Body = current.Body
	stored.BodyHash = current.BodyHash
	s.tickets[ticket.ID] = stored
	s.appendLocked(ticket.ID, events)
	ticket.RowVersion = stored.RowVersion
	return nil
}

func (r ticketRepo) GetByID(ctx context.Context, id int64) (*domain.Ticket, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tickets[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	out := t.Clone()
	return &out, nil
}

func (r ticketRepo) FindByThreadKey(ctx context.Context, threadKey string, since time.Time) (*domain.Ticket, error) {
	return r.find(func(t domain.Ticket) bool {
		return t.ThreadKey == threadKey && !t.LastInboundAt.Before(since)
	}, func(a, b domain.Ticket) bool {
		if a.LastInboundAt.Equal(b.LastInboundAt) {
			return a.ID > b.ID
		}
		return a.LastInboundAt.After(b.LastInboundAt)
	})
}

func (r ticketRepo) FindByFingerprint(ctx context.Context, sender, normalizedSubject, bodyHash string, since time.Time) (*domain.Ticket, error) {
	return r.find(func(t domain.Ticket) bool {
		return t.SenderEmail == sender &&
			t.NormalizedSubject == normalizedSubject &&
			t.BodyHash == bodyHash &&
			!t.CreatedAt.Before(since)
	}, func(a, b domain.Ticket) bool {
		return a.CreatedAt.After(b.CreatedAt)
	})
}

func (r ticketRepo) find(match func(domain.Ticket) bool, better func(a, b domain.Ticket) bool) (*domain.Ticket, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()

	var (
		best  domain.Ticket
		found bool
	)
	for _, t := range s.tickets {
		if !match(t) {
			continue
		}
		if !found || better(t, best) {
			best = t
			found = true
		}
	}
	if !found {
		return nil, repository.ErrNotFound
	}
	out := best.Clone()
	return &out, nil
}

func (r ticketRepo) ListWithFilter(ctx context.Context, filter repository.TicketFilter) ([]domain.Ticket, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()

	var result []domain.Ticket
	for _, t := range s.tickets {
		if !matchesFilter(t, filter) {
			continue
		}
		result = append(result, t.Clone())
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })

	if filter.Limit > 0 {
		offset := filter.Offset
		if offset < 0 {
			offset = 0
		}
		if offset >= len(result) {
			return nil, nil
		}
		end := offset + filter.Limit
		if end > len(result) {
			end = len(result)
		}
		result = result[offset:end]
	}
	return result, nil
}

func matchesFilter(t domain.Ticket, filter repository.TicketFilter) bool {
	if len(filter.Statuses) > 0 && !containsStatus(filter.Statuses, t.Status) {
		return false
	}
	if len(filter.Priorities) > 0 && !containsPriority(filter.Priorities, t.Priority) {
		return false
	}
	if filter.Responsible != nil && !strings.EqualFold(t.Owner(), *filter.Responsible) {
		return false
	}
	if filter.SearchTerm != nil {
		term := strings.ToLower(strings.TrimSpace(*filter.SearchTerm))
		if term != "" && !strings.Contains(strings.ToLower(t.Subject), term) && !strings.Contains(strings.ToLower(t.Body), term) {
			return false
		}
	}
	return true
}

func containsStatus(list []domain.TicketStatus, s domain.TicketStatus) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func containsPriority(list []domain.TicketPriority, p domain.TicketPriority) bool {
	for _, v := range list {
		if v == p {
			return true
		}
	}
	return false
}

func (s *Store) appendLocked(ticketID int64, events []domain.TicketEvent) {
	for _, event := range events {
		if event.DedupKey != nil {
			if s.dedup[*event.DedupKey] {
				continue
			}
			s.dedup[*event.DedupKey] = true
		}
		event.TicketID = ticketID
		s.events = append(s.events, event)
	}
}

type eventRepo struct{ s *Store }

func (r eventRepo) Append(ctx context.Context, events ...domain.TicketEvent) error {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, event := range events {
		s.appendLocked(event.TicketID, []domain.TicketEvent{event})
	}
	return nil
}

func (r eventRepo) ListByTicket(ctx context.Context, ticketID int64) ([]domain.TicketEvent, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()

	var result []domain.TicketEvent
	for _, event := range s.events {
		if event.TicketID == ticketID {
			result = append(result, event)
		}
	}
	return result, nil
}

func (r eventRepo) ExistsByDedupKey(ctx context.Context, key string) (bool, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dedup[key], nil
}

type responseRepo struct{ s *Store }

func (r responseRepo) Record(ctx context.Context, resp domain.VotingResponse) (bool, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.responses[resp.MessageID]; ok {
		return false, nil
	}
	s.responses[resp.MessageID] = resp
	s.order = append(s.order, resp.MessageID)
	return true, nil
}

func (r responseRepo) HasApplied(ctx context.Context, ticketID int64, round int) (bool, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, resp := range s.responses {
		if resp.TicketID == ticketID && resp.Round == round && resp.Applied {
			return true, nil
		}
	}
	return false, nil
}

func (r responseRepo) ListByTicket(ctx context.Context, ticketID int64) ([]domain.VotingResponse, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()

	var result []domain.VotingResponse
	for _, id := range s.order {
		if resp := s.responses[id]; resp.TicketID == ticketID {
			result = append(result, resp)
		}
	}
	return result, nil
}
