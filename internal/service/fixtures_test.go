package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/ShapArt/outlook-exporter/internal/config"
	"github.com/ShapArt/outlook-exporter/internal/domain"
	"github.com/ShapArt/outlook-exporter/internal/mail"
	"github.com/ShapArt/outlook-exporter/internal/repository/memory"
	"github.com/ShapArt/outlook-exporter/internal/sla"
	"github.com/ShapArt/outlook-exporter/internal/spreadsheet"
)

var msk = time.FixedZone("MSK", 3*60*60)

// monday returns an instant in the week of 2024-03-04 (a Monday) in MSK.
func monday(day, hour, minute int) time.Time {
	return time.Date(2024, time.March, 4+day, hour, minute, 0, 0, msk)
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

type fakeMailbox struct {
	msgs []domain.RawMessage
	err  error
}

func (m *fakeMailbox) ListMessages(ctx context.Context, filter mail.SenderFilter, since time.Time) ([]domain.RawMessage, error) {
	if m.err != nil {
		return nil, m.err
	}
	var out []domain.RawMessage
	for _, msg := range m.msgs {
		if msg.ReceivedAt.Before(since) || !filter.Match(msg.Sender) {
			continue
		}
		out = append(out, msg)
	}
	return out, nil
}

type fakeSender struct {
	mu       sync.Mutex
	sent     []mail.Outgoing
	previews []mail.Outgoing
	result   mail.SendResult
	err      error
}

func (s *fakeSender) Send(ctx context.Context, msg mail.Outgoing) (mail.SendResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return mail.SendResult{}, s.err
	}
	s.sent = append(s.sent, msg)
	return s.outcome(), nil
}

func (s *fakeSender) Preview(ctx context.Context, msg mail.Outgoing) (mail.SendResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return mail.SendResult{}, s.err
	}
	s.previews = append(s.previews, msg)
	return s.outcome(), nil
}

func (s *fakeSender) outcome() mail.SendResult {
	if s.result.Status == "" {
		return mail.SendResult{Status: mail.SendOK}
	}
	return s.result
}

type fakeSheet struct {
	rows  []domain.SnapshotRow
	saved []domain.SnapshotRow
	err   error
}

func (f *fakeSheet) Load(ctx context.Context) ([]domain.SnapshotRow, error) {
	return f.rows, f.err
}

func (f *fakeSheet) Save(ctx context.Context, rows []domain.SnapshotRow) (spreadsheet.SaveResult, error) {
	if f.err != nil {
		return spreadsheet.SaveResult{}, f.err
	}
	f.saved = rows
	return spreadsheet.SaveResult{Path: "tickets.xlsx", Rows: len(rows)}, nil
}

type fixture struct {
	store   *memory.Store
	clock   *fakeClock
	mailbox *fakeMailbox
	sender  *fakeSender
	sheet   *fakeSheet
	deps    Dependencies
}

func newFixture(t *testing.T, now time.Time) *fixture {
	t.Helper()
	f := &fixture{
		store:   memory.NewStore(),
		clock:   &fakeClock{now: now},
		mailbox: &fakeMailbox{},
		sender:  &fakeSender{},
		sheet:   &fakeSheet{},
	}
	policy := config.DefaultPolicy()
	policy.QuietHoursStart, policy.QuietHoursEnd = 0, 0
	f.deps = Dependencies{
		TicketRepo:   f.store.Tickets(),
		EventRepo:    f.store.Events(),
		ResponseRepo: f.store.Responses(),
		Calendar:     sla.DefaultCalendar(msk),
		Table:        sla.DefaultTable(),
		Policy:       policy,
		Mailbox:      f.mailbox,
		Sender:       f.sender,
		Spreadsheet:  f.sheet,
		Now:          f.clock.Now,
	}
	return f
}

// seed stores a ticket whose SLA clock starts at start.
func (f *fixture) seed(t *testing.T, prio domain.TicketPriority, start time.Time, mutate ...func(*domain.Ticket)) domain.Ticket {
	t.Helper()
	ticket := &domain.Ticket{
		EntryID:           "seed-" + start.Format(time.RFC3339Nano) + string(prio),
		ThreadKey:         "alice@example.com|printer broken",
		Priority:          prio,
		Status:            domain.TicketStatusNew,
		SenderEmail:       "alice@example.com",
		Subject:           "Printer broken",
		NormalizedSubject: "printer broken",
		Body:              "It prints nothing.",
		CreatedAt:         start,
		SLAStartedAt:      start,
		LastInboundAt:     start,
		UpdatedAt:         start,
		UpdatedBy:         domain.SourceIngest,
	}
	clock := slaClock{cal: f.deps.Calendar, table: f.deps.Table}
	if err := clock.refresh(ticket); err != nil {
		t.Fatalf("refresh() error = %v", err)
	}
	for _, fn := range mutate {
		fn(ticket)
	}
	if err := f.store.Tickets().Create(context.Background(), ticket, nil); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	return *ticket
}

func (f *fixture) get(t *testing.T, id int64) domain.Ticket {
	t.Helper()
	ticket, err := f.store.Tickets().GetByID(context.Background(), id)
	if err != nil {
		t.Fatalf("GetByID(%d) error = %v", id, err)
	}
	return *ticket
}

func (f *fixture) events(t *testing.T, id int64) []domain.TicketEvent {
	t.Helper()
	evs, err := f.store.Events().ListByTicket(context.Background(), id)
	if err != nil {
		t.Fatalf("ListByTicket(%d) error = %v", id, err)
	}
	return evs
}

func countEvents(evs []domain.TicketEvent, eventType domain.TicketEventType) int {
	n := 0
	for _, e := range evs {
		if e.Type == eventType {
			n++
		}
	}
	return n
}

func withOwner(addr string) func(*domain.Ticket) {
	return func(t *domain.Ticket) { t.Responsible = &addr }
}

func withStatus(s domain.TicketStatus) func(*domain.Ticket) {
	return func(t *domain.Ticket) { t.Status = s }
}
