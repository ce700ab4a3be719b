package service

import (
	"context"
	"testing"
	"time"

	"github.com/ShapArt/outlook-exporter/internal/domain"
)

func TestRecalcOverdueThresholdIsInclusive(t *testing.T) {
	cases := []struct {
		name        string
		minute      int
		wantStatus  domain.TicketStatus
		wantLevel   int
		wantVersion int64
	}{
		// High has an 8 business hour budget starting Monday 10:00.
		{"one minute before budget", 17*60 + 59, domain.TicketStatusNew, 0, 1},
		{"exactly at budget", 18 * 60, domain.TicketStatusOverdue, 1, 2},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t, monday(0, tc.minute/60, tc.minute%60))
			ticket := f.seed(t, domain.TicketPriorityHigh, monday(0, 10, 0), withFirstResponse(monday(0, 10, 30)))

			if _, err := NewRecalcService(f.deps).RecalcOpen(context.Background()); err != nil {
				t.Fatalf("RecalcOpen() error = %v", err)
			}
			got := f.get(t, ticket.ID)
			if got.Status != tc.wantStatus {
				t.Fatalf("status = %s, want %s", got.Status, tc.wantStatus)
			}
			if got.EscalationLevel != tc.wantLevel {
				t.Fatalf("escalation level = %d, want %d", got.EscalationLevel, tc.wantLevel)
			}
			if got.RowVersion != tc.wantVersion {
				t.Fatalf("row_version = %d, want %d", got.RowVersion, tc.wantVersion)
			}
		})
	}
}

func TestRecalcIsIdempotent(t *testing.T) {
	f := newFixture(t, monday(0, 19, 0))
	ticket := f.seed(t, domain.TicketPriorityHigh, monday(0, 10, 0))
	svc := NewRecalcService(f.deps)

	first, err := svc.RecalcOpen(context.Background())
	if err != nil {
		t.Fatalf("first RecalcOpen() error = %v", err)
	}
	if first.Updated != 1 || first.Overdue != 1 || first.Escalations != 1 {
		t.Fatalf("first summary = %+v", first)
	}
	afterFirst := f.get(t, ticket.ID)
	eventsAfterFirst := len(f.events(t, ticket.ID))

	second, err := svc.RecalcOpen(context.Background())
	if err != nil {
		t.Fatalf("second RecalcOpen() error = %v", err)
	}
	if second.Updated != 0 || second.Overdue != 0 || second.Escalations != 0 {
		t.Fatalf("second summary = %+v", second)
	}
	afterSecond := f.get(t, ticket.ID)
	if afterSecond.RowVersion != afterFirst.RowVersion {
		t.Fatalf("row_version moved from %d to %d", afterFirst.RowVersion, afterSecond.RowVersion)
	}
	if n := len(f.events(t, ticket.ID)); n != eventsAfterFirst {
		t.Fatalf("events grew from %d to %d", eventsAfterFirst, n)
	}
}

func TestRecalcFiresEachEscalationOnce(t *testing.T) {
	// Critical: 4h budget, steps at 1.0 and 1.5. Monday 16:00 is ratio 1.5.
	f := newFixture(t, monday(0, 16, 0))
	ticket := f.seed(t, domain.TicketPriorityCritical, monday(0, 10, 0))
	svc := NewRecalcService(f.deps)

	summary, err := svc.RecalcOpen(context.Background())
	if err != nil {
		t.Fatalf("RecalcOpen() error = %v", err)
	}
	if summary.Escalations != 2 {
		t.Fatalf("escalations = %d, want 2", summary.Escalations)
	}

	f.clock.Set(monday(1, 12, 0))
	if _, err := svc.RecalcOpen(context.Background()); err != nil {
		t.Fatalf("later RecalcOpen() error = %v", err)
	}
	got := f.get(t, ticket.ID)
	if got.EscalationLevel != 2 {
		t.Fatalf("escalation level = %d, want 2", got.EscalationLevel)
	}
	evs := f.events(t, ticket.ID)
	if n := countEvents(evs, domain.EventEscalationFired); n != 2 {
		t.Fatalf("escalation events = %d, want 2", n)
	}
	if n := countEvents(evs, domain.EventSLAOverdue); n != 1 {
		t.Fatalf("overdue events = %d, want 1", n)
	}
}

func TestRecalcRecoversWhenBudgetGrows(t *testing.T) {
	f := newFixture(t, monday(0, 12, 0))
	ticket := f.seed(t, domain.TicketPriorityLow, monday(0, 10, 0), withStatus(domain.TicketStatusOverdue))

	summary, err := NewRecalcService(f.deps).RecalcOpen(context.Background())
	if err != nil {
		t.Fatalf("RecalcOpen() error = %v", err)
	}
	if summary.Recovered != 1 {
		t.Fatalf("summary = %+v", summary)
	}
	got := f.get(t, ticket.ID)
	if got.Status != domain.TicketStatusInProgress || got.Overdue() {
		t.Fatalf("status = %s", got.Status)
	}
	if n := countEvents(f.events(t, ticket.ID), domain.EventSLARecovered); n != 1 {
		t.Fatalf("recovered events = %d", n)
	}
}

func TestRecalcSkipsTerminalTickets(t *testing.T) {
	f := newFixture(t, monday(3, 12, 0))
	ticket := f.seed(t, domain.TicketPriorityCritical, monday(0, 10, 0), withStatus(domain.TicketStatusResolved))

	summary, err := NewRecalcService(f.deps).RecalcOpen(context.Background())
	if err != nil {
		t.Fatalf("RecalcOpen() error = %v", err)
	}
	if summary.Scanned != 0 {
		t.Fatalf("scanned = %d, want 0", summary.Scanned)
	}
	if got := f.get(t, ticket.ID); got.Status != domain.TicketStatusResolved || got.RowVersion != 1 {
		t.Fatalf("terminal ticket touched: status=%s version=%d", got.Status, got.RowVersion)
	}
}

func withFirstResponse(at time.Time) func(*domain.Ticket) {
	return func(t *domain.Ticket) { t.FirstResponseAt = &at }
}

func TestRecalcRecordsMissedResponseOnce(t *testing.T) {
	// High answers within 2 business hours; Monday 15:00 is 5 hours in.
	f := newFixture(t, monday(0, 15, 0))
	ticket := f.seed(t, domain.TicketPriorityHigh, monday(0, 10, 0))
	svc := NewRecalcService(f.deps)

	summary, err := svc.RecalcOpen(context.Background())
	if err != nil {
		t.Fatalf("RecalcOpen() error = %v", err)
	}
	if summary.Updated != 1 || summary.ResponseBreaches != 1 || summary.Overdue != 0 {
		t.Fatalf("summary = %+v", summary)
	}
	got := f.get(t, ticket.ID)
	if got.ResponseBreachedAt == nil || !got.ResponseBreachedAt.Equal(monday(0, 15, 0)) {
		t.Fatalf("response breached at = %v", got.ResponseBreachedAt)
	}
	if got.Status != domain.TicketStatusNew {
		t.Fatalf("status = %s, want new", got.Status)
	}
	if got.RowVersion != 2 {
		t.Fatalf("row_version = %d, want 2", got.RowVersion)
	}
	if n := countEvents(f.events(t, ticket.ID), domain.EventResponseBreached); n != 1 {
		t.Fatalf("response breach events = %d, want 1", n)
	}

	f.clock.Set(monday(0, 16, 0))
	again, err := svc.RecalcOpen(context.Background())
	if err != nil {
		t.Fatalf("second RecalcOpen() error = %v", err)
	}
	if again.Updated != 0 || again.ResponseBreaches != 0 {
		t.Fatalf("second summary = %+v", again)
	}
	if after := f.get(t, ticket.ID); after.RowVersion != 2 {
		t.Fatalf("row_version moved to %d", after.RowVersion)
	}
	if n := countEvents(f.events(t, ticket.ID), domain.EventResponseBreached); n != 1 {
		t.Fatalf("response breach events after rerun = %d, want 1", n)
	}
}

func TestRecalcResponseBudget(t *testing.T) {
	cases := []struct {
		name       string
		now        time.Time
		mutate     []func(*domain.Ticket)
		wantBreach bool
	}{
		{"one minute before response budget", monday(0, 11, 59), nil, false},
		{"exactly at response budget", monday(0, 12, 0), nil, true},
		{"already answered", monday(0, 15, 0), []func(*domain.Ticket){withFirstResponse(monday(0, 11, 0))}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t, tc.now)
			ticket := f.seed(t, domain.TicketPriorityHigh, monday(0, 10, 0), tc.mutate...)

			if _, err := NewRecalcService(f.deps).RecalcOpen(context.Background()); err != nil {
				t.Fatalf("RecalcOpen() error = %v", err)
			}
			got := f.get(t, ticket.ID)
			if breached := got.ResponseBreachedAt != nil; breached != tc.wantBreach {
				t.Fatalf("response breached = %v, want %v", breached, tc.wantBreach)
			}
			wantEvents := 0
			if tc.wantBreach {
				wantEvents = 1
			}
			if n := countEvents(f.events(t, ticket.ID), domain.EventResponseBreached); n != wantEvents {
				t.Fatalf("response breach events = %d, want %d", n, wantEvents)
			}
		})
	}
}
