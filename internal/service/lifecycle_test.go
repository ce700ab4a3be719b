package service

import (
	"testing"

	"github.com/ShapArt/outlook-exporter/internal/domain"
	"github.com/ShapArt/outlook-exporter/internal/sla"
	apperrors "github.com/ShapArt/outlook-exporter/pkg/util/errorutil"
)

func TestTransition(t *testing.T) {
	clock := slaClock{cal: sla.DefaultCalendar(msk), table: sla.DefaultTable()}
	start := monday(0, 10, 0)
	now := monday(1, 12, 0)

	cases := []struct {
		name    string
		from    domain.TicketStatus
		req     transitionRequest
		changed bool
		wantErr bool
	}{
		{"new to in progress", domain.TicketStatusNew, transitionRequest{To: domain.TicketStatusInProgress}, true, false},
		{"new to resolved", domain.TicketStatusNew, transitionRequest{To: domain.TicketStatusResolved}, true, false},
		{"in progress to overdue by recalc", domain.TicketStatusInProgress, transitionRequest{To: domain.TicketStatusOverdue}, true, false},
		{"overdue back to in progress", domain.TicketStatusOverdue, transitionRequest{To: domain.TicketStatusInProgress}, true, false},
		{"resolved to closed", domain.TicketStatusResolved, transitionRequest{To: domain.TicketStatusClosed}, true, false},
		{"same state is a no-op", domain.TicketStatusInProgress, transitionRequest{To: domain.TicketStatusInProgress, External: true}, false, false},
		{"new cannot close", domain.TicketStatusNew, transitionRequest{To: domain.TicketStatusClosed}, false, true},
		{"external overdue", domain.TicketStatusInProgress, transitionRequest{To: domain.TicketStatusOverdue, External: true}, false, true},
		{"resolved needs reopen", domain.TicketStatusResolved, transitionRequest{To: domain.TicketStatusInProgress}, false, true},
		{"closed needs reopen", domain.TicketStatusClosed, transitionRequest{To: domain.TicketStatusInProgress, External: true}, false, true},
		{"closed never goes back to resolved", domain.TicketStatusClosed, transitionRequest{To: domain.TicketStatusResolved, Reopen: true}, false, true},
		{"unknown status", domain.TicketStatusNew, transitionRequest{To: "waiting"}, false, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ticket := domain.Ticket{ID: 7, Priority: domain.TicketPriorityNormal, Status: tc.from, SLAStartedAt: start}
			changed, err := clock.transition(&ticket, tc.req, now)
			if tc.wantErr {
				if !apperrors.IsValidation(err) {
					t.Fatalf("transition() error = %v, want validation error", err)
				}
				if ticket.Status != tc.from {
					t.Fatalf("status changed to %s on error", ticket.Status)
				}
				return
			}
			if err != nil {
				t.Fatalf("transition() error = %v", err)
			}
			if changed != tc.changed {
				t.Fatalf("transition() changed = %v, want %v", changed, tc.changed)
			}
			if ticket.Status != tc.req.To {
				t.Fatalf("status = %s, want %s", ticket.Status, tc.req.To)
			}
		})
	}
}

func TestTransitionStampsTerminalTimes(t *testing.T) {
	clock := slaClock{cal: sla.DefaultCalendar(msk), table: sla.DefaultTable()}
	now := monday(0, 15, 0)
	ticket := domain.Ticket{ID: 1, Priority: domain.TicketPriorityHigh, Status: domain.TicketStatusOverdue, SLAStartedAt: monday(0, 10, 0)}

	if _, err := clock.transition(&ticket, transitionRequest{To: domain.TicketStatusResolved}, now); err != nil {
		t.Fatalf("resolve error = %v", err)
	}
	if ticket.ResolvedAt == nil || !ticket.ResolvedAt.Equal(now) {
		t.Fatalf("ResolvedAt = %v", ticket.ResolvedAt)
	}
	if ticket.Overdue() {
		t.Fatalf("resolved ticket still overdue")
	}

	later := monday(1, 11, 0)
	if _, err := clock.transition(&ticket, transitionRequest{To: domain.TicketStatusClosed}, later); err != nil {
		t.Fatalf("close error = %v", err)
	}
	if ticket.ClosedAt == nil || !ticket.ClosedAt.Equal(later) {
		t.Fatalf("ClosedAt = %v", ticket.ClosedAt)
	}
}

func TestReopenRestartsClock(t *testing.T) {
	clock := slaClock{cal: sla.DefaultCalendar(msk), table: sla.DefaultTable()}
	resolvedAt := monday(0, 12, 0)
	ticket := domain.Ticket{
		ID:              3,
		Priority:        domain.TicketPriorityHigh,
		Status:          domain.TicketStatusResolved,
		SLAStartedAt:    monday(0, 10, 0),
		EscalationLevel: 2,
		ResolvedAt:      &resolvedAt,
	}
	now := monday(2, 11, 0)

	changed, err := clock.transition(&ticket, transitionRequest{To: domain.TicketStatusInProgress, Reopen: true, External: true}, now)
	if err != nil || !changed {
		t.Fatalf("reopen changed=%v error=%v", changed, err)
	}
	if ticket.ResolvedAt != nil || ticket.ClosedAt != nil {
		t.Fatalf("terminal timestamps kept after reopen")
	}
	if !ticket.SLAStartedAt.Equal(now) || ticket.EscalationLevel != 0 {
		t.Fatalf("clock not restarted: start=%v level=%d", ticket.SLAStartedAt, ticket.EscalationLevel)
	}
	// High resolution is 8 business hours: Wednesday 11:00 + 8h = Wednesday 19:00.
	if want := monday(2, 19, 0); !ticket.DueAt.Equal(want) {
		t.Fatalf("DueAt = %v, want %v", ticket.DueAt, want)
	}
}
