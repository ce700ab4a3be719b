package service

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/ShapArt/outlook-exporter/internal/domain"
	"github.com/ShapArt/outlook-exporter/internal/mail"
	"github.com/ShapArt/outlook-exporter/internal/sla"
	apperrors "github.com/ShapArt/outlook-exporter/pkg/util/errorutil"
)

func basePolicy() ReminderPolicy {
	return ReminderPolicy{
		SafeMode:       true,
		Interval:       24 * time.Hour,
		QuietStart:     22,
		QuietEnd:       8,
		Location:       msk,
		AllowedDomains: []string{"example.com"},
		Table:          sla.DefaultTable(),
	}
}

func sendingPolicy() ReminderPolicy {
	p := basePolicy()
	p.SafeMode = false
	p.AllowSend = true
	return p
}

func TestDecideReminder(t *testing.T) {
	now := monday(1, 12, 0)
	hourAgo := now.Add(-time.Hour)
	dayAndHourAgo := now.Add(-25 * time.Hour)
	bob := "bob@example.com"
	stranger := "eve@elsewhere.org"

	cases := []struct {
		name   string
		ticket domain.Ticket
		now    time.Time
		policy ReminderPolicy
		kind   DecisionKind
		reason SkipReason
	}{
		{"no owner", domain.Ticket{Status: domain.TicketStatusOverdue}, now, basePolicy(), DecisionSkip, SkipNoOwner},
		{"quiet hours late evening", domain.Ticket{Responsible: &bob}, monday(1, 23, 0), basePolicy(), DecisionSkip, SkipQuietHours},
		{"quiet hours early morning", domain.Ticket{Responsible: &bob}, monday(1, 7, 59), basePolicy(), DecisionSkip, SkipQuietHours},
		{"quiet hours end is exclusive", domain.Ticket{Responsible: &bob}, monday(1, 8, 0), basePolicy(), DecisionPreview, ""},
		{"reminded an hour ago", domain.Ticket{Responsible: &bob, LastReminderAt: &hourAgo}, now, basePolicy(), DecisionSkip, SkipInterval},
		{"reminded 25 hours ago in safe mode", domain.Ticket{Responsible: &bob, LastReminderAt: &dayAndHourAgo}, now, basePolicy(), DecisionPreview, ""},
		{"reminded 25 hours ago in send mode", domain.Ticket{Responsible: &bob, LastReminderAt: &dayAndHourAgo}, now, sendingPolicy(), DecisionSend, ""},
		{"safe mode previews any owner", domain.Ticket{Responsible: &stranger}, now, basePolicy(), DecisionPreview, ""},
		{"send mode blocks unknown owner", domain.Ticket{Responsible: &stranger}, now, sendingPolicy(), DecisionSkip, SkipRecipientNotAllowed},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			d := DecideReminder(tc.ticket, tc.now, tc.policy)
			if d.Kind != tc.kind || d.Reason != tc.reason {
				t.Fatalf("DecideReminder() = %s/%s, want %s/%s", d.Kind, d.Reason, tc.kind, tc.reason)
			}
		})
	}
}

func TestAllowedFailsClosed(t *testing.T) {
	p := ReminderPolicy{}
	if p.Allowed("bob@example.com") {
		t.Fatalf("empty allow-lists must allow nobody")
	}
	p.TestAllowlist = []string{"QA@Example.org"}
	p.AllowedDomains = []string{".corp.example"}
	cases := map[string]bool{
		"qa@example.org":        true,
		"bob@mail.corp.example": true,
		"bob@corp.example":      true,
		"bob@notcorp.example":   false,
		"someone@example.org":   false,
		"":                      false,
	}
	for addr, want := range cases {
		if got := p.Allowed(addr); got != want {
			t.Fatalf("Allowed(%q) = %v, want %v", addr, got, want)
		}
	}
}

func TestDecideReminderEscalationCC(t *testing.T) {
	bob := "bob@example.com"
	p := sendingPolicy()
	p.EscalationMatrix = map[domain.TicketPriority][]string{
		domain.TicketPriorityCritical: {"boss@example.com", "vendor@outside.org", "Bob@example.com"},
	}

	ticket := domain.Ticket{Priority: domain.TicketPriorityCritical, Responsible: &bob, EscalationLevel: 1}
	if d := DecideReminder(ticket, monday(1, 12, 0), p); len(d.CC) != 0 || len(d.DroppedCC) != 0 {
		t.Fatalf("notify_owner step must not add CC: %+v", d)
	}

	ticket.EscalationLevel = 2
	d := DecideReminder(ticket, monday(1, 12, 0), p)
	if d.Kind != DecisionSend {
		t.Fatalf("kind = %s", d.Kind)
	}
	if len(d.CC) != 1 || d.CC[0] != "boss@example.com" {
		t.Fatalf("CC = %v", d.CC)
	}
	if len(d.DroppedCC) != 1 || d.DroppedCC[0] != "vendor@outside.org" {
		t.Fatalf("DroppedCC = %v", d.DroppedCC)
	}
}

func TestSendOverdueThrottle(t *testing.T) {
	cases := []struct {
		name      string
		sinceLast time.Duration
		safe      bool
		wantKind  DecisionKind
		wantCount int
	}{
		{"reminded an hour ago", time.Hour, true, DecisionSkip, 3},
		{"reminded 25 hours ago previews in safe mode", 25 * time.Hour, true, DecisionPreview, 4},
		{"reminded 25 hours ago sends in send mode", 25 * time.Hour, false, DecisionSend, 4},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			now := monday(2, 12, 0)
			f := newFixture(t, now)
			f.deps.Policy.SafeMode = tc.safe
			f.deps.Policy.AllowSend = !tc.safe
			f.deps.Policy.AllowedDomains = []string{"example.com"}
			last := now.Add(-tc.sinceLast)
			ticket := f.seed(t, domain.TicketPriorityHigh, monday(0, 10, 0),
				withStatus(domain.TicketStatusOverdue),
				withOwner("bob@example.com"),
				func(t *domain.Ticket) {
					t.LastReminderAt = &last
					t.ReminderCount = 3
				},
			)

			decisions, err := NewReminderService(f.deps).SendOverdue(context.Background())
			if err != nil {
				t.Fatalf("SendOverdue() error = %v", err)
			}
			if len(decisions) != 1 || decisions[0].Kind != tc.wantKind {
				t.Fatalf("decisions = %+v", decisions)
			}
			got := f.get(t, ticket.ID)
			if got.ReminderCount != tc.wantCount {
				t.Fatalf("reminder count = %d, want %d", got.ReminderCount, tc.wantCount)
			}

			switch tc.wantKind {
			case DecisionSkip:
				if got.RowVersion != 1 || len(f.sender.sent)+len(f.sender.previews) != 0 {
					t.Fatalf("skip must not write or send")
				}
			case DecisionPreview:
				if len(f.sender.previews) != 1 || len(f.sender.sent) != 0 {
					t.Fatalf("previews=%d sent=%d", len(f.sender.previews), len(f.sender.sent))
				}
				if n := countEvents(f.events(t, ticket.ID), domain.EventReminderPreviewed); n != 1 {
					t.Fatalf("preview events = %d", n)
				}
			case DecisionSend:
				if len(f.sender.sent) != 1 || len(f.sender.previews) != 0 {
					t.Fatalf("previews=%d sent=%d", len(f.sender.previews), len(f.sender.sent))
				}
				msg := f.sender.sent[0]
				if !strings.HasPrefix(msg.Subject, "[SLA][HIGH] Overdue #1:") {
					t.Fatalf("subject = %q", msg.Subject)
				}
				if got.LastReminderAt == nil || !got.LastReminderAt.Equal(now) {
					t.Fatalf("LastReminderAt = %v", got.LastReminderAt)
				}
			}
		})
	}
}

func TestSendOverdueSenderFailure(t *testing.T) {
	f := newFixture(t, monday(2, 12, 0))
	ticket := f.seed(t, domain.TicketPriorityHigh, monday(0, 10, 0),
		withStatus(domain.TicketStatusOverdue), withOwner("bob@example.com"))
	f.sender.result = mail.SendResult{Status: mail.SendFailed, Reason: "mailbox full"}

	decisions, err := NewReminderService(f.deps).SendOverdue(context.Background())
	if err != nil {
		t.Fatalf("SendOverdue() error = %v", err)
	}
	if len(decisions) != 1 || decisions[0].Kind != DecisionFailed || decisions[0].Detail != "mailbox full" {
		t.Fatalf("decisions = %+v", decisions)
	}
	if got := f.get(t, ticket.ID); got.RowVersion != 1 || got.ReminderCount != 0 {
		t.Fatalf("failed delivery must not mutate: version=%d count=%d", got.RowVersion, got.ReminderCount)
	}
}

func TestSendOverdueSenderUnavailable(t *testing.T) {
	f := newFixture(t, monday(2, 12, 0))
	f.seed(t, domain.TicketPriorityHigh, monday(0, 10, 0),
		withStatus(domain.TicketStatusOverdue), withOwner("bob@example.com"))
	f.sender.err = errors.New("connection refused")

	_, err := NewReminderService(f.deps).SendOverdue(context.Background())
	if !apperrors.IsUnavailable(err) {
		t.Fatalf("SendOverdue() error = %v, want collaborator unavailable", err)
	}
}
