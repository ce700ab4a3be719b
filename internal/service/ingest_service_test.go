package service

import (
	"context"
	"errors"
	"testing"

	"github.com/ShapArt/outlook-exporter/internal/domain"
	"github.com/ShapArt/outlook-exporter/internal/repository"
	apperrors "github.com/ShapArt/outlook-exporter/pkg/util/errorutil"
)

func inbound(entryID, conversation, subject, body string, day, hour int) domain.RawMessage {
	return domain.RawMessage{
		EntryID:        entryID,
		ConversationID: conversation,
		Sender:         "Alice@Example.com",
		Subject:        subject,
		Body:           body,
		ReceivedAt:     monday(day, hour, 0),
	}
}

func TestRunIngest(t *testing.T) {
	f := newFixture(t, monday(0, 12, 0))
	f.mailbox.msgs = []domain.RawMessage{
		inbound("e-1", "conv-1", "Printer broken", "It prints nothing.\n\nThanks,\nAlice", 0, 10),
		inbound("e-2", "conv-1", "RE: Printer broken", "Still broken.", 0, 11),
		inbound("e-3", "", "Printer broken", "It prints nothing.", 0, 11),
		inbound("e-4", "conv-2", "RE: [SLA][NORMAL] Overdue #1: Printer broken", "OK", 0, 11),
		inbound("", "conv-3", "No id", "", 0, 11),
	}
	svc := NewIngestService(f.deps)

	summary, err := svc.RunIngest(context.Background(), monday(0, 0, 0))
	if err != nil {
		t.Fatalf("RunIngest() error = %v", err)
	}
	want := IngestSummary{Fetched: 5, Created: 1, FollowUps: 1, Duplicates: 1, Skipped: 2}
	if summary != want {
		t.Fatalf("summary = %+v, want %+v", summary, want)
	}

	ticket := f.get(t, 1)
	if ticket.Status != domain.TicketStatusNew || ticket.Priority != domain.TicketPriorityNormal {
		t.Fatalf("status=%s priority=%s", ticket.Status, ticket.Priority)
	}
	if ticket.SenderEmail != "alice@example.com" || ticket.Body != "It prints nothing." {
		t.Fatalf("sender=%q body=%q", ticket.SenderEmail, ticket.Body)
	}
	// Normal is 36 business hours: Monday 10:00 plus four 9h days.
	if want := monday(3, 19, 0); !ticket.DueAt.Equal(want) {
		t.Fatalf("DueAt = %v, want %v", ticket.DueAt, want)
	}
	if !ticket.LastInboundAt.Equal(monday(0, 11, 0)) {
		t.Fatalf("LastInboundAt = %v", ticket.LastInboundAt)
	}
	if ticket.RowVersion != 2 {
		t.Fatalf("row_version = %d, want 2", ticket.RowVersion)
	}
	evs := f.events(t, ticket.ID)
	if countEvents(evs, domain.EventTicketCreated) != 1 || countEvents(evs, domain.EventTicketFollowUp) != 1 {
		t.Fatalf("events = %+v", evs)
	}

	again, err := svc.RunIngest(context.Background(), monday(0, 0, 0))
	if err != nil {
		t.Fatalf("second RunIngest() error = %v", err)
	}
	if again.Created != 0 || again.FollowUps != 0 || again.Duplicates != 3 {
		t.Fatalf("second summary = %+v", again)
	}
}

func TestFollowUpKeepsTerminalStatus(t *testing.T) {
	f := newFixture(t, monday(1, 12, 0))
	ticket := f.seed(t, domain.TicketPriorityNormal, monday(0, 10, 0), withStatus(domain.TicketStatusResolved))
	f.mailbox.msgs = []domain.RawMessage{inbound("e-9", "", "RE: Printer broken", "One more thing.", 1, 11)}

	summary, err := NewIngestService(f.deps).RunIngest(context.Background(), monday(0, 0, 0))
	if err != nil {
		t.Fatalf("RunIngest() error = %v", err)
	}
	if summary.FollowUps != 1 {
		t.Fatalf("summary = %+v", summary)
	}
	if got := f.get(t, ticket.ID); got.Status != domain.TicketStatusResolved {
		t.Fatalf("status = %s, follow-up must not reopen", got.Status)
	}
}

func TestRunIngestMailboxUnavailable(t *testing.T) {
	f := newFixture(t, monday(0, 12, 0))
	f.mailbox.err = errors.New("spool not mounted")

	_, err := NewIngestService(f.deps).RunIngest(context.Background(), monday(0, 0, 0))
	if !apperrors.IsUnavailable(err) {
		t.Fatalf("RunIngest() error = %v, want collaborator unavailable", err)
	}
	if _, err := f.store.Tickets().GetByID(context.Background(), 1); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("ticket created despite mailbox failure: %v", err)
	}
}
