package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	gormsqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"

	"github.com/ShapArt/outlook-exporter/internal/domain"
	"github.com/ShapArt/outlook-exporter/internal/repository"
)

func setupStore(t *testing.T) *Store {
	t.Helper()

	dsn := filepath.Join(t.TempDir(), "tickets.sqlite")
	db, err := gorm.Open(gormsqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("get sql db: %v", err)
	}
	t.Cleanup(func() {
		_ = sqlDB.Close()
	})
	store, err := NewStore(db)
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}
	return store
}

func sampleTicket(now time.Time) *domain.Ticket {
	owner := "ops@example.com"
	return &domain.Ticket{
		EntryID:           "entry-1",
		ThreadKey:         "conv-1",
		Priority:          domain.TicketPriorityHigh,
		Status:            domain.TicketStatusNew,
		Responsible:       &owner,
		SenderEmail:       "alice@example.com",
		Subject:           "VPN down",
		NormalizedSubject: "vpn down",
		Body:              "VPN is down since morning",
		BodyHash:          "hash-1",
		CreatedAt:         now,
		SLAStartedAt:      now,
		DueAt:             now.Add(8 * time.Hour),
		ResponseDueAt:     now.Add(2 * time.Hour),
		LastInboundAt:     now,
		UpdatedAt:         now,
		UpdatedBy:         domain.SourceIngest,
	}
}

func TestCreateAndUpdateWithVersion(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()
	now := time.Date(2024, 3, 4, 10, 0, 0, 0, time.UTC)
	key := "ingest:entry-1"

	ticket := sampleTicket(now)
	if err := store.Tickets().Create(ctx, ticket, []domain.TicketEvent{{
		ID:        "00000000-0000-0000-0000-000000000001",
		Type:      domain.EventTicketCreated,
		Source:    domain.SourceIngest,
		Payload:   map[string]any{"priority": "high"},
		DedupKey:  &key,
		CreatedAt: now,
	}}); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if ticket.ID == 0 || ticket.RowVersion != 1 {
		t.Fatalf("Create() id=%d version=%d", ticket.ID, ticket.RowVersion)
	}

	ticket.Status = domain.TicketStatusOverdue
	ticket.EscalationLevel = 1
	ticket.Responsible = nil
	if err := store.Tickets().Update(ctx, ticket, 1, []domain.TicketEvent{{
		ID:        "00000000-0000-0000-0000-000000000002",
		Type:      domain.EventSLAOverdue,
		Source:    domain.SourceRecalc,
		CreatedAt: now.Add(time.Hour),
	}}); err != nil {
		t.Fatalf("Update() error = %v", err)
	}

	if err := store.Tickets().Update(ctx, ticket, 1, nil); !errors.Is(err, repository.ErrVersionConflict) {
		t.Fatalf("stale Update() error = %v, want conflict", err)
	}

	got, err := store.Tickets().GetByID(ctx, ticket.ID)
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if got.Status != domain.TicketStatusOverdue || got.RowVersion != 2 || got.Responsible != nil || got.EscalationLevel != 1 {
		t.Fatalf("stored ticket = %+v", got)
	}
	if !got.DueAt.Equal(ticket.DueAt) {
		t.Fatalf("DueAt = %v, want %v", got.DueAt, ticket.DueAt)
	}

	events, err := store.Events().ListByTicket(ctx, ticket.ID)
	if err != nil {
		t.Fatalf("ListByTicket() error = %v", err)
	}
	if len(events) != 2 || events[0].Type != domain.EventTicketCreated || events[1].Type != domain.EventSLAOverdue {
		t.Fatalf("events = %+v", events)
	}
	if events[0].Payload["priority"] != "high" {
		t.Fatalf("payload = %+v", events[0].Payload)
	}
}

func TestDuplicateDedupKeyIsIgnored(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()
	now := time.Now().UTC()
	ticket := sampleTicket(now)
	if err := store.Tickets().Create(ctx, ticket, nil); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	key := "response:m-1"
	for i, id := range []string{"00000000-0000-0000-0000-00000000000a", "00000000-0000-0000-0000-00000000000b"} {
		if err := store.Events().Append(ctx, domain.TicketEvent{
			ID:        id,
			TicketID:  ticket.ID,
			Type:      domain.EventCommentAdded,
			Source:    domain.SourceMail,
			DedupKey:  &key,
			CreatedAt: now,
		}); err != nil {
			t.Fatalf("Append(%d) error = %v", i, err)
		}
	}

	events, _ := store.Events().ListByTicket(ctx, ticket.ID)
	if len(events) != 1 {
		t.Fatalf("events = %d, want 1", len(events))
	}
	exists, err := store.Events().ExistsByDedupKey(ctx, key)
	if err != nil || !exists {
		t.Fatalf("ExistsByDedupKey() = %v, %v", exists, err)
	}
}

func TestLookupsAndFilter(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()
	now := time.Date(2024, 3, 4, 10, 0, 0, 0, time.UTC)
	first := sampleTicket(now)
	if err := store.Tickets().Create(ctx, first, nil); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	second := sampleTicket(now.Add(time.Hour))
	second.ThreadKey = "conv-2"
	second.BodyHash = "hash-2"
	second.Status = domain.TicketStatusResolved
	if err := store.Tickets().Create(ctx, second, nil); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	got, err := store.Tickets().FindByThreadKey(ctx, "conv-1", now.Add(-time.Hour))
	if err != nil || got.ID != first.ID {
		t.Fatalf("FindByThreadKey() = %v, %v", got, err)
	}
	if _, err := store.Tickets().FindByThreadKey(ctx, "conv-1", now.Add(time.Minute)); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("FindByThreadKey() outside lookback error = %v", err)
	}
	got, err = store.Tickets().FindByFingerprint(ctx, "alice@example.com", "vpn down", "hash-2", now)
	if err != nil || got.ID != second.ID {
		t.Fatalf("FindByFingerprint() = %v, %v", got, err)
	}

	open, err := store.Tickets().ListWithFilter(ctx, repository.TicketFilter{
		Statuses: []domain.TicketStatus{domain.TicketStatusNew, domain.TicketStatusInProgress},
	})
	if err != nil {
		t.Fatalf("ListWithFilter() error = %v", err)
	}
	if len(open) != 1 || open[0].ID != first.ID {
		t.Fatalf("ListWithFilter() = %+v", open)
	}
}

func TestLookbackComparesInstantsAcrossZones(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()
	msk := time.FixedZone("MSK", 3*60*60)
	// 12:00+03:00 is 09:00Z, earlier than a 10:00Z lookback.
	local := time.Date(2024, 3, 4, 12, 0, 0, 0, msk)
	ticket := sampleTicket(local)
	breached := local.Add(3 * time.Hour)
	ticket.ResponseBreachedAt = &breached
	if err := store.Tickets().Create(ctx, ticket, nil); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	tests := []struct {
		name  string
		since time.Time
		found bool
	}{
		{name: "lookback after creation", since: time.Date(2024, 3, 4, 10, 0, 0, 0, time.UTC), found: false},
		{name: "lookback before creation", since: time.Date(2024, 3, 4, 8, 0, 0, 0, time.UTC), found: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := store.Tickets().FindByFingerprint(ctx, "alice@example.com", "vpn down", "hash-1", tt.since)
			if tt.found && err != nil {
				t.Fatalf("FindByFingerprint() error = %v", err)
			}
			if !tt.found && !errors.Is(err, repository.ErrNotFound) {
				t.Fatalf("FindByFingerprint() error = %v, want ErrNotFound", err)
			}
			_, err = store.Tickets().FindByThreadKey(ctx, "conv-1", tt.since)
			if tt.found && err != nil {
				t.Fatalf("FindByThreadKey() error = %v", err)
			}
			if !tt.found && !errors.Is(err, repository.ErrNotFound) {
				t.Fatalf("FindByThreadKey() error = %v, want ErrNotFound", err)
			}
		})
	}

	got, err := store.Tickets().GetByID(ctx, ticket.ID)
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if got.ResponseBreachedAt == nil || !got.ResponseBreachedAt.Equal(breached) {
		t.Fatalf("ResponseBreachedAt = %v, want %v", got.ResponseBreachedAt, breached)
	}
	if !got.CreatedAt.Equal(local) {
		t.Fatalf("CreatedAt = %v, want %v", got.CreatedAt, local)
	}
}

func TestVotingResponseRecord(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()
	vote := domain.VotingResponse{MessageID: "m-1", TicketID: 7, Option: "Close", Round: 1, Applied: true, ReceivedAt: time.Now().UTC()}

	created, err := store.Responses().Record(ctx, vote)
	if err != nil || !created {
		t.Fatalf("Record() = %v, %v", created, err)
	}
	created, err = store.Responses().Record(ctx, vote)
	if err != nil || created {
		t.Fatalf("duplicate Record() = %v, %v", created, err)
	}
	applied, err := store.Responses().HasApplied(ctx, 7, 1)
	if err != nil || !applied {
		t.Fatalf("HasApplied() = %v, %v", applied, err)
	}
	list, _ := store.Responses().ListByTicket(ctx, 7)
	if len(list) != 1 {
		t.Fatalf("ListByTicket() = %d", len(list))
	}
}
