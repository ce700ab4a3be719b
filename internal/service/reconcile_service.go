package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ShapArt/outlook-exporter/internal/domain"
	"github.com/ShapArt/outlook-exporter/internal/repository"
	"github.com/ShapArt/outlook-exporter/internal/spreadsheet"
	apperrors "github.com/ShapArt/outlook-exporter/pkg/util/errorutil"
)

// Spreadsheet is the human-editable mirror of the store.
type Spreadsheet interface {
	Load(ctx context.Context) ([]domain.SnapshotRow, error)
	Save(ctx context.Context, rows []domain.SnapshotRow) (spreadsheet.SaveResult, error)
}

// ConflictKind classifies a spreadsheet row that was not applied.
type ConflictKind string

const (
	ConflictStaleVersion ConflictKind = "stale_version"
	ConflictOrphan       ConflictKind = "orphan"
	ConflictInvalidEdit  ConflictKind = "invalid_edit"
	ConflictCASFailed    ConflictKind = "cas_failed"
)

// Conflict is a row the store refused; the store value wins.
type Conflict struct {
	TicketID     int64        `json:"ticket_id"`
	Kind         ConflictKind `json:"kind"`
	Reason       string       `json:"reason,omitempty"`
	SheetVersion int64        `json:"sheet_version"`
	StoreVersion int64        `json:"store_version,omitempty"`
}

// ReconcileResult summarizes one reconciliation.
type ReconcileResult struct {
	Rows      int        `json:"rows"`
	Applied   int        `json:"applied"`
	Unchanged int        `json:"unchanged"`
	Conflicts []Conflict `json:"conflicts,omitempty"`
}

// ExportResult reports a snapshot export.
type ExportResult struct {
	Path    string `json:"path"`
	Pending bool   `json:"pending"`
	Rows    int    `json:"rows"`
}

// ReconcileService merges spreadsheet edits into the store row by row.
type ReconcileService struct {
	core    *TicketService
	tickets repository.TicketRepository
	sheet   Spreadsheet
	logger  *zap.Logger
}

// NewReconcileService constructs the service.
func NewReconcileService(deps Dependencies) *ReconcileService {
	deps = deps.withDefaults()
	return &ReconcileService{
		core:    NewTicketService(deps),
		tickets: deps.TicketRepo,
		sheet:   deps.Spreadsheet,
		logger:  deps.Logger,
	}
}

// rowEdit is the parsed editable part of a row.
type rowEdit struct {
	status      domain.TicketStatus
	priority    domain.TicketPriority
	responsible *string
	comment     string
}

// Reconcile applies each row whose version matches the store as one atomic
// edit. Rows never merge field by field: a stale row loses as a whole.
// Tickets missing from rows are left alone.
func (s *ReconcileService) Reconcile(ctx context.Context, rows []domain.SnapshotRow) (ReconcileResult, error) {
	result := ReconcileResult{Rows: len(rows)}
	for _, row := range rows {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		applied, conflict, err := s.reconcileRow(ctx, row)
		if err != nil {
			return result, fmt.Errorf("reconcile ticket %d: %w", row.TicketID, err)
		}
		switch {
		case conflict != nil:
			result.Conflicts = append(result.Conflicts, *conflict)
			s.logger.Warn("spreadsheet conflict",
				zap.Int64("ticket_id", conflict.TicketID),
				zap.String("kind", string(conflict.Kind)),
				zap.String("reason", conflict.Reason),
			)
		case applied:
			result.Applied++
		default:
			result.Unchanged++
		}
	}
	return result, nil
}

func (s *ReconcileService) reconcileRow(ctx context.Context, row domain.SnapshotRow) (bool, *Conflict, error) {
	current, err := s.tickets.GetByID(ctx, row.TicketID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return false, &Conflict{TicketID: row.TicketID, Kind: ConflictOrphan, Reason: "ticket not in store", SheetVersion: row.RowVersion}, nil
		}
		return false, nil, err
	}

	edit, err := parseRow(*current, row)
	if err != nil {
		return false, s.conflict(ctx, *current, row, ConflictInvalidEdit, err.Error()), nil
	}
	if !edit.differs(*current) {
		return false, nil, nil
	}
	if row.RowVersion != current.RowVersion {
		return false, s.conflict(ctx, *current, row, ConflictStaleVersion, "row_version mismatch"), nil
	}

	now := s.core.now()
	_, committed, err := s.core.mutate(ctx, *current, domain.SourceExcel, now, func(t *domain.Ticket) ([]domain.TicketEvent, error) {
		return s.applyEdit(t, edit, now)
	})
	switch {
	case err == nil:
		return committed, nil, nil
	case apperrors.IsValidation(err):
		return false, s.conflict(ctx, *current, row, ConflictInvalidEdit, err.Error()), nil
	case apperrors.IsConflict(err):
		return false, s.conflict(ctx, *current, row, ConflictCASFailed, "ticket changed during commit"), nil
	default:
		return false, nil, err
	}
}

func (s *ReconcileService) applyEdit(t *domain.Ticket, edit rowEdit, now time.Time) ([]domain.TicketEvent, error) {
	before := snapshotValues(*t)
	if edit.priority != t.Priority {
		t.Priority = edit.priority
		if err := s.core.clock.refresh(t); err != nil {
			return nil, err
		}
	}
	if edit.status != t.Status {
		// a spreadsheet edit out of a finished state is an explicit reopen
		if _, err := s.core.clock.transition(t, transitionRequest{To: edit.status, Reopen: true, External: true}, now); err != nil {
			return nil, err
		}
	}
	t.Responsible = edit.responsible
	t.Comment = edit.comment
	return []domain.TicketEvent{newEvent(domain.EventExcelSync, map[string]any{
		"before": before,
		"after":  snapshotValues(*t),
	})}, nil
}

// conflict records an excel_conflict event carrying both sides. The dedup
// key keeps repeated syncs of the same stale row to a single event.
func (s *ReconcileService) conflict(ctx context.Context, t domain.Ticket, row domain.SnapshotRow, kind ConflictKind, reason string) *Conflict {
	c := &Conflict{TicketID: t.ID, Kind: kind, Reason: reason, SheetVersion: row.RowVersion, StoreVersion: t.RowVersion}
	e := newEvent(domain.EventExcelConflict, map[string]any{
		"kind":          string(kind),
		"reason":        reason,
		"sheet_version": row.RowVersion,
		"store_version": t.RowVersion,
		"sheet": map[string]any{
			"status":      row.Status,
			"priority":    row.Priority,
			"responsible": row.Responsible,
			"comment":     row.Comment,
		},
		"store": snapshotValues(t),
	})
	e.DedupKey = dedupKey("excel_conflict", fmt.Sprintf("%d:%d:%d:%s", t.ID, row.RowVersion, t.RowVersion, kind))
	if err := s.core.appendOnly(ctx, t, domain.SourceExcel, s.core.now(), e); err != nil {
		s.logger.Error("conflict event not recorded", zap.Int64("ticket_id", t.ID), zap.Error(err))
	}
	return c
}

// SyncFromSpreadsheet loads the confirmed workbook and reconciles it.
func (s *ReconcileService) SyncFromSpreadsheet(ctx context.Context) (ReconcileResult, error) {
	if s.sheet == nil {
		return ReconcileResult{}, apperrors.NewCollaboratorUnavailable("spreadsheet", 0, fmt.Errorf("no spreadsheet configured"))
	}
	rows, err := s.sheet.Load(ctx)
	if err != nil {
		return ReconcileResult{}, apperrors.NewCollaboratorUnavailable("spreadsheet", 0, err)
	}
	return s.Reconcile(ctx, rows)
}

// ExportSnapshot writes every ticket to the workbook. A locked workbook
// sends the snapshot to the pending file, which is never read back.
func (s *ReconcileService) ExportSnapshot(ctx context.Context) (ExportResult, error) {
	if s.sheet == nil {
		return ExportResult{}, apperrors.NewCollaboratorUnavailable("spreadsheet", 0, fmt.Errorf("no spreadsheet configured"))
	}
	tickets, err := s.tickets.ListWithFilter(ctx, repository.TicketFilter{})
	if err != nil {
		return ExportResult{}, err
	}
	rows := make([]domain.SnapshotRow, 0, len(tickets))
	for _, t := range tickets {
		rows = append(rows, spreadsheet.FromTicket(t))
	}
	saved, err := s.sheet.Save(ctx, rows)
	if err != nil {
		return ExportResult{}, apperrors.NewCollaboratorUnavailable("spreadsheet", 0, err)
	}
	if saved.Pending {
		s.logger.Warn("snapshot exported to pending file", zap.String("path", saved.Path))
	}
	return ExportResult{Path: saved.Path, Pending: saved.Pending, Rows: saved.Rows}, nil
}

func parseRow(current domain.Ticket, row domain.SnapshotRow) (rowEdit, error) {
	edit := rowEdit{
		status:      current.Status,
		priority:    current.Priority,
		responsible: normalizeOwner(row.Responsible),
		comment:     strings.TrimSpace(row.Comment),
	}
	if text := strings.TrimSpace(row.Status); text != "" {
		status, ok := domain.ParseTicketStatus(text)
		if !ok {
			return edit, fmt.Errorf("unknown status %q", text)
		}
		edit.status = status
	}
	if text := strings.TrimSpace(row.Priority); text != "" {
		prio, ok := domain.ParseTicketPriority(text)
		if !ok {
			return edit, fmt.Errorf("unknown priority %q", text)
		}
		edit.priority = prio
	}
	return edit, nil
}

func (e rowEdit) differs(t domain.Ticket) bool {
	return e.status != t.Status ||
		e.priority != t.Priority ||
		!equalString(e.responsible, normalizeOwner(t.Owner())) ||
		e.comment != strings.TrimSpace(t.Comment)
}

func snapshotValues(t domain.Ticket) map[string]any {
	return map[string]any{
		"status":      string(t.Status),
		"priority":    string(t.Priority),
		"responsible": t.Owner(),
		"comment":     t.Comment,
	}
}
