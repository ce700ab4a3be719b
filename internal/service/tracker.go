package service

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/ShapArt/outlook-exporter/internal/domain"
	"github.com/ShapArt/outlook-exporter/internal/observability"
)

// Pass names used in logs and metrics.
const (
	PassIngest    = "ingest"
	PassRecalc    = "recalc"
	PassReminders = "reminders"
	PassResponses = "responses"
	PassReconcile = "reconcile"
	PassExport    = "export"
)

// CycleReport collects the summaries of one full cycle. Stages that failed
// leave their summary at the zero value.
type CycleReport struct {
	StartedAt  time.Time          `json:"started_at"`
	FinishedAt time.Time          `json:"finished_at"`
	Ingest     IngestSummary      `json:"ingest"`
	Recalc     RecalcSummary      `json:"recalc"`
	Reminders  []ReminderDecision `json:"reminders,omitempty"`
	Responses  ResponseSummary    `json:"responses"`
	Reconcile  ReconcileResult    `json:"reconcile"`
	Export     ExportResult       `json:"export"`
}

// Tracker is the facade over every pass of the SLA tracker.
type Tracker struct {
	Tickets   *TicketService
	ingest    *IngestService
	recalc    *RecalcService
	reminders *ReminderService
	responses *ResponseService
	reconcile *ReconcileService

	lookback time.Duration
	now      func() time.Time
	metrics  *observability.Metrics
	logger   *zap.Logger
}

// NewTracker wires all services over one set of dependencies.
func NewTracker(deps Dependencies) *Tracker {
	deps = deps.withDefaults()
	return &Tracker{
		Tickets:   NewTicketService(deps),
		ingest:    NewIngestService(deps),
		recalc:    NewRecalcService(deps),
		reminders: NewReminderService(deps),
		responses: NewResponseService(deps),
		reconcile: NewReconcileService(deps),
		lookback:  deps.Policy.DedupLookback(),
		now:       deps.Now,
		metrics:   deps.Metrics,
		logger:    deps.Logger,
	}
}

// DefaultSince is the start of the mail window when none is given.
func (t *Tracker) DefaultSince() time.Time {
	return t.now().Add(-t.lookback)
}

// RunIngest creates and extends tickets from mail received since since.
func (t *Tracker) RunIngest(ctx context.Context, since time.Time) (IngestSummary, error) {
	start := time.Now()
	summary, err := t.ingest.RunIngest(ctx, since)
	t.observe(PassIngest, start, err)
	t.metrics.RecordOutcome(PassIngest, "created", summary.Created)
	t.metrics.RecordOutcome(PassIngest, "follow_up", summary.FollowUps)
	t.metrics.RecordOutcome(PassIngest, "duplicate", summary.Duplicates)
	t.metrics.RecordOutcome(PassIngest, "skipped", summary.Skipped)
	return summary, err
}

// RecalcOpen re-evaluates every open ticket against the SLA.
func (t *Tracker) RecalcOpen(ctx context.Context) (RecalcSummary, error) {
	start := time.Now()
	summary, err := t.recalc.RecalcOpen(ctx)
	t.observe(PassRecalc, start, err)
	t.metrics.RecordOutcome(PassRecalc, "overdue", summary.Overdue)
	t.metrics.RecordOutcome(PassRecalc, "recovered", summary.Recovered)
	t.metrics.RecordOutcome(PassRecalc, "escalation", summary.Escalations)
	t.metrics.RecordOutcome(PassRecalc, "conflict", summary.Conflicts)
	t.metrics.RecordOutcome(PassRecalc, "failed", summary.Failed)
	return summary, err
}

// SendOverdue sends or previews reminders for overdue tickets.
func (t *Tracker) SendOverdue(ctx context.Context) ([]ReminderDecision, error) {
	start := time.Now()
	decisions, err := t.reminders.SendOverdue(ctx)
	t.observe(PassReminders, start, err)
	counts := map[string]int{}
	for _, d := range decisions {
		key := string(d.Kind)
		if d.Kind == DecisionSkip {
			key += "_" + string(d.Reason)
		}
		counts[key]++
	}
	for outcome, n := range counts {
		t.metrics.RecordOutcome(PassReminders, outcome, n)
	}
	return decisions, err
}

// ProcessResponses applies replies to reminders received since since.
func (t *Tracker) ProcessResponses(ctx context.Context, since time.Time) (ResponseSummary, error) {
	start := time.Now()
	summary, err := t.responses.ProcessResponses(ctx, since)
	t.observe(PassResponses, start, err)
	t.metrics.RecordOutcome(PassResponses, string(OutcomeApplied), summary.Applied)
	t.metrics.RecordOutcome(PassResponses, string(OutcomeCommentOnly), summary.CommentOnly)
	t.metrics.RecordOutcome(PassResponses, string(OutcomeIgnored), summary.Ignored)
	t.metrics.RecordOutcome(PassResponses, string(OutcomeRejected), summary.Rejected)
	t.metrics.RecordOutcome(PassResponses, "duplicate", summary.Duplicates)
	return summary, err
}

// Reconcile applies a spreadsheet snapshot to the store.
func (t *Tracker) Reconcile(ctx context.Context, rows []domain.SnapshotRow) (ReconcileResult, error) {
	start := time.Now()
	result, err := t.reconcile.Reconcile(ctx, rows)
	t.observe(PassReconcile, start, err)
	t.recordReconcile(result)
	return result, err
}

// SyncFromSpreadsheet loads the workbook and reconciles it.
func (t *Tracker) SyncFromSpreadsheet(ctx context.Context) (ReconcileResult, error) {
	start := time.Now()
	result, err := t.reconcile.SyncFromSpreadsheet(ctx)
	t.observe(PassReconcile, start, err)
	t.recordReconcile(result)
	return result, err
}

// ExportSnapshot writes the store to the workbook.
func (t *Tracker) ExportSnapshot(ctx context.Context) (ExportResult, error) {
	start := time.Now()
	result, err := t.reconcile.ExportSnapshot(ctx)
	t.observe(PassExport, start, err)
	if err == nil && result.Pending {
		t.metrics.RecordOutcome(PassExport, "pending", 1)
	} else if err == nil {
		t.metrics.RecordOutcome(PassExport, "saved", 1)
	}
	return result, err
}

// RunCycle runs ingest, recalc, reminders, responses, spreadsheet sync and
// export in that order. A failing stage does not stop the later ones; all
// stage errors are joined.
func (t *Tracker) RunCycle(ctx context.Context, since time.Time) (CycleReport, error) {
	if since.IsZero() {
		since = t.DefaultSince()
	}
	report := CycleReport{StartedAt: t.now()}
	var errs []error
	stage := func(err error) bool {
		if err != nil {
			errs = append(errs, err)
		}
		return ctx.Err() == nil
	}

	var err error
	report.Ingest, err = t.RunIngest(ctx, since)
	if stage(err) {
		report.Recalc, err = t.RecalcOpen(ctx)
	}
	if stage(err) {
		report.Reminders, err = t.SendOverdue(ctx)
	}
	if stage(err) {
		report.Responses, err = t.ProcessResponses(ctx, since)
	}
	if stage(err) {
		report.Reconcile, err = t.SyncFromSpreadsheet(ctx)
	}
	if stage(err) {
		report.Export, err = t.ExportSnapshot(ctx)
		stage(err)
	}
	if ctx.Err() != nil {
		errs = append(errs, ctx.Err())
	}
	report.FinishedAt = t.now()
	return report, errors.Join(errs...)
}

func (t *Tracker) observe(pass string, start time.Time, err error) {
	elapsed := time.Since(start)
	t.metrics.ObservePass(pass, elapsed)
	if err != nil {
		t.metrics.RecordOutcome(pass, "error", 1)
		t.logger.Error("pass failed", zap.String("pass", pass), zap.Duration("elapsed", elapsed), zap.Error(err))
		return
	}
	t.logger.Debug("pass finished", zap.String("pass", pass), zap.Duration("elapsed", elapsed))
}

func (t *Tracker) recordReconcile(result ReconcileResult) {
	t.metrics.RecordOutcome(PassReconcile, "applied", result.Applied)
	t.metrics.RecordOutcome(PassReconcile, "unchanged", result.Unchanged)
	for _, c := range result.Conflicts {
		t.metrics.RecordOutcome(PassReconcile, string(c.Kind), 1)
	}
}
