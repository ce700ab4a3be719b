package worker

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/ShapArt/outlook-exporter/internal/service"
)

// CycleRunner runs one full tracker cycle.
type CycleRunner interface {
	RunCycle(ctx context.Context, since time.Time) (service.CycleReport, error)
}

// Scheduler runs the cycle on a fixed interval. With a nil lease every tick
// runs; otherwise a tick whose lease is held elsewhere is skipped.
type Scheduler struct {
	runner   CycleRunner
	lease    Lease
	interval time.Duration
	logger   *zap.Logger
}

// NewScheduler constructs a scheduler.
func NewScheduler(runner CycleRunner, lease Lease, interval time.Duration, logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &Scheduler{runner: runner, lease: lease, interval: interval, logger: logger}
}

// Run ticks until ctx is cancelled. The first cycle starts immediately.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info("scheduler started", zap.Duration("interval", s.interval))
	for {
		if _, err := s.RunOnce(ctx); err != nil {
			s.logger.Warn("cycle finished with errors", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler stopped")
			return
		case <-ticker.C:
		}
	}
}

// RunOnce runs a single cycle if the lease allows it and reports whether it
// ran.
func (s *Scheduler) RunOnce(ctx context.Context) (bool, error) {
	if s.lease != nil {
		ok, err := s.lease.Acquire(ctx)
		if err != nil {
			return false, err
		}
		if !ok {
			s.logger.Debug("cycle lease held elsewhere, skipping tick")
			return false, nil
		}
		defer func() {
			if err := s.lease.Release(context.WithoutCancel(ctx)); err != nil {
				s.logger.Warn("unable to release cycle lease", zap.Error(err))
			}
		}()
	}

	report, err := s.runner.RunCycle(ctx, time.Time{})
	s.logger.Info("cycle complete",
		zap.Duration("duration", report.FinishedAt.Sub(report.StartedAt)),
		zap.Int("created", report.Ingest.Created),
		zap.Int("overdue", report.Recalc.Overdue),
		zap.Int("reminders", len(report.Reminders)),
		zap.Int("responses_applied", report.Responses.Applied),
		zap.Int("excel_conflicts", len(report.Reconcile.Conflicts)),
	)
	return true, err
}
