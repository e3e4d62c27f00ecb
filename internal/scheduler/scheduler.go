// Package scheduler runs the proactive daily usage reset.
//
// The reset is an optimization: the quota gate also resets lazily on first
// use each day, and both paths are idempotent, so a missed or duplicated run
// is harmless.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/aiox-platform/personachat/internal/config"
	"github.com/aiox-platform/personachat/internal/metrics"
	inats "github.com/aiox-platform/personachat/internal/nats"
	"github.com/aiox-platform/personachat/internal/usage"
)

// jobTimeout bounds one reset run.
const jobTimeout = 5 * time.Minute

// Resetter zeroes stale daily counters.
type Resetter interface {
	ResetAll(ctx context.Context) (int64, error)
}

// ResetPublisher announces completed resets.
type ResetPublisher interface {
	PublishUsageReset(ctx context.Context, event inats.UsageResetEvent) error
}

type Scheduler struct {
	cron      *cron.Cron
	resetter  Resetter
	publisher ResetPublisher
	now       func() time.Time
}

// New registers the reset job on cfg.ResetCron, evaluated in UTC.
// publisher may be nil.
func New(cfg config.SchedulerConfig, resetter Resetter, publisher ResetPublisher) (*Scheduler, error) {
	s := &Scheduler{
		cron:      cron.New(cron.WithLocation(time.UTC)),
		resetter:  resetter,
		publisher: publisher,
		now:       time.Now,
	}
	if _, err := s.cron.AddFunc(cfg.ResetCron, func() { s.RunOnce(context.Background()) }); err != nil {
		return nil, fmt.Errorf("scheduling usage reset %q: %w", cfg.ResetCron, err)
	}
	return s, nil
}

// Run starts the cron loop and blocks until ctx is done, then waits for a
// running job to finish.
func (s *Scheduler) Run(ctx context.Context) error {
	s.cron.Start()
	slog.Info("scheduler started", "next_reset", s.cron.Entries()[0].Next)

	<-ctx.Done()
	<-s.cron.Stop().Done()
	slog.Info("scheduler stopped")
	return nil
}

// RunOnce performs one reset. Errors are logged; the next run retries.
func (s *Scheduler) RunOnce(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, jobTimeout)
	defer cancel()

	n, err := s.resetter.ResetAll(ctx)
	if err != nil {
		slog.Error("scheduler: daily usage reset failed", "error", err)
		return
	}
	metrics.DailyResetsTotal.Add(float64(n))
	slog.Info("scheduler: daily usage reset", "rows", n)

	if s.publisher == nil {
		return
	}
	now := s.now().UTC()
	if err := s.publisher.PublishUsageReset(ctx, inats.UsageResetEvent{
		RowsReset: n,
		DayStart:  usage.DayStart(now),
		Timestamp: now,
	}); err != nil {
		slog.Warn("scheduler: failed to publish reset event", "error", err)
	}
}
