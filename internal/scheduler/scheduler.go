// Package scheduler drives periodic sync passes from a cron spec, skipping
// intraday series whose market is closed.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"ohlcv-syncv1/internal/logger"
	"ohlcv-syncv1/internal/markethours"
	"ohlcv-syncv1/internal/metrics"
	"ohlcv-syncv1/internal/model"
	"ohlcv-syncv1/internal/notification"

	"github.com/robfig/cron/v3"
)

// Syncer runs one sync pass over a set of series.
type Syncer interface {
	SyncAll(ctx context.Context, keys []model.SeriesKey) ([]model.SyncReport, error)
}

// Scheduler manages the sync cron job.
type Scheduler struct {
	cron   *cron.Cron
	syncer Syncer
	keys   []model.SeriesKey
	prom   *metrics.Metrics      // may be nil
	health *metrics.HealthStatus // may be nil
	notify notification.Notifier // may be nil
	log    *slog.Logger
	now    func() time.Time
	ctx    context.Context
}

// New creates a Scheduler over keys. Overlapping firings are skipped while
// a pass is still running.
func New(ctx context.Context, syncer Syncer, keys []model.SeriesKey, prom *metrics.Metrics, health *metrics.HealthStatus, log *slog.Logger) *Scheduler {
	if log == nil {
		log = slog.Default()
	}
	log = log.With(slog.String("component", "scheduler"))
	return &Scheduler{
		cron:   cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DefaultLogger))),
		syncer: syncer,
		keys:   keys,
		prom:   prom,
		health: health,
		log:    log,
		now:    time.Now,
		ctx:    ctx,
	}
}

// SetNotifier routes failed-pass alerts to n.
func (s *Scheduler) SetNotifier(n notification.Notifier) { s.notify = n }

// Register adds the sync pass under a standard five-field cron spec.
func (s *Scheduler) Register(spec string) error {
	if _, err := s.cron.AddFunc(spec, s.RunNow); err != nil {
		return fmt.Errorf("register sync task %q: %w", spec, err)
	}
	return nil
}

// Start starts the cron scheduler.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.log.Info("scheduler started", "series", len(s.keys))
}

// Stop stops the scheduler and waits for a running pass to finish or ctx
// to expire.
func (s *Scheduler) Stop(ctx context.Context) {
	select {
	case <-s.cron.Stop().Done():
	case <-ctx.Done():
	}
	s.log.Info("scheduler stopped")
}

// Due returns the series worth syncing at t and refreshes the market
// session gauges.
func (s *Scheduler) Due(t time.Time) []model.SeriesKey {
	seen := make(map[model.Market]bool)
	due := make([]model.SeriesKey, 0, len(s.keys))
	for _, k := range s.keys {
		if !seen[k.Market] {
			seen[k.Market] = true
			if s.prom != nil {
				s.prom.SetMarketOpen(k.Market, markethours.IsMarketOpen(k.Market, t))
			}
		}
		if markethours.ShouldSync(k.Market, k.Interval, t) {
			due = append(due, k)
		}
	}
	return due
}

// RunNow executes one pass immediately.
func (s *Scheduler) RunNow() {
	now := s.now()
	keys := s.Due(now)
	if len(keys) == 0 {
		s.log.Debug("nothing due", "series", len(s.keys))
		return
	}

	ctx := logger.WithRunID(s.ctx, logger.NewRunID())
	s.log.Info("sync pass starting", append(logger.LogWithRun(ctx), "due", len(keys), "series", len(s.keys))...)

	reports, err := s.syncer.SyncAll(ctx, keys)
	if s.health != nil {
		s.health.RecordSync(s.now(), err)
	}
	if err != nil {
		s.log.Warn("sync pass finished with errors", append(logger.LogWithRun(ctx), "reports", len(reports), "err", err)...)
	}

	if s.notify == nil {
		return
	}
	if alert, ok := notification.RunAlert(logger.RunID(ctx), reports); ok {
		sendCtx, cancel := context.WithTimeout(s.ctx, 15*time.Second)
		defer cancel()
		if err := s.notify.Send(sendCtx, alert); err != nil {
			s.log.Warn("alert delivery failed", append(logger.LogWithRun(ctx), "err", err)...)
		}
	}
}
