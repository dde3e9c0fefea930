// Package ingest runs the per-series sync pipeline: fetch, detect changes,
// persist, then recompute indicators and candlestick signals.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"sync"
	"time"

	"ohlcv-syncv1/internal/compare"
	"ohlcv-syncv1/internal/indicator"
	"ohlcv-syncv1/internal/logger"
	"ohlcv-syncv1/internal/metrics"
	"ohlcv-syncv1/internal/model"
	"ohlcv-syncv1/internal/pattern"
	"ohlcv-syncv1/internal/reconcile"
)

// Bounds used to read a series' whole stored history.
var (
	historyStart = time.Date(1, 1, 1, 0, 0, 0, 0, time.UTC)
	historyEnd   = time.Date(9999, 12, 31, 0, 0, 0, 0, time.UTC)
)

// ErrInProgress is returned for a series another worker is already syncing.
var ErrInProgress = errors.New("series sync already in progress")

// Store is the persistence surface the pipeline needs.
type Store interface {
	model.MetadataProber
	model.BarReader
	model.RangeReader
	model.BarUpserter
	model.IndicatorWriter
}

// Options tunes the pipeline.
type Options struct {
	Workers         int    // concurrent series; callers bound this by store connections
	Period          string // provider lookback; empty uses the interval default
	ExpandHistory   bool
	IndicatorWindow int // minimum trailing bars recomputed after a write
	Reconcile       reconcile.Options
}

func (o Options) withDefaults() Options {
	if o.Workers <= 0 {
		o.Workers = 1
	}
	if o.IndicatorWindow <= 0 {
		o.IndicatorWindow = 300
	}
	return o
}

// Deps are the collaborators of a Service. Publisher and Metrics may be nil.
type Deps struct {
	Provider  model.BarProvider
	Store     Store
	Publisher model.ReportPublisher
	Metrics   *metrics.Metrics
	Logger    *slog.Logger
}

// Service syncs series from a provider into the store.
type Service struct {
	provider  model.BarProvider
	store     Store
	publisher model.ReportPublisher
	prom      *metrics.Metrics
	detector  *reconcile.Engine
	calc      *indicator.Calculator
	log       *slog.Logger
	opts      Options
	now       func() time.Time

	mu       sync.Mutex
	inFlight map[model.SeriesKey]struct{}
}

// New creates a Service.
func New(d Deps, opts Options) *Service {
	log := d.Logger
	if log == nil {
		log = slog.Default()
	}
	opts = opts.withDefaults()
	return &Service{
		provider:  d.Provider,
		store:     d.Store,
		publisher: d.Publisher,
		prom:      d.Metrics,
		detector:  reconcile.New(d.Store, compare.NewPolicy(), opts.Reconcile, log),
		calc:      indicator.NewCalculator(),
		log:       log.With(slog.String("component", "ingest")),
		opts:      opts,
		now:       time.Now,
		inFlight:  make(map[model.SeriesKey]struct{}),
	}
}

// SyncAll syncs every distinct key on a bounded worker pool under one run
// ID. Each key is handled end to end by a single worker. Reports come back
// in input order; the error joins every per-series failure.
func (s *Service) SyncAll(ctx context.Context, keys []model.SeriesKey) ([]model.SyncReport, error) {
	if logger.RunID(ctx) == "" {
		ctx = logger.WithRunID(ctx, logger.NewRunID())
	}
	start := time.Now()
	if s.prom != nil {
		s.prom.SyncRunsTotal.Inc()
	}

	unique := dedupe(keys)
	reports := make([]model.SyncReport, len(unique))
	errs := make([]error, len(unique))

	workers := s.opts.Workers
	if workers > len(unique) {
		workers = len(unique)
	}

	jobs := make(chan int)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				reports[i], errs[i] = s.SyncSymbol(ctx, unique[i])
			}
		}()
	}

feed:
	for i := range unique {
		select {
		case jobs <- i:
		case <-ctx.Done():
			for j := i; j < len(unique); j++ {
				reports[j] = s.newReport(ctx, unique[j])
				reports[j].Err = ctx.Err().Error()
				errs[j] = fmt.Errorf("%s: %w", unique[j], ctx.Err())
			}
			break feed
		}
	}
	close(jobs)
	wg.Wait()

	failed := 0
	for _, err := range errs {
		if err != nil {
			failed++
		}
	}
	s.log.Info("sync pass finished", append(logger.LogWithRun(ctx),
		"series", len(unique), "failed", failed, "workers", workers,
		"duration_ms", time.Since(start).Milliseconds())...)
	return reports, errors.Join(errs...)
}

// SyncSymbol runs one series through the pipeline. The returned report is
// filled in even when an error is returned.
func (s *Service) SyncSymbol(ctx context.Context, key model.SeriesKey) (model.SyncReport, error) {
	rep := s.newReport(ctx, key)
	if !s.acquire(key) {
		rep.Err = ErrInProgress.Error()
		return rep, fmt.Errorf("%s: %w", key, ErrInProgress)
	}
	defer s.release(key)

	if s.prom != nil {
		s.prom.WorkersInFlight.Inc()
		defer s.prom.WorkersInFlight.Dec()
	}

	err := s.run(ctx, key, &rep)
	rep.Duration = s.now().Sub(rep.At)
	if err != nil {
		rep.Err = err.Error()
	}

	attrs := append(logger.LogWithRun(ctx),
		"series", key.String(), "mode", rep.Mode, "reason", rep.Reason,
		"fetched", rep.Fetched, "inserted", rep.Result.Inserted, "updated", rep.Result.Updated,
		"failed", rep.Result.Failed, "fallback", rep.Result.Fallback,
		"indicator_rows", rep.IndicatorRows, "duration_ms", rep.Duration.Milliseconds())
	if err != nil {
		s.log.Warn("series sync failed", append(attrs, "err", err)...)
	} else {
		s.log.Info("series synced", attrs...)
	}

	if s.prom != nil {
		s.prom.ObserveReport(rep)
	}
	s.publish(ctx, rep)

	if err != nil {
		return rep, fmt.Errorf("%s: %w", key, err)
	}
	return rep, nil
}

func (s *Service) run(ctx context.Context, key model.SeriesKey, rep *model.SyncReport) error {
	period := s.opts.Period
	if period == "" {
		period = key.Interval.DefaultPeriod()
	}

	bars, err := s.provider.Fetch(ctx, key, period)
	if err != nil {
		s.countError("fetch")
		if s.prom != nil {
			s.prom.ProviderErrors.WithLabelValues(string(key.Market)).Inc()
		}
		return fmt.Errorf("fetch: %w", err)
	}
	bars = model.NormalizeBars(bars)
	rep.Fetched = len(bars)

	meta, err := s.store.Probe(ctx, key)
	if err != nil {
		// Without metadata every incoming bar is treated as new; the
		// upsert keeps that idempotent.
		s.countError("probe")
		s.log.Warn("metadata probe failed, treating series as new",
			append(logger.LogWithRun(ctx), "series", key.String(), "err", err)...)
		meta = nil
	}

	decision := s.detector.Detect(ctx, reconcile.Input{
		Key:           key,
		Bars:          bars,
		Meta:          meta,
		ExpandHistory: s.opts.ExpandHistory,
	})
	rep.Mode = decision.Mode.String()
	rep.Reason = decision.Reason

	applyStart := time.Now()
	res, err := s.store.Apply(ctx, key, decision)
	if s.prom != nil && decision.Mode != model.ModeSkip {
		s.prom.SQLiteApplyDur.Observe(time.Since(applyStart).Seconds())
	}
	rep.Result = res
	// Fetched bars the decision left out count as skipped, so the result
	// always sums to rep.Fetched.
	rep.Result.Skipped = len(bars) - len(decision.Rows)
	if err != nil {
		s.countError("apply")
		return fmt.Errorf("apply: %w", err)
	}
	if res.Written() == 0 {
		return nil
	}

	if err := s.recompute(ctx, key, earliest(decision.Rows), rep); err != nil {
		s.countError("indicators")
		return fmt.Errorf("indicators: %w", err)
	}
	return nil
}

// recompute refreshes indicator columns and pattern signals for every
// stored row at or after from.
func (s *Service) recompute(ctx context.Context, key model.SeriesKey, from time.Time, rep *model.SyncReport) error {
	bars, err := s.loadFrom(ctx, key, from)
	if err != nil {
		return err
	}
	return s.writeIndicators(ctx, key, bars, from, rep)
}

// loadFrom returns the stored bars from ts onward together with up to
// WarmupBars bars before it. The trailing window alone serves when it
// already reaches far enough back.
func (s *Service) loadFrom(ctx context.Context, key model.SeriesKey, ts time.Time) ([]model.Bar, error) {
	n := s.opts.IndicatorWindow
	trailing, err := s.store.ReadTrailing(ctx, key, n)
	if err != nil {
		return nil, err
	}
	idx := sort.Search(len(trailing), func(i int) bool { return !trailing[i].TS.Before(ts) })
	if idx >= indicator.WarmupBars || len(trailing) < n {
		return trailing, nil
	}

	warm, err := s.store.ReadBefore(ctx, key, ts, indicator.WarmupBars)
	if err != nil {
		return nil, err
	}
	rest, err := s.store.ReadRange(ctx, key, ts, historyEnd)
	if err != nil {
		return nil, err
	}
	return append(warm, rest...), nil
}

// writeIndicators computes the indicator set and pattern signals over bars
// and writes back the rows at or after from.
func (s *Service) writeIndicators(ctx context.Context, key model.SeriesKey, bars []model.Bar, from time.Time, rep *model.SyncReport) error {
	if len(bars) == 0 {
		return nil
	}
	start := time.Now()

	rows, err := s.calc.Compute(bars)
	if err != nil {
		return err
	}
	signals := pattern.Detect(bars)

	out := rows[:0]
	withSignals := 0
	for i, r := range rows {
		if r.TS.Before(from) {
			continue
		}
		r.Patterns = signals[i]
		if r.Patterns != "" {
			withSignals++
		}
		out = append(out, r)
	}

	updated, err := s.store.WriteIndicators(ctx, key, out)
	if err != nil {
		return err
	}
	rep.IndicatorRows = updated

	last := rows[len(rows)-1]
	rep.LatestTS = last.TS
	rep.Latest = make(map[string]float64, len(last.Values))
	for col, v := range last.Values {
		if !math.IsNaN(v) {
			rep.Latest[col] = v
		}
	}

	if s.prom != nil {
		s.prom.IndicatorDur.Observe(time.Since(start).Seconds())
		s.prom.PatternSignals.Add(float64(withSignals))
	}
	return nil
}

// Recompute rebuilds indicator columns and pattern signals for a stored
// series without fetching. With full set it covers the whole stored
// history; otherwise the last IndicatorWindow bars, warmed up from the bars
// before them. Rows left NULL by earlier runs are repaired this way.
func (s *Service) Recompute(ctx context.Context, key model.SeriesKey, full bool) (model.SyncReport, error) {
	rep := s.newReport(ctx, key)
	rep.Mode = "recompute"
	if !s.acquire(key) {
		rep.Err = ErrInProgress.Error()
		return rep, fmt.Errorf("%s: %w", key, ErrInProgress)
	}
	defer s.release(key)

	var bars []model.Bar
	var err error
	if full {
		rep.Reason = "full history"
		bars, err = s.store.ReadRange(ctx, key, historyStart, historyEnd)
	} else {
		rep.Reason = "trailing window"
		bars, err = s.store.ReadTrailing(ctx, key, s.opts.IndicatorWindow+indicator.WarmupBars)
	}
	if err == nil && len(bars) > 0 {
		from := bars[0].TS
		if !full && len(bars) > s.opts.IndicatorWindow {
			from = bars[len(bars)-s.opts.IndicatorWindow].TS
		}
		err = s.writeIndicators(ctx, key, bars, from, &rep)
	}
	rep.Duration = s.now().Sub(rep.At)

	if err != nil {
		s.countError("indicators")
		rep.Err = err.Error()
		s.log.Warn("series recompute failed",
			append(logger.LogWithRun(ctx), "series", key.String(), "full", full, "err", err)...)
		return rep, fmt.Errorf("%s: recompute: %w", key, err)
	}
	s.log.Info("series recomputed",
		append(logger.LogWithRun(ctx), "series", key.String(), "full", full,
			"bars", len(bars), "indicator_rows", rep.IndicatorRows)...)
	return rep, nil
}

func (s *Service) newReport(ctx context.Context, key model.SeriesKey) model.SyncReport {
	return model.SyncReport{RunID: logger.RunID(ctx), Key: key, At: s.now()}
}

func (s *Service) publish(ctx context.Context, rep model.SyncReport) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.PublishReport(ctx, rep); err != nil {
		s.countError("publish")
		s.log.Warn("report publish failed",
			append(logger.LogWithRun(ctx), "series", rep.Key.String(), "err", err)...)
	}
}

func (s *Service) countError(stage string) {
	if s.prom != nil {
		s.prom.SyncErrors.WithLabelValues(stage).Inc()
	}
}

func (s *Service) acquire(key model.SeriesKey) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, busy := s.inFlight[key]; busy {
		return false
	}
	s.inFlight[key] = struct{}{}
	return true
}

func (s *Service) release(key model.SeriesKey) {
	s.mu.Lock()
	delete(s.inFlight, key)
	s.mu.Unlock()
}

func earliest(bars []model.Bar) time.Time {
	first := bars[0].TS
	for _, b := range bars[1:] {
		if b.TS.Before(first) {
			first = b.TS
		}
	}
	return first
}

func dedupe(keys []model.SeriesKey) []model.SeriesKey {
	seen := make(map[model.SeriesKey]bool, len(keys))
	out := make([]model.SeriesKey, 0, len(keys))
	for _, k := range keys {
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, k)
	}
	return out
}
