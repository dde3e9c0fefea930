// Package reconcile classifies a freshly fetched bar series against what the
// store already holds and decides which bars need to be written.
//
// Tiers are evaluated cheapest first and the first match wins:
//
//  1. no stored metadata        -> InsertAll
//  2. fetched range extends it  -> Incremental (new bars only)
//  3. same span, same count     -> checksum compare, Skip on match
//  4. bounded field-level diff  -> UpdateChanged (flagged bars only)
//  5. otherwise                 -> Skip
package reconcile

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"ohlcv-syncv1/internal/compare"
	"ohlcv-syncv1/internal/model"
)

const (
	DefaultRecentWindow   = 30 * 24 * time.Hour
	DefaultMaxCompareRows = 100
)

// Options tunes the bounded diff.
type Options struct {
	RecentWindow   time.Duration // overlap is trimmed to this span before its end
	MaxCompareRows int           // tier 4 is skipped above this many candidate rows
}

func (o Options) withDefaults() Options {
	if o.RecentWindow <= 0 {
		o.RecentWindow = DefaultRecentWindow
	}
	if o.MaxCompareRows <= 0 {
		o.MaxCompareRows = DefaultMaxCompareRows
	}
	return o
}

// Input is one detection request.
type Input struct {
	Key  model.SeriesKey
	Bars []model.Bar // sorted ascending, unique timestamps
	Meta *model.SeriesMetadata

	// ExpandHistory lets bars earlier than the stored range count as new.
	ExpandHistory bool
}

// Engine runs change detection. It holds no per-series state and is safe for
// concurrent use.
type Engine struct {
	reader model.BarReader
	policy *compare.Policy
	opts   Options
	log    *slog.Logger
}

// New creates an Engine. A nil logger uses slog.Default.
func New(reader model.BarReader, policy *compare.Policy, opts Options, log *slog.Logger) *Engine {
	if policy == nil {
		policy = compare.NewPolicy()
	}
	if log == nil {
		log = slog.Default()
	}
	return &Engine{
		reader: reader,
		policy: policy,
		opts:   opts.withDefaults(),
		log:    log.With(slog.String("component", "reconcile")),
	}
}

// Detect returns the change decision for in. It never fails: a store error
// during the bounded diff resolves to rewriting the whole compared window.
func (e *Engine) Detect(ctx context.Context, in Input) model.ChangeDecision {
	bars := in.Bars
	if len(bars) == 0 {
		return skip("no incoming bars")
	}

	// Tier 1: absence.
	if in.Meta == nil || in.Meta.RecordCount == 0 {
		return model.ChangeDecision{Mode: model.ModeInsertAll, Rows: bars, Reason: "new series"}
	}
	meta := in.Meta
	earliest, latest, _ := model.Span(bars)

	// Tier 2: range expansion.
	if (in.ExpandHistory && earliest.Before(meta.Earliest)) || latest.After(meta.Latest) {
		var before, after []model.Bar
		for _, b := range bars {
			switch {
			case in.ExpandHistory && b.TS.Before(meta.Earliest):
				before = append(before, b)
			case b.TS.After(meta.Latest):
				after = append(after, b)
			}
		}
		rows := append(before, after...)
		if len(rows) > 0 {
			return model.ChangeDecision{
				Mode:   model.ModeIncremental,
				Rows:   rows,
				Reason: fmt.Sprintf("range expansion: %d earlier, %d later", len(before), len(after)),
			}
		}
	}

	// Tier 3: cheap equality.
	if meta.Contains(earliest, latest) && len(bars) == meta.RecordCount {
		if model.BarChecksum(bars) == meta.Checksum {
			return skip("hash match, no change")
		}
	}

	// Tier 4: bounded field-level diff.
	if d, ok := e.boundedDiff(ctx, in.Key, bars, meta); ok {
		return d
	}

	return skip("no significant change detected within bounded check")
}

// boundedDiff compares the most recent part of the overlap with the store.
// ok is false when the tier does not apply or finds nothing.
func (e *Engine) boundedDiff(ctx context.Context, key model.SeriesKey, bars []model.Bar, meta *model.SeriesMetadata) (model.ChangeDecision, bool) {
	earliest, latest, _ := model.Span(bars)
	overlapStart := maxTime(earliest, meta.Earliest)
	overlapEnd := minTime(latest, meta.Latest)
	if overlapEnd.Before(overlapStart) {
		return model.ChangeDecision{}, false
	}
	if windowStart := overlapEnd.Add(-e.opts.RecentWindow); windowStart.After(overlapStart) {
		overlapStart = windowStart
	}

	var candidates []model.Bar
	for _, b := range bars {
		if b.TS.Before(overlapStart) || b.TS.After(overlapEnd) {
			continue
		}
		candidates = append(candidates, b)
	}
	if len(candidates) == 0 || len(candidates) > e.opts.MaxCompareRows {
		return model.ChangeDecision{}, false
	}

	ts := make([]time.Time, len(candidates))
	for i, b := range candidates {
		ts[i] = b.TS
	}
	stored, err := e.reader.ReadBarsAt(ctx, key, ts)
	if err != nil {
		e.log.Warn("bounded diff read failed, rewriting compared window",
			slog.String("series", key.String()),
			slog.Int("rows", len(candidates)),
			slog.String("error", err.Error()))
		return model.ChangeDecision{
			Mode:   model.ModeUpdateChanged,
			Rows:   candidates,
			Reason: fmt.Sprintf("store read failed, assuming %d overlap rows changed", len(candidates)),
		}, true
	}

	var changed []model.Bar
	var missing int
	for _, b := range candidates {
		s, ok := stored[b.Unix()]
		if !ok {
			missing++
			changed = append(changed, b)
			continue
		}
		if field, diff := e.policy.BarsDiffer(b, s); diff {
			e.log.Debug("bar changed",
				slog.String("series", key.String()),
				slog.Time("ts", b.TS),
				slog.String("field", field))
			changed = append(changed, b)
		}
	}
	if len(changed) == 0 {
		return model.ChangeDecision{}, false
	}

	return model.ChangeDecision{
		Mode:   model.ModeUpdateChanged,
		Rows:   changed,
		Reason: fmt.Sprintf("%d of %d recent bars changed (%d missing from store)", len(changed), len(candidates), missing),
	}, true
}

func skip(reason string) model.ChangeDecision {
	return model.ChangeDecision{Mode: model.ModeSkip, Reason: reason}
}

func maxTime(a, b time.Time) time.Time {
	if a.After(b) {
		return a
	}
	return b
}

func minTime(a, b time.Time) time.Time {
	if a.Before(b) {
		return a
	}
	return b
}
