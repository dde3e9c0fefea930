package model

import (
	"context"
	"time"
)

// ── Ports ──
// These interfaces decouple the sync pipeline from the concrete provider,
// store and publisher implementations.

// BarProvider fetches a recent window of bars from an external source.
type BarProvider interface {
	// Fetch returns bars for the series over the given lookback period
	// (e.g. "1y", "7d"). An error means no new data this cycle.
	Fetch(ctx context.Context, key SeriesKey, period string) ([]Bar, error)
}

// MetadataProber summarises a stored series.
type MetadataProber interface {
	// Probe returns nil, nil when the series has no stored rows.
	Probe(ctx context.Context, key SeriesKey) (*SeriesMetadata, error)
}

// BarReader reads stored bars back for comparison and recompute.
type BarReader interface {
	// ReadBarsAt returns the stored bars at the given timestamps, keyed by
	// unix seconds. Timestamps with no stored row are absent from the map.
	ReadBarsAt(ctx context.Context, key SeriesKey, ts []time.Time) (map[int64]Bar, error)

	// ReadTrailing returns the last n stored bars in ascending order.
	ReadTrailing(ctx context.Context, key SeriesKey, n int) ([]Bar, error)
}

// RangeReader reads stored history for indicator recompute.
type RangeReader interface {
	// ReadRange returns bars with from <= ts <= to in ascending order.
	ReadRange(ctx context.Context, key SeriesKey, from, to time.Time) ([]Bar, error)

	// ReadBefore returns up to n bars strictly before ts in ascending order.
	ReadBefore(ctx context.Context, key SeriesKey, ts time.Time, n int) ([]Bar, error)
}

// BarUpserter applies a change decision to the store.
type BarUpserter interface {
	Apply(ctx context.Context, key SeriesKey, d ChangeDecision) (ApplyResult, error)
}

// IndicatorWriter persists derived indicator values and pattern signals.
type IndicatorWriter interface {
	// WriteIndicators updates existing bar rows and returns how many were touched.
	WriteIndicators(ctx context.Context, key SeriesKey, rows []IndicatorRow) (int, error)
}

// ReportPublisher announces finished sync passes to downstream consumers.
type ReportPublisher interface {
	PublishReport(ctx context.Context, r SyncReport) error
}
