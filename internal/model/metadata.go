package model

import "time"

// SeriesMetadata summarises what the store already holds for one series.
// It is derived fresh on every sync pass and never cached.
type SeriesMetadata struct {
	Symbol      string
	Interval    Interval
	RecordCount int
	Earliest    time.Time
	Latest      time.Time
	LastUpdated time.Time // most recent updated_at, zero if unknown
	Checksum    int64     // order-independent hash over (ts, close, volume)
}

// Contains reports whether [from, to] lies inside the stored range.
func (m *SeriesMetadata) Contains(from, to time.Time) bool {
	return !from.Before(m.Earliest) && !to.After(m.Latest)
}
