package model

import (
	"sort"
	"time"
)

// Bar is one OHLCV period for a single instrument. Identity is
// (symbol, interval, TS); the symbol and interval live on SeriesKey.
type Bar struct {
	TS     time.Time `json:"ts"` // period start, UTC
	Open   float64   `json:"open"`
	High   float64   `json:"high"`
	Low    float64   `json:"low"`
	Close  float64   `json:"close"`
	Volume int64     `json:"volume"`
}

// Unix returns the bar timestamp in whole seconds, the store's key resolution.
func (b Bar) Unix() int64 { return b.TS.Unix() }

// SeriesKey addresses one stored series.
type SeriesKey struct {
	Market   Market   `json:"market"`
	Interval Interval `json:"interval"`
	Symbol   string   `json:"symbol"`
}

// String returns "market:interval:symbol".
func (k SeriesKey) String() string {
	return string(k.Market) + ":" + string(k.Interval) + ":" + k.Symbol
}

// Table returns the physical table holding this series.
func (k SeriesKey) Table() string {
	return TableName(k.Market, k.Interval)
}

// NormalizeBars sorts bars by timestamp, truncates timestamps to whole
// seconds in UTC and keeps the last occurrence of any duplicated timestamp.
// The input slice is not modified.
func NormalizeBars(bars []Bar) []Bar {
	if len(bars) == 0 {
		return nil
	}
	out := make([]Bar, len(bars))
	for i, b := range bars {
		b.TS = time.Unix(b.TS.Unix(), 0).UTC()
		out[i] = b
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].TS.Before(out[j].TS) })

	dedup := out[:0]
	for _, b := range out {
		if n := len(dedup); n > 0 && dedup[n-1].TS.Equal(b.TS) {
			dedup[n-1] = b
			continue
		}
		dedup = append(dedup, b)
	}
	return dedup
}

// Span returns the first and last timestamps of a sorted series.
// ok is false for an empty series.
func Span(bars []Bar) (earliest, latest time.Time, ok bool) {
	if len(bars) == 0 {
		return time.Time{}, time.Time{}, false
	}
	return bars[0].TS, bars[len(bars)-1].TS, true
}

// Columns splits a series into the parallel arrays indicator routines consume.
func Columns(bars []Bar) (open, high, low, close, volume []float64) {
	n := len(bars)
	open = make([]float64, n)
	high = make([]float64, n)
	low = make([]float64, n)
	close = make([]float64, n)
	volume = make([]float64, n)
	for i, b := range bars {
		open[i] = b.Open
		high[i] = b.High
		low[i] = b.Low
		close[i] = b.Close
		volume[i] = float64(b.Volume)
	}
	return open, high, low, close, volume
}
