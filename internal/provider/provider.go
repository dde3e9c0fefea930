// Package provider fetches bar series from external market-data sources.
package provider

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"ohlcv-syncv1/internal/breaker"
	"ohlcv-syncv1/internal/model"
)

// ErrUnavailable marks a fetch that produced no usable data this cycle.
var ErrUnavailable = errors.New("provider unavailable")

// Intraday lookback caps imposed by the chart API.
const (
	maxMinuteLookback = 60 * 24 * time.Hour
	maxHourlyLookback = 730 * 24 * time.Hour
)

// Window converts a lookback period ("7d", "1mo", "2y", "ytd", "max") into
// an absolute [start, end] ending at now, capped for intraday intervals.
// Unparseable periods fall back to the interval's default period.
func Window(period string, iv model.Interval, now time.Time) (start, end time.Time) {
	end = now.UTC()
	start, ok := periodStart(strings.ToLower(strings.TrimSpace(period)), end)
	if !ok {
		start, _ = periodStart(iv.DefaultPeriod(), end)
	}

	switch iv {
	case model.Interval1m, model.Interval5m, model.Interval15m, model.Interval30m:
		if floor := end.Add(-maxMinuteLookback); start.Before(floor) {
			start = floor
		}
	case model.Interval1h:
		if floor := end.Add(-maxHourlyLookback); start.Before(floor) {
			start = floor
		}
	}
	return start, end
}

func periodStart(period string, end time.Time) (time.Time, bool) {
	switch period {
	case "max":
		return time.Date(1970, 1, 2, 0, 0, 0, 0, time.UTC), true
	case "ytd":
		return time.Date(end.Year(), 1, 1, 0, 0, 0, 0, time.UTC), true
	}

	unit := ""
	for _, u := range []string{"mo", "wk", "d", "y"} {
		if strings.HasSuffix(period, u) {
			unit = u
			break
		}
	}
	if unit == "" {
		return time.Time{}, false
	}
	n, err := strconv.Atoi(strings.TrimSuffix(period, unit))
	if err != nil || n <= 0 {
		return time.Time{}, false
	}

	switch unit {
	case "d":
		return end.AddDate(0, 0, -n), true
	case "wk":
		return end.AddDate(0, 0, -7*n), true
	case "mo":
		return end.AddDate(0, -n, 0), true
	default:
		return end.AddDate(-n, 0, 0), true
	}
}

// Guarded wraps a provider with a circuit breaker and a per-call timeout,
// normalises the returned series and maps every failure to ErrUnavailable.
type Guarded struct {
	inner   model.BarProvider
	cb      *breaker.Breaker
	timeout time.Duration
}

// Guard returns a Guarded provider. A zero timeout means no extra deadline.
func Guard(inner model.BarProvider, cb *breaker.Breaker, timeout time.Duration) *Guarded {
	return &Guarded{inner: inner, cb: cb, timeout: timeout}
}

// Fetch implements model.BarProvider.
func (g *Guarded) Fetch(ctx context.Context, key model.SeriesKey, period string) ([]model.Bar, error) {
	var bars []model.Bar
	err := g.cb.Do(ctx, func(ctx context.Context) error {
		if g.timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, g.timeout)
			defer cancel()
		}
		b, err := g.inner.Fetch(ctx, key, period)
		bars = b
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrUnavailable, key, err)
	}

	bars = model.NormalizeBars(bars)
	if len(bars) == 0 {
		return nil, fmt.Errorf("%w: %s: empty response", ErrUnavailable, key)
	}
	return bars, nil
}
