// Package pattern classifies candlestick formations from bar shape ratios.
package pattern

import (
	"math"
	"strings"

	"ohlcv-syncv1/internal/model"
)

// Signal names written into the pattern_signals column.
const (
	Doji             = "doji"
	DragonflyDoji    = "dragonfly_doji"
	GravestoneDoji   = "gravestone_doji"
	BullishMarubozu  = "bullish_marubozu"
	BearishMarubozu  = "bearish_marubozu"
	Hammer           = "hammer"
	ShootingStar     = "shooting_star"
	BullishEngulfing = "bullish_engulfing"
	BearishEngulfing = "bearish_engulfing"
	BullishHarami    = "bullish_harami"
	BearishHarami    = "bearish_harami"
	MorningStar      = "morning_star"
	EveningStar      = "evening_star"
)

const (
	dojiBodyMax     = 0.1
	smallBodyMax    = 0.3
	longBodyMin     = 0.6
	marubozuBodyMin = 0.9
	longWickMin     = 0.6
	shortWickMax    = 0.1
)

// shape holds a candle's body and wick sizes as fractions of its range.
type shape struct {
	body, upper, lower float64
	bull, bear         bool
	top, bottom        float64
	ok                 bool
}

func measure(b model.Bar) shape {
	s := shape{
		bull:   b.Close > b.Open,
		bear:   b.Close < b.Open,
		top:    math.Max(b.Open, b.Close),
		bottom: math.Min(b.Open, b.Close),
	}
	rng := b.High - b.Low
	if rng <= 0 || math.IsNaN(rng) {
		return s
	}
	s.body = (s.top - s.bottom) / rng
	s.upper = (b.High - s.top) / rng
	s.lower = (s.bottom - b.Low) / rng
	s.ok = true
	return s
}

// Detect returns one comma-joined signal string per bar, empty when no
// formation ends on that bar. Multi-bar formations are reported on their
// last bar.
func Detect(bars []model.Bar) []string {
	out := make([]string, len(bars))
	shapes := make([]shape, len(bars))
	for i, b := range bars {
		shapes[i] = measure(b)
	}

	var sigs []string
	for i := range bars {
		sigs = sigs[:0]
		cur := shapes[i]
		if !cur.ok {
			continue
		}

		if cur.body <= dojiBodyMax {
			sigs = append(sigs, Doji)
			switch {
			case cur.upper <= shortWickMax && cur.lower >= longWickMin:
				sigs = append(sigs, DragonflyDoji)
			case cur.lower <= shortWickMax && cur.upper >= longWickMin:
				sigs = append(sigs, GravestoneDoji)
			}
		}
		if cur.body >= marubozuBodyMin {
			if cur.bull {
				sigs = append(sigs, BullishMarubozu)
			} else if cur.bear {
				sigs = append(sigs, BearishMarubozu)
			}
		}

		if i >= 1 && shapes[i-1].ok {
			prev, pb := shapes[i-1], bars[i-1]
			if cur.body > dojiBodyMax && cur.body <= smallBodyMax {
				// Hammer after a decline, shooting star after an advance.
				if cur.lower >= longWickMin && cur.upper <= shortWickMax && pb.Close > cur.top {
					sigs = append(sigs, Hammer)
				}
				if cur.upper >= longWickMin && cur.lower <= shortWickMax && pb.Close < cur.bottom {
					sigs = append(sigs, ShootingStar)
				}
			}
			if engulfs(cur, prev) {
				if prev.bear && cur.bull {
					sigs = append(sigs, BullishEngulfing)
				} else if prev.bull && cur.bear {
					sigs = append(sigs, BearishEngulfing)
				}
			}
			if prev.body >= longBodyMin && engulfs(prev, cur) {
				if prev.bear && cur.bull {
					sigs = append(sigs, BullishHarami)
				} else if prev.bull && cur.bear {
					sigs = append(sigs, BearishHarami)
				}
			}
		}

		if i >= 2 && shapes[i-2].ok && shapes[i-1].ok {
			first, star := shapes[i-2], shapes[i-1]
			mid := (first.top + first.bottom) / 2
			if first.body >= longBodyMin && star.body <= smallBodyMax {
				if first.bear && cur.bull && star.top < first.bottom && bars[i].Close > mid {
					sigs = append(sigs, MorningStar)
				}
				if first.bull && cur.bear && star.bottom > first.top && bars[i].Close < mid {
					sigs = append(sigs, EveningStar)
				}
			}
		}

		out[i] = strings.Join(sigs, ",")
	}
	return out
}

// engulfs reports whether outer's real body strictly contains inner's.
func engulfs(outer, inner shape) bool {
	if outer.top-outer.bottom <= inner.top-inner.bottom {
		return false
	}
	return outer.top >= inner.top && outer.bottom <= inner.bottom
}
