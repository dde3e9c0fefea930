// Package markethours knows when each market trades, so intraday syncs
// can be skipped while a market is closed.
package markethours

import (
	"fmt"
	"time"
	_ "time/tzdata" // embedded zone database for containers without /usr/share/zoneinfo

	"ohlcv-syncv1/internal/model"
)

// Session describes one market's regular trading window in its local zone.
type Session struct {
	Loc        *time.Location
	Open       int // minutes after local midnight
	Close      int
	AlwaysOpen bool // crypto trades around the clock
	Weekdays   bool // forex and futures: every minute Mon-Fri
}

var (
	taipei  = mustLoad("Asia/Taipei")
	newYork = mustLoad("America/New_York")
)

func mustLoad(name string) *time.Location {
	loc, err := time.LoadLocation(name)
	if err != nil {
		panic(fmt.Sprintf("markethours: load %s: %v", name, err))
	}
	return loc
}

var sessions = map[model.Market]Session{
	model.MarketTW:      {Loc: taipei, Open: 9 * 60, Close: 13*60 + 30},
	model.MarketUS:      {Loc: newYork, Open: 9*60 + 30, Close: 16 * 60},
	model.MarketETF:     {Loc: newYork, Open: 9*60 + 30, Close: 16 * 60},
	model.MarketIndex:   {Loc: newYork, Open: 9*60 + 30, Close: 16 * 60},
	model.MarketForex:   {Loc: time.UTC, Weekdays: true},
	model.MarketFutures: {Loc: time.UTC, Weekdays: true},
	model.MarketCrypto:  {Loc: time.UTC, AlwaysOpen: true},
}

// CloseGrace is how long after the close intraday syncs keep running to
// pick up the final bars of the session.
const CloseGrace = 30 * time.Minute

// SessionFor returns the trading session of a market. Unknown markets get
// the Taiwan session, matching model.ParseMarket's fallback.
func SessionFor(m model.Market) Session {
	if s, ok := sessions[m]; ok {
		return s
	}
	return sessions[model.MarketTW]
}

// IsTradingDay returns true if t is a weekday in the market's zone.
func IsTradingDay(m model.Market, t time.Time) bool {
	s := SessionFor(m)
	if s.AlwaysOpen {
		return true
	}
	wd := t.In(s.Loc).Weekday()
	return wd >= time.Monday && wd <= time.Friday
}

// IsMarketOpen returns true if t falls within the market's regular session.
func IsMarketOpen(m model.Market, t time.Time) bool {
	s := SessionFor(m)
	switch {
	case s.AlwaysOpen:
		return true
	case !IsTradingDay(m, t):
		return false
	case s.Weekdays:
		return true
	}
	local := t.In(s.Loc)
	hm := local.Hour()*60 + local.Minute()
	return hm >= s.Open && hm < s.Close
}

// NextOpen returns the next session open at or after t. For markets that
// are open now it returns t.
func NextOpen(m model.Market, t time.Time) time.Time {
	if IsMarketOpen(m, t) {
		return t
	}
	s := SessionFor(m)
	local := t.In(s.Loc)

	todayOpen := time.Date(local.Year(), local.Month(), local.Day(), s.Open/60, s.Open%60, 0, 0, s.Loc)
	if local.Before(todayOpen) && IsTradingDay(m, local) {
		return todayOpen
	}

	d := local
	for i := 0; i < 7; i++ {
		d = d.AddDate(0, 0, 1)
		if IsTradingDay(m, d) {
			return time.Date(d.Year(), d.Month(), d.Day(), s.Open/60, s.Open%60, 0, 0, s.Loc)
		}
	}
	// Unreachable: every week has a weekday.
	return todayOpen.AddDate(0, 0, 1)
}

// TodayClose returns the session close on t's local date. The zero time is
// returned for markets without a daily close.
func TodayClose(m model.Market, t time.Time) time.Time {
	s := SessionFor(m)
	if s.AlwaysOpen || s.Weekdays {
		return time.Time{}
	}
	local := t.In(s.Loc)
	return time.Date(local.Year(), local.Month(), local.Day(), s.Close/60, s.Close%60, 0, 0, s.Loc)
}

// TimeUntilClose returns the duration until today's close, 0 if the market
// is already closed or has no daily close.
func TimeUntilClose(m model.Market, t time.Time) time.Duration {
	if !IsMarketOpen(m, t) {
		return 0
	}
	cl := TodayClose(m, t)
	if cl.IsZero() {
		return 0
	}
	return cl.Sub(t)
}

// ShouldSync reports whether a series is worth fetching at t. Daily and
// coarser intervals always sync; intraday ones only while the market is
// open or within CloseGrace of today's close.
func ShouldSync(m model.Market, iv model.Interval, t time.Time) bool {
	if !iv.Intraday() || IsMarketOpen(m, t) {
		return true
	}
	if !IsTradingDay(m, t) {
		return false
	}
	cl := TodayClose(m, t)
	return !cl.IsZero() && !t.Before(cl) && t.Sub(cl) < CloseGrace
}

// StatusString returns a human-readable market status.
func StatusString(m model.Market, t time.Time) string {
	s := SessionFor(m)
	if s.AlwaysOpen {
		return fmt.Sprintf("%s: open 24/7", m)
	}
	if IsMarketOpen(m, t) {
		if d := TimeUntilClose(m, t); d > 0 {
			return fmt.Sprintf("%s: open, closes in %s", m, fmtDur(d))
		}
		return fmt.Sprintf("%s: open", m)
	}
	next := NextOpen(m, t)
	local := next.In(s.Loc)
	return fmt.Sprintf("%s: closed, opens %s %s (%s)",
		m, local.Weekday().String()[:3], local.Format("15:04"), fmtDur(next.Sub(t)))
}

func fmtDur(d time.Duration) string {
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	if h > 0 {
		return fmt.Sprintf("%dh%dm", h, m)
	}
	return fmt.Sprintf("%dm", m)
}
