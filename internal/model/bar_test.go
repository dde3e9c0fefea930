package model

import (
	"testing"
	"time"
)

func day(d int) time.Time {
	return time.Date(2024, 1, d, 0, 0, 0, 0, time.UTC)
}

func TestNormalizeBars_SortsAndDedups(t *testing.T) {
	in := []Bar{
		{TS: day(3), Close: 3},
		{TS: day(1), Close: 1},
		{TS: day(2), Close: 2},
		{TS: day(1).Add(400 * time.Millisecond), Close: 1.5}, // same second as day(1)
	}
	out := NormalizeBars(in)

	if len(out) != 3 {
		t.Fatalf("expected 3 bars, got %d", len(out))
	}
	for i, want := range []float64{1.5, 2, 3} {
		if out[i].Close != want {
			t.Errorf("bar %d: close=%v, want %v", i, out[i].Close, want)
		}
	}
	if in[0].Close != 3 {
		t.Error("input slice was modified")
	}
}

func TestNormalizeBars_Empty(t *testing.T) {
	if out := NormalizeBars(nil); out != nil {
		t.Errorf("expected nil, got %v", out)
	}
}

func TestSpan(t *testing.T) {
	if _, _, ok := Span(nil); ok {
		t.Error("expected ok=false for empty series")
	}
	e, l, ok := Span([]Bar{{TS: day(1)}, {TS: day(5)}})
	if !ok || !e.Equal(day(1)) || !l.Equal(day(5)) {
		t.Errorf("got %v..%v ok=%v", e, l, ok)
	}
}

func TestParseMarketAndInterval(t *testing.T) {
	if got := ParseMarket(" US "); got != MarketUS {
		t.Errorf("ParseMarket(US)=%q", got)
	}
	if got := ParseMarket("moon"); got != MarketTW {
		t.Errorf("unknown market should fall back to tw, got %q", got)
	}
	if got := ParseInterval("1WK"); got != Interval1wk {
		t.Errorf("ParseInterval(1WK)=%q", got)
	}
	if got := ParseInterval("7h"); got != Interval1d {
		t.Errorf("unknown interval should fall back to 1d, got %q", got)
	}
}

func TestDefaultPeriod(t *testing.T) {
	cases := map[Interval]string{
		Interval1m: "7d", Interval30m: "7d", Interval1h: "1mo",
		Interval1d: "1y", Interval1wk: "2y", Interval1mo: "5y",
	}
	for iv, want := range cases {
		if got := iv.DefaultPeriod(); got != want {
			t.Errorf("%s: got %s, want %s", iv, got, want)
		}
	}
}

func TestTicker(t *testing.T) {
	cases := []struct {
		m    Market
		in   string
		want string
	}{
		{MarketTW, "2330", "2330.TW"},
		{MarketTW, "2330.tw", "2330.TW"},
		{MarketCrypto, "btc", "BTC-USD"},
		{MarketForex, "EURUSD", "EURUSD=X"},
		{MarketUS, "aapl", "AAPL"},
	}
	for _, c := range cases {
		if got := c.m.Ticker(c.in); got != c.want {
			t.Errorf("%s.Ticker(%q)=%q, want %q", c.m, c.in, got, c.want)
		}
	}
}

func TestTableName(t *testing.T) {
	k := SeriesKey{Market: MarketUS, Interval: Interval1h, Symbol: "AAPL"}
	if got := k.Table(); got != "us_bars_1h" {
		t.Errorf("got %q", got)
	}
}
