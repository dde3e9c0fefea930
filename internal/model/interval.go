package model

import "strings"

// Market groups instruments that share a ticker convention and a set of tables.
type Market string

const (
	MarketTW      Market = "tw"
	MarketUS      Market = "us"
	MarketETF     Market = "etf"
	MarketIndex   Market = "index"
	MarketForex   Market = "forex"
	MarketCrypto  Market = "crypto"
	MarketFutures Market = "futures"
)

// Markets lists every supported market in display order.
var Markets = []Market{MarketTW, MarketUS, MarketETF, MarketIndex, MarketForex, MarketCrypto, MarketFutures}

// Interval is a bar period as understood by the data provider ("1d", "1h", ...).
type Interval string

const (
	Interval1m  Interval = "1m"
	Interval5m  Interval = "5m"
	Interval15m Interval = "15m"
	Interval30m Interval = "30m"
	Interval1h  Interval = "1h"
	Interval1d  Interval = "1d"
	Interval1wk Interval = "1wk"
	Interval1mo Interval = "1mo"
)

// Intervals lists every supported interval from finest to coarsest.
var Intervals = []Interval{Interval1m, Interval5m, Interval15m, Interval30m, Interval1h, Interval1d, Interval1wk, Interval1mo}

var defaultPeriods = map[Interval]string{
	Interval1m:  "7d",
	Interval5m:  "7d",
	Interval15m: "7d",
	Interval30m: "7d",
	Interval1h:  "1mo",
	Interval1d:  "1y",
	Interval1wk: "2y",
	Interval1mo: "5y",
}

var tickerSuffixes = map[Market]string{
	MarketTW:     ".TW",
	MarketCrypto: "-USD",
	MarketForex:  "=X",
}

// ParseMarket maps a user supplied market name to a Market.
// Unknown names fall back to MarketTW.
func ParseMarket(s string) Market {
	m := Market(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Markets {
		if m == known {
			return m
		}
	}
	return MarketTW
}

// ParseInterval maps a user supplied interval to an Interval.
// Unknown values fall back to Interval1d.
func ParseInterval(s string) Interval {
	iv := Interval(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := defaultPeriods[iv]; ok {
		return iv
	}
	return Interval1d
}

// Valid reports whether the interval is one of the supported periods.
func (iv Interval) Valid() bool {
	_, ok := defaultPeriods[iv]
	return ok
}

// Intraday reports whether bars of this interval are shorter than a day.
func (iv Interval) Intraday() bool {
	switch iv {
	case Interval1m, Interval5m, Interval15m, Interval30m, Interval1h:
		return true
	}
	return false
}

// DefaultPeriod returns the provider lookback used when none is requested.
func (iv Interval) DefaultPeriod() string {
	if p, ok := defaultPeriods[iv]; ok {
		return p
	}
	return "1y"
}

// Ticker returns the provider ticker for a bare market symbol, e.g. "2330" -> "2330.TW".
// Symbols that already carry the suffix are returned unchanged.
func (m Market) Ticker(symbol string) string {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	suffix := tickerSuffixes[m]
	if suffix == "" || strings.HasSuffix(symbol, suffix) {
		return symbol
	}
	return symbol + suffix
}

// TableName returns the bar table for a market and interval, e.g. "tw_bars_1d".
func TableName(m Market, iv Interval) string {
	return string(m) + "_bars_" + string(iv)
}
