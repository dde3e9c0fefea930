package model

import "time"

// Bar field names as stored.
const (
	FieldOpen   = "open"
	FieldHigh   = "high"
	FieldLow    = "low"
	FieldClose  = "close"
	FieldVolume = "volume"
)

// BarFields lists the reconciled bar fields in storage order.
var BarFields = []string{FieldOpen, FieldHigh, FieldLow, FieldClose, FieldVolume}

// Indicator column names as stored.
const (
	ColRSI5          = "rsi_5"
	ColRSI7          = "rsi_7"
	ColRSI10         = "rsi_10"
	ColRSI14         = "rsi_14"
	ColRSI21         = "rsi_21"
	ColDIF           = "dif"
	ColMACD          = "macd"
	ColMACDHistogram = "macd_histogram"
	ColRSV           = "rsv"
	ColK             = "k_value"
	ColD             = "d_value"
	ColJ             = "j_value"
	ColMA5           = "ma5"
	ColMA10          = "ma10"
	ColMA20          = "ma20"
	ColMA60          = "ma60"
	ColMA120         = "ma120"
	ColEMA12         = "ema12"
	ColEMA26         = "ema26"
	ColBBUpper       = "bb_upper"
	ColBBMiddle      = "bb_middle"
	ColBBLower       = "bb_lower"
	ColATR           = "atr"
	ColCCI           = "cci"
	ColWillR         = "willr"
	ColMOM           = "mom"
	ColPatterns      = "pattern_signals"
)

// IndicatorColumns lists every numeric indicator column in storage order.
var IndicatorColumns = []string{
	ColRSI5, ColRSI7, ColRSI10, ColRSI14, ColRSI21,
	ColDIF, ColMACD, ColMACDHistogram,
	ColRSV, ColK, ColD, ColJ,
	ColMA5, ColMA10, ColMA20, ColMA60, ColMA120,
	ColEMA12, ColEMA26,
	ColBBUpper, ColBBMiddle, ColBBLower,
	ColATR, ColCCI, ColWillR, ColMOM,
}

// IndicatorRow carries the derived values for one bar. A missing or NaN
// value is stored as NULL.
type IndicatorRow struct {
	TS       time.Time
	Values   map[string]float64
	Patterns string
}
