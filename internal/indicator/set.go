package indicator

import (
	"fmt"
	"math"

	"ohlcv-syncv1/internal/model"
)

// Binding ties one stored column to a library call.
type Binding struct {
	Column string
	Name   string
	Params Params
}

// DefaultBindings is the stored indicator set apart from KDJ.
var DefaultBindings = []Binding{
	{model.ColRSI5, NameRSI, Params{Period: 5}},
	{model.ColRSI7, NameRSI, Params{Period: 7}},
	{model.ColRSI10, NameRSI, Params{Period: 10}},
	{model.ColRSI14, NameRSI, Params{Period: 14}},
	{model.ColRSI21, NameRSI, Params{Period: 21}},
	{model.ColDIF, NameMACDDIF, Params{Fast: 12, Slow: 26, Signal: 9}},
	{model.ColMACD, NameMACDSignal, Params{Fast: 12, Slow: 26, Signal: 9}},
	{model.ColMACDHistogram, NameMACDHist, Params{Fast: 12, Slow: 26, Signal: 9}},
	{model.ColMA5, NameSMA, Params{Period: 5}},
	{model.ColMA10, NameSMA, Params{Period: 10}},
	{model.ColMA20, NameSMA, Params{Period: 20}},
	{model.ColMA60, NameSMA, Params{Period: 60}},
	{model.ColMA120, NameSMA, Params{Period: 120}},
	{model.ColEMA12, NameEMA, Params{Period: 12}},
	{model.ColEMA26, NameEMA, Params{Period: 26}},
	{model.ColBBUpper, NameBBUpper, Params{Period: 20, DevUp: 2, DevDn: 2}},
	{model.ColBBMiddle, NameBBMiddle, Params{Period: 20, DevUp: 2, DevDn: 2}},
	{model.ColBBLower, NameBBLower, Params{Period: 20, DevUp: 2, DevDn: 2}},
	{model.ColATR, NameATR, Params{Period: 14}},
	{model.ColCCI, NameCCI, Params{Period: 14}},
	{model.ColWillR, NameWillR, Params{Period: 20}},
	{model.ColMOM, NameMOM, Params{Period: 10}},
}

// WarmupBars is the number of leading bars the default set needs before
// every column is defined (MA120).
const WarmupBars = 120

const storedDecimals = 4

// Calculator computes the full stored indicator set for a bar series.
type Calculator struct {
	bindings  []Binding
	kdjPeriod int
}

// NewCalculator returns a calculator for DefaultBindings and KDJ(9).
func NewCalculator() *Calculator {
	return &Calculator{bindings: DefaultBindings, kdjPeriod: DefaultKDJPeriod}
}

// Compute returns one row per input bar, values rounded to four decimals.
// Columns still warming up are NaN.
func (c *Calculator) Compute(bars []model.Bar) ([]model.IndicatorRow, error) {
	if len(bars) == 0 {
		return nil, nil
	}
	_, high, low, closes, _ := model.Columns(bars)
	in := Inputs{High: high, Low: low, Close: closes}

	series := make(map[string][]float64, len(c.bindings)+4)
	for _, s := range c.bindings {
		v, err := Compute(s.Name, s.Params, in)
		if err != nil {
			return nil, fmt.Errorf("compute %s: %w", s.Column, err)
		}
		series[s.Column] = v
	}

	kdj, err := ComputeKDJ(high, low, closes, c.kdjPeriod)
	if err != nil {
		return nil, fmt.Errorf("compute kdj: %w", err)
	}
	series[model.ColRSV] = kdj.RSV
	series[model.ColK] = kdj.K
	series[model.ColD] = kdj.D
	series[model.ColJ] = kdj.J

	rows := make([]model.IndicatorRow, len(bars))
	for i, b := range bars {
		values := make(map[string]float64, len(series))
		for col, s := range series {
			values[col] = round(s[i])
		}
		rows[i] = model.IndicatorRow{TS: b.TS, Values: values}
	}
	return rows, nil
}

func round(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return math.NaN()
	}
	p := math.Pow10(storedDecimals)
	return math.Round(v*p) / p
}
