package indicator

import (
	"errors"
	"fmt"
	"math"

	talib "github.com/markcheno/go-talib"
)

// ErrUnknown is returned by Compute for an indicator name it does not know.
var ErrUnknown = errors.New("indicator: unknown indicator")

// Params configures a library indicator call. Unused fields are ignored.
type Params struct {
	Period int
	Fast   int     // MACD fast EMA
	Slow   int     // MACD slow EMA
	Signal int     // MACD signal EMA
	DevUp  float64 // Bollinger upper deviation multiplier
	DevDn  float64 // Bollinger lower deviation multiplier
}

// Inputs holds the parallel price arrays a library call may read.
type Inputs struct {
	High  []float64
	Low   []float64
	Close []float64
}

func (in Inputs) validate(needHLC bool) error {
	if !needHLC {
		return nil
	}
	if len(in.High) != len(in.Close) || len(in.Low) != len(in.Close) {
		return fmt.Errorf("high=%d low=%d close=%d: %w",
			len(in.High), len(in.Low), len(in.Close), ErrShapeMismatch)
	}
	return nil
}

// Library indicator names accepted by Compute.
const (
	NameRSI        = "rsi"
	NameSMA        = "sma"
	NameEMA        = "ema"
	NameMACDDIF    = "macd_dif"
	NameMACDSignal = "macd_signal"
	NameMACDHist   = "macd_hist"
	NameBBUpper    = "bb_upper"
	NameBBMiddle   = "bb_middle"
	NameBBLower    = "bb_lower"
	NameATR        = "atr"
	NameCCI        = "cci"
	NameWillR      = "willr"
	NameMOM        = "mom"
)

// Compute runs one library indicator and returns a series of the same length
// as the close array, NaN during warm-up. Inputs too short for the requested
// period produce an all-NaN series.
func Compute(name string, p Params, in Inputs) ([]float64, error) {
	if p.Period < 1 && name != NameMACDDIF && name != NameMACDSignal && name != NameMACDHist {
		return nil, fmt.Errorf("indicator %s: invalid period %d", name, p.Period)
	}
	switch name {
	case NameRSI:
		return padded(in.Close, p.Period, func() []float64 { return talib.Rsi(in.Close, p.Period) }), nil
	case NameSMA:
		return padded(in.Close, p.Period-1, func() []float64 { return talib.Sma(in.Close, p.Period) }), nil
	case NameEMA:
		return padded(in.Close, p.Period-1, func() []float64 { return talib.Ema(in.Close, p.Period) }), nil
	case NameMOM:
		return padded(in.Close, p.Period, func() []float64 { return talib.Mom(in.Close, p.Period) }), nil
	case NameMACDDIF, NameMACDSignal, NameMACDHist:
		dif, sig, hist := MACD(in.Close, p.Fast, p.Slow, p.Signal)
		switch name {
		case NameMACDDIF:
			return dif, nil
		case NameMACDSignal:
			return sig, nil
		}
		return hist, nil
	case NameBBUpper, NameBBMiddle, NameBBLower:
		up, mid, lo := Bollinger(in.Close, p.Period, p.DevUp, p.DevDn)
		switch name {
		case NameBBUpper:
			return up, nil
		case NameBBMiddle:
			return mid, nil
		}
		return lo, nil
	case NameATR:
		if err := in.validate(true); err != nil {
			return nil, err
		}
		return padded(in.Close, p.Period, func() []float64 { return talib.Atr(in.High, in.Low, in.Close, p.Period) }), nil
	case NameCCI:
		if err := in.validate(true); err != nil {
			return nil, err
		}
		return padded(in.Close, p.Period-1, func() []float64 { return talib.Cci(in.High, in.Low, in.Close, p.Period) }), nil
	case NameWillR:
		if err := in.validate(true); err != nil {
			return nil, err
		}
		return padded(in.Close, p.Period-1, func() []float64 { return talib.WillR(in.High, in.Low, in.Close, p.Period) }), nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknown, name)
}

// MACD returns the DIF line, its signal line and the histogram.
func MACD(close []float64, fast, slow, signal int) (dif, sig, hist []float64) {
	lookback := (slow - 1) + (signal - 1)
	if fast < 2 || slow < 2 || signal < 1 || len(close) <= lookback {
		n := len(close)
		return nanSlice(n), nanSlice(n), nanSlice(n)
	}
	dif, sig, hist = talib.Macd(close, fast, slow, signal)
	return maskWarmup(dif, lookback), maskWarmup(sig, lookback), maskWarmup(hist, lookback)
}

// Bollinger returns upper, middle and lower bands around an SMA.
func Bollinger(close []float64, period int, devUp, devDn float64) (upper, middle, lower []float64) {
	lookback := period - 1
	if period < 2 || len(close) <= lookback {
		n := len(close)
		return nanSlice(n), nanSlice(n), nanSlice(n)
	}
	upper, middle, lower = talib.BBands(close, period, devUp, devDn, talib.SMA)
	return maskWarmup(upper, lookback), maskWarmup(middle, lookback), maskWarmup(lower, lookback)
}

// padded calls fn only when close is long enough for the lookback, and
// replaces the warm-up prefix with NaN. TA-Lib fills it with zeros.
func padded(close []float64, lookback int, fn func() []float64) []float64 {
	if lookback < 0 || len(close) <= lookback {
		return nanSlice(len(close))
	}
	return maskWarmup(fn(), lookback)
}

func maskWarmup(series []float64, lookback int) []float64 {
	for i := 0; i < lookback && i < len(series); i++ {
		series[i] = math.NaN()
	}
	return series
}
