package indicator

import (
	"errors"
	"fmt"
	"math"
)

// DefaultKDJPeriod is the RSV lookback used when none is configured.
const DefaultKDJPeriod = 9

// ErrShapeMismatch is returned when parallel input arrays differ in length.
var ErrShapeMismatch = errors.New("indicator: input arrays differ in length")

// KDJState is the accumulator carried from one bar to the next.
type KDJState struct {
	RSV float64
	K   float64
	D   float64
}

// J returns 3K - 2D. It is not clamped.
func (s KDJState) J() float64 { return 3*s.K - 2*s.D }

// Step folds the next RSV into the state: K and D are smoothed with a fixed
// 2:1 weight on the previous value.
func (s KDJState) Step(rsv float64) KDJState {
	k := (2.0/3.0)*s.K + (1.0/3.0)*rsv
	d := (2.0/3.0)*s.D + (1.0/3.0)*k
	return KDJState{RSV: rsv, K: k, D: d}
}

// RSV returns the close's position inside [low, high] scaled to 0..100.
// A flat window returns 50.
func RSV(close, periodHigh, periodLow float64) float64 {
	if periodHigh == periodLow {
		return 50
	}
	v := 100 * (close - periodLow) / (periodHigh - periodLow)
	return math.Max(0, math.Min(100, v))
}

// KDJ is the streaming form of the stochastic oscillator. The zero value is
// not usable; create one with NewKDJ.
type KDJ struct {
	period int
	highs  []float64 // last period highs, oldest first
	lows   []float64
	state  KDJState
	seeded bool
}

// NewKDJ returns a KDJ with the given RSV lookback.
func NewKDJ(period int) *KDJ {
	if period < 1 {
		period = DefaultKDJPeriod
	}
	return &KDJ{
		period: period,
		highs:  make([]float64, 0, period),
		lows:   make([]float64, 0, period),
	}
}

// Push feeds the next high/low/close triple and reports whether the
// indicator produced a value for it.
func (k *KDJ) Push(high, low, close float64) bool {
	if len(k.highs) == k.period {
		copy(k.highs, k.highs[1:])
		copy(k.lows, k.lows[1:])
		k.highs = k.highs[:k.period-1]
		k.lows = k.lows[:k.period-1]
	}
	k.highs = append(k.highs, high)
	k.lows = append(k.lows, low)
	if len(k.highs) < k.period {
		return false
	}

	ph, pl := k.highs[0], k.lows[0]
	for i := 1; i < len(k.highs); i++ {
		ph = math.Max(ph, k.highs[i])
		pl = math.Min(pl, k.lows[i])
	}
	rsv := RSV(close, ph, pl)

	if !k.seeded {
		seed := rsv
		if math.IsNaN(seed) {
			seed = 50
		}
		k.state = KDJState{RSV: rsv, K: seed, D: seed}
		k.seeded = true
		return true
	}
	if math.IsNaN(rsv) {
		// Undefined input: keep the previous smoothing state.
		return false
	}
	k.state = k.state.Step(rsv)
	return true
}

// State returns the current accumulator.
func (k *KDJ) State() KDJState { return k.state }

// KDJSeries holds the four output series of ComputeKDJ.
type KDJSeries struct {
	RSV []float64
	K   []float64
	D   []float64
	J   []float64
}

// ComputeKDJ computes RSV, K, D and J over parallel high/low/close arrays.
// Indices before period-1 are NaN; inputs shorter than period yield all-NaN
// series. Inputs of different lengths return ErrShapeMismatch.
func ComputeKDJ(high, low, close []float64, period int) (KDJSeries, error) {
	if len(high) != len(low) || len(high) != len(close) {
		return KDJSeries{}, fmt.Errorf("kdj: high=%d low=%d close=%d: %w",
			len(high), len(low), len(close), ErrShapeMismatch)
	}
	n := len(close)
	out := KDJSeries{
		RSV: nanSlice(n),
		K:   nanSlice(n),
		D:   nanSlice(n),
		J:   nanSlice(n),
	}

	kdj := NewKDJ(period)
	for i := 0; i < n; i++ {
		if !kdj.Push(high[i], low[i], close[i]) {
			continue
		}
		s := kdj.State()
		out.RSV[i] = s.RSV
		out.K[i] = s.K
		out.D[i] = s.D
		out.J[i] = s.J()
	}
	return out, nil
}

func nanSlice(n int) []float64 {
	s := make([]float64, n)
	for i := range s {
		s[i] = math.NaN()
	}
	return s
}
