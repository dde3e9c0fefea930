package compare

import (
	"math"
	"testing"

	"ohlcv-syncv1/internal/model"
)

func TestCategory_EveryStoredFieldResolves(t *testing.T) {
	p := NewPolicy()
	want := map[string]Category{
		"open": CategoryPrice, "high": CategoryPrice, "low": CategoryPrice, "close": CategoryPrice,
		"volume":         CategoryVolume,
		"rsi_5":          CategoryOscillator,
		"rsi_21":         CategoryOscillator,
		"rsv":            CategoryOscillator,
		"k_value":        CategoryOscillator,
		"d_value":        CategoryOscillator,
		"j_value":        CategoryOscillator,
		"dif":            CategoryMACD,
		"macd":           CategoryMACD,
		"macd_histogram": CategoryMACD,
		"ma5":            CategoryMovingAverage,
		"ma120":          CategoryMovingAverage,
		"ema26":          CategoryMovingAverage,
		"bb_middle":      CategoryBollinger,
		"atr":            CategoryATR,
		"cci":            CategoryCCIWilliams,
		"willr":          CategoryCCIWilliams,
		"mom":            CategoryMomentum,
	}
	for field, cat := range want {
		if got := p.Category(field); got != cat {
			t.Errorf("%s: got %v, want %v", field, got, cat)
		}
	}
	for _, f := range model.IndicatorColumns {
		if p.Category(f) == CategoryDefault {
			t.Errorf("indicator column %s fell through to default", f)
		}
	}
}

func TestCategory_UnknownFieldIsDefault(t *testing.T) {
	p := NewPolicy()
	if got := p.Category("obv"); got != CategoryDefault {
		t.Errorf("got %v, want default", got)
	}
	if got := p.Tolerance("obv", 1, 1); got != 0.01 {
		t.Errorf("default tolerance: got %v", got)
	}
}

func TestDiffers_PriceFloorAndFraction(t *testing.T) {
	p := NewPolicy()

	// Small prices use the 0.001 floor.
	if p.Differs("close", 10.0, 10.0009) {
		t.Error("0.0009 on 10 should be within the floor")
	}
	if !p.Differs("close", 10.0, 10.0011) {
		t.Error("0.0011 on 10 should exceed the floor")
	}

	// Large prices use 0.01% of the value: 1000 -> 0.1.
	if p.Differs("close", 1000.0, 1000.09) {
		t.Error("0.09 on 1000 should be within 0.01%")
	}
	if !p.Differs("close", 1000.0, 1000.11) {
		t.Error("0.11 on 1000 should exceed 0.01%")
	}
}

func TestDiffers_VolumeExact(t *testing.T) {
	p := NewPolicy()
	if p.Differs("volume", 1000, 1000) {
		t.Error("equal volumes should not differ")
	}
	if !p.Differs("volume", 1000, 1001) {
		t.Error("volume must match exactly")
	}
}

func TestDiffers_FixedTolerances(t *testing.T) {
	p := NewPolicy()
	cases := []struct {
		field   string
		a, b    float64
		changed bool
	}{
		{"rsi_14", 50, 50.009, false},
		{"rsi_14", 50, 50.011, true},
		{"k_value", 80, 80.02, true},
		{"macd", 0.5, 0.5009, false},
		{"macd_histogram", 0.5, 0.5011, true},
		{"ma20", 100, 100.00009, false},
		{"ma20", 100, 100.00011, true},
		{"bb_upper", 100, 100.0002, true},
		{"atr", 2, 2.0009, false},
		{"cci", 120, 120.09, false},
		{"willr", -20, -20.2, true},
		{"mom", 1, 1.002, true},
	}
	for _, c := range cases {
		if got := p.Differs(c.field, c.a, c.b); got != c.changed {
			t.Errorf("%s %v vs %v: got %v, want %v", c.field, c.a, c.b, got, c.changed)
		}
	}
}

func TestDiffers_NaNIsZero(t *testing.T) {
	p := NewPolicy()
	if p.Differs("rsi_14", math.NaN(), 0) {
		t.Error("NaN vs 0 should compare equal")
	}
	if !p.Differs("rsi_14", math.NaN(), 5) {
		t.Error("NaN vs 5 should differ")
	}
}

func TestDiffers_Symmetric(t *testing.T) {
	p := NewPolicy()
	values := []float64{0, 0.0005, 1, 9.999, 10, 10.0011, 999.95, 1000, 1000.1, -3, math.NaN()}
	fields := append([]string{"open", "close", "volume", "obv"}, model.IndicatorColumns...)

	for _, f := range fields {
		for _, a := range values {
			for _, b := range values {
				if p.Differs(f, a, b) != p.Differs(f, b, a) {
					t.Errorf("%s: Differs(%v,%v) != Differs(%v,%v)", f, a, b, b, a)
				}
			}
		}
	}
}

func TestBarsDiffer(t *testing.T) {
	p := NewPolicy()
	stored := model.Bar{Open: 10, High: 11, Low: 9, Close: 10.5, Volume: 1000}

	if _, changed := p.BarsDiffer(stored, stored); changed {
		t.Error("identical bars should not differ")
	}

	in := stored
	in.High = 11.01
	if field, changed := p.BarsDiffer(in, stored); !changed || field != "high" {
		t.Errorf("expected high to differ, got %q %v", field, changed)
	}

	in = stored
	in.Volume = 999
	if field, changed := p.BarsDiffer(in, stored); !changed || field != "volume" {
		t.Errorf("expected volume to differ, got %q %v", field, changed)
	}
}
