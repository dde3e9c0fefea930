// Package compare decides whether a stored value and a freshly fetched value
// for the same field differ enough to count as a change.
package compare

import (
	"math"
	"sort"
	"strings"

	"ohlcv-syncv1/internal/model"
)

// Category is a closed set of field families, each with one tolerance rule.
type Category int

const (
	CategoryDefault Category = iota
	CategoryPrice
	CategoryVolume
	CategoryOscillator // RSI and KDJ
	CategoryMACD
	CategoryMovingAverage
	CategoryBollinger
	CategoryATR
	CategoryCCIWilliams
	CategoryMomentum
	numCategories
)

func (c Category) String() string {
	switch c {
	case CategoryPrice:
		return "price"
	case CategoryVolume:
		return "volume"
	case CategoryOscillator:
		return "oscillator"
	case CategoryMACD:
		return "macd"
	case CategoryMovingAverage:
		return "moving_average"
	case CategoryBollinger:
		return "bollinger"
	case CategoryATR:
		return "atr"
	case CategoryCCIWilliams:
		return "cci_williams"
	case CategoryMomentum:
		return "momentum"
	default:
		return "default"
	}
}

const (
	priceFloor    = 0.001
	priceFraction = 0.0001
)

var defaultTolerances = [numCategories]float64{
	CategoryDefault:       0.01,
	CategoryPrice:         priceFloor,
	CategoryVolume:        0,
	CategoryOscillator:    0.01,
	CategoryMACD:          0.001,
	CategoryMovingAverage: 0.0001,
	CategoryBollinger:     0.0001,
	CategoryATR:           0.001,
	CategoryCCIWilliams:   0.1,
	CategoryMomentum:      0.001,
}

// categoryRules maps field-name prefixes to categories. The longest matching
// prefix wins, so "macd_histogram" resolves through "macd" and "ma" loses to
// "macd".
var categoryRules = map[string]Category{
	model.FieldOpen:   CategoryPrice,
	model.FieldHigh:   CategoryPrice,
	model.FieldLow:    CategoryPrice,
	model.FieldClose:  CategoryPrice,
	model.FieldVolume: CategoryVolume,
	"rsi":             CategoryOscillator,
	"rsv":             CategoryOscillator,
	"k_":              CategoryOscillator,
	"d_":              CategoryOscillator,
	"j_":              CategoryOscillator,
	"dif":             CategoryMACD,
	"macd":            CategoryMACD,
	"ma":              CategoryMovingAverage,
	"ema":             CategoryMovingAverage,
	"bb_":             CategoryBollinger,
	"atr":             CategoryATR,
	"cci":             CategoryCCIWilliams,
	"willr":           CategoryCCIWilliams,
	"mom":             CategoryMomentum,
}

// Policy resolves fields to categories and compares values. Resolution
// results are computed once for known fields; a Policy is safe for
// concurrent use after construction.
type Policy struct {
	tolerances [numCategories]float64
	resolved   map[string]Category
	prefixes   []string // longest first
}

// NewPolicy returns the default policy with every stored field pre-resolved.
func NewPolicy() *Policy {
	p := &Policy{
		tolerances: defaultTolerances,
		resolved:   make(map[string]Category),
	}
	for prefix := range categoryRules {
		p.prefixes = append(p.prefixes, prefix)
	}
	sort.Slice(p.prefixes, func(i, j int) bool {
		if len(p.prefixes[i]) != len(p.prefixes[j]) {
			return len(p.prefixes[i]) > len(p.prefixes[j])
		}
		return p.prefixes[i] < p.prefixes[j]
	})

	for _, f := range model.BarFields {
		p.resolved[f] = p.match(f)
	}
	for _, f := range model.IndicatorColumns {
		p.resolved[f] = p.match(f)
	}
	return p
}

func (p *Policy) match(field string) Category {
	field = strings.ToLower(field)
	for _, prefix := range p.prefixes {
		if strings.HasPrefix(field, prefix) {
			return categoryRules[prefix]
		}
	}
	return CategoryDefault
}

// Category returns the category a field belongs to.
func (p *Policy) Category(field string) Category {
	if c, ok := p.resolved[field]; ok {
		return c
	}
	return p.match(field)
}

// Tolerance returns the absolute tolerance for a field given the two values
// being compared. Only price tolerances depend on the values.
func (p *Policy) Tolerance(field string, a, b float64) float64 {
	c := p.Category(field)
	if c != CategoryPrice {
		return p.tolerances[c]
	}
	ref := math.Max(math.Abs(clean(a)), math.Abs(clean(b)))
	return math.Max(p.tolerances[CategoryPrice], ref*priceFraction)
}

// Differs reports whether a and b differ beyond the field's tolerance.
// NaN is treated as zero. The result does not depend on argument order.
func (p *Policy) Differs(field string, a, b float64) bool {
	a, b = clean(a), clean(b)
	if p.Category(field) == CategoryVolume {
		return math.Round(a) != math.Round(b)
	}
	return math.Abs(a-b) > p.Tolerance(field, a, b)
}

// BarsDiffer reports whether any OHLCV field of two bars differs, and names
// the first differing field.
func (p *Policy) BarsDiffer(incoming, stored model.Bar) (string, bool) {
	switch {
	case p.Differs(model.FieldOpen, incoming.Open, stored.Open):
		return model.FieldOpen, true
	case p.Differs(model.FieldHigh, incoming.High, stored.High):
		return model.FieldHigh, true
	case p.Differs(model.FieldLow, incoming.Low, stored.Low):
		return model.FieldLow, true
	case p.Differs(model.FieldClose, incoming.Close, stored.Close):
		return model.FieldClose, true
	case incoming.Volume != stored.Volume:
		return model.FieldVolume, true
	}
	return "", false
}

func clean(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}
