package model

import (
	"math"
	"strconv"

	"github.com/cespare/xxhash/v2"
	"github.com/shopspring/decimal"
)

// RowHash hashes the canonical text of one (ts, close, volume) triple.
// Close is fixed to four decimals so values that survive a REAL column
// round trip hash identically.
func RowHash(ts int64, close float64, volume int64) uint64 {
	if math.IsNaN(close) || math.IsInf(close, 0) {
		close = 0
	}
	buf := make([]byte, 0, 48)
	buf = strconv.AppendInt(buf, ts, 10)
	buf = append(buf, '|')
	buf = append(buf, decimal.NewFromFloat(close).StringFixed(4)...)
	buf = append(buf, '|')
	buf = strconv.AppendInt(buf, volume, 10)
	return xxhash.Sum64(buf)
}

// ChecksumAccumulator folds row hashes into an order-independent checksum.
// The zero value is ready to use.
type ChecksumAccumulator struct {
	sum uint64
}

// Add folds one row into the checksum.
func (c *ChecksumAccumulator) Add(ts int64, close float64, volume int64) {
	c.sum += RowHash(ts, close, volume)
}

// Sum returns the checksum as a signed value, the shape SQLite can return.
func (c *ChecksumAccumulator) Sum() int64 { return int64(c.sum) }

// BarChecksum returns the checksum of a series. It matches the store's
// bar_checksum aggregate over the same rows.
func BarChecksum(bars []Bar) int64 {
	var acc ChecksumAccumulator
	for _, b := range bars {
		acc.Add(b.Unix(), b.Close, b.Volume)
	}
	return acc.Sum()
}
