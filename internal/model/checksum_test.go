package model

import (
	"math"
	"testing"
)

func TestBarChecksum_OrderIndependent(t *testing.T) {
	a := []Bar{
		{TS: day(1), Close: 10.5, Volume: 100},
		{TS: day(2), Close: 11.25, Volume: 200},
		{TS: day(3), Close: 9.75, Volume: 300},
	}
	b := []Bar{a[2], a[0], a[1]}

	if BarChecksum(a) != BarChecksum(b) {
		t.Error("checksum should not depend on row order")
	}
}

func TestBarChecksum_SensitiveToFields(t *testing.T) {
	base := []Bar{{TS: day(1), Close: 10.5, Volume: 100}}
	sum := BarChecksum(base)

	for name, mutated := range map[string]Bar{
		"close":  {TS: day(1), Close: 10.6, Volume: 100},
		"volume": {TS: day(1), Close: 10.5, Volume: 101},
		"ts":     {TS: day(2), Close: 10.5, Volume: 100},
	} {
		if BarChecksum([]Bar{mutated}) == sum {
			t.Errorf("changing %s did not change the checksum", name)
		}
	}
}

func TestBarChecksum_IgnoresOpenHighLow(t *testing.T) {
	a := []Bar{{TS: day(1), Open: 1, High: 2, Low: 0.5, Close: 1.5, Volume: 10}}
	b := []Bar{{TS: day(1), Open: 9, High: 9, Low: 9, Close: 1.5, Volume: 10}}
	if BarChecksum(a) != BarChecksum(b) {
		t.Error("checksum should only cover ts, close and volume")
	}
}

func TestRowHash_NaNClose(t *testing.T) {
	if RowHash(1, math.NaN(), 5) != RowHash(1, 0, 5) {
		t.Error("NaN close should hash like zero")
	}
}

func TestChecksumAccumulator_Zero(t *testing.T) {
	var acc ChecksumAccumulator
	if acc.Sum() != 0 {
		t.Errorf("empty accumulator should be 0, got %d", acc.Sum())
	}
	if BarChecksum(nil) != 0 {
		t.Error("empty series should checksum to 0")
	}
}
