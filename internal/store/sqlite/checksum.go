package sqlite

import "ohlcv-syncv1/internal/model"

// checksumAggregate implements the bar_checksum(ts, close, volume) SQL
// aggregate. It folds rows with the same hash model.BarChecksum uses, so a
// stored series and a fetched series can be compared without reading rows.
type checksumAggregate struct {
	acc model.ChecksumAccumulator
}

func newChecksumAggregate() *checksumAggregate { return &checksumAggregate{} }

func (a *checksumAggregate) Step(ts int64, close float64, volume int64) {
	a.acc.Add(ts, close, volume)
}

func (a *checksumAggregate) Done() int64 { return a.acc.Sum() }
