package provider

import (
	"context"
	"fmt"
	"time"

	"ohlcv-syncv1/internal/model"

	"github.com/piquette/finance-go/chart"
	"github.com/piquette/finance-go/datetime"
)

// Yahoo fetches bars from the Yahoo Finance chart API.
type Yahoo struct {
	now func() time.Time
}

// NewYahoo returns a Yahoo chart provider.
func NewYahoo() *Yahoo {
	return &Yahoo{now: time.Now}
}

// Fetch implements model.BarProvider.
func (y *Yahoo) Fetch(ctx context.Context, key model.SeriesKey, period string) ([]model.Bar, error) {
	start, end := Window(period, key.Interval, y.now())
	ticker := key.Market.Ticker(key.Symbol)

	params := &chart.Params{
		Symbol:   ticker,
		Start:    datetime.New(&start),
		End:      datetime.New(&end),
		Interval: datetime.Interval(key.Interval),
	}
	iter := chart.Get(params)

	var bars []model.Bar
	for iter.Next() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		b := iter.Bar()
		if b.Open.IsZero() && b.High.IsZero() && b.Low.IsZero() && b.Close.IsZero() {
			// Yahoo pads halted periods with null quotes.
			continue
		}
		open, _ := b.Open.Float64()
		high, _ := b.High.Float64()
		low, _ := b.Low.Float64()
		closePx, _ := b.Close.Float64()
		bars = append(bars, model.Bar{
			TS:     time.Unix(int64(b.Timestamp), 0).UTC(),
			Open:   open,
			High:   high,
			Low:    low,
			Close:  closePx,
			Volume: int64(b.Volume),
		})
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("yahoo chart %s %s: %w", ticker, key.Interval, err)
	}
	return bars, nil
}
