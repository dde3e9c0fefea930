package provider

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"ohlcv-syncv1/internal/breaker"
	"ohlcv-syncv1/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

var testNow = time.Date(2024, 6, 15, 12, 0, 0, 0, time.UTC)

func TestWindow_Periods(t *testing.T) {
	tests := []struct {
		period string
		iv     model.Interval
		want   time.Time
	}{
		{"5d", model.Interval1d, testNow.AddDate(0, 0, -5)},
		{"2wk", model.Interval1d, testNow.AddDate(0, 0, -14)},
		{"3mo", model.Interval1d, testNow.AddDate(0, -3, 0)},
		{"2y", model.Interval1wk, testNow.AddDate(-2, 0, 0)},
		{"ytd", model.Interval1d, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)},
		{"garbage", model.Interval1d, testNow.AddDate(-1, 0, 0)},
		{"", model.Interval1h, testNow.AddDate(0, -1, 0)},
		{"1y", model.Interval5m, testNow.Add(-maxMinuteLookback)},
		{"5y", model.Interval1h, testNow.Add(-maxHourlyLookback)},
	}
	for _, tt := range tests {
		t.Run(tt.period+"/"+string(tt.iv), func(t *testing.T) {
			start, end := Window(tt.period, tt.iv, testNow)
			assert.Equal(t, testNow, end)
			assert.Equal(t, tt.want, start)
		})
	}
}

func TestParseBars_DateAndTS(t *testing.T) {
	data := `[
		{"open":10,"close":12,"high":15,"low":8,"volume":5,"date":"2025-02-04 15:05:00"},
		{"open":12,"close":11,"high":13,"low":10,"volume":7,"date":"2025-02-05"},
		{"open":11,"close":14,"high":14,"low":11,"volume":9,"ts":1738800000}
	]`
	bars, err := ParseBars(gjson.Parse(data).Array())
	require.NoError(t, err)
	require.Len(t, bars, 3)

	assert.Equal(t, time.Date(2025, 2, 4, 15, 5, 0, 0, time.UTC), bars[0].TS)
	assert.Equal(t, 15.0, bars[0].High)
	assert.Equal(t, int64(5), bars[0].Volume)
	assert.Equal(t, time.Date(2025, 2, 5, 0, 0, 0, 0, time.UTC), bars[1].TS)
	assert.Equal(t, int64(1738800000), bars[2].TS.Unix())
}

func TestParseBars_BadDate(t *testing.T) {
	_, err := ParseBars(gjson.Parse(`[{"open":1,"date":"yesterday"}]`).Array())
	assert.Error(t, err)

	_, err = ParseBars(gjson.Parse(`[{"open":1}]`).Array())
	assert.Error(t, err)
}

func writeBarsFile(t *testing.T, dir string, key model.SeriesKey, body string) {
	t.Helper()
	f := NewFile(dir)
	path := f.Path(key)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
}

func TestFile_FetchFiltersPeriod(t *testing.T) {
	dir := t.TempDir()
	key := model.SeriesKey{Market: model.MarketUS, Interval: model.Interval1d, Symbol: "aapl"}
	writeBarsFile(t, dir, key, `[
		{"date":"2024-06-14","open":1,"high":2,"low":1,"close":2,"volume":10},
		{"date":"2024-06-01","open":1,"high":2,"low":1,"close":2,"volume":10},
		{"date":"2023-01-01","open":1,"high":2,"low":1,"close":2,"volume":10}
	]`)

	f := NewFile(dir)
	f.now = func() time.Time { return testNow }
	assert.Equal(t, filepath.Join(dir, "us", "1d", "AAPL.json"), f.Path(key))

	bars, err := f.Fetch(context.Background(), key, "1mo")
	require.NoError(t, err)
	assert.Len(t, bars, 2)

	bars, err = f.Fetch(context.Background(), key, "max")
	require.NoError(t, err)
	assert.Len(t, bars, 3)
}

func TestFile_FetchErrors(t *testing.T) {
	dir := t.TempDir()
	key := model.SeriesKey{Market: model.MarketTW, Interval: model.Interval1d, Symbol: "2330"}
	f := NewFile(dir)

	_, err := f.Fetch(context.Background(), key, "1y")
	assert.Error(t, err)

	writeBarsFile(t, dir, key, `{not json`)
	_, err = f.Fetch(context.Background(), key, "1y")
	assert.Error(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = f.Fetch(ctx, key, "1y")
	assert.ErrorIs(t, err, context.Canceled)
}

type stubProvider struct {
	bars  []model.Bar
	err   error
	calls int
}

func (s *stubProvider) Fetch(ctx context.Context, key model.SeriesKey, period string) ([]model.Bar, error) {
	s.calls++
	return s.bars, s.err
}

func TestGuarded_NormalizesAndMapsErrors(t *testing.T) {
	key := model.SeriesKey{Market: model.MarketTW, Interval: model.Interval1d, Symbol: "2330"}
	d1 := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	d2 := d1.AddDate(0, 0, 1)

	stub := &stubProvider{bars: []model.Bar{{TS: d2, Close: 2}, {TS: d1, Close: 1}}}
	g := Guard(stub, breaker.New(breaker.Settings{Name: "test", MaxFailures: 2}), time.Second)

	bars, err := g.Fetch(context.Background(), key, "1y")
	require.NoError(t, err)
	require.Len(t, bars, 2)
	assert.True(t, bars[0].TS.Equal(d1))

	stub.bars = nil
	_, err = g.Fetch(context.Background(), key, "1y")
	assert.ErrorIs(t, err, ErrUnavailable)

	boom := errors.New("boom")
	stub.err = boom
	for i := 0; i < 2; i++ {
		_, err = g.Fetch(context.Background(), key, "1y")
		assert.ErrorIs(t, err, ErrUnavailable)
		assert.ErrorIs(t, err, boom)
	}

	calls := stub.calls
	_, err = g.Fetch(context.Background(), key, "1y")
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.ErrorIs(t, err, breaker.ErrOpen)
	assert.Equal(t, calls, stub.calls, "open breaker must not reach the provider")
}
