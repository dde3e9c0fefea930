package ingest

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"ohlcv-syncv1/internal/metrics"
	"ohlcv-syncv1/internal/model"
	sqlitestore "ohlcv-syncv1/internal/store/sqlite"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	tsmc = model.SeriesKey{Market: model.MarketTW, Interval: model.Interval1d, Symbol: "2330"}
	hon  = model.SeriesKey{Market: model.MarketTW, Interval: model.Interval1d, Symbol: "2317"}
)

func dailyBars(from, n int) []model.Bar {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	bars := make([]model.Bar, n)
	for i := range bars {
		d := from + i
		c := 500 + float64(d)*0.75
		bars[i] = model.Bar{
			TS:     start.AddDate(0, 0, d-1),
			Open:   c - 1,
			High:   c + 2,
			Low:    c - 3,
			Close:  c,
			Volume: int64(10000 + d),
		}
	}
	return bars
}

type fakeProvider struct {
	mu   sync.Mutex
	bars map[model.SeriesKey][]model.Bar
	errs map[model.SeriesKey]error
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{bars: map[model.SeriesKey][]model.Bar{}, errs: map[model.SeriesKey]error{}}
}

func (f *fakeProvider) set(key model.SeriesKey, bars []model.Bar) {
	f.mu.Lock()
	f.bars[key] = bars
	f.mu.Unlock()
}

func (f *fakeProvider) Fetch(ctx context.Context, key model.SeriesKey, period string) ([]model.Bar, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.errs[key]; err != nil {
		return nil, err
	}
	return append([]model.Bar(nil), f.bars[key]...), nil
}

type fakePublisher struct {
	mu      sync.Mutex
	reports []model.SyncReport
}

func (p *fakePublisher) PublishReport(ctx context.Context, r model.SyncReport) error {
	p.mu.Lock()
	p.reports = append(p.reports, r)
	p.mu.Unlock()
	return nil
}

// failingProbe makes Probe error while delegating everything else.
type failingProbe struct{ Store }

func (failingProbe) Probe(ctx context.Context, key model.SeriesKey) (*model.SeriesMetadata, error) {
	return nil, errors.New("probe exploded")
}

type fixture struct {
	svc   *Service
	store *sqlitestore.Store
	prov  *fakeProvider
	pub   *fakePublisher
	prom  *metrics.Metrics
}

func newFixture(t *testing.T, wrap func(Store) Store) *fixture {
	t.Helper()
	st, err := sqlitestore.Open(sqlitestore.Config{Path: filepath.Join(t.TempDir(), "bars.db"), MaxConns: 4})
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	var store Store = st
	if wrap != nil {
		store = wrap(st)
	}
	f := &fixture{store: st, prov: newFakeProvider(), pub: &fakePublisher{}, prom: metrics.NewMetrics(prometheus.NewRegistry())}
	f.svc = New(Deps{
		Provider:  f.prov,
		Store:     store,
		Publisher: f.pub,
		Metrics:   f.prom,
		Logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	}, Options{Workers: 2})
	return f
}

func TestSyncSymbol_Lifecycle(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	// First sync inserts everything and fills indicators.
	f.prov.set(tsmc, dailyBars(1, 150))
	rep, err := f.svc.SyncSymbol(ctx, tsmc)
	require.NoError(t, err)
	assert.Equal(t, "insert_all", rep.Mode)
	assert.Equal(t, 150, rep.Fetched)
	assert.Equal(t, 150, rep.Result.Inserted)
	assert.Equal(t, 150, rep.IndicatorRows)
	assert.InDelta(t, 611.0, rep.Latest[model.ColMA5], 1e-9)
	assert.Contains(t, rep.Latest, model.ColMA120)
	assert.Contains(t, rep.Latest, model.ColK)
	assert.True(t, rep.LatestTS.Equal(dailyBars(150, 1)[0].TS))

	row, ok, err := f.store.IndicatorsAt(ctx, tsmc, dailyBars(150, 1)[0].Unix())
	require.NoError(t, err)
	require.True(t, ok)
	assert.InDelta(t, 611.0, row.Values[model.ColMA5], 1e-9)
	_, hasMA120 := row.Values[model.ColMA120]
	assert.True(t, hasMA120)

	early, ok, err := f.store.IndicatorsAt(ctx, tsmc, dailyBars(2, 1)[0].Unix())
	require.NoError(t, err)
	require.True(t, ok)
	_, hasMA5 := early.Values[model.ColMA5]
	assert.False(t, hasMA5, "warm-up values stay NULL")

	// Identical fetch: checksum match, nothing written.
	rep, err = f.svc.SyncSymbol(ctx, tsmc)
	require.NoError(t, err)
	assert.Equal(t, "skip", rep.Mode)
	assert.Equal(t, "hash match, no change", rep.Reason)
	assert.Equal(t, 150, rep.Result.Skipped)
	assert.Zero(t, rep.Result.Written())
	assert.Zero(t, rep.IndicatorRows)

	// One new bar: incremental, only the new row's indicators rewritten.
	f.prov.set(tsmc, dailyBars(1, 151))
	rep, err = f.svc.SyncSymbol(ctx, tsmc)
	require.NoError(t, err)
	assert.Equal(t, "incremental", rep.Mode)
	assert.Equal(t, 1, rep.Result.Inserted)
	assert.Equal(t, 150, rep.Result.Skipped, "bars the decision left out")
	assert.Equal(t, rep.Fetched, rep.Result.Total())
	assert.Equal(t, 1, rep.IndicatorRows)

	// A revised close inside the recent window: update_changed.
	revised := dailyBars(1, 151)
	revised[149].Close += 5
	f.prov.set(tsmc, revised)
	rep, err = f.svc.SyncSymbol(ctx, tsmc)
	require.NoError(t, err)
	assert.Equal(t, "update_changed", rep.Mode)
	assert.Equal(t, 1, rep.Result.Updated)
	assert.Equal(t, 2, rep.IndicatorRows, "revised bar and everything after it")

	meta, err := f.store.Probe(ctx, tsmc)
	require.NoError(t, err)
	assert.Equal(t, 151, meta.RecordCount)
	assert.Equal(t, model.BarChecksum(revised), meta.Checksum)

	assert.Len(t, f.pub.reports, 4)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.prom.DecisionsTotal.WithLabelValues("skip")))
	assert.Equal(t, 151.0, testutil.ToFloat64(f.prom.RowsTotal.WithLabelValues("inserted")))
}

func clearIndicators(t *testing.T, f *fixture, key model.SeriesKey, bars []model.Bar) {
	t.Helper()
	rows := make([]model.IndicatorRow, len(bars))
	for i, b := range bars {
		rows[i] = model.IndicatorRow{TS: b.TS, Values: map[string]float64{}}
	}
	_, err := f.store.WriteIndicators(context.Background(), key, rows)
	require.NoError(t, err)
}

func indicatorsOn(t *testing.T, f *fixture, key model.SeriesKey, day int) map[string]float64 {
	t.Helper()
	row, ok, err := f.store.IndicatorsAt(context.Background(), key, dailyBars(day, 1)[0].Unix())
	require.NoError(t, err)
	require.True(t, ok, "no bar stored on day %d", day)
	return row.Values
}

func TestSyncSymbol_ExpandHistoryFillsIndicatorsOnPrependedBars(t *testing.T) {
	f := newFixture(t, nil)
	f.svc.opts.ExpandHistory = true
	ctx := context.Background()

	f.prov.set(tsmc, dailyBars(200, 201))
	_, err := f.svc.SyncSymbol(ctx, tsmc)
	require.NoError(t, err)

	f.prov.set(tsmc, dailyBars(1, 400))
	rep, err := f.svc.SyncSymbol(ctx, tsmc)
	require.NoError(t, err)
	assert.Equal(t, "incremental", rep.Mode)
	assert.Equal(t, 199, rep.Result.Inserted)
	assert.Equal(t, 201, rep.Result.Skipped)
	assert.Equal(t, 400, rep.IndicatorRows, "every row from the earliest written bar onward")

	for _, day := range []int{50, 81, 82} {
		assert.Contains(t, indicatorsOn(t, f, tsmc, day), model.ColMA5, "day %d", day)
	}
	assert.NotContains(t, indicatorsOn(t, f, tsmc, 119), model.ColMA120)
	for _, day := range []int{120, 130, 200} {
		assert.Contains(t, indicatorsOn(t, f, tsmc, day), model.ColMA120, "day %d", day)
	}
	// Closes rise 0.75 a day from 500, so MA120 on day 200 averages days 81..200.
	assert.InDelta(t, 605.375, indicatorsOn(t, f, tsmc, 200)[model.ColMA120], 1e-9)
}

func TestRecompute_FullHistoryRepairsNullRows(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	bars := dailyBars(1, 150)
	f.prov.set(tsmc, bars)
	_, err := f.svc.SyncSymbol(ctx, tsmc)
	require.NoError(t, err)

	clearIndicators(t, f, tsmc, bars)
	assert.Empty(t, indicatorsOn(t, f, tsmc, 150))

	rep, err := f.svc.Recompute(ctx, tsmc, true)
	require.NoError(t, err)
	assert.Equal(t, "recompute", rep.Mode)
	assert.Equal(t, "full history", rep.Reason)
	assert.Equal(t, 150, rep.IndicatorRows)
	assert.InDelta(t, 611.0, indicatorsOn(t, f, tsmc, 150)[model.ColMA5], 1e-9)
	assert.Contains(t, indicatorsOn(t, f, tsmc, 130), model.ColMA120)
	assert.Contains(t, indicatorsOn(t, f, tsmc, 20), model.ColK)
}

func TestRecompute_TrailingWindowWarmsUpFromEarlierBars(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	bars := dailyBars(1, 150)
	f.prov.set(tsmc, bars)
	_, err := f.svc.SyncSymbol(ctx, tsmc)
	require.NoError(t, err)

	clearIndicators(t, f, tsmc, bars)
	f.svc.opts.IndicatorWindow = 10

	rep, err := f.svc.Recompute(ctx, tsmc, false)
	require.NoError(t, err)
	assert.Equal(t, 10, rep.IndicatorRows)
	assert.Contains(t, indicatorsOn(t, f, tsmc, 141), model.ColMA120, "warm-up read before the window")
	assert.Empty(t, indicatorsOn(t, f, tsmc, 140), "rows before the window are left alone")
}

func TestRecompute_EmptySeriesAndInProgress(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	rep, err := f.svc.Recompute(ctx, tsmc, true)
	require.NoError(t, err)
	assert.Zero(t, rep.IndicatorRows)

	require.True(t, f.svc.acquire(tsmc))
	defer f.svc.release(tsmc)
	_, err = f.svc.Recompute(ctx, tsmc, true)
	assert.ErrorIs(t, err, ErrInProgress)
}

func TestSyncSymbol_ProviderError(t *testing.T) {
	f := newFixture(t, nil)
	boom := errors.New("provider down")
	f.prov.errs[tsmc] = boom

	rep, err := f.svc.SyncSymbol(context.Background(), tsmc)
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, rep.Err, "provider down")
	assert.Empty(t, rep.Mode)

	require.Len(t, f.pub.reports, 1, "failures are still published")
	assert.Equal(t, 1.0, testutil.ToFloat64(f.prom.ProviderErrors.WithLabelValues("tw")))

	meta, err := f.store.Probe(context.Background(), tsmc)
	require.NoError(t, err)
	assert.Nil(t, meta)
}

func TestSyncSymbol_ProbeErrorTreatsSeriesAsNew(t *testing.T) {
	f := newFixture(t, func(s Store) Store { return failingProbe{s} })
	ctx := context.Background()
	f.prov.set(tsmc, dailyBars(1, 10))

	for i := 0; i < 2; i++ {
		rep, err := f.svc.SyncSymbol(ctx, tsmc)
		require.NoError(t, err)
		assert.Equal(t, "insert_all", rep.Mode)
	}

	// Re-inserting is an idempotent upsert.
	meta, err := f.store.Probe(ctx, tsmc)
	require.NoError(t, err)
	assert.Equal(t, 10, meta.RecordCount)
	assert.Equal(t, 2.0, testutil.ToFloat64(f.prom.SyncErrors.WithLabelValues("probe")))
}

func TestSyncSymbol_InProgress(t *testing.T) {
	f := newFixture(t, nil)
	require.True(t, f.svc.acquire(tsmc))
	defer f.svc.release(tsmc)

	_, err := f.svc.SyncSymbol(context.Background(), tsmc)
	assert.ErrorIs(t, err, ErrInProgress)
}

func TestSyncAll_DedupesAndSharesRunID(t *testing.T) {
	f := newFixture(t, nil)
	f.prov.set(tsmc, dailyBars(1, 40))
	f.prov.set(hon, dailyBars(1, 20))
	bad := model.SeriesKey{Market: model.MarketUS, Interval: model.Interval1d, Symbol: "NOPE"}
	f.prov.errs[bad] = errors.New("no data")

	reports, err := f.svc.SyncAll(context.Background(), []model.SeriesKey{tsmc, hon, tsmc, bad})
	require.Error(t, err)
	require.Len(t, reports, 3)

	assert.Equal(t, tsmc, reports[0].Key)
	assert.Equal(t, hon, reports[1].Key)
	assert.Equal(t, bad, reports[2].Key)
	assert.Equal(t, 40, reports[0].Result.Inserted)
	assert.Equal(t, 20, reports[1].Result.Inserted)
	assert.NotEmpty(t, reports[2].Err)

	runID := reports[0].RunID
	assert.NotEmpty(t, runID)
	for _, r := range reports {
		assert.Equal(t, runID, r.RunID)
	}
	assert.Equal(t, 1.0, testutil.ToFloat64(f.prom.SyncRunsTotal))
}

func TestSyncAll_CancelledContext(t *testing.T) {
	f := newFixture(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	reports, err := f.svc.SyncAll(ctx, []model.SeriesKey{tsmc, hon})
	require.Error(t, err)
	require.Len(t, reports, 2)
	for _, r := range reports {
		assert.NotEmpty(t, r.Err)
	}
}
