package metrics

import (
	"context"
	"database/sql"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"ohlcv-syncv1/internal/breaker"
	"ohlcv-syncv1/internal/model"

	goredis "github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the sync service.
type Metrics struct {
	SyncRunsTotal   prometheus.Counter
	SeriesSynced    *prometheus.CounterVec // labels: market, interval
	SyncErrors      *prometheus.CounterVec // labels: stage
	SyncDuration    prometheus.Histogram
	LastSyncUnix    prometheus.Gauge
	DecisionsTotal  *prometheus.CounterVec // labels: mode
	RowsTotal       *prometheus.CounterVec // labels: op=inserted|updated|failed|skipped
	FallbacksTotal  prometheus.Counter
	ProviderErrors  *prometheus.CounterVec // labels: market
	BarsFetched     prometheus.Counter
	SQLiteApplyDur  prometheus.Histogram
	IndicatorDur    prometheus.Histogram
	IndicatorRows   prometheus.Counter
	PatternSignals  prometheus.Counter
	WorkersInFlight prometheus.Gauge

	// Circuit breakers
	CircuitBreakerState *prometheus.GaugeVec // labels: name; 0=closed, 1=open, 2=half-open
	CircuitBreakerTrips *prometheus.CounterVec
	RedisBufferedReport prometheus.Counter

	// Market session state
	MarketState *prometheus.GaugeVec // labels: market; 0=closed, 1=open
}

// NewMetrics creates all metrics and registers them with reg.
// A nil reg registers with the default Prometheus registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		SyncRunsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ohlcvsync_runs_total",
			Help: "Total sync passes over the configured watchlist",
		}),
		SeriesSynced: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ohlcvsync_series_synced_total",
			Help: "Series sync passes completed (by market and interval)",
		}, []string{"market", "interval"}),
		SyncErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ohlcvsync_errors_total",
			Help: "Series sync failures by pipeline stage",
		}, []string{"stage"}),
		SyncDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "ohlcvsync_series_duration_seconds",
			Help:    "Wall time of one series sync pass",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}),
		LastSyncUnix: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ohlcvsync_last_sync_timestamp_seconds",
			Help: "Unix time of the last finished series sync",
		}),
		DecisionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ohlcvsync_decisions_total",
			Help: "Change-detection decisions by mode",
		}, []string{"mode"}),
		RowsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ohlcvsync_rows_total",
			Help: "Bar rows by upsert outcome",
		}, []string{"op"}),
		FallbacksTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ohlcvsync_upsert_fallbacks_total",
			Help: "Upserts that fell back to per-row processing",
		}),
		ProviderErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ohlcvsync_provider_errors_total",
			Help: "Provider fetches that returned no usable data",
		}, []string{"market"}),
		BarsFetched: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ohlcvsync_bars_fetched_total",
			Help: "Bars returned by the provider after normalisation",
		}),
		SQLiteApplyDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "ohlcvsync_sqlite_apply_duration_seconds",
			Help:    "SQLite upsert latency per series",
			Buckets: prometheus.DefBuckets,
		}),
		IndicatorDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "ohlcvsync_indicator_duration_seconds",
			Help:    "Indicator and pattern recompute latency per series",
			Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
		}),
		IndicatorRows: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ohlcvsync_indicator_rows_total",
			Help: "Bar rows whose indicator columns were rewritten",
		}),
		PatternSignals: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ohlcvsync_pattern_bars_total",
			Help: "Rewritten bars carrying at least one candlestick signal",
		}),
		WorkersInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ohlcvsync_workers_in_flight",
			Help: "Series currently being synced",
		}),

		CircuitBreakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "ohlcvsync_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=open, 2=half-open)",
		}, []string{"name"}),
		CircuitBreakerTrips: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ohlcvsync_circuit_breaker_trips_total",
			Help: "Times a circuit breaker tripped open",
		}, []string{"name"}),
		RedisBufferedReport: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ohlcvsync_redis_buffered_reports_total",
			Help: "Reports buffered locally while the Redis circuit was open",
		}),

		MarketState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "ohlcvsync_market_state",
			Help: "Market session state (0=closed, 1=open)",
		}, []string{"market"}),
	}

	reg.MustRegister(
		m.SyncRunsTotal,
		m.SeriesSynced,
		m.SyncErrors,
		m.SyncDuration,
		m.LastSyncUnix,
		m.DecisionsTotal,
		m.RowsTotal,
		m.FallbacksTotal,
		m.ProviderErrors,
		m.BarsFetched,
		m.SQLiteApplyDur,
		m.IndicatorDur,
		m.IndicatorRows,
		m.PatternSignals,
		m.WorkersInFlight,
		m.CircuitBreakerState,
		m.CircuitBreakerTrips,
		m.RedisBufferedReport,
		m.MarketState,
	)

	return m
}

// ObserveReport folds a finished series report into the counters.
func (m *Metrics) ObserveReport(r model.SyncReport) {
	m.SeriesSynced.WithLabelValues(string(r.Key.Market), string(r.Key.Interval)).Inc()
	m.SyncDuration.Observe(r.Duration.Seconds())
	m.LastSyncUnix.Set(float64(r.At.Unix()))
	m.BarsFetched.Add(float64(r.Fetched))
	if r.Mode != "" {
		m.DecisionsTotal.WithLabelValues(r.Mode).Inc()
	}
	m.RowsTotal.WithLabelValues("inserted").Add(float64(r.Result.Inserted))
	m.RowsTotal.WithLabelValues("updated").Add(float64(r.Result.Updated))
	m.RowsTotal.WithLabelValues("failed").Add(float64(r.Result.Failed))
	m.RowsTotal.WithLabelValues("skipped").Add(float64(r.Result.Skipped))
	if r.Result.Fallback {
		m.FallbacksTotal.Inc()
	}
	m.IndicatorRows.Add(float64(r.IndicatorRows))
}

// BreakerStateHook returns an OnStateChange callback that mirrors a breaker
// into the state gauge and trip counter.
func (m *Metrics) BreakerStateHook() func(name string, from, to breaker.State) {
	return func(name string, from, to breaker.State) {
		m.CircuitBreakerState.WithLabelValues(name).Set(float64(to))
		if to == breaker.StateOpen {
			m.CircuitBreakerTrips.WithLabelValues(name).Inc()
		}
	}
}

// SetMarketOpen records a market's session state.
func (m *Metrics) SetMarketOpen(market model.Market, open bool) {
	v := 0.0
	if open {
		v = 1
	}
	m.MarketState.WithLabelValues(string(market)).Set(v)
}

// HealthStatus represents the system health.
type HealthStatus struct {
	mu sync.RWMutex

	RedisEnabled   bool      `json:"redis_enabled"`
	RedisConnected bool      `json:"redis_connected"`
	SQLiteOK       bool      `json:"sqlite_ok"`
	LastSyncAt     time.Time `json:"last_sync_at"`
	LastSyncErr    string    `json:"last_sync_error"`
	SeriesTotal    int       `json:"series_total"`

	// Liveness probe results
	RedisLatencyMs  float64   `json:"redis_latency_ms"`
	SQLiteLatencyMs float64   `json:"sqlite_latency_ms"`
	LastCheckAt     time.Time `json:"last_check_at"`
	StartedAt       time.Time `json:"started_at"`
}

// NewHealthStatus returns a default health status.
func NewHealthStatus() *HealthStatus {
	return &HealthStatus{
		StartedAt: time.Now(),
	}
}

func (h *HealthStatus) SetRedisEnabled(v bool) {
	h.mu.Lock()
	h.RedisEnabled = v
	h.mu.Unlock()
}

func (h *HealthStatus) SetRedisConnected(v bool) {
	h.mu.Lock()
	h.RedisConnected = v
	h.mu.Unlock()
}

func (h *HealthStatus) SetSQLiteOK(v bool) {
	h.mu.Lock()
	h.SQLiteOK = v
	h.mu.Unlock()
}

func (h *HealthStatus) SetSeriesTotal(n int) {
	h.mu.Lock()
	h.SeriesTotal = n
	h.mu.Unlock()
}

// RecordSync stores the outcome of the latest sync pass.
func (h *HealthStatus) RecordSync(at time.Time, err error) {
	h.mu.Lock()
	h.LastSyncAt = at
	h.LastSyncErr = ""
	if err != nil {
		h.LastSyncErr = err.Error()
	}
	h.mu.Unlock()
}

// CheckRedis pings Redis and records latency + connectivity.
func (h *HealthStatus) CheckRedis(ctx context.Context, rdb *goredis.Client) {
	start := time.Now()
	err := rdb.Ping(ctx).Err()
	latency := time.Since(start)

	h.mu.Lock()
	h.RedisConnected = err == nil
	h.RedisLatencyMs = float64(latency.Microseconds()) / 1000.0
	h.LastCheckAt = time.Now()
	h.mu.Unlock()
}

// CheckSQLite pings the database and records latency + health.
func (h *HealthStatus) CheckSQLite(ctx context.Context, db *sql.DB) {
	start := time.Now()
	err := db.PingContext(ctx)
	latency := time.Since(start)

	h.mu.Lock()
	h.SQLiteOK = err == nil
	h.SQLiteLatencyMs = float64(latency.Microseconds()) / 1000.0
	h.LastCheckAt = time.Now()
	h.mu.Unlock()
}

// StartLivenessChecker runs periodic dependency checks. rdb may be nil.
func (h *HealthStatus) StartLivenessChecker(ctx context.Context, rdb *goredis.Client, sqlDB *sql.DB, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				probeCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
				if rdb != nil {
					h.CheckRedis(probeCtx, rdb)
				}
				if sqlDB != nil {
					h.CheckSQLite(probeCtx, sqlDB)
				}
				cancel()
			}
		}
	}()
}

// ServeHTTP handles the /healthz endpoint.
func (h *HealthStatus) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	// Determine overall status
	overallStatus := "healthy"
	httpCode := http.StatusOK

	if h.LastSyncErr != "" || (h.RedisEnabled && !h.RedisConnected) {
		overallStatus = "degraded"
	}
	if !h.SQLiteOK {
		overallStatus = "unhealthy"
		httpCode = http.StatusServiceUnavailable
	}

	lastSync, syncAge := "", ""
	if !h.LastSyncAt.IsZero() {
		lastSync = h.LastSyncAt.Format(time.RFC3339)
		syncAge = time.Since(h.LastSyncAt).Round(time.Second).String()
	}

	status := struct {
		Status          string  `json:"status"`
		Uptime          string  `json:"uptime"`
		SQLiteOK        bool    `json:"sqlite_ok"`
		SQLiteLatencyMs float64 `json:"sqlite_latency_ms"`
		RedisEnabled    bool    `json:"redis_enabled"`
		RedisConnected  bool    `json:"redis_connected"`
		RedisLatencyMs  float64 `json:"redis_latency_ms"`
		LastSyncAt      string  `json:"last_sync_at"`
		SyncAge         string  `json:"sync_age"`
		LastSyncErr     string  `json:"last_sync_error,omitempty"`
		SeriesTotal     int     `json:"series_total"`
		LastCheckAt     string  `json:"last_check_at"`
	}{
		Status:          overallStatus,
		Uptime:          time.Since(h.StartedAt).Round(time.Second).String(),
		SQLiteOK:        h.SQLiteOK,
		SQLiteLatencyMs: h.SQLiteLatencyMs,
		RedisEnabled:    h.RedisEnabled,
		RedisConnected:  h.RedisConnected,
		RedisLatencyMs:  h.RedisLatencyMs,
		LastSyncAt:      lastSync,
		SyncAge:         syncAge,
		LastSyncErr:     h.LastSyncErr,
		SeriesTotal:     h.SeriesTotal,
		LastCheckAt:     h.LastCheckAt.Format(time.RFC3339),
	}

	w.Header().Set("Content-Type", "application/json")
	if httpCode != http.StatusOK {
		w.WriteHeader(httpCode)
	}
	json.NewEncoder(w).Encode(status)
}

// Server runs an HTTP server exposing /metrics and /healthz.
type Server struct {
	health *HealthStatus
	addr   string
	srv    *http.Server
}

// NewServer creates a metrics and health server. A nil gatherer serves the
// default Prometheus registry.
func NewServer(addr string, health *HealthStatus, gatherer prometheus.Gatherer) *Server {
	mux := http.NewServeMux()
	if gatherer == nil {
		mux.Handle("/metrics", promhttp.Handler())
	} else {
		mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}
	mux.Handle("/healthz", health)

	return &Server{
		health: health,
		addr:   addr,
		srv: &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
	}
}

// Handler exposes the server mux, mainly for tests.
func (s *Server) Handler() http.Handler { return s.srv.Handler }

// Start launches the HTTP server in a goroutine.
func (s *Server) Start() {
	go func() {
		log.Printf("[metrics] server listening on %s", s.addr)
		if err := s.srv.ListenAndServe(); err != http.ErrServerClosed {
			log.Printf("[metrics] server error: %v", err)
		}
	}()
}

// Stop gracefully shuts down the metrics server.
func (s *Server) Stop(ctx context.Context) {
	s.srv.Shutdown(ctx)
}
