package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"ohlcv-syncv1/config"
	"ohlcv-syncv1/internal/breaker"
	"ohlcv-syncv1/internal/ingest"
	"ohlcv-syncv1/internal/logger"
	"ohlcv-syncv1/internal/metrics"
	"ohlcv-syncv1/internal/model"
	"ohlcv-syncv1/internal/notification"
	"ohlcv-syncv1/internal/provider"
	redisstore "ohlcv-syncv1/internal/store/redis"
	sqlitestore "ohlcv-syncv1/internal/store/sqlite"

	goredis "github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
)

// app holds the wired dependencies shared by the subcommands.
type app struct {
	cfg    *config.Config
	log    *slog.Logger
	store  *sqlitestore.Store
	redis  *redisstore.Publisher // nil when Redis is disabled or unreachable
	prom   *metrics.Metrics
	health *metrics.HealthStatus
	notify notification.Notifier
	svc    *ingest.Service
}

func loadConfig(path, levelOverride string) (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, nil, err
	}
	if levelOverride != "" {
		cfg.LogLevel = levelOverride
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, fmt.Errorf("invalid config:\n%w", err)
	}
	level, err := logger.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, nil, err
	}
	return cfg, logger.Init("ohlcvsync", level), nil
}

func openStore(cfg *config.Config) (*sqlitestore.Store, error) {
	if dir := filepath.Dir(cfg.SQLite.Path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}
	return sqlitestore.Open(sqlitestore.Config{Path: cfg.SQLite.Path, MaxConns: cfg.SQLite.MaxConns})
}

// newApp opens the store, Redis (optional) and the provider and builds the
// ingest service. opts carries per-invocation overrides.
func newApp(cfg *config.Config, lg *slog.Logger, opts ingest.Options) (*app, error) {
	a := &app{
		cfg:    cfg,
		log:    lg,
		prom:   metrics.NewMetrics(prometheus.DefaultRegisterer),
		health: metrics.NewHealthStatus(),
		notify: newNotifier(cfg),
	}

	var err error
	a.store, err = openStore(cfg)
	if err != nil {
		return nil, err
	}
	a.health.SetSQLiteOK(true)

	var publisher model.ReportPublisher
	if cfg.Redis.Addr != "" {
		a.health.SetRedisEnabled(true)
		a.redis, err = redisstore.New(redisstore.Config{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err != nil {
			log.Printf("[ohlcvsync] WARNING: redis init failed: %v (continuing without report publishing)", err)
		} else {
			a.health.SetRedisConnected(true)
			buffered := redisstore.NewBufferedPublisher(a.redis, breaker.Settings{
				Name:          "redis",
				OnStateChange: a.breakerHook(),
			}, 0)
			buffered.OnBuffer = a.prom.RedisBufferedReport.Inc
			publisher = buffered
		}
	}

	var src model.BarProvider
	switch cfg.Provider.Kind {
	case config.ProviderFile:
		src = provider.NewFile(cfg.Provider.DataDir)
	default:
		src = provider.NewYahoo()
	}
	guarded := provider.Guard(src, breaker.New(breaker.Settings{
		Name:          "provider_" + cfg.Provider.Kind,
		OnStateChange: a.breakerHook(),
	}), cfg.Provider.Timeout)

	// Workers never exceed the store's connection pool.
	workers := cfg.Sync.Workers
	if workers > a.store.MaxConns() {
		workers = a.store.MaxConns()
	}
	opts.Workers = workers
	if opts.IndicatorWindow == 0 {
		opts.IndicatorWindow = cfg.Sync.IndicatorWindow
	}

	a.svc = ingest.New(ingest.Deps{
		Provider:  guarded,
		Store:     a.store,
		Publisher: publisher,
		Metrics:   a.prom,
		Logger:    lg,
	}, opts)
	return a, nil
}

func newNotifier(cfg *config.Config) notification.Notifier {
	channels := notification.Multi{notification.NewLogNotifier()}
	if cfg.Notify.WebhookURL != "" {
		channels = append(channels, notification.NewWebhookNotifier(cfg.Notify.WebhookURL))
	}
	if cfg.Notify.TelegramToken != "" {
		channels = append(channels, notification.NewTelegramNotifier(cfg.Notify.TelegramToken, cfg.Notify.TelegramChatID))
	}
	return channels
}

// breakerHook updates the breaker gauges and raises an alert on trips and
// recoveries. It runs under the breaker lock, so delivery is asynchronous.
func (a *app) breakerHook() func(name string, from, to breaker.State) {
	gauges := a.prom.BreakerStateHook()
	return func(name string, from, to breaker.State) {
		gauges(name, from, to)
		alert, ok := notification.BreakerAlert(name, from, to)
		if !ok {
			return
		}
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()
			if err := a.notify.Send(ctx, alert); err != nil {
				a.log.Warn("breaker alert delivery failed", "breaker", name, "err", err)
			}
		}()
	}
}

func (a *app) Close() {
	if a.redis != nil {
		a.redis.Close()
	}
	if a.store != nil {
		a.store.Close()
	}
}

// redisClient returns the raw client for liveness checks, or nil.
func (a *app) redisClient() *goredis.Client {
	if a.redis == nil {
		return nil
	}
	return a.redis.Client()
}
