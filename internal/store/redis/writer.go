package redis

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"time"

	"ohlcv-syncv1/internal/model"

	goredis "github.com/go-redis/redis/v8"
)

const (
	// Report stream trimming: a few days of per-series sync passes.
	reportStreamMaxLen = 10000
	defaultLatestTTL   = 7 * 24 * time.Hour
)

// Key layout shared by Publisher and Reader.
const (
	ReportStream = "sync:reports"
)

// LatestReportKey holds the last report JSON for a series.
func LatestReportKey(key model.SeriesKey) string { return "sync:latest:" + key.String() }

// LatestIndicatorsKey is a hash of column -> value for the newest bar.
func LatestIndicatorsKey(key model.SeriesKey) string { return "ind:latest:" + key.String() }

// ReportChannel is the PubSub channel a series' reports are announced on.
func ReportChannel(key model.SeriesKey) string {
	return "pub:sync:" + string(key.Market) + ":" + string(key.Interval) + ":" + key.Symbol
}

// Config configures the Redis connection.
type Config struct {
	Addr     string // Redis address, e.g. "localhost:6379"
	Password string
	DB       int
}

// Publisher writes sync reports and latest indicator values to Redis.
type Publisher struct {
	client *goredis.Client
}

// Client returns the underlying Redis client for health checks.
func (p *Publisher) Client() *goredis.Client { return p.client }

// New creates a Publisher and pings the server.
func New(cfg Config) (*Publisher, error) {
	client, err := dial(cfg)
	if err != nil {
		return nil, err
	}
	log.Printf("[redis] connected to %s", cfg.Addr)
	return &Publisher{client: client}, nil
}

func dial(cfg Config) (*goredis.Client, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return client, nil
}

// PublishReport implements model.ReportPublisher. It appends the report to
// the report stream, stores it as the series' latest report, refreshes the
// latest-indicator hash and announces it, all in one pipeline.
func (p *Publisher) PublishReport(ctx context.Context, r model.SyncReport) error {
	jsonData := string(r.JSON())

	pipe := p.client.Pipeline()
	pipe.XAdd(ctx, &goredis.XAddArgs{
		Stream: ReportStream,
		MaxLen: reportStreamMaxLen,
		Approx: true,
		Values: map[string]interface{}{"data": jsonData},
	})
	pipe.Set(ctx, LatestReportKey(r.Key), jsonData, defaultLatestTTL)

	if len(r.Latest) > 0 {
		indKey := LatestIndicatorsKey(r.Key)
		fields := make(map[string]interface{}, len(r.Latest)+1)
		for col, v := range r.Latest {
			fields[col] = strconv.FormatFloat(v, 'f', -1, 64)
		}
		fields["ts"] = r.LatestTS.Unix()
		pipe.HSet(ctx, indKey, fields)
		pipe.Expire(ctx, indKey, defaultLatestTTL)
	}

	pipe.Publish(ctx, ReportChannel(r.Key), jsonData)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis publish report %s: %w", r.Key, err)
	}
	return nil
}

// Close closes the Redis client.
func (p *Publisher) Close() error {
	return p.client.Close()
}
