package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strconv"

	"ohlcv-syncv1/internal/model"

	goredis "github.com/go-redis/redis/v8"
)

// Reader reads published sync reports and latest indicator values.
type Reader struct {
	client *goredis.Client
}

// NewReader creates a Reader and pings the server.
func NewReader(cfg Config) (*Reader, error) {
	client, err := dial(cfg)
	if err != nil {
		return nil, err
	}
	log.Printf("[redis-reader] connected to %s", cfg.Addr)
	return &Reader{client: client}, nil
}

// LatestReport returns the last report published for a series, or nil if
// none is stored.
func (r *Reader) LatestReport(ctx context.Context, key model.SeriesKey) (*model.SyncReport, error) {
	data, err := r.client.Get(ctx, LatestReportKey(key)).Bytes()
	if err != nil {
		if err == goredis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("redis GET latest report %s: %w", key, err)
	}
	var rep model.SyncReport
	if err := json.Unmarshal(data, &rep); err != nil {
		return nil, fmt.Errorf("decode report %s: %w", key, err)
	}
	return &rep, nil
}

// RecentReports returns up to n reports from the report stream, newest first.
func (r *Reader) RecentReports(ctx context.Context, n int64) ([]model.SyncReport, error) {
	msgs, err := r.client.XRevRangeN(ctx, ReportStream, "+", "-", n).Result()
	if err != nil {
		return nil, fmt.Errorf("redis XREVRANGE %s: %w", ReportStream, err)
	}
	return decodeReports(msgs), nil
}

// LatestIndicators returns the newest indicator values stored for a series.
func (r *Reader) LatestIndicators(ctx context.Context, key model.SeriesKey) (map[string]float64, error) {
	fields, err := r.client.HGetAll(ctx, LatestIndicatorsKey(key)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis HGETALL %s: %w", LatestIndicatorsKey(key), err)
	}
	out := make(map[string]float64, len(fields))
	for col, raw := range fields {
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			continue
		}
		out[col] = v
	}
	return out, nil
}

// Subscribe returns a PubSub on every report channel matching pattern,
// e.g. "pub:sync:tw:1d:*".
func (r *Reader) Subscribe(ctx context.Context, pattern string) *goredis.PubSub {
	return r.client.PSubscribe(ctx, pattern)
}

// Close closes the Redis client.
func (r *Reader) Close() error {
	return r.client.Close()
}

func decodeReports(msgs []goredis.XMessage) []model.SyncReport {
	out := make([]model.SyncReport, 0, len(msgs))
	for _, msg := range msgs {
		data, ok := msg.Values["data"].(string)
		if !ok {
			continue
		}
		var rep model.SyncReport
		if err := json.Unmarshal([]byte(data), &rep); err != nil {
			log.Printf("[redis-reader] skipping malformed report %s: %v", msg.ID, err)
			continue
		}
		out = append(out, rep)
	}
	return out
}
