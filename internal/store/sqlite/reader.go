package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"ohlcv-syncv1/internal/model"
)

const readChunk = 500

// ReadBarsAt returns the stored bars at the given timestamps keyed by unix
// seconds. Missing timestamps are absent from the map.
func (s *Store) ReadBarsAt(ctx context.Context, key model.SeriesKey, ts []time.Time) (map[int64]model.Bar, error) {
	out := make(map[int64]model.Bar, len(ts))
	table, ok, err := s.existingTable(ctx, key.Market, key.Interval)
	if err != nil {
		return nil, err
	}
	if !ok || len(ts) == 0 {
		return out, nil
	}

	for start := 0; start < len(ts); start += readChunk {
		end := start + readChunk
		if end > len(ts) {
			end = len(ts)
		}
		chunk := ts[start:end]

		args := make([]any, 0, len(chunk)+1)
		args = append(args, key.Symbol)
		for _, t := range chunk {
			args = append(args, t.Unix())
		}
		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(chunk)), ",")

		bars, err := s.queryBars(ctx, `
			SELECT ts, open, high, low, close, volume
			FROM "`+table+`"
			WHERE symbol = ? AND ts IN (`+placeholders+`)
		`, args...)
		if err != nil {
			return nil, fmt.Errorf("sqlite read %s: %w", key, err)
		}
		for _, b := range bars {
			out[b.Unix()] = b
		}
	}
	return out, nil
}

// ReadTrailing returns the last n stored bars in ascending order.
func (s *Store) ReadTrailing(ctx context.Context, key model.SeriesKey, n int) ([]model.Bar, error) {
	table, ok, err := s.existingTable(ctx, key.Market, key.Interval)
	if err != nil {
		return nil, err
	}
	if !ok || n <= 0 {
		return nil, nil
	}

	bars, err := s.queryBars(ctx, `
		SELECT ts, open, high, low, close, volume
		FROM "`+table+`"
		WHERE symbol = ?
		ORDER BY ts DESC
		LIMIT ?
	`, key.Symbol, n)
	if err != nil {
		return nil, fmt.Errorf("sqlite read trailing %s: %w", key, err)
	}
	for i, j := 0, len(bars)-1; i < j; i, j = i+1, j-1 {
		bars[i], bars[j] = bars[j], bars[i]
	}
	return bars, nil
}

// ReadRange returns stored bars with from <= ts <= to in ascending order.
func (s *Store) ReadRange(ctx context.Context, key model.SeriesKey, from, to time.Time) ([]model.Bar, error) {
	table, ok, err := s.existingTable(ctx, key.Market, key.Interval)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}

	bars, err := s.queryBars(ctx, `
		SELECT ts, open, high, low, close, volume
		FROM "`+table+`"
		WHERE symbol = ? AND ts >= ? AND ts <= ?
		ORDER BY ts ASC
	`, key.Symbol, from.Unix(), to.Unix())
	if err != nil {
		return nil, fmt.Errorf("sqlite read range %s: %w", key, err)
	}
	return bars, nil
}

// ReadBefore returns up to n stored bars strictly before ts, in ascending
// order.
func (s *Store) ReadBefore(ctx context.Context, key model.SeriesKey, ts time.Time, n int) ([]model.Bar, error) {
	table, ok, err := s.existingTable(ctx, key.Market, key.Interval)
	if err != nil {
		return nil, err
	}
	if !ok || n <= 0 {
		return nil, nil
	}

	bars, err := s.queryBars(ctx, `
		SELECT ts, open, high, low, close, volume
		FROM "`+table+`"
		WHERE symbol = ? AND ts < ?
		ORDER BY ts DESC
		LIMIT ?
	`, key.Symbol, ts.Unix(), n)
	if err != nil {
		return nil, fmt.Errorf("sqlite read before %s: %w", key, err)
	}
	for i, j := 0, len(bars)-1; i < j; i, j = i+1, j-1 {
		bars[i], bars[j] = bars[j], bars[i]
	}
	return bars, nil
}

func (s *Store) queryBars(ctx context.Context, query string, args ...any) ([]model.Bar, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var bars []model.Bar
	for rows.Next() {
		var b model.Bar
		var tsUnix int64
		if err := rows.Scan(&tsUnix, &b.Open, &b.High, &b.Low, &b.Close, &b.Volume); err != nil {
			return nil, err
		}
		b.TS = time.Unix(tsUnix, 0).UTC()
		bars = append(bars, b)
	}
	return bars, rows.Err()
}

// Symbols lists the distinct symbols stored for a market and interval.
func (s *Store) Symbols(ctx context.Context, m model.Market, iv model.Interval) ([]string, error) {
	table, ok, err := s.existingTable(ctx, m, iv)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}

	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT symbol FROM "`+table+`" ORDER BY symbol`)
	if err != nil {
		return nil, fmt.Errorf("sqlite symbols %s: %w", table, err)
	}
	defer rows.Close()

	var symbols []string
	for rows.Next() {
		var sym string
		if err := rows.Scan(&sym); err != nil {
			return nil, fmt.Errorf("sqlite scan symbol: %w", err)
		}
		symbols = append(symbols, sym)
	}
	return symbols, rows.Err()
}

// TableStats describes one bar table.
type TableStats struct {
	Table    string    `json:"table"`
	Rows     int       `json:"rows"`
	Symbols  int       `json:"symbols"`
	Earliest time.Time `json:"earliest"`
	Latest   time.Time `json:"latest"`
}

// Stats returns row and symbol counts and the time span of a table.
// A missing table yields zero stats.
func (s *Store) Stats(ctx context.Context, m model.Market, iv model.Interval) (TableStats, error) {
	table, ok, err := s.existingTable(ctx, m, iv)
	if err != nil {
		return TableStats{}, err
	}
	st := TableStats{Table: table}
	if !ok {
		return st, nil
	}

	var earliest, latest sql.NullInt64
	err = s.db.QueryRowContext(ctx, `
		SELECT COUNT(1), COUNT(DISTINCT symbol), MIN(ts), MAX(ts) FROM "`+table+`"
	`).Scan(&st.Rows, &st.Symbols, &earliest, &latest)
	if err != nil {
		return st, fmt.Errorf("sqlite stats %s: %w", table, err)
	}
	if earliest.Valid {
		st.Earliest = time.Unix(earliest.Int64, 0).UTC()
	}
	if latest.Valid {
		st.Latest = time.Unix(latest.Int64, 0).UTC()
	}
	return st, nil
}
