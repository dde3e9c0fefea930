package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"ohlcv-syncv1/internal/model"
)

// Probe summarises the stored series: row count, time span, last update and
// the bar_checksum over (ts, close, volume). It returns nil, nil when the
// table or the symbol has no rows.
func (s *Store) Probe(ctx context.Context, key model.SeriesKey) (*model.SeriesMetadata, error) {
	table, ok, err := s.existingTable(ctx, key.Market, key.Interval)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}

	var (
		count     int
		earliest  sql.NullInt64
		latest    sql.NullInt64
		updatedAt sql.NullInt64
		checksum  sql.NullInt64
	)
	err = s.db.QueryRowContext(ctx, `
		SELECT COUNT(1), MIN(ts), MAX(ts), MAX(updated_at), bar_checksum(ts, close, volume)
		FROM "`+table+`"
		WHERE symbol = ?
	`, key.Symbol).Scan(&count, &earliest, &latest, &updatedAt, &checksum)
	if err != nil {
		return nil, fmt.Errorf("sqlite probe %s: %w", key, err)
	}
	if count == 0 {
		return nil, nil
	}

	meta := &model.SeriesMetadata{
		Symbol:      key.Symbol,
		Interval:    key.Interval,
		RecordCount: count,
		Earliest:    time.Unix(earliest.Int64, 0).UTC(),
		Latest:      time.Unix(latest.Int64, 0).UTC(),
		Checksum:    checksum.Int64,
	}
	if updatedAt.Valid {
		meta.LastUpdated = time.Unix(updatedAt.Int64, 0).UTC()
	}
	return meta, nil
}
