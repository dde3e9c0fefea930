package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"strings"
	"time"

	"ohlcv-syncv1/internal/model"
)

// WriteIndicators sets the indicator columns and pattern signals on existing
// bar rows in one transaction. NaN values are stored as NULL. It returns the
// number of rows updated; rows with no stored bar are ignored.
func (s *Store) WriteIndicators(ctx context.Context, key model.SeriesKey, rows []model.IndicatorRow) (int, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	table, err := s.EnsureTable(ctx, key.Market, key.Interval)
	if err != nil {
		return 0, err
	}

	sets := make([]string, 0, len(model.IndicatorColumns)+2)
	for _, col := range model.IndicatorColumns {
		sets = append(sets, col+" = ?")
	}
	sets = append(sets, model.ColPatterns+" = ?", "updated_at = ?")

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("sqlite begin indicators: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx, `UPDATE "`+table+`" SET `+strings.Join(sets, ", ")+` WHERE symbol = ? AND ts = ?`)
	if err != nil {
		tx.Rollback()
		return 0, fmt.Errorf("sqlite prepare indicators: %w", err)
	}
	defer stmt.Close()

	now := s.now().Unix()
	var updated int
	for _, r := range rows {
		args := make([]any, 0, len(sets)+2)
		for _, col := range model.IndicatorColumns {
			args = append(args, nullFloat(r.Values, col))
		}
		args = append(args, sql.NullString{String: r.Patterns, Valid: r.Patterns != ""}, now, key.Symbol, r.TS.Unix())

		res, err := stmt.ExecContext(ctx, args...)
		if err != nil {
			tx.Rollback()
			return 0, fmt.Errorf("sqlite write indicators %s@%d: %w", key, r.TS.Unix(), err)
		}
		if n, err := res.RowsAffected(); err == nil {
			updated += int(n)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("sqlite commit indicators: %w", err)
	}
	return updated, nil
}

// IndicatorsAt reads back the stored indicator values and pattern signals
// for one bar. NULL columns are absent from the map. ok is false when no
// bar is stored at ts.
func (s *Store) IndicatorsAt(ctx context.Context, key model.SeriesKey, tsUnix int64) (model.IndicatorRow, bool, error) {
	table, exists, err := s.existingTable(ctx, key.Market, key.Interval)
	if err != nil || !exists {
		return model.IndicatorRow{}, false, err
	}

	cols := append(append([]string{}, model.IndicatorColumns...), model.ColPatterns)
	dest := make([]sql.NullFloat64, len(model.IndicatorColumns))
	var patterns sql.NullString
	scan := make([]any, 0, len(cols))
	for i := range dest {
		scan = append(scan, &dest[i])
	}
	scan = append(scan, &patterns)

	err = s.db.QueryRowContext(ctx,
		`SELECT `+strings.Join(cols, ", ")+` FROM "`+table+`" WHERE symbol = ? AND ts = ?`,
		key.Symbol, tsUnix).Scan(scan...)
	if err == sql.ErrNoRows {
		return model.IndicatorRow{}, false, nil
	}
	if err != nil {
		return model.IndicatorRow{}, false, fmt.Errorf("sqlite read indicators %s@%d: %w", key, tsUnix, err)
	}

	row := model.IndicatorRow{
		TS:       time.Unix(tsUnix, 0).UTC(),
		Values:   make(map[string]float64),
		Patterns: patterns.String,
	}
	for i, col := range model.IndicatorColumns {
		if dest[i].Valid {
			row.Values[col] = dest[i].Float64
		}
	}
	return row, true, nil
}

func nullFloat(values map[string]float64, col string) sql.NullFloat64 {
	v, ok := values[col]
	if !ok || math.IsNaN(v) || math.IsInf(v, 0) {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: v, Valid: true}
}
