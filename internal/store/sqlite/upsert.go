package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"strings"
	"time"

	"ohlcv-syncv1/internal/model"

	"github.com/google/uuid"
)

// Apply persists the rows of a change decision. Rows go to a TEMP staging
// table on a pinned connection and are merged into the bar table in one
// transaction keyed on (symbol, ts). If staging or the merge fails, rows are
// written one at a time and failures are counted per row.
//
// On a returned error no row was considered and every row is counted as
// failed.
func (s *Store) Apply(ctx context.Context, key model.SeriesKey, d model.ChangeDecision) (model.ApplyResult, error) {
	if d.Mode == model.ModeSkip || len(d.Rows) == 0 {
		return model.ApplyResult{}, nil
	}
	rows := d.Rows

	table, err := s.EnsureTable(ctx, key.Market, key.Interval)
	if err != nil {
		return model.ApplyResult{Failed: len(rows)}, err
	}

	// TEMP tables are private to a connection: staging and merge must share one.
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return model.ApplyResult{Failed: len(rows)}, fmt.Errorf("sqlite conn: %w", err)
	}
	defer conn.Close()

	res, err := s.mergeViaStaging(ctx, conn, table, key.Symbol, rows)
	if err == nil {
		return res, nil
	}

	log.Printf("[sqlite] merge into %s for %s failed, falling back to per-row: %v", table, key.Symbol, err)
	return s.applyPerRow(ctx, conn, table, key.Symbol, rows), nil
}

func (s *Store) mergeViaStaging(ctx context.Context, conn *sql.Conn, table, symbol string, rows []model.Bar) (model.ApplyResult, error) {
	staging := "staging_" + strings.ReplaceAll(uuid.NewString(), "-", "")
	if _, err := conn.ExecContext(ctx, fmt.Sprintf(stagingDDL, staging)); err != nil {
		return model.ApplyResult{}, fmt.Errorf("create staging: %w", err)
	}
	defer func() {
		// Drop even when ctx is already cancelled; the connection goes back to the pool.
		dropCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if _, err := conn.ExecContext(dropCtx, `DROP TABLE IF EXISTS temp."`+staging+`"`); err != nil {
			log.Printf("[sqlite] drop staging %s: %v", staging, err)
		}
	}()

	if err := fillStaging(ctx, conn, staging, symbol, rows); err != nil {
		return model.ApplyResult{}, fmt.Errorf("fill staging: %w", err)
	}

	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return model.ApplyResult{}, fmt.Errorf("begin merge: %w", err)
	}

	var inserted int
	err = tx.QueryRowContext(ctx, `
		SELECT COUNT(DISTINCT st.ts) FROM temp."`+staging+`" st
		WHERE NOT EXISTS (SELECT 1 FROM "`+table+`" t WHERE t.symbol = st.symbol AND t.ts = st.ts)
	`).Scan(&inserted)
	if err != nil {
		tx.Rollback()
		return model.ApplyResult{}, fmt.Errorf("count new keys: %w", err)
	}

	now := s.now().Unix()
	// WHERE true disambiguates ON CONFLICT from a join constraint.
	_, err = tx.ExecContext(ctx, `
		INSERT INTO "`+table+`" (symbol, ts, open, high, low, close, volume, created_at, updated_at)
		SELECT symbol, ts, open, high, low, close, volume, ?, ? FROM temp."`+staging+`" WHERE true
		ON CONFLICT (symbol, ts) DO UPDATE SET
			open       = excluded.open,
			high       = excluded.high,
			low        = excluded.low,
			close      = excluded.close,
			volume     = excluded.volume,
			updated_at = excluded.updated_at
	`, now, now)
	if err != nil {
		tx.Rollback()
		return model.ApplyResult{}, fmt.Errorf("merge: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return model.ApplyResult{}, fmt.Errorf("commit merge: %w", err)
	}

	return model.ApplyResult{Inserted: inserted, Updated: len(rows) - inserted}, nil
}

func fillStaging(ctx context.Context, conn *sql.Conn, staging, symbol string, rows []model.Bar) error {
	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO temp."`+staging+`" (symbol, ts, open, high, low, close, volume)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		tx.Rollback()
		return err
	}
	defer stmt.Close()

	for _, b := range rows {
		if _, err := stmt.ExecContext(ctx, symbol, b.Unix(), b.Open, b.High, b.Low, b.Close, b.Volume); err != nil {
			tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

// applyPerRow checks each key and inserts or updates it on its own.
// A row that fails is counted and the rest continue.
func (s *Store) applyPerRow(ctx context.Context, conn *sql.Conn, table, symbol string, rows []model.Bar) model.ApplyResult {
	var res model.ApplyResult
	res.Fallback = true

	for _, b := range rows {
		now := s.now().Unix()

		var exists int
		err := conn.QueryRowContext(ctx,
			`SELECT COUNT(1) FROM "`+table+`" WHERE symbol = ? AND ts = ?`, symbol, b.Unix()).Scan(&exists)
		if err != nil {
			log.Printf("[sqlite] exists check %s %s@%d: %v", table, symbol, b.Unix(), err)
			res.Failed++
			continue
		}

		if exists > 0 {
			_, err = conn.ExecContext(ctx, `
				UPDATE "`+table+`" SET open = ?, high = ?, low = ?, close = ?, volume = ?, updated_at = ?
				WHERE symbol = ? AND ts = ?
			`, b.Open, b.High, b.Low, b.Close, b.Volume, now, symbol, b.Unix())
			if err != nil {
				log.Printf("[sqlite] update %s %s@%d: %v", table, symbol, b.Unix(), err)
				res.Failed++
				continue
			}
			res.Updated++
			continue
		}

		_, err = conn.ExecContext(ctx, `
			INSERT INTO "`+table+`" (symbol, ts, open, high, low, close, volume, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, symbol, b.Unix(), b.Open, b.High, b.Low, b.Close, b.Volume, now, now)
		if err != nil {
			log.Printf("[sqlite] insert %s %s@%d: %v", table, symbol, b.Unix(), err)
			res.Failed++
			continue
		}
		res.Inserted++
	}
	return res
}
