// Package sqlite persists bar series, indicators and pattern signals in
// per-market, per-interval SQLite tables.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"sync"
	"time"

	"ohlcv-syncv1/internal/model"

	"github.com/mattn/go-sqlite3"
)

const (
	driverName      = "sqlite3_ohlcv"
	defaultMaxConns = 4
	dsnOptions      = "?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000&_txlock=immediate"
)

var registerOnce sync.Once

// registerDriver installs a sqlite3 driver whose connections carry the
// bar_checksum aggregate.
func registerDriver() {
	registerOnce.Do(func() {
		sql.Register(driverName, &sqlite3.SQLiteDriver{
			ConnectHook: func(conn *sqlite3.SQLiteConn) error {
				return conn.RegisterAggregator("bar_checksum", newChecksumAggregate, true)
			},
		})
	})
}

// Config configures the store.
type Config struct {
	Path     string // path to SQLite database file, e.g. "data/bars.db"
	MaxConns int    // pool size; bounds the number of concurrent sync workers
}

// Store is the SQLite-backed bar store. It is safe for concurrent use by
// workers that each own a distinct series.
type Store struct {
	db       *sql.DB
	maxConns int
	now      func() time.Time

	mu     sync.Mutex
	tables map[string]struct{} // tables known to exist
}

// Open opens the database in WAL mode.
func Open(cfg Config) (*Store, error) {
	registerDriver()

	maxConns := cfg.MaxConns
	if maxConns <= 0 {
		maxConns = defaultMaxConns
	}

	db, err := sql.Open(driverName, cfg.Path+dsnOptions)
	if err != nil {
		return nil, fmt.Errorf("sqlite open: %w", err)
	}
	db.SetMaxOpenConns(maxConns)
	db.SetMaxIdleConns(maxConns)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite ping: %w", err)
	}

	log.Printf("[sqlite] opened database at %s (max_conns=%d)", cfg.Path, maxConns)
	return &Store{
		db:       db,
		maxConns: maxConns,
		now:      time.Now,
		tables:   make(map[string]struct{}),
	}, nil
}

// DB returns the underlying sql.DB for health checks.
func (s *Store) DB() *sql.DB { return s.db }

// MaxConns returns the connection pool size.
func (s *Store) MaxConns() int { return s.maxConns }

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// EnsureTable creates the table for a market and interval if it does not
// exist yet, and returns its name.
func (s *Store) EnsureTable(ctx context.Context, m model.Market, iv model.Interval) (string, error) {
	table, err := tableFor(m, iv)
	if err != nil {
		return "", err
	}

	s.mu.Lock()
	_, ok := s.tables[table]
	s.mu.Unlock()
	if ok {
		return table, nil
	}

	if _, err := s.db.ExecContext(ctx, createTableSQL(table)); err != nil {
		return "", fmt.Errorf("sqlite create %s: %w", table, err)
	}

	s.mu.Lock()
	s.tables[table] = struct{}{}
	s.mu.Unlock()
	return table, nil
}

// existingTable returns the table name and whether it exists, without
// creating it.
func (s *Store) existingTable(ctx context.Context, m model.Market, iv model.Interval) (string, bool, error) {
	table, err := tableFor(m, iv)
	if err != nil {
		return "", false, err
	}

	s.mu.Lock()
	_, ok := s.tables[table]
	s.mu.Unlock()
	if ok {
		return table, true, nil
	}

	var n int
	err = s.db.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM sqlite_master WHERE type = 'table' AND name = ?`, table).Scan(&n)
	if err != nil {
		return "", false, fmt.Errorf("sqlite lookup %s: %w", table, err)
	}
	if n == 0 {
		return table, false, nil
	}

	s.mu.Lock()
	s.tables[table] = struct{}{}
	s.mu.Unlock()
	return table, true, nil
}

func tableFor(m model.Market, iv model.Interval) (string, error) {
	known := false
	for _, km := range model.Markets {
		if km == m {
			known = true
			break
		}
	}
	if !known || !iv.Valid() {
		return "", fmt.Errorf("sqlite: no table for market %q interval %q", m, iv)
	}
	return model.TableName(m, iv), nil
}
