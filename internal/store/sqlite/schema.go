package sqlite

import (
	"strings"

	"ohlcv-syncv1/internal/model"
)

// createTableSQL returns the DDL for one bar table and its indexes.
// Timestamps and audit columns are unix seconds.
func createTableSQL(table string) string {
	var b strings.Builder
	b.WriteString(`CREATE TABLE IF NOT EXISTS "` + table + `" (
		symbol      TEXT    NOT NULL,
		ts          INTEGER NOT NULL,
		open        REAL    NOT NULL,
		high        REAL    NOT NULL,
		low         REAL    NOT NULL,
		close       REAL    NOT NULL,
		volume      INTEGER NOT NULL DEFAULT 0,
`)
	for _, col := range model.IndicatorColumns {
		b.WriteString("\t\t" + col + " REAL,\n")
	}
	b.WriteString(`		pattern_signals TEXT,
		created_at  INTEGER NOT NULL DEFAULT (strftime('%s', 'now')),
		updated_at  INTEGER NOT NULL DEFAULT (strftime('%s', 'now')),
		UNIQUE (symbol, ts)
	);
	CREATE INDEX IF NOT EXISTS "idx_` + table + `_symbol_ts" ON "` + table + `" (symbol, ts DESC);
	CREATE INDEX IF NOT EXISTS "idx_` + table + `_ts" ON "` + table + `" (ts DESC);
`)
	return b.String()
}

const stagingDDL = `CREATE TEMP TABLE "%s" (
	symbol TEXT    NOT NULL,
	ts     INTEGER NOT NULL,
	open   REAL,
	high   REAL,
	low    REAL,
	close  REAL,
	volume INTEGER
)`
