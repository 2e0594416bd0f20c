// Package sqlite implements the ledger and store interfaces on an embedded
// SQLite database via mattn/go-sqlite3. It backs single-node deployments and
// the lifecycle tests.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"
)

// Schema mirrors the PostgreSQL migration. Decimals are TEXT so SQLite's
// numeric affinity never turns them into binary floats.
const Schema = `
CREATE TABLE IF NOT EXISTS portfolios (
	id                 TEXT PRIMARY KEY,
	user_id            TEXT      NOT NULL,
	name               TEXT      NOT NULL DEFAULT 'Main Portfolio',
	balance            TEXT      NOT NULL DEFAULT '0',
	demo_balance       TEXT      NOT NULL DEFAULT '0',
	total_realized_pnl TEXT      NOT NULL DEFAULT '0',
	is_default         BOOLEAN   NOT NULL DEFAULT 0,
	version            INTEGER   NOT NULL DEFAULT 0,
	created_at         TIMESTAMP NOT NULL,
	updated_at         TIMESTAMP NOT NULL
);
CREATE UNIQUE INDEX IF NOT EXISTS uq_portfolios_default ON portfolios (user_id) WHERE is_default;

CREATE TABLE IF NOT EXISTS trades (
	id             TEXT PRIMARY KEY,
	portfolio_id   TEXT      NOT NULL REFERENCES portfolios (id) ON DELETE RESTRICT,
	user_id        TEXT      NOT NULL,
	symbol         TEXT      NOT NULL,
	direction      TEXT      NOT NULL CHECK (direction IN ('buy', 'sell')),
	status         TEXT      NOT NULL CHECK (status IN ('pending', 'active', 'completed', 'cancelled')),
	entry_price    TEXT      NOT NULL,
	exit_price     TEXT,
	quantity       TEXT      NOT NULL,
	leverage       TEXT      NOT NULL DEFAULT '1',
	stop_loss      TEXT,
	take_profit    TEXT,
	realized_pnl   TEXT,
	is_demo        BOOLEAN   NOT NULL DEFAULT 0,
	ai_recommended BOOLEAN   NOT NULL DEFAULT 0,
	expires_at     TIMESTAMP,
	created_at     TIMESTAMP NOT NULL,
	closed_at      TIMESTAMP,
	close_reason   TEXT      NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_trades_user_created ON trades (user_id, created_at);
CREATE INDEX IF NOT EXISTS idx_trades_active_expiry ON trades (status, expires_at);

CREATE TABLE IF NOT EXISTS transactions (
	id           TEXT PRIMARY KEY,
	user_id      TEXT      NOT NULL,
	portfolio_id TEXT      NOT NULL REFERENCES portfolios (id) ON DELETE RESTRICT,
	type         TEXT      NOT NULL CHECK (type IN ('deposit', 'withdrawal')),
	amount       TEXT      NOT NULL,
	method       TEXT      NOT NULL DEFAULT 'DANA',
	status       TEXT      NOT NULL CHECK (status IN ('pending', 'processing', 'success', 'failed')),
	is_demo      BOOLEAN   NOT NULL DEFAULT 0,
	reference_id TEXT      NOT NULL UNIQUE,
	created_at   TIMESTAMP NOT NULL,
	completed_at TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_transactions_user_created ON transactions (user_id, created_at);

CREATE TABLE IF NOT EXISTS profiles (
	user_id        TEXT PRIMARY KEY,
	trading_mode   TEXT      NOT NULL DEFAULT 'demo' CHECK (trading_mode IN ('demo', 'real')),
	risk_tolerance INTEGER   NOT NULL DEFAULT 5 CHECK (risk_tolerance BETWEEN 1 AND 10),
	updated_at     TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS predictions (
	id                  TEXT PRIMARY KEY,
	symbol              TEXT      NOT NULL,
	prediction_type     TEXT      NOT NULL,
	predicted_direction TEXT      NOT NULL,
	confidence          REAL      NOT NULL,
	predicted_price     TEXT,
	timeframe           TEXT      NOT NULL,
	model_used          TEXT      NOT NULL,
	created_at          TIMESTAMP NOT NULL,
	expires_at          TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_predictions_expiry ON predictions (expires_at);

CREATE TABLE IF NOT EXISTS audit_log (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	event      TEXT      NOT NULL,
	detail     TEXT,
	created_at TIMESTAMP NOT NULL
);
`

// DB is an open SQLite database with the schema applied.
type DB struct {
	db *sql.DB
}

// Open opens (creating if needed) the database at path and applies Schema.
// Writers are serialised: every transaction begins IMMEDIATE and the pool
// holds a single connection.
func Open(path string) (*DB, error) {
	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000&_txlock=immediate&_foreign_keys=on", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(Schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: apply schema: %w", err)
	}
	return &DB{db: db}, nil
}

// SQL returns the underlying handle.
func (d *DB) SQL() *sql.DB {
	return d.db
}

// Ping checks the database is reachable.
func (d *DB) Ping(ctx context.Context) error {
	return d.db.PingContext(ctx)
}

// Close closes the database.
func (d *DB) Close() error {
	return d.db.Close()
}

// scanner is satisfied by *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

// queryer is satisfied by *sql.DB and *sql.Tx.
type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func isUniqueViolation(err error) bool {
	var sqlErr sqlite3.Error
	return errors.As(err, &sqlErr) && sqlErr.ExtendedCode == sqlite3.ErrConstraintUnique
}

// utc normalises times before they are written so TIMESTAMP text compares in
// chronological order.
func utc(t time.Time) time.Time {
	return t.UTC()
}

func utcPtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}

func nullDecimal(d *decimal.Decimal) decimal.NullDecimal {
	if d == nil {
		return decimal.NullDecimal{}
	}
	return decimal.NullDecimal{Decimal: *d, Valid: true}
}

func decimalPtr(n decimal.NullDecimal) *decimal.Decimal {
	if !n.Valid {
		return nil
	}
	d := n.Decimal
	return &d
}

func timePtr(n sql.NullTime) *time.Time {
	if !n.Valid {
		return nil
	}
	t := n.Time
	return &t
}

// withListOpts appends the time window, ordering, and pagination of opts to a
// query whose WHERE clause is already open.
func withListOpts(query string, args []any, timeCol string, since, until *time.Time, limit, offset int) (string, []any) {
	var b strings.Builder
	b.WriteString(query)
	if since != nil {
		b.WriteString(" AND " + timeCol + " >= ?")
		args = append(args, utc(*since))
	}
	if until != nil {
		b.WriteString(" AND " + timeCol + " <= ?")
		args = append(args, utc(*until))
	}
	b.WriteString(" ORDER BY " + timeCol + " DESC")
	if limit > 0 {
		b.WriteString(" LIMIT ?")
		args = append(args, limit)
		if offset > 0 {
			b.WriteString(" OFFSET ?")
			args = append(args, offset)
		}
	} else if offset > 0 {
		b.WriteString(" LIMIT -1 OFFSET ?")
		args = append(args, offset)
	}
	return b.String(), args
}
