// Package storage is the single embedded relational store for the trust
// core: transactions, ad-hoc SQL, single writer, survives restarts.
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	_ "modernc.org/sqlite"
)

// DB wraps a *sql.DB over modernc.org/sqlite. All mutating components
// serialize through this single handle per the single-writer discipline;
// reads may run concurrently.
type DB struct {
	conn   *sql.DB
	logger *slog.Logger
}

// New opens (or creates) the sqlite database at path. ":memory:" is valid
// for tests. WAL mode and a busy timeout are set so concurrent readers
// don't trip over the single writer.
func New(ctx context.Context, path string, logger *slog.Logger) (*DB, error) {
	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("storage: open: %w", err)
	}
	// A single physical connection enforces single-writer discipline and
	// avoids modernc.org/sqlite's multi-connection locking surprises.
	conn.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := conn.ExecContext(ctx, pragma); err != nil {
			conn.Close()
			return nil, fmt.Errorf("storage: apply %q: %w", pragma, err)
		}
	}

	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("storage: ping: %w", err)
	}

	return &DB{conn: conn, logger: logger}, nil
}

// Conn returns the underlying *sql.DB for use by other packages in this
// module (tests, migration runner).
func (db *DB) Conn() *sql.DB {
	return db.conn
}

// Ping checks connectivity to the database.
func (db *DB) Ping(ctx context.Context) error {
	return db.conn.PingContext(ctx)
}

// Close shuts down the connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

// execer is satisfied by both *sql.DB and *sql.Tx, letting write helpers
// run either standalone or inside a caller-managed transaction.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// WithTx runs fn inside a transaction, committing on success and rolling
// back on any error or panic.
func (db *DB) WithTx(ctx context.Context, fn func(tx *sql.Tx) error) (err error) {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("storage: begin tx: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()
	if err = fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("storage: commit tx: %w", err)
	}
	return nil
}
