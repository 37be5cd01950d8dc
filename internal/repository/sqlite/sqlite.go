// Package sqlite opens the User Store on SQLite, for local development and
// tests.
//
// modernc.org/sqlite is a pure Go translation of SQLite, so no C toolchain
// is needed. ":memory:" gives a throwaway database per Store.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	sqlitedrv "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/sakif/user-manager/internal/migrations"
	"github.com/sakif/user-manager/internal/repository"
	"github.com/sakif/user-manager/internal/repository/sqlstore"
)

// New opens the SQLite database at dbPath, applies pragmas and migrations,
// and returns a Store on it.
//
// dbPath examples:
//   - "data/users.db" → file-based database (persistent)
//   - ":memory:"      → in-memory database, gone on Close
//
// The pool is limited to one connection: SQLite serialises writers anyway,
// and an in-memory database only exists on the connection that created it.
func New(ctx context.Context, dbPath string, policy repository.RetryPolicy, logger *slog.Logger) (*sqlstore.Store, error) {
	conn, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("sqlite: opening database: %w", err)
	}
	conn.SetMaxOpenConns(1)

	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: pinging database: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	}
	for _, p := range pragmas {
		if _, err := conn.ExecContext(ctx, p); err != nil {
			conn.Close()
			return nil, fmt.Errorf("sqlite: %s: %w", p, err)
		}
	}

	if err := migrations.Up(ctx, conn, migrations.DialectSQLite, logger); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: %w", err)
	}

	return sqlstore.New(conn, Dialect{}, policy), nil
}

// Dialect classifies modernc.org/sqlite errors.
type Dialect struct{}

var _ sqlstore.Dialect = Dialect{}

func (Dialect) Name() string { return migrations.DialectSQLite }

// DuplicateField recognises SQLITE_CONSTRAINT_UNIQUE. SQLite reports the
// column rather than the constraint name:
//
//	UNIQUE constraint failed: users.email
func (Dialect) DuplicateField(err error) (string, bool) {
	msg := err.Error()

	var se *sqlitedrv.Error
	isUnique := errors.As(err, &se) && se.Code() == sqlite3.SQLITE_CONSTRAINT_UNIQUE
	if !isUnique && !strings.Contains(msg, "UNIQUE constraint failed") {
		return "", false
	}

	switch {
	case strings.Contains(msg, "users.email"):
		return "email", true
	case strings.Contains(msg, "users.username"):
		return "username", true
	default:
		return "", true
	}
}

// Transient treats a busy or locked database as retryable.
func (Dialect) Transient(err error) bool {
	var se *sqlitedrv.Error
	if !errors.As(err, &se) {
		return false
	}
	switch se.Code() & 0xff {
	case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED:
		return true
	}
	return false
}
