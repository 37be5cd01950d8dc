// Package migrations embeds the schema for each supported engine and applies
// it with goose.
package migrations

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/pressly/goose/v3"
)

// Goose dialect names.
const (
	DialectMySQL  = "mysql"
	DialectSQLite = "sqlite3"
)

//go:embed mysql/*.sql sqlite/*.sql
var FS embed.FS

// goose keeps its base FS, dialect and logger in package globals, so runs
// are serialised.
var mu sync.Mutex

// Up applies every pending migration for dialect to db.
func Up(ctx context.Context, db *sql.DB, dialect string, logger *slog.Logger) error {
	dir, err := dirFor(dialect)
	if err != nil {
		return err
	}

	mu.Lock()
	defer mu.Unlock()

	goose.SetBaseFS(FS)
	goose.SetLogger(&gooseLogger{logger: logger})
	if err := goose.SetDialect(dialect); err != nil {
		return fmt.Errorf("migrations: setting dialect %q: %w", dialect, err)
	}

	if err := goose.UpContext(ctx, db, dir); err != nil {
		return fmt.Errorf("migrations: applying %s migrations: %w", dir, err)
	}
	return nil
}

func dirFor(dialect string) (string, error) {
	switch dialect {
	case DialectMySQL:
		return "mysql", nil
	case DialectSQLite:
		return "sqlite", nil
	default:
		return "", fmt.Errorf("migrations: unsupported dialect %q", dialect)
	}
}

// gooseLogger routes goose output through slog.
type gooseLogger struct {
	logger *slog.Logger
}

func (l *gooseLogger) Printf(format string, v ...interface{}) {
	l.logger.Debug(strings.TrimSpace(fmt.Sprintf(format, v...)), slog.String("component", "goose"))
}

func (l *gooseLogger) Fatalf(format string, v ...interface{}) {
	l.logger.Error(strings.TrimSpace(fmt.Sprintf(format, v...)), slog.String("component", "goose"))
	os.Exit(1)
}
