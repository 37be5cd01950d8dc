// Package mysql opens the User Store on MySQL through go-sql-driver/mysql.
package mysql

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"syscall"
	"time"

	mysqldrv "github.com/go-sql-driver/mysql"

	"github.com/sakif/user-manager/internal/apperror"
	"github.com/sakif/user-manager/internal/migrations"
	"github.com/sakif/user-manager/internal/repository"
	"github.com/sakif/user-manager/internal/repository/sqlstore"
)

// ER_DUP_ENTRY
const errDuplicateEntry = 1062

// PoolConfig bounds the connection pool.
type PoolConfig struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		MaxOpenConns:    50,
		MaxIdleConns:    10,
		ConnMaxLifetime: time.Hour,
		ConnMaxIdleTime: 30 * time.Minute,
	}
}

// New connects to MySQL with dsn, applies migrations and returns a Store.
// The DSN should carry parseTime=true and clientFoundRows=true; see
// config.Config.MySQLDSN.
func New(ctx context.Context, dsn string, pool PoolConfig, policy repository.RetryPolicy, logger *slog.Logger) (*sqlstore.Store, error) {
	conn, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("mysql: opening database: %w", err)
	}
	conn.SetMaxOpenConns(pool.MaxOpenConns)
	conn.SetMaxIdleConns(pool.MaxIdleConns)
	conn.SetConnMaxLifetime(pool.ConnMaxLifetime)
	conn.SetConnMaxIdleTime(pool.ConnMaxIdleTime)

	store := sqlstore.New(conn, Dialect{}, policy)

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := store.Ping(pingCtx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("mysql: pinging database: %w", apperror.CauseOf(err))
	}

	if err := migrations.Up(ctx, conn, migrations.DialectMySQL, logger); err != nil {
		conn.Close()
		return nil, fmt.Errorf("mysql: %w", err)
	}

	return store, nil
}

// Dialect classifies go-sql-driver/mysql errors.
type Dialect struct{}

var _ sqlstore.Dialect = Dialect{}

func (Dialect) Name() string { return migrations.DialectMySQL }

// DuplicateField recognises ER_DUP_ENTRY. The key name in the message
// identifies the column, for example:
//
//	Duplicate entry 'bob@x.com' for key 'users.uq_users_email'
func (Dialect) DuplicateField(err error) (string, bool) {
	var me *mysqldrv.MySQLError
	if !errors.As(err, &me) || me.Number != errDuplicateEntry {
		return "", false
	}
	switch {
	case strings.Contains(me.Message, "uq_users_email"):
		return "email", true
	case strings.Contains(me.Message, "uq_users_username"):
		return "username", true
	default:
		return "", true
	}
}

// Transient reports connection-level failures: a dropped or refused
// connection, a network timeout, or a pool connection gone bad.
func (Dialect) Transient(err error) bool {
	switch {
	case errors.Is(err, driver.ErrBadConn),
		errors.Is(err, mysqldrv.ErrInvalidConn),
		errors.Is(err, sql.ErrConnDone),
		errors.Is(err, syscall.ECONNREFUSED),
		errors.Is(err, syscall.ECONNRESET),
		errors.Is(err, syscall.EPIPE):
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}
