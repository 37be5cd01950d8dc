// Package sqlstore implements repository.UserRepository on database/sql.
//
// The SQL is plain parameterized statements with "?" placeholders, which
// both MySQL and SQLite accept. What differs between engines, recognising
// a unique violation and a transient connection failure, is supplied by a
// Dialect from the backend packages (repository/mysql, repository/sqlite).
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/sakif/user-manager/internal/apperror"
	"github.com/sakif/user-manager/internal/model"
	"github.com/sakif/user-manager/internal/repository"
)

// Dialect classifies driver errors for one database engine.
type Dialect interface {
	// Name is the goose dialect name ("mysql", "sqlite3").
	Name() string
	// DuplicateField reports whether err is a unique-constraint violation
	// and, when the driver message names the constraint, which column
	// ("username" or "email") collided.
	DuplicateField(err error) (field string, ok bool)
	// Transient reports whether err is a connectivity failure worth retrying.
	Transient(err error) bool
}

// compile-time check that *Store implements repository.UserRepository
var _ repository.UserRepository = (*Store)(nil)

// Store is the User Store over a *sql.DB connection pool.
type Store struct {
	db      *sql.DB
	dialect Dialect
	retry   repository.RetryPolicy
}

// New wraps an open pool. The caller has already run migrations.
func New(db *sql.DB, dialect Dialect, policy repository.RetryPolicy) *Store {
	return &Store{db: db, dialect: dialect, retry: policy}
}

// DB exposes the pool for migrations and health checks.
func (s *Store) DB() *sql.DB {
	return s.db
}

func (s *Store) Dialect() Dialect {
	return s.dialect
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Ping(ctx context.Context) error {
	return s.do(ctx, "ping", func(ctx context.Context) error {
		return s.db.PingContext(ctx)
	})
}

const userColumns = `id, username, email, password_hash, full_name, role, created_at`

func (s *Store) FindByUsernameOrEmail(ctx context.Context, identifier string) (*model.User, error) {
	return s.findOne(ctx, "find user by identifier", identifier,
		`SELECT `+userColumns+` FROM users WHERE username = ? OR email = ? ORDER BY id LIMIT 1`,
		identifier, identifier,
	)
}

func (s *Store) ExistsByUsernameOrEmail(ctx context.Context, username, email string) (*model.User, error) {
	return s.findOne(ctx, "check existing user", username,
		`SELECT `+userColumns+` FROM users WHERE username = ? OR email = ? ORDER BY id LIMIT 1`,
		username, email,
	)
}

func (s *Store) FindByID(ctx context.Context, id int64) (*model.User, error) {
	return s.findOne(ctx, "find user by id", strconv.FormatInt(id, 10),
		`SELECT `+userColumns+` FROM users WHERE id = ?`,
		id,
	)
}

// Insert stores user and fills in ID and CreatedAt. An empty role is stored
// as model.RoleUser.
//
// The unique constraints are the authority on duplicates: a row that slipped
// in after the caller's existence check still fails here with DuplicateKey.
//
// A transient failure can arrive after the INSERT has committed. When the
// retry then collides, the row is matched on username, email and password
// hash; the bcrypt salt makes the hash unique to this call, so a match is
// this insert and not a duplicate.
func (s *Store) Insert(ctx context.Context, user *model.User) error {
	if user.Role == "" {
		user.Role = model.RoleUser
	}
	createdAt := time.Now().UTC().Truncate(time.Second)

	var (
		id       int64
		attempts int
	)
	err := s.do(ctx, "insert user", func(ctx context.Context) error {
		attempts++
		res, err := s.db.ExecContext(ctx,
			`INSERT INTO users (username, email, password_hash, full_name, role, created_at)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			user.Username,
			user.Email,
			user.PasswordHash,
			user.FullName,
			string(user.Role),
			createdAt,
		)
		if err != nil {
			err = s.classify(err)
			if attempts > 1 && errors.Is(err, apperror.ErrDuplicateKey) {
				if ownID, ownAt, ok := s.findInserted(ctx, user); ok {
					id, createdAt = ownID, ownAt
					return nil
				}
			}
			return err
		}
		id, err = res.LastInsertId()
		return err
	})
	if err != nil {
		return err
	}

	user.ID = id
	user.CreatedAt = createdAt
	return nil
}

// findInserted looks for the row an earlier attempt of Insert wrote.
func (s *Store) findInserted(ctx context.Context, user *model.User) (int64, time.Time, bool) {
	var (
		id        int64
		createdAt time.Time
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, created_at FROM users WHERE username = ? AND email = ? AND password_hash = ?`,
		user.Username, user.Email, user.PasswordHash,
	).Scan(&id, &createdAt)
	if err != nil {
		return 0, time.Time{}, false
	}
	return id, createdAt, true
}

// ListAll returns every user in insertion order. password_hash is not
// selected, so PasswordHash is always empty in the result.
func (s *Store) ListAll(ctx context.Context) ([]model.User, error) {
	var users []model.User

	err := s.do(ctx, "list users", func(ctx context.Context) error {
		rows, err := s.db.QueryContext(ctx,
			`SELECT id, username, email, full_name, role, created_at FROM users ORDER BY id ASC`,
		)
		if err != nil {
			return err
		}
		defer rows.Close()

		users = make([]model.User, 0)
		for rows.Next() {
			var (
				u    model.User
				role string
			)
			if err := rows.Scan(&u.ID, &u.Username, &u.Email, &u.FullName, &role, &u.CreatedAt); err != nil {
				return fmt.Errorf("scanning user row: %w", err)
			}
			u.Role = model.Role(role)
			users = append(users, u)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}

	return users, nil
}

// Update writes only the fields set in upd. It fails with NotFound when no
// row has the given id, with DuplicateKey when a new username or email
// collides with another row, and with ValidationFailed when upd is empty.
func (s *Store) Update(ctx context.Context, id int64, upd model.UserUpdate) (int64, error) {
	set, args := updateClause(upd)
	if len(set) == 0 {
		return 0, apperror.ValidationFailed("", "no fields to update")
	}
	args = append(args, id)
	query := `UPDATE users SET ` + strings.Join(set, ", ") + ` WHERE id = ?`

	var affected int64
	err := s.do(ctx, "update user", func(ctx context.Context) error {
		res, err := s.db.ExecContext(ctx, query, args...)
		if err != nil {
			return s.classify(err)
		}
		affected, err = res.RowsAffected()
		if err != nil {
			return err
		}
		if affected == 0 {
			return apperror.NotFound("user", strconv.FormatInt(id, 10))
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	return affected, nil
}

func (s *Store) DeleteByID(ctx context.Context, id int64) (int64, error) {
	var affected int64
	err := s.do(ctx, "delete user", func(ctx context.Context) error {
		res, err := s.db.ExecContext(ctx, `DELETE FROM users WHERE id = ?`, id)
		if err != nil {
			return err
		}
		affected, err = res.RowsAffected()
		if err != nil {
			return err
		}
		if affected == 0 {
			return apperror.NotFound("user", strconv.FormatInt(id, 10))
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	return affected, nil
}

// updateClause builds the SET assignments for the fields present in upd, in
// a fixed column order.
func updateClause(upd model.UserUpdate) ([]string, []any) {
	var (
		set  []string
		args []any
	)
	if upd.Username != nil {
		set = append(set, "username = ?")
		args = append(args, *upd.Username)
	}
	if upd.Email != nil {
		set = append(set, "email = ?")
		args = append(args, *upd.Email)
	}
	if upd.FullName != nil {
		set = append(set, "full_name = ?")
		args = append(args, *upd.FullName)
	}
	return set, args
}

func (s *Store) findOne(ctx context.Context, op, key, query string, args ...any) (*model.User, error) {
	var u model.User

	err := s.do(ctx, op, func(ctx context.Context) error {
		var role string
		err := s.db.QueryRowContext(ctx, query, args...).Scan(
			&u.ID,
			&u.Username,
			&u.Email,
			&u.PasswordHash,
			&u.FullName,
			&role,
			&u.CreatedAt,
		)
		if errors.Is(err, sql.ErrNoRows) {
			return apperror.NotFound("user", key)
		}
		u.Role = model.Role(role)
		return err
	})
	if err != nil {
		return nil, err
	}

	return &u, nil
}

// do runs fn under the retry policy with this dialect's idea of transient.
func (s *Store) do(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	return s.retry.Do(ctx, op, s.dialect.Transient, fn)
}

// classify turns a unique violation into DuplicateKey and leaves every
// other error for the retry policy to judge.
func (s *Store) classify(err error) error {
	if field, ok := s.dialect.DuplicateField(err); ok {
		return DuplicateError(field)
	}
	return err
}

// DuplicateError builds the DuplicateKey error for a collided column.
func DuplicateError(field string) *apperror.AppError {
	switch field {
	case "email":
		return apperror.DuplicateKey(field, "Email already exists")
	case "username":
		return apperror.DuplicateKey(field, "Username already exists")
	default:
		return apperror.DuplicateKey("", "Username or email already exists")
	}
}
