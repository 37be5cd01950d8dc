// Package repository defines the User Store contract and the retry policy
// shared by its SQL backends.
package repository

import (
	"context"

	"github.com/sakif/user-manager/internal/model"
)

// UserRepository owns the users table.
//
// Lookups return an apperror NotFound when no row matches. Uniqueness
// violations surface as apperror DuplicateKey, and persistence failures
// that survive the retry policy as apperror StoreFailure.
type UserRepository interface {
	// FindByUsernameOrEmail matches identifier against either column.
	FindByUsernameOrEmail(ctx context.Context, identifier string) (*model.User, error)
	// ExistsByUsernameOrEmail returns a row whose username equals username
	// or whose email equals email.
	ExistsByUsernameOrEmail(ctx context.Context, username, email string) (*model.User, error)
	// Insert stores user and fills in ID and CreatedAt.
	Insert(ctx context.Context, user *model.User) error
	FindByID(ctx context.Context, id int64) (*model.User, error)
	// ListAll returns every user by ascending id, without password hashes.
	ListAll(ctx context.Context) ([]model.User, error)
	// Update writes only the fields set in upd and returns the matched row count.
	Update(ctx context.Context, id int64, upd model.UserUpdate) (int64, error)
	DeleteByID(ctx context.Context, id int64) (int64, error)
}
