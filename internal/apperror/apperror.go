// Package apperror defines the error taxonomy shared by the store, the
// services and the HTTP boundary.
//
// Services and repositories return *AppError values. Each one unwraps to a
// sentinel, so callers branch with errors.Is and the handler package maps
// sentinels to status codes in a single place.
package apperror

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound           = errors.New("not found")
	ErrValidation         = errors.New("validation error")
	ErrDuplicateKey       = errors.New("duplicate key")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrUnauthenticated    = errors.New("unauthenticated")
	ErrForbidden          = errors.New("forbidden")
	ErrRateLimited        = errors.New("rate limited")
	ErrStore              = errors.New("store error")
)

type AppError struct {
	Err     error  // sentinel from the list above
	Message string // human-readable, safe to show to clients
	Field   string // optional: input field that caused the error
	Cause   error  // optional: underlying error, for logs only
}

func (e *AppError) Error() string {
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

func NotFound(resource, id string) *AppError {
	return &AppError{
		Err:     ErrNotFound,
		Message: fmt.Sprintf("%s not found with id %s", resource, id),
	}
}

func ValidationFailed(field, message string) *AppError {
	return &AppError{
		Err:     ErrValidation,
		Message: message,
		Field:   field,
	}
}

// DuplicateKey reports a uniqueness violation. field is empty when the
// colliding column could not be determined.
func DuplicateKey(field, message string) *AppError {
	return &AppError{
		Err:     ErrDuplicateKey,
		Message: message,
		Field:   field,
	}
}

// InvalidCredentials is the single login failure. The message is identical
// for an unknown identity and a wrong password.
func InvalidCredentials() *AppError {
	return &AppError{
		Err:     ErrInvalidCredentials,
		Message: "Invalid credentials",
	}
}

func Unauthenticated(message string) *AppError {
	return &AppError{
		Err:     ErrUnauthenticated,
		Message: message,
	}
}

// Forbidden returns an AppError indicating the caller lacks permission or
// presented a token that failed verification.
// HTTP handlers map this to 403 Forbidden.
func Forbidden(message string) *AppError {
	return &AppError{
		Err:     ErrForbidden,
		Message: message,
	}
}

func RateLimited(message string) *AppError {
	return &AppError{
		Err:     ErrRateLimited,
		Message: message,
	}
}

// StoreFailure wraps a persistence failure. op names the store operation
// ("insert user", "list users") and cause is kept for logging.
func StoreFailure(op string, cause error) *AppError {
	return &AppError{
		Err:     ErrStore,
		Message: fmt.Sprintf("store: %s failed", op),
		Cause:   cause,
	}
}

// CauseOf returns the underlying cause of an AppError in err's chain, or
// err itself when there is none.
func CauseOf(err error) error {
	var appErr *AppError
	if errors.As(err, &appErr) && appErr.Cause != nil {
		return appErr.Cause
	}
	return err
}
