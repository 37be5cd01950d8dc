package repository

import (
	"context"
	"errors"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/sakif/user-manager/internal/apperror"
)

const (
	defaultMaxRetries = 3
	defaultBaseDelay  = 100 * time.Millisecond
)

// RetryPolicy bounds the retries a store makes on transient failures.
// Delays grow exponentially from BaseDelay: 100ms, 200ms, 400ms by default.
type RetryPolicy struct {
	MaxRetries uint64
	BaseDelay  time.Duration
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxRetries: defaultMaxRetries, BaseDelay: defaultBaseDelay}
}

// Do runs fn, retrying it while transient reports its error as retryable.
//
// Errors that are already *apperror.AppError (NotFound, DuplicateKey,
// ValidationFailed) pass through untouched and are never retried. Any
// other failure, including a transient one that outlived the retries,
// comes back as apperror.StoreFailure(op, cause).
func (p RetryPolicy) Do(ctx context.Context, op string, transient func(error) bool, fn func(ctx context.Context) error) error {
	base := p.BaseDelay
	if base <= 0 {
		base = defaultBaseDelay
	}
	backoff := retry.WithMaxRetries(p.MaxRetries, retry.NewExponential(base))

	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		err := fn(ctx)
		if err != nil && !isLogical(err) && transient(err) {
			return retry.RetryableError(err)
		}
		return err
	})
	if err == nil || isLogical(err) {
		return err
	}
	return apperror.StoreFailure(op, err)
}

func isLogical(err error) bool {
	var appErr *apperror.AppError
	return errors.As(err, &appErr)
}
