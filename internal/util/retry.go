package util

import (
	"context"
	"errors"
	"time"
)

// maxRetryDelay caps the exponential backoff so long retry chains against a
// flapping endpoint don't sleep for minutes at a time.
const maxRetryDelay = 30 * time.Second

// Permanent wraps an error so Retry gives up immediately instead of burning
// the remaining attempts.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Retry calls fn up to maxAttempts times with exponential backoff starting at
// baseDelay, capped at 30s. It returns nil on the first successful call, or
// the last error if all attempts fail. Errors wrapped with Permanent stop the
// retry loop immediately. The function respects context cancellation between
// retries.
func Retry(ctx context.Context, maxAttempts int, baseDelay time.Duration, fn func() error) error {
	var err error
	delay := baseDelay

	for attempt := 0; attempt < maxAttempts; attempt++ {
		err = fn()
		if err == nil {
			return nil
		}

		var perm *permanentError
		if errors.As(err, &perm) {
			return perm.err
		}

		// Don't sleep after the last failed attempt.
		if attempt < maxAttempts-1 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			delay *= 2
			if delay > maxRetryDelay {
				delay = maxRetryDelay
			}
		}
	}

	return err
}
