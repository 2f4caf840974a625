package llm

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// retryableError marks transport failures, 429s and 5xx responses.
type retryableError struct {
	err error
}

func (e *retryableError) Error() string {
	return e.err.Error()
}

func (e *retryableError) Unwrap() error {
	return e.err
}

func isRetryableError(err error) bool {
	var re *retryableError
	return errors.As(err, &re)
}

// withRetries runs fn until it succeeds, returns a non-retryable error, or
// maxRetries retries have failed. Backoff doubles from base.
func withRetries[T any](ctx context.Context, maxRetries int, base time.Duration, fn func() (T, error)) (T, error) {
	var (
		zero    T
		lastErr error
	)
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, err
		}
		if attempt > 0 {
			backoff := base * time.Duration(1<<(attempt-1))
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return zero, ctx.Err()
			}
		}

		v, err := fn()
		if err == nil {
			return v, nil
		}
		lastErr = err
		if !isRetryableError(err) {
			return zero, err
		}
	}
	return zero, fmt.Errorf("max retries exceeded: %w", lastErr)
}
