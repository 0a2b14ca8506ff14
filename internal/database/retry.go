package database

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"smsrelay/internal/constants"
	"smsrelay/internal/retry"
)

func writeBackoff() *retry.Backoff {
	return retry.NewBackoff(retry.Config{
		InitialDelay: time.Duration(constants.DefaultBackoffInitialMs) * time.Millisecond,
		MaxDelay:     time.Duration(constants.DefaultBackoffMaxSec) * time.Second,
		Multiplier:   2,
		MaxAttempts:  constants.DefaultDatabaseRetryAttempts,
	})
}

// withRetry runs a write that may hit SQLITE_BUSY.
func withRetry[T any](ctx context.Context, operationName string, operation func() (T, error)) (T, error) {
	var result T
	attempts := 0

	backoff := writeBackoff()
	err := backoff.RetryIf(ctx, func() error {
		attempts++
		var opErr error
		result, opErr = operation()
		return opErr
	}, isRetryableDBError)

	if err == nil {
		return result, nil
	}

	var zero T
	if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
		return zero, err
	}
	if !isRetryableDBError(err) {
		return zero, fmt.Errorf("%s failed (non-retryable): %w", operationName, err)
	}
	return zero, fmt.Errorf("%s failed after %d attempts: %w", operationName, attempts, err)
}

// isRetryableDBError reports whether SQLite is likely to succeed on a second try.
func isRetryableDBError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	msg := err.Error()
	return strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "database table is locked") ||
		strings.Contains(msg, "disk I/O error")
}
