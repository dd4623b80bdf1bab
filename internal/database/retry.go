package database

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"beam/internal/constants"
)

var retryableSQLiteMessages = []string{
	"database is locked",
	"database table is locked",
	"SQLITE_BUSY",
	"disk I/O error",
}

// withRetry runs op again while SQLite reports lock contention, backing off linearly
func withRetry(ctx context.Context, operationName string, op func() error) error {
	var lastErr error

	maxAttempts := constants.DefaultDatabaseRetryAttempts
	step := time.Duration(constants.DefaultRetryBackoffMs) * time.Millisecond
	maxBackoff := time.Duration(constants.DefaultMaxBackoffMs) * time.Millisecond

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = op()
		if lastErr == nil {
			return nil
		}
		if !isRetryableDBError(lastErr) {
			return fmt.Errorf("%s failed (non-retryable): %w", operationName, lastErr)
		}
		if attempt == maxAttempts {
			break
		}

		backoff := time.Duration(attempt) * step
		if backoff > maxBackoff {
			backoff = maxBackoff
		}

		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}

	return fmt.Errorf("%s failed after %d attempts: %w", operationName, maxAttempts, lastErr)
}

// isRetryableDBError reports transient SQLite contention. Cancellation,
// constraint and schema errors are never retried.
func isRetryableDBError(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	msg := err.Error()
	for _, m := range retryableSQLiteMessages {
		if strings.Contains(msg, m) {
			return true
		}
	}
	return false
}
