package database

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"meshbridge/internal/constants"
	apperrors "meshbridge/internal/errors"
	"meshbridge/internal/retry"
)

var dbBackoff = retry.BackoffConfig{
	InitialDelay: time.Duration(constants.DefaultRetryBackoffMs) * time.Millisecond / 10,
	MaxDelay:     time.Duration(constants.DefaultRetryBackoffMs) * time.Millisecond,
	Multiplier:   2.0,
	MaxAttempts:  constants.DefaultDatabaseRetryAttempts,
	Jitter:       true,
}

// retryableDBOperation runs operation, retrying on transient sqlite errors.
func retryableDBOperation(ctx context.Context, operation func() error, operationName string) error {
	attempts := 0
	err := retry.NewBackoff(dbBackoff).RetryWithPredicate(ctx, func() error {
		attempts++
		return operation()
	}, isRetryableDBError)
	if err == nil {
		return nil
	}
	if !isRetryableDBError(err) {
		return apperrors.NewDatabaseError(operationName, fmt.Errorf("non-retryable: %w", err))
	}
	return apperrors.NewDatabaseError(operationName, fmt.Errorf("gave up after %d attempts: %w", attempts, err)).
		WithContext("attempts", attempts)
}

// isRetryableDBError determines if a database error is worth retrying
func isRetryableDBError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	errStr := err.Error()
	for _, transient := range []string{"database is locked", "database table is locked", "disk I/O error", "SQLITE_BUSY"} {
		if strings.Contains(errStr, transient) {
			return true
		}
	}
	return false
}
