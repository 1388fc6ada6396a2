package query

import (
	"context"
	"errors"
	"fmt"

	"github.com/aysihuniks/nhook/internal/db"
)

var (
	// ErrConnectionUnavailable means the pool could not hand out a
	// connection, or the circuit breaker is open.
	ErrConnectionUnavailable = errors.New("database connection unavailable")
	// ErrQueryFailed means the database rejected the statement.
	ErrQueryFailed = errors.New("query failed")
	// ErrTimeout means the operation exceeded query.timeout-seconds.
	ErrTimeout = errors.New("query timed out")
	// ErrInvalidIdentifier means a table or column name failed validation.
	ErrInvalidIdentifier = errors.New("invalid identifier")
)

// classify maps a driver error onto one of the package sentinels while
// keeping the cause in the chain.
func classify(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrConnectionUnavailable), errors.Is(err, ErrQueryFailed),
		errors.Is(err, ErrTimeout), errors.Is(err, ErrInvalidIdentifier):
		return err
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%w: %w", ErrTimeout, err)
	case db.IsConnectionError(err):
		return fmt.Errorf("%w: %w", ErrConnectionUnavailable, err)
	default:
		return fmt.Errorf("%w: %w", ErrQueryFailed, err)
	}
}
