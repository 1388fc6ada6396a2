// Package db defines the pooled connection source the query layer consumes.
// The layer acquires a connection per operation, runs parameterized
// statements on it and releases it on every exit path. The interfaces keep
// the query layer independent of the driver; PostgresPool is the production
// implementation.
package db

import (
	"context"
	"errors"
)

// ErrPoolClosed is returned by Acquire after Close.
var ErrPoolClosed = errors.New("db: pool closed")

// Row represents a single row returned by a query.
type Row interface {
	Scan(dest ...any) error
}

// Rows represents a set of rows returned by a query.
type Rows interface {
	// Next advances to the next row, returning false when exhausted.
	Next() bool
	// Columns returns the result column names in select order.
	Columns() []string
	// Values returns the decoded values of the current row.
	Values() ([]any, error)
	// Scan reads column values from the current row.
	Scan(dest ...any) error
	// Err returns any error encountered during iteration.
	Err() error
	// Close releases the rows.
	Close()
}

// Executor can execute queries and statements. Both Conn and Tx satisfy
// this interface.
type Executor interface {
	// Exec executes a statement and returns the number of affected rows.
	Exec(ctx context.Context, sql string, args ...any) (int64, error)
	// QueryRow executes a query expected to return at most one row.
	QueryRow(ctx context.Context, sql string, args ...any) Row
	// Query executes a query that returns multiple rows.
	Query(ctx context.Context, sql string, args ...any) (Rows, error)
}

// Tx represents a database transaction. Implementations must ensure that
// Commit or Rollback is called exactly once; Rollback after Commit is a no-op.
type Tx interface {
	Executor
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// Conn is a connection checked out of the pool.
type Conn interface {
	Executor
	// Begin starts a transaction on this connection.
	Begin(ctx context.Context) (Tx, error)
	// Release returns the connection to the pool. It is safe to call once.
	Release()
}

// PoolStats is a point-in-time view of the pool.
type PoolStats struct {
	Acquired      int32 `json:"acquired"`
	Idle          int32 `json:"idle"`
	Total         int32 `json:"total"`
	Max           int32 `json:"max"`
	EmptyAcquires int64 `json:"empty_acquires"`
}

// Pool abstracts a bounded SQL connection pool.
type Pool interface {
	// Acquire checks out a connection, waiting at most until ctx is done.
	Acquire(ctx context.Context) (Conn, error)
	// Available reports whether the pool can hand out connections.
	Available() bool
	// Ping verifies database connectivity.
	Ping(ctx context.Context) error
	// Stats returns pool counters.
	Stats() PoolStats
	// Close releases all connections in the pool.
	Close()
	// DriverName returns the name of the underlying driver (e.g. "postgres").
	DriverName() string
}
