package db

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNoRows is returned by Row.Scan when a query matched nothing.
var ErrNoRows = pgx.ErrNoRows

// PostgresConfig configures a PostgresPool.
type PostgresConfig struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	ConnectTimeout  time.Duration // bound on dialing a new connection
	AcquireTimeout  time.Duration // bound on waiting for a free connection
	MaxConnIdleTime time.Duration
	MaxConnLifetime time.Duration
}

// PostgresPool implements Pool on top of pgxpool.
type PostgresPool struct {
	pool           *pgxpool.Pool
	acquireTimeout time.Duration
	closed         atomic.Bool
}

var _ Pool = (*PostgresPool)(nil)

// NewPostgresPool creates the pool and verifies connectivity.
func NewPostgresPool(ctx context.Context, cfg PostgresConfig) (*PostgresPool, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("postgres DSN is required")
	}

	pcfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres DSN: %w", err)
	}
	if cfg.MaxConns > 0 {
		pcfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 && cfg.MinConns <= pcfg.MaxConns {
		pcfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnIdleTime > 0 {
		pcfg.MaxConnIdleTime = cfg.MaxConnIdleTime
	}
	if cfg.MaxConnLifetime > 0 {
		pcfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	if cfg.ConnectTimeout > 0 {
		pcfg.ConnConfig.ConnectTimeout = cfg.ConnectTimeout
	}

	pool, err := pgxpool.NewWithConfig(ctx, pcfg)
	if err != nil {
		return nil, fmt.Errorf("create postgres pool: %w", err)
	}

	p := &PostgresPool{pool: pool, acquireTimeout: cfg.AcquireTimeout}
	if err := p.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return p, nil
}

func (p *PostgresPool) Acquire(ctx context.Context) (Conn, error) {
	if p.closed.Load() {
		return nil, ErrPoolClosed
	}
	if p.acquireTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.acquireTimeout)
		defer cancel()
	}
	c, err := p.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire connection: %w", err)
	}
	return &pgConn{conn: c}, nil
}

func (p *PostgresPool) Available() bool {
	return p.pool != nil && !p.closed.Load()
}

func (p *PostgresPool) Ping(ctx context.Context) error {
	if !p.Available() {
		return ErrPoolClosed
	}
	return p.pool.Ping(ctx)
}

func (p *PostgresPool) Stats() PoolStats {
	if p.pool == nil {
		return PoolStats{}
	}
	st := p.pool.Stat()
	return PoolStats{
		Acquired:      st.AcquiredConns(),
		Idle:          st.IdleConns(),
		Total:         st.TotalConns(),
		Max:           st.MaxConns(),
		EmptyAcquires: st.EmptyAcquireCount(),
	}
}

func (p *PostgresPool) Close() {
	if p.closed.Swap(true) {
		return
	}
	if p.pool != nil {
		p.pool.Close()
	}
}

func (p *PostgresPool) DriverName() string { return "postgres" }

type pgConn struct {
	conn *pgxpool.Conn
}

func (c *pgConn) Exec(ctx context.Context, sql string, args ...any) (int64, error) {
	tag, err := c.conn.Exec(ctx, sql, args...)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (c *pgConn) QueryRow(ctx context.Context, sql string, args ...any) Row {
	return c.conn.QueryRow(ctx, sql, args...)
}

func (c *pgConn) Query(ctx context.Context, sql string, args ...any) (Rows, error) {
	rows, err := c.conn.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	return &pgRows{Rows: rows}, nil
}

func (c *pgConn) Begin(ctx context.Context) (Tx, error) {
	tx, err := c.conn.Begin(ctx)
	if err != nil {
		return nil, err
	}
	return &pgTx{tx: tx}, nil
}

func (c *pgConn) Release() { c.conn.Release() }

type pgTx struct {
	tx pgx.Tx
}

func (t *pgTx) Exec(ctx context.Context, sql string, args ...any) (int64, error) {
	tag, err := t.tx.Exec(ctx, sql, args...)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (t *pgTx) QueryRow(ctx context.Context, sql string, args ...any) Row {
	return t.tx.QueryRow(ctx, sql, args...)
}

func (t *pgTx) Query(ctx context.Context, sql string, args ...any) (Rows, error) {
	rows, err := t.tx.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	return &pgRows{Rows: rows}, nil
}

func (t *pgTx) Commit(ctx context.Context) error { return t.tx.Commit(ctx) }

func (t *pgTx) Rollback(ctx context.Context) error {
	err := t.tx.Rollback(ctx)
	if errors.Is(err, pgx.ErrTxClosed) {
		return nil
	}
	return err
}

// pgRows adds column names to pgx.Rows.
type pgRows struct {
	pgx.Rows
}

func (r *pgRows) Columns() []string {
	fds := r.FieldDescriptions()
	cols := make([]string, len(fds))
	for i, fd := range fds {
		cols[i] = fd.Name
	}
	return cols
}

// IsNoRows reports whether err means a single-row query matched nothing.
func IsNoRows(err error) bool {
	return errors.Is(err, ErrNoRows)
}

// IsConnectionError reports whether err means the store could not be
// reached, as opposed to a statement the server rejected.
func IsConnectionError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrPoolClosed) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		// 08: connection exception, 53: insufficient resources, 57P: operator intervention
		return strings.HasPrefix(pgErr.Code, "08") ||
			strings.HasPrefix(pgErr.Code, "53") ||
			strings.HasPrefix(pgErr.Code, "57P")
	}
	var connectErr *pgconn.ConnectError
	if errors.As(err, &connectErr) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}
