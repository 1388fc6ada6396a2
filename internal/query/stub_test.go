package query

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sync"
	"sync/atomic"

	"github.com/aysihuniks/nhook/internal/db"
)

// stubPool is an in-memory db.Pool understanding the handful of statement
// shapes the executor issues.
type stubPool struct {
	mu      sync.Mutex
	columns map[string][]string                    // table -> column order
	rows    map[string]map[string]map[string]any // table -> identity -> column -> value

	available  atomic.Bool
	selects    atomic.Int64
	acquires   atomic.Int64
	releases   atomic.Int64
	commits    atomic.Int64
	rollbacks  atomic.Int64
	acquireErr error
	panicking  atomic.Bool

	// gate, when set, blocks every SELECT until it is closed.
	gate chan struct{}
}

func newStubPool() *stubPool {
	p := &stubPool{
		columns: make(map[string][]string),
		rows:    make(map[string]map[string]map[string]any),
	}
	p.available.Store(true)
	return p
}

func (p *stubPool) addRow(table string, cols []string, values ...any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.columns[table] = cols
	if p.rows[table] == nil {
		p.rows[table] = make(map[string]map[string]any)
	}
	row := make(map[string]any, len(cols))
	for i, c := range cols {
		row[c] = values[i]
	}
	p.rows[table][fmt.Sprint(values[0])] = row
}

func (p *stubPool) set(table, identity, column string, v any) int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	row, ok := p.rows[table][identity]
	if !ok {
		return 0
	}
	row[column] = v
	return 1
}

func (p *stubPool) Acquire(ctx context.Context) (db.Conn, error) {
	p.acquires.Add(1)
	if p.acquireErr != nil {
		return nil, p.acquireErr
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &stubConn{pool: p}, nil
}

func (p *stubPool) Available() bool            { return p.available.Load() }
func (p *stubPool) Ping(context.Context) error { return nil }
func (p *stubPool) Close()                     { p.available.Store(false) }
func (p *stubPool) DriverName() string         { return "stub" }
func (p *stubPool) Stats() db.PoolStats        { return db.PoolStats{Max: 10} }

var (
	selectColumnRe = regexp.MustCompile(`^SELECT "(\w+)" FROM "(\w+)" WHERE "(\w+)" = \$1 LIMIT 1$`)
	selectRowRe    = regexp.MustCompile(`^SELECT \* FROM "(\w+)" WHERE "(\w+)" = \$1 LIMIT 1$`)
	selectAllRe    = regexp.MustCompile(`^SELECT \* FROM "(\w+)"$`)
	updateRe       = regexp.MustCompile(`^UPDATE "(\w+)" SET "(\w+)" = \$1 WHERE "player" = \$2$`)
)

type stubConn struct {
	pool     *stubPool
	released atomic.Bool
}

func (c *stubConn) waitGate(ctx context.Context) error {
	c.pool.selects.Add(1)
	if c.pool.gate == nil {
		return nil
	}
	select {
	case <-c.pool.gate:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *stubConn) Exec(ctx context.Context, sql string, args ...any) (int64, error) {
	m := updateRe.FindStringSubmatch(sql)
	if m == nil {
		return 0, fmt.Errorf("syntax error in %q", sql)
	}
	return c.pool.set(m[1], fmt.Sprint(args[1]), m[2], args[0]), nil
}

func (c *stubConn) QueryRow(ctx context.Context, sql string, args ...any) db.Row {
	if c.pool.panicking.Load() {
		panic("driver bug")
	}
	if err := c.waitGate(ctx); err != nil {
		return stubRow{err: err}
	}
	m := selectColumnRe.FindStringSubmatch(sql)
	if m == nil {
		return stubRow{err: fmt.Errorf("syntax error in %q", sql)}
	}
	c.pool.mu.Lock()
	defer c.pool.mu.Unlock()
	row, ok := c.pool.rows[m[2]][fmt.Sprint(args[0])]
	if !ok {
		return stubRow{err: db.ErrNoRows}
	}
	v, ok := row[m[1]]
	if !ok {
		return stubRow{err: fmt.Errorf("column %q does not exist", m[1])}
	}
	return stubRow{value: v}
}

func (c *stubConn) Query(ctx context.Context, sql string, args ...any) (db.Rows, error) {
	if err := c.waitGate(ctx); err != nil {
		return nil, err
	}
	c.pool.mu.Lock()
	defer c.pool.mu.Unlock()

	if m := selectRowRe.FindStringSubmatch(sql); m != nil {
		cols := c.pool.columns[m[1]]
		row, ok := c.pool.rows[m[1]][fmt.Sprint(args[0])]
		if !ok {
			return &stubRows{cols: cols}, nil
		}
		return &stubRows{cols: cols, data: [][]any{rowValues(cols, row)}}, nil
	}
	if m := selectAllRe.FindStringSubmatch(sql); m != nil {
		cols := c.pool.columns[m[1]]
		out := &stubRows{cols: cols}
		for _, row := range c.pool.rows[m[1]] {
			out.data = append(out.data, rowValues(cols, row))
		}
		return out, nil
	}
	return nil, fmt.Errorf("syntax error in %q", sql)
}

func (c *stubConn) Begin(ctx context.Context) (db.Tx, error) {
	return &stubTx{conn: c}, nil
}

func (c *stubConn) Release() {
	if !c.released.Swap(true) {
		c.pool.releases.Add(1)
	}
}

func rowValues(cols []string, row map[string]any) []any {
	vals := make([]any, len(cols))
	for i, c := range cols {
		vals[i] = row[c]
	}
	return vals
}

// stubTx buffers updates and applies them on Commit.
type stubTx struct {
	conn    *stubConn
	pending []func()
	done    bool
}

func (t *stubTx) Exec(ctx context.Context, sql string, args ...any) (int64, error) {
	m := updateRe.FindStringSubmatch(sql)
	if m == nil {
		return 0, fmt.Errorf("syntax error in %q", sql)
	}
	table, column, identity, v := m[1], m[2], fmt.Sprint(args[1]), args[0]
	t.pending = append(t.pending, func() { t.conn.pool.set(table, identity, column, v) })
	return 1, nil
}

func (t *stubTx) QueryRow(ctx context.Context, sql string, args ...any) db.Row {
	return t.conn.QueryRow(ctx, sql, args...)
}

func (t *stubTx) Query(ctx context.Context, sql string, args ...any) (db.Rows, error) {
	return t.conn.Query(ctx, sql, args...)
}

func (t *stubTx) Commit(ctx context.Context) error {
	if t.done {
		return errors.New("tx closed")
	}
	t.done = true
	for _, fn := range t.pending {
		fn()
	}
	t.conn.pool.commits.Add(1)
	return nil
}

func (t *stubTx) Rollback(ctx context.Context) error {
	if t.done {
		return nil
	}
	t.done = true
	t.pending = nil
	t.conn.pool.rollbacks.Add(1)
	return nil
}

type stubRow struct {
	value any
	err   error
}

func (r stubRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	*(dest[0].(*any)) = r.value
	return nil
}

type stubRows struct {
	cols []string
	data [][]any
	pos  int
}

func (r *stubRows) Next() bool {
	if r.pos >= len(r.data) {
		return false
	}
	r.pos++
	return true
}

func (r *stubRows) Columns() []string      { return r.cols }
func (r *stubRows) Values() ([]any, error) { return r.data[r.pos-1], nil }
func (r *stubRows) Err() error             { return nil }
func (r *stubRows) Close()                 {}

func (r *stubRows) Scan(dest ...any) error {
	for i, v := range r.data[r.pos-1] {
		*(dest[i].(*any)) = v
	}
	return nil
}
