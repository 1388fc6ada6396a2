// Package query is the asynchronous cached query layer.
//
// Lookups are keyed by a cache.Fingerprint. A lookup is answered from the
// cache store when possible; otherwise it attaches to a pending operation
// for the same fingerprint, or starts one on the worker pool. Present values
// are committed to the store when the producer finishes; absent values and
// failures are handed to every attached caller and never cached.
//
// Every method returns immediately with a Future. Failures are reported
// through the Result, never by panicking on the caller's goroutine.
package query

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/aysihuniks/nhook/internal/cache"
	"github.com/aysihuniks/nhook/internal/circuitbreaker"
	"github.com/aysihuniks/nhook/internal/db"
	"github.com/aysihuniks/nhook/internal/inflight"
	"github.com/aysihuniks/nhook/internal/logging"
	"github.com/aysihuniks/nhook/internal/metrics"
	"github.com/aysihuniks/nhook/internal/observability"
	"github.com/aysihuniks/nhook/internal/rowcodec"
	"github.com/aysihuniks/nhook/internal/workerpool"
)

// Query kinds, used for metrics, spans and the query log.
const (
	KindColumn = "column"
	KindRow    = "row"
	KindUpdate = "update"
	KindBatch  = "batch"
	KindRaw    = "raw"
)

// Config configures an Executor.
type Config struct {
	IdentityColumn string
	CacheEnabled   bool
	CacheTTL       time.Duration
	QueryTimeout   time.Duration
}

// Executor runs lookups and statements asynchronously.
type Executor struct {
	cfg      Config
	pool     db.Pool
	store    *cache.Store
	runner   inflight.Submitter
	registry *inflight.Registry[cache.Fingerprint, string]
	breaker  *circuitbreaker.Breaker

	cacheEnabled atomic.Bool
}

// Option customizes an Executor.
type Option func(*Executor)

// WithBreaker guards the pool with b. Without it every request is allowed.
func WithBreaker(b *circuitbreaker.Breaker) Option {
	return func(e *Executor) { e.breaker = b }
}

// New wires an executor from its collaborators. The caller owns their
// lifecycles: start the store sweep and the worker pool before use and stop
// them after the last request.
func New(cfg Config, pool db.Pool, store *cache.Store, runner inflight.Submitter, opts ...Option) *Executor {
	if cfg.IdentityColumn == "" {
		cfg.IdentityColumn = "player"
	}
	if cfg.QueryTimeout <= 0 {
		cfg.QueryTimeout = 30 * time.Second
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = store.DefaultTTL()
	}
	e := &Executor{
		cfg:      cfg,
		pool:     pool,
		store:    store,
		runner:   runner,
		registry: inflight.NewRegistry[cache.Fingerprint, string](runner),
	}
	e.cacheEnabled.Store(cfg.CacheEnabled)
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// SetCacheEnabled turns result caching on or off at runtime.
func (e *Executor) SetCacheEnabled(on bool) {
	e.cacheEnabled.Store(on)
}

// CacheEnabled reports whether lookups use the cache store.
func (e *Executor) CacheEnabled() bool {
	return e.cacheEnabled.Load()
}

// FetchColumn resolves to the textual value of column for identity. SQL
// NULL and a missing row both resolve absent.
func (e *Executor) FetchColumn(ctx context.Context, table, column, identity string) *inflight.Future[string] {
	if err := checkIdentifiers(table, column); err != nil {
		return e.reject(err)
	}
	if err := checkIdentity(identity); err != nil {
		return e.reject(err)
	}

	table, column = FoldIdentifier(table), FoldIdentifier(column)
	fp := cache.ColumnKey(table, column, identity)
	sql := fmt.Sprintf("SELECT %s FROM %s WHERE %s = $1 LIMIT 1",
		quote(column), quote(table), quote(e.cfg.IdentityColumn))

	return e.fetch(ctx, KindColumn, fp, func(ctx context.Context, conn db.Conn) (string, bool, error) {
		var v any
		err := conn.QueryRow(ctx, sql, identity).Scan(&v)
		if db.IsNoRows(err) {
			return "", false, nil
		}
		if err != nil {
			return "", false, err
		}
		s, ok := rowcodec.Text(v)
		return s, ok, nil
	})
}

// FetchRow resolves to the whole row for identity encoded as a JSON object
// with columns in select order.
func (e *Executor) FetchRow(ctx context.Context, table, identity string) *inflight.Future[string] {
	if err := checkIdentifiers(table); err != nil {
		return e.reject(err)
	}
	if err := checkIdentity(identity); err != nil {
		return e.reject(err)
	}

	table = FoldIdentifier(table)
	fp := cache.RowKey(table, identity)
	sql := fmt.Sprintf("SELECT * FROM %s WHERE %s = $1 LIMIT 1", quote(table), quote(e.cfg.IdentityColumn))

	return e.fetch(ctx, KindRow, fp, func(ctx context.Context, conn db.Conn) (string, bool, error) {
		rows, err := conn.Query(ctx, sql, identity)
		if err != nil {
			return "", false, err
		}
		defer rows.Close()

		if !rows.Next() {
			return "", false, rows.Err()
		}
		values, err := rows.Values()
		if err != nil {
			return "", false, err
		}
		row, err := rowcodec.NewRow(rows.Columns(), values)
		if err != nil {
			return "", false, err
		}
		encoded, err := row.Encode()
		if err != nil {
			return "", false, err
		}
		return encoded, true, nil
	})
}

// fetch is the shared cache → registry → producer path for lookups.
func (e *Executor) fetch(ctx context.Context, kind string, fp cache.Fingerprint, fn work[string]) *inflight.Future[string] {
	if e.cacheEnabled.Load() {
		if v, ok := e.store.Get(fp); ok {
			return inflight.Completed(v)
		}
	}
	if !e.pool.Available() {
		return e.unavailable(kind, fp)
	}

	// Taken before the producer is submitted, so any invalidation that
	// races the read keeps its result out of the store.
	epoch := e.store.Epoch()
	produce := func() inflight.Result[string] {
		return execute(e, ctx, kind, fp, fn)
	}
	commit := func(res inflight.Result[string]) {
		if errors.Is(res.Err, workerpool.ErrSaturated) {
			logging.Op().Warn("query rejected, worker queue full", "kind", kind, "key", fp.LogValue())
			return
		}
		if res.Err == nil && res.OK && e.cacheEnabled.Load() {
			e.store.PutIfUnchanged(fp, res.Value, e.cfg.CacheTTL, epoch)
		}
	}

	future, _ := e.registry.GetOrCreate(fp, produce, commit)
	return future
}

func (e *Executor) reject(err error) *inflight.Future[string] {
	metrics.RecordRejected("invalid_identifier")
	logging.Op().Warn("query rejected", "error", err)
	return inflight.Failed[string](err)
}

func (e *Executor) unavailable(kind string, fp cache.Fingerprint) *inflight.Future[string] {
	metrics.RecordRejected("pool_unavailable")
	logging.Op().Warn("database pool unavailable", "kind", kind, "key", fp.LogValue())
	return inflight.Failed[string](ErrConnectionUnavailable)
}

// work is the body of a producer. It reports the value and whether it is
// present.
type work[T any] func(ctx context.Context, conn db.Conn) (T, bool, error)

// execute runs fn on a pooled connection under the query timeout, with the
// breaker, span, metrics and query log around it. ctx only contributes
// values (trace context); the producer is not cancelled when the caller that
// started it goes away.
func execute[T any](e *Executor, parent context.Context, kind string, fp cache.Fingerprint, fn work[T]) (res inflight.Result[T]) {
	start := time.Now()
	ctx, cancel := context.WithTimeout(context.WithoutCancel(parent), e.cfg.QueryTimeout)
	defer cancel()

	ctx, span := observability.StartClientSpan(ctx, "nhook.query."+kind,
		observability.AttrQueryKind.String(kind),
		observability.AttrTable.String(fp.Table),
		observability.AttrColumn.String(fp.Column),
		observability.AttrIdentity.String(fp.Identity),
	)
	defer span.End()

	allowed, recorded := false, false
	defer func() {
		if p := recover(); p != nil {
			logging.Op().Error("query producer panicked", "kind", kind, "key", fp.LogValue(), "panic", p)
			res = inflight.Result[T]{Err: fmt.Errorf("%w: panic: %v", ErrQueryFailed, p)}
			// A half-open breaker holds its slot until an outcome arrives.
			if allowed && !recorded {
				e.recordOutcome(nil)
			}
		}
		e.observe(kind, fp, start, res.OK, rowsAffected(res.Value), res.Err)
		span.SetAttributes(
			observability.AttrFound.Bool(res.OK),
			observability.AttrDurationMs.Int64(time.Since(start).Milliseconds()),
		)
		if res.Err != nil {
			observability.SetSpanError(span, res.Err)
		} else {
			observability.SetSpanOK(span)
		}
	}()

	if !e.breaker.Allow() {
		metrics.RecordRejected("breaker_open")
		return inflight.Result[T]{Err: fmt.Errorf("%w: circuit breaker open", ErrConnectionUnavailable)}
	}
	allowed = true

	conn, err := e.pool.Acquire(ctx)
	if err != nil {
		recorded = true
		e.recordOutcome(err)
		return inflight.Result[T]{Err: classify(err)}
	}
	defer conn.Release()

	v, ok, err := fn(ctx, conn)
	recorded = true
	e.recordOutcome(err)
	if err != nil {
		return inflight.Result[T]{Err: classify(err)}
	}
	return inflight.Result[T]{Value: v, OK: ok}
}

func (e *Executor) recordOutcome(err error) {
	if err != nil && db.IsConnectionError(err) {
		e.breaker.RecordFailure()
		return
	}
	e.breaker.RecordSuccess()
}

func (e *Executor) observe(kind string, fp cache.Fingerprint, start time.Time, found bool, rows int64, err error) {
	ms := time.Since(start).Milliseconds()
	metrics.Global().RecordQuery(kind, ms, err == nil, found)

	rec := &logging.QueryRecord{
		Kind:       kind,
		Table:      fp.Table,
		Column:     fp.Column,
		Identity:   fp.Identity,
		DurationMs: ms,
		Success:    err == nil,
		Found:      found,
		Rows:       rows,
	}
	if err != nil {
		rec.Error = err.Error()
		logging.Op().Warn("query failed", "kind", kind, "key", fp.LogValue(), "duration_ms", ms, "error", err)
	}
	logging.Queries().Log(rec)
}

func rowsAffected(v any) int64 {
	if n, ok := v.(int64); ok {
		return n
	}
	return 0
}
