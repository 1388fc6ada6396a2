package query

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aysihuniks/nhook/internal/cache"
	"github.com/aysihuniks/nhook/internal/db"
	"github.com/aysihuniks/nhook/internal/inflight"
	"github.com/aysihuniks/nhook/internal/logging"
	"github.com/aysihuniks/nhook/internal/rowcodec"
)

// Statement is one parameterized statement of a batch.
type Statement struct {
	SQL  string
	Args []any
}

// ExecuteUpdate runs a mutating statement and resolves to the number of
// affected rows. It does not touch the cache; callers invalidate what the
// statement changed.
func (e *Executor) ExecuteUpdate(ctx context.Context, sql string, args ...any) *inflight.Future[int64] {
	if strings.TrimSpace(sql) == "" {
		return inflight.Failed[int64](fmt.Errorf("%w: empty statement", ErrQueryFailed))
	}
	if !e.pool.Available() {
		logging.Op().Warn("database pool unavailable", "kind", KindUpdate)
		return inflight.Failed[int64](ErrConnectionUnavailable)
	}
	return submit(e, KindUpdate, func() inflight.Result[int64] {
		return execute(e, ctx, KindUpdate, cache.Fingerprint{}, func(ctx context.Context, conn db.Conn) (int64, bool, error) {
			n, err := conn.Exec(ctx, sql, args...)
			if err != nil {
				return 0, false, err
			}
			return n, true, nil
		})
	})
}

// ExecuteBatch runs all statements in one transaction and resolves to the
// total number of affected rows. If any statement fails the transaction is
// rolled back and the result carries the error with a zero value.
func (e *Executor) ExecuteBatch(ctx context.Context, statements []Statement) *inflight.Future[int64] {
	if len(statements) == 0 {
		return inflight.Completed[int64](0)
	}
	if !e.pool.Available() {
		logging.Op().Warn("database pool unavailable", "kind", KindBatch)
		return inflight.Failed[int64](ErrConnectionUnavailable)
	}
	return submit(e, KindBatch, func() inflight.Result[int64] {
		return execute(e, ctx, KindBatch, cache.Fingerprint{}, func(ctx context.Context, conn db.Conn) (int64, bool, error) {
			return runBatch(ctx, conn, statements)
		})
	})
}

// ExecuteBatchParams runs sql once per parameter set, in one transaction.
func (e *Executor) ExecuteBatchParams(ctx context.Context, sql string, paramSets [][]any) *inflight.Future[int64] {
	statements := make([]Statement, len(paramSets))
	for i, args := range paramSets {
		statements[i] = Statement{SQL: sql, Args: args}
	}
	return e.ExecuteBatch(ctx, statements)
}

func runBatch(ctx context.Context, conn db.Conn, statements []Statement) (total int64, ok bool, err error) {
	tx, err := conn.Begin(ctx)
	if err != nil {
		return 0, false, fmt.Errorf("begin batch: %w", err)
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(context.WithoutCancel(ctx)); rbErr != nil {
				logging.Op().Warn("batch rollback failed", "error", rbErr)
			}
		}
	}()

	for i, st := range statements {
		n, execErr := tx.Exec(ctx, st.SQL, st.Args...)
		if execErr != nil {
			return 0, false, fmt.Errorf("batch statement %d: %w", i, execErr)
		}
		total += n
	}
	if err = tx.Commit(ctx); err != nil {
		return 0, false, fmt.Errorf("commit batch: %w", err)
	}
	return total, true, nil
}

// Query runs an arbitrary read and resolves to a JSON array of row objects.
// Results are neither cached nor coalesced.
func (e *Executor) Query(ctx context.Context, sql string, args ...any) *inflight.Future[string] {
	if strings.TrimSpace(sql) == "" {
		return inflight.Failed[string](fmt.Errorf("%w: empty query", ErrQueryFailed))
	}
	if !e.pool.Available() {
		return e.unavailable(KindRaw, cache.Fingerprint{})
	}
	return submit(e, KindRaw, func() inflight.Result[string] {
		return execute(e, ctx, KindRaw, cache.Fingerprint{}, func(ctx context.Context, conn db.Conn) (string, bool, error) {
			rows, err := conn.Query(ctx, sql, args...)
			if err != nil {
				return "", false, err
			}
			defer rows.Close()

			var out []*rowcodec.Row
			cols := rows.Columns()
			for rows.Next() {
				values, err := rows.Values()
				if err != nil {
					return "", false, err
				}
				row, err := rowcodec.NewRow(cols, values)
				if err != nil {
					return "", false, err
				}
				out = append(out, row)
			}
			if err := rows.Err(); err != nil {
				return "", false, err
			}
			encoded, err := rowcodec.EncodeRows(out)
			if err != nil {
				return "", false, err
			}
			return encoded, true, nil
		})
	})
}

// submit runs fn on the worker pool without coalescing.
func submit[T any](e *Executor, kind string, fn func() inflight.Result[T]) *inflight.Future[T] {
	f := inflight.NewFuture[T]()
	if err := e.runner.Submit(func() { f.Resolve(fn()) }); err != nil {
		logging.Op().Warn("query rejected", "kind", kind, "error", err)
		f.Resolve(inflight.Result[T]{Err: err})
	}
	return f
}

// IsUnavailable reports whether err means the database could not be used.
func IsUnavailable(err error) bool {
	return errors.Is(err, ErrConnectionUnavailable)
}
