// Package inflight coalesces concurrent requests for the same key into a
// single producer run and hands every caller the same Future.
package inflight

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrWaitTimeout is reported when a caller stops waiting before the result
// is available. The producer keeps running.
var ErrWaitTimeout = errors.New("timed out waiting for result")

// Result is the outcome of an operation. OK is false for an absent value;
// Err is set when the operation failed.
type Result[T any] struct {
	Value T
	OK    bool
	Err   error
}

// Future is resolved exactly once and may be awaited by any number of
// callers.
type Future[T any] struct {
	done chan struct{}
	once sync.Once
	res  Result[T]
}

// NewFuture returns an unresolved future.
func NewFuture[T any]() *Future[T] {
	return &Future[T]{done: make(chan struct{})}
}

// Completed returns a future already resolved with a present value.
func Completed[T any](v T) *Future[T] {
	f := NewFuture[T]()
	f.Resolve(Result[T]{Value: v, OK: true})
	return f
}

// Absent returns a future already resolved with no value.
func Absent[T any]() *Future[T] {
	f := NewFuture[T]()
	f.Resolve(Result[T]{})
	return f
}

// Failed returns a future already resolved with err.
func Failed[T any](err error) *Future[T] {
	f := NewFuture[T]()
	f.Resolve(Result[T]{Err: err})
	return f
}

// Resolve sets the result. Only the first call has an effect; it reports
// whether this call resolved the future.
func (f *Future[T]) Resolve(r Result[T]) bool {
	resolved := false
	f.once.Do(func() {
		f.res = r
		close(f.done)
		resolved = true
	})
	return resolved
}

// Done is closed once the future is resolved.
func (f *Future[T]) Done() <-chan struct{} {
	return f.done
}

// Wait blocks until the future resolves or ctx ends. A cancelled wait
// yields an absent result carrying ErrWaitTimeout.
func (f *Future[T]) Wait(ctx context.Context) Result[T] {
	select {
	case <-f.done:
		return f.res
	default:
	}
	select {
	case <-f.done:
		return f.res
	case <-ctx.Done():
		return Result[T]{Err: ErrWaitTimeout}
	}
}

// WaitTimeout is Wait bounded by d.
func (f *Future[T]) WaitTimeout(d time.Duration) Result[T] {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-f.done:
		return f.res
	case <-timer.C:
		return Result[T]{Err: ErrWaitTimeout}
	}
}

// Peek returns the result without blocking.
func (f *Future[T]) Peek() (Result[T], bool) {
	select {
	case <-f.done:
		return f.res, true
	default:
		return Result[T]{}, false
	}
}
