package inflight

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/singleflight"

	"github.com/aysihuniks/nhook/internal/logging"
	"github.com/aysihuniks/nhook/internal/metrics"
)

// ErrProducerPanic wraps a panic raised by a producer.
var ErrProducerPanic = errors.New("producer panicked")

// Submitter runs a task asynchronously. workerpool.Pool implements it.
type Submitter interface {
	Submit(task func()) error
}

// flight marks one registered key. Pointer identity tells a detached flight
// apart from a newer one registered under the same key.
type flight struct{}

// Registry tracks at most one pending operation per key.
//
// Calls are deduplicated by a singleflight.Group; the registry keeps its own
// set of pending keys so it can count and detach them. The commit callback
// runs before any caller sees the result. Drop detaches a key without
// cancelling its producer: callers already attached still get that result,
// later requests start a new producer. Callers that must not publish a
// result read before a drop compare an epoch inside commit.
type Registry[K comparable, V any] struct {
	group  singleflight.Group
	runner Submitter

	mu      sync.Mutex
	pending map[K]*flight

	coalesced atomic.Int64
}

// NewRegistry creates a registry that runs producers on runner.
func NewRegistry[K comparable, V any](runner Submitter) *Registry[K, V] {
	return &Registry[K, V]{
		pending: make(map[K]*flight),
		runner:  runner,
	}
}

// GetOrCreate returns the pending future for key, or registers a new
// operation and submits produce. created reports whether produce was
// submitted by this call. commit may be nil.
func (r *Registry[K, V]) GetOrCreate(key K, produce func() Result[V], commit func(Result[V])) (future *Future[V], created bool) {
	future = NewFuture[V]()

	r.mu.Lock()
	f, ok := r.pending[key]
	if ok {
		r.coalesced.Add(1)
		metrics.RecordCoalesced()
	} else {
		f = &flight{}
		r.pending[key] = f
		metrics.SetInflight(int64(len(r.pending)))
	}
	ch := r.group.DoChan(keyString(key), func() (any, error) {
		res := r.run(produce, commit)
		r.release(key, f)
		return res, nil
	})
	r.mu.Unlock()

	go func() {
		out := <-ch
		r.release(key, f)
		future.Resolve(out.Val.(Result[V]))
	}()
	return future, !ok
}

// run submits produce to the worker pool and waits for it. A rejected
// submission is reported like any other failure.
func (r *Registry[K, V]) run(produce func() Result[V], commit func(Result[V])) Result[V] {
	var res Result[V]
	done := make(chan struct{})
	err := r.runner.Submit(func() {
		defer close(done)
		res = runProducer(produce)
	})
	if err != nil {
		res = Result[V]{Err: err}
	} else {
		<-done
	}
	if commit != nil {
		commit(res)
	}
	return res
}

func runProducer[V any](produce func() Result[V]) (res Result[V]) {
	defer func() {
		if p := recover(); p != nil {
			logging.Op().Error("producer panicked", "panic", p)
			res = Result[V]{Err: fmt.Errorf("%w: %v", ErrProducerPanic, p)}
		}
	}()
	return produce()
}

// release removes key if it still maps to f.
func (r *Registry[K, V]) release(key K, f *flight) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.pending[key]; ok && cur == f {
		r.dropLocked(key)
	}
}

// dropLocked must be called with r.mu held.
func (r *Registry[K, V]) dropLocked(key K) {
	delete(r.pending, key)
	r.group.Forget(keyString(key))
	metrics.SetInflight(int64(len(r.pending)))
}

// Drop detaches the pending operation for key, if any. Callers already
// attached still receive its result; later requests start a new one.
func (r *Registry[K, V]) Drop(key K) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.pending[key]; !ok {
		return false
	}
	r.dropLocked(key)
	return true
}

// DropMatching drops every pending operation whose key satisfies match.
func (r *Registry[K, V]) DropMatching(match func(K) bool) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for key := range r.pending {
		if match(key) {
			r.dropLocked(key)
			n++
		}
	}
	return n
}

// DropAll drops every pending operation.
func (r *Registry[K, V]) DropAll() int {
	return r.DropMatching(func(K) bool { return true })
}

// Pending returns the number of registered operations.
func (r *Registry[K, V]) Pending() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return int64(len(r.pending))
}

// Coalesced returns how many requests attached to an existing operation.
func (r *Registry[K, V]) Coalesced() int64 { return r.coalesced.Load() }

func keyString(key any) string {
	switch k := key.(type) {
	case fmt.Stringer:
		return k.String()
	case string:
		return k
	default:
		return fmt.Sprint(k)
	}
}
