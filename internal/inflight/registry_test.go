package inflight

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"golang.org/x/sync/errgroup"
)

type goSubmitter struct {
	calls atomic.Int32
}

func (s *goSubmitter) Submit(task func()) error {
	s.calls.Add(1)
	go task()
	return nil
}

type failingSubmitter struct{ err error }

func (s failingSubmitter) Submit(func()) error { return s.err }

func TestRegistry_CoalescesConcurrentRequests(t *testing.T) {
	sub := &goSubmitter{}
	r := NewRegistry[string, string](sub)

	var runs atomic.Int32
	release := make(chan struct{})
	produce := func() Result[string] {
		runs.Add(1)
		<-release
		return Result[string]{Value: "42", OK: true}
	}

	const n = 32
	futures := make([]*Future[string], n)
	var created atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			f, c := r.GetOrCreate("players|credit|bob", produce, nil)
			if c {
				created.Add(1)
			}
			futures[i] = f
		}(i)
	}
	wg.Wait()
	close(release)

	if created.Load() != 1 {
		t.Fatalf("expected exactly one creator, got %d", created.Load())
	}
	if r.Coalesced() != n-1 {
		t.Fatalf("expected %d coalesced, got %d", n-1, r.Coalesced())
	}

	g, ctx := errgroup.WithContext(context.Background())
	for _, f := range futures {
		g.Go(func() error {
			res := f.Wait(ctx)
			if !res.OK || res.Value != "42" {
				return errors.New("unexpected result: " + res.Value)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatal(err)
	}
	if runs.Load() != 1 {
		t.Fatalf("expected one producer run, got %d", runs.Load())
	}
}

func TestRegistry_RemovedAfterResolve(t *testing.T) {
	r := NewRegistry[string, string](&goSubmitter{})

	var commits atomic.Int32
	f, _ := r.GetOrCreate("k", func() Result[string] {
		return Result[string]{Value: "v", OK: true}
	}, func(res Result[string]) {
		if res.OK {
			commits.Add(1)
		}
	})
	if res := f.WaitTimeout(time.Second); !res.OK {
		t.Fatalf("unexpected result: %+v", res)
	}

	// The next request must start a fresh operation.
	f2, created := r.GetOrCreate("k", func() Result[string] {
		return Result[string]{Value: "v2", OK: true}
	}, nil)
	if !created {
		t.Fatal("expected a new operation after the first resolved")
	}
	if res := f2.WaitTimeout(time.Second); res.Value != "v2" {
		t.Fatalf("expected v2, got %q", res.Value)
	}
	if commits.Load() != 1 {
		t.Fatalf("expected 1 commit, got %d", commits.Load())
	}
}

func TestRegistry_FailureSharedAndNotCommittedTwice(t *testing.T) {
	r := NewRegistry[string, string](&goSubmitter{})
	boom := errors.New("boom")

	release := make(chan struct{})
	f1, _ := r.GetOrCreate("k", func() Result[string] {
		<-release
		return Result[string]{Err: boom}
	}, nil)
	f2, created := r.GetOrCreate("k", nil, nil)
	if created {
		t.Fatal("second request should attach")
	}
	close(release)

	for _, f := range []*Future[string]{f1, f2} {
		if res := f.WaitTimeout(time.Second); !errors.Is(res.Err, boom) {
			t.Fatalf("expected shared failure, got %+v", res)
		}
	}
}

func TestRegistry_DropDetachesKey(t *testing.T) {
	sub := &goSubmitter{}
	r := NewRegistry[string, string](sub)

	release := make(chan struct{})
	var commits atomic.Int32
	commit := func(Result[string]) { commits.Add(1) }
	f, _ := r.GetOrCreate("alice", func() Result[string] {
		<-release
		return Result[string]{Value: "stale", OK: true}
	}, commit)

	if !r.Drop("alice") {
		t.Fatal("expected pending operation to be dropped")
	}
	if r.Drop("alice") {
		t.Fatal("second drop should find nothing")
	}
	if r.Pending() != 0 {
		t.Fatalf("expected 0 pending after drop, got %d", r.Pending())
	}

	f2, created := r.GetOrCreate("alice", func() Result[string] {
		return Result[string]{Value: "fresh", OK: true}
	}, commit)
	if !created {
		t.Fatal("expected a new operation after drop")
	}
	if res := f2.WaitTimeout(time.Second); res.Value != "fresh" {
		t.Fatalf("expected fresh, got %+v", res)
	}
	close(release)

	if res := f.WaitTimeout(time.Second); res.Value != "stale" {
		t.Fatalf("attached caller should still be resolved, got %+v", res)
	}
	if sub.calls.Load() != 2 {
		t.Fatalf("expected two producers, got %d", sub.calls.Load())
	}
	if commits.Load() != 2 {
		t.Fatalf("expected both results to reach commit, got %d", commits.Load())
	}
	if r.Pending() != 0 {
		t.Fatalf("detached operation must not re-register, pending=%d", r.Pending())
	}
}

func TestRegistry_DropMatching(t *testing.T) {
	r := NewRegistry[string, string](&goSubmitter{})
	block := make(chan struct{})
	defer close(block)
	wait := func() Result[string] { <-block; return Result[string]{} }

	r.GetOrCreate("alice/credit", wait, nil)
	r.GetOrCreate("alice/homes", wait, nil)
	r.GetOrCreate("bob/credit", wait, nil)

	n := r.DropMatching(func(k string) bool { return len(k) > 5 && k[:5] == "alice" })
	if n != 2 {
		t.Fatalf("expected 2 dropped, got %d", n)
	}
	if r.Pending() != 1 {
		t.Fatalf("expected 1 pending, got %d", r.Pending())
	}
	if r.DropAll() != 1 {
		t.Fatal("expected DropAll to drop the remaining operation")
	}
}

func TestRegistry_SubmitFailure(t *testing.T) {
	saturated := errors.New("saturated")
	r := NewRegistry[string, string](failingSubmitter{err: saturated})

	f, created := r.GetOrCreate("k", func() Result[string] {
		t.Fatal("producer must not run")
		return Result[string]{}
	}, func(res Result[string]) {
		if !errors.Is(res.Err, saturated) {
			t.Errorf("commit should see the submit failure, got %+v", res)
		}
	})
	if !created {
		t.Fatal("expected created")
	}
	if res := f.WaitTimeout(time.Second); !errors.Is(res.Err, saturated) {
		t.Fatalf("expected submit failure, got %+v", res)
	}
	if r.Pending() != 0 {
		t.Fatalf("failed submission must not stay registered, pending=%d", r.Pending())
	}
}

func TestRegistry_ProducerPanic(t *testing.T) {
	r := NewRegistry[string, string](&goSubmitter{})
	f, _ := r.GetOrCreate("k", func() Result[string] { panic("bad") }, nil)
	if res := f.WaitTimeout(time.Second); !errors.Is(res.Err, ErrProducerPanic) {
		t.Fatalf("expected ErrProducerPanic, got %+v", res)
	}
}

func TestFuture_WaitTimeoutIsAbsent(t *testing.T) {
	f := NewFuture[string]()
	res := f.WaitTimeout(10 * time.Millisecond)
	if res.OK || !errors.Is(res.Err, ErrWaitTimeout) {
		t.Fatalf("expected absent timeout result, got %+v", res)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if res := f.Wait(ctx); !errors.Is(res.Err, ErrWaitTimeout) {
		t.Fatalf("expected ErrWaitTimeout, got %+v", res)
	}
}

func TestFuture_ResolveOnce(t *testing.T) {
	f := NewFuture[int64]()
	if !f.Resolve(Result[int64]{Value: 1, OK: true}) {
		t.Fatal("first resolve should win")
	}
	if f.Resolve(Result[int64]{Value: 2, OK: true}) {
		t.Fatal("second resolve should be ignored")
	}
	if res, _ := f.Peek(); res.Value != 1 {
		t.Fatalf("expected 1, got %d", res.Value)
	}
	if res, ok := Completed("x").Peek(); !ok || !res.OK {
		t.Fatal("Completed should be resolved and present")
	}
	if res, _ := Absent[string]().Peek(); res.OK || res.Err != nil {
		t.Fatal("Absent should be resolved without value or error")
	}
}
