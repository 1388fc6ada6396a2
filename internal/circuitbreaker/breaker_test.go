package circuitbreaker

import (
	"sync"
	"testing"
	"time"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestBreaker(trials int) (*Breaker, *testClock) {
	clock := &testClock{now: time.Unix(1700000000, 0)}
	b := New(Config{
		ErrorPct:       50,
		MinRequests:    3,
		WindowDuration: 10 * time.Second,
		OpenDuration:   5 * time.Second,
		HalfOpenTrials: trials,
	})
	b.SetClock(clock.Now)
	return b, clock
}

func TestBreakerClosedAllowsRequests(t *testing.T) {
	b, _ := newTestBreaker(1)
	if !b.Allow() {
		t.Fatal("closed breaker should allow requests")
	}
	if b.State() != StateClosed {
		t.Fatalf("expected closed, got %v", b.State())
	}
}

func TestBreakerNeedsMinRequests(t *testing.T) {
	b, _ := newTestBreaker(1)
	b.RecordFailure()
	b.RecordFailure()
	if b.State() != StateClosed {
		t.Fatal("breaker must not trip below MinRequests")
	}
	b.RecordFailure()
	if b.State() != StateOpen {
		t.Fatalf("expected open, got %v", b.State())
	}
	if b.Allow() {
		t.Fatal("open breaker should reject requests")
	}
	if b.Trips() != 1 {
		t.Fatalf("expected 1 trip, got %d", b.Trips())
	}
}

func TestBreakerHalfOpenRecovery(t *testing.T) {
	b, clock := newTestBreaker(2)
	b.RecordSuccess()
	b.RecordFailure()
	b.RecordFailure()
	if b.State() != StateOpen {
		t.Fatalf("expected open, got %v", b.State())
	}

	clock.Advance(5 * time.Second)
	if !b.Allow() || !b.Allow() {
		t.Fatal("half-open breaker should allow the configured trials")
	}
	if b.Allow() {
		t.Fatal("half-open breaker should reject beyond the trial budget")
	}
	b.RecordSuccess()
	b.RecordSuccess()
	if b.State() != StateClosed {
		t.Fatalf("expected closed after successful trials, got %v", b.State())
	}
}

func TestBreakerTrialFailureReopens(t *testing.T) {
	b, clock := newTestBreaker(1)
	for i := 0; i < 3; i++ {
		b.RecordFailure()
	}
	clock.Advance(6 * time.Second)
	if b.State() != StateHalfOpen {
		t.Fatalf("expected half_open, got %v", b.State())
	}
	b.RecordFailure()
	if b.State() != StateOpen {
		t.Fatalf("expected open after failed trial, got %v", b.State())
	}
}

func TestBreakerWindowSlides(t *testing.T) {
	b, clock := newTestBreaker(1)
	b.RecordFailure()
	b.RecordFailure()
	clock.Advance(11 * time.Second)
	b.RecordSuccess()
	b.RecordSuccess()
	b.RecordFailure()
	if b.State() != StateClosed {
		t.Fatal("old failures outside the window must not count")
	}
}

func TestNilBreakerAllows(t *testing.T) {
	var b *Breaker
	if !b.Allow() || b.State() != StateClosed {
		t.Fatal("nil breaker should behave as closed")
	}
	b.RecordFailure()
}
