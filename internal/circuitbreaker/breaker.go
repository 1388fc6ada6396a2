// Package circuitbreaker guards the database behind an availability breaker.
//
// The breaker follows the three-state model:
//
//	Closed ──(failure rate ≥ threshold)──► Open ──(OpenDuration elapsed)──► HalfOpen
//	  ▲                                                                        │
//	  └──────────────(all trials succeed)───────────────────────────────────────┘
//	                  (any trial fails) ──────────────────────────────────► Open
//
// Only connection-level failures should be recorded as failures: a query that
// fails because of a bad column says nothing about database availability.
//
// The failure rate is computed over a sliding window of timestamps, and the
// breaker does not trip until MinRequests outcomes are in the window. The
// current state is mirrored in an atomic so the hot path can read it without
// the lock.
package circuitbreaker

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/aysihuniks/nhook/internal/logging"
	"github.com/aysihuniks/nhook/internal/metrics"
)

// State represents the circuit breaker state.
type State int32

const (
	StateClosed   State = iota // Normal operation, requests pass through
	StateOpen                  // Requests are rejected
	StateHalfOpen              // Limited trial requests are allowed
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// Config holds the breaker configuration.
type Config struct {
	ErrorPct       float64       // failure percentage that trips the breaker (0-100)
	MinRequests    int           // outcomes required in the window before tripping
	WindowDuration time.Duration // sliding window for the failure rate
	OpenDuration   time.Duration // how long the breaker stays open before probing
	HalfOpenTrials int           // trial requests allowed in half-open state
}

// Breaker is safe for concurrent use.
type Breaker struct {
	mu             sync.Mutex
	cfg            Config
	state          State
	successes      []time.Time
	failures       []time.Time
	openedAt       time.Time
	halfOpenTrials int
	halfOpenOK     int
	now            func() time.Time

	current atomic.Int32
	trips   atomic.Int64
}

// New creates a breaker.
func New(cfg Config) *Breaker {
	if cfg.HalfOpenTrials <= 0 {
		cfg.HalfOpenTrials = 1
	}
	if cfg.MinRequests <= 0 {
		cfg.MinRequests = 5
	}
	if cfg.ErrorPct <= 0 {
		cfg.ErrorPct = 50
	}
	if cfg.WindowDuration <= 0 {
		cfg.WindowDuration = 30 * time.Second
	}
	if cfg.OpenDuration <= 0 {
		cfg.OpenDuration = 10 * time.Second
	}
	return &Breaker{cfg: cfg, now: time.Now}
}

// SetClock replaces time.Now, for tests.
func (b *Breaker) SetClock(now func() time.Time) {
	b.mu.Lock()
	b.now = now
	b.mu.Unlock()
}

// Allow reports whether a request may proceed. A nil breaker allows all.
func (b *Breaker) Allow() bool {
	if b == nil {
		return true
	}
	if State(b.current.Load()) == StateClosed {
		return true
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateOpen:
		if b.now().Sub(b.openedAt) < b.cfg.OpenDuration {
			return false
		}
		b.setState(StateHalfOpen)
		b.halfOpenTrials = 1
		return true
	case StateHalfOpen:
		if b.halfOpenTrials < b.cfg.HalfOpenTrials {
			b.halfOpenTrials++
			return true
		}
		return false
	}
	return true
}

// RecordSuccess records a request that reached the database.
func (b *Breaker) RecordSuccess() {
	if b == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	switch b.state {
	case StateClosed:
		b.successes = append(b.successes, now)
		b.trimWindow(now)
	case StateHalfOpen:
		b.halfOpenOK++
		if b.halfOpenOK >= b.cfg.HalfOpenTrials {
			b.successes = b.successes[:0]
			b.failures = b.failures[:0]
			b.setState(StateClosed)
		}
	}
}

// RecordFailure records a request that could not reach the database.
func (b *Breaker) RecordFailure() {
	if b == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	switch b.state {
	case StateClosed:
		b.failures = append(b.failures, now)
		b.trimWindow(now)
		b.checkThreshold(now)
	case StateHalfOpen:
		b.openedAt = now
		b.setState(StateOpen)
	}
}

// State returns the current state, moving Open to HalfOpen once the open
// period has elapsed.
func (b *Breaker) State() State {
	if b == nil {
		return StateClosed
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == StateOpen && b.now().Sub(b.openedAt) >= b.cfg.OpenDuration {
		b.setState(StateHalfOpen)
	}
	return b.state
}

// Trips returns how many times the breaker has opened.
func (b *Breaker) Trips() int64 {
	if b == nil {
		return 0
	}
	return b.trips.Load()
}

// setState must be called under lock.
func (b *Breaker) setState(s State) {
	if b.state == s {
		return
	}
	prev := b.state
	b.state = s
	b.current.Store(int32(s))
	if s == StateHalfOpen {
		b.halfOpenTrials = 0
		b.halfOpenOK = 0
	}
	if s == StateOpen {
		b.trips.Add(1)
	}
	metrics.SetCircuitBreakerState(int(s))
	metrics.RecordCircuitBreakerTrip(s.String())
	logging.Op().Warn("database circuit breaker state changed", "from", prev.String(), "to", s.String())
}

// maxWindowEntries caps the sliding window slices.
const maxWindowEntries = 10000

// trimWindow must be called under lock.
func (b *Breaker) trimWindow(now time.Time) {
	cutoff := now.Add(-b.cfg.WindowDuration)
	b.successes = trimBefore(b.successes, cutoff)
	b.failures = trimBefore(b.failures, cutoff)

	if len(b.successes) > maxWindowEntries {
		b.successes = b.successes[len(b.successes)-maxWindowEntries:]
	}
	if len(b.failures) > maxWindowEntries {
		b.failures = b.failures[len(b.failures)-maxWindowEntries:]
	}
}

// checkThreshold must be called under lock.
func (b *Breaker) checkThreshold(now time.Time) {
	total := len(b.successes) + len(b.failures)
	if total < b.cfg.MinRequests {
		return
	}
	failPct := float64(len(b.failures)) / float64(total) * 100
	if failPct >= b.cfg.ErrorPct {
		b.openedAt = now
		b.setState(StateOpen)
	}
}

func trimBefore(times []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(times) && times[i].Before(cutoff) {
		i++
	}
	if i == 0 {
		return times
	}
	copy(times, times[i:])
	return times[:len(times)-i]
}
