// Package cache holds query results in memory, keyed by Fingerprint.
//
// The Store is bounded: inserting a new key at capacity evicts the least
// recently accessed entry in the same critical section. Entries expire after
// their TTL (checked lazily on Get and eagerly by the periodic sweep), and the
// sweep can also drop entries that have not been read for a configured idle
// period. Only present values are ever stored; callers never cache absent or
// failed lookups.
package cache

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/golang-lru/v2/simplelru"

	"github.com/aysihuniks/nhook/internal/logging"
	"github.com/aysihuniks/nhook/internal/metrics"
)

// Eviction reasons reported to metrics and logs.
const (
	ReasonExpired     = "expired"
	ReasonIdle        = "idle"
	ReasonLRU         = "lru"
	ReasonInvalidated = "invalidated"
)

// Config configures a Store.
type Config struct {
	MaxSize       int
	DefaultTTL    time.Duration
	SweepInterval time.Duration
	IdleEviction  bool
	MaxIdle       time.Duration
	LogStats      bool
	Debug         bool
}

// EntryInfo is a copy of an entry's bookkeeping fields.
type EntryInfo struct {
	Value          string
	CreatedAt      time.Time
	ExpiresAt      time.Time
	LastAccessedAt time.Time
	HitCount       int64
}

type entry struct {
	value          string
	createdAt      time.Time
	expiresAt      time.Time
	lastAccessedAt time.Time
	hits           int64
}

// Store is a size-bounded TTL cache with LRU eviction.
// All methods are safe for concurrent use.
type Store struct {
	mu     sync.Mutex
	lru    *simplelru.LRU[Fingerprint, *entry] // guarded by mu
	reason string                              // reason for the next eviction callback, guarded by mu
	epoch  uint64                              // bumped by every invalidation, guarded by mu
	cfg    Config
	now    func() time.Time

	size      atomic.Int64
	totalHits atomic.Int64
	misses    atomic.Int64
	evictions atomic.Int64
	logStats  atomic.Bool
	debug     atomic.Bool

	runMu   sync.Mutex
	stopCh  chan struct{}
	doneCh  chan struct{}
	started bool
}

// Option customizes a Store.
type Option func(*Store)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// NewStore creates a store. Call Start to run the background sweep.
func NewStore(cfg Config, opts ...Option) *Store {
	if cfg.MaxSize <= 0 {
		cfg.MaxSize = 1000
	}
	if cfg.DefaultTTL <= 0 {
		cfg.DefaultTTL = time.Minute
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = time.Minute
	}
	s := &Store{
		cfg:    cfg,
		now:    time.Now,
		reason: ReasonLRU,
	}
	// NewLRU only fails for a non-positive size.
	s.lru, _ = simplelru.NewLRU[Fingerprint, *entry](cfg.MaxSize, s.onEvict)
	s.logStats.Store(cfg.LogStats)
	s.debug.Store(cfg.Debug)
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// onEvict runs under s.mu for every removal, including capacity evictions
// inside Add.
func (s *Store) onEvict(_ Fingerprint, e *entry) {
	n := s.size.Add(-1)
	s.totalHits.Add(-e.hits)
	s.evictions.Add(1)
	metrics.RecordCacheEvictions(s.reason, 1)
	metrics.SetCacheEntries(int(n))
}

// removeLocked must be called with s.mu held.
func (s *Store) removeLocked(key Fingerprint, reason string) bool {
	s.reason = reason
	removed := s.lru.Remove(key)
	s.reason = ReasonLRU
	return removed
}

// Get returns the value for key if present and not expired. A hit bumps the
// entry's hit count and last-access time; an expired entry is removed.
func (s *Store) Get(key Fingerprint) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.lru.Get(key)
	if !ok {
		s.misses.Add(1)
		metrics.RecordCacheMiss()
		s.trace("cache miss", key)
		return "", false
	}
	now := s.now()
	if !now.Before(e.expiresAt) {
		s.removeLocked(key, ReasonExpired)
		s.misses.Add(1)
		metrics.RecordCacheMiss()
		s.trace("cache expired", key)
		return "", false
	}
	e.hits++
	e.lastAccessedAt = now
	s.totalHits.Add(1)
	metrics.RecordCacheHit()
	s.trace("cache hit", key)
	return e.value, true
}

// Peek returns a copy of the entry without counting as an access.
func (s *Store) Peek(key Fingerprint) (EntryInfo, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.lru.Peek(key)
	if !ok {
		return EntryInfo{}, false
	}
	return EntryInfo{
		Value:          e.value,
		CreatedAt:      e.createdAt,
		ExpiresAt:      e.expiresAt,
		LastAccessedAt: e.lastAccessedAt,
		HitCount:       e.hits,
	}, true
}

// Epoch returns the invalidation epoch. Pair it with PutIfUnchanged to
// cache a value read from the database only if nothing was invalidated
// since the read began.
func (s *Store) Epoch() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.epoch
}

// Put inserts or replaces the value for key. ttl <= 0 uses the default TTL.
// Inserting a new key into a full store first evicts the least recently
// accessed entry.
func (s *Store) Put(key Fingerprint, value string, ttl time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.putLocked(key, value, ttl)
}

// PutIfUnchanged is Put guarded by an epoch from Epoch. It stores nothing
// and returns false if any invalidation ran after that epoch was taken.
func (s *Store) PutIfUnchanged(key Fingerprint, value string, ttl time.Duration, epoch uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.epoch != epoch {
		s.trace("cache store skipped, invalidated during read", key)
		return false
	}
	s.putLocked(key, value, ttl)
	return true
}

func (s *Store) putLocked(key Fingerprint, value string, ttl time.Duration) {
	if ttl <= 0 {
		ttl = s.cfg.DefaultTTL
	}
	now := s.now()
	if e, ok := s.lru.Get(key); ok {
		s.totalHits.Add(-e.hits)
		e.value = value
		e.createdAt = now
		e.expiresAt = now.Add(ttl)
		e.lastAccessedAt = now
		e.hits = 0
		s.trace("cache replace", key)
		return
	}

	s.lru.Add(key, &entry{
		value:          value,
		createdAt:      now,
		expiresAt:      now.Add(ttl),
		lastAccessedAt: now,
	})
	metrics.SetCacheEntries(int(s.size.Add(1)))
	s.trace("cache store", key)
}

// Invalidate removes a single key. It reports whether the key was present.
func (s *Store) Invalidate(key Fingerprint) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.epoch++
	return s.removeLocked(key, ReasonInvalidated)
}

// InvalidateByIdentity removes every entry for identity, across all tables
// and columns, and returns how many were removed.
func (s *Store) InvalidateByIdentity(identity string) int {
	return s.removeMatching(func(k Fingerprint) bool { return k.Identity == identity })
}

// InvalidateByTable removes every entry for table and returns how many were
// removed.
func (s *Store) InvalidateByTable(table string) int {
	return s.removeMatching(func(k Fingerprint) bool { return k.Table == table })
}

// Clear removes all entries.
func (s *Store) Clear() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.epoch++
	n := s.lru.Len()
	s.reason = ReasonInvalidated
	s.lru.Purge()
	s.reason = ReasonLRU
	metrics.SetCacheEntries(0)
	return n
}

func (s *Store) removeMatching(match func(Fingerprint) bool) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.epoch++
	n := 0
	for _, k := range s.lru.Keys() {
		if match(k) && s.removeLocked(k, ReasonInvalidated) {
			n++
		}
	}
	return n
}

// Sweep removes expired entries and, with idle eviction on, entries that
// have not been read within MaxIdle. It returns the number removed.
func (s *Store) Sweep() int {
	s.mu.Lock()
	now := s.now()
	expired, idle := 0, 0
	for _, k := range s.lru.Keys() {
		e, ok := s.lru.Peek(k)
		if !ok {
			continue
		}
		switch {
		case !now.Before(e.expiresAt):
			s.removeLocked(k, ReasonExpired)
			expired++
		case s.cfg.IdleEviction && s.cfg.MaxIdle > 0 && now.Sub(e.lastAccessedAt) > s.cfg.MaxIdle:
			s.removeLocked(k, ReasonIdle)
			idle++
		}
	}
	remaining := s.lru.Len()
	s.mu.Unlock()

	if s.debug.Load() {
		logging.Op().Info("cache sweep completed", "expired", expired, "idle", idle, "size", remaining)
	}
	if s.logStats.Load() {
		logging.Op().Info("cache stats",
			"entries", s.Len(),
			"total_hits", s.TotalHits(),
			"misses", s.Misses(),
			"evictions", s.Evictions(),
			"max_size", s.cfg.MaxSize,
		)
	}
	return expired + idle
}

// Start launches the periodic sweep. It is a no-op if already running.
func (s *Store) Start() {
	s.runMu.Lock()
	defer s.runMu.Unlock()
	if s.started {
		return
	}
	s.started = true
	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})
	go s.sweepLoop(s.stopCh, s.doneCh)
}

// Stop halts the sweep and waits for it to exit.
func (s *Store) Stop() {
	s.runMu.Lock()
	if !s.started {
		s.runMu.Unlock()
		return
	}
	s.started = false
	close(s.stopCh)
	done := s.doneCh
	s.runMu.Unlock()
	<-done
}

func (s *Store) sweepLoop(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(s.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			s.Sweep()
		}
	}
}

// SetLogStats toggles the stats line logged after each sweep.
func (s *Store) SetLogStats(on bool) { s.logStats.Store(on) }

// SetDebug toggles per-operation debug logging.
func (s *Store) SetDebug(on bool) { s.debug.Store(on) }

// Len returns the number of entries without taking the store lock.
func (s *Store) Len() int { return int(s.size.Load()) }

// TotalHits returns the summed hit counts of the live entries.
func (s *Store) TotalHits() int64 { return s.totalHits.Load() }

// Misses returns the number of Get calls that found nothing usable.
func (s *Store) Misses() int64 { return s.misses.Load() }

// Evictions returns the number of entries removed for any reason.
func (s *Store) Evictions() int64 { return s.evictions.Load() }

// MaxSize returns the configured capacity.
func (s *Store) MaxSize() int { return s.cfg.MaxSize }

// DefaultTTL returns the TTL used when Put is given none.
func (s *Store) DefaultTTL() time.Duration { return s.cfg.DefaultTTL }

func (s *Store) trace(msg string, key Fingerprint) {
	if s.debug.Load() {
		logging.Op().Info(msg, "key", key.LogValue())
	}
}
