package query

import (
	"github.com/aysihuniks/nhook/internal/cache"
	"github.com/aysihuniks/nhook/internal/circuitbreaker"
	"github.com/aysihuniks/nhook/internal/db"
	"github.com/aysihuniks/nhook/internal/logging"
	"github.com/aysihuniks/nhook/internal/metrics"
)

// Each invalidation detaches matching pending operations and then clears the
// store, which moves the store epoch. A read that started before the
// invalidation still answers its callers but fails the epoch check in
// commit, so it cannot re-insert its value afterwards.

// Invalidate removes the cached value for one lookup.
func (e *Executor) Invalidate(table, column, identity string) bool {
	fp := cache.Fingerprint{Table: FoldIdentifier(table), Column: FoldIdentifier(column), Identity: identity}
	e.registry.Drop(fp)
	removed := e.store.Invalidate(fp)
	metrics.RecordInvalidation("key")
	return removed
}

// InvalidateForIdentity removes every cached value for identity.
func (e *Executor) InvalidateForIdentity(identity string) int {
	dropped := e.registry.DropMatching(func(fp cache.Fingerprint) bool { return fp.Identity == identity })
	removed := e.store.InvalidateByIdentity(identity)
	metrics.RecordInvalidation("identity")
	logging.Op().Debug("invalidated identity", "identity", identity, "removed", removed, "dropped", dropped)
	return removed
}

// InvalidateForTable removes every cached value for table.
func (e *Executor) InvalidateForTable(table string) int {
	table = FoldIdentifier(table)
	dropped := e.registry.DropMatching(func(fp cache.Fingerprint) bool { return fp.Table == table })
	removed := e.store.InvalidateByTable(table)
	metrics.RecordInvalidation("table")
	logging.Op().Debug("invalidated table", "table", table, "removed", removed, "dropped", dropped)
	return removed
}

// ClearAll empties the cache.
func (e *Executor) ClearAll() int {
	dropped := e.registry.DropAll()
	removed := e.store.Clear()
	metrics.RecordInvalidation("all")
	logging.Op().Info("cache cleared", "removed", removed, "dropped", dropped)
	return removed
}

// Stats is a best-effort snapshot; fields are read independently.
type Stats struct {
	Entries           int   `json:"entries"`
	TotalHits         int64 `json:"total_hits"`
	PendingOperations int64 `json:"pending_operations"`
	MaxSize           int   `json:"max_size"`
	Misses            int64 `json:"misses"`
	Evictions         int64 `json:"evictions"`
	Coalesced         int64 `json:"coalesced"`
	Enabled           bool  `json:"enabled"`
}

// Stats returns cache and in-flight counters without taking any lock.
func (e *Executor) Stats() Stats {
	return Stats{
		Entries:           e.store.Len(),
		TotalHits:         e.store.TotalHits(),
		PendingOperations: e.registry.Pending(),
		MaxSize:           e.store.MaxSize(),
		Misses:            e.store.Misses(),
		Evictions:         e.store.Evictions(),
		Coalesced:         e.registry.Coalesced(),
		Enabled:           e.cacheEnabled.Load(),
	}
}

// PoolStats returns connection pool counters.
func (e *Executor) PoolStats() db.PoolStats {
	return e.pool.Stats()
}

// Available reports whether the pool is usable and the breaker is not open.
func (e *Executor) Available() bool {
	return e.pool.Available() && e.breaker.State() != circuitbreaker.StateOpen
}
