package metrics

import (
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"
)

// Metrics collects process-wide query counters. It backs the JSON stats
// endpoint; Prometheus collectors live in prometheus.go.
type Metrics struct {
	TotalQueries   atomic.Int64
	SuccessQueries atomic.Int64
	FailedQueries  atomic.Int64
	AbsentResults  atomic.Int64

	// Latency (milliseconds)
	TotalLatencyMs atomic.Int64
	MinLatencyMs   atomic.Int64
	MaxLatencyMs   atomic.Int64

	CacheHits   atomic.Int64
	CacheMisses atomic.Int64
	Coalesced   atomic.Int64

	kindMetrics sync.Map // kind -> *KindMetrics

	startTime time.Time
}

// KindMetrics tracks one query kind (column, row, update, batch, raw).
type KindMetrics struct {
	Queries  atomic.Int64
	Failures atomic.Int64
	TotalMs  atomic.Int64
	MaxMs    atomic.Int64
}

var global = &Metrics{startTime: time.Now()}

func init() {
	global.MinLatencyMs.Store(int64(^uint64(0) >> 1))
}

// Global returns the global metrics instance
func Global() *Metrics {
	return global
}

// StartTime returns the time when the metrics system was initialized
func StartTime() time.Time {
	return global.startTime
}

// RecordQuery records one finished producer run.
func (m *Metrics) RecordQuery(kind string, durationMs int64, success, found bool) {
	m.TotalQueries.Add(1)
	if success {
		m.SuccessQueries.Add(1)
		if !found {
			m.AbsentResults.Add(1)
		}
	} else {
		m.FailedQueries.Add(1)
	}
	m.TotalLatencyMs.Add(durationMs)
	updateMin(&m.MinLatencyMs, durationMs)
	updateMax(&m.MaxLatencyMs, durationMs)

	km := m.kind(kind)
	km.Queries.Add(1)
	if !success {
		km.Failures.Add(1)
	}
	km.TotalMs.Add(durationMs)
	updateMax(&km.MaxMs, durationMs)

	status := "success"
	switch {
	case !success:
		status = "failed"
	case !found:
		status = "absent"
	}
	recordPrometheusQuery(kind, status, durationMs)
}

func (m *Metrics) kind(kind string) *KindMetrics {
	if v, ok := m.kindMetrics.Load(kind); ok {
		return v.(*KindMetrics)
	}
	actual, _ := m.kindMetrics.LoadOrStore(kind, &KindMetrics{})
	return actual.(*KindMetrics)
}

// Snapshot returns a point-in-time snapshot of all metrics
func (m *Metrics) Snapshot() map[string]interface{} {
	total := m.TotalQueries.Load()
	avgLatency := float64(0)
	if total > 0 {
		avgLatency = float64(m.TotalLatencyMs.Load()) / float64(total)
	}
	minLatency := m.MinLatencyMs.Load()
	if minLatency == int64(^uint64(0)>>1) {
		minLatency = 0
	}

	kinds := make(map[string]interface{})
	m.kindMetrics.Range(func(key, value interface{}) bool {
		km := value.(*KindMetrics)
		n := km.Queries.Load()
		avg := float64(0)
		if n > 0 {
			avg = float64(km.TotalMs.Load()) / float64(n)
		}
		kinds[key.(string)] = map[string]interface{}{
			"queries":  n,
			"failures": km.Failures.Load(),
			"avg_ms":   avg,
			"max_ms":   km.MaxMs.Load(),
		}
		return true
	})

	return map[string]interface{}{
		"uptime_seconds": int64(time.Since(m.startTime).Seconds()),
		"queries": map[string]interface{}{
			"total":   total,
			"success": m.SuccessQueries.Load(),
			"failed":  m.FailedQueries.Load(),
			"absent":  m.AbsentResults.Load(),
		},
		"latency_ms": map[string]interface{}{
			"avg": avgLatency,
			"min": minLatency,
			"max": m.MaxLatencyMs.Load(),
		},
		"cache": map[string]interface{}{
			"hits":      m.CacheHits.Load(),
			"misses":    m.CacheMisses.Load(),
			"coalesced": m.Coalesced.Load(),
			"hit_pct":   hitPercentage(m.CacheHits.Load(), m.CacheMisses.Load()),
		},
		"kinds": kinds,
	}
}

// JSONHandler returns an HTTP handler that exposes metrics in JSON format
func (m *Metrics) JSONHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(m.Snapshot())
	})
}

// RecordCacheHit counts a store hit.
func RecordCacheHit() {
	global.CacheHits.Add(1)
	if promMetrics != nil {
		promMetrics.cacheHits.Inc()
	}
}

// RecordCacheMiss counts a store miss.
func RecordCacheMiss() {
	global.CacheMisses.Add(1)
	if promMetrics != nil {
		promMetrics.cacheMisses.Inc()
	}
}

// RecordCoalesced counts a caller attached to a pending operation.
func RecordCoalesced() {
	global.Coalesced.Add(1)
	if promMetrics != nil {
		promMetrics.coalescedTotal.Inc()
	}
}

func updateMin(target *atomic.Int64, value int64) {
	for {
		cur := target.Load()
		if value >= cur || target.CompareAndSwap(cur, value) {
			return
		}
	}
}

func updateMax(target *atomic.Int64, value int64) {
	for {
		cur := target.Load()
		if value <= cur || target.CompareAndSwap(cur, value) {
			return
		}
	}
}

func hitPercentage(hits, misses int64) float64 {
	if hits+misses == 0 {
		return 0
	}
	return float64(hits) / float64(hits+misses) * 100
}
