package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PrometheusMetrics wraps prometheus collectors for nhook metrics
type PrometheusMetrics struct {
	registry *prometheus.Registry

	// Counters
	queriesTotal   *prometheus.CounterVec
	cacheHits      prometheus.Counter
	cacheMisses    prometheus.Counter
	evictionsTotal *prometheus.CounterVec
	coalescedTotal prometheus.Counter
	rejectedTotal  *prometheus.CounterVec
	invalidations  *prometheus.CounterVec

	// Histograms
	queryDuration *prometheus.HistogramVec

	// Gauges
	uptime       prometheus.GaugeFunc
	cacheEntries prometheus.Gauge
	inflight     prometheus.Gauge
	queueDepth   prometheus.Gauge

	// Circuit breaker
	breakerState      prometheus.Gauge
	breakerTripsTotal *prometheus.CounterVec
}

// Default histogram buckets for query duration (in milliseconds)
var defaultBuckets = []float64{1, 2, 5, 10, 25, 50, 100, 250, 500, 1000, 5000, 30000}

var promMetrics *PrometheusMetrics

// InitPrometheus initializes the Prometheus metrics subsystem
func InitPrometheus(namespace string, buckets []float64) {
	if len(buckets) == 0 {
		buckets = defaultBuckets
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(prometheus.NewGoCollector())
	registry.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))

	pm := &PrometheusMetrics{
		registry: registry,

		queriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "queries_total",
				Help:      "Total number of database queries executed by producers",
			},
			[]string{"kind", "status"},
		),

		cacheHits: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cache_hits_total",
				Help:      "Total cache store hits",
			},
		),

		cacheMisses: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cache_misses_total",
				Help:      "Total cache store misses, including expired entries",
			},
		),

		evictionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cache_evictions_total",
				Help:      "Cache entries removed, by reason",
			},
			[]string{"reason"},
		),

		coalescedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "coalesced_requests_total",
				Help:      "Requests attached to an already pending operation",
			},
		),

		rejectedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rejected_total",
				Help:      "Operations rejected before reaching the database",
			},
			[]string{"reason"},
		),

		invalidations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "invalidations_total",
				Help:      "Invalidation requests, by scope",
			},
			[]string{"scope"},
		),

		queryDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "query_duration_milliseconds",
				Help:      "Duration of producer queries in milliseconds",
				Buckets:   buckets,
			},
			[]string{"kind"},
		),

		cacheEntries: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "cache_entries",
				Help:      "Current number of cache entries",
			},
		),

		inflight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "inflight_operations",
				Help:      "Pending in-flight operations",
			},
		),

		queueDepth: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "worker_queue_depth",
				Help:      "Tasks waiting for a query worker",
			},
		),

		breakerState: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "circuit_breaker_state",
				Help:      "Database circuit breaker state (0=closed, 1=open, 2=half_open)",
			},
		),

		breakerTripsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "circuit_breaker_transitions_total",
				Help:      "Database circuit breaker state transitions",
			},
			[]string{"to_state"},
		),
	}

	pm.uptime = prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "uptime_seconds",
			Help:      "Time since the nhook process started",
		},
		func() float64 {
			return time.Since(StartTime()).Seconds()
		},
	)

	registry.MustRegister(
		pm.queriesTotal,
		pm.cacheHits,
		pm.cacheMisses,
		pm.evictionsTotal,
		pm.coalescedTotal,
		pm.rejectedTotal,
		pm.invalidations,
		pm.queryDuration,
		pm.uptime,
		pm.cacheEntries,
		pm.inflight,
		pm.queueDepth,
		pm.breakerState,
		pm.breakerTripsTotal,
	)

	promMetrics = pm
}

func recordPrometheusQuery(kind, status string, durationMs int64) {
	if promMetrics == nil {
		return
	}
	promMetrics.queriesTotal.WithLabelValues(kind, status).Inc()
	promMetrics.queryDuration.WithLabelValues(kind).Observe(float64(durationMs))
}

// RecordCacheEvictions counts n entries removed for reason.
func RecordCacheEvictions(reason string, n int) {
	if promMetrics == nil || n <= 0 {
		return
	}
	promMetrics.evictionsTotal.WithLabelValues(reason).Add(float64(n))
}

// SetCacheEntries sets the cache size gauge.
func SetCacheEntries(n int) {
	if promMetrics == nil {
		return
	}
	promMetrics.cacheEntries.Set(float64(n))
}

// SetInflight sets the pending operation gauge.
func SetInflight(n int64) {
	if promMetrics == nil {
		return
	}
	promMetrics.inflight.Set(float64(n))
}

// SetQueueDepth sets the worker queue depth gauge.
func SetQueueDepth(n int) {
	if promMetrics == nil {
		return
	}
	promMetrics.queueDepth.Set(float64(n))
}

// RecordRejected counts an operation refused before it reached the database
// (saturated queue, open breaker, invalid identifier).
func RecordRejected(reason string) {
	if promMetrics == nil {
		return
	}
	promMetrics.rejectedTotal.WithLabelValues(reason).Inc()
}

// RecordInvalidation counts an invalidation (key, identity, table, all).
func RecordInvalidation(scope string) {
	if promMetrics == nil {
		return
	}
	promMetrics.invalidations.WithLabelValues(scope).Inc()
}

// SetCircuitBreakerState sets the circuit breaker state gauge.
// state: 0=closed, 1=open, 2=half_open
func SetCircuitBreakerState(state int) {
	if promMetrics == nil {
		return
	}
	promMetrics.breakerState.Set(float64(state))
}

// RecordCircuitBreakerTrip records a circuit breaker state transition.
func RecordCircuitBreakerTrip(toState string) {
	if promMetrics == nil {
		return
	}
	promMetrics.breakerTripsTotal.WithLabelValues(toState).Inc()
}

// PrometheusHandler returns an HTTP handler for Prometheus metrics scraping
func PrometheusHandler() http.Handler {
	if promMetrics == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte("prometheus metrics not initialized"))
		})
	}
	return promhttp.HandlerFor(promMetrics.registry, promhttp.HandlerOpts{})
}

// PrometheusRegistry returns the prometheus registry (for custom collectors)
func PrometheusRegistry() *prometheus.Registry {
	if promMetrics == nil {
		return nil
	}
	return promMetrics.registry
}
