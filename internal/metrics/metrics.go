// Package metrics exposes Prometheus instrumentation for the sync
// engine: cache tier outcomes, fetch results and the pending queue.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Collector holds all Prometheus metrics for the engine.
type Collector struct {
	registry *prometheus.Registry

	// Cache tier metrics
	CacheHits      *prometheus.CounterVec
	CacheMisses    *prometheus.CounterVec
	CacheEvictions prometheus.Counter

	// Load outcomes, labeled by serving tier and result
	LoadOutcomes *prometheus.CounterVec
	StaleServed  prometheus.Counter

	// Network fetch metrics
	FetchDuration *prometheus.HistogramVec
	NotModified   prometheus.Counter

	// Interaction sync metrics
	PendingQueueDepth prometheus.Gauge
	SyncRetries       prometheus.Counter
	SyncFailures      *prometheus.CounterVec

	// HTTP surface metrics
	HTTPRequests *prometheus.CounterVec
	HTTPDuration *prometheus.HistogramVec
}

// NewCollector creates a collector with its own registry.
func NewCollector(namespace string) *Collector {
	registry := prometheus.NewRegistry()

	cacheHits := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_hits_total",
			Help:      "Cache hits by tier (memory, local)",
		},
		[]string{"tier"},
	)
	cacheMisses := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_misses_total",
			Help:      "Cache misses by tier (memory, local)",
		},
		[]string{"tier"},
	)
	cacheEvictions := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_evictions_total",
			Help:      "Entries evicted from the memory cache",
		},
	)
	loadOutcomes := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "load_outcomes_total",
			Help:      "Resource load results by resource type and outcome",
		},
		[]string{"resource_type", "outcome"},
	)
	staleServed := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stale_served_total",
			Help:      "Loads answered from cache after a failed refresh",
		},
	)
	fetchDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "fetch_duration_seconds",
			Help:      "Upstream fetch duration by resource type",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"resource_type"},
	)
	notModified := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fetch_not_modified_total",
			Help:      "Conditional fetches answered with 304",
		},
	)
	pendingQueueDepth := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pending_queue_depth",
			Help:      "Interaction operations awaiting retry",
		},
	)
	syncRetries := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sync_retries_total",
			Help:      "Pending operation retry attempts",
		},
	)
	syncFailures := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sync_failures_total",
			Help:      "Interaction sync failures by error type",
		},
		[]string{"error_type"},
	)
	httpRequests := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests served",
		},
		[]string{"method", "route", "status"},
	)
	httpDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	registry.MustRegister(
		cacheHits,
		cacheMisses,
		cacheEvictions,
		loadOutcomes,
		staleServed,
		fetchDuration,
		notModified,
		pendingQueueDepth,
		syncRetries,
		syncFailures,
		httpRequests,
		httpDuration,
	)

	return &Collector{
		registry:          registry,
		CacheHits:         cacheHits,
		CacheMisses:       cacheMisses,
		CacheEvictions:    cacheEvictions,
		LoadOutcomes:      loadOutcomes,
		StaleServed:       staleServed,
		FetchDuration:     fetchDuration,
		NotModified:       notModified,
		PendingQueueDepth: pendingQueueDepth,
		SyncRetries:       syncRetries,
		SyncFailures:      syncFailures,
		HTTPRequests:      httpRequests,
		HTTPDuration:      httpDuration,
	}
}

// Registry returns the Prometheus registry backing this collector.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}
