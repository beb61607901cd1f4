// Package metrics holds the Prometheus collectors for the configuration
// service: HTTP traffic plus cache and store activity.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry holds the application-specific Prometheus collectors.
	Registry = prometheus.NewRegistry()

	// HTTPInFlight tracks requests currently being served.
	HTTPInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "config_service",
			Subsystem: "http",
			Name:      "inflight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		},
	)

	// HTTPRequests counts handled HTTP requests.
	HTTPRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "config_service",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPDuration observes request latency.
	HTTPDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "config_service",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10), // 5ms to ~5s
		},
		[]string{"method", "path"},
	)

	cacheHits = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "config_service",
			Subsystem: "config",
			Name:      "cache_hits_total",
			Help:      "Configuration reads served from the in-process cache.",
		},
	)

	cacheMisses = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "config_service",
			Subsystem: "config",
			Name:      "cache_misses_total",
			Help:      "Configuration reads that fell through to the store.",
		},
	)

	storeReads = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "config_service",
			Subsystem: "config",
			Name:      "store_reads_total",
			Help:      "Document store read operations.",
		},
	)

	storeWrites = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "config_service",
			Subsystem: "config",
			Name:      "store_writes_total",
			Help:      "Document store write operations.",
		},
	)

	writeConflicts = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "config_service",
			Subsystem: "config",
			Name:      "write_conflicts_total",
			Help:      "Admin writes rejected by the concurrent-modification check.",
		},
	)
)

func init() {
	Registry.MustRegister(
		HTTPInFlight,
		HTTPRequests,
		HTTPDuration,
		cacheHits,
		cacheMisses,
		storeReads,
		storeWrites,
		writeConflicts,
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
	)
}

// Handler returns an HTTP handler exposing the registered Prometheus metrics.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// RecordCacheHit counts a configuration read served from cache.
func RecordCacheHit() { cacheHits.Inc() }

// RecordCacheMiss counts a configuration read that reached the store.
func RecordCacheMiss() { cacheMisses.Inc() }

// RecordStoreRead counts a document store read.
func RecordStoreRead() { storeReads.Inc() }

// RecordStoreWrite counts a document store write.
func RecordStoreWrite() { storeWrites.Inc() }

// RecordWriteConflict counts a rejected concurrent admin write.
func RecordWriteConflict() { writeConflicts.Inc() }
