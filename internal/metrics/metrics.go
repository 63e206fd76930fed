// Package metrics provides Prometheus metrics for the streamvault server.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTP request metrics
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "streamvault_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "streamvault_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// Watch session metrics
	sessionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "streamvault_watch_sessions_active",
			Help: "Number of watch sessions currently open",
		},
	)

	sessionEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "streamvault_watch_events_total",
			Help: "Total events pushed to watch clients",
		},
		[]string{"event"},
	)

	// Cache metrics
	cacheLookupsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "streamvault_cache_lookups_total",
			Help: "Total cache lookups by outcome",
		},
		[]string{"outcome"},
	)

	cacheSweptTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "streamvault_cache_swept_entries_total",
			Help: "Total expired cache entries removed by the sweeper",
		},
	)

	// Acquisition metrics
	acquisitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "streamvault_acquisitions_total",
			Help: "Total torrent acquisitions by outcome",
		},
		[]string{"outcome"},
	)

	// File serving metrics
	fileBytesServed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "streamvault_file_bytes_served_total",
			Help: "Total bytes served from the files endpoint",
		},
	)
)

// RecordHTTPRequest records an HTTP request.
func RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// SetSessionsActive sets the active watch session gauge.
func SetSessionsActive(n int64) {
	sessionsActive.Set(float64(n))
}

// RecordSessionEvent counts one pushed watch event by name.
func RecordSessionEvent(event string) {
	sessionEventsTotal.WithLabelValues(event).Inc()
}

// RecordCacheLookup counts a cache lookup: "hit" or "miss".
func RecordCacheLookup(outcome string) {
	cacheLookupsTotal.WithLabelValues(outcome).Inc()
}

// RecordCacheSwept counts entries removed by an expiry sweep.
func RecordCacheSwept(n int) {
	cacheSweptTotal.Add(float64(n))
}

// RecordAcquisition counts one acquisition: "completed", "failed" or "cancelled".
func RecordAcquisition(outcome string) {
	acquisitionsTotal.WithLabelValues(outcome).Inc()
}

// RecordFileBytes counts bytes served from the files endpoint.
func RecordFileBytes(n int64) {
	fileBytesServed.Add(float64(n))
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
