// Package metrics provides Prometheus metrics for the session tracker.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "session_tracker"

// Recorder holds every metric the service exports.
// A nil *Recorder is valid and records nothing.
type Recorder struct {
	registry *prometheus.Registry

	sessionsUpserted   *prometheus.CounterVec
	splitsInserted     prometheus.Counter
	splitsSkipped      prometheus.Counter
	validationFailures *prometheus.CounterVec
	mergeFailures      prometheus.Counter
	mergeDuration      prometheus.Histogram

	cacheHits   *prometheus.CounterVec
	cacheMisses *prometheus.CounterVec

	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	wsConnections prometheus.Gauge
}

// NewRecorder creates a recorder backed by its own registry
func NewRecorder() *Recorder {
	reg := prometheus.NewRegistry()
	r := &Recorder{
		registry: reg,
		sessionsUpserted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_upserted_total",
			Help:      "Committed session merges by mode and source.",
		}, []string{"mode", "source"}),
		splitsInserted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "splits_inserted_total",
			Help:      "Splits newly stored by committed merges.",
		}),
		splitsSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "splits_skipped_total",
			Help:      "Submitted splits whose offset was already stored.",
		}),
		validationFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "validation_failures_total",
			Help:      "Rejected session payloads by source.",
		}, []string{"source"}),
		mergeFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "merge_failures_total",
			Help:      "Merges rolled back because of a storage failure.",
		}),
		mergeDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "merge_duration_seconds",
			Help:      "Time spent inside the merge transaction.",
			Buckets:   prometheus.DefBuckets,
		}),
		cacheHits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "query_cache_hits_total",
			Help:      "Aggregate queries served from the cache.",
		}, []string{"query"}),
		cacheMisses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "query_cache_misses_total",
			Help:      "Aggregate queries computed from the database.",
		}, []string{"query"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by route, method and status.",
		}, []string{"route", "method", "status"}),
		httpRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by route and method.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route", "method"}),
		wsConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "websocket_connections",
			Help:      "Currently connected live feed clients.",
		}),
	}

	reg.MustRegister(
		r.sessionsUpserted,
		r.splitsInserted,
		r.splitsSkipped,
		r.validationFailures,
		r.mergeFailures,
		r.mergeDuration,
		r.cacheHits,
		r.cacheMisses,
		r.httpRequests,
		r.httpRequestDuration,
		r.wsConnections,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return r
}

// Registry returns the underlying registry
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// Handler serves the registry in the Prometheus text format
func (r *Recorder) Handler() http.Handler {
	if r == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

// RecordMerge records a committed merge
func (r *Recorder) RecordMerge(mode, source string, submitted, inserted int, elapsed time.Duration) {
	if r == nil {
		return
	}
	r.sessionsUpserted.WithLabelValues(mode, source).Inc()
	r.splitsInserted.Add(float64(inserted))
	r.splitsSkipped.Add(float64(submitted - inserted))
	r.mergeDuration.Observe(elapsed.Seconds())
}

// RecordMergeFailure records a rolled back merge
func (r *Recorder) RecordMergeFailure() {
	if r == nil {
		return
	}
	r.mergeFailures.Inc()
}

// RecordValidationFailure records a rejected payload
func (r *Recorder) RecordValidationFailure(source string) {
	if r == nil {
		return
	}
	r.validationFailures.WithLabelValues(source).Inc()
}

// RecordCacheLookup records a cache hit or miss for a query
func (r *Recorder) RecordCacheLookup(query string, hit bool) {
	if r == nil {
		return
	}
	if hit {
		r.cacheHits.WithLabelValues(query).Inc()
		return
	}
	r.cacheMisses.WithLabelValues(query).Inc()
}

// RecordHTTPRequest records one served request
func (r *Recorder) RecordHTTPRequest(route, method string, status int, elapsed time.Duration) {
	if r == nil {
		return
	}
	r.httpRequests.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
	r.httpRequestDuration.WithLabelValues(route, method).Observe(elapsed.Seconds())
}

// SetWebSocketConnections updates the live feed connection gauge
func (r *Recorder) SetWebSocketConnections(n int) {
	if r == nil {
		return
	}
	r.wsConnections.Set(float64(n))
}
