// Package metrics exposes the site's Prometheus instrumentation.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles every counter/histogram the site emits.
type Metrics struct {
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPInFlight        prometheus.Gauge
	ReplicationUpdates  *prometheus.CounterVec
	PlansEnumerated     prometheus.Histogram
	JobRunsStarted      prometheus.Counter
	JobRunsCompleted    prometheus.Counter
	JobRunsFailed       prometheus.Counter
	ImageCacheHits      prometheus.Counter
	ImageCacheMisses    prometheus.Counter
}

// New registers and returns a fresh Metrics bundle on reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name: "ddm_http_request_duration_seconds",
			Help: "HTTP request duration in seconds.",
		}, []string{"method", "path", "status"}),
		HTTPInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ddm_http_in_flight_requests",
			Help: "Number of HTTP requests currently being served.",
		}),
		ReplicationUpdates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ddm_replication_updates_applied_total",
			Help: "Replica updates successfully applied, by archive.",
		}, []string{"archive"}),
		PlansEnumerated: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "ddm_plans_enumerated",
			Help:    "Number of legal plans found per planning call.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12),
		}),
		JobRunsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ddm_jobruns_started_total",
			Help: "JobRuns started on this site.",
		}),
		JobRunsCompleted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ddm_jobruns_completed_total",
			Help: "JobRuns completed successfully on this site.",
		}),
		JobRunsFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ddm_jobruns_failed_total",
			Help: "JobRuns that failed fatally on this site.",
		}),
		ImageCacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ddm_image_cache_hits_total",
			Help: "Image cache references satisfied without a download.",
		}),
		ImageCacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ddm_image_cache_misses_total",
			Help: "Image cache references that triggered a download.",
		}),
	}

	reg.MustRegister(
		m.HTTPRequestDuration, m.HTTPInFlight, m.ReplicationUpdates, m.PlansEnumerated,
		m.JobRunsStarted, m.JobRunsCompleted, m.JobRunsFailed,
		m.ImageCacheHits, m.ImageCacheMisses,
	)
	return m
}

// RecordHTTPRequest records one completed HTTP request's duration.
func (m *Metrics) RecordHTTPRequest(method, path, status string, duration time.Duration) {
	m.HTTPRequestDuration.WithLabelValues(method, path, status).Observe(duration.Seconds())
}
