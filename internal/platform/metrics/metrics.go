package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the synchronization engine.
type Metrics struct {
	SyncsStarted   prometheus.Counter
	SyncsCompleted prometheus.Counter
	SyncsFailed    *prometheus.CounterVec
	SyncsBisected  prometheus.Counter

	PollCycles      prometheus.Counter
	PackagesFetched prometheus.Counter
	PackagesFailed  prometheus.Counter
	FetchDuration   prometheus.Histogram

	DocumentsStored    prometheus.Counter
	DocumentsDuplicate prometheus.Counter
	DocumentsRejected  *prometheus.CounterVec
}

// New creates and registers all Prometheus metrics.
func New() *Metrics {
	return &Metrics{
		SyncsStarted: promauto.NewCounter(prometheus.CounterOpts{
			Name: "satsync_syncs_started_total",
			Help: "Total number of synchronization jobs started",
		}),
		SyncsCompleted: promauto.NewCounter(prometheus.CounterOpts{
			Name: "satsync_syncs_completed_total",
			Help: "Total number of synchronization jobs completed successfully",
		}),
		SyncsFailed: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "satsync_syncs_failed_total",
			Help: "Total number of synchronization jobs terminally failed, by reason",
		}, []string{"reason"}),
		SyncsBisected: promauto.NewCounter(prometheus.CounterOpts{
			Name: "satsync_syncs_bisected_total",
			Help: "Total number of date-range bisections triggered by too-large results",
		}),
		PollCycles: promauto.NewCounter(prometheus.CounterOpts{
			Name: "satsync_poll_cycles_total",
			Help: "Total number of status polls against the remote service",
		}),
		PackagesFetched: promauto.NewCounter(prometheus.CounterOpts{
			Name: "satsync_packages_fetched_total",
			Help: "Total number of result packages downloaded",
		}),
		PackagesFailed: promauto.NewCounter(prometheus.CounterOpts{
			Name: "satsync_packages_failed_total",
			Help: "Total number of result packages that exhausted download retries",
		}),
		FetchDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "satsync_fetch_duration_seconds",
			Help:    "Package download duration",
			Buckets: prometheus.DefBuckets,
		}),
		DocumentsStored: promauto.NewCounter(prometheus.CounterOpts{
			Name: "satsync_documents_stored_total",
			Help: "Total number of fiscal documents inserted",
		}),
		DocumentsDuplicate: promauto.NewCounter(prometheus.CounterOpts{
			Name: "satsync_documents_duplicate_total",
			Help: "Total number of fiscal documents skipped as already stored",
		}),
		DocumentsRejected: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "satsync_documents_rejected_total",
			Help: "Total number of document entries rejected during processing, by reason",
		}, []string{"reason"}),
	}
}
