// Package metrics provides Prometheus metrics for the tender sync pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// SyncRunsTotal tracks finished sync runs by terminal status
	SyncRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tendersync",
			Subsystem: "sync",
			Name:      "runs_total",
			Help:      "Total number of sync runs by terminal status",
		},
		[]string{"status"},
	)

	// SyncRunDuration tracks wall-clock duration of sync runs
	SyncRunDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "tendersync",
			Subsystem: "sync",
			Name:      "run_duration_seconds",
			Help:      "Duration of sync runs in seconds",
			Buckets:   []float64{1, 5, 10, 30, 60, 120, 300, 600, 1800, 3600},
		},
	)

	// RecordsTotal tracks processed records by upsert outcome
	RecordsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tendersync",
			Subsystem: "sync",
			Name:      "records_total",
			Help:      "Total number of source records processed by outcome",
		},
		[]string{"outcome"},
	)

	// SourceRequests tracks outbound page requests
	SourceRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tendersync",
			Subsystem: "source",
			Name:      "requests_total",
			Help:      "Total number of page requests to the tender source",
		},
		[]string{"status_code"},
	)

	// SourceRequestDuration tracks page request latency
	SourceRequestDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "tendersync",
			Subsystem: "source",
			Name:      "request_duration_seconds",
			Help:      "Duration of page requests to the tender source in seconds",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
	)

	// SourceRetries tracks 429/503 backoffs
	SourceRetries = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "tendersync",
			Subsystem: "source",
			Name:      "retries_total",
			Help:      "Total number of throttled page requests that were retried",
		},
	)
)
