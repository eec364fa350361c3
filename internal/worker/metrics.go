package worker

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus metrics for job processing. Registered on the default
// registry; the API server exposes them on /metrics.
var (
	jobsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "qbtrules_jobs_processed_total",
		Help: "Jobs processed by the worker, by final status.",
	}, []string{"status"})

	rulesMatched = promauto.NewCounter(prometheus.CounterOpts{
		Name: "qbtrules_rules_matched_total",
		Help: "Rule-torrent matches across all runs.",
	})

	actionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "qbtrules_actions_total",
		Help: "Actions dispatched across all runs, by outcome.",
	}, []string{"outcome"})

	queueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "qbtrules_queue_depth",
		Help: "Pending jobs in the queue.",
	})

	runDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "qbtrules_run_duration_seconds",
		Help:    "Wall time of one rule run.",
		Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
	})
)
