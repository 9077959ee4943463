package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	APICallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "weatherlanding_api_calls_total",
			Help: "Total upstream API calls",
		},
		[]string{"source", "endpoint", "status"},
	)

	APILatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "weatherlanding_api_latency_seconds",
			Help:    "Upstream API call latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"source", "endpoint"},
	)

	RunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "weatherlanding_runs_total",
			Help: "Total pipeline runs by result",
		},
		[]string{"status"},
	)

	RunDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "weatherlanding_run_duration_seconds",
			Help:    "Pipeline run duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	BranchOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "weatherlanding_branch_outcomes_total",
			Help: "Branch outcomes per source (written, skipped, failed)",
		},
		[]string{"source", "outcome", "stage"},
	)

	BranchFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "weatherlanding_branch_failures_total",
			Help: "Failed branches per source and error kind",
		},
		[]string{"source", "kind"},
	)

	ObjectsWritten = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "weatherlanding_objects_written_total",
			Help: "Objects written to the landing containers",
		},
		[]string{"container"},
	)

	ObjectBytes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "weatherlanding_object_bytes_total",
			Help: "Bytes written to the landing containers",
		},
		[]string{"container"},
	)

	RunRetries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "weatherlanding_run_retries_total",
			Help: "Whole-run retries scheduled after a failed run",
		},
	)

	Notifications = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "weatherlanding_notifications_total",
			Help: "Operator notifications sent after retries were exhausted",
		},
		[]string{"backend", "status"},
	)
)
