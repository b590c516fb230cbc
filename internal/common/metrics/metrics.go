// internal/common/metrics/metrics.go
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	DispatchJobsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dispatch_jobs_processed_total",
			Help: "Total number of dispatch jobs settled, by outcome",
		},
		[]string{"outcome"},
	)

	DispatchJobsFailed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dispatch_jobs_failed_total",
			Help: "Total number of failed dispatch attempts, by error code",
		},
		[]string{"error_code"},
	)

	DispatchJobDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "dispatch_job_duration_seconds",
			Help:    "Duration of dispatch job processing in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	DispatchJobsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "dispatch_jobs_active",
			Help: "Number of dispatch jobs currently being processed by this process",
		},
	)

	QueueJobs = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "dispatch_queue_jobs",
			Help: "Number of jobs in the dispatch queue, by phase",
		},
		[]string{"phase"},
	)

	BroadcastTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "broadcast_transitions_total",
			Help: "Broadcast status transitions",
		},
		[]string{"from", "to"},
	)

	SchedulerActivations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scheduler_activations_total",
			Help: "Scheduled campaign activation attempts, by result",
		},
		[]string{"result"},
	)

	QueuePauseOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "queue_pause_operations_total",
			Help: "Jobs touched by pause, resume and remove passes",
		},
		[]string{"operation"},
	)
)
