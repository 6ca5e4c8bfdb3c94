package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Counters are cumulative; gauges mirror instantaneous queue depths via the
// Poller. Collectors register against the default registry and are exposed
// on GET /metrics.
var (
	JobsEnqueued = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dispatch_jobs_enqueued_total",
		Help: "Total jobs accepted into the ready or delayed queue",
	})
	JobsCompleted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dispatch_jobs_completed_total",
		Help: "Total jobs that reached COMPLETED",
	})
	JobsFailed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dispatch_jobs_failed_total",
		Help: "Total handler failures, including ones that will retry",
	})
	JobsDead = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dispatch_jobs_dead_total",
		Help: "Total jobs moved to the dead-letter store",
	})
	JobsRecovered = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dispatch_jobs_recovered_total",
		Help: "Total orphaned jobs reclaimed from dead workers",
	})
	WebhookAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dispatch_webhook_attempts_total",
		Help: "Total webhook delivery attempts by outcome",
	}, []string{"outcome"})

	JobDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "dispatch_job_duration_seconds",
		Help:    "Handler execution latency",
		Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
	})

	ReadyDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "dispatch_queue_ready_depth",
		Help: "Jobs currently in the ready set",
	})
	DelayedDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "dispatch_queue_delayed_depth",
		Help: "Jobs currently parked in the delayed set",
	})
	ProcessingDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "dispatch_queue_processing_depth",
		Help: "Jobs currently in flight",
	})
	DeadLetterDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "dispatch_queue_deadletter_depth",
		Help: "Entries in the dead-letter index",
	})
	ActiveWorkers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "dispatch_workers_active",
		Help: "Worker rows with status active",
	})
)
