package jobs

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	JobsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lavra_jobs_processed_total",
		Help: "Jobs processed by the worker pools, by outcome (completed, skipped, retried, failed)",
	}, []string{"queue", "outcome"})

	JobDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "lavra_job_duration_seconds",
		Help:    "Wall time of one job execution",
		Buckets: prometheus.ExponentialBuckets(0.05, 2, 14),
	}, []string{"queue"})

	QueueJobs = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "lavra_queue_jobs",
		Help: "Jobs currently held by a queue, by state",
	}, []string{"queue", "state"})

	QueuePaused = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "lavra_queue_paused",
		Help: "1 while a queue is paused",
	}, []string{"queue"})

	PoolConcurrency = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "lavra_pool_concurrency",
		Help: "Slots currently allowed to lease jobs",
	}, []string{"queue"})
)

// RecordCounts publishes a Counts snapshot as gauges.
func RecordCounts(queue QueueName, c Counts) {
	q := string(queue)
	QueueJobs.WithLabelValues(q, string(StateWaiting)).Set(float64(c.Waiting))
	QueueJobs.WithLabelValues(q, string(StateDelayed)).Set(float64(c.Delayed))
	QueueJobs.WithLabelValues(q, string(StateActive)).Set(float64(c.Active))
	QueueJobs.WithLabelValues(q, string(StateCompleted)).Set(float64(c.Completed))
	QueueJobs.WithLabelValues(q, string(StateFailed)).Set(float64(c.Failed))
	paused := 0.0
	if c.Paused {
		paused = 1
	}
	QueuePaused.WithLabelValues(q).Set(paused)
}
