package health

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/rafaelsanoli/lavra.ai-sub000/domain/scheduler"
	"github.com/rafaelsanoli/lavra.ai-sub000/internal/jobs"
	"github.com/rafaelsanoli/lavra.ai-sub000/pkg/logger"
)

// TaskLister reports the scheduler's registered tasks.
type TaskLister interface {
	GetTaskInfo() []scheduler.TaskInfo
}

// MetricsHandler serves JSON job and scheduler metrics. The prometheus
// exposition lives on /metrics.
type MetricsHandler struct {
	store jobs.Store
	pools *jobs.Pools
	tasks TaskLister
	log   *slog.Logger
}

// NewMetricsHandler creates a new metrics handler. pools and tasks may be nil.
func NewMetricsHandler(store jobs.Store, pools *jobs.Pools, tasks TaskLister, log *slog.Logger) *MetricsHandler {
	return &MetricsHandler{
		store: store,
		pools: pools,
		tasks: tasks,
		log:   log.With(logger.Scope("health.metrics")),
	}
}

// JobQueueMetrics represents metrics for a single job queue
type JobQueueMetrics struct {
	Queue     string          `json:"queue"`
	Waiting   int64           `json:"waiting"`
	Delayed   int64           `json:"delayed"`
	Active    int64           `json:"active"`
	Completed int64           `json:"completed"`
	Failed    int64           `json:"failed"`
	Total     int64           `json:"total"`
	Paused    bool            `json:"paused"`
	Pool      *jobs.PoolStats `json:"pool,omitempty"`
}

// AllJobMetrics contains metrics for all job queues
type AllJobMetrics struct {
	Queues    []JobQueueMetrics `json:"queues"`
	Timestamp string            `json:"timestamp"`
}

// JobMetrics returns metrics for all job queues
func (h *MetricsHandler) JobMetrics(c echo.Context) error {
	ctx := c.Request().Context()

	all := make([]JobQueueMetrics, 0, len(jobs.Queues))
	for _, q := range jobs.Queues {
		counts, err := h.store.Counts(ctx, q)
		if err != nil {
			// keep reporting the other queues
			h.log.Warn("queue counts unavailable", slog.String("queue", string(q)), logger.Error(err))
			continue
		}
		jobs.RecordCounts(q, counts)

		m := JobQueueMetrics{
			Queue:     string(q),
			Waiting:   counts.Waiting,
			Delayed:   counts.Delayed,
			Active:    counts.Active,
			Completed: counts.Completed,
			Failed:    counts.Failed,
			Total:     counts.Waiting + counts.Delayed + counts.Active + counts.Completed + counts.Failed,
			Paused:    counts.Paused,
		}
		if h.pools != nil {
			if pool, ok := h.pools.Get(q); ok {
				stats := pool.Stats()
				m.Pool = &stats
			}
		}
		all = append(all, m)
	}

	return c.JSON(http.StatusOK, AllJobMetrics{
		Queues:    all,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

// SchedulerMetrics returns the registered scheduler tasks and their run times
func (h *MetricsHandler) SchedulerMetrics(c echo.Context) error {
	tasks := []scheduler.TaskInfo{}
	if h.tasks != nil {
		tasks = append(tasks, h.tasks.GetTaskInfo()...)
	}
	return c.JSON(http.StatusOK, map[string]any{
		"tasks": tasks,
	})
}
