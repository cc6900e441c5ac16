package queueadmin

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/rafaelsanoli/lavra.ai-sub000/internal/jobs"
	"github.com/rafaelsanoli/lavra.ai-sub000/pkg/apperror"
	"github.com/rafaelsanoli/lavra.ai-sub000/pkg/auth"
	"github.com/rafaelsanoli/lavra.ai-sub000/pkg/logger"
)

// PoolStatser reports worker pool counters; *jobs.Pools satisfies it
// through its Get method.
type PoolStatser interface {
	Get(queue jobs.QueueName) (*jobs.Pool, bool)
}

// Handler serves the queue administration API.
type Handler struct {
	store jobs.Store
	pools PoolStatser
	log   *slog.Logger
}

// NewHandler creates a queue admin handler. pools may be nil.
func NewHandler(store jobs.Store, pools PoolStatser, log *slog.Logger) *Handler {
	return &Handler{
		store: store,
		pools: pools,
		log:   log.With(logger.Scope("queueadmin")),
	}
}

// ListQueues handles GET /api/admin/queues
func (h *Handler) ListQueues(c echo.Context) error {
	out := make([]QueueStatus, 0, len(jobs.Queues))
	for _, q := range jobs.Queues {
		st, err := h.status(c, q)
		if err != nil {
			return err
		}
		out = append(out, st)
	}
	return c.JSON(http.StatusOK, QueueListResponse{Data: out})
}

// GetQueue handles GET /api/admin/queues/:queue
func (h *Handler) GetQueue(c echo.Context) error {
	q, err := queueParam(c)
	if err != nil {
		return err
	}
	st, err := h.status(c, q)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, st)
}

func (h *Handler) status(c echo.Context, q jobs.QueueName) (QueueStatus, error) {
	counts, err := h.store.Counts(c.Request().Context(), q)
	if err != nil {
		return QueueStatus{}, mapError(err)
	}
	jobs.RecordCounts(q, counts)

	st := QueueStatus{Queue: q, Counts: counts}
	if h.pools != nil {
		if pool, ok := h.pools.Get(q); ok {
			stats := pool.Stats()
			st.Pool = &stats
		}
	}
	return st, nil
}

// Pause handles POST /api/admin/queues/:queue/pause
func (h *Handler) Pause(c echo.Context) error {
	return h.control(c, "paused", h.store.Pause)
}

// Resume handles POST /api/admin/queues/:queue/resume
func (h *Handler) Resume(c echo.Context) error {
	return h.control(c, "resumed", h.store.Resume)
}

// Drain handles POST /api/admin/queues/:queue/drain
func (h *Handler) Drain(c echo.Context) error {
	return h.control(c, "drained", h.store.Drain)
}

func (h *Handler) control(c echo.Context, status string, action func(ctx context.Context, q jobs.QueueName) error) error {
	q, err := queueParam(c)
	if err != nil {
		return err
	}
	if err := action(c.Request().Context(), q); err != nil {
		return mapError(err)
	}

	h.log.Info("queue "+status,
		slog.String("queue", string(q)),
		slog.String("by", actor(c)))
	return c.JSON(http.StatusOK, ActionResponse{Queue: q, Status: status})
}

// GetJob handles GET /api/admin/jobs/:id
func (h *Handler) GetJob(c echo.Context) error {
	id := c.Param("id")
	if id == "" {
		return apperror.ErrBadRequest.WithMessage("job id is required")
	}
	job, err := h.store.Get(c.Request().Context(), id)
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, job)
}

// ListRepeats handles GET /api/admin/queues/:queue/repeats
func (h *Handler) ListRepeats(c echo.Context) error {
	q, err := queueParam(c)
	if err != nil {
		return err
	}
	specs, err := h.store.Repeating(c.Request().Context(), q)
	if err != nil {
		return mapError(err)
	}
	if specs == nil {
		specs = []jobs.RepeatSpec{}
	}
	return c.JSON(http.StatusOK, RepeatListResponse{Data: specs})
}

// RemoveRepeat handles DELETE /api/admin/queues/:queue/repeats/:key
func (h *Handler) RemoveRepeat(c echo.Context) error {
	q, err := queueParam(c)
	if err != nil {
		return err
	}
	key := c.Param("key")
	if err := h.store.RemoveRepeating(c.Request().Context(), q, key); err != nil {
		return mapError(err)
	}

	h.log.Info("repeat schedule removed",
		slog.String("queue", string(q)),
		slog.String("key", key),
		slog.String("by", actor(c)))
	return c.NoContent(http.StatusNoContent)
}

func queueParam(c echo.Context) (jobs.QueueName, error) {
	q := jobs.QueueName(c.Param("queue"))
	if !q.Valid() {
		return "", apperror.ErrQueueNotFound.WithMessage("Unknown queue '" + string(q) + "'")
	}
	return q, nil
}

func actor(c echo.Context) string {
	if id := auth.GetUser(c); id != nil {
		return id.UserID
	}
	return ""
}

// mapError translates store errors into HTTP errors.
func mapError(err error) error {
	switch {
	case errors.Is(err, jobs.ErrUnknownQueue):
		return apperror.ErrQueueNotFound.WithInternal(err)
	case errors.Is(err, jobs.ErrJobNotFound):
		return apperror.ErrJobNotFound.WithInternal(err)
	case errors.Is(err, jobs.ErrRepeatNotFound):
		return apperror.ErrRepeatNotFound.WithInternal(err)
	default:
		return apperror.ErrQueueStore.WithInternal(err)
	}
}
