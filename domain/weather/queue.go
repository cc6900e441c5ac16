package weather

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/rafaelsanoli/lavra.ai-sub000/domain/farms"
	"github.com/rafaelsanoli/lavra.ai-sub000/internal/config"
	"github.com/rafaelsanoli/lavra.ai-sub000/internal/jobs"
	"github.com/rafaelsanoli/lavra.ai-sub000/pkg/logger"
)

// JobTypeUpdateWeather is the only job type of the weather queue.
const JobTypeUpdateWeather = "update-weather"

var ErrInvalidPayload = errors.New("invalid weather job payload")

var DefaultPolicy = jobs.Policy{
	Retry:    jobs.RetryPolicy{MaxAttempts: 3, Backoff: jobs.BackoffExponential, BaseDelay: 2 * time.Second},
	Priority: jobs.PriorityNormal,
}

// Queue is the producer side of the weather queue.
type Queue struct {
	store  jobs.Store
	policy jobs.Policy
	cron   string
	log    *slog.Logger
}

func NewQueue(store jobs.Store, cfg *config.Config, log *slog.Logger) *Queue {
	return &Queue{
		store:  store,
		policy: jobs.ResolvePolicy(cfg, jobs.QueueWeather, DefaultPolicy),
		cron:   cfg.Queue.CronSpec(cfg.Weather.Cron),
		log:    log.With(logger.Scope("weather.queue")),
	}
}

func (q *Queue) AddUpdateWeatherJob(ctx context.Context, p UpdateWeatherPayload) (string, error) {
	job, err := q.newJob(p)
	if err != nil {
		return "", err
	}
	id, err := q.store.Enqueue(ctx, job)
	if err != nil {
		return "", fmt.Errorf("enqueue %s: %w", JobTypeUpdateWeather, err)
	}
	q.log.Debug("weather update queued", slog.String("job_id", id), slog.String("farm_id", p.FarmID))
	return id, nil
}

// AddBulkWeatherUpdate enqueues one update per payload; invalid items are
// reported in their slot.
func (q *Queue) AddBulkWeatherUpdate(ctx context.Context, payloads []UpdateWeatherPayload) ([]jobs.BulkResult, error) {
	results := make([]jobs.BulkResult, len(payloads))
	batch := make([]*jobs.Job, 0, len(payloads))
	slots := make([]int, 0, len(payloads))
	for i, p := range payloads {
		job, err := q.newJob(p)
		if err != nil {
			results[i].Err = err
			continue
		}
		batch = append(batch, job)
		slots = append(slots, i)
	}
	if len(batch) == 0 {
		return results, nil
	}

	stored, err := q.store.EnqueueBulk(ctx, batch)
	if err != nil {
		return nil, fmt.Errorf("enqueue bulk %s: %w", JobTypeUpdateWeather, err)
	}
	for j, r := range stored {
		results[slots[j]] = r
	}
	return results, nil
}

// ScheduleWeatherUpdates registers the periodic refresh of every farm that has
// coordinates. Farms without them are skipped.
func (q *Queue) ScheduleWeatherUpdates(ctx context.Context, list []farms.Farm) ([]string, error) {
	keys := make([]string, 0, len(list))
	for i := range list {
		farm := &list[i]
		if !farm.HasCoordinates() {
			continue
		}
		job, err := q.newJob(UpdateWeatherPayload{FarmID: farm.ID, UserID: farm.UserID})
		if err != nil {
			return keys, err
		}
		key, err := q.store.EnqueueRepeating(ctx, job, q.cron)
		if err != nil {
			return keys, fmt.Errorf("schedule weather for farm %s: %w", farm.ID, err)
		}
		keys = append(keys, key)
	}
	q.log.Info("weather updates scheduled", slog.Int("farms", len(keys)), slog.String("cron", q.cron))
	return keys, nil
}

func (q *Queue) newJob(p UpdateWeatherPayload) (*jobs.Job, error) {
	p.FarmID = strings.TrimSpace(p.FarmID)
	p.UserID = strings.TrimSpace(p.UserID)
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return jobs.New(jobs.QueueWeather, JobTypeUpdateWeather, p, q.policy)
}

func (p UpdateWeatherPayload) Validate() error {
	if p.FarmID == "" {
		return fmt.Errorf("%w: missing farmId", ErrInvalidPayload)
	}
	if p.UserID == "" {
		return fmt.Errorf("%w: missing userId", ErrInvalidPayload)
	}
	return nil
}
