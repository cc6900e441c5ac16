package market

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/rafaelsanoli/lavra.ai-sub000/internal/config"
	"github.com/rafaelsanoli/lavra.ai-sub000/internal/jobs"
	"github.com/rafaelsanoli/lavra.ai-sub000/pkg/logger"
)

// JobTypeUpdatePrices is the only job type of the market queue.
const JobTypeUpdatePrices = "update-prices"

var ErrInvalidPayload = errors.New("invalid market job payload")

// DefaultPolicy is applied to every market job unless the policy file overrides it.
var DefaultPolicy = jobs.Policy{
	Retry:    jobs.RetryPolicy{MaxAttempts: 3, Backoff: jobs.BackoffExponential, BaseDelay: 3 * time.Second},
	Priority: jobs.PriorityNormal,
}

// Queue is the producer side of the market queue.
type Queue struct {
	store  jobs.Store
	policy jobs.Policy
	cron   string
	log    *slog.Logger
}

// NewQueue creates the market queue client.
func NewQueue(store jobs.Store, cfg *config.Config, log *slog.Logger) *Queue {
	return &Queue{
		store:  store,
		policy: jobs.ResolvePolicy(cfg, jobs.QueueMarket, DefaultPolicy),
		cron:   cfg.Queue.CronSpec(cfg.Market.Cron),
		log:    log.With(logger.Scope("market.queue")),
	}
}

// Policy returns the policy applied to new jobs.
func (q *Queue) Policy() jobs.Policy { return q.policy }

// AddUpdatePricesJob enqueues one price refresh.
func (q *Queue) AddUpdatePricesJob(ctx context.Context, p UpdatePricesPayload) (string, error) {
	job, err := q.newJob(p)
	if err != nil {
		return "", err
	}
	id, err := q.store.Enqueue(ctx, job)
	if err != nil {
		return "", fmt.Errorf("enqueue %s: %w", JobTypeUpdatePrices, err)
	}
	q.log.Debug("price update queued",
		slog.String("job_id", id),
		slog.String("commodity", p.Commodity),
		slog.String("market", p.Market))
	return id, nil
}

// AddBulkUpdatePrices enqueues many refreshes. Invalid items are reported in
// their result slot and never reach the store.
func (q *Queue) AddBulkUpdatePrices(ctx context.Context, payloads []UpdatePricesPayload) ([]jobs.BulkResult, error) {
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
		return nil, fmt.Errorf("enqueue bulk %s: %w", JobTypeUpdatePrices, err)
	}
	for j, r := range stored {
		results[slots[j]] = r
	}
	q.log.Info("bulk price updates queued", slog.Int("count", len(batch)), slog.Int("rejected", len(payloads)-len(batch)))
	return results, nil
}

// ScheduleBusinessHoursUpdates registers a repeating refresh for every pair on
// the business-hours schedule. Registering an existing pair is a no-op.
func (q *Queue) ScheduleBusinessHoursUpdates(ctx context.Context, pairs []UpdatePricesPayload) ([]string, error) {
	keys := make([]string, 0, len(pairs))
	for _, p := range pairs {
		job, err := q.newJob(p)
		if err != nil {
			return keys, err
		}
		key, err := q.store.EnqueueRepeating(ctx, job, q.cron)
		if err != nil {
			return keys, fmt.Errorf("schedule %s/%s: %w", p.Commodity, p.Market, err)
		}
		keys = append(keys, key)
	}
	q.log.Info("business hours price updates scheduled", slog.Int("pairs", len(keys)), slog.String("cron", q.cron))
	return keys, nil
}

func (q *Queue) newJob(p UpdatePricesPayload) (*jobs.Job, error) {
	p = p.normalize()
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return jobs.New(jobs.QueueMarket, JobTypeUpdatePrices, p, q.policy)
}

func (p UpdatePricesPayload) normalize() UpdatePricesPayload {
	p.Commodity = strings.ToUpper(strings.TrimSpace(p.Commodity))
	p.Market = strings.ToUpper(strings.TrimSpace(p.Market))
	p.UserID = strings.TrimSpace(p.UserID)
	return p
}

// Validate checks the fields every update-prices job needs.
func (p UpdatePricesPayload) Validate() error {
	if p.Commodity == "" {
		return fmt.Errorf("%w: missing commodity", ErrInvalidPayload)
	}
	if p.Market == "" {
		return fmt.Errorf("%w: missing market", ErrInvalidPayload)
	}
	return nil
}

// ParseTracked reads COMMODITY:MARKET pairs as configured in MARKET_TRACKED.
func ParseTracked(entries []string) ([]UpdatePricesPayload, error) {
	pairs := make([]UpdatePricesPayload, 0, len(entries))
	for _, e := range entries {
		e = strings.TrimSpace(e)
		if e == "" {
			continue
		}
		commodity, mkt, ok := strings.Cut(e, ":")
		if !ok {
			return nil, fmt.Errorf("%w: tracked pair %q is not COMMODITY:MARKET", ErrInvalidPayload, e)
		}
		p := UpdatePricesPayload{Commodity: commodity, Market: mkt}.normalize()
		if err := p.Validate(); err != nil {
			return nil, fmt.Errorf("tracked pair %q: %w", e, err)
		}
		pairs = append(pairs, p)
	}
	return pairs, nil
}
