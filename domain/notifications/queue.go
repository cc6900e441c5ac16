package notifications

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

// JobTypeSendNotification is the only job type of the notification queue.
const JobTypeSendNotification = "send-notification"

var ErrInvalidPayload = errors.New("invalid notification job payload")

// DefaultPolicy is applied to every notification job unless the policy file
// overrides it. The priority comes from the notification level instead.
var DefaultPolicy = jobs.Policy{
	Retry:    jobs.RetryPolicy{MaxAttempts: 3, Backoff: jobs.BackoffExponential, BaseDelay: time.Second},
	Priority: jobs.PriorityNormal,
}

// Queue is the producer side of the notification queue.
type Queue struct {
	store  jobs.Store
	policy jobs.Policy
	log    *slog.Logger
	now    func() time.Time
}

// NewQueue creates the notification queue client.
func NewQueue(store jobs.Store, cfg *config.Config, log *slog.Logger) *Queue {
	return &Queue{
		store:  store,
		policy: jobs.ResolvePolicy(cfg, jobs.QueueNotification, DefaultPolicy),
		log:    log.With(logger.Scope("notifications.queue")),
		now:    time.Now,
	}
}

// Policy returns the policy applied to new jobs, before the level priority.
func (q *Queue) Policy() jobs.Policy { return q.policy }

// SendNotification enqueues one notification for immediate delivery.
func (q *Queue) SendNotification(ctx context.Context, p SendNotificationPayload) (string, error) {
	job, err := q.newJob(p)
	if err != nil {
		return "", err
	}
	id, err := q.store.Enqueue(ctx, job)
	if err != nil {
		return "", fmt.Errorf("enqueue %s: %w", JobTypeSendNotification, err)
	}
	q.log.Debug("notification queued",
		slog.String("job_id", id),
		slog.String("channel", string(p.Channel)),
		slog.Int("priority", int(job.Priority)))
	return id, nil
}

// SendBulkNotifications enqueues many notifications. Invalid items are
// reported in their result slot and never reach the store.
func (q *Queue) SendBulkNotifications(ctx context.Context, payloads []SendNotificationPayload) ([]jobs.BulkResult, error) {
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
		return nil, fmt.Errorf("enqueue bulk %s: %w", JobTypeSendNotification, err)
	}
	for j, r := range stored {
		results[slots[j]] = r
	}
	q.log.Info("bulk notifications queued", slog.Int("count", len(batch)), slog.Int("rejected", len(payloads)-len(batch)))
	return results, nil
}

// ScheduleNotification enqueues a notification that becomes eligible at at.
// A time in the past delivers as soon as a worker is free.
func (q *Queue) ScheduleNotification(ctx context.Context, p SendNotificationPayload, at time.Time) (string, error) {
	job, err := q.newJob(p)
	if err != nil {
		return "", err
	}
	delay := at.Sub(q.now())
	if delay < 0 {
		delay = 0
	}
	id, err := q.store.EnqueueDelayed(ctx, job, delay)
	if err != nil {
		return "", fmt.Errorf("schedule %s: %w", JobTypeSendNotification, err)
	}
	q.log.Debug("notification scheduled",
		slog.String("job_id", id),
		slog.Time("at", at),
		slog.Duration("delay", delay))
	return id, nil
}

func (q *Queue) newJob(p SendNotificationPayload) (*jobs.Job, error) {
	p = p.normalize()
	if err := p.Validate(); err != nil {
		return nil, err
	}
	policy := q.policy
	policy.Priority = p.Level.Priority()
	return jobs.New(jobs.QueueNotification, JobTypeSendNotification, p, policy)
}

// Priority maps the level to the job priority; unknown levels are normal.
func (l Level) Priority() jobs.Priority {
	switch l {
	case LevelCritical:
		return jobs.PriorityCritical
	case LevelHigh:
		return jobs.PriorityHigh
	case LevelLow:
		return jobs.PriorityLow
	default:
		return jobs.PriorityNormal
	}
}

func (p SendNotificationPayload) normalize() SendNotificationPayload {
	p.UserID = strings.TrimSpace(p.UserID)
	p.Channel = Channel(strings.ToLower(strings.TrimSpace(string(p.Channel))))
	p.Level = Level(strings.ToLower(strings.TrimSpace(string(p.Level))))
	if p.Level == "" {
		p.Level = LevelNormal
	}
	p.Recipient = strings.TrimSpace(p.Recipient)
	return p
}

// Validate checks the fields every send-notification job needs.
func (p SendNotificationPayload) Validate() error {
	if p.UserID == "" {
		return fmt.Errorf("%w: missing userId", ErrInvalidPayload)
	}
	if !p.Channel.Valid() {
		return fmt.Errorf("%w: unknown channel %q", ErrInvalidPayload, p.Channel)
	}
	if strings.TrimSpace(p.Title) == "" {
		return fmt.Errorf("%w: missing title", ErrInvalidPayload)
	}
	if strings.TrimSpace(p.Message) == "" {
		return fmt.Errorf("%w: missing message", ErrInvalidPayload)
	}
	switch p.Level {
	case "", LevelCritical, LevelHigh, LevelNormal, LevelLow:
	default:
		return fmt.Errorf("%w: unknown level %q", ErrInvalidPayload, p.Level)
	}
	if p.Channel != ChannelInApp && p.Recipient == "" {
		return fmt.Errorf("%w: channel %s needs a recipient", ErrInvalidPayload, p.Channel)
	}
	return nil
}
