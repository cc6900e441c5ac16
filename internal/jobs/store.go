package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Store is a durable queue. Every backend gives the same guarantees: a job is
// leased by at most one worker at a time, every failure is either retried or
// recorded as failed, and repeat schedules materialise one instance per tick.
type Store interface {
	// Enqueue accepts a job; it is waiting immediately or delayed when job.Delay > 0.
	Enqueue(ctx context.Context, job *Job) (string, error)
	// EnqueueBulk accepts many jobs and reports a result per item.
	EnqueueBulk(ctx context.Context, jobs []*Job) ([]BulkResult, error)
	// EnqueueDelayed accepts a job that becomes eligible after delay.
	EnqueueDelayed(ctx context.Context, job *Job, delay time.Duration) (string, error)
	// EnqueueRepeating registers job as a template materialised at every tick
	// of cronExpr. Registering the same queue, type, payload and cron again is
	// a no-op that returns the same key.
	EnqueueRepeating(ctx context.Context, job *Job, cronExpr string) (string, error)
	// RemoveRepeating deletes a repeat schedule. Already materialised instances stay.
	RemoveRepeating(ctx context.Context, queue QueueName, key string) error
	// Repeating lists the repeat schedules of queue.
	Repeating(ctx context.Context, queue QueueName) ([]RepeatSpec, error)

	// Lease claims the most urgent eligible job of queue for workerID. It
	// returns nil, nil when nothing is eligible or the queue is paused.
	Lease(ctx context.Context, queue QueueName, workerID string) (*Job, error)
	// Ack marks a job completed, storing result. It returns ErrLeaseLost
	// unless the job is active and leased by workerID.
	Ack(ctx context.Context, id, workerID string, result json.RawMessage) error
	// Nack records a failed attempt of a job leased by workerID and schedules
	// a retry when the policy allows it.
	Nack(ctx context.Context, id, workerID string, cause error) (NackOutcome, error)
	// Progress records 0-100 progress of a job leased by workerID.
	Progress(ctx context.Context, id, workerID string, pct int) error
	// Get returns a snapshot of a job.
	Get(ctx context.Context, id string) (*Job, error)

	Counts(ctx context.Context, queue QueueName) (Counts, error)
	Pause(ctx context.Context, queue QueueName) error
	Resume(ctx context.Context, queue QueueName) error
	// Drain removes every waiting and delayed job of queue.
	Drain(ctx context.Context, queue QueueName) error

	// RecoverExpired nacks active jobs whose lease deadline has passed.
	RecoverExpired(ctx context.Context, queue QueueName) (int, error)
	// Clean deletes finished jobs in state that finished before olderThan ago.
	Clean(ctx context.Context, queue QueueName, state State, olderThan time.Duration) (int, error)
}

// DefaultLeaseTTL bounds how long a job without its own timeout may stay active
// before RecoverExpired treats its worker as gone.
const DefaultLeaseTTL = 30 * time.Minute

const maxErrorLength = 500

// Option configures a Store backend.
type Option func(*options)

type options struct {
	now      func() time.Time
	leaseTTL time.Duration
}

// WithClock replaces time.Now, which lets tests drive delays and cron ticks.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// WithLeaseTTL sets the lease deadline for jobs without a timeout.
func WithLeaseTTL(ttl time.Duration) Option {
	return func(o *options) {
		if ttl > 0 {
			o.leaseTTL = ttl
		}
	}
}

func newOptions(opts []Option) options {
	o := options{now: time.Now, leaseTTL: DefaultLeaseTTL}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// prepare validates a new job and fills in the runtime fields for its first insert.
func prepare(job *Job, now time.Time) error {
	if job == nil {
		return fmt.Errorf("%w: nil job", ErrInvalidJob)
	}
	if !job.Queue.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownQueue, job.Queue)
	}
	if strings.TrimSpace(job.Type) == "" {
		return fmt.Errorf("%w: missing type", ErrInvalidJob)
	}
	if job.Retry.MaxAttempts == 0 {
		job.Retry.MaxAttempts = 1
	}
	if err := job.Retry.Validate(); err != nil {
		return err
	}
	if job.Priority <= 0 {
		job.Priority = PriorityNormal
	}
	if len(job.Payload) == 0 {
		job.Payload = json.RawMessage("{}")
	}
	if job.ID == "" {
		job.ID = newJobID()
	}

	job.Attempts = 0
	job.Progress = 0
	job.WorkerID = ""
	job.LastError = ""
	job.Result = nil
	job.EnqueuedAt = now
	job.EligibleAt = now.Add(job.Delay)
	job.LeasedAt = nil
	job.LeaseExpiresAt = nil
	job.FinishedAt = nil
	if job.Delay > 0 {
		job.State = StateDelayed
	} else {
		job.State = StateWaiting
	}
	return nil
}

// lease moves a waiting job to active for workerID.
func lease(job *Job, workerID string, now time.Time, defaultTTL time.Duration) {
	ttl := defaultTTL
	if job.Timeout > 0 {
		ttl = job.Timeout
	}
	deadline := now.Add(ttl)
	job.State = StateActive
	job.WorkerID = workerID
	job.LeasedAt = &now
	job.LeaseExpiresAt = &deadline
}

// owned reports ErrLeaseLost unless job is active under workerID. A worker
// whose lease was recovered and handed to another worker no longer owns it.
func owned(job *Job, workerID string) error {
	if job.State != StateActive {
		return fmt.Errorf("%w: %s is %s", ErrLeaseLost, job.ID, job.State)
	}
	if job.WorkerID != workerID {
		return fmt.Errorf("%w: %s is leased by %q", ErrLeaseLost, job.ID, job.WorkerID)
	}
	return nil
}

// complete moves an active job leased by workerID to completed.
func complete(job *Job, workerID string, result json.RawMessage, now time.Time) error {
	if err := owned(job, workerID); err != nil {
		return err
	}
	job.State = StateCompleted
	job.Progress = 100
	job.Result = result
	job.LeaseExpiresAt = nil
	job.FinishedAt = &now
	return nil
}

// fail records a failed attempt and decides between retry and terminal failure.
func fail(job *Job, workerID string, cause error, now time.Time) (NackOutcome, error) {
	if err := owned(job, workerID); err != nil {
		return NackOutcome{}, err
	}
	job.Attempts++
	job.LastError = truncateError(errorString(cause))
	job.WorkerID = ""
	job.LeaseExpiresAt = nil

	if job.Attempts < job.Retry.MaxAttempts && !IsPermanent(cause) {
		delay := job.Retry.Delay(job.Attempts)
		job.EligibleAt = now.Add(delay)
		job.Progress = 0
		if delay > 0 {
			job.State = StateDelayed
		} else {
			job.State = StateWaiting
		}
		return NackOutcome{Retrying: true, Delay: delay, Attempts: job.Attempts}, nil
	}

	job.State = StateFailed
	job.FinishedAt = &now
	return NackOutcome{Attempts: job.Attempts}, nil
}

func errorString(err error) string {
	if err == nil {
		return "unknown error"
	}
	return err.Error()
}

// truncateError truncates error messages to the storable length.
func truncateError(msg string) string {
	if len(msg) > maxErrorLength {
		return msg[:maxErrorLength]
	}
	return msg
}

func clampProgress(pct int) int {
	switch {
	case pct < 0:
		return 0
	case pct > 100:
		return 100
	default:
		return pct
	}
}
