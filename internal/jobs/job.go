// Package jobs implements the durable work queues shared by every background
// processor: the job model, the Store backends (memory, PostgreSQL, Redis),
// cron repetition and the polling worker pool.
package jobs

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// QueueName identifies one of the named work queues.
type QueueName string

const (
	QueueMarket       QueueName = "market"
	QueueWeather      QueueName = "weather"
	QueueSimulation   QueueName = "simulation"
	QueueNotification QueueName = "notification"
)

// Queues lists every known queue in a stable order.
var Queues = []QueueName{QueueMarket, QueueWeather, QueueSimulation, QueueNotification}

// Valid reports whether q is a known queue.
func (q QueueName) Valid() bool {
	for _, known := range Queues {
		if q == known {
			return true
		}
	}
	return false
}

// State is the lifecycle state of a job.
type State string

const (
	StateWaiting   State = "waiting"
	StateDelayed   State = "delayed"
	StateActive    State = "active"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
)

// Priority orders waiting jobs; lower values are leased first.
type Priority int

const (
	PriorityCritical Priority = 1
	PriorityHigh     Priority = 2
	PriorityNormal   Priority = 5
	PriorityLow      Priority = 10
)

// Disposition controls what happens to a job record once it is finished.
type Disposition struct {
	RemoveOnComplete bool `json:"removeOnComplete,omitempty" yaml:"remove_on_complete"`
	RemoveOnFail     bool `json:"removeOnFail,omitempty" yaml:"remove_on_fail"`
}

// Policy is the per-queue default applied by queue clients to every job they create.
type Policy struct {
	Retry       RetryPolicy   `yaml:"retry"`
	Priority    Priority      `yaml:"priority"`
	Timeout     time.Duration `yaml:"timeout"`
	Disposition Disposition   `yaml:"disposition"`
}

// Job is a unit of deferred work. The description fields are set by the
// producer and never change; the runtime fields are owned by the Store.
type Job struct {
	ID          string          `json:"id"`
	Queue       QueueName       `json:"queue"`
	Type        string          `json:"type"`
	Payload     json.RawMessage `json:"payload"`
	Retry       RetryPolicy     `json:"retry"`
	Priority    Priority        `json:"priority"`
	Delay       time.Duration   `json:"delay,omitempty"`
	Cron        string          `json:"cron,omitempty"`
	Timeout     time.Duration   `json:"timeout,omitempty"`
	Disposition Disposition     `json:"disposition"`

	State          State           `json:"state"`
	Attempts       int             `json:"attempts"`
	WorkerID       string          `json:"workerId,omitempty"`
	Progress       int             `json:"progress"`
	LastError      string          `json:"lastError,omitempty"`
	Result         json.RawMessage `json:"result,omitempty"`
	RepeatKey      string          `json:"repeatKey,omitempty"`
	EnqueuedAt     time.Time       `json:"enqueuedAt"`
	EligibleAt     time.Time       `json:"eligibleAt"`
	LeasedAt       *time.Time      `json:"leasedAt,omitempty"`
	LeaseExpiresAt *time.Time      `json:"leaseExpiresAt,omitempty"`
	FinishedAt     *time.Time      `json:"finishedAt,omitempty"`
}

// New builds a job for queue with the given type, payload and policy.
func New(queue QueueName, jobType string, payload any, policy Policy) (*Job, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", jobType, err)
	}
	return &Job{
		Queue:       queue,
		Type:        jobType,
		Payload:     raw,
		Retry:       policy.Retry,
		Priority:    policy.Priority,
		Timeout:     policy.Timeout,
		Disposition: policy.Disposition,
	}, nil
}

// Decode unmarshals the payload into v. A payload that does not decode can
// never succeed, so the error is permanent.
func (j *Job) Decode(v any) error {
	if err := json.Unmarshal(j.Payload, v); err != nil {
		return Permanent(fmt.Errorf("decode %s payload: %w", j.Type, err))
	}
	return nil
}

// Finished reports whether the job reached a terminal state.
func (j *Job) Finished() bool {
	return j.State == StateCompleted || j.State == StateFailed
}

func (j *Job) clone() *Job {
	c := *j
	c.Payload = append(json.RawMessage(nil), j.Payload...)
	c.Result = append(json.RawMessage(nil), j.Result...)
	c.LeasedAt = cloneTime(j.LeasedAt)
	c.LeaseExpiresAt = cloneTime(j.LeaseExpiresAt)
	c.FinishedAt = cloneTime(j.FinishedAt)
	return &c
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

func newJobID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// Counts is a snapshot of how many jobs a queue holds per state.
type Counts struct {
	Waiting   int64 `json:"waiting"`
	Active    int64 `json:"active"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
	Delayed   int64 `json:"delayed"`
	Paused    bool  `json:"paused"`
}

// BulkResult reports the outcome of one item of an EnqueueBulk call.
type BulkResult struct {
	ID  string `json:"id,omitempty"`
	Err error  `json:"-"`
}

// NackOutcome describes what a Nack did to the job.
type NackOutcome struct {
	Retrying bool
	Delay    time.Duration
	Attempts int
}

// Result is what a processor returns for a successful (or skipped) execution.
type Result struct {
	Data    any
	Skipped bool
	Reason  string
}

// Skip marks an execution as a terminal no-op: the job is acknowledged and
// no attempt is consumed.
func Skip(reason string) Result {
	return Result{Skipped: true, Reason: reason}
}
