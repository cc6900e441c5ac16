package simulations

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

const JobTypeRunSimulation = "run-simulation"

var ErrInvalidPayload = errors.New("invalid simulation job payload")

var DefaultPolicy = jobs.Policy{
	Retry:    jobs.RetryPolicy{MaxAttempts: 2, Backoff: jobs.BackoffFixed, BaseDelay: 5 * time.Second},
	Priority: jobs.PriorityNormal,
	Timeout:  300 * time.Second,
}

// Queue is the producer side of the simulation queue.
type Queue struct {
	store  jobs.Store
	policy jobs.Policy
	log    *slog.Logger
}

func NewQueue(store jobs.Store, cfg *config.Config, log *slog.Logger) *Queue {
	return &Queue{
		store:  store,
		policy: jobs.ResolvePolicy(cfg, jobs.QueueSimulation, DefaultPolicy),
		log:    log.With(logger.Scope("simulations.queue")),
	}
}

// AddRunSimulationJob enqueues a simulation run. A positive p.Priority
// replaces the queue default.
func (q *Queue) AddRunSimulationJob(ctx context.Context, p RunSimulationPayload) (string, error) {
	p.SimulationID = strings.TrimSpace(p.SimulationID)
	p.UserID = strings.TrimSpace(p.UserID)
	if err := p.Validate(); err != nil {
		return "", err
	}

	policy := q.policy
	if p.Priority > 0 {
		policy.Priority = jobs.Priority(p.Priority)
	}
	job, err := jobs.New(jobs.QueueSimulation, JobTypeRunSimulation, p, policy)
	if err != nil {
		return "", err
	}
	id, err := q.store.Enqueue(ctx, job)
	if err != nil {
		return "", fmt.Errorf("enqueue %s: %w", JobTypeRunSimulation, err)
	}
	q.log.Debug("simulation queued",
		slog.String("job_id", id),
		slog.String("simulation_id", p.SimulationID),
		slog.Int("priority", int(policy.Priority)))
	return id, nil
}

func (p RunSimulationPayload) Validate() error {
	if p.SimulationID == "" {
		return fmt.Errorf("%w: missing simulationId", ErrInvalidPayload)
	}
	if p.UserID == "" {
		return fmt.Errorf("%w: missing userId", ErrInvalidPayload)
	}
	if p.Priority < 0 {
		return fmt.Errorf("%w: negative priority", ErrInvalidPayload)
	}
	return nil
}
