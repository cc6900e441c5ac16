package simulations

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rafaelsanoli/lavra.ai-sub000/internal/config"
	"github.com/rafaelsanoli/lavra.ai-sub000/internal/jobs"
	"github.com/rafaelsanoli/lavra.ai-sub000/internal/testutil"
)

var t0 = time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

type runnerFunc func(ctx context.Context, userID, simulationID string) (*Result, error)

func (f runnerFunc) Run(ctx context.Context, userID, simulationID string) (*Result, error) {
	return f(ctx, userID, simulationID)
}

func newQueueAndPool(t *testing.T, cfg *config.Config, runner Runner) (*jobs.MemoryStore, *Queue, *jobs.Pool, *testutil.Clock) {
	t.Helper()
	clock := testutil.NewClock(t0)
	store := jobs.NewMemoryStore(jobs.WithClock(clock.Now))
	q := NewQueue(store, cfg, testutil.NewLogger())
	pool := jobs.NewPool(store, NewProcessor(runner, testutil.NewLogger()), jobs.PoolConfig{Queue: jobs.QueueSimulation}, testutil.NewLogger())
	return store, q, pool, clock
}

func TestProcessor_ReportsProgressAndStoresResult(t *testing.T) {
	var mu sync.Mutex
	var progress []int
	runner := runnerFunc(func(_ context.Context, userID, simulationID string) (*Result, error) {
		assert.Equal(t, "ana", userID)
		return &Result{SimulationID: simulationID, Statistics: Statistics{Iterations: 10, Mean: 12.5}}, nil
	})
	proc := NewProcessor(runner, testutil.NewLogger())

	job, err := jobs.New(jobs.QueueSimulation, JobTypeRunSimulation, RunSimulationPayload{SimulationID: "s1", UserID: "ana"}, DefaultPolicy)
	require.NoError(t, err)

	res, err := proc.Process(context.Background(), job, func(_ context.Context, pct int) error {
		mu.Lock()
		defer mu.Unlock()
		progress = append(progress, pct)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []int{10, 100}, progress)
	assert.Equal(t, "s1", res.Data.(*Result).SimulationID)
}

func TestProcessor_Failures(t *testing.T) {
	tests := []struct {
		name  string
		err   error
		state jobs.State
	}{
		{name: "missing simulation", err: fmt.Errorf("%w: s1", ErrNotFound), state: jobs.StateFailed},
		{name: "invalid model", err: fmt.Errorf("%w: area", ErrInvalidModel), state: jobs.StateFailed},
		{name: "database error", err: errors.New("db down"), state: jobs.StateDelayed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			runner := runnerFunc(func(context.Context, string, string) (*Result, error) { return nil, tt.err })
			store, q, pool, _ := newQueueAndPool(t, &config.Config{}, runner)

			id, err := q.AddRunSimulationJob(context.Background(), RunSimulationPayload{SimulationID: "s1", UserID: "ana"})
			require.NoError(t, err)
			_, err = pool.RunOnce(context.Background(), "w1")
			require.NoError(t, err)

			job, err := store.Get(context.Background(), id)
			require.NoError(t, err)
			assert.Equal(t, tt.state, job.State)
			assert.Empty(t, job.Result)
		})
	}
}

func TestProcessor_TimeoutFailsAttemptThenJob(t *testing.T) {
	timeout := 50 * time.Millisecond
	cfg := &config.Config{Queue: config.QueueConfig{Policies: map[string]config.PolicyOverride{
		"simulation": {Timeout: &timeout},
	}}}
	runner := runnerFunc(func(ctx context.Context, _, _ string) (*Result, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	store, q, pool, clock := newQueueAndPool(t, cfg, runner)

	id, err := q.AddRunSimulationJob(context.Background(), RunSimulationPayload{SimulationID: "s1", UserID: "ana"})
	require.NoError(t, err)

	_, err = pool.RunOnce(context.Background(), "w1")
	require.NoError(t, err)
	job, err := store.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, jobs.StateDelayed, job.State)
	assert.Equal(t, t0.Add(5*time.Second), job.EligibleAt)
	assert.Contains(t, job.LastError, jobs.ErrJobTimeout.Error())

	clock.Advance(5 * time.Second)
	_, err = pool.RunOnce(context.Background(), "w1")
	require.NoError(t, err)
	job, err = store.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, jobs.StateFailed, job.State)
	assert.Equal(t, 2, job.Attempts)
}

func TestQueue_PriorityOverride(t *testing.T) {
	store, q, _, _ := newQueueAndPool(t, &config.Config{}, nil)
	ctx := context.Background()

	normal, err := q.AddRunSimulationJob(ctx, RunSimulationPayload{SimulationID: "s1", UserID: "ana"})
	require.NoError(t, err)
	urgent, err := q.AddRunSimulationJob(ctx, RunSimulationPayload{SimulationID: "s2", UserID: "ana", Priority: int(jobs.PriorityCritical)})
	require.NoError(t, err)

	job, err := store.Get(ctx, normal)
	require.NoError(t, err)
	assert.Equal(t, jobs.PriorityNormal, job.Priority)
	assert.Equal(t, 300*time.Second, job.Timeout)
	assert.Equal(t, jobs.RetryPolicy{MaxAttempts: 2, Backoff: jobs.BackoffFixed, BaseDelay: 5 * time.Second}, job.Retry)

	leased, err := store.Lease(ctx, jobs.QueueSimulation, "w1")
	require.NoError(t, err)
	assert.Equal(t, urgent, leased.ID)

	for _, p := range []RunSimulationPayload{{UserID: "ana"}, {SimulationID: "s3"}, {SimulationID: "s3", UserID: "ana", Priority: -1}} {
		_, err := q.AddRunSimulationJob(ctx, p)
		assert.ErrorIs(t, err, ErrInvalidPayload)
	}
}
