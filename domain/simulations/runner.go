package simulations

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/uptrace/bun"

	"github.com/rafaelsanoli/lavra.ai-sub000/pkg/logger"
)

var ErrNotFound = errors.New("simulation not found")

// Runner executes a stored simulation and records its outcome.
type Runner interface {
	Run(ctx context.Context, userID, simulationID string) (*Result, error)
}

// Repository loads simulations and records their outcome.
type Repository struct {
	db  bun.IDB
	log *slog.Logger
}

func NewRepository(db bun.IDB, log *slog.Logger) *Repository {
	return &Repository{db: db, log: log.With(logger.Scope("simulations.repo"))}
}

// Get returns the simulation only if it belongs to userID.
func (r *Repository) Get(ctx context.Context, userID, simulationID string) (*Simulation, error) {
	sim := new(Simulation)
	err := r.db.NewSelect().
		Model(sim).
		Where("id = ?", simulationID).
		Where("user_id = ?", userID).
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, simulationID)
	}
	if err != nil {
		return nil, fmt.Errorf("get simulation %s: %w", simulationID, err)
	}
	return sim, nil
}

// SetStatus moves a simulation to status, storing result when given.
func (r *Repository) SetStatus(ctx context.Context, id string, status Status, result json.RawMessage, executedAt *time.Time) error {
	q := r.db.NewUpdate().
		Model((*Simulation)(nil)).
		Set("status = ?", status).
		Where("id = ?", id)
	if result != nil {
		q = q.Set("result = ?", string(result))
	}
	if executedAt != nil {
		q = q.Set("executed_at = ?", *executedAt)
	}
	if _, err := q.Exec(ctx); err != nil {
		return fmt.Errorf("set simulation %s %s: %w", id, status, err)
	}
	return nil
}

// MonteCarloRunner is the Runner backed by Repository.
type MonteCarloRunner struct {
	repo *Repository
	log  *slog.Logger
	now  func() time.Time
	seed func() uint64
}

var _ Runner = (*MonteCarloRunner)(nil)

func NewMonteCarloRunner(repo *Repository, log *slog.Logger) *MonteCarloRunner {
	return &MonteCarloRunner{
		repo: repo,
		log:  log.With(logger.Scope("simulations.runner")),
		now:  time.Now,
		seed: func() uint64 { return uint64(time.Now().UnixNano()) },
	}
}

func (r *MonteCarloRunner) Run(ctx context.Context, userID, simulationID string) (*Result, error) {
	sim, err := r.repo.Get(ctx, userID, simulationID)
	if err != nil {
		return nil, err
	}
	if err := r.repo.SetStatus(ctx, sim.ID, StatusRunning, nil, nil); err != nil {
		return nil, err
	}

	seed := r.seed()
	scenarios, stats, err := Simulate(ctx, ModelOf(sim), rand.New(rand.NewPCG(seed, seed^0x5851f42d4c957f2d)))
	if err != nil {
		r.markFailed(ctx, sim.ID, err)
		return nil, err
	}

	executed := r.now().UTC()
	res := &Result{
		SimulationID:  sim.ID,
		Scenarios:     scenarios,
		Statistics:    stats,
		WorstScenario: scenarios[3],
		BestScenario:  scenarios[4],
		ExecutedAt:    executed,
	}
	raw, err := json.Marshal(res)
	if err != nil {
		return nil, fmt.Errorf("encode simulation result: %w", err)
	}
	if err := r.repo.SetStatus(ctx, sim.ID, StatusCompleted, raw, &executed); err != nil {
		return nil, err
	}

	r.log.Info("simulation completed",
		slog.String("simulation_id", sim.ID),
		slog.Int("iterations", stats.Iterations),
		slog.Float64("mean_profit", stats.Mean))
	return res, nil
}

// markFailed records the failure on a context that survives the job deadline.
func (r *MonteCarloRunner) markFailed(ctx context.Context, id string, cause error) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := r.repo.SetStatus(ctx, id, StatusFailed, nil, nil); err != nil {
		r.log.Warn("failed to mark simulation failed",
			slog.String("simulation_id", id),
			slog.String("cause", cause.Error()),
			logger.Error(err))
	}
}
