package simulations

import (
	"context"
	"errors"
	"log/slog"

	"github.com/rafaelsanoli/lavra.ai-sub000/internal/jobs"
	"github.com/rafaelsanoli/lavra.ai-sub000/pkg/logger"
)

// Processor executes run-simulation jobs. Errors, including the job deadline,
// are returned as-is so the store retries or fails the job; no partial result
// is kept.
type Processor struct {
	runner Runner
	log    *slog.Logger
}

var _ jobs.Processor = (*Processor)(nil)

func NewProcessor(runner Runner, log *slog.Logger) *Processor {
	return &Processor{runner: runner, log: log.With(logger.Scope("simulations.processor"))}
}

func (p *Processor) Process(ctx context.Context, job *jobs.Job, progress jobs.ProgressFunc) (jobs.Result, error) {
	var payload RunSimulationPayload
	if err := job.Decode(&payload); err != nil {
		return jobs.Result{}, err
	}
	if err := payload.Validate(); err != nil {
		return jobs.Result{}, jobs.Permanent(err)
	}

	p.report(ctx, progress, job.ID, 10)
	res, err := p.runner.Run(ctx, payload.UserID, payload.SimulationID)
	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrInvalidModel) {
		return jobs.Result{}, jobs.Permanent(err)
	}
	if err != nil {
		return jobs.Result{}, err
	}
	p.report(ctx, progress, job.ID, 100)
	return jobs.Result{Data: res}, nil
}

func (p *Processor) report(ctx context.Context, progress jobs.ProgressFunc, jobID string, pct int) {
	if progress == nil {
		return
	}
	if err := progress(ctx, pct); err != nil {
		p.log.Warn("failed to record progress", slog.String("job_id", jobID), slog.Int("progress", pct), logger.Error(err))
	}
}
