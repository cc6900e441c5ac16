// Package simulations runs Monte Carlo profit simulations as background jobs.
package simulations

import (
	"go.uber.org/fx"

	"github.com/rafaelsanoli/lavra.ai-sub000/internal/jobs"
)

var Module = fx.Module("simulations",
	fx.Provide(
		NewRepository,
		NewMonteCarloRunner,
		func(r *MonteCarloRunner) Runner { return r },
		NewQueue,
		NewProcessor,
		jobs.AsProcessor(func(p *Processor) jobs.Registration {
			return jobs.Registration{Queue: jobs.QueueSimulation, Processor: p}
		}),
	),
)
