// Package queueadmin exposes counts and control of the job queues to
// operators holding the admin role.
package queueadmin

import (
	"go.uber.org/fx"

	"github.com/rafaelsanoli/lavra.ai-sub000/internal/jobs"
)

// Module provides the queue admin domain
var Module = fx.Module("queueadmin",
	fx.Provide(
		func(p *jobs.Pools) PoolStatser { return p },
		NewHandler,
	),
	fx.Invoke(RegisterRoutes),
)
