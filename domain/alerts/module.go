// Package alerts stores the user-facing alerts raised by the market and
// weather processors.
package alerts

import "go.uber.org/fx"

// Module provides the alerts repository
var Module = fx.Module("alerts",
	fx.Provide(
		NewRepository,
		func(r *Repository) Creator { return r },
	),
)
