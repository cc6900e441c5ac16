// Package farms reads the farm records the weather jobs run against.
package farms

import "go.uber.org/fx"

var Module = fx.Module("farms",
	fx.Provide(
		NewRepository,
		func(r *Repository) Finder { return r },
	),
)
