// Package health serves liveness, readiness and JSON metrics endpoints and
// runs the host health monitor that drives adaptive worker concurrency.
package health

import (
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"

	"github.com/rafaelsanoli/lavra.ai-sub000/domain/scheduler"
	"github.com/rafaelsanoli/lavra.ai-sub000/internal/jobs"
	"github.com/rafaelsanoli/lavra.ai-sub000/pkg/syshealth"
)

var Module = fx.Module("health",
	fx.Provide(
		NewMonitor,
		NewLimiterFactory,
		NewProbes,
		NewHandler,
		func(s *scheduler.Scheduler) TaskLister { return s },
		NewMetricsHandler,
	),
	fx.Invoke(
		RegisterMonitorLifecycle,
		RegisterRoutes,
	),
)

// ProbesParams are the dependencies checked by /health and /ready.
type ProbesParams struct {
	fx.In
	Pool    *pgxpool.Pool         `optional:"true"`
	Redis   redis.UniversalClient `optional:"true"`
	Store   jobs.Store
	Monitor syshealth.Monitor
}

// NewProbes builds the dependency checks for what is configured.
func NewProbes(p ProbesParams) []Probe {
	var probes []Probe
	if p.Pool != nil {
		probes = append(probes, DatabaseProbe(p.Pool))
	}
	if p.Redis != nil {
		probes = append(probes, RedisProbe(p.Redis))
	}
	return append(probes, QueueStoreProbe(p.Store), HostProbe(p.Monitor))
}
