package health

import (
	"context"
	"log/slog"

	"github.com/redis/go-redis/v9"
	"github.com/uptrace/bun"
	"go.uber.org/fx"

	"github.com/rafaelsanoli/lavra.ai-sub000/internal/config"
	"github.com/rafaelsanoli/lavra.ai-sub000/internal/jobs"
	"github.com/rafaelsanoli/lavra.ai-sub000/pkg/syshealth"
)

// MonitorParams are the dependencies of NewMonitor.
type MonitorParams struct {
	fx.In
	Config *config.Config
	Log    *slog.Logger
	DB     *bun.DB               `optional:"true"`
	Redis  redis.UniversalClient `optional:"true"`
}

// NewMonitor creates the host health monitor, counting the database and
// redis connection pools against its score.
func NewMonitor(p MonitorParams) syshealth.Monitor {
	cfg := syshealth.DefaultConfig()
	if p.Config.SysHealth.CollectionInterval > 0 {
		cfg.CollectionInterval = p.Config.SysHealth.CollectionInterval
	}

	var pools []syshealth.PoolGauge
	if p.DB != nil {
		pools = append(pools, syshealth.SQLPool("postgres", p.DB.DB))
	}
	if p.Redis != nil {
		pools = append(pools, syshealth.RedisPool("redis", p.Redis))
	}
	return syshealth.NewMonitor(cfg, p.Log, pools...)
}

// NewLimiterFactory gives every worker pool a ConcurrencyScaler when
// adaptive concurrency is enabled, and nothing otherwise.
func NewLimiterFactory(mon syshealth.Monitor, cfg *config.Config) jobs.LimiterFactory {
	if !cfg.SysHealth.AdaptiveConcurrency {
		return nil
	}
	return func(queue jobs.QueueName, max int) jobs.ConcurrencyLimiter {
		return syshealth.NewConcurrencyScaler(mon, string(queue), true, 1, max)
	}
}

// RegisterMonitorLifecycle runs the monitor with the application.
func RegisterMonitorLifecycle(lc fx.Lifecycle, mon syshealth.Monitor) {
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error { return mon.Start() },
		OnStop:  func(context.Context) error { return mon.Stop() },
	})
}
