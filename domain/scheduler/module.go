// Package scheduler runs the in-process maintenance of the job queues and
// registers the default repeat schedules.
package scheduler

import (
	"context"
	"log/slog"

	"go.uber.org/fx"

	"github.com/rafaelsanoli/lavra.ai-sub000/domain/farms"
	"github.com/rafaelsanoli/lavra.ai-sub000/domain/market"
	"github.com/rafaelsanoli/lavra.ai-sub000/domain/weather"
	"github.com/rafaelsanoli/lavra.ai-sub000/internal/config"
	"github.com/rafaelsanoli/lavra.ai-sub000/internal/jobs"
	"github.com/rafaelsanoli/lavra.ai-sub000/pkg/logger"
)

// Module provides scheduled task functionality
var Module = fx.Module("scheduler",
	fx.Provide(
		NewConfig,
		NewScheduler,
		NewDefaultSchedulesFromConfig,
	),
	fx.Invoke(
		RegisterTasks,
		RegisterSchedulerLifecycle,
	),
)

// NewDefaultSchedulesFromConfig wires the default schedules to the queues
func NewDefaultSchedulesFromConfig(mq *market.Queue, wq *weather.Queue, finder farms.Finder, cfg *config.Config, log *slog.Logger) *DefaultSchedules {
	return NewDefaultSchedules(mq, wq, finder, cfg.Market.Tracked, log)
}

// TaskParams contains dependencies for creating scheduled tasks
type TaskParams struct {
	fx.In
	Scheduler *Scheduler
	Store     jobs.Store
	Defaults  *DefaultSchedules
	Log       *slog.Logger
	Cfg       *Config
}

// RegisterTasks registers all scheduled tasks
func RegisterTasks(p TaskParams) error {
	log := p.Log.With(logger.Scope("scheduler"))
	if !p.Cfg.Enabled {
		log.Info("scheduler disabled, skipping task registration")
		return nil
	}

	maintenance := NewMaintenanceTask(p.Store, p.Log)
	if err := p.Scheduler.AddIntervalTask("queue_maintenance", p.Cfg.MaintenanceInterval, maintenance.Run); err != nil {
		return err
	}

	cleanup := NewCleanupTask(p.Store, p.Cfg, p.Log)
	if err := p.Scheduler.AddIntervalTask("queue_cleanup", p.Cfg.CleanupInterval, cleanup.Run); err != nil {
		return err
	}

	if p.Cfg.ScheduleDefaults {
		if err := p.Scheduler.AddIntervalTask("weather_schedule_sync", p.Cfg.FarmSyncInterval, p.Defaults.SyncFarms); err != nil {
			return err
		}
	}

	log.Info("registered scheduled tasks", slog.Any("tasks", p.Scheduler.ListTasks()))
	return nil
}

// LifecycleParams are the dependencies for lifecycle hooks
type LifecycleParams struct {
	fx.In
	LC        fx.Lifecycle
	Scheduler *Scheduler
	Defaults  *DefaultSchedules
	Cfg       *Config
	Log       *slog.Logger
}

// RegisterSchedulerLifecycle registers the default schedules once the store
// is up and runs the scheduler for the lifetime of the app
func RegisterSchedulerLifecycle(p LifecycleParams) {
	log := p.Log.With(logger.Scope("scheduler"))
	p.LC.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if p.Cfg.ScheduleDefaults {
				// a source that is down at boot is retried by the farm sync task
				if err := p.Defaults.Register(ctx); err != nil {
					log.Warn("default schedules not fully registered", logger.Error(err))
				}
			}
			if !p.Cfg.Enabled {
				return nil
			}
			return p.Scheduler.Start(ctx)
		},
		OnStop: func(ctx context.Context) error {
			return p.Scheduler.Stop(ctx)
		},
	})
}
