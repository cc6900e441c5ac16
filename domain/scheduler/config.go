package scheduler

import (
	"time"

	"github.com/rafaelsanoli/lavra.ai-sub000/internal/config"
)

// Config holds scheduler configuration
type Config struct {
	// Enabled controls whether the scheduler runs
	Enabled bool

	// MaintenanceInterval is how often expired leases are recovered and
	// queue gauges refreshed
	MaintenanceInterval time.Duration

	// CleanupInterval is how often finished jobs are pruned
	CleanupInterval time.Duration

	// CompletedRetention and FailedRetention bound how long finished jobs are kept
	CompletedRetention time.Duration
	FailedRetention    time.Duration

	// ScheduleDefaults registers the market and weather repeat schedules
	ScheduleDefaults bool

	// FarmSyncInterval re-registers weather schedules so new farms are picked up
	FarmSyncInterval time.Duration
}

// NewConfig derives the scheduler configuration from the app config
func NewConfig(cfg *config.Config) *Config {
	return &Config{
		Enabled:             cfg.Queue.SchedulerEnabled,
		MaintenanceInterval: orDefault(cfg.Queue.MaintenanceInterval, 15*time.Second),
		CleanupInterval:     orDefault(cfg.Queue.CleanupInterval, time.Hour),
		CompletedRetention:  orDefault(cfg.Queue.CompletedRetention, 24*time.Hour),
		FailedRetention:     orDefault(cfg.Queue.FailedRetention, 7*24*time.Hour),
		ScheduleDefaults:    cfg.Queue.ScheduleDefaults,
		FarmSyncInterval:    orDefault(cfg.Weather.ScheduleSyncInterval, time.Hour),
	}
}

func orDefault(d, def time.Duration) time.Duration {
	if d <= 0 {
		return def
	}
	return d
}
