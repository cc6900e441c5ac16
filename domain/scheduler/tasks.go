package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/rafaelsanoli/lavra.ai-sub000/domain/farms"
	"github.com/rafaelsanoli/lavra.ai-sub000/domain/market"
	"github.com/rafaelsanoli/lavra.ai-sub000/internal/jobs"
	"github.com/rafaelsanoli/lavra.ai-sub000/pkg/logger"
)

// MaintenanceTask recovers jobs whose worker disappeared and publishes the
// queue gauges.
type MaintenanceTask struct {
	store  jobs.Store
	queues []jobs.QueueName
	log    *slog.Logger
}

// NewMaintenanceTask creates a maintenance task over every queue
func NewMaintenanceTask(store jobs.Store, log *slog.Logger) *MaintenanceTask {
	return &MaintenanceTask{
		store:  store,
		queues: jobs.Queues,
		log:    log.With(logger.Scope("scheduler.maintenance")),
	}
}

// Run executes one maintenance pass. A failing queue does not stop the others.
func (t *MaintenanceTask) Run(ctx context.Context) error {
	var errs []error
	for _, q := range t.queues {
		recovered, err := t.store.RecoverExpired(ctx, q)
		if err != nil {
			errs = append(errs, fmt.Errorf("recover %s: %w", q, err))
		} else if recovered > 0 {
			t.log.Warn("recovered jobs with expired leases",
				slog.String("queue", string(q)),
				slog.Int("count", recovered))
		}

		counts, err := t.store.Counts(ctx, q)
		if err != nil {
			errs = append(errs, fmt.Errorf("counts %s: %w", q, err))
			continue
		}
		jobs.RecordCounts(q, counts)
	}
	return errors.Join(errs...)
}

// CleanupTask deletes finished jobs older than their retention
type CleanupTask struct {
	store     jobs.Store
	queues    []jobs.QueueName
	completed time.Duration
	failed    time.Duration
	log       *slog.Logger
}

// NewCleanupTask creates a cleanup task over every queue
func NewCleanupTask(store jobs.Store, cfg *Config, log *slog.Logger) *CleanupTask {
	return &CleanupTask{
		store:     store,
		queues:    jobs.Queues,
		completed: cfg.CompletedRetention,
		failed:    cfg.FailedRetention,
		log:       log.With(logger.Scope("scheduler.cleanup")),
	}
}

// Run executes the cleanup
func (t *CleanupTask) Run(ctx context.Context) error {
	var errs []error
	for _, q := range t.queues {
		completed, err := t.store.Clean(ctx, q, jobs.StateCompleted, t.completed)
		if err != nil {
			errs = append(errs, fmt.Errorf("clean completed %s: %w", q, err))
		}
		failed, err := t.store.Clean(ctx, q, jobs.StateFailed, t.failed)
		if err != nil {
			errs = append(errs, fmt.Errorf("clean failed %s: %w", q, err))
		}
		if completed+failed > 0 {
			t.log.Info("cleaned finished jobs",
				slog.String("queue", string(q)),
				slog.Int("completed", completed),
				slog.Int("failed", failed))
		}
	}
	return errors.Join(errs...)
}

// MarketScheduler registers the business-hours price refreshes.
type MarketScheduler interface {
	ScheduleBusinessHoursUpdates(ctx context.Context, pairs []market.UpdatePricesPayload) ([]string, error)
}

// WeatherScheduler registers the periodic weather refresh of each farm.
type WeatherScheduler interface {
	ScheduleWeatherUpdates(ctx context.Context, list []farms.Farm) ([]string, error)
}

// DefaultSchedules registers the repeat schedules every deployment runs.
// Registration is idempotent, so it is safe on every start and on every
// farm sync.
type DefaultSchedules struct {
	market  MarketScheduler
	weather WeatherScheduler
	farms   farms.Finder
	tracked []string
	log     *slog.Logger
}

// NewDefaultSchedules creates the default schedule registrar
func NewDefaultSchedules(m MarketScheduler, w WeatherScheduler, finder farms.Finder, tracked []string, log *slog.Logger) *DefaultSchedules {
	return &DefaultSchedules{
		market:  m,
		weather: w,
		farms:   finder,
		tracked: tracked,
		log:     log.With(logger.Scope("scheduler.defaults")),
	}
}

// Register registers the market and weather schedules.
func (d *DefaultSchedules) Register(ctx context.Context) error {
	return errors.Join(d.RegisterMarket(ctx), d.SyncFarms(ctx))
}

// RegisterMarket schedules every tracked commodity/market pair.
func (d *DefaultSchedules) RegisterMarket(ctx context.Context) error {
	pairs, err := market.ParseTracked(d.tracked)
	if err != nil {
		return err
	}
	if len(pairs) == 0 {
		return nil
	}
	if _, err := d.market.ScheduleBusinessHoursUpdates(ctx, pairs); err != nil {
		return fmt.Errorf("schedule market updates: %w", err)
	}
	return nil
}

// SyncFarms schedules weather updates for every farm with coordinates.
func (d *DefaultSchedules) SyncFarms(ctx context.Context) error {
	list, err := d.farms.ListWithCoordinates(ctx)
	if err != nil {
		return fmt.Errorf("list farms: %w", err)
	}
	keys, err := d.weather.ScheduleWeatherUpdates(ctx, list)
	if err != nil {
		return fmt.Errorf("schedule weather updates: %w", err)
	}
	d.log.Debug("weather schedules synced", slog.Int("farms", len(list)), slog.Int("schedules", len(keys)))
	return nil
}
