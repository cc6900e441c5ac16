package weather

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/rafaelsanoli/lavra.ai-sub000/domain/alerts"
	"github.com/rafaelsanoli/lavra.ai-sub000/domain/events"
	"github.com/rafaelsanoli/lavra.ai-sub000/domain/farms"
	"github.com/rafaelsanoli/lavra.ai-sub000/internal/config"
	"github.com/rafaelsanoli/lavra.ai-sub000/internal/jobs"
	"github.com/rafaelsanoli/lavra.ai-sub000/pkg/fetch"
	"github.com/rafaelsanoli/lavra.ai-sub000/pkg/logger"
)

// AlertNotifier is the realtime side of the weather queue.
type AlertNotifier interface {
	NewAlert(ctx context.Context, userID string, data any) events.Delivery
	WeatherAlert(ctx context.Context, userID string, data any) events.Delivery
}

var _ AlertNotifier = (*events.AlertsGateway)(nil)

// ProcessorConfig tunes the weather processor.
type ProcessorConfig struct {
	// FreshnessWindow skips non-forced jobs when a newer reading exists; zero disables it
	FreshnessWindow time.Duration
	Rules           []Rule
}

func ProcessorConfigFrom(cfg *config.Config) ProcessorConfig {
	return ProcessorConfig{FreshnessWindow: cfg.Weather.FreshnessWindow, Rules: DefaultRules}
}

// UpdateResult is stored as the result of a completed update-weather job.
type UpdateResult struct {
	ClimateID string   `json:"climateId"`
	FarmID    string   `json:"farmId"`
	Alerts    []string `json:"alerts"`
}

// Processor executes update-weather jobs.
type Processor struct {
	farms    farms.Finder
	climate  ClimateRepository
	fetcher  Fetcher
	alerts   alerts.Creator
	notifier AlertNotifier
	cfg      ProcessorConfig
	log      *slog.Logger
	now      func() time.Time
}

var _ jobs.Processor = (*Processor)(nil)

func NewProcessor(
	finder farms.Finder,
	climate ClimateRepository,
	fetcher Fetcher,
	creator alerts.Creator,
	notifier AlertNotifier,
	cfg ProcessorConfig,
	log *slog.Logger,
) *Processor {
	if cfg.Rules == nil {
		cfg.Rules = DefaultRules
	}
	return &Processor{
		farms:    finder,
		climate:  climate,
		fetcher:  fetcher,
		alerts:   creator,
		notifier: notifier,
		cfg:      cfg,
		log:      log.With(logger.Scope("weather.processor")),
		now:      time.Now,
	}
}

func (p *Processor) Process(ctx context.Context, job *jobs.Job, _ jobs.ProgressFunc) (jobs.Result, error) {
	var payload UpdateWeatherPayload
	if err := job.Decode(&payload); err != nil {
		return jobs.Result{}, err
	}
	if err := payload.Validate(); err != nil {
		return jobs.Result{}, jobs.Permanent(err)
	}

	farm, err := p.farms.FindOne(ctx, payload.UserID, payload.FarmID)
	if errors.Is(err, farms.ErrNotFound) {
		return jobs.Result{}, jobs.Permanent(err)
	}
	if err != nil {
		return jobs.Result{}, err
	}
	if !farm.HasCoordinates() {
		return jobs.Skip(fmt.Sprintf("farm %s has no coordinates", farm.ID)), nil
	}

	if !payload.Force && p.cfg.FreshnessWindow > 0 {
		if reason, fresh := p.fresh(ctx, farm.ID); fresh {
			return jobs.Skip(reason), nil
		}
	}

	reading, err := p.fetcher.FetchWeather(ctx, *farm.Latitude, *farm.Longitude)
	if err != nil {
		err = fmt.Errorf("fetch weather for farm %s: %w", farm.ID, err)
		if !fetch.IsTemporary(err) {
			return jobs.Result{}, jobs.Permanent(err)
		}
		return jobs.Result{}, err
	}

	data := &ClimateData{
		FarmID:      farm.ID,
		Temperature: reading.Temperature,
		Humidity:    reading.Humidity,
		Rainfall:    reading.Rainfall,
		WindSpeed:   reading.WindSpeed,
		Source:      sourceName(p.fetcher),
		RecordedAt:  reading.RecordedAt,
	}
	if err := p.climate.Create(ctx, payload.UserID, data); err != nil {
		return jobs.Result{}, err
	}

	return jobs.Result{Data: UpdateResult{
		ClimateID: data.ID,
		FarmID:    farm.ID,
		Alerts:    p.evaluate(ctx, payload.UserID, farm, *reading),
	}}, nil
}

// fresh reports whether the farm already has a reading inside the window.
// Lookup failures are treated as stale.
func (p *Processor) fresh(ctx context.Context, farmID string) (string, bool) {
	latest, err := p.climate.LatestForFarm(ctx, farmID)
	if err != nil {
		p.log.Warn("latest reading unavailable, fetching anyway", slog.String("farm_id", farmID), logger.Error(err))
		return "", false
	}
	if latest == nil {
		return "", false
	}
	age := p.now().Sub(latest.RecordedAt)
	if age >= p.cfg.FreshnessWindow {
		return "", false
	}
	return fmt.Sprintf("reading from %s ago is still fresh", age.Round(time.Second)), true
}

// evaluate runs every rule and returns the names of those that raised an
// alert. A failing rule is logged and does not affect the others.
func (p *Processor) evaluate(ctx context.Context, userID string, farm *farms.Farm, r Reading) []string {
	fired := []string{}
	for _, rule := range p.cfg.Rules {
		v := rule.Value(r)
		if !rule.Fires(v) {
			continue
		}
		alert, err := p.alerts.Create(ctx, userID, alerts.CreateInput{
			Type:     alerts.TypeWeather,
			Severity: rule.Severity,
			Title:    fmt.Sprintf("%s at %s", rule.Title, farm.Name),
			Message:  rule.Message(farm.Name, v),
			Metadata: map[string]any{
				"farmId": farm.ID,
				"rule":   rule.Name,
				"value":  v,
			},
		})
		if err != nil {
			p.log.Warn("failed to create weather alert",
				slog.String("farm_id", farm.ID),
				slog.String("rule", rule.Name),
				logger.Error(err))
			continue
		}
		p.notifier.NewAlert(ctx, userID, alert)
		p.notifier.WeatherAlert(ctx, userID, WeatherAlertEvent{
			AlertID:  alert.ID,
			FarmID:   farm.ID,
			FarmName: farm.Name,
			Rule:     rule.Name,
			Severity: string(rule.Severity),
			Title:    alert.Title,
			Value:    v,
		})
		fired = append(fired, rule.Name)
	}
	return fired
}
