// Package weather refreshes farm weather readings in the background and
// alerts farm owners when a reading crosses an agronomic threshold.
package weather

import (
	"log/slog"
	"time"

	"go.uber.org/fx"

	"github.com/rafaelsanoli/lavra.ai-sub000/domain/events"
	"github.com/rafaelsanoli/lavra.ai-sub000/internal/config"
	"github.com/rafaelsanoli/lavra.ai-sub000/internal/jobs"
	"github.com/rafaelsanoli/lavra.ai-sub000/pkg/fetch"
)

var Module = fx.Module("weather",
	fx.Provide(
		NewRepository,
		func(r *Repository) ClimateRepository { return r },
		NewFetcher,
		NewQueue,
		ProcessorConfigFrom,
		func(g *events.AlertsGateway) AlertNotifier { return g },
		NewProcessor,
		jobs.AsProcessor(func(p *Processor) jobs.Registration {
			return jobs.Registration{Queue: jobs.QueueWeather, Processor: p}
		}),
	),
)

// NewFetcher selects the weather source named by WEATHER_SOURCE.
func NewFetcher(cfg *config.Config, log *slog.Logger) Fetcher {
	f := cfg.Fetchers
	if f.WeatherSource != "http" || f.WeatherURL == "" {
		log.Info("using simulated weather readings")
		return NewSimulatedFetcher(uint64(time.Now().UnixNano()))
	}
	client := fetch.NewClient("open-meteo", f.WeatherURL, fetch.Options{
		RatePerSecond: f.RatePerSecond,
		Burst:         f.Burst,
		Timeout:       f.Timeout,
	}, log)
	return NewOpenMeteoFetcher(client, log)
}
