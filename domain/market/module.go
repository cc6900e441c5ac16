// Package market refreshes commodity prices in the background and pushes
// ticks and trend alerts to connected clients.
package market

import (
	"log/slog"
	"time"

	"go.uber.org/fx"

	"github.com/rafaelsanoli/lavra.ai-sub000/domain/events"
	"github.com/rafaelsanoli/lavra.ai-sub000/internal/config"
	"github.com/rafaelsanoli/lavra.ai-sub000/internal/jobs"
	"github.com/rafaelsanoli/lavra.ai-sub000/pkg/fetch"
)

var Module = fx.Module("market",
	fx.Provide(
		NewRepository,
		func(r *Repository) PriceRepository { return r },
		NewFetcher,
		NewQueue,
		ProcessorConfigFrom,
		func(g *events.PricesGateway) PriceNotifier { return g },
		func(g *events.AlertsGateway) AlertNotifier { return g },
		NewProcessor,
		jobs.AsProcessor(func(p *Processor) jobs.Registration {
			return jobs.Registration{Queue: jobs.QueueMarket, Processor: p}
		}),
	),
)

// NewFetcher selects the price source named by MARKET_SOURCE.
func NewFetcher(cfg *config.Config, log *slog.Logger) Fetcher {
	f := cfg.Fetchers
	if f.MarketSource != "http" || f.MarketURL == "" {
		log.Info("using simulated market prices")
		return NewSimulatedFetcher(uint64(time.Now().UnixNano()))
	}

	headers := map[string]string{}
	if f.MarketAPIKey != "" {
		headers["Authorization"] = "Bearer " + f.MarketAPIKey
	}
	client := fetch.NewClient("market", f.MarketURL, fetch.Options{
		RatePerSecond: f.RatePerSecond,
		Burst:         f.Burst,
		Timeout:       f.Timeout,
		Headers:       headers,
	}, log)
	return NewHTTPFetcher(client, log)
}
