package market

import (
	"context"
	"fmt"
	"log/slog"
	"math"

	"github.com/rafaelsanoli/lavra.ai-sub000/domain/alerts"
	"github.com/rafaelsanoli/lavra.ai-sub000/domain/events"
	"github.com/rafaelsanoli/lavra.ai-sub000/internal/config"
	"github.com/rafaelsanoli/lavra.ai-sub000/internal/jobs"
	"github.com/rafaelsanoli/lavra.ai-sub000/pkg/fetch"
	"github.com/rafaelsanoli/lavra.ai-sub000/pkg/logger"
)

// PriceNotifier is the realtime side of the market queue.
type PriceNotifier interface {
	PriceUpdate(ctx context.Context, commodity string, data any) events.Delivery
	PriceAlert(ctx context.Context, userID string, data any) events.Delivery
}

var _ PriceNotifier = (*events.PricesGateway)(nil)

// AlertNotifier announces every persisted alert on the generic alert:new feed.
type AlertNotifier interface {
	NewAlert(ctx context.Context, userID string, data any) events.Delivery
}

var _ AlertNotifier = (*events.AlertsGateway)(nil)

// ProcessorConfig tunes trend alerts.
type ProcessorConfig struct {
	// AlertThresholdPercent is exclusive: a change must exceed it
	AlertThresholdPercent float64
	TrendWindowDays       int
}

// UpdateResult is stored as the result of a completed update-prices job.
type UpdateResult struct {
	PriceID   string  `json:"priceId"`
	Commodity string  `json:"commodity"`
	Market    string  `json:"market"`
	Price     float64 `json:"price"`
	Alerted   bool    `json:"alerted"`
}

// Processor executes update-prices jobs: fetch, persist, broadcast, and for
// jobs carrying a user, alert on significant trends. Only fetch and persist
// failures fail the job.
type Processor struct {
	fetcher  Fetcher
	prices   PriceRepository
	alerts   alerts.Creator
	notifier PriceNotifier
	feed     AlertNotifier
	cfg      ProcessorConfig
	log      *slog.Logger
}

var _ jobs.Processor = (*Processor)(nil)

func NewProcessor(
	fetcher Fetcher,
	prices PriceRepository,
	creator alerts.Creator,
	notifier PriceNotifier,
	feed AlertNotifier,
	cfg ProcessorConfig,
	log *slog.Logger,
) *Processor {
	if cfg.TrendWindowDays <= 0 {
		cfg.TrendWindowDays = 30
	}
	return &Processor{
		fetcher:  fetcher,
		prices:   prices,
		alerts:   creator,
		notifier: notifier,
		feed:     feed,
		cfg:      cfg,
		log:      log.With(logger.Scope("market.processor")),
	}
}

// ProcessorConfigFrom reads the trend settings from the application config.
func ProcessorConfigFrom(cfg *config.Config) ProcessorConfig {
	return ProcessorConfig{
		AlertThresholdPercent: cfg.Market.AlertThresholdPercent,
		TrendWindowDays:       cfg.Market.TrendWindowDays,
	}
}

func (p *Processor) Process(ctx context.Context, job *jobs.Job, _ jobs.ProgressFunc) (jobs.Result, error) {
	var payload UpdatePricesPayload
	if err := job.Decode(&payload); err != nil {
		return jobs.Result{}, err
	}
	payload = payload.normalize()
	if err := payload.Validate(); err != nil {
		return jobs.Result{}, jobs.Permanent(err)
	}

	quote, err := p.fetcher.FetchPrice(ctx, payload.Commodity, payload.Market)
	if err != nil {
		err = fmt.Errorf("fetch price %s/%s: %w", payload.Commodity, payload.Market, err)
		if !fetch.IsTemporary(err) {
			return jobs.Result{}, jobs.Permanent(err)
		}
		return jobs.Result{}, err
	}

	price := &Price{
		Commodity:  payload.Commodity,
		Market:     payload.Market,
		Price:      quote.Price,
		Currency:   quote.Currency,
		Unit:       quote.Unit,
		Source:     sourceName(p.fetcher),
		RecordedAt: quote.RecordedAt,
	}
	if err := p.prices.Create(ctx, price); err != nil {
		return jobs.Result{}, err
	}

	p.notifier.PriceUpdate(ctx, price.Commodity, PriceUpdateEvent{
		Commodity:  price.Commodity,
		Market:     price.Market,
		Price:      price.Price,
		Currency:   price.Currency,
		Unit:       price.Unit,
		RecordedAt: price.RecordedAt,
	})

	result := UpdateResult{
		PriceID:   price.ID,
		Commodity: price.Commodity,
		Market:    price.Market,
		Price:     price.Price,
	}
	if payload.UserID != "" {
		result.Alerted = p.alertOnTrend(ctx, payload.UserID, price)
	}
	return jobs.Result{Data: result}, nil
}

// alertOnTrend never fails the job; it reports whether an alert was created.
func (p *Processor) alertOnTrend(ctx context.Context, userID string, price *Price) bool {
	log := p.log.With(
		slog.String("user_id", userID),
		slog.String("commodity", price.Commodity),
		slog.String("market", price.Market))

	trend, err := p.prices.GetTrend(ctx, price.Commodity, price.Market, p.cfg.TrendWindowDays)
	if err != nil {
		log.Warn("price trend unavailable, skipping alert", logger.Error(err))
		return false
	}
	if math.Abs(trend.ChangePercent) <= p.cfg.AlertThresholdPercent {
		return false
	}

	severity := alerts.SeverityMedium
	if math.Abs(trend.ChangePercent) > 2*p.cfg.AlertThresholdPercent {
		severity = alerts.SeverityHigh
	}
	verb := "rose"
	if trend.ChangePercent < 0 {
		verb = "fell"
	}

	alert, err := p.alerts.Create(ctx, userID, alerts.CreateInput{
		Type:     alerts.TypeMarket,
		Severity: severity,
		Title:    fmt.Sprintf("%s %s %.1f%% at %s", price.Commodity, verb, math.Abs(trend.ChangePercent), price.Market),
		Message: fmt.Sprintf("%s is quoted at %.2f %s/%s, %s %.1f%% over the last %d days.",
			price.Commodity, price.Price, price.Currency, price.Unit, verb, math.Abs(trend.ChangePercent), p.cfg.TrendWindowDays),
		Metadata: map[string]any{
			"commodity":     price.Commodity,
			"market":        price.Market,
			"price":         price.Price,
			"direction":     trend.Direction,
			"changePercent": trend.ChangePercent,
		},
	})
	if err != nil {
		log.Warn("failed to create price alert", logger.Error(err))
		return false
	}

	p.feed.NewAlert(ctx, userID, alert)
	p.notifier.PriceAlert(ctx, userID, PriceAlertEvent{
		AlertID:       alert.ID,
		Commodity:     price.Commodity,
		Market:        price.Market,
		Price:         price.Price,
		Direction:     trend.Direction,
		ChangePercent: trend.ChangePercent,
	})
	log.Info("price alert raised", slog.Float64("change_percent", trend.ChangePercent))
	return true
}
