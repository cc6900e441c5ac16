package events

import (
	"context"
	"log/slog"

	"github.com/rafaelsanoli/lavra.ai-sub000/pkg/logger"
)

// Emitter is the part of the Hub the domain gateways use.
type Emitter interface {
	EmitToUser(ctx context.Context, userID, event string, data any) Delivery
	EmitToRoom(ctx context.Context, room, event string, data any) Delivery
	EmitToAll(ctx context.Context, event string, data any) Delivery
}

var _ Emitter = (*Hub)(nil)

func logDelivery(log *slog.Logger, d Delivery) {
	if !d.OK() {
		log.Warn("realtime emit failed", slog.Any("delivery", d))
		return
	}
	log.Debug("realtime emit", slog.Any("delivery", d))
}

// AlertsGateway pushes alert events to their owner.
type AlertsGateway struct {
	emitter Emitter
	log     *slog.Logger
}

func NewAlertsGateway(emitter Emitter, log *slog.Logger) *AlertsGateway {
	return &AlertsGateway{emitter: emitter, log: log.With(logger.Scope("events.alerts"))}
}

// NewAlert emits alert:new to userID.
func (g *AlertsGateway) NewAlert(ctx context.Context, userID string, alert any) Delivery {
	d := g.emitter.EmitToUser(ctx, userID, EventAlertNew, alert)
	logDelivery(g.log, d)
	return d
}

// WeatherAlert emits alert:weather to userID.
func (g *AlertsGateway) WeatherAlert(ctx context.Context, userID string, alert any) Delivery {
	d := g.emitter.EmitToUser(ctx, userID, EventAlertWeather, alert)
	logDelivery(g.log, d)
	return d
}

// PricesGateway pushes price ticks to commodity rooms and price alerts to users.
type PricesGateway struct {
	emitter Emitter
	log     *slog.Logger
}

func NewPricesGateway(emitter Emitter, log *slog.Logger) *PricesGateway {
	return &PricesGateway{emitter: emitter, log: log.With(logger.Scope("events.prices"))}
}

// PriceUpdate emits price:update to the commodity room.
func (g *PricesGateway) PriceUpdate(ctx context.Context, commodity string, price any) Delivery {
	d := g.emitter.EmitToRoom(ctx, CommodityRoom(commodity), EventPriceUpdate, price)
	logDelivery(g.log, d)
	return d
}

// PriceAlert emits price:alert to userID.
func (g *PricesGateway) PriceAlert(ctx context.Context, userID string, alert any) Delivery {
	d := g.emitter.EmitToUser(ctx, userID, EventPriceAlert, alert)
	logDelivery(g.log, d)
	return d
}

// NotificationsGateway pushes in-app notifications to their owner.
type NotificationsGateway struct {
	emitter Emitter
	log     *slog.Logger
}

func NewNotificationsGateway(emitter Emitter, log *slog.Logger) *NotificationsGateway {
	return &NotificationsGateway{emitter: emitter, log: log.With(logger.Scope("events.notifications"))}
}

// NewNotification emits notification:new to userID.
func (g *NotificationsGateway) NewNotification(ctx context.Context, userID string, n any) Delivery {
	d := g.emitter.EmitToUser(ctx, userID, EventNotificationNew, n)
	logDelivery(g.log, d)
	return d
}
