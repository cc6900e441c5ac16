// Package events is the realtime fan-out gateway: a Hub of authenticated
// connections grouped in rooms, WebSocket and SSE transports, an optional
// cross-instance Bus, and the gateways processors emit through.
package events

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"

	"github.com/rafaelsanoli/lavra.ai-sub000/internal/config"
	"github.com/rafaelsanoli/lavra.ai-sub000/pkg/auth"
	"github.com/rafaelsanoli/lavra.ai-sub000/pkg/logger"
)

// Module provides the events domain
var Module = fx.Module("events",
	fx.Provide(
		NewBus,
		NewHubFromConfig,
		func(h *Hub) Emitter { return h },
		NewAlertsGateway,
		NewPricesGateway,
		NewNotificationsGateway,
		NewHandler,
	),
	fx.Invoke(RegisterRoutes),
	fx.Invoke(RegisterLifecycle),
)

// BusParams are the dependencies NewBus may use.
type BusParams struct {
	fx.In
	Config *config.Config
	Log    *slog.Logger
	Redis  redis.UniversalClient `optional:"true"`
}

// NewBus selects the cross-instance bus named by REALTIME_BUS.
func NewBus(p BusParams) (Bus, error) {
	log := p.Log.With(logger.Scope("events.bus"))
	switch p.Config.Realtime.Bus {
	case "local", "":
		log.Info("realtime bus is local, emits stay on this instance")
		return LocalBus{}, nil
	case "redis":
		if p.Redis == nil {
			return nil, fmt.Errorf("realtime bus redis requires a redis client")
		}
		return NewRedisBus(p.Redis, p.Config.Realtime.RedisChannel, p.Log), nil
	case "amqp":
		bus, err := NewAMQPBus(p.Config.AMQP.URL, p.Config.AMQP.Exchange, p.Log)
		if err != nil {
			return nil, err
		}
		return bus, nil
	default:
		return nil, fmt.Errorf("unknown realtime bus %q", p.Config.Realtime.Bus)
	}
}

// NewHubFromConfig creates the Hub with the configured bus and buffer size.
func NewHubFromConfig(resolver auth.IdentityResolver, bus Bus, cfg *config.Config, log *slog.Logger) *Hub {
	return NewHub(resolver, log, WithBus(bus), WithSendBuffer(cfg.Realtime.SendBuffer))
}

// RouteParams are the dependencies for registering routes
type RouteParams struct {
	fx.In

	Echo           *echo.Echo
	Handler        *Handler
	AuthMiddleware *auth.Middleware
}

// RegisterRoutes registers the realtime routes
func RegisterRoutes(p RouteParams) {
	RegisterRoutesManual(p.Echo, p.Handler, p.AuthMiddleware)
}

// RegisterRoutesManual registers the realtime routes without fx. The stream
// endpoints authenticate inside the handler so browser clients can pass the
// token as a query parameter.
func RegisterRoutesManual(e *echo.Echo, h *Handler, authMiddleware *auth.Middleware) {
	rt := e.Group("/api/realtime")
	rt.GET("/ws", h.HandleWS)
	rt.GET("/stream", h.HandleStream)

	authed := rt.Group("", authMiddleware.RequireAuth())
	authed.GET("/connections/count", h.HandleConnectionsCount)
	authed.POST("/connections/:id/subscriptions", h.HandleSubscribe)
	authed.DELETE("/connections/:id/subscriptions", h.HandleUnsubscribe)
}

// LifecycleParams are the dependencies for lifecycle hooks
type LifecycleParams struct {
	fx.In

	LC  fx.Lifecycle
	Hub *Hub
	Log *slog.Logger
}

// RegisterLifecycle starts consuming peer emits and closes connections on stop.
func RegisterLifecycle(p LifecycleParams) {
	log := p.Log.With(logger.Scope("events"))
	p.LC.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			log.Info("starting realtime hub", slog.String("instance_id", p.Hub.InstanceID()))
			return p.Hub.Start(ctx)
		},
		OnStop: func(ctx context.Context) error {
			log.Info("stopping realtime hub", slog.Int("connections", p.Hub.ConnectionCount()))
			return p.Hub.Stop()
		},
	})
}
