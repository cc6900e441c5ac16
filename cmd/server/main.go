// Package main provides the entry point for the Lavra jobs server: worker
// pools, the realtime hub, scheduled tasks and the admin and health APIs.
package main

import (
	"log/slog"

	"github.com/joho/godotenv"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"

	"github.com/rafaelsanoli/lavra.ai-sub000/domain/alerts"
	"github.com/rafaelsanoli/lavra.ai-sub000/domain/email"
	"github.com/rafaelsanoli/lavra.ai-sub000/domain/events"
	"github.com/rafaelsanoli/lavra.ai-sub000/domain/farms"
	"github.com/rafaelsanoli/lavra.ai-sub000/domain/health"
	"github.com/rafaelsanoli/lavra.ai-sub000/domain/market"
	"github.com/rafaelsanoli/lavra.ai-sub000/domain/notifications"
	"github.com/rafaelsanoli/lavra.ai-sub000/domain/queueadmin"
	"github.com/rafaelsanoli/lavra.ai-sub000/domain/scheduler"
	"github.com/rafaelsanoli/lavra.ai-sub000/domain/simulations"
	"github.com/rafaelsanoli/lavra.ai-sub000/domain/tracing"
	"github.com/rafaelsanoli/lavra.ai-sub000/domain/weather"
	"github.com/rafaelsanoli/lavra.ai-sub000/internal/config"
	"github.com/rafaelsanoli/lavra.ai-sub000/internal/database"
	"github.com/rafaelsanoli/lavra.ai-sub000/internal/jobs"
	"github.com/rafaelsanoli/lavra.ai-sub000/internal/migrate"
	"github.com/rafaelsanoli/lavra.ai-sub000/internal/redisdb"
	"github.com/rafaelsanoli/lavra.ai-sub000/internal/server"
	"github.com/rafaelsanoli/lavra.ai-sub000/pkg/auth"
	"github.com/rafaelsanoli/lavra.ai-sub000/pkg/logger"
)

func main() {
	// Load .env files if present (for local development)
	// Note: Load() won't overwrite existing vars, Overload() will
	_ = godotenv.Load(".env")
	_ = godotenv.Overload(".env.local")

	fx.New(
		// Logging
		fx.WithLogger(func(log *slog.Logger) fxevent.Logger {
			return &fxevent.SlogLogger{Logger: log}
		}),

		// Infrastructure modules
		logger.Module,
		config.Module,
		database.Module,
		redisdb.Module,
		migrate.Module,
		server.Module,
		tracing.Module,

		// Auth module
		auth.Module,

		// Job store and worker pools
		jobs.Module,

		// Realtime fan-out (WebSocket and SSE hub, cross-instance bus)
		events.Module,

		// Domain collaborators and their queue processors
		alerts.Module,
		farms.Module,
		market.Module,
		weather.Module,
		simulations.Module,
		email.Module,
		notifications.Module,

		// Scheduler module (repeat schedules, queue maintenance)
		scheduler.Module,

		// Operator APIs
		queueadmin.Module,
		health.Module,
	).Run()
}
