// Package redisdb provides the shared Redis client used by the redis job
// store and the redis fan-out bus.
package redisdb

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"

	"github.com/rafaelsanoli/lavra.ai-sub000/internal/config"
	"github.com/rafaelsanoli/lavra.ai-sub000/pkg/logger"
)

var Module = fx.Module("redisdb",
	fx.Provide(NewClient),
)

// Required reports whether any configured component talks to Redis.
func Required(cfg *config.Config) bool {
	return cfg.Queue.Backend == "redis" || cfg.Realtime.Bus == "redis"
}

// NewClient connects to REDIS_URL. It returns a nil client when neither the
// job store nor the realtime bus is configured for Redis.
func NewClient(lc fx.Lifecycle, cfg *config.Config, log *slog.Logger) (redis.UniversalClient, error) {
	log = log.With(logger.Scope("redis"))
	if !Required(cfg) {
		log.Debug("redis not required by configuration")
		return nil, nil
	}

	opts, err := redis.ParseURL(cfg.Redis.URL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	log.Info("redis client connected",
		slog.String("addr", opts.Addr),
		slog.Int("db", opts.DB),
		slog.Int("pool_size", opts.PoolSize))

	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			log.Info("closing redis client")
			return client.Close()
		},
	})
	return client, nil
}
