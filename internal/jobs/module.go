package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/redis/go-redis/v9"
	"github.com/uptrace/bun"
	"go.uber.org/fx"
	"golang.org/x/sync/errgroup"

	"github.com/rafaelsanoli/lavra.ai-sub000/internal/config"
	"github.com/rafaelsanoli/lavra.ai-sub000/pkg/logger"
)

// Module provides the job Store and runs one worker pool per registered
// processor. Domain modules contribute processors with AsProcessor.
var Module = fx.Module("jobs",
	fx.Provide(
		NewStore,
		NewPools,
	),
	fx.Invoke(RegisterPoolsLifecycle),
)

// Registration binds a processor to the queue it serves.
type Registration struct {
	Queue     QueueName
	Processor Processor
}

// AsProcessor annotates a constructor returning a Registration so it joins
// the processor group.
func AsProcessor(constructor any) any {
	return fx.Annotate(constructor, fx.ResultTags(`group:"job_processors"`))
}

// LimiterFactory builds a concurrency limiter for a queue pool.
type LimiterFactory func(queue QueueName, max int) ConcurrencyLimiter

// StoreParams are the dependencies NewStore may use.
type StoreParams struct {
	fx.In
	Config *config.Config
	Log    *slog.Logger
	DB     *bun.DB               `optional:"true"`
	Redis  redis.UniversalClient `optional:"true"`
}

// NewStore selects the backend named by QUEUE_BACKEND.
func NewStore(p StoreParams) (Store, error) {
	log := p.Log.With(logger.Scope("jobs.store"))
	opts := []Option{WithLeaseTTL(p.Config.Queue.LeaseTTL)}

	switch p.Config.Queue.Backend {
	case "postgres", "":
		if p.DB == nil {
			return nil, fmt.Errorf("queue backend postgres requires a database")
		}
		log.Info("using postgres job store")
		return NewPostgresStore(p.DB, log, opts...), nil
	case "redis":
		if p.Redis == nil {
			return nil, fmt.Errorf("queue backend redis requires a redis client")
		}
		log.Info("using redis job store", slog.String("prefix", p.Config.Queue.RedisPrefix))
		return NewRedisStore(p.Redis, p.Config.Queue.RedisPrefix, log, opts...), nil
	case "memory":
		log.Warn("using in-memory job store, jobs will not survive a restart")
		return NewMemoryStore(opts...), nil
	default:
		return nil, fmt.Errorf("unknown queue backend %q", p.Config.Queue.Backend)
	}
}

// Pools holds the worker pool of every queue that has a processor.
type Pools struct {
	pools map[QueueName]*Pool
}

// PoolsParams are the dependencies of NewPools.
type PoolsParams struct {
	fx.In
	Config        *config.Config
	Store         Store
	Log           *slog.Logger
	Registrations []Registration `group:"job_processors"`
	Limiters      LimiterFactory `optional:"true"`
}

// NewPools creates one pool per registration.
func NewPools(p PoolsParams) (*Pools, error) {
	pools := &Pools{pools: make(map[QueueName]*Pool, len(p.Registrations))}
	for _, reg := range p.Registrations {
		if !reg.Queue.Valid() {
			return nil, fmt.Errorf("%w: %q", ErrUnknownQueue, reg.Queue)
		}
		if _, dup := pools.pools[reg.Queue]; dup {
			return nil, fmt.Errorf("queue %s has more than one processor", reg.Queue)
		}

		cfg := PoolConfig{
			Queue:        reg.Queue,
			Concurrency:  p.Config.Queue.Concurrency(string(reg.Queue)),
			PollInterval: p.Config.Queue.PollInterval,
		}
		var opts []PoolOption
		if p.Limiters != nil {
			opts = append(opts, WithLimiter(p.Limiters(reg.Queue, cfg.Concurrency)))
		}
		pools.pools[reg.Queue] = NewPool(p.Store, reg.Processor, cfg, p.Log, opts...)
	}
	return pools, nil
}

// Get returns the pool of queue.
func (ps *Pools) Get(queue QueueName) (*Pool, bool) {
	p, ok := ps.pools[queue]
	return p, ok
}

// All returns the pools ordered by queue name.
func (ps *Pools) All() []*Pool {
	all := make([]*Pool, 0, len(ps.pools))
	for _, p := range ps.pools {
		all = append(all, p)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].Queue() < all[j].Queue() })
	return all
}

// Start starts every pool.
func (ps *Pools) Start(ctx context.Context) error {
	for _, p := range ps.All() {
		if err := p.Start(ctx); err != nil {
			return err
		}
	}
	return nil
}

// Stop stops every pool concurrently.
func (ps *Pools) Stop(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, p := range ps.All() {
		p := p
		g.Go(func() error { return p.Stop(ctx) })
	}
	return g.Wait()
}

// RegisterPoolsLifecycle starts the pools with the application when workers are enabled.
func RegisterPoolsLifecycle(lc fx.Lifecycle, pools *Pools, cfg *config.Config, log *slog.Logger) {
	log = log.With(logger.Scope("jobs"))
	if !cfg.Queue.WorkersEnabled {
		log.Info("worker pools disabled (QUEUE_WORKERS_ENABLED=false)")
		return
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			log.Info("starting worker pools", slog.Int("count", len(pools.pools)))
			return pools.Start(ctx)
		},
		OnStop: func(ctx context.Context) error {
			log.Info("stopping worker pools")
			return pools.Stop(ctx)
		},
	})
}
