package health

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/rafaelsanoli/lavra.ai-sub000/internal/jobs"
	"github.com/rafaelsanoli/lavra.ai-sub000/pkg/syshealth"
)

// Probe is one named dependency check. Probes that are not Critical report
// problems without failing readiness.
type Probe struct {
	Name     string
	Critical bool
	Check    func(ctx context.Context) error
}

// DatabaseProbe pings the postgres pool.
func DatabaseProbe(pool *pgxpool.Pool) Probe {
	return Probe{Name: "database", Critical: true, Check: pool.Ping}
}

// RedisProbe pings the shared redis client.
func RedisProbe(rdb redis.UniversalClient) Probe {
	return Probe{Name: "redis", Critical: true, Check: func(ctx context.Context) error {
		return rdb.Ping(ctx).Err()
	}}
}

// QueueStoreProbe reads the counts of one queue through the job store.
func QueueStoreProbe(store jobs.Store) Probe {
	return Probe{Name: "queue_store", Critical: true, Check: func(ctx context.Context) error {
		_, err := store.Counts(ctx, jobs.QueueMarket)
		return err
	}}
}

// HostProbe fails while the host health monitor reports the critical zone.
func HostProbe(mon syshealth.Monitor) Probe {
	return Probe{Name: "host", Check: func(context.Context) error {
		h := mon.GetHealth()
		if h == nil {
			return nil
		}
		if h.Zone == syshealth.HealthZoneCritical {
			return fmt.Errorf("host under pressure: score %d", h.Score)
		}
		return nil
	}}
}
