package syshealth

import (
	"database/sql"

	"github.com/redis/go-redis/v9"
)

// PoolGauge reports how many connections of a pool are in use out of its maximum.
type PoolGauge struct {
	Name  string
	Usage func() (inUse, max int)
}

// SQLPool measures a database/sql pool (the one under bun).
func SQLPool(name string, db *sql.DB) PoolGauge {
	return PoolGauge{Name: name, Usage: func() (int, int) {
		s := db.Stats()
		return s.InUse, s.MaxOpenConnections
	}}
}

// RedisPool measures a go-redis client pool.
func RedisPool(name string, rdb redis.UniversalClient) PoolGauge {
	return PoolGauge{Name: name, Usage: func() (int, int) {
		s := rdb.PoolStats()
		max := 10
		if c, ok := rdb.(*redis.Client); ok && c.Options().PoolSize > 0 {
			max = c.Options().PoolSize
		}
		return int(s.TotalConns - s.IdleConns), max
	}}
}

func (g PoolGauge) percent() float64 {
	inUse, max := g.Usage()
	if max <= 0 {
		return 0
	}
	return float64(inUse) / float64(max) * 100.0
}
