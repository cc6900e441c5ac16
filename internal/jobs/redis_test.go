package jobs

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rafaelsanoli/lavra.ai-sub000/internal/testutil"
)

func newRedisStore(t *testing.T, clock *testutil.Clock) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewRedisStore(rdb, "test", testutil.NewLogger(), WithClock(clock.Now)), mr
}

func TestRedisStore_DrainRemovesJobHashesAndSets(t *testing.T) {
	clock := testutil.NewClock(t0)
	s, mr := newRedisStore(t, clock)
	ctx := context.Background()

	var waiting []string
	for i := 0; i < 3; i++ {
		id, err := s.Enqueue(ctx, newTestJob(t, QueueMarket, map[string]int{"i": i}, retryThrice))
		require.NoError(t, err)
		waiting = append(waiting, id)
	}
	delayed, err := s.EnqueueDelayed(ctx, newTestJob(t, QueueMarket, map[string]string{}, retryThrice), time.Hour)
	require.NoError(t, err)
	other, err := s.Enqueue(ctx, newTestJob(t, QueueWeather, map[string]string{}, retryThrice))
	require.NoError(t, err)

	active, err := s.Lease(ctx, QueueMarket, "w1")
	require.NoError(t, err)
	require.NotNil(t, active)

	require.NoError(t, s.Drain(ctx, QueueMarket))

	for _, id := range append(waiting, delayed) {
		if id == active.ID {
			continue
		}
		assert.False(t, mr.Exists(s.jobKey(id)), "job %s left behind", id)
	}
	assert.False(t, mr.Exists(s.stateKey(QueueMarket, StateWaiting)))
	assert.False(t, mr.Exists(s.stateKey(QueueMarket, StateDelayed)))
	assert.True(t, mr.Exists(s.jobKey(active.ID)))
	assert.True(t, mr.Exists(s.jobKey(other)))

	// the drained queue keeps working
	require.NoError(t, s.Ack(ctx, active.ID, "w1", nil))
	next, err := s.Enqueue(ctx, newTestJob(t, QueueMarket, map[string]string{}, retryThrice))
	require.NoError(t, err)
	job, err := s.Lease(ctx, QueueMarket, "w1")
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, next, job.ID)
}

func TestRedisStore_DrainEmptyQueue(t *testing.T) {
	s, _ := newRedisStore(t, testutil.NewClock(t0))
	require.NoError(t, s.Drain(context.Background(), QueueWeather))
	assert.ErrorIs(t, s.Drain(context.Background(), QueueName("bogus")), ErrUnknownQueue)
}
