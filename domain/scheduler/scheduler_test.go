package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rafaelsanoli/lavra.ai-sub000/domain/farms"
	"github.com/rafaelsanoli/lavra.ai-sub000/domain/market"
	"github.com/rafaelsanoli/lavra.ai-sub000/domain/weather"
	"github.com/rafaelsanoli/lavra.ai-sub000/internal/config"
	"github.com/rafaelsanoli/lavra.ai-sub000/internal/jobs"
	"github.com/rafaelsanoli/lavra.ai-sub000/internal/testutil"
)

var t0 = time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

func noop(context.Context) error { return nil }

func TestScheduler_AddAndListTasks(t *testing.T) {
	s := NewScheduler(testutil.NewLogger())
	assert.Empty(t, s.ListTasks())

	require.NoError(t, s.AddIntervalTask("queue_maintenance", 15*time.Second, noop))
	require.NoError(t, s.AddCronTask("nightly", "0 0 3 * * *", noop))
	require.NoError(t, s.AddIntervalTask("queue_cleanup", time.Hour, noop))
	assert.Equal(t, []string{"nightly", "queue_cleanup", "queue_maintenance"}, s.ListTasks())

	// replacing keeps one entry per name
	require.NoError(t, s.AddIntervalTask("queue_cleanup", 2*time.Hour, noop))
	assert.Len(t, s.ListTasks(), 3)
	assert.Len(t, s.cron.Entries(), 3)

	s.RemoveTask("nightly")
	s.RemoveTask("unknown")
	assert.Equal(t, []string{"queue_cleanup", "queue_maintenance"}, s.ListTasks())
}

func TestScheduler_InvalidCron(t *testing.T) {
	s := NewScheduler(testutil.NewLogger())
	assert.Error(t, s.AddCronTask("broken", "every day", noop))
	assert.Empty(t, s.ListTasks())
}

func TestScheduler_StartStop(t *testing.T) {
	s := NewScheduler(testutil.NewLogger())
	require.NoError(t, s.AddIntervalTask("tick", time.Hour, noop))
	assert.False(t, s.IsRunning())

	require.NoError(t, s.Start(context.Background()))
	require.NoError(t, s.Start(context.Background()))
	assert.True(t, s.IsRunning())

	info := s.GetTaskInfo()
	require.Len(t, info, 1)
	assert.Equal(t, "tick", info[0].Name)
	assert.False(t, info[0].NextRun.IsZero())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, s.Stop(ctx))
	require.NoError(t, s.Stop(ctx))
	assert.False(t, s.IsRunning())
}

func TestScheduler_RunsTask(t *testing.T) {
	s := NewScheduler(testutil.NewLogger())
	ran := make(chan struct{}, 1)
	require.NoError(t, s.AddIntervalTask("fast", time.Second, func(context.Context) error {
		select {
		case ran <- struct{}{}:
		default:
		}
		return errors.New("store unavailable")
	}))
	require.NoError(t, s.Start(context.Background()))
	defer func() { _ = s.Stop(context.Background()) }()

	select {
	case <-ran:
	case <-time.After(3 * time.Second):
		t.Fatal("task did not run")
	}
}

func TestMaintenanceTask_RecoversExpiredLeases(t *testing.T) {
	clock := testutil.NewClock(t0)
	store := jobs.NewMemoryStore(jobs.WithClock(clock.Now), jobs.WithLeaseTTL(time.Minute))
	ctx := context.Background()

	job, err := jobs.New(jobs.QueueMarket, market.JobTypeUpdatePrices, market.UpdatePricesPayload{Commodity: "SOJA", Market: "PARANAGUA"}, market.DefaultPolicy)
	require.NoError(t, err)
	id, err := store.Enqueue(ctx, job)
	require.NoError(t, err)
	_, err = store.Enqueue(ctx, mustJob(t))
	require.NoError(t, err)

	leased, err := store.Lease(ctx, jobs.QueueMarket, "crashed-worker")
	require.NoError(t, err)
	require.Equal(t, id, leased.ID)

	task := NewMaintenanceTask(store, testutil.NewLogger())
	require.NoError(t, task.Run(ctx))
	assert.Equal(t, jobs.StateActive, get(t, store, id).State)
	assert.Equal(t, 1.0, promtest.ToFloat64(jobs.QueueJobs.WithLabelValues("market", string(jobs.StateActive))))
	assert.Equal(t, 1.0, promtest.ToFloat64(jobs.QueueJobs.WithLabelValues("market", string(jobs.StateWaiting))))

	clock.Advance(2 * time.Minute)
	require.NoError(t, task.Run(ctx))

	recovered := get(t, store, id)
	assert.NotEqual(t, jobs.StateActive, recovered.State)
	assert.Equal(t, 1, recovered.Attempts)
	assert.Contains(t, recovered.LastError, "lease expired")
	assert.Equal(t, 0.0, promtest.ToFloat64(jobs.QueueJobs.WithLabelValues("market", string(jobs.StateActive))))
}

func TestCleanupTask_RespectsRetention(t *testing.T) {
	clock := testutil.NewClock(t0)
	store := jobs.NewMemoryStore(jobs.WithClock(clock.Now))
	ctx := context.Background()

	done, err := store.Enqueue(ctx, mustJob(t))
	require.NoError(t, err)
	_, err = store.Lease(ctx, jobs.QueueMarket, "w1")
	require.NoError(t, err)
	require.NoError(t, store.Ack(ctx, done, "w1", nil))

	broken, err := store.Enqueue(ctx, mustJob(t))
	require.NoError(t, err)
	_, err = store.Lease(ctx, jobs.QueueMarket, "w1")
	require.NoError(t, err)
	_, err = store.Nack(ctx, broken, "w1", jobs.Permanent(errors.New("bad payload")))
	require.NoError(t, err)

	task := NewCleanupTask(store, &Config{CompletedRetention: 24 * time.Hour, FailedRetention: 7 * 24 * time.Hour}, testutil.NewLogger())

	clock.Advance(25 * time.Hour)
	require.NoError(t, task.Run(ctx))
	_, err = store.Get(ctx, done)
	assert.ErrorIs(t, err, jobs.ErrJobNotFound)
	assert.Equal(t, jobs.StateFailed, get(t, store, broken).State)

	clock.Advance(7 * 24 * time.Hour)
	require.NoError(t, task.Run(ctx))
	_, err = store.Get(ctx, broken)
	assert.ErrorIs(t, err, jobs.ErrJobNotFound)
}

type fakeFinder struct {
	list []farms.Farm
	err  error
}

func (f *fakeFinder) FindOne(context.Context, string, string) (*farms.Farm, error) {
	return nil, farms.ErrNotFound
}

func (f *fakeFinder) ListWithCoordinates(context.Context) ([]farms.Farm, error) {
	return f.list, f.err
}

func ptr(v float64) *float64 { return &v }

func newDefaults(t *testing.T, tracked []string, finder farms.Finder) (*DefaultSchedules, *jobs.MemoryStore) {
	t.Helper()
	store := jobs.NewMemoryStore(jobs.WithClock(testutil.NewClock(t0).Now))
	cfg := &config.Config{
		Market:  config.MarketConfig{Cron: "0 9-18 * * 1-5"},
		Weather: config.WeatherConfig{Cron: "0 */6 * * *"},
	}
	mq := market.NewQueue(store, cfg, testutil.NewLogger())
	wq := weather.NewQueue(store, cfg, testutil.NewLogger())
	return NewDefaultSchedules(mq, wq, finder, tracked, testutil.NewLogger()), store
}

func TestDefaultSchedules_RegisterIsIdempotent(t *testing.T) {
	finder := &fakeFinder{list: []farms.Farm{
		{ID: "f1", UserID: "ana", Latitude: ptr(-23.5), Longitude: ptr(-46.6)},
		{ID: "f2", UserID: "bruno", Latitude: ptr(-15.8), Longitude: ptr(-47.9)},
		{ID: "f3", UserID: "bruno"},
	}}
	d, store := newDefaults(t, []string{"SOJA:PARANAGUA", "milho:campinas", "CAFE:SANTOS"}, finder)
	ctx := context.Background()

	require.NoError(t, d.Register(ctx))
	require.NoError(t, d.Register(ctx))

	marketRepeats, err := store.Repeating(ctx, jobs.QueueMarket)
	require.NoError(t, err)
	assert.Len(t, marketRepeats, 3)
	for _, spec := range marketRepeats {
		assert.Equal(t, "0 9-18 * * 1-5", spec.Cron)
	}

	weatherRepeats, err := store.Repeating(ctx, jobs.QueueWeather)
	require.NoError(t, err)
	assert.Len(t, weatherRepeats, 2)
}

func TestDefaultSchedules_SyncPicksUpNewFarms(t *testing.T) {
	finder := &fakeFinder{list: []farms.Farm{{ID: "f1", UserID: "ana", Latitude: ptr(-23.5), Longitude: ptr(-46.6)}}}
	d, store := newDefaults(t, nil, finder)
	ctx := context.Background()

	require.NoError(t, d.SyncFarms(ctx))
	finder.list = append(finder.list, farms.Farm{ID: "f9", UserID: "carla", Latitude: ptr(-12.9), Longitude: ptr(-38.5)})
	require.NoError(t, d.SyncFarms(ctx))

	repeats, err := store.Repeating(ctx, jobs.QueueWeather)
	require.NoError(t, err)
	assert.Len(t, repeats, 2)
}

func TestDefaultSchedules_Errors(t *testing.T) {
	d, _ := newDefaults(t, []string{"SOJA"}, &fakeFinder{err: errors.New("db down")})

	err := d.Register(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, market.ErrInvalidPayload)
	assert.ErrorContains(t, err, "db down")
}

func mustJob(t *testing.T) *jobs.Job {
	t.Helper()
	job, err := jobs.New(jobs.QueueMarket, market.JobTypeUpdatePrices, market.UpdatePricesPayload{Commodity: "MILHO", Market: "CAMPINAS"}, market.DefaultPolicy)
	require.NoError(t, err)
	return job
}

func get(t *testing.T, store jobs.Store, id string) *jobs.Job {
	t.Helper()
	job, err := store.Get(context.Background(), id)
	require.NoError(t, err)
	return job
}
