package notifications

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rafaelsanoli/lavra.ai-sub000/internal/config"
	"github.com/rafaelsanoli/lavra.ai-sub000/internal/jobs"
)

func TestQueue_PriorityFollowsLevel(t *testing.T) {
	tests := []struct {
		level Level
		want  jobs.Priority
	}{
		{level: LevelCritical, want: jobs.PriorityCritical},
		{level: LevelHigh, want: jobs.PriorityHigh},
		{level: "", want: jobs.PriorityNormal},
		{level: LevelNormal, want: jobs.PriorityNormal},
		{level: LevelLow, want: jobs.PriorityLow},
	}
	for _, tt := range tests {
		t.Run(string(tt.level), func(t *testing.T) {
			f := newFixture(t, &config.Config{})
			p := emailPayload()
			p.Level = tt.level

			id, err := f.queue.SendNotification(context.Background(), p)
			require.NoError(t, err)

			job := f.job(t, id)
			assert.Equal(t, tt.want, job.Priority)
			assert.Equal(t, JobTypeSendNotification, job.Type)
			assert.Equal(t, 3, job.Retry.MaxAttempts)
			assert.Equal(t, jobs.BackoffExponential, job.Retry.Backoff)
			assert.Equal(t, time.Second, job.Retry.BaseDelay)
		})
	}
}

func TestSendNotificationPayload_PriorityAlias(t *testing.T) {
	tests := []struct {
		name string
		body string
		want Level
	}{
		{name: "level", body: `{"userId":"u1","channel":"email","level":"high"}`, want: LevelHigh},
		{name: "priority", body: `{"userId":"u1","channel":"email","priority":"critical"}`, want: LevelCritical},
		{name: "level wins", body: `{"userId":"u1","channel":"email","level":"low","priority":"critical"}`, want: LevelLow},
		{name: "neither", body: `{"userId":"u1","channel":"email"}`, want: ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var p SendNotificationPayload
			require.NoError(t, json.Unmarshal([]byte(tt.body), &p))
			assert.Equal(t, tt.want, p.Level)
			assert.Equal(t, "u1", p.UserID)
			assert.Equal(t, ChannelEmail, p.Channel)
		})
	}
}

func TestQueue_PriorityAliasDecidesJobPriority(t *testing.T) {
	f := newFixture(t, &config.Config{})

	var p SendNotificationPayload
	body := `{"userId":"u1","channel":"email","title":"Geada","message":"amanha","recipient":"ana@lavra.ai","priority":"critical"}`
	require.NoError(t, json.Unmarshal([]byte(body), &p))

	id, err := f.queue.SendNotification(context.Background(), p)
	require.NoError(t, err)
	job := f.job(t, id)
	assert.Equal(t, jobs.PriorityCritical, job.Priority)

	var stored SendNotificationPayload
	require.NoError(t, job.Decode(&stored))
	assert.Equal(t, LevelCritical, stored.Level)
}

func TestQueue_CriticalLeasedFirst(t *testing.T) {
	f := newFixture(t, &config.Config{})
	low := emailPayload()
	low.Level = LevelLow
	critical := emailPayload()
	critical.Level = LevelCritical

	_, err := f.queue.SendNotification(context.Background(), low)
	require.NoError(t, err)
	criticalID, err := f.queue.SendNotification(context.Background(), critical)
	require.NoError(t, err)

	leased, err := f.store.Lease(context.Background(), jobs.QueueNotification, "w1")
	require.NoError(t, err)
	assert.Equal(t, criticalID, leased.ID)
}

func TestQueue_Validation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(p *SendNotificationPayload)
	}{
		{name: "missing user", mutate: func(p *SendNotificationPayload) { p.UserID = " " }},
		{name: "unknown channel", mutate: func(p *SendNotificationPayload) { p.Channel = "fax" }},
		{name: "missing title", mutate: func(p *SendNotificationPayload) { p.Title = "" }},
		{name: "missing message", mutate: func(p *SendNotificationPayload) { p.Message = "" }},
		{name: "unknown level", mutate: func(p *SendNotificationPayload) { p.Level = "urgent" }},
		{name: "email without recipient", mutate: func(p *SendNotificationPayload) { p.Recipient = "" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, &config.Config{})
			p := emailPayload()
			tt.mutate(&p)

			_, err := f.queue.SendNotification(context.Background(), p)
			assert.ErrorIs(t, err, ErrInvalidPayload)

			counts, err := f.store.Counts(context.Background(), jobs.QueueNotification)
			require.NoError(t, err)
			assert.Zero(t, counts.Waiting)
		})
	}
}

func TestQueue_InAppNeedsNoRecipient(t *testing.T) {
	f := newFixture(t, &config.Config{})
	_, err := f.queue.SendNotification(context.Background(), SendNotificationPayload{
		UserID: "ana", Channel: "IN_APP", Title: "t", Message: "m",
	})
	require.NoError(t, err)
}

func TestQueue_SendBulkNotifications(t *testing.T) {
	f := newFixture(t, &config.Config{})
	bad := emailPayload()
	bad.Title = ""

	results, err := f.queue.SendBulkNotifications(context.Background(), []SendNotificationPayload{emailPayload(), bad, emailPayload()})
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.NotEmpty(t, results[0].ID)
	assert.ErrorIs(t, results[1].Err, ErrInvalidPayload)
	assert.Empty(t, results[1].ID)
	assert.NotEmpty(t, results[2].ID)

	counts, err := f.store.Counts(context.Background(), jobs.QueueNotification)
	require.NoError(t, err)
	assert.Equal(t, int64(2), counts.Waiting)
}

func TestQueue_ScheduleNotification(t *testing.T) {
	f := newFixture(t, &config.Config{})

	id, err := f.queue.ScheduleNotification(context.Background(), emailPayload(), t0.Add(time.Hour))
	require.NoError(t, err)

	assert.False(t, f.runOne(t))
	job := f.job(t, id)
	assert.True(t, t0.Add(time.Hour).Equal(job.EligibleAt))

	f.clock.Advance(time.Hour)
	assert.True(t, f.runOne(t))
	assert.Equal(t, jobs.StateCompleted, f.job(t, id).State)
}

func TestQueue_ScheduleInThePastRunsNow(t *testing.T) {
	f := newFixture(t, &config.Config{})

	id, err := f.queue.ScheduleNotification(context.Background(), emailPayload(), t0.Add(-time.Minute))
	require.NoError(t, err)
	assert.True(t, f.runOne(t))
	assert.Equal(t, jobs.StateCompleted, f.job(t, id).State)
}
