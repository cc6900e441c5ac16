package jobs

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRepeatKey(t *testing.T) {
	a := RepeatKey(QueueWeather, "fetch", "0 */6 * * *", []byte(`{"farmId":"f1"}`))
	b := RepeatKey(QueueWeather, "fetch", "0 */6 * * *", []byte(`{"farmId":"f1"}`))
	assert.Equal(t, a, b)
	assert.Len(t, a, 20)

	assert.NotEqual(t, a, RepeatKey(QueueWeather, "fetch", "0 */6 * * *", []byte(`{"farmId":"f2"}`)))
	assert.NotEqual(t, a, RepeatKey(QueueWeather, "fetch", "0 */3 * * *", []byte(`{"farmId":"f1"}`)))
	assert.NotEqual(t, a, RepeatKey(QueueMarket, "fetch", "0 */6 * * *", []byte(`{"farmId":"f1"}`)))
}

func TestParseCron(t *testing.T) {
	tests := []struct {
		expr    string
		wantErr bool
	}{
		{"0 */6 * * *", false},
		{"0 9-18 * * 1-5", false},
		{"@every 1h", false},
		{"CRON_TZ=UTC 0 9 * * *", false},
		{"", true},
		{"every six hours", true},
		{"0 0 0 0 0 0 0", true},
	}

	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			_, err := ParseCron(tt.expr)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidCron)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestRepeatSpec_MaterialiseDoesNotBackfill(t *testing.T) {
	job, err := New(QueueWeather, "fetch", map[string]string{"farmId": "f1"}, Policy{})
	require.NoError(t, err)

	spec, err := newRepeatSpec(job, "0 */6 * * *", t0)
	require.NoError(t, err)
	assert.Equal(t, t0.Add(6*time.Hour), spec.NextRunAt)
	assert.Empty(t, spec.Template.ID)

	// the process was down for most of a day
	now := t0.Add(20 * time.Hour)
	instance, err := spec.materialise(now)
	require.NoError(t, err)

	assert.Equal(t, instanceID(spec.Key, t0.Add(6*time.Hour)), instance.ID)
	assert.Equal(t, spec.Key, instance.RepeatKey)
	assert.Equal(t, StateWaiting, instance.State)
	assert.Equal(t, t0.Add(24*time.Hour), spec.NextRunAt, "missed ticks are skipped")
}

func TestRepeatSpec_MaterialiseUsesFreshIDs(t *testing.T) {
	job, err := New(QueueMarket, "fetch", map[string]string{"commodity": "SOJA"}, Policy{})
	require.NoError(t, err)
	spec, err := newRepeatSpec(job, "@every 1h", t0)
	require.NoError(t, err)

	seen := make(map[string]bool)
	now := t0
	for i := 0; i < 5; i++ {
		now = now.Add(time.Hour)
		instance, err := spec.materialise(now)
		require.NoError(t, err)
		assert.False(t, seen[instance.ID])
		seen[instance.ID] = true
	}
}
