package jobs

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/rafaelsanoli/lavra.ai-sub000/internal/config"
)

func ptr[T any](v T) *T { return &v }

func TestResolvePolicy(t *testing.T) {
	base := Policy{
		Retry:    RetryPolicy{MaxAttempts: 3, Backoff: BackoffExponential, BaseDelay: 2 * time.Second},
		Priority: PriorityNormal,
		Timeout:  time.Minute,
	}

	t.Run("no override keeps defaults", func(t *testing.T) {
		cfg := &config.Config{}
		assert.Equal(t, base, ResolvePolicy(cfg, QueueMarket, base))
		assert.Equal(t, base, ResolvePolicy(nil, QueueMarket, base))
	})

	t.Run("override replaces only set fields", func(t *testing.T) {
		cfg := &config.Config{}
		cfg.Queue.Policies = map[string]config.PolicyOverride{
			"market": {
				Attempts:         ptr(5),
				Backoff:          "fixed",
				Priority:         ptr(1),
				RemoveOnComplete: ptr(true),
			},
		}

		got := ResolvePolicy(cfg, QueueMarket, base)
		assert.Equal(t, 5, got.Retry.MaxAttempts)
		assert.Equal(t, BackoffFixed, got.Retry.Backoff)
		assert.Equal(t, 2*time.Second, got.Retry.BaseDelay)
		assert.Equal(t, PriorityCritical, got.Priority)
		assert.Equal(t, time.Minute, got.Timeout)
		assert.True(t, got.Disposition.RemoveOnComplete)
		assert.False(t, got.Disposition.RemoveOnFail)

		assert.Equal(t, base, ResolvePolicy(cfg, QueueWeather, base), "other queues untouched")
	})
}
