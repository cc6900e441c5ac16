package syshealth

import (
	"math"
	"sync"
	"time"
)

const (
	scaleDownCooldown = time.Minute
	scaleUpCooldown   = 5 * time.Minute
)

// ConcurrencyScaler lowers a queue pool's active slots while the host is
// under pressure and restores them gradually once it recovers.
type ConcurrencyScaler struct {
	monitor        Monitor
	minConcurrency int
	maxConcurrency int
	enabled        bool
	queue          string
	now            func() time.Time

	mu                 sync.Mutex
	currentConcurrency int
	lastAdjustment     time.Time
}

// NewConcurrencyScaler creates a scaler for queue bounded by [min, max].
func NewConcurrencyScaler(monitor Monitor, queue string, enabled bool, min, max int) *ConcurrencyScaler {
	if min < 1 {
		min = 1
	}
	if max < min {
		max = min
	}

	return &ConcurrencyScaler{
		monitor:            monitor,
		queue:              queue,
		enabled:            enabled,
		minConcurrency:     min,
		maxConcurrency:     max,
		now:                time.Now,
		currentConcurrency: max,
		lastAdjustment:     time.Now(),
	}
}

// GetConcurrency returns how many slots may lease right now. When disabled
// it returns staticValue unchanged.
func (s *ConcurrencyScaler) GetConcurrency(staticValue int) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.enabled {
		return staticValue
	}

	health := s.monitor.GetHealth()
	now := s.now()
	sinceLast := now.Sub(s.lastAdjustment)

	zone := health.Zone
	if health.Stale {
		zone = HealthZoneWarning
	}

	target := s.currentConcurrency
	switch zone {
	case HealthZoneCritical:
		target = s.minConcurrency
	case HealthZoneWarning:
		target = int(math.Max(float64(s.minConcurrency), float64(s.maxConcurrency)*0.5))
	case HealthZoneSafe:
		target = s.maxConcurrency
	}

	switch {
	case target < s.currentConcurrency:
		// critical pressure skips the cooldown
		if zone == HealthZoneCritical || sinceLast >= scaleDownCooldown {
			s.adjust(target, "down", zone, now)
		}
	case target > s.currentConcurrency:
		// grow by at most 50% per step
		if sinceLast >= scaleUpCooldown {
			step := int(math.Max(1.0, float64(s.currentConcurrency)*0.5))
			s.adjust(int(math.Min(float64(target), float64(s.currentConcurrency+step))), "up", zone, now)
		}
	}

	if s.currentConcurrency < s.minConcurrency {
		s.currentConcurrency = s.minConcurrency
	}
	if s.currentConcurrency > s.maxConcurrency {
		s.currentConcurrency = s.maxConcurrency
	}

	QueueConcurrency.WithLabelValues(s.queue).Set(float64(s.currentConcurrency))
	return s.currentConcurrency
}

func (s *ConcurrencyScaler) adjust(to int, direction string, zone HealthZone, now time.Time) {
	s.currentConcurrency = to
	s.lastAdjustment = now
	QueueAdjustments.WithLabelValues(s.queue, direction, string(zone)).Inc()
}

// UpdateConfig changes the bounds at runtime. The current level is clamped
// into the new range; growth towards a higher max follows the usual cooldown.
func (s *ConcurrencyScaler) UpdateConfig(enabled bool, min, max int) {
	if min < 1 {
		min = 1
	}
	if max < min {
		max = min
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.enabled = enabled
	s.minConcurrency = min
	s.maxConcurrency = max
	if s.currentConcurrency < min {
		s.currentConcurrency = min
	}
	if s.currentConcurrency > max {
		s.currentConcurrency = max
	}
}
