package jobs

import (
	"fmt"
	"time"
)

// BackoffKind selects how the delay between attempts grows.
type BackoffKind string

const (
	BackoffFixed       BackoffKind = "fixed"
	BackoffExponential BackoffKind = "exponential"
)

// RetryPolicy bounds how often and how quickly a failed job is retried.
type RetryPolicy struct {
	MaxAttempts int           `json:"maxAttempts" yaml:"attempts"`
	Backoff     BackoffKind   `json:"backoff" yaml:"backoff"`
	BaseDelay   time.Duration `json:"baseDelay" yaml:"delay"`
	// MaxDelay caps exponential growth; zero means uncapped.
	MaxDelay time.Duration `json:"maxDelay,omitempty" yaml:"max_delay"`
}

// Delay returns the wait before the next attempt once attempts have failed.
// Fixed backoff always waits BaseDelay; exponential waits BaseDelay*2^(attempts-1).
func (p RetryPolicy) Delay(attempts int) time.Duration {
	if attempts < 1 || p.BaseDelay <= 0 {
		return 0
	}
	if p.Backoff != BackoffExponential {
		return p.BaseDelay
	}

	d := p.BaseDelay
	for i := 1; i < attempts; i++ {
		if p.MaxDelay > 0 && d >= p.MaxDelay {
			return p.MaxDelay
		}
		// stop doubling before overflowing
		if d > time.Duration(1<<62)/2 {
			break
		}
		d *= 2
	}
	if p.MaxDelay > 0 && d > p.MaxDelay {
		return p.MaxDelay
	}
	return d
}

// Validate checks the policy is usable.
func (p RetryPolicy) Validate() error {
	if p.MaxAttempts < 1 {
		return fmt.Errorf("%w: max attempts must be at least 1, got %d", ErrInvalidJob, p.MaxAttempts)
	}
	switch p.Backoff {
	case "", BackoffFixed, BackoffExponential:
	default:
		return fmt.Errorf("%w: unknown backoff %q", ErrInvalidJob, p.Backoff)
	}
	if p.BaseDelay < 0 {
		return fmt.Errorf("%w: negative backoff delay", ErrInvalidJob)
	}
	return nil
}
