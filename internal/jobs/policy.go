package jobs

import (
	"github.com/rafaelsanoli/lavra.ai-sub000/internal/config"
)

// ApplyOverride returns base with every field set in o replaced.
func ApplyOverride(base Policy, o config.PolicyOverride) Policy {
	p := base
	if o.Attempts != nil {
		p.Retry.MaxAttempts = *o.Attempts
	}
	if o.Backoff != "" {
		p.Retry.Backoff = BackoffKind(o.Backoff)
	}
	if o.Delay != nil {
		p.Retry.BaseDelay = *o.Delay
	}
	if o.MaxDelay != nil {
		p.Retry.MaxDelay = *o.MaxDelay
	}
	if o.Priority != nil {
		p.Priority = Priority(*o.Priority)
	}
	if o.Timeout != nil {
		p.Timeout = *o.Timeout
	}
	if o.RemoveOnComplete != nil {
		p.Disposition.RemoveOnComplete = *o.RemoveOnComplete
	}
	if o.RemoveOnFail != nil {
		p.Disposition.RemoveOnFail = *o.RemoveOnFail
	}
	return p
}

// ResolvePolicy applies the configured override for queue, if any, to base.
func ResolvePolicy(cfg *config.Config, queue QueueName, base Policy) Policy {
	if cfg == nil {
		return base
	}
	if o, ok := cfg.Queue.Policies[string(queue)]; ok {
		return ApplyOverride(base, o)
	}
	return base
}
