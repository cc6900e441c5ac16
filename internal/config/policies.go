package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// PolicyOverride replaces selected fields of a queue's default job policy.
// Unset fields keep the default.
type PolicyOverride struct {
	Attempts         *int           `yaml:"attempts"`
	Backoff          string         `yaml:"backoff"`
	Delay            *time.Duration `yaml:"delay"`
	MaxDelay         *time.Duration `yaml:"max_delay"`
	Priority         *int           `yaml:"priority"`
	Timeout          *time.Duration `yaml:"timeout"`
	RemoveOnComplete *bool          `yaml:"remove_on_complete"`
	RemoveOnFail     *bool          `yaml:"remove_on_fail"`
}

type policyFile struct {
	Queues map[string]PolicyOverride `yaml:"queues"`
}

// LoadPolicyFile reads per-queue overrides from a YAML document of the form
//
//	queues:
//	  market:
//	    attempts: 5
//	    delay: 10s
func LoadPolicyFile(path string) (map[string]PolicyOverride, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read queue policy file: %w", err)
	}
	return ParsePolicies(data)
}

// ParsePolicies decodes a queue policy document.
func ParsePolicies(data []byte) (map[string]PolicyOverride, error) {
	var f policyFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse queue policy file: %w", err)
	}
	for name, p := range f.Queues {
		if p.Attempts != nil && *p.Attempts < 1 {
			return nil, fmt.Errorf("queue %s: attempts must be at least 1", name)
		}
		switch p.Backoff {
		case "", "fixed", "exponential":
		default:
			return nil, fmt.Errorf("queue %s: unknown backoff %q", name, p.Backoff)
		}
	}
	return f.Queues, nil
}
