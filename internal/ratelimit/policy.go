package ratelimit

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultPolicyPrefix namespaces policy window keys when a policy sets none.
const DefaultPolicyPrefix = "ratelimit-policy"

// LimitConfig defines one fixed window within a policy.
type LimitConfig struct {
	Window time.Duration `yaml:"window"`
	Max    uint64        `yaml:"max"`
}

func (c LimitConfig) validate() error {
	if c.Max == 0 {
		return fmt.Errorf("%w: limit max must be positive", ErrInvalidConfig)
	}

	if c.Window < time.Second || c.Window%time.Second != 0 {
		return fmt.Errorf("%w: limit window must be whole seconds, got %s", ErrInvalidConfig, c.Window)
	}

	return nil
}

// Policy groups the fixed windows applied to each scope.
type Policy struct {
	KeyPrefix string                  `yaml:"keyPrefix"`
	Limits    map[Scope][]LimitConfig `yaml:"limits"`
}

// Validate checks every limit in the policy.
func (p *Policy) Validate() error {
	if p.KeyPrefix == "" {
		return fmt.Errorf("%w: policy key prefix cannot be empty", ErrInvalidConfig)
	}

	for scope, limits := range p.Limits {
		for _, limit := range limits {
			if err := limit.validate(); err != nil {
				return fmt.Errorf("scope %s: %w", scope, err)
			}
		}
	}

	return nil
}

// PolicyBuilder assembles a Policy fluently.
type PolicyBuilder struct {
	policy *Policy
}

func NewPolicyBuilder() *PolicyBuilder {
	return &PolicyBuilder{
		policy: &Policy{
			KeyPrefix: DefaultPolicyPrefix,
			Limits:    make(map[Scope][]LimitConfig),
		},
	}
}

// WithKeyPrefix sets the namespace for every window key of the policy.
func (b *PolicyBuilder) WithKeyPrefix(prefix string) *PolicyBuilder {
	b.policy.KeyPrefix = prefix

	return b
}

// AddLimit appends a window of max requests per window to the scope.
func (b *PolicyBuilder) AddLimit(scope Scope, maxRequests uint64, window time.Duration) *PolicyBuilder {
	b.policy.Limits[scope] = append(b.policy.Limits[scope], LimitConfig{
		Window: window,
		Max:    maxRequests,
	})

	return b
}

func (b *PolicyBuilder) Build() *Policy {
	return b.policy
}

// ParsePolicy decodes a YAML policy document such as:
//
//	keyPrefix: api
//	limits:
//	  global:
//	    - {window: 1m, max: 100}
//	  write:
//	    - {window: 1s, max: 5}
func ParsePolicy(data []byte) (*Policy, error) {
	policy := &Policy{KeyPrefix: DefaultPolicyPrefix}

	if err := yaml.Unmarshal(data, policy); err != nil {
		return nil, fmt.Errorf("%w: parse policy: %w", ErrInvalidConfig, err)
	}

	if policy.Limits == nil {
		policy.Limits = make(map[Scope][]LimitConfig)
	}

	if err := policy.Validate(); err != nil {
		return nil, err
	}

	return policy, nil
}

// LoadPolicyFile reads and validates a YAML policy from disk.
func LoadPolicyFile(path string) (*Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read policy file: %w", err)
	}

	return ParsePolicy(data)
}
