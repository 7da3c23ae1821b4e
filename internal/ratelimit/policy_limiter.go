package ratelimit

import (
	"context"
	"fmt"
	"time"
)

// ScopeCustom marks denials coming from per-endpoint limits.
const ScopeCustom Scope = "custom"

// LimitExceeded contains information about which limit was exceeded.
type LimitExceeded struct {
	Scope    Scope
	Config   LimitConfig
	Decision *Decision
}

// PolicyLimiter enforces every window of a policy for the resolved scopes.
type PolicyLimiter struct {
	store    Store
	policy   *Policy
	limiters map[Scope][]*Limiter
}

// NewPolicyLimiter validates the policy and builds one fixed-window limiter
// per scope and window.
func NewPolicyLimiter(store Store, policy *Policy) (*PolicyLimiter, error) {
	if policy == nil {
		return nil, fmt.Errorf("%w: policy cannot be nil", ErrInvalidConfig)
	}

	if err := policy.Validate(); err != nil {
		return nil, err
	}

	limiters := make(map[Scope][]*Limiter, len(policy.Limits))

	for scope, limits := range policy.Limits {
		for _, limit := range limits {
			l, err := NewLimiter(store, limitConfig(policy.KeyPrefix+":"+string(scope), limit))
			if err != nil {
				return nil, err
			}

			limiters[scope] = append(limiters[scope], l)
		}
	}

	return &PolicyLimiter{
		store:    store,
		policy:   policy,
		limiters: limiters,
	}, nil
}

// Allow checks every window of the given scopes in order for the client.
// The first window that denies stops the evaluation and is reported in
// LimitExceeded. Windows checked before the denial keep their increment.
func (l *PolicyLimiter) Allow(ctx context.Context, clientKey string, scopes []Scope) (bool, *LimitExceeded, error) {
	for _, scope := range scopes {
		for _, limiter := range l.limiters[scope] {
			exceeded, err := decide(ctx, limiter, scope, clientKey)
			if err != nil {
				return false, nil, err
			}

			if exceeded != nil {
				return false, exceeded, nil
			}
		}
	}

	return true, nil, nil
}

// AllowCustom checks endpoint-specific windows, keyed by route template so
// every request matching the same route shares the client's counters.
func (l *PolicyLimiter) AllowCustom(
	ctx context.Context,
	clientKey, route string,
	limits []LimitConfig,
) (bool, *LimitExceeded, error) {
	prefix := l.policy.KeyPrefix + ":" + string(ScopeCustom) + ":" + route

	for _, limit := range limits {
		limiter, err := NewLimiter(l.store, limitConfig(prefix, limit))
		if err != nil {
			return false, nil, err
		}

		exceeded, err := decide(ctx, limiter, ScopeCustom, clientKey)
		if err != nil {
			return false, nil, err
		}

		if exceeded != nil {
			return false, exceeded, nil
		}
	}

	return true, nil, nil
}

// Policy returns the enforced policy.
func (l *PolicyLimiter) Policy() *Policy {
	return l.policy
}

func decide(ctx context.Context, limiter *Limiter, scope Scope, clientKey string) (*LimitExceeded, error) {
	decision, err := limiter.Decide(ctx, clientKey)
	if err != nil {
		return nil, err
	}

	if decision.Allowed {
		return nil, nil
	}

	return &LimitExceeded{
		Scope: scope,
		Config: LimitConfig{
			Window: limiter.cfg.Window,
			Max:    limiter.cfg.MaxRequests,
		},
		Decision: decision,
	}, nil
}

// limitConfig builds "{prefix}:{windowSeconds}" so windows of the same scope
// are tracked independently.
func limitConfig(prefix string, limit LimitConfig) Config {
	return Config{
		KeyPrefix:   fmt.Sprintf("%s:%d", prefix, int64(limit.Window/time.Second)),
		MaxRequests: limit.Max,
		Window:      limit.Window,
	}
}
