package ratelimit

import (
	"context"
	"errors"
	"fmt"
)

// Decision is the outcome of one evaluation of an identifier's window.
type Decision struct {
	Allowed bool
	Key     string
	Limit   uint64
	// Count is the counter value after the evaluation.
	Count     uint64
	Remaining uint64
	// ResetIn is the remaining window in seconds, or NoWindow.
	ResetIn int64
}

// Limiter enforces a single fixed-window quota per identifier.
// It holds no mutable state; every decision is made by the store.
type Limiter struct {
	store Store
	cfg   Config
}

// NewLimiter creates a fixed-window limiter over the given store.
func NewLimiter(store Store, cfg Config) (*Limiter, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: store cannot be nil", ErrInvalidConfig)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &Limiter{
		store: store,
		cfg:   cfg,
	}, nil
}

// Config returns the limiter configuration.
func (l *Limiter) Config() Config {
	return l.cfg
}

// Key derives the window key for an identifier.
func (l *Limiter) Key(identifier string) string {
	return l.cfg.KeyPrefix + ":" + identifier
}

// Check consumes one unit of quota for the identifier.
// It returns nil when allowed, an *ExceededError when the quota is spent
// and a *StoreError when the store could not be reached.
func (l *Limiter) Check(ctx context.Context, identifier string) error {
	decision, err := l.Decide(ctx, identifier)
	if err != nil {
		return err
	}

	if !decision.Allowed {
		return &ExceededError{Decision: decision}
	}

	return nil
}

// Decide is Check returning the full decision instead of an error on denial.
func (l *Limiter) Decide(ctx context.Context, identifier string) (*Decision, error) {
	if identifier == "" {
		return nil, ErrInvalidIdentifier
	}

	key := l.Key(identifier)

	res, err := l.store.Evaluate(ctx, key, l.cfg.MaxRequests, l.cfg.WindowSeconds())
	if err != nil {
		return nil, storeError("evaluate", key, err)
	}

	return &Decision{
		Allowed:   res.Allowed,
		Key:       key,
		Limit:     l.cfg.MaxRequests,
		Count:     res.Count,
		Remaining: l.remaining(res.Count),
		ResetIn:   res.TTL,
	}, nil
}

// Remaining reports how many requests are left in the current window
// without consuming any. An identifier with no window has its full quota.
func (l *Limiter) Remaining(ctx context.Context, identifier string) (uint64, error) {
	if identifier == "" {
		return 0, ErrInvalidIdentifier
	}

	key := l.Key(identifier)

	count, err := l.store.Count(ctx, key)
	if err != nil {
		return 0, storeError("count", key, err)
	}

	return l.remaining(count), nil
}

// TimeRemaining reports the seconds until the current window resets,
// or NoWindow when the identifier has no active window.
func (l *Limiter) TimeRemaining(ctx context.Context, identifier string) (int64, error) {
	if identifier == "" {
		return 0, ErrInvalidIdentifier
	}

	key := l.Key(identifier)

	ttl, err := l.store.TTL(ctx, key)
	if err != nil {
		return 0, storeError("ttl", key, err)
	}

	if ttl < 0 {
		return NoWindow, nil
	}

	return ttl, nil
}

func (l *Limiter) remaining(count uint64) uint64 {
	if count >= l.cfg.MaxRequests {
		return 0
	}

	return l.cfg.MaxRequests - count
}

func storeError(op, key string, err error) error {
	var se *StoreError
	if errors.As(err, &se) {
		return err
	}

	return &StoreError{Op: op, Key: key, Err: err}
}
