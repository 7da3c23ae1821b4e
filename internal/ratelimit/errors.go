package ratelimit

import (
	"errors"
	"fmt"
)

var (
	// ErrRateLimitExceeded is matched by every denial returned from Check.
	ErrRateLimitExceeded = errors.New("rate limit exceeded")

	// ErrStore is matched by every failure talking to the backing store.
	ErrStore = errors.New("rate limit store error")

	// ErrInvalidConfig is returned when a limiter or policy is misconfigured.
	ErrInvalidConfig = errors.New("invalid rate limit configuration")

	// ErrInvalidIdentifier is returned for an empty identifier.
	ErrInvalidIdentifier = errors.New("identifier cannot be empty")
)

// ExceededError is the designed deny outcome of Check. It carries the decision
// so callers can report remaining quota and reset time.
type ExceededError struct {
	Decision *Decision
}

func (e *ExceededError) Error() string {
	if e.Decision == nil {
		return ErrRateLimitExceeded.Error()
	}

	return fmt.Sprintf("rate limit exceeded for %s: %d/%d requests, resets in %ds",
		e.Decision.Key, e.Decision.Count, e.Decision.Limit, e.Decision.ResetIn)
}

func (e *ExceededError) Unwrap() error {
	return ErrRateLimitExceeded
}

// StoreError wraps a failure from the backing store. The underlying client
// error stays reachable through errors.Is and errors.As.
type StoreError struct {
	Op  string
	Key string
	Err error
}

func (e *StoreError) Error() string {
	if e.Key == "" {
		return fmt.Sprintf("rate limit store %s: %v", e.Op, e.Err)
	}

	return fmt.Sprintf("rate limit store %s %q: %v", e.Op, e.Key, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

// Is reports ErrStore as a match so callers need not know the concrete type.
func (e *StoreError) Is(target error) bool {
	return target == ErrStore
}

// DecisionFromError returns the decision attached to a denial, or nil.
func DecisionFromError(err error) *Decision {
	var exceeded *ExceededError
	if errors.As(err, &exceeded) {
		return exceeded.Decision
	}

	return nil
}
