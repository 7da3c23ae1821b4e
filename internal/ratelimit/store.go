package ratelimit

import (
	"context"
)

// NoWindow is the TTL reported when a key is absent or carries no expiry.
const NoWindow int64 = -1

// EvalResult is the state observed by one atomic evaluation of a window key.
type EvalResult struct {
	Allowed bool
	Count   uint64
	// TTL is the remaining window in whole seconds, or NoWindow.
	TTL int64
}

// Store defines the backing store for fixed-window counters.
//
// Evaluate must run its read, check, increment and expire steps as one
// indivisible unit so concurrent callers never both pass at the boundary.
type Store interface {
	// Evaluate creates the counter with count 1 and an expiry of windowSeconds
	// when absent, increments it while below maxRequests without touching the
	// expiry, and denies without mutation once maxRequests is reached.
	Evaluate(ctx context.Context, key string, maxRequests uint64, windowSeconds int64) (EvalResult, error)

	// Count reads the counter without mutating it. Absent keys read as zero.
	Count(ctx context.Context, key string) (uint64, error)

	// TTL reads the remaining expiry in whole seconds, or NoWindow.
	TTL(ctx context.Context, key string) (int64, error)
}
