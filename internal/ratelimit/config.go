package ratelimit

import (
	"fmt"
	"strings"
	"time"
)

// Config defines a single fixed-window limit.
type Config struct {
	// KeyPrefix namespaces every window key as "{KeyPrefix}:{identifier}".
	KeyPrefix string
	// MaxRequests is the number of allowed requests per window.
	MaxRequests uint64
	// Window is the window length. It must be a whole number of seconds.
	Window time.Duration
}

// Validate checks the config and returns an error wrapping ErrInvalidConfig.
func (c Config) Validate() error {
	if c.KeyPrefix == "" {
		return fmt.Errorf("%w: key prefix cannot be empty", ErrInvalidConfig)
	}

	if c.MaxRequests == 0 {
		return fmt.Errorf("%w: max requests must be positive", ErrInvalidConfig)
	}

	if c.Window < time.Second {
		return fmt.Errorf("%w: window must be at least one second, got %s", ErrInvalidConfig, c.Window)
	}

	if c.Window%time.Second != 0 {
		return fmt.Errorf("%w: window must be whole seconds, got %s", ErrInvalidConfig, c.Window)
	}

	return nil
}

// PrefixesOverlap reports whether window keys under the two prefixes can
// collide. Identifiers are not escaped, so "a" overlaps "a:b": the identifier
// "b:x" under "a" is the same key as "x" under "a:b".
func PrefixesOverlap(a, b string) bool {
	return a == b || strings.HasPrefix(a, b+":") || strings.HasPrefix(b, a+":")
}

// WindowSeconds returns the window as the store-native TTL unit.
func (c Config) WindowSeconds() int64 {
	return int64(c.Window / time.Second)
}
