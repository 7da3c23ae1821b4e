package store

import (
	"context"
	"sync"
	"time"

	"github.com/serroba/window-limiter/internal/ratelimit"
)

type windowEntry struct {
	count     uint64
	expiresAt time.Time // zero means no expiry
}

// WindowMemoryStore is an in-memory implementation of ratelimit.Store.
// It only coordinates callers within one process.
type WindowMemoryStore struct {
	mu      sync.Mutex
	now     func() time.Time
	entries map[string]*windowEntry
}

// WindowMemoryOption configures a WindowMemoryStore.
type WindowMemoryOption func(*WindowMemoryStore)

// WithClock replaces time.Now, letting tests move across window boundaries.
func WithClock(now func() time.Time) WindowMemoryOption {
	return func(s *WindowMemoryStore) {
		s.now = now
	}
}

// NewWindowMemoryStore creates a new in-memory window store.
func NewWindowMemoryStore(opts ...WindowMemoryOption) *WindowMemoryStore {
	s := &WindowMemoryStore{
		now:     time.Now,
		entries: make(map[string]*windowEntry),
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

func (s *WindowMemoryStore) Evaluate(
	_ context.Context,
	key string,
	maxRequests uint64,
	windowSeconds int64,
) (ratelimit.EvalResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	window := time.Duration(windowSeconds) * time.Second

	entry := s.live(key, now)
	if entry == nil {
		s.entries[key] = &windowEntry{count: 1, expiresAt: now.Add(window)}

		return ratelimit.EvalResult{Allowed: true, Count: 1, TTL: windowSeconds}, nil
	}

	if entry.expiresAt.IsZero() {
		entry.expiresAt = now.Add(window)
	}

	allowed := entry.count < maxRequests
	if allowed {
		entry.count++
	}

	return ratelimit.EvalResult{
		Allowed: allowed,
		Count:   entry.count,
		TTL:     ttlSeconds(entry, now),
	}, nil
}

func (s *WindowMemoryStore) Count(_ context.Context, key string) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry := s.live(key, s.now()); entry != nil {
		return entry.count, nil
	}

	return 0, nil
}

func (s *WindowMemoryStore) TTL(_ context.Context, key string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()

	return ttlSeconds(s.live(key, now), now), nil
}

// Seed writes a counter directly. A zero ttl stores it without expiry.
func (s *WindowMemoryStore) Seed(key string, count uint64, ttl time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry := &windowEntry{count: count}
	if ttl > 0 {
		entry.expiresAt = s.now().Add(ttl)
	}

	s.entries[key] = entry
}

// live returns the entry for key, dropping it first if it has expired.
func (s *WindowMemoryStore) live(key string, now time.Time) *windowEntry {
	entry, ok := s.entries[key]
	if !ok {
		return nil
	}

	if !entry.expiresAt.IsZero() && !now.Before(entry.expiresAt) {
		delete(s.entries, key)

		return nil
	}

	return entry
}

// ttlSeconds rounds to the nearest second the way Redis TTL does.
func ttlSeconds(entry *windowEntry, now time.Time) int64 {
	if entry == nil || entry.expiresAt.IsZero() {
		return ratelimit.NoWindow
	}

	return (entry.expiresAt.Sub(now).Milliseconds() + 500) / 1000
}
