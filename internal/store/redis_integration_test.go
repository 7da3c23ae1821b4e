//go:build integration

package store_test

import (
	"context"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/serroba/window-limiter/internal/ratelimit"
	"github.com/serroba/window-limiter/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func getRedisAddr() string {
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		return addr
	}

	return "localhost:6379"
}

func TestRedisWindowStoreIntegration(t *testing.T) {
	ctx := context.Background()

	cfg := ratelimit.Config{
		KeyPrefix:   "it:" + time.Now().Format("150405.000000"),
		MaxRequests: 3,
		Window:      2 * time.Second,
	}

	limiter, client, err := store.NewRedisLimiter(ctx, getRedisAddr(), cfg, zap.NewNop())
	if err != nil {
		t.Skipf("Redis not available: %v", err)
	}
	defer client.Close()

	t.Run("allows three then denies and resets", func(t *testing.T) {
		for range 3 {
			require.NoError(t, limiter.Check(ctx, "alice"))
		}

		require.ErrorIs(t, limiter.Check(ctx, "alice"), ratelimit.ErrRateLimitExceeded)

		remaining, err := limiter.Remaining(ctx, "alice")
		require.NoError(t, err)
		assert.Equal(t, uint64(0), remaining)

		ttl, err := limiter.TimeRemaining(ctx, "alice")
		require.NoError(t, err)
		assert.InDelta(t, 2, ttl, 1)

		time.Sleep(2100 * time.Millisecond)

		require.NoError(t, limiter.Check(ctx, "alice"))

		client.Del(ctx, limiter.Key("alice"))
	})

	t.Run("concurrent callers share one quota", func(t *testing.T) {
		other := redis.NewClient(&redis.Options{Addr: getRedisAddr()})
		defer other.Close()

		secondProcess, err := ratelimit.NewLimiter(store.NewRedisWindowStore(other), cfg)
		require.NoError(t, err)

		var (
			wg      sync.WaitGroup
			allowed atomic.Int64
		)

		for i := range 50 {
			wg.Add(1)

			l := limiter
			if i%2 == 0 {
				l = secondProcess
			}

			go func() {
				defer wg.Done()

				if l.Check(ctx, "bob") == nil {
					allowed.Add(1)
				}
			}()
		}

		wg.Wait()

		assert.Equal(t, int64(3), allowed.Load())

		client.Del(ctx, limiter.Key("bob"))
	})
}
