package ratelimit_test

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/serroba/window-limiter/internal/ratelimit"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfig_Validate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		cfg     ratelimit.Config
		wantErr bool
	}{
		{name: "valid", cfg: ratelimit.Config{KeyPrefix: "rl", MaxRequests: 1, Window: time.Second}},
		{name: "empty prefix", cfg: ratelimit.Config{MaxRequests: 1, Window: time.Second}, wantErr: true},
		{name: "zero max", cfg: ratelimit.Config{KeyPrefix: "rl", Window: time.Second}, wantErr: true},
		{name: "zero window", cfg: ratelimit.Config{KeyPrefix: "rl", MaxRequests: 1}, wantErr: true},
		{name: "sub-second window", cfg: ratelimit.Config{KeyPrefix: "rl", MaxRequests: 1, Window: 500 * time.Millisecond}, wantErr: true},
		{name: "fractional window", cfg: ratelimit.Config{KeyPrefix: "rl", MaxRequests: 1, Window: 1500 * time.Millisecond}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			err := tt.cfg.Validate()
			if tt.wantErr {
				require.ErrorIs(t, err, ratelimit.ErrInvalidConfig)

				return
			}

			require.NoError(t, err)
		})
	}
}

func TestConfig_WindowSeconds(t *testing.T) {
	t.Parallel()

	cfg := ratelimit.Config{Window: 2 * time.Minute}

	assert.Equal(t, int64(120), cfg.WindowSeconds())
}

func TestPrefixesOverlap(t *testing.T) {
	t.Parallel()

	tests := []struct {
		a, b string
		want bool
	}{
		{a: "ratelimit", b: "ratelimit", want: true},
		{a: "ratelimit", b: "ratelimit:client", want: true},
		{a: "ratelimit:client", b: "ratelimit", want: true},
		{a: "ratelimit", b: "ratelimit-client", want: false},
		{a: "ratelimit", b: "ratelimit-policy", want: false},
		{a: "api", b: "apis:x", want: false},
	}

	for _, tt := range tests {
		t.Run(tt.a+" vs "+tt.b, func(t *testing.T) {
			t.Parallel()

			assert.Equal(t, tt.want, ratelimit.PrefixesOverlap(tt.a, tt.b))
		})
	}
}

func TestErrors(t *testing.T) {
	t.Parallel()

	t.Run("exceeded error unwraps to sentinel", func(t *testing.T) {
		t.Parallel()

		err := fmt.Errorf("handler: %w", &ratelimit.ExceededError{
			Decision: &ratelimit.Decision{Key: "rl:a", Count: 3, Limit: 3, ResetIn: 12},
		})

		require.ErrorIs(t, err, ratelimit.ErrRateLimitExceeded)
		assert.Contains(t, err.Error(), "rl:a")
		assert.Contains(t, err.Error(), "3/3")
		assert.Equal(t, int64(12), ratelimit.DecisionFromError(err).ResetIn)
	})

	t.Run("store error matches sentinel and cause", func(t *testing.T) {
		t.Parallel()

		cause := errors.New("i/o timeout")
		err := &ratelimit.StoreError{Op: "evaluate", Key: "rl:a", Err: cause}

		require.ErrorIs(t, err, ratelimit.ErrStore)
		require.ErrorIs(t, err, cause)
		assert.NotErrorIs(t, err, ratelimit.ErrRateLimitExceeded)
		assert.Equal(t, `rate limit store evaluate "rl:a": i/o timeout`, err.Error())
	})

	t.Run("no decision on other errors", func(t *testing.T) {
		t.Parallel()

		assert.Nil(t, ratelimit.DecisionFromError(errors.New("boom")))
		assert.Nil(t, ratelimit.DecisionFromError(nil))
	})
}
