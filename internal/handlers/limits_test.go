package handlers_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/danielgtaylor/huma/v2/humatest"
	"github.com/serroba/window-limiter/internal/audit"
	"github.com/serroba/window-limiter/internal/handlers"
	"github.com/serroba/window-limiter/internal/messaging"
	"github.com/serroba/window-limiter/internal/ratelimit"
	"github.com/serroba/window-limiter/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type brokenStore struct{}

func (brokenStore) Evaluate(context.Context, string, uint64, int64) (ratelimit.EvalResult, error) {
	return ratelimit.EvalResult{}, errors.New("connection refused")
}

func (brokenStore) Count(context.Context, string) (uint64, error) {
	return 0, errors.New("connection refused")
}

func (brokenStore) TTL(context.Context, string) (int64, error) {
	return 0, errors.New("connection refused")
}

type capturedEvents struct {
	events []*audit.DenialEvent
}

func (c *capturedEvents) publish() messaging.Publish[audit.DenialEvent] {
	return func(e *audit.DenialEvent) error {
		c.events = append(c.events, e)

		return nil
	}
}

func newTestAPI(t *testing.T, s ratelimit.Store, events *capturedEvents) humatest.TestAPI {
	t.Helper()

	limiter, err := ratelimit.NewLimiter(s, ratelimit.Config{KeyPrefix: "api", MaxRequests: 3, Window: time.Minute})
	require.NoError(t, err)

	publish := messaging.Discard[audit.DenialEvent]()
	if events != nil {
		publish = events.publish()
	}

	recorder := audit.NewRecorder(publish, "test-node", zap.NewNop())

	_, api := humatest.New(t)
	handlers.RegisterRoutes(api, handlers.NewLimitsHandler(limiter, recorder, zap.NewNop()))

	return api
}

func TestLimitsHandler_Check(t *testing.T) {
	t.Run("allows and reports quota", func(t *testing.T) {
		api := newTestAPI(t, store.NewWindowMemoryStore(), nil)

		resp := api.Post("/limits/alice/check")

		require.Equal(t, http.StatusOK, resp.Code)
		assert.Equal(t, "3", resp.Header().Get("X-RateLimit-Limit"))
		assert.Equal(t, "2", resp.Header().Get("X-RateLimit-Remaining"))
		assert.Equal(t, "60", resp.Header().Get("X-RateLimit-Reset"))

		var body map[string]any
		require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &body))
		assert.Equal(t, true, body["allowed"])
		assert.InDelta(t, 2, body["remaining"], 0)
		assert.InDelta(t, 60, body["resetIn"], 0)
	})

	t.Run("denies with 429 and publishes a denial", func(t *testing.T) {
		events := &capturedEvents{}
		api := newTestAPI(t, store.NewWindowMemoryStore(), events)

		for range 3 {
			require.Equal(t, http.StatusOK, api.Post("/limits/alice/check").Code)
		}

		resp := api.Post("/limits/alice/check", "User-Agent: curl/8.5.0")

		require.Equal(t, http.StatusTooManyRequests, resp.Code)
		assert.Equal(t, "0", resp.Header().Get("X-RateLimit-Remaining"))
		assert.Equal(t, "60", resp.Header().Get("Retry-After"))
		assert.Contains(t, resp.Body.String(), "api:alice")

		require.Len(t, events.events, 1)
		assert.Equal(t, "alice", events.events[0].Identifier)
		assert.Equal(t, "api:alice", events.events[0].Key)
		assert.Equal(t, "test-node", events.events[0].Instance)
	})

	t.Run("store failure never allows", func(t *testing.T) {
		api := newTestAPI(t, brokenStore{}, nil)

		resp := api.Post("/limits/alice/check")

		assert.Equal(t, http.StatusServiceUnavailable, resp.Code)
		assert.Empty(t, resp.Header().Get("X-RateLimit-Remaining"))
	})
}

func TestLimitsHandler_Status(t *testing.T) {
	t.Run("fresh identifier has full quota", func(t *testing.T) {
		api := newTestAPI(t, store.NewWindowMemoryStore(), nil)

		resp := api.Get("/limits/bob")

		require.Equal(t, http.StatusOK, resp.Code)

		var body map[string]any
		require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &body))
		assert.Equal(t, "bob", body["identifier"])
		assert.InDelta(t, 3, body["remaining"], 0)
		assert.InDelta(t, -1, body["resetIn"], 0)
	})

	t.Run("does not consume quota", func(t *testing.T) {
		api := newTestAPI(t, store.NewWindowMemoryStore(), nil)

		require.Equal(t, http.StatusOK, api.Post("/limits/bob/check").Code)

		for range 5 {
			resp := api.Get("/limits/bob")
			require.Equal(t, http.StatusOK, resp.Code)
			assert.Contains(t, resp.Body.String(), `"remaining":2`)
		}
	})

	t.Run("store failure is 503", func(t *testing.T) {
		api := newTestAPI(t, brokenStore{}, nil)

		assert.Equal(t, http.StatusServiceUnavailable, api.Get("/limits/bob").Code)
	})
}

func TestRequestMeta(t *testing.T) {
	t.Run("round trips through context", func(t *testing.T) {
		ctx := handlers.ContextWithRequestMeta(context.Background(), handlers.RequestMeta{ClientIP: "10.0.0.1"})

		assert.Equal(t, "10.0.0.1", handlers.RequestMetaFromContext(ctx).ClientIP)
	})

	t.Run("empty when missing", func(t *testing.T) {
		assert.Equal(t, handlers.RequestMeta{}, handlers.RequestMetaFromContext(context.Background()))
	})
}
