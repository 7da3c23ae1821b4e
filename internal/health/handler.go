package health

import (
	"context"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/serroba/window-limiter/internal/ratelimit"
)

const pingTimeout = 2 * time.Second

// Checker defines the interface for checking a dependency.
type Checker interface {
	Ping(ctx context.Context) error
}

// RedisChecker checks the Redis server backing the window counters.
type RedisChecker struct {
	client redis.UniversalClient
}

func NewRedisChecker(client redis.UniversalClient) *RedisChecker {
	return &RedisChecker{client: client}
}

func (r *RedisChecker) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// PostgresChecker checks the audit database.
type PostgresChecker struct {
	pool *pgxpool.Pool
}

func NewPostgresChecker(pool *pgxpool.Pool) *PostgresChecker {
	return &PostgresChecker{pool: pool}
}

func (p *PostgresChecker) Ping(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

// Handler reports the health of the limiter and its dependencies.
// Redis is required; every other check only marks the service degraded.
type Handler struct {
	redis  Checker
	extras map[string]Checker
}

func NewHandler(redis Checker) *Handler {
	return &Handler{redis: redis, extras: map[string]Checker{}}
}

// With registers an optional dependency check under name.
func (h *Handler) With(name string, checker Checker) *Handler {
	h.extras[name] = checker

	return h
}

// Response is the response for health check endpoint.
type Response struct {
	Body struct {
		Status string            `enum:"ok,degraded,unavailable" json:"status"`
		Redis  string            `json:"redis"`
		Checks map[string]string `json:"checks,omitempty"`
	}
}

// Check pings every dependency. The service is unavailable without Redis
// since no decision can be made.
func (h *Handler) Check(ctx context.Context, _ *struct{}) (*Response, error) {
	resp := &Response{}
	resp.Body.Status = "ok"
	resp.Body.Redis = ping(ctx, h.redis)

	if resp.Body.Redis != "healthy" {
		resp.Body.Status = "unavailable"
	}

	for name, checker := range h.extras {
		if resp.Body.Checks == nil {
			resp.Body.Checks = make(map[string]string, len(h.extras))
		}

		resp.Body.Checks[name] = ping(ctx, checker)
		if resp.Body.Checks[name] != "healthy" && resp.Body.Status == "ok" {
			resp.Body.Status = "degraded"
		}
	}

	return resp, nil
}

func ping(ctx context.Context, c Checker) string {
	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()

	if err := c.Ping(ctx); err != nil {
		return "unhealthy"
	}

	return "healthy"
}

// RegisterRoutes registers health check routes. Health checks are never
// rate limited.
func RegisterRoutes(api huma.API, h *Handler) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
		Tags:        []string{"Health"},
		Metadata: map[string]any{
			ratelimit.MetadataKey: ratelimit.EndpointConfig{Disabled: true},
		},
	}, h.Check)
}
