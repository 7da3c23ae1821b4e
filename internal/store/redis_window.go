package store

import (
	"context"
	_ "embed"
	"errors"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/serroba/window-limiter/internal/ratelimit"
	"go.uber.org/zap"
)

//go:embed fixed_window.lua
var fixedWindowSource string

var fixedWindowScript = redis.NewScript(fixedWindowSource)

// RedisWindowStore is a Redis implementation of ratelimit.Store.
// Evaluation runs as a single Lua script, so it is atomic across every
// process sharing the Redis server.
type RedisWindowStore struct {
	client redis.UniversalClient
}

// NewRedisWindowStore creates a new Redis-backed window store.
func NewRedisWindowStore(client redis.UniversalClient) *RedisWindowStore {
	return &RedisWindowStore{client: client}
}

// Load caches the evaluation script on the server ahead of the first request.
func (s *RedisWindowStore) Load(ctx context.Context) error {
	return fixedWindowScript.Load(ctx, s.client).Err()
}

func (s *RedisWindowStore) Evaluate(
	ctx context.Context,
	key string,
	maxRequests uint64,
	windowSeconds int64,
) (ratelimit.EvalResult, error) {
	vals, err := fixedWindowScript.Run(ctx, s.client, []string{key}, maxRequests, windowSeconds).Int64Slice()
	if err != nil {
		return ratelimit.EvalResult{}, err
	}

	if len(vals) != 3 {
		return ratelimit.EvalResult{}, errUnexpectedReply
	}

	ttl := vals[2]
	if ttl < 0 {
		ttl = ratelimit.NoWindow
	}

	return ratelimit.EvalResult{
		Allowed: vals[0] == 1,
		Count:   uint64(max(vals[1], 0)),
		TTL:     ttl,
	}, nil
}

func (s *RedisWindowStore) Count(ctx context.Context, key string) (uint64, error) {
	count, err := s.client.Get(ctx, key).Uint64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}

		return 0, err
	}

	return count, nil
}

func (s *RedisWindowStore) TTL(ctx context.Context, key string) (int64, error) {
	ttl, err := s.client.TTL(ctx, key).Result()
	if err != nil {
		return 0, err
	}

	// go-redis reports the -1 and -2 markers unscaled.
	if ttl < 0 {
		return ratelimit.NoWindow, nil
	}

	return int64(ttl / time.Second), nil
}

var errUnexpectedReply = errors.New("unexpected reply from fixed window script")

// NewRedisOptions accepts either a redis:// URL or a bare host:port.
func NewRedisOptions(address string) (*redis.Options, error) {
	if strings.Contains(address, "://") {
		return redis.ParseURL(address)
	}

	return &redis.Options{Addr: address}, nil
}

// NewRedisLimiter connects to Redis, verifies it is reachable, loads the
// evaluation script and returns a limiter over it. The caller owns the
// returned client and must close it.
func NewRedisLimiter(
	ctx context.Context,
	address string,
	cfg ratelimit.Config,
	logger *zap.Logger,
) (*ratelimit.Limiter, *redis.Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}

	opts, err := NewRedisOptions(address)
	if err != nil {
		return nil, nil, &ratelimit.StoreError{Op: "connect", Err: err}
	}

	client := redis.NewClient(opts)

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()

		return nil, nil, &ratelimit.StoreError{Op: "connect", Err: err}
	}

	windows := NewRedisWindowStore(client)
	if err := windows.Load(ctx); err != nil {
		_ = client.Close()

		return nil, nil, &ratelimit.StoreError{Op: "load script", Err: err}
	}

	limiter, err := ratelimit.NewLimiter(windows, cfg)
	if err != nil {
		_ = client.Close()

		return nil, nil, err
	}

	logger.Info("connected rate limiter to redis",
		zap.String("addr", opts.Addr),
		zap.String("prefix", cfg.KeyPrefix),
		zap.Uint64("max_requests", cfg.MaxRequests),
		zap.Duration("window", cfg.Window),
	)

	return limiter, client, nil
}
