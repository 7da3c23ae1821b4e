package container

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ThreeDotsLabs/watermill-redisstream/pkg/redisstream"
	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	_ "github.com/danielgtaylor/huma/v2/formats/cbor" // CBOR format support for huma
	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jaevor/go-nanoid"
	"github.com/redis/go-redis/v9"
	"github.com/samber/do"
	"github.com/serroba/window-limiter/internal/audit"
	auditstore "github.com/serroba/window-limiter/internal/audit/store"
	"github.com/serroba/window-limiter/internal/handlers"
	"github.com/serroba/window-limiter/internal/health"
	"github.com/serroba/window-limiter/internal/messaging"
	"github.com/serroba/window-limiter/internal/middleware"
	"github.com/serroba/window-limiter/internal/ratelimit"
	"github.com/serroba/window-limiter/internal/store"
	"go.uber.org/zap"
)

// InstanceID names the per-process identifier stamped on published events.
const InstanceID = "instance-id"

const (
	connectTimeout   = 5 * time.Second
	instanceIDLength = 12
)

type Options struct {
	Port                 int    `default:"8888"            help:"Port to listen on"                                  short:"p"`
	RedisAddr            string `default:"localhost:6379"  help:"Redis address or redis:// URL"                      short:"r"`
	KeyPrefix            string `default:"ratelimit"       help:"Namespace for window keys"                          short:"k"`
	MaxRequests          int    `default:"100"             help:"Requests allowed per identifier per window"         short:"m"`
	WindowSeconds        int    `default:"60"              help:"Window length in seconds"                           short:"w"`
	APIRequestsPerMinute int    `default:"600"             help:"Per-client requests per minute on the API, 0 disables"`
	ClientKeyPrefix      string `default:"ratelimit-client" help:"Namespace for per-client API windows, disjoint from key-prefix"`
	PolicyFile           string `help:"YAML policy guarding the API per client"`
	DatabaseURL          string `help:"PostgreSQL URL for the denial audit log"`
	LogFormat            string `default:"json"            help:"Log format: json or console"`
	ConsumerGroup        string `default:"ratelimit-audit" help:"Redis stream consumer group for denial events"`
}

// LimiterConfig is the configuration of the decision API's limiter.
func (o *Options) LimiterConfig() ratelimit.Config {
	return ratelimit.Config{
		KeyPrefix:   o.KeyPrefix,
		MaxRequests: uint64(max(o.MaxRequests, 0)),
		Window:      time.Duration(o.WindowSeconds) * time.Second,
	}
}

// ClientLimiterConfig is the per-client window used when no policy file is given.
func (o *Options) ClientLimiterConfig() ratelimit.Config {
	return ratelimit.Config{
		KeyPrefix:   o.ClientKeyPrefix,
		MaxRequests: uint64(max(o.APIRequestsPerMinute, 0)),
		Window:      time.Minute,
	}
}

// checkNamespace rejects a guard prefix whose window keys could be reached
// through the decision API's "{KeyPrefix}:{identifier}" keys.
func (o *Options) checkNamespace(prefix string) error {
	if ratelimit.PrefixesOverlap(o.KeyPrefix, prefix) {
		return fmt.Errorf("%w: prefix %q overlaps key prefix %q", ratelimit.ErrInvalidConfig, prefix, o.KeyPrefix)
	}

	return nil
}

// RedisClient closes the wrapped client on injector shutdown. The stream
// publisher and subscriber may have closed it already.
type RedisClient struct {
	*redis.Client
}

func (c *RedisClient) Shutdown() error {
	if err := c.Close(); err != nil && !errors.Is(err, redis.ErrClosed) {
		return err
	}

	return nil
}

// PostgresPool closes the wrapped pool on injector shutdown.
type PostgresPool struct {
	*pgxpool.Pool
}

func (p *PostgresPool) Shutdown() error {
	p.Close()

	return nil
}

func LoggerPackage(i *do.Injector) {
	do.Provide(i, func(i *do.Injector) (*zap.Logger, error) {
		opts := do.MustInvoke[*Options](i)

		if opts.LogFormat == "console" {
			return zap.NewDevelopment()
		}

		return zap.NewProduction()
	})
}

func RedisPackage(i *do.Injector) {
	do.Provide(i, func(i *do.Injector) (*RedisClient, error) {
		opts := do.MustInvoke[*Options](i)
		logger := do.MustInvoke[*zap.Logger](i)

		redisOpts, err := store.NewRedisOptions(opts.RedisAddr)
		if err != nil {
			return nil, fmt.Errorf("parse redis address: %w", err)
		}

		client := redis.NewClient(redisOpts)

		ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
		defer cancel()

		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()

			return nil, fmt.Errorf("connect to redis at %s: %w", redisOpts.Addr, err)
		}

		logger.Info("connected to redis", zap.String("addr", redisOpts.Addr))

		return &RedisClient{Client: client}, nil
	})
}

// PostgresPackage provides the audit database pool. It is only invoked when
// a database URL is configured.
func PostgresPackage(i *do.Injector) {
	do.Provide(i, func(i *do.Injector) (*PostgresPool, error) {
		opts := do.MustInvoke[*Options](i)

		ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
		defer cancel()

		pool, err := pgxpool.New(ctx, opts.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("create postgres pool: %w", err)
		}

		if err := pool.Ping(ctx); err != nil {
			pool.Close()

			return nil, fmt.Errorf("connect to postgres: %w", err)
		}

		return &PostgresPool{Pool: pool}, nil
	})
}

func RateLimitPackage(i *do.Injector) {
	do.Provide(i, func(i *do.Injector) (*store.RedisWindowStore, error) {
		client := do.MustInvoke[*RedisClient](i)
		windows := store.NewRedisWindowStore(client.Client)

		ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
		defer cancel()

		if err := windows.Load(ctx); err != nil {
			return nil, &ratelimit.StoreError{Op: "load script", Err: err}
		}

		return windows, nil
	})

	do.Provide(i, func(i *do.Injector) (*ratelimit.Limiter, error) {
		opts := do.MustInvoke[*Options](i)
		windows := do.MustInvoke[*store.RedisWindowStore](i)

		return ratelimit.NewLimiter(windows, opts.LimiterConfig())
	})

	do.Provide(i, func(i *do.Injector) (*ratelimit.PolicyLimiter, error) {
		opts := do.MustInvoke[*Options](i)
		windows := do.MustInvoke[*store.RedisWindowStore](i)

		policy, err := ratelimit.LoadPolicyFile(opts.PolicyFile)
		if err != nil {
			return nil, err
		}

		return ratelimit.NewPolicyLimiter(windows, policy)
	})
}

func PublisherGroupPackage(i *do.Injector) {
	do.ProvideNamed(i, InstanceID, func(_ *do.Injector) (string, error) {
		generate, err := nanoid.Standard(instanceIDLength)
		if err != nil {
			return "", fmt.Errorf("create instance id generator: %w", err)
		}

		return generate(), nil
	})

	do.Provide(i, func(i *do.Injector) (*messaging.PublisherGroup, error) {
		client := do.MustInvoke[*RedisClient](i)
		logger := do.MustInvoke[*zap.Logger](i)

		publisher, err := redisstream.NewPublisher(
			redisstream.PublisherConfig{
				Client:     client.Client,
				Marshaller: redisstream.DefaultMarshallerUnmarshaller{},
			},
			messaging.NewZapLogger(logger),
		)
		if err != nil {
			return nil, fmt.Errorf("create redis stream publisher: %w", err)
		}

		return messaging.NewPublisherGroup(publisher, do.MustInvokeNamed[string](i, InstanceID)), nil
	})

	do.Provide(i, func(i *do.Injector) (*audit.Recorder, error) {
		group := do.MustInvoke[*messaging.PublisherGroup](i)
		logger := do.MustInvoke[*zap.Logger](i)

		publish := messaging.PublishFunc[audit.DenialEvent](group, audit.TopicDenied)

		return audit.NewRecorder(publish, group.Source(), logger), nil
	})
}

func ConsumerGroupPackage(i *do.Injector) {
	do.Provide(i, func(i *do.Injector) (audit.Store, error) {
		opts := do.MustInvoke[*Options](i)
		logger := do.MustInvoke[*zap.Logger](i)

		if opts.DatabaseURL == "" {
			logger.Warn("no database configured, denials will only be logged")

			return auditstore.NewNoop(logger), nil
		}

		pool := do.MustInvoke[*PostgresPool](i)
		denials := store.NewPostgresAuditStore(pool.Pool)

		ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
		defer cancel()

		if err := denials.EnsureSchema(ctx); err != nil {
			return nil, fmt.Errorf("ensure audit schema: %w", err)
		}

		return denials, nil
	})

	do.Provide(i, func(i *do.Injector) (*messaging.ConsumerGroup, error) {
		opts := do.MustInvoke[*Options](i)
		client := do.MustInvoke[*RedisClient](i)
		logger := do.MustInvoke[*zap.Logger](i)
		denials := do.MustInvoke[audit.Store](i)

		subscriber, err := redisstream.NewSubscriber(
			redisstream.SubscriberConfig{
				Client:        client.Client,
				Unmarshaller:  redisstream.DefaultMarshallerUnmarshaller{},
				ConsumerGroup: opts.ConsumerGroup,
			},
			messaging.NewZapLogger(logger),
		)
		if err != nil {
			return nil, fmt.Errorf("create redis stream subscriber: %w", err)
		}

		group := messaging.NewConsumerGroup(subscriber, logger)
		group.Add(messaging.NewConsumer(subscriber, audit.TopicDenied, audit.NewDenialHandler(denials), logger))

		return group, nil
	})
}

// HTTPPackage provides the router and the API. Invoking huma.API registers
// every route and middleware.
func HTTPPackage(i *do.Injector) {
	do.Provide(i, func(_ *do.Injector) (*chi.Mux, error) {
		return chi.NewMux(), nil
	})

	do.Provide(i, func(i *do.Injector) (huma.API, error) {
		opts := do.MustInvoke[*Options](i)
		router := do.MustInvoke[*chi.Mux](i)
		logger := do.MustInvoke[*zap.Logger](i)
		limiter := do.MustInvoke[*ratelimit.Limiter](i)
		recorder := do.MustInvoke[*audit.Recorder](i)
		client := do.MustInvoke[*RedisClient](i)

		api := humachi.New(router, huma.DefaultConfig("Window Limiter", "1.0.0"))
		api.UseMiddleware(middleware.RequestMeta(api))

		guard, err := clientGuard(i, api, opts, recorder, logger)
		if err != nil {
			return nil, err
		}

		if guard != nil {
			api.UseMiddleware(guard)
		}

		healthHandler := health.NewHandler(health.NewRedisChecker(client.Client))
		if opts.DatabaseURL != "" {
			pool := do.MustInvoke[*PostgresPool](i)
			healthHandler = healthHandler.With("postgres", health.NewPostgresChecker(pool.Pool))
		}

		handlers.RegisterRoutes(api, handlers.NewLimitsHandler(limiter, recorder, logger))
		health.RegisterRoutes(api, healthHandler)

		return api, nil
	})
}

// clientGuard picks the per-client middleware: the policy limiter when a
// policy file is set, a single window otherwise, nothing when disabled.
func clientGuard(
	i *do.Injector,
	api huma.API,
	opts *Options,
	recorder *audit.Recorder,
	logger *zap.Logger,
) (func(ctx huma.Context, next func(huma.Context)), error) {
	if opts.PolicyFile != "" {
		policyLimiter, err := do.Invoke[*ratelimit.PolicyLimiter](i)
		if err != nil {
			return nil, err
		}

		if err := opts.checkNamespace(policyLimiter.Policy().KeyPrefix); err != nil {
			return nil, err
		}

		logger.Info("guarding api with policy", zap.String("file", opts.PolicyFile))

		return middleware.PolicyRateLimiter(api, policyLimiter, ratelimit.NewOperationScopeResolver(), recorder, logger), nil
	}

	if opts.APIRequestsPerMinute <= 0 {
		logger.Warn("per-client api limiting disabled")

		return nil, nil
	}

	if err := opts.checkNamespace(opts.ClientKeyPrefix); err != nil {
		return nil, err
	}

	windows := do.MustInvoke[*store.RedisWindowStore](i)

	limiter, err := ratelimit.NewLimiter(windows, opts.ClientLimiterConfig())
	if err != nil {
		return nil, err
	}

	return middleware.RateLimiter(api, limiter, recorder, logger), nil
}
