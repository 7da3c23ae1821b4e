package middleware

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	"github.com/serroba/window-limiter/internal/audit"
	"github.com/serroba/window-limiter/internal/ratelimit"
	"go.uber.org/zap"
)

// Per-client guard headers. They are distinct from the X-RateLimit-* headers
// the decision API uses to report the identifier's own window.
const (
	HeaderClientLimit     = "X-Client-RateLimit-Limit"
	HeaderClientRemaining = "X-Client-RateLimit-Remaining"
	HeaderClientReset     = "X-Client-RateLimit-Reset"
)

// RateLimiter returns a Huma middleware that applies a single fixed window
// per client, keyed by IP and User-Agent.
func RateLimiter(
	api huma.API,
	limiter *ratelimit.Limiter,
	recorder *audit.Recorder,
	logger *zap.Logger,
) func(ctx huma.Context, next func(huma.Context)) {
	return func(ctx huma.Context, next func(huma.Context)) {
		if cfg := ratelimit.GetEndpointConfig(ctx); cfg != nil && cfg.Disabled {
			next(ctx)

			return
		}

		decision, err := limiter.Decide(ctx.Context(), clientKey(ctx))
		if err != nil {
			writeLimiterError(api, ctx, logger, err)

			return
		}

		setRateLimitHeaders(ctx, decision)

		if !decision.Allowed {
			recordDenial(ctx, recorder, "", decision)
			writeTooManyRequests(api, ctx, decision, "rate limit exceeded")

			return
		}

		next(ctx)
	}
}

// clientKey generates a unique key for rate limiting based on IP and User-Agent.
func clientKey(ctx huma.Context) string {
	hash := sha256.Sum256([]byte(clientIP(ctx) + "|" + ctx.Header("User-Agent")))

	return hex.EncodeToString(hash[:])
}

// clientIP extracts the client IP from the request, considering proxies.
func clientIP(ctx huma.Context) string {
	if xff := ctx.Header("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")

		return strings.TrimSpace(first)
	}

	if xri := ctx.Header("X-Real-IP"); xri != "" {
		return xri
	}

	addr := ctx.RemoteAddr()

	ip, _, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}

	return ip
}

// PolicyRateLimiter returns a Huma middleware that applies every window of a
// policy to the scopes resolved for the request.
//
// Operation metadata under ratelimit.MetadataKey can:
//   - disable limiting (Disabled: true)
//   - override scope detection (Scope: ratelimit.ScopeRead)
//   - replace the policy with custom windows (Limits: ...)
//
// A store failure answers 503; requests are never let through unchecked.
func PolicyRateLimiter(
	api huma.API,
	limiter *ratelimit.PolicyLimiter,
	resolver ratelimit.ScopeResolver,
	recorder *audit.Recorder,
	logger *zap.Logger,
) func(ctx huma.Context, next func(huma.Context)) {
	return func(ctx huma.Context, next func(huma.Context)) {
		path := operationPath(ctx)
		key := clientKey(ctx)

		var (
			allowed  bool
			exceeded *ratelimit.LimitExceeded
			err      error
		)

		cfg := ratelimit.GetEndpointConfig(ctx)

		switch {
		case cfg != nil && cfg.Disabled:
			logger.Debug("rate limiting disabled for endpoint",
				zap.String("path", path), zap.String("method", ctx.Method()))
			next(ctx)

			return
		case cfg != nil && len(cfg.Limits) > 0:
			allowed, exceeded, err = limiter.AllowCustom(ctx.Context(), key, path, cfg.Limits)
		default:
			allowed, exceeded, err = limiter.Allow(ctx.Context(), key, resolver.Resolve(ctx))
		}

		if err != nil {
			writeLimiterError(api, ctx, logger, err)

			return
		}

		if !allowed {
			handleRateLimitExceeded(api, ctx, recorder, exceeded, path, logger)

			return
		}

		next(ctx)
	}
}

func operationPath(ctx huma.Context) string {
	if op := ctx.Operation(); op != nil {
		return op.Path
	}

	return ""
}

func handleRateLimitExceeded(
	api huma.API,
	ctx huma.Context,
	recorder *audit.Recorder,
	exceeded *ratelimit.LimitExceeded,
	path string,
	logger *zap.Logger,
) {
	if exceeded == nil || exceeded.Decision == nil {
		_ = huma.WriteErr(api, ctx, http.StatusTooManyRequests, "rate limit exceeded")

		return
	}

	d := exceeded.Decision

	logger.Warn("rate limit exceeded",
		zap.String("path", path),
		zap.String("method", ctx.Method()),
		zap.String("scope", string(exceeded.Scope)),
		zap.Uint64("count", d.Count),
		zap.Uint64("max", exceeded.Config.Max),
		zap.Duration("window", exceeded.Config.Window),
		zap.String("client_ip", clientIP(ctx)),
	)

	recordDenial(ctx, recorder, exceeded.Scope, d)
	setRateLimitHeaders(ctx, d)
	writeTooManyRequests(api, ctx, d, fmt.Sprintf("rate limit exceeded: %s scope, %d/%d requests in %s",
		exceeded.Scope, d.Count, exceeded.Config.Max, exceeded.Config.Window))
}

func recordDenial(ctx huma.Context, recorder *audit.Recorder, scope ratelimit.Scope, d *ratelimit.Decision) {
	if recorder == nil {
		return
	}

	event := audit.NewDenialEvent(clientKey(ctx), scope, d)
	event.ClientIP = clientIP(ctx)
	event.UserAgent = ctx.Header("User-Agent")
	recorder.Record(event)
}

func setRateLimitHeaders(ctx huma.Context, d *ratelimit.Decision) {
	ctx.SetHeader(HeaderClientLimit, strconv.FormatUint(d.Limit, 10))
	ctx.SetHeader(HeaderClientRemaining, strconv.FormatUint(d.Remaining, 10))
	ctx.SetHeader(HeaderClientReset, strconv.FormatInt(max(d.ResetIn, 0), 10))
}

func writeTooManyRequests(api huma.API, ctx huma.Context, d *ratelimit.Decision, msg string) {
	ctx.SetHeader("Retry-After", strconv.FormatInt(max(d.ResetIn, 1), 10))
	_ = huma.WriteErr(api, ctx, http.StatusTooManyRequests, msg)
}

func writeLimiterError(api huma.API, ctx huma.Context, logger *zap.Logger, err error) {
	fields := []zap.Field{zap.String("path", operationPath(ctx)), zap.Error(err)}

	if errors.Is(err, ratelimit.ErrStore) {
		logger.Error("rate limit store unavailable", fields...)
		_ = huma.WriteErr(api, ctx, http.StatusServiceUnavailable, "rate limit store unavailable")

		return
	}

	logger.Error("rate limit check failed", fields...)
	_ = huma.WriteErr(api, ctx, http.StatusInternalServerError, "internal server error")
}
