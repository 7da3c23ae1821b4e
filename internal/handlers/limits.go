package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/danielgtaylor/huma/v2"
	"github.com/serroba/window-limiter/internal/audit"
	"github.com/serroba/window-limiter/internal/ratelimit"
	"go.uber.org/zap"
)

// LimitsHandler exposes a fixed-window limiter over HTTP.
type LimitsHandler struct {
	limiter  *ratelimit.Limiter
	recorder *audit.Recorder
	logger   *zap.Logger
}

// NewLimitsHandler creates the handler for the decision API.
func NewLimitsHandler(limiter *ratelimit.Limiter, recorder *audit.Recorder, logger *zap.Logger) *LimitsHandler {
	return &LimitsHandler{
		limiter:  limiter,
		recorder: recorder,
		logger:   logger,
	}
}

// Check consumes one request for the identifier. A denial answers 429 with
// Retry-After; an unreachable store answers 503 and never allows.
func (h *LimitsHandler) Check(ctx context.Context, req *CheckRequest) (*CheckResponse, error) {
	decision, err := h.limiter.Decide(ctx, req.Identifier)
	if err != nil {
		return nil, h.mapError(req.Identifier, err)
	}

	headers := decisionHeaders(decision)

	if !decision.Allowed {
		meta := RequestMetaFromContext(ctx)
		event := audit.NewDenialEvent(req.Identifier, "", decision)
		event.ClientIP = meta.ClientIP
		event.UserAgent = meta.UserAgent
		h.recorder.Record(event)

		h.logger.Info("rate limit exceeded",
			zap.String("key", decision.Key),
			zap.Uint64("count", decision.Count),
			zap.Int64("reset_in", decision.ResetIn),
		)

		exceeded := &ratelimit.ExceededError{Decision: decision}

		return nil, huma.ErrorWithHeaders(
			huma.Error429TooManyRequests(exceeded.Error()),
			toHTTPHeader(headers, decision),
		)
	}

	resp := &CheckResponse{RateLimitHeaders: headers}
	resp.Body.Allowed = true
	resp.Body.Limit = decision.Limit
	resp.Body.Remaining = decision.Remaining
	resp.Body.ResetIn = decision.ResetIn

	return resp, nil
}

// Status reports the identifier's window without consuming quota.
func (h *LimitsHandler) Status(ctx context.Context, req *StatusRequest) (*StatusResponse, error) {
	remaining, err := h.limiter.Remaining(ctx, req.Identifier)
	if err != nil {
		return nil, h.mapError(req.Identifier, err)
	}

	resetIn, err := h.limiter.TimeRemaining(ctx, req.Identifier)
	if err != nil {
		return nil, h.mapError(req.Identifier, err)
	}

	resp := &StatusResponse{}
	resp.Body.Identifier = req.Identifier
	resp.Body.Limit = h.limiter.Config().MaxRequests
	resp.Body.Remaining = remaining
	resp.Body.ResetIn = resetIn

	return resp, nil
}

func (h *LimitsHandler) mapError(identifier string, err error) error {
	switch {
	case errors.Is(err, ratelimit.ErrInvalidIdentifier):
		return huma.Error400BadRequest(err.Error())
	case errors.Is(err, ratelimit.ErrStore):
		h.logger.Error("rate limit store unavailable",
			zap.String("identifier", identifier),
			zap.Error(err),
		)

		return huma.Error503ServiceUnavailable("rate limit store unavailable")
	default:
		h.logger.Error("rate limit check failed", zap.String("identifier", identifier), zap.Error(err))

		return huma.Error500InternalServerError("rate limit check failed")
	}
}

func decisionHeaders(d *ratelimit.Decision) RateLimitHeaders {
	return RateLimitHeaders{
		Limit:     strconv.FormatUint(d.Limit, 10),
		Remaining: strconv.FormatUint(d.Remaining, 10),
		Reset:     strconv.FormatInt(max(d.ResetIn, 0), 10),
	}
}

func toHTTPHeader(h RateLimitHeaders, d *ratelimit.Decision) http.Header {
	out := http.Header{}
	out.Set("X-RateLimit-Limit", h.Limit)
	out.Set("X-RateLimit-Remaining", h.Remaining)
	out.Set("X-RateLimit-Reset", h.Reset)
	out.Set("Retry-After", strconv.FormatInt(max(d.ResetIn, 1), 10))

	return out
}
