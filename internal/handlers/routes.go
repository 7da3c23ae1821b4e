package handlers

import (
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/serroba/window-limiter/internal/ratelimit"
)

// RegisterRoutes registers the decision API.
func RegisterRoutes(api huma.API, h *LimitsHandler) {
	huma.Register(api, huma.Operation{
		OperationID: "check-limit",
		Method:      http.MethodPost,
		Path:        "/limits/{identifier}/check",
		Summary:     "Consume one request",
		Description: "Atomically counts one request for the identifier and reports whether it is allowed.",
		Tags:        []string{"Limits"},
		Errors:      []int{http.StatusTooManyRequests, http.StatusServiceUnavailable},
		Metadata: map[string]any{
			ratelimit.MetadataKey: ratelimit.EndpointConfig{Scope: ratelimit.ScopeWrite},
		},
	}, h.Check)

	huma.Register(api, huma.Operation{
		OperationID: "get-limit",
		Method:      http.MethodGet,
		Path:        "/limits/{identifier}",
		Summary:     "Inspect a window",
		Description: "Returns remaining quota and seconds until reset without consuming a request.",
		Tags:        []string{"Limits"},
		Errors:      []int{http.StatusServiceUnavailable},
	}, h.Status)
}
