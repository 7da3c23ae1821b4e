package audit

import (
	"time"

	"github.com/serroba/window-limiter/internal/ratelimit"
)

// TopicDenied carries one DenialEvent per rejected request.
const TopicDenied = "ratelimit.denied"

// DenialEvent records a request rejected by a fixed window.
type DenialEvent struct {
	Identifier string    `json:"identifier"`
	Key        string    `json:"key"`
	Scope      string    `json:"scope,omitempty"`
	Count      uint64    `json:"count"`
	Limit      uint64    `json:"limit"`
	ResetIn    int64     `json:"resetIn"`
	ClientIP   string    `json:"clientIp,omitempty"`
	UserAgent  string    `json:"userAgent,omitempty"`
	Instance   string    `json:"instance"`
	DeniedAt   time.Time `json:"deniedAt"`
}

// NewDenialEvent builds an event from a denied decision.
func NewDenialEvent(identifier string, scope ratelimit.Scope, d *ratelimit.Decision) *DenialEvent {
	return &DenialEvent{
		Identifier: identifier,
		Key:        d.Key,
		Scope:      string(scope),
		Count:      d.Count,
		Limit:      d.Limit,
		ResetIn:    d.ResetIn,
		DeniedAt:   time.Now().UTC(),
	}
}
