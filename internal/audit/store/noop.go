package store

import (
	"context"

	"github.com/serroba/window-limiter/internal/audit"
	"go.uber.org/zap"
)

// Noop is an audit.Store that only logs the events it receives.
type Noop struct {
	logger *zap.Logger
}

// NewNoop creates a store that only logs denials.
func NewNoop(logger *zap.Logger) *Noop {
	return &Noop{logger: logger}
}

// SaveDenial logs the event and never fails.
func (n *Noop) SaveDenial(_ context.Context, event *audit.DenialEvent) error {
	n.logger.Info("denial event received",
		zap.String("identifier", event.Identifier),
		zap.String("key", event.Key),
		zap.String("scope", event.Scope),
		zap.Uint64("count", event.Count),
		zap.Uint64("limit", event.Limit),
		zap.String("instance", event.Instance),
		zap.Time("deniedAt", event.DeniedAt),
	)

	return nil
}
