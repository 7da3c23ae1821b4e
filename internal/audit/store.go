package audit

import (
	"context"

	"github.com/serroba/window-limiter/internal/messaging"
)

// Store persists denial events.
type Store interface {
	SaveDenial(ctx context.Context, event *DenialEvent) error
}

// NewDenialHandler returns the consumer handler that persists each event.
func NewDenialHandler(store Store) messaging.Handler[DenialEvent] {
	return func(ctx context.Context, event *DenialEvent) error {
		return store.SaveDenial(ctx, event)
	}
}
