package audit

import (
	"github.com/serroba/window-limiter/internal/messaging"
	"go.uber.org/zap"
)

// Recorder publishes denial events on a best-effort basis. A failed publish
// is logged and never affects the rate limit decision.
type Recorder struct {
	publish  messaging.Publish[DenialEvent]
	instance string
	logger   *zap.Logger
}

// NewRecorder creates a recorder that stamps every event with instance before
// publishing it.
func NewRecorder(publish messaging.Publish[DenialEvent], instance string, logger *zap.Logger) *Recorder {
	return &Recorder{
		publish:  publish,
		instance: instance,
		logger:   logger,
	}
}

// Record stamps the event with this instance and publishes it.
func (r *Recorder) Record(event *DenialEvent) {
	event.Instance = r.instance

	if err := r.publish(event); err != nil {
		r.logger.Error("failed to publish denial event",
			zap.String("key", event.Key),
			zap.Error(err),
		)
	}
}
