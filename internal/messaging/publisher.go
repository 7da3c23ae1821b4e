package messaging

import (
	"encoding/json"
	"fmt"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
)

// MetadataSource is the message metadata key naming the publishing process.
const MetadataSource = "source"

// Publish is a function that publishes a typed event.
type Publish[T any] func(event *T) error

// NewPublishFunc creates a typed publish function for a topic. Every message
// is stamped with the source so consumers can tell replicas apart.
func NewPublishFunc[T any](publisher message.Publisher, topic, source string) Publish[T] {
	return func(event *T) error {
		payload, err := json.Marshal(event)
		if err != nil {
			return fmt.Errorf("marshal %s event: %w", topic, err)
		}

		msg := message.NewMessage(watermill.NewUUID(), payload)
		if source != "" {
			msg.Metadata.Set(MetadataSource, source)
		}

		if err := publisher.Publish(topic, msg); err != nil {
			return fmt.Errorf("publish %s: %w", topic, err)
		}

		return nil
	}
}

// Discard returns a publish function that drops every event.
func Discard[T any]() Publish[T] {
	return func(*T) error { return nil }
}

// PublisherGroup owns the publisher shared by every typed publish function.
type PublisherGroup struct {
	publisher message.Publisher
	source    string
}

func NewPublisherGroup(publisher message.Publisher, source string) *PublisherGroup {
	return &PublisherGroup{publisher: publisher, source: source}
}

// Publisher returns the underlying message publisher.
func (g *PublisherGroup) Publisher() message.Publisher {
	return g.publisher
}

// Source returns the identifier stamped on published messages.
func (g *PublisherGroup) Source() string {
	return g.source
}

// Shutdown closes the underlying publisher.
func (g *PublisherGroup) Shutdown() error {
	return g.publisher.Close()
}

// PublishFunc binds a typed publish function to the group's publisher.
func PublishFunc[T any](g *PublisherGroup, topic string) Publish[T] {
	return NewPublishFunc[T](g.publisher, topic, g.source)
}
