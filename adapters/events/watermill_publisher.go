package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/layer-3/rendezvous/core"
	"github.com/layer-3/rendezvous/ports"
)

// DefaultTopic receives every session event.
const DefaultTopic = "rendezvous.sessions"

// WatermillPublisher implements the EventPublisher interface using Watermill
type WatermillPublisher struct {
	publisher message.Publisher
	topic     string
}

// NewWatermillPublisher creates a new Watermill publisher
func NewWatermillPublisher(publisher message.Publisher, topic string) *WatermillPublisher {
	if topic == "" {
		topic = DefaultTopic
	}
	return &WatermillPublisher{
		publisher: publisher,
		topic:     topic,
	}
}

var _ ports.EventPublisher = (*WatermillPublisher)(nil)

// PublishSessionEvent publishes a session lifecycle or presence event
func (p *WatermillPublisher) PublishSessionEvent(ctx context.Context, event core.SessionEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	msg := message.NewMessage(watermill.NewUUID(), payload)
	msg.Metadata.Set("type", event.Type)
	msg.SetContext(ctx)

	if err := p.publisher.Publish(p.topic, msg); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}

	return nil
}

// Close closes the underlying publisher
func (p *WatermillPublisher) Close() error {
	return p.publisher.Close()
}
