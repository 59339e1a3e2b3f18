package ports

import (
	"context"

	"github.com/layer-3/rendezvous/core"
)

// EventPublisher publishes session events for other consumers
type EventPublisher interface {
	PublishSessionEvent(ctx context.Context, event core.SessionEvent) error
}
