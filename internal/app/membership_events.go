package app

import (
	"context"

	"github.com/openctemio/groups/pkg/domain/membership"
)

// EventPublisher receives completed transitions. Delivery is fire-and-forget:
// the engine logs publish errors and never fails an operation because of them.
type EventPublisher interface {
	Publish(ctx context.Context, event membership.Event) error
}

// NopPublisher discards events.
type NopPublisher struct{}

// Publish implements EventPublisher.
func (NopPublisher) Publish(context.Context, membership.Event) error { return nil }

// PublisherFunc adapts a function to EventPublisher.
type PublisherFunc func(ctx context.Context, event membership.Event) error

// Publish implements EventPublisher.
func (f PublisherFunc) Publish(ctx context.Context, event membership.Event) error {
	return f(ctx, event)
}
