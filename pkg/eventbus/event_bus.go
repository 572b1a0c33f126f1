// Package eventbus provides event-driven communication infrastructure for the automation engine.
package eventbus

import (
	"context"

	"github.com/dukex/fieldflow/pkg/events"
)

type Event interface {
	GetType() events.EventType
}

type EventPublisher interface {
	Publish(ctx context.Context, key string, event Event) error
}

type EventSubscriber interface {
	Handle(eventType events.EventType, handler EventHandler) error
	// Subscribe delivers messages to the registered handlers until ctx is cancelled.
	// The returned channel is closed once the last delivered message has been handled.
	Subscribe(ctx context.Context) (<-chan struct{}, error)
}

type EventHandler func(ctx context.Context, event any) error

type EventBus interface {
	EventPublisher
	EventSubscriber
	Close() error
	GenerateID() string
}
