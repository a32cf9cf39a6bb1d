// Package events provides domain event handling capabilities for communicating state changes
// and important activities across system boundaries in a decoupled way.
package events

import "context"

// HandlerFunc processes one event delivered by an EventBus.
type HandlerFunc func(ctx context.Context, evt EventEnvelope) error

// EventPublisher publishes events to interested subscribers. It provides a
// technology-agnostic interface to decouple event producers from the
// underlying messaging infrastructure.
type EventPublisher interface {
	// Publish sends an event. Optional PublishOptions configure routing behavior.
	Publish(ctx context.Context, event EventEnvelope, opts ...PublishOption) error
}

// EventBus enables publishing and subscribing to domain events across system boundaries.
type EventBus interface {
	EventPublisher

	// Subscribe registers a handler function to process events of specified types.
	// The subscription ends when ctx is canceled.
	Subscribe(ctx context.Context, eventTypes []EventType, handler HandlerFunc) error

	// Close gracefully shuts down the event bus and releases associated resources.
	Close() error
}
