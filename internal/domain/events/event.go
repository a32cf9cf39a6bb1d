package events

import "time"

// EventEnvelope encapsulates all event data flowing through the system, providing
// a standardized format for event processing and distribution.
type EventEnvelope struct {
	// Type identifies the category of this event for routing and handling.
	Type EventType

	// Key enables consistent event routing, typically a business identifier
	// such as the analysed object's ID that events are partitioned by.
	Key string

	// Headers contain metadata key-value pairs attached to the event.
	Headers map[string]string

	// Timestamp records when this event was created.
	Timestamp time.Time

	// Payload contains the actual event data. The concrete type depends on the EventType.
	Payload any
}

// DomainEvent is implemented by payloads that know their own type and time.
type DomainEvent interface {
	EventType() EventType
	OccurredAt() time.Time
}

// NewEnvelope wraps a domain event for publishing.
func NewEnvelope(evt DomainEvent, opts ...PublishOption) EventEnvelope {
	return Apply(EventEnvelope{
		Type:      evt.EventType(),
		Timestamp: evt.OccurredAt(),
		Payload:   evt,
	}, opts...)
}
