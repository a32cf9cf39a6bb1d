// Package memory provides an in-memory implementation of the event bus.
// It offers a lightweight, non-persistent bus suitable for testing and
// single-process deployments where durability is not required.
package memory

import (
	"context"
	"errors"
	"slices"
	"sync"

	"github.com/ahrav/analysis-armada/internal/domain/events"
)

// ErrClosed is returned by operations on a closed bus.
var ErrClosed = errors.New("event bus closed")

var _ events.EventBus = (*Bus)(nil)

type subscription struct {
	id      uint64
	types   []events.EventType
	handler events.HandlerFunc
}

// Bus delivers published events synchronously to every matching subscriber.
type Bus struct {
	mu     sync.RWMutex
	nextID uint64
	subs   []subscription
	closed bool
}

// NewBus creates an empty in-memory bus.
func NewBus() *Bus { return new(Bus) }

// Subscribe registers handler for the given event types until ctx is canceled.
// An empty eventTypes subscribes to everything.
func (b *Bus) Subscribe(ctx context.Context, eventTypes []events.EventType, handler events.HandlerFunc) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if handler == nil {
		return errors.New("handler cannot be nil")
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return ErrClosed
	}
	b.nextID++
	id := b.nextID
	b.subs = append(b.subs, subscription{id: id, types: slices.Clone(eventTypes), handler: handler})
	b.mu.Unlock()

	if ctx.Done() != nil {
		go func() {
			<-ctx.Done()
			b.unsubscribe(id)
		}()
	}
	return nil
}

func (b *Bus) unsubscribe(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs = slices.DeleteFunc(b.subs, func(s subscription) bool { return s.id == id })
}

// Publish hands event to each matching handler, stopping at the first error.
// The handlers are copied before iteration so handlers may subscribe or publish.
func (b *Bus) Publish(ctx context.Context, event events.EventEnvelope, opts ...events.PublishOption) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	event = events.Apply(event, opts...)

	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return ErrClosed
	}
	var handlers []events.HandlerFunc
	for _, s := range b.subs {
		if len(s.types) == 0 || slices.Contains(s.types, event.Type) {
			handlers = append(handlers, s.handler)
		}
	}
	b.mu.RUnlock()

	for _, h := range handlers {
		if err := h(ctx, event); err != nil {
			return err
		}
	}
	return nil
}

// Close drops all subscriptions. Later calls are rejected with ErrClosed.
func (b *Bus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	b.subs = nil
	return nil
}
