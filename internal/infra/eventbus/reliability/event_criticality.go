// Package reliability provides utilities for determining the criticality of events
// within the event messaging system. Event criticality is a classification that helps
// establish appropriate handling, persistence, and delivery guarantees for different
// types of events.
package reliability

import (
	"github.com/ahrav/analysis-armada/internal/domain/analysis"
	"github.com/ahrav/analysis-armada/internal/domain/events"
)

// IsCriticalEvent determines if an event type represents a message that
// must not be dropped on a transient publish failure.
//
// Critical events are terminal state changes that won't be naturally
// retransmitted by subsequent messages.
func IsCriticalEvent(eventType events.EventType) bool {
	switch eventType {
	case analysis.EventTypeTaskFinished:
		return true

	// A missed start or progress update is superseded by later events of the same task.
	case analysis.EventTypeTaskStarted, analysis.EventTypeTaskProgressed:
		return false

	default:
		return false
	}
}
