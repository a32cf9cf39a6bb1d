package analysis

import (
	"time"

	"github.com/google/uuid"

	"github.com/ahrav/analysis-armada/internal/domain/events"
)

// Task lifecycle event types.
const (
	EventTypeTaskStarted    events.EventType = "AnalysisTaskStarted"
	EventTypeTaskProgressed events.EventType = "AnalysisTaskProgressed"
	EventTypeTaskFinished   events.EventType = "AnalysisTaskFinished"
)

// TaskEvent announces a task lifecycle transition. It carries counts rather
// than the full log and results so that events stay small.
type TaskEvent struct {
	Type           events.EventType
	TaskID         uuid.UUID
	Service        string
	ServiceVersion string
	ObjectType     string
	ObjectID       string
	Username       string
	Status         TaskStatus
	ResultCount    int
	ArtifactCount  int
	Timestamp      time.Time
}

// NewTaskEvent summarizes task for an event of the given type.
func NewTaskEvent(typ events.EventType, task *Task) TaskEvent {
	snap := task.Snapshot()
	at := snap.StartDate
	switch {
	case typ == EventTypeTaskFinished && !snap.FinishDate.IsZero():
		at = snap.FinishDate
	case typ == EventTypeTaskProgressed && len(snap.Log) > 0:
		at = snap.Log[len(snap.Log)-1].Timestamp
	}
	if at.IsZero() {
		at = snap.CreatedAt
	}
	return TaskEvent{
		Type:           typ,
		TaskID:         snap.ID,
		Service:        snap.Service,
		ServiceVersion: snap.ServiceVersion,
		ObjectType:     snap.ObjectType,
		ObjectID:       snap.ObjectID,
		Username:       snap.Username,
		Status:         snap.Status,
		ResultCount:    len(snap.Results),
		ArtifactCount:  len(snap.Artifacts),
		Timestamp:      at,
	}
}

func (e TaskEvent) EventType() events.EventType { return e.Type }
func (e TaskEvent) OccurredAt() time.Time        { return e.Timestamp }
