package analysis

import "time"

// TimeProvider is an interface that provides a Now method to get the current time.
type TimeProvider interface {
	Now() time.Time
}

// Real implementation for production.
type realTimeProvider struct{}

func (r *realTimeProvider) Now() time.Time { return time.Now().UTC() }

// Timeline tracks temporal aspects of an analysis task.
type Timeline struct {
	createdAt    time.Time
	startedAt    time.Time
	finishedAt   time.Time
	timeProvider TimeProvider
}

// NewTimeline creates a new Timeline instance stamped with the creation time.
func NewTimeline(timeProvider TimeProvider) *Timeline {
	return &Timeline{
		createdAt:    timeProvider.Now(),
		timeProvider: timeProvider,
	}
}

// ReconstructTimeline creates a Timeline from persisted data.
func ReconstructTimeline(createdAt, startedAt, finishedAt time.Time) *Timeline {
	return &Timeline{
		createdAt:    createdAt,
		startedAt:    startedAt,
		finishedAt:   finishedAt,
		timeProvider: new(realTimeProvider),
	}
}

// CreatedAt returns the time the task was created.
func (t *Timeline) CreatedAt() time.Time { return t.createdAt }

// StartedAt returns the time the task started.
func (t *Timeline) StartedAt() time.Time { return t.startedAt }

// FinishedAt returns the time the task finished.
func (t *Timeline) FinishedAt() time.Time { return t.finishedAt }

// Now returns the provider's current time.
func (t *Timeline) Now() time.Time { return t.timeProvider.Now() }

// MarkStarted records the start time.
func (t *Timeline) MarkStarted() { t.startedAt = t.timeProvider.Now() }

// MarkFinished records the finish time.
func (t *Timeline) MarkFinished() { t.finishedAt = t.timeProvider.Now() }

// IsFinished checks if the timeline has been marked as finished.
func (t *Timeline) IsFinished() bool { return !t.finishedAt.IsZero() }
