package analysis

import (
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
)

// TaskSnapshot is the persisted form of a task. Destinations store it as the
// analysis result of the target object, and process-mode workers stream it
// back to the parent.
type TaskSnapshot struct {
	ID             uuid.UUID  `json:"id"`
	ObjectType     string     `json:"object_type"`
	ObjectID       string     `json:"object_id"`
	Service        string     `json:"service"`
	ServiceVersion string     `json:"service_version"`
	Username       string     `json:"username"`
	Config         Config     `json:"config,omitempty"`
	Status         TaskStatus `json:"status"`
	CreatedAt      time.Time  `json:"created_at"`
	StartDate      time.Time  `json:"start_date"`
	FinishDate     time.Time  `json:"finish_date"`
	Log            []LogEntry `json:"log"`
	Results        []Result   `json:"results"`
	Artifacts      []Artifact `json:"artifacts,omitempty"`
}

// Snapshot returns a consistent copy of the task's state.
func (t *Task) Snapshot() TaskSnapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var artifacts []Artifact
	for _, k := range []ArtifactKind{ArtifactSample, ArtifactCertificate, ArtifactPCAP} {
		artifacts = append(artifacts, t.artifacts[k]...)
	}

	return TaskSnapshot{
		ID:             t.id,
		ObjectType:     t.objectType,
		ObjectID:       t.objectID,
		Service:        t.service,
		ServiceVersion: t.serviceVersion,
		Username:       t.username,
		Config:         t.config.Clone(),
		Status:         t.status,
		CreatedAt:      t.timeline.CreatedAt(),
		StartDate:      t.timeline.StartedAt(),
		FinishDate:     t.timeline.FinishedAt(),
		Log:            slices.Clone(t.log),
		Results:        slices.Clone(t.results),
		Artifacts:      artifacts,
	}
}

// RestoreTask rebuilds a Task from a snapshot without enforcing creation-time
// invariants. This should only be used by repositories and the worker protocol.
func RestoreTask(s TaskSnapshot) (*Task, error) {
	if !s.Status.IsValid() {
		return nil, fmt.Errorf("%w: %q", ErrTaskStatusUnknown, s.Status)
	}

	t := &Task{
		id:             s.ID,
		objectType:     s.ObjectType,
		objectID:       s.ObjectID,
		service:        s.Service,
		serviceVersion: s.ServiceVersion,
		username:       s.Username,
		config:         s.Config.Clone(),
		status:         s.Status,
		timeline:       ReconstructTimeline(s.CreatedAt, s.StartDate, s.FinishDate),
		log:            slices.Clone(s.Log),
		results:        slices.Clone(s.Results),
		artifacts:      make(map[ArtifactKind][]Artifact),
	}
	for _, a := range s.Artifacts {
		if !a.Kind.IsValid() {
			return nil, fmt.Errorf("unknown artifact kind %q", a.Kind)
		}
		t.artifacts[a.Kind] = append(t.artifacts[a.Kind], a)
	}
	return t, nil
}

// ApplySnapshot replaces the mutable state of t with that of s. It is used by
// the parent side of a process-mode run to mirror the worker's task. The
// snapshot must describe the same task.
func (t *Task) ApplySnapshot(s TaskSnapshot) error {
	if s.ID != t.id {
		return fmt.Errorf("snapshot for task %s applied to task %s", s.ID, t.id)
	}
	restored, err := RestoreTask(s)
	if err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.status = restored.status
	t.timeline = ReconstructTimeline(t.timeline.CreatedAt(), s.StartDate, s.FinishDate)
	t.log = restored.log
	t.results = restored.results
	t.artifacts = restored.artifacts
	return nil
}
