package analysis

import (
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
)

// LogLevel is the severity of a task log entry.
type LogLevel string

const (
	LogDebug    LogLevel = "debug"
	LogInfo     LogLevel = "info"
	LogWarning  LogLevel = "warning"
	LogError    LogLevel = "error"
	LogCritical LogLevel = "critical"
)

// LogEntry is a single timestamped message appended by a running service.
type LogEntry struct {
	Level     LogLevel  `json:"level"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// Result is a structured finding produced by a service.
type Result struct {
	Subtype   string         `json:"subtype"`
	Result    string         `json:"result"`
	Data      map[string]any `json:"data,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// ArtifactKind identifies the bucket a queued artifact belongs to.
type ArtifactKind string

const (
	ArtifactSample      ArtifactKind = "Sample"
	ArtifactCertificate ArtifactKind = "Certificate"
	ArtifactPCAP        ArtifactKind = "PCAP"
)

// IsValid reports whether k is a known artifact kind.
func (k ArtifactKind) IsValid() bool {
	return k == ArtifactSample || k == ArtifactCertificate || k == ArtifactPCAP
}

// Artifact is a newly discovered object queued by a service. It only becomes
// visible to the rest of the system when the finished task reaches the destination.
type Artifact struct {
	Kind         ArtifactKind `json:"kind"`
	Filename     string       `json:"filename"`
	Data         []byte       `json:"data"`
	MD5          string       `json:"md5"`
	SHA256       string       `json:"sha256"`
	LogMessage   string       `json:"log_message,omitempty"`
	Relationship string       `json:"relationship"`
}

// Task is one execution of a service against one object. It owns the run's
// status, log, results and queued artifacts. Appends come from the single
// owning Execution; readers such as destination pollers may observe it
// concurrently.
type Task struct {
	mu sync.RWMutex

	id             uuid.UUID
	objectType     string
	objectID       string
	service        string
	serviceVersion string
	username       string
	config         Config
	target         Object

	status   TaskStatus
	timeline *Timeline

	log       []LogEntry
	results   []Result
	artifacts map[ArtifactKind][]Artifact
}

// TaskOption defines functional options for configuring a new Task.
type TaskOption func(*Task)

// WithTimeProvider sets a custom time provider for the task.
func WithTimeProvider(tp TimeProvider) TaskOption {
	return func(t *Task) { t.timeline = NewTimeline(tp) }
}

// WithTaskID overrides the generated task identifier.
func WithTaskID(id uuid.UUID) TaskOption {
	return func(t *Task) { t.id = id }
}

// WithTaskConfig records the (public) configuration the run used.
func WithTaskConfig(cfg Config) TaskOption {
	return func(t *Task) { t.config = cfg.Clone() }
}

// NewTask creates a task in the created state for running def against obj.
func NewTask(def Definition, obj Object, username string, opts ...TaskOption) *Task {
	t := &Task{
		id:             uuid.New(),
		objectType:     obj.Type(),
		objectID:       obj.ID(),
		service:        def.Name,
		serviceVersion: def.Version,
		username:       username,
		target:         obj,
		status:         TaskStatusCreated,
		timeline:       NewTimeline(new(realTimeProvider)),
		artifacts:      make(map[ArtifactKind][]Artifact),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

func (t *Task) ID() uuid.UUID          { return t.id }
func (t *Task) ObjectType() string     { return t.objectType }
func (t *Task) ObjectID() string       { return t.objectID }
func (t *Task) Service() string        { return t.service }
func (t *Task) ServiceVersion() string { return t.serviceVersion }
func (t *Task) Username() string       { return t.username }

// Target returns the object under analysis. Restored tasks have no target
// until one is attached.
func (t *Task) Target() Object {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.target
}

// AttachTarget binds obj to a restored task.
func (t *Task) AttachTarget(obj Object) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.target = obj
}

// Config returns a copy of the configuration recorded for the run.
func (t *Task) Config() Config {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.config.Clone()
}

// Status returns the current lifecycle status.
func (t *Task) Status() TaskStatus {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.status
}

// StartDate returns when the task started, or the zero time.
func (t *Task) StartDate() time.Time {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.timeline.StartedAt()
}

// FinishDate returns when the task finished, or the zero time.
func (t *Task) FinishDate() time.Time {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.timeline.FinishedAt()
}

// IsFinished reports whether the task reached a terminal status.
func (t *Task) IsFinished() bool { return t.Status().IsTerminal() }

// Start transitions a created task to started and records the start date.
func (t *Task) Start() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.status != TaskStatusCreated {
		return fmt.Errorf("invalid task status transition from %s to %s", t.status, TaskStatusStarted)
	}
	t.timeline.MarkStarted()
	t.status = TaskStatusStarted
	return nil
}

// Fail moves the task to the error status. A completed task is left untouched.
func (t *Task) Fail() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.status == TaskStatusCompleted {
		return
	}
	t.status = TaskStatusError
}

// Finish records the finish date and marks the task completed unless it is
// already in the error status, which is never overwritten.
func (t *Task) Finish() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.timeline.MarkFinished()
	if t.status != TaskStatusError {
		t.status = TaskStatusCompleted
	}
}

// SetStatus assigns a status directly. Values outside the lifecycle are rejected.
func (t *Task) SetStatus(s TaskStatus) error {
	if !s.IsValid() {
		return fmt.Errorf("%w: %q", ErrTaskStatusUnknown, s)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.status = s
	return nil
}

// AppendLog appends a log entry and returns it. Error and critical entries
// drive the task to the error status.
func (t *Task) AppendLog(level LogLevel, msg string) LogEntry {
	t.mu.Lock()
	entry := LogEntry{Level: level, Message: msg, Timestamp: t.timeline.Now()}
	t.log = append(t.log, entry)
	t.mu.Unlock()

	if level == LogError || level == LogCritical {
		t.Fail()
	}
	return entry
}

// AppendResult appends a structured result.
func (t *Task) AppendResult(subtype, result string, data map[string]any) error {
	if subtype == "" || result == "" {
		return ErrInvalidResult
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.results = append(t.results, Result{
		Subtype:   subtype,
		Result:    result,
		Data:      maps.Clone(data),
		Timestamp: t.timeline.Now(),
	})
	return nil
}

// QueueArtifact appends an artifact to its kind's bucket.
func (t *Task) QueueArtifact(a Artifact) error {
	if !a.Kind.IsValid() {
		return fmt.Errorf("unknown artifact kind %q", a.Kind)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.artifacts[a.Kind] = append(t.artifacts[a.Kind], a)
	return nil
}

// Log returns a copy of the log entries in append order.
func (t *Task) Log() []LogEntry {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return slices.Clone(t.log)
}

// Results returns a copy of the results in append order.
func (t *Task) Results() []Result {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return slices.Clone(t.results)
}

// Artifacts returns a copy of the queued artifacts of the given kind.
func (t *Task) Artifacts(kind ArtifactKind) []Artifact {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return slices.Clone(t.artifacts[kind])
}

// AllArtifacts returns every queued artifact: samples, then certificates, then pcaps.
func (t *Task) AllArtifacts() []Artifact {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var out []Artifact
	for _, k := range []ArtifactKind{ArtifactSample, ArtifactCertificate, ArtifactPCAP} {
		out = append(out, t.artifacts[k]...)
	}
	return out
}
