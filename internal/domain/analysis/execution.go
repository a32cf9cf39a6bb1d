package analysis

import (
	"bytes"
	"context"
	"crypto/md5"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/time/rate"
)

// DefaultRelationship links a carved artifact back to the object it was found in.
const DefaultRelationship = "Related_To"

// Result subtypes recorded by Finalize for each artifact bucket.
const (
	SubtypeFileAdded = "file_added"
	SubtypeCertAdded = "cert_added"
	SubtypePCAPAdded = "pcap_added"
)

// TaskCallback receives the task held by an execution. Callbacks are bound to
// a destination by the environment.
type TaskCallback func(ctx context.Context, t *Task)

// Execution is a per-run service instance. It binds a plugin to its resolved
// configuration and to at most one unfinished task, and exposes the helpers a
// plugin uses to record its progress.
type Execution struct {
	plugin Plugin
	def    Definition
	config Config

	notify   TaskCallback
	complete TaskCallback
	limiter  *rate.Limiter

	mu   sync.Mutex
	task *Task
}

// ExecutionOption configures an Execution.
type ExecutionOption func(*Execution)

// WithNotify sets the callback invoked by Notify.
func WithNotify(fn TaskCallback) ExecutionOption {
	return func(e *Execution) { e.notify = fn }
}

// WithComplete sets the callback invoked once when Execute returns.
func WithComplete(fn TaskCallback) ExecutionOption {
	return func(e *Execution) { e.complete = fn }
}

// WithNotifyLimiter throttles Notify. Calls exceeding the limiter's budget are dropped.
func WithNotifyLimiter(l *rate.Limiter) ExecutionOption {
	return func(e *Execution) { e.limiter = l }
}

// NewExecution creates an execution of p using the resolved configuration cfg.
func NewExecution(p Plugin, cfg Config, opts ...ExecutionOption) *Execution {
	e := &Execution{
		plugin: p,
		def:    p.Definition(),
		config: cfg.Clone(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Definition returns the definition of the wrapped plugin.
func (e *Execution) Definition() Definition { return e.def }

// Config returns a copy of the run's resolved configuration.
func (e *Execution) Config() Config { return e.config.Clone() }

// Task returns the currently bound task, or nil.
func (e *Execution) Task() *Task {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.task
}

// SetTask binds t to the execution. It fails when an unfinished task is
// already bound.
func (e *Execution) SetTask(t *Task) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.task != nil && !e.task.IsFinished() {
		return ErrTaskInProgress
	}
	e.task = t
	return nil
}

// Execute runs the plugin against the bound task's target. Failures and
// panics are recorded on the task as error entries and never propagate.
// Whatever the outcome, the completion callback fires once and the task is
// released.
func (e *Execution) Execute(ctx context.Context) {
	task := e.Task()
	if task == nil {
		return
	}
	defer func() {
		e.mu.Lock()
		if e.task == task {
			e.task = nil
		}
		e.mu.Unlock()
		// The terminal task must reach the destination even when the run's
		// context was canceled or timed out.
		if e.complete != nil {
			e.complete(context.WithoutCancel(ctx), task)
		}
	}()

	e.Info("Starting service %s", e.def.Name)
	if err := e.analyze(ctx, task); err != nil {
		e.Error("Error running service: %v", err)
		if !e.def.Distributed {
			task.Finish()
		}
		return
	}
	if !e.def.Distributed {
		e.finalize(task)
	}
}

func (e *Execution) analyze(ctx context.Context, task *Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()

	obj := task.Target()
	if obj == nil {
		return fmt.Errorf("task %s has no target object", task.ID())
	}
	return e.plugin.Analyze(ctx, e, obj)
}

// Finalize converts queued artifacts into results and finishes the bound task.
// Distributed services call it once their out-of-band work completes.
func (e *Execution) Finalize() error {
	task := e.Task()
	if task == nil {
		return ErrNoTask
	}
	e.finalize(task)
	return nil
}

func (e *Execution) finalize(task *Task) {
	subtypes := map[ArtifactKind]string{
		ArtifactSample:      SubtypeFileAdded,
		ArtifactCertificate: SubtypeCertAdded,
		ArtifactPCAP:        SubtypePCAPAdded,
	}
	for _, a := range task.AllArtifacts() {
		data := map[string]any{
			"md5":          a.MD5,
			"sha256":       a.SHA256,
			"relationship": a.Relationship,
		}
		// Filename and subtype are always set by AddFile.
		_ = task.AppendResult(subtypes[a.Kind], a.Filename, data)
	}
	task.Finish()
}

// AddResult records a structured finding on the bound task.
func (e *Execution) AddResult(subtype, result string, data map[string]any) error {
	task := e.Task()
	if task == nil {
		return ErrNoTask
	}
	return task.AppendResult(subtype, result, data)
}

// FileOptions describes an artifact queued through AddFile.
type FileOptions struct {
	// Filename defaults to the md5 of the data.
	Filename string
	// LogMessage replaces the default info entry logged for the artifact.
	LogMessage string
	// Relationship defaults to DefaultRelationship.
	Relationship string
	// Kind defaults to ArtifactSample.
	Kind ArtifactKind
}

// AddFile queues data as a new artifact on the bound task and returns its md5.
// The artifact only becomes an object once the finished task reaches the
// destination.
func (e *Execution) AddFile(data []byte, opts FileOptions) (string, error) {
	task := e.Task()
	if task == nil {
		return "", ErrNoTask
	}

	md5sum := md5.Sum(data)
	shasum := sha256.Sum256(data)
	a := Artifact{
		Kind:         opts.Kind,
		Filename:     opts.Filename,
		Data:         bytes.Clone(data),
		MD5:          hex.EncodeToString(md5sum[:]),
		SHA256:       hex.EncodeToString(shasum[:]),
		LogMessage:   opts.LogMessage,
		Relationship: opts.Relationship,
	}
	if a.Kind == "" {
		a.Kind = ArtifactSample
	}
	if a.Filename == "" {
		a.Filename = a.MD5
	}
	if a.Relationship == "" {
		a.Relationship = DefaultRelationship
	}
	if err := task.QueueArtifact(a); err != nil {
		return "", err
	}

	msg := a.LogMessage
	if msg == "" {
		msg = fmt.Sprintf("Added %s %s (md5: %s)", a.Kind, a.Filename, a.MD5)
	}
	task.AppendLog(LogInfo, msg)
	return a.MD5, nil
}

func (e *Execution) log(level LogLevel, format string, args ...any) {
	task := e.Task()
	if task == nil {
		return
	}
	msg := format
	if len(args) > 0 {
		msg = fmt.Sprintf(format, args...)
	}
	task.AppendLog(level, msg)
}

func (e *Execution) Debug(format string, args ...any)   { e.log(LogDebug, format, args...) }
func (e *Execution) Info(format string, args ...any)    { e.log(LogInfo, format, args...) }
func (e *Execution) Warning(format string, args ...any) { e.log(LogWarning, format, args...) }

// Error logs an error entry and moves the task to the error status.
func (e *Execution) Error(format string, args ...any) { e.log(LogError, format, args...) }

// Critical logs a critical entry and moves the task to the error status.
func (e *Execution) Critical(format string, args ...any) { e.log(LogCritical, format, args...) }

// Notify pushes the bound task's current state through the notify callback.
// It returns false when no update was sent.
func (e *Execution) Notify(ctx context.Context) bool {
	task := e.Task()
	if task == nil || e.notify == nil {
		return false
	}
	if e.limiter != nil && !e.limiter.Allow() {
		return false
	}
	e.notify(ctx, task)
	return true
}

// TempFile writes the target's payload to a file in a fresh temporary
// directory and calls fn with its path. The directory is removed on every
// exit path, including a panic in fn.
func (e *Execution) TempFile(ctx context.Context, fn func(path string) error) error {
	task := e.Task()
	if task == nil {
		return ErrNoTask
	}
	obj, ok := task.Target().(PayloadObject)
	if !ok {
		return ErrNoPayload
	}

	rc, err := obj.Payload(ctx)
	if err != nil {
		return fmt.Errorf("reading payload: %w", err)
	}
	defer rc.Close()

	dir, err := os.MkdirTemp("", "analysis-"+e.def.Name+"-")
	if err != nil {
		return fmt.Errorf("creating temp dir: %w", err)
	}
	defer os.RemoveAll(dir)

	base := filepath.Base(obj.ID())
	if base == "." || base == string(filepath.Separator) {
		base = "payload"
	}
	name := filepath.Join(dir, base)
	f, err := os.OpenFile(name, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0o600)
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	if _, err := io.Copy(f, rc); err != nil {
		f.Close()
		return fmt.Errorf("writing temp file: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("closing temp file: %w", err)
	}

	return fn(name)
}
