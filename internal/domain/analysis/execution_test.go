package analysis

import (
	"context"
	"errors"
	"os"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

// stubPlugin runs fn as its analysis body.
type stubPlugin struct {
	def Definition
	fn  func(ctx context.Context, run *Execution, obj Object) error
}

func (p *stubPlugin) Definition() Definition { return p.def }

func (p *stubPlugin) Analyze(ctx context.Context, run *Execution, obj Object) error {
	if p.fn == nil {
		return nil
	}
	return p.fn(ctx, run, obj)
}

func newStartedExecution(t *testing.T, p *stubPlugin, opts ...ExecutionOption) (*Execution, *Task) {
	t.Helper()
	if p.def.Name == "" {
		p.def = testDefinition()
	}
	obj := &Target{ObjectID: "obj-1", ObjectType: "Sample", Data: []byte("payload bytes")}
	task := NewTask(p.def, obj, "analyst")
	require.NoError(t, task.Start())

	e := NewExecution(p, p.def.BuildDefaultConfig(), opts...)
	require.NoError(t, e.SetTask(task))
	return e, task
}

func TestExecution_SetTask_RejectsUnfinished(t *testing.T) {
	t.Parallel()

	e, _ := newStartedExecution(t, &stubPlugin{})
	other := newTestTask(t)
	assert.ErrorIs(t, e.SetTask(other), ErrTaskInProgress)
}

func TestExecution_SetTask_AllowsAfterFinish(t *testing.T) {
	t.Parallel()

	e, task := newStartedExecution(t, &stubPlugin{})
	task.Finish()
	assert.NoError(t, e.SetTask(newTestTask(t)))
}

func TestExecution_Execute(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		distributed bool
		fn          func(ctx context.Context, run *Execution, obj Object) error
		wantStatus  TaskStatus
		wantFinish  bool
		wantLog     string
	}{
		{
			name:       "success finalizes",
			fn:         func(context.Context, *Execution, Object) error { return nil },
			wantStatus: TaskStatusCompleted,
			wantFinish: true,
		},
		{
			name:       "returned error",
			fn:         func(context.Context, *Execution, Object) error { return errors.New("kaboom") },
			wantStatus: TaskStatusError,
			wantFinish: true,
			wantLog:    "Error running service: kaboom",
		},
		{
			name:       "panic is recovered",
			fn:         func(context.Context, *Execution, Object) error { panic("bad input") },
			wantStatus: TaskStatusError,
			wantFinish: true,
			wantLog:    "Error running service: panic: bad input",
		},
		{
			name: "error entry then success stays error",
			fn: func(_ context.Context, run *Execution, _ Object) error {
				run.Error("partial failure")
				return nil
			},
			wantStatus: TaskStatusError,
			wantFinish: true,
			wantLog:    "partial failure",
		},
		{
			name:        "distributed service is not finalized",
			distributed: true,
			fn:          func(context.Context, *Execution, Object) error { return nil },
			wantStatus:  TaskStatusStarted,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			def := testDefinition()
			def.Distributed = tt.distributed

			var (
				completions atomic.Int32
				completed   *Task
			)
			e, task := newStartedExecution(t,
				&stubPlugin{def: def, fn: tt.fn},
				WithComplete(func(_ context.Context, got *Task) {
					completed = got
					completions.Add(1)
				}),
			)

			assert.NotPanics(t, func() { e.Execute(context.Background()) })

			assert.Equal(t, tt.wantStatus, task.Status())
			assert.Equal(t, tt.wantFinish, !task.FinishDate().IsZero())
			assert.Equal(t, int32(1), completions.Load())
			assert.Same(t, task, completed)
			assert.Nil(t, e.Task(), "task must be released")

			if tt.wantLog != "" {
				var msgs []string
				for _, entry := range task.Log() {
					msgs = append(msgs, entry.Message)
				}
				assert.Contains(t, msgs, tt.wantLog)
			}
		})
	}
}

func TestExecution_Execute_WithoutTask(t *testing.T) {
	t.Parallel()

	called := false
	e := NewExecution(&stubPlugin{def: testDefinition()}, nil, WithComplete(func(context.Context, *Task) { called = true }))
	e.Execute(context.Background())
	assert.False(t, called)
}

func TestExecution_AddFileAndFinalize(t *testing.T) {
	t.Parallel()

	fn := func(_ context.Context, run *Execution, _ Object) error {
		md5, err := run.AddFile([]byte("hello"), FileOptions{})
		if err != nil {
			return err
		}
		if md5 != "5d41402abc4b2a76b9719d911017c592" {
			return errors.New("unexpected md5 " + md5)
		}
		_, err = run.AddFile([]byte("cert"), FileOptions{
			Filename:     "leaf.pem",
			Kind:         ArtifactCertificate,
			Relationship: "Extracted_From",
			LogMessage:   "carved certificate",
		})
		return err
	}
	e, task := newStartedExecution(t, &stubPlugin{fn: fn})
	e.Execute(context.Background())

	require.Equal(t, TaskStatusCompleted, task.Status())

	samples := task.Artifacts(ArtifactSample)
	require.Len(t, samples, 1)
	assert.Equal(t, "5d41402abc4b2a76b9719d911017c592", samples[0].Filename)
	assert.Equal(t, "2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824", samples[0].SHA256)
	assert.Equal(t, DefaultRelationship, samples[0].Relationship)

	results := task.Results()
	require.Len(t, results, 2)
	assert.Equal(t, SubtypeFileAdded, results[0].Subtype)
	assert.Equal(t, "5d41402abc4b2a76b9719d911017c592", results[0].Result)
	assert.Equal(t, SubtypeCertAdded, results[1].Subtype)
	assert.Equal(t, "leaf.pem", results[1].Result)
	assert.Equal(t, "Extracted_From", results[1].Data["relationship"])

	var msgs []string
	for _, entry := range task.Log() {
		msgs = append(msgs, entry.Message)
	}
	assert.Contains(t, msgs, "carved certificate")
}

func TestExecution_AddFile_CopiesBuffer(t *testing.T) {
	t.Parallel()

	fn := func(_ context.Context, run *Execution, _ Object) error {
		buf := []byte("first chunk")
		if _, err := run.AddFile(buf, FileOptions{Filename: "a.bin"}); err != nil {
			return err
		}
		copy(buf, "XXXXXXXXXXX")
		return nil
	}
	e, task := newStartedExecution(t, &stubPlugin{fn: fn})
	e.Execute(context.Background())

	samples := task.Artifacts(ArtifactSample)
	require.Len(t, samples, 1)
	assert.Equal(t, []byte("first chunk"), samples[0].Data)
}

func TestExecution_Execute_CompletesWithLiveContextAfterCancel(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var completeErr error
	calls := 0
	fn := func(ctx context.Context, _ *Execution, _ Object) error {
		cancel()
		return ctx.Err()
	}
	e, task := newStartedExecution(t, &stubPlugin{fn: fn}, WithComplete(func(ctx context.Context, _ *Task) {
		calls++
		completeErr = ctx.Err()
	}))
	e.Execute(ctx)

	assert.Equal(t, TaskStatusError, task.Status())
	assert.Equal(t, 1, calls)
	assert.NoError(t, completeErr, "completion must not inherit the run's cancellation")
}

func TestExecution_AddResult(t *testing.T) {
	t.Parallel()

	e, task := newStartedExecution(t, &stubPlugin{})
	require.NoError(t, e.AddResult("hash", "abc", nil))
	assert.ErrorIs(t, e.AddResult("", "abc", nil), ErrInvalidResult)
	assert.Len(t, task.Results(), 1)

	idle := NewExecution(&stubPlugin{def: testDefinition()}, nil)
	assert.ErrorIs(t, idle.AddResult("hash", "abc", nil), ErrNoTask)
}

func TestExecution_LogHelpers(t *testing.T) {
	t.Parallel()

	e, task := newStartedExecution(t, &stubPlugin{})
	e.Debug("d")
	e.Info("i %d", 1)
	e.Warning("w")
	assert.Equal(t, TaskStatusStarted, task.Status())

	e.Critical("c")
	assert.Equal(t, TaskStatusError, task.Status())

	var levels []LogLevel
	for _, entry := range task.Log() {
		levels = append(levels, entry.Level)
	}
	assert.Equal(t, []LogLevel{LogDebug, LogInfo, LogWarning, LogCritical}, levels)
	assert.Equal(t, "i 1", task.Log()[1].Message)
}

func TestExecution_Notify(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	e, _ := newStartedExecution(t, &stubPlugin{},
		WithNotify(func(context.Context, *Task) { calls.Add(1) }),
		WithNotifyLimiter(rate.NewLimiter(rate.Limit(0), 2)),
	)

	ctx := context.Background()
	assert.True(t, e.Notify(ctx))
	assert.True(t, e.Notify(ctx))
	assert.False(t, e.Notify(ctx), "burst exhausted")
	assert.Equal(t, int32(2), calls.Load())
}

func TestExecution_TempFile(t *testing.T) {
	t.Parallel()

	e, _ := newStartedExecution(t, &stubPlugin{})

	var seen string
	err := e.TempFile(context.Background(), func(path string) error {
		seen = path
		data, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.Equal(t, "payload bytes", string(data))
		return nil
	})
	require.NoError(t, err)
	_, statErr := os.Stat(seen)
	assert.True(t, os.IsNotExist(statErr))
}

func TestExecution_TempFile_RemovedOnPanic(t *testing.T) {
	t.Parallel()

	e, _ := newStartedExecution(t, &stubPlugin{})

	var seen string
	assert.Panics(t, func() {
		_ = e.TempFile(context.Background(), func(path string) error {
			seen = path
			panic("inside callback")
		})
	})
	require.NotEmpty(t, seen)
	_, statErr := os.Stat(seen)
	assert.True(t, os.IsNotExist(statErr))
}

func TestExecution_TempFile_NoPayload(t *testing.T) {
	t.Parallel()

	p := &stubPlugin{def: testDefinition()}
	task := NewTask(p.def, &Target{ObjectID: "x", ObjectType: "Sample"}, "analyst")
	e := NewExecution(p, nil)
	require.NoError(t, e.SetTask(task))

	err := e.TempFile(context.Background(), func(string) error { return nil })
	assert.ErrorIs(t, err, ErrNoPayload)
}
