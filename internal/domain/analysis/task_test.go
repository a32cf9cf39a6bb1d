package analysis

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockTimeProvider implements TimeProvider for testing.
type mockTimeProvider struct {
	mu          sync.Mutex
	currentTime time.Time
}

func (m *mockTimeProvider) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.currentTime
}

func (m *mockTimeProvider) Advance(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.currentTime = m.currentTime.Add(d)
}

func newTestTask(t *testing.T, opts ...TaskOption) *Task {
	t.Helper()
	obj := &Target{ObjectID: "obj-1", ObjectType: "Sample", Attrs: map[string]any{"md5": "abc"}}
	return NewTask(testDefinition(), obj, "analyst", opts...)
}

func TestNewTask(t *testing.T) {
	t.Parallel()

	mockTime := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	task := newTestTask(t, WithTimeProvider(&mockTimeProvider{currentTime: mockTime}))

	assert.NotEqual(t, uuid.Nil, task.ID())
	assert.Equal(t, TaskStatusCreated, task.Status())
	assert.Equal(t, "Sample", task.ObjectType())
	assert.Equal(t, "obj-1", task.ObjectID())
	assert.Equal(t, "yara", task.Service())
	assert.Equal(t, "1.2.0", task.ServiceVersion())
	assert.Equal(t, "analyst", task.Username())
	assert.Equal(t, "obj-1", task.Target().ID())
	assert.True(t, task.StartDate().IsZero())
	assert.True(t, task.FinishDate().IsZero())
	assert.Empty(t, task.Log())
	assert.Empty(t, task.Results())
	assert.Equal(t, mockTime, task.Snapshot().CreatedAt)
}

func TestTask_Lifecycle(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		run        func(t *testing.T, task *Task)
		wantStatus TaskStatus
	}{
		{
			name: "start then finish completes",
			run: func(t *testing.T, task *Task) {
				require.NoError(t, task.Start())
				task.Finish()
			},
			wantStatus: TaskStatusCompleted,
		},
		{
			name: "error is sticky across finish",
			run: func(t *testing.T, task *Task) {
				require.NoError(t, task.Start())
				task.Fail()
				task.Finish()
			},
			wantStatus: TaskStatusError,
		},
		{
			name: "fail after completion is ignored",
			run: func(t *testing.T, task *Task) {
				require.NoError(t, task.Start())
				task.Finish()
				task.Fail()
			},
			wantStatus: TaskStatusCompleted,
		},
		{
			name: "error log entry fails the task",
			run: func(t *testing.T, task *Task) {
				require.NoError(t, task.Start())
				task.AppendLog(LogError, "boom")
			},
			wantStatus: TaskStatusError,
		},
		{
			name: "critical log entry fails the task",
			run: func(t *testing.T, task *Task) {
				require.NoError(t, task.Start())
				task.AppendLog(LogCritical, "boom")
			},
			wantStatus: TaskStatusError,
		},
		{
			name: "warning leaves task started",
			run: func(t *testing.T, task *Task) {
				require.NoError(t, task.Start())
				task.AppendLog(LogWarning, "careful")
			},
			wantStatus: TaskStatusStarted,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			task := newTestTask(t)
			tt.run(t, task)
			assert.Equal(t, tt.wantStatus, task.Status())
		})
	}
}

func TestTask_StartTwice(t *testing.T) {
	t.Parallel()

	task := newTestTask(t)
	require.NoError(t, task.Start())
	assert.Error(t, task.Start())
	assert.Equal(t, TaskStatusStarted, task.Status())
}

func TestTask_Dates(t *testing.T) {
	t.Parallel()

	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	tp := &mockTimeProvider{currentTime: start}
	task := newTestTask(t, WithTimeProvider(tp))

	tp.Advance(time.Second)
	require.NoError(t, task.Start())
	tp.Advance(time.Minute)
	task.Finish()

	assert.Equal(t, start.Add(time.Second), task.StartDate())
	assert.Equal(t, start.Add(time.Second+time.Minute), task.FinishDate())
	assert.False(t, task.FinishDate().Before(task.StartDate()))
}

func TestTask_SetStatus(t *testing.T) {
	t.Parallel()

	task := newTestTask(t)
	require.NoError(t, task.SetStatus(TaskStatusStarted))
	assert.Equal(t, TaskStatusStarted, task.Status())

	err := task.SetStatus(TaskStatus("bogus"))
	assert.ErrorIs(t, err, ErrTaskStatusUnknown)
	assert.Equal(t, TaskStatusStarted, task.Status())
}

func TestParseTaskStatus(t *testing.T) {
	t.Parallel()

	s, err := ParseTaskStatus("completed")
	require.NoError(t, err)
	assert.Equal(t, TaskStatusCompleted, s)
	assert.True(t, s.IsTerminal())

	_, err = ParseTaskStatus("running")
	assert.ErrorIs(t, err, ErrTaskStatusUnknown)
}

func TestTask_AppendResult(t *testing.T) {
	t.Parallel()

	task := newTestTask(t)
	assert.ErrorIs(t, task.AppendResult("", "x", nil), ErrInvalidResult)
	assert.ErrorIs(t, task.AppendResult("x", "", nil), ErrInvalidResult)

	data := map[string]any{"k": "v"}
	require.NoError(t, task.AppendResult("yara", "rule_a", data))
	data["k"] = "mutated"

	results := task.Results()
	require.Len(t, results, 1)
	assert.Equal(t, "yara", results[0].Subtype)
	assert.Equal(t, "rule_a", results[0].Result)
	assert.Equal(t, "v", results[0].Data["k"])
}

func TestTask_QueueArtifact(t *testing.T) {
	t.Parallel()

	task := newTestTask(t)
	require.NoError(t, task.QueueArtifact(Artifact{Kind: ArtifactPCAP, Filename: "p"}))
	require.NoError(t, task.QueueArtifact(Artifact{Kind: ArtifactSample, Filename: "s"}))
	assert.Error(t, task.QueueArtifact(Artifact{Kind: "Email"}))

	assert.Len(t, task.Artifacts(ArtifactSample), 1)
	assert.Empty(t, task.Artifacts(ArtifactCertificate))

	all := task.AllArtifacts()
	require.Len(t, all, 2)
	assert.Equal(t, "s", all[0].Filename)
	assert.Equal(t, "p", all[1].Filename)
}

func TestTask_LogAppendOrder(t *testing.T) {
	t.Parallel()

	task := newTestTask(t)
	for _, msg := range []string{"one", "two", "three"} {
		task.AppendLog(LogInfo, msg)
	}

	var got []string
	for _, e := range task.Log() {
		got = append(got, e.Message)
	}
	assert.Equal(t, []string{"one", "two", "three"}, got)
}

func TestTask_ConcurrentReaders(t *testing.T) {
	t.Parallel()

	task := newTestTask(t)
	require.NoError(t, task.Start())

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 100; i++ {
			task.AppendLog(LogInfo, "tick")
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 100; i++ {
			_ = task.Snapshot()
		}
	}()
	wg.Wait()

	assert.Len(t, task.Log(), 100)
}

func TestTask_SnapshotRoundTrip(t *testing.T) {
	t.Parallel()

	task := newTestTask(t, WithTaskConfig(Config{"mode": "fast"}))
	require.NoError(t, task.Start())
	task.AppendLog(LogInfo, "hello")
	require.NoError(t, task.AppendResult("hit", "rule", map[string]any{"score": "10"}))
	require.NoError(t, task.QueueArtifact(Artifact{Kind: ArtifactCertificate, Filename: "c.pem", Data: []byte("x")}))
	task.Finish()

	raw, err := json.Marshal(task.Snapshot())
	require.NoError(t, err)

	var snap TaskSnapshot
	require.NoError(t, json.Unmarshal(raw, &snap))

	restored, err := RestoreTask(snap)
	require.NoError(t, err)

	assert.Equal(t, task.ID(), restored.ID())
	assert.Equal(t, TaskStatusCompleted, restored.Status())
	assert.Equal(t, task.Log()[0].Message, restored.Log()[0].Message)
	assert.Equal(t, "rule", restored.Results()[0].Result)
	assert.Equal(t, []byte("x"), restored.Artifacts(ArtifactCertificate)[0].Data)
	assert.Equal(t, "fast", restored.Config()["mode"])
	assert.Nil(t, restored.Target())
}

func TestRestoreTask_RejectsUnknownStatus(t *testing.T) {
	t.Parallel()

	snap := newTestTask(t).Snapshot()
	snap.Status = "paused"

	_, err := RestoreTask(snap)
	assert.ErrorIs(t, err, ErrTaskStatusUnknown)
}

func TestTask_ApplySnapshot(t *testing.T) {
	t.Parallel()

	parent := newTestTask(t)
	require.NoError(t, parent.Start())

	child, err := RestoreTask(parent.Snapshot())
	require.NoError(t, err)
	child.AppendLog(LogError, "worker failed")
	child.Finish()

	require.NoError(t, parent.ApplySnapshot(child.Snapshot()))
	assert.Equal(t, TaskStatusError, parent.Status())
	assert.Len(t, parent.Log(), 1)
	assert.False(t, parent.FinishDate().IsZero())
	assert.Equal(t, "obj-1", parent.Target().ID(), "target survives snapshot application")

	other := newTestTask(t)
	assert.Error(t, parent.ApplySnapshot(other.Snapshot()))
}
