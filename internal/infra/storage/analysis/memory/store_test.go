package memory

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahrav/analysis-armada/internal/domain/analysis"
)

func finishedTask(t *testing.T, service string, artifacts ...analysis.Artifact) *analysis.Task {
	t.Helper()

	def := analysis.Definition{Name: service, Version: "1.0.0", SupportedTypes: []string{"Sample"}}
	task := analysis.NewTask(def, &analysis.Target{ObjectID: "sample-1", ObjectType: "Sample"}, "analyst")
	require.NoError(t, task.Start())
	require.NoError(t, task.AppendResult("family", "emotet", nil))
	for _, a := range artifacts {
		require.NoError(t, task.QueueArtifact(a))
	}
	task.Finish()
	return task
}

func TestStore_Records(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := NewStore()

	_, err := s.GetRecord(ctx, "yara")
	assert.ErrorIs(t, err, analysis.ErrRecordNotFound)

	rec := analysis.NewServiceRecord("yara")
	rec.Config["rules"] = "/etc/yara"
	require.NoError(t, s.SaveRecord(ctx, rec))
	require.NoError(t, s.SaveRecord(ctx, analysis.NewServiceRecord("clam")))

	rec.Config["rules"] = "mutated after save"
	got, err := s.GetRecord(ctx, "yara")
	require.NoError(t, err)
	assert.Equal(t, "/etc/yara", got.Config["rules"])
	assert.False(t, got.UpdatedAt.IsZero())

	list, err := s.ListRecords(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "clam", list[0].Name)
	assert.Equal(t, "yara", list[1].Name)
}

func TestStore_TaskLifecycle(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := NewStore()

	def := analysis.Definition{Name: "yara", Version: "1.0.0"}
	task := analysis.NewTask(def, &analysis.Target{ObjectID: "sample-1", ObjectType: "Sample"}, "analyst")
	require.NoError(t, task.Start())

	exists, err := s.ResultsExist(ctx, "yara", "Sample", "sample-1")
	require.NoError(t, err)
	assert.False(t, exists)

	require.NoError(t, s.AddTask(ctx, task))
	exists, err = s.ResultsExist(ctx, "yara", "Sample", "sample-1")
	require.NoError(t, err)
	assert.True(t, exists)

	exists, err = s.ResultsExist(ctx, "clam", "Sample", "sample-1")
	require.NoError(t, err)
	assert.False(t, exists)

	task.AppendLog(analysis.LogInfo, "scanning")
	require.NoError(t, s.UpdateTask(ctx, task))

	snap, ok := s.Task(task.ID())
	require.True(t, ok)
	assert.Equal(t, analysis.TaskStatusStarted, snap.Status)
	require.Len(t, snap.Log, 1)
	assert.Equal(t, "scanning", snap.Log[0].Message)

	got, err := s.GetTask(ctx, task.ID())
	require.NoError(t, err)
	assert.Equal(t, snap.ID, got.ID)

	_, err = s.GetTask(ctx, uuid.New())
	assert.ErrorIs(t, err, analysis.ErrTaskNotFound)
}

func TestStore_FinishTaskMaterializesArtifacts(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := NewStore()

	dropped := analysis.Artifact{
		Kind:     analysis.ArtifactSample,
		Filename: "dropped.exe",
		Data:     []byte("MZ"),
		MD5:      "b6e2e5ae3a5d6e1d8b1b5d4b7c0c2f9a",
		SHA256:   "0c8f",
	}
	cert := analysis.Artifact{
		Kind:         analysis.ArtifactCertificate,
		Filename:     "leaf.der",
		Data:         []byte{0x30, 0x82},
		MD5:          "c3c3",
		Relationship: "Signed_By",
	}

	first := finishedTask(t, "carver", dropped, cert)
	require.NoError(t, s.FinishTask(ctx, first))
	second := finishedTask(t, "unpacker", dropped)
	require.NoError(t, s.FinishTask(ctx, second))

	assert.Equal(t, 2, s.Objects())

	obj, ok := s.Object(string(analysis.ArtifactSample), dropped.MD5)
	require.True(t, ok)
	assert.Equal(t, "dropped.exe", obj.Filename)
	assert.Equal(t, 2, obj.Size)
	require.Len(t, obj.Relationships, 2, "same bytes from two tasks share one object")
	assert.Equal(t, analysis.DefaultRelationship, obj.Relationships[0].Type)
	assert.Equal(t, "sample-1", obj.Relationships[0].ObjectID)
	assert.Equal(t, "carver", obj.Relationships[0].Service)
	assert.Equal(t, "unpacker", obj.Relationships[1].Service)

	obj, ok = s.Object(string(analysis.ArtifactCertificate), "c3c3")
	require.True(t, ok)
	assert.Equal(t, "Signed_By", obj.Relationships[0].Type)

	snap, ok := s.Task(first.ID())
	require.True(t, ok)
	assert.Equal(t, analysis.TaskStatusCompleted, snap.Status)
	assert.Empty(t, snap.Artifacts, "artifacts live on as stored objects")
	assert.Len(t, s.Tasks("Sample", "sample-1"), 2)
}
