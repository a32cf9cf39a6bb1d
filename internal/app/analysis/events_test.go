package analysis

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/cenkalti/backoff"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	domain "github.com/ahrav/analysis-armada/internal/domain/analysis"
	"github.com/ahrav/analysis-armada/internal/domain/events"
	"github.com/ahrav/analysis-armada/internal/infra/eventbus/memory"
	"github.com/ahrav/analysis-armada/pkg/common/logger"
)

type failingPublisher struct {
	mu       sync.Mutex
	attempts map[events.EventType]int
}

func (p *failingPublisher) Publish(_ context.Context, evt events.EventEnvelope, _ ...events.PublishOption) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.attempts == nil {
		p.attempts = make(map[events.EventType]int)
	}
	p.attempts[evt.Type]++
	return errors.New("broker down")
}

func TestEventingDestination_PublishesLifecycle(t *testing.T) {
	t.Parallel()

	bus := memory.NewBus()
	var (
		mu       sync.Mutex
		received []domain.TaskEvent
		keys     []string
	)
	require.NoError(t, bus.Subscribe(context.Background(), nil, func(_ context.Context, evt events.EventEnvelope) error {
		mu.Lock()
		defer mu.Unlock()
		received = append(received, evt.Payload.(domain.TaskEvent))
		keys = append(keys, evt.Key)
		return nil
	}))

	inner := newFakeDestination()
	dest := NewEventingDestination(inner, bus, logger.Noop())
	env := newTestEnvironment(t, newTestRegistry(t, testCatalog(), newFakeRecords()), dest)

	h, err := env.RunService(context.Background(), RunRequest{Service: "echo", Object: testSample(), Mode: ModeLocal})
	require.NoError(t, err)
	task := waitHandle(t, h)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, received, 3)
	assert.Equal(t, domain.EventTypeTaskStarted, received[0].Type)
	assert.Equal(t, domain.TaskStatusStarted, received[0].Status)
	assert.Equal(t, domain.EventTypeTaskProgressed, received[1].Type)
	assert.Equal(t, domain.TaskStatusStarted, received[1].Status)
	assert.Equal(t, 1, received[1].ResultCount, "progress carries the mode result")
	assert.Zero(t, received[1].ArtifactCount)
	assert.Equal(t, domain.EventTypeTaskFinished, received[2].Type)
	assert.Equal(t, domain.TaskStatusCompleted, received[2].Status)
	assert.Equal(t, task.ID(), received[2].TaskID)
	assert.Equal(t, 1, received[2].ArtifactCount)
	assert.Equal(t, []string{"sample-1", "sample-1", "sample-1"}, keys)
	assert.Equal(t, 1, inner.finishedCount())
}

func TestEventingDestination_PublishFailureIsNotFatal(t *testing.T) {
	t.Parallel()

	inner := newFakeDestination()
	publisher := &failingPublisher{}
	dest := NewEventingDestination(inner, publisher, logger.Noop(),
		WithPublishBackOff(func() backoff.BackOff { return backoff.WithMaxRetries(&backoff.ZeroBackOff{}, 2) }))
	env := newTestEnvironment(t, newTestRegistry(t, testCatalog(), newFakeRecords()), dest)

	h, err := env.RunService(context.Background(), RunRequest{Service: "echo", Object: testSample(), Mode: ModeLocal})
	require.NoError(t, err)
	task := waitHandle(t, h)

	assert.Equal(t, domain.TaskStatusCompleted, task.Status())
	assert.Equal(t, 1, inner.finishedCount())

	publisher.mu.Lock()
	defer publisher.mu.Unlock()
	assert.Equal(t, 1, publisher.attempts[domain.EventTypeTaskStarted], "started events are not retried")
	assert.Equal(t, 1, publisher.attempts[domain.EventTypeTaskProgressed], "progress events are not retried")
	assert.Equal(t, 3, publisher.attempts[domain.EventTypeTaskFinished], "finished events are retried")
}

func TestEventingDestination_StoreFailureSkipsEvent(t *testing.T) {
	t.Parallel()

	inner := new(mockDestination)
	inner.On("AddTask", mock.Anything, mock.Anything).Return(errors.New("db down"))

	published := 0
	bus := memory.NewBus()
	require.NoError(t, bus.Subscribe(context.Background(), nil, func(context.Context, events.EventEnvelope) error {
		published++
		return nil
	}))

	dest := NewEventingDestination(inner, bus, logger.Noop())
	task := domain.NewTask(echoDefinition(), testSample(), "analyst")
	assert.Error(t, dest.AddTask(context.Background(), task))
	assert.Zero(t, published)
}
