package analysis

import (
	"context"
	"sync"

	domain "github.com/ahrav/analysis-armada/internal/domain/analysis"
)

// Handle tracks a dispatched run. It is returned as soon as the run is
// dispatched; in local mode the run has already finished by then.
type Handle struct {
	task *domain.Task
	mode Mode

	once sync.Once
	done chan struct{}
}

func newHandle(task *domain.Task, mode Mode) *Handle {
	return &Handle{task: task, mode: mode, done: make(chan struct{})}
}

// Task returns the task of the run. It may be read while the run is in flight.
func (h *Handle) Task() *domain.Task { return h.task }

// Mode returns the dispatch mode the run used.
func (h *Handle) Mode() Mode { return h.mode }

// Done is closed once the run finished and the destination recorded it.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Wait blocks until the run finishes or ctx is done.
func (h *Handle) Wait(ctx context.Context) (*domain.Task, error) {
	select {
	case <-h.done:
		return h.task, nil
	case <-ctx.Done():
		return h.task, ctx.Err()
	}
}

func (h *Handle) close() { h.once.Do(func() { close(h.done) }) }
