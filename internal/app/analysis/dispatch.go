package analysis

import (
	"context"

	"golang.org/x/time/rate"

	domain "github.com/ahrav/analysis-armada/internal/domain/analysis"
)

type notifyRate struct {
	limit rate.Limit
	burst int
}

// run carries everything a dispatcher needs to carry out one accepted request.
type run struct {
	service    Service
	config     domain.Config
	task       *domain.Task
	execution  *domain.Execution
	notify     domain.TaskCallback
	complete   domain.TaskCallback
	notifyRate notifyRate
}

// dispatcher executes an accepted run. Implementations must ensure the run's
// complete callback fires exactly once.
type dispatcher interface {
	dispatch(ctx context.Context, r *run)
}

// localDispatcher runs the service inline.
type localDispatcher struct{}

func (localDispatcher) dispatch(ctx context.Context, r *run) { r.execution.Execute(ctx) }

// threadDispatcher runs the service on its own goroutine. The run outlives
// the request, so it keeps the request's values but not its cancellation.
type threadDispatcher struct{}

func (threadDispatcher) dispatch(ctx context.Context, r *run) {
	go r.execution.Execute(context.WithoutCancel(ctx))
}
