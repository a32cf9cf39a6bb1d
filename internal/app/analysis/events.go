package analysis

import (
	"context"

	"github.com/cenkalti/backoff"

	domain "github.com/ahrav/analysis-armada/internal/domain/analysis"
	"github.com/ahrav/analysis-armada/internal/domain/events"
	"github.com/ahrav/analysis-armada/internal/infra/eventbus/reliability"
	"github.com/ahrav/analysis-armada/pkg/common/logger"
)

var _ domain.Destination = (*EventingDestination)(nil)

// defaultPublishRetries bounds retries of critical events.
const defaultPublishRetries = 3

// EventingDestination decorates a Destination and publishes a task event
// after each successful AddTask, UpdateTask and FinishTask. Publishing never fails the
// write it follows: critical events are retried with backoff, then logged.
type EventingDestination struct {
	domain.Destination
	publisher events.EventPublisher
	backOff   func() backoff.BackOff
	logger    *logger.Logger
}

// EventingOption configures an EventingDestination.
type EventingOption func(*EventingDestination)

// WithPublishBackOff sets the retry policy for critical events. fn is called
// once per event.
func WithPublishBackOff(fn func() backoff.BackOff) EventingOption {
	return func(d *EventingDestination) { d.backOff = fn }
}

// NewEventingDestination wraps dest so task lifecycle changes reach publisher.
func NewEventingDestination(
	dest domain.Destination,
	publisher events.EventPublisher,
	logger *logger.Logger,
	opts ...EventingOption,
) *EventingDestination {
	d := &EventingDestination{
		Destination: dest,
		publisher:   publisher,
		backOff: func() backoff.BackOff {
			return backoff.WithMaxRetries(backoff.NewExponentialBackOff(), defaultPublishRetries)
		},
		logger: logger.With("component", "eventing_destination"),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// AddTask stores the task and announces that it started.
func (d *EventingDestination) AddTask(ctx context.Context, task *domain.Task) error {
	if err := d.Destination.AddTask(ctx, task); err != nil {
		return err
	}
	d.publish(ctx, domain.EventTypeTaskStarted, task)
	return nil
}

// UpdateTask stores the task's intermediate state and announces the progress.
func (d *EventingDestination) UpdateTask(ctx context.Context, task *domain.Task) error {
	if err := d.Destination.UpdateTask(ctx, task); err != nil {
		return err
	}
	d.publish(ctx, domain.EventTypeTaskProgressed, task)
	return nil
}

// FinishTask stores the terminal task and announces that it finished.
func (d *EventingDestination) FinishTask(ctx context.Context, task *domain.Task) error {
	if err := d.Destination.FinishTask(ctx, task); err != nil {
		return err
	}
	d.publish(ctx, domain.EventTypeTaskFinished, task)
	return nil
}

func (d *EventingDestination) publish(ctx context.Context, typ events.EventType, task *domain.Task) {
	evt := events.NewEnvelope(domain.NewTaskEvent(typ, task), events.WithKey(task.ObjectID()))
	op := func() error { return d.publisher.Publish(ctx, evt) }

	var err error
	critical := reliability.IsCriticalEvent(typ)
	if critical {
		err = backoff.Retry(op, backoff.WithContext(d.backOff(), ctx))
	} else {
		err = op()
	}
	if err == nil {
		return
	}

	log := d.logger.Warn
	if critical {
		log = d.logger.Error
	}
	log(ctx, "failed to publish task event",
		"event_type", string(typ),
		"task_id", task.ID().String(),
		"error", err,
	)
}
