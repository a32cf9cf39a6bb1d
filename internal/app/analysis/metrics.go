package analysis

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// EnvironmentMetrics defines the metrics recorded while dispatching runs.
type EnvironmentMetrics interface {
	IncRunsStarted(ctx context.Context, service string, mode Mode)
	IncRunsRejected(ctx context.Context, service, reason string)
	ObserveTaskDuration(ctx context.Context, service, status string, d time.Duration)
	AddActiveTasks(ctx context.Context, delta int64)
}

type environmentMetrics struct {
	runsStarted  metric.Int64Counter
	runsRejected metric.Int64Counter
	activeTasks  metric.Int64UpDownCounter
	taskDuration metric.Float64Histogram
}

const namespace = "analysis_environment"

// NewEnvironmentMetrics creates the environment's instruments on mp.
func NewEnvironmentMetrics(mp metric.MeterProvider) (*environmentMetrics, error) {
	meter := mp.Meter(namespace, metric.WithInstrumentationVersion("v0.1.0"))

	m := new(environmentMetrics)
	var err error

	if m.runsStarted, err = meter.Int64Counter(
		"runs_started_total",
		metric.WithDescription("Total number of analysis runs dispatched"),
	); err != nil {
		return nil, err
	}

	if m.runsRejected, err = meter.Int64Counter(
		"runs_rejected_total",
		metric.WithDescription("Total number of analysis runs rejected before a task was created"),
	); err != nil {
		return nil, err
	}

	if m.activeTasks, err = meter.Int64UpDownCounter(
		"active_tasks",
		metric.WithDescription("Number of analysis tasks currently running"),
	); err != nil {
		return nil, err
	}

	if m.taskDuration, err = meter.Float64Histogram(
		"task_duration_seconds",
		metric.WithDescription("Time from task start to finish"),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return m, nil
}

func (m *environmentMetrics) IncRunsStarted(ctx context.Context, service string, mode Mode) {
	m.runsStarted.Add(ctx, 1, metric.WithAttributes(
		attribute.String("service", service),
		attribute.String("mode", string(mode)),
	))
}

func (m *environmentMetrics) IncRunsRejected(ctx context.Context, service, reason string) {
	m.runsRejected.Add(ctx, 1, metric.WithAttributes(
		attribute.String("service", service),
		attribute.String("reason", reason),
	))
}

func (m *environmentMetrics) ObserveTaskDuration(ctx context.Context, service, status string, d time.Duration) {
	m.taskDuration.Record(ctx, d.Seconds(), metric.WithAttributes(
		attribute.String("service", service),
		attribute.String("status", status),
	))
}

func (m *environmentMetrics) AddActiveTasks(ctx context.Context, delta int64) {
	m.activeTasks.Add(ctx, delta)
}
