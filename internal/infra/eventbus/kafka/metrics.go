package kafka

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// PublisherMetrics tracks successful and failed event publishing.
type PublisherMetrics interface {
	IncMessagePublished(ctx context.Context, topic string)
	IncPublishError(ctx context.Context, topic string)
}

type publisherMetrics struct {
	published metric.Int64Counter
	errors    metric.Int64Counter
}

// NewPublisherMetrics creates the publisher counters on mp.
func NewPublisherMetrics(mp metric.MeterProvider) (PublisherMetrics, error) {
	meter := mp.Meter("analysis-armada/kafka")

	published, err := meter.Int64Counter("kafka_messages_published_total",
		metric.WithDescription("Number of events published to Kafka"))
	if err != nil {
		return nil, fmt.Errorf("creating published counter: %w", err)
	}
	errs, err := meter.Int64Counter("kafka_publish_errors_total",
		metric.WithDescription("Number of events that failed to publish"))
	if err != nil {
		return nil, fmt.Errorf("creating error counter: %w", err)
	}
	return &publisherMetrics{published: published, errors: errs}, nil
}

func (m *publisherMetrics) IncMessagePublished(ctx context.Context, topic string) {
	m.published.Add(ctx, 1, metric.WithAttributes(attribute.String("topic", topic)))
}

func (m *publisherMetrics) IncPublishError(ctx context.Context, topic string) {
	m.errors.Add(ctx, 1, metric.WithAttributes(attribute.String("topic", topic)))
}
