package tracing

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/ahrav/analysis-armada/internal/domain/events"
)

// StartProducerSpan starts the span covering the publish of evt to topic.
// The envelope key doubles as the Kafka message key.
func StartProducerSpan(ctx context.Context, topic string, evt events.EventEnvelope, tracer trace.Tracer) (context.Context, trace.Span) {
	return tracer.Start(ctx, "kafka.produce",
		trace.WithSpanKind(trace.SpanKindProducer),
		trace.WithAttributes(
			semconv.MessagingSystemKafka,
			semconv.MessagingDestinationName(topic),
			semconv.MessagingOperationPublish,
			semconv.MessagingKafkaMessageKey(evt.Key),
			attribute.String("event.type", string(evt.Type)),
		),
	)
}
