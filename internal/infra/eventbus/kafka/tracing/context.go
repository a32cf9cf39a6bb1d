package tracing

import (
	"context"

	"github.com/IBM/sarama"
	"go.opentelemetry.io/otel"
)

// InjectTraceContext writes the span context of ctx into msg's headers using
// the global propagator. Task event consumers extract it to link their spans
// to the run that produced the event.
func InjectTraceContext(ctx context.Context, msg *sarama.ProducerMessage) {
	carrier := MessageCarrier{Headers: msg.Headers}
	otel.GetTextMapPropagator().Inject(ctx, &carrier)
	msg.Headers = carrier.Headers
}
