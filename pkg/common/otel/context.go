package otel

import (
	"context"

	"go.opentelemetry.io/otel/trace"
)

// zeroTraceID is logged for work that runs outside any span, such as the CLI
// commands that only read records.
var zeroTraceID = trace.TraceID{}.String()

// GetTraceID returns the trace ID of the span in ctx, or the all-zero ID when
// ctx carries no valid span.
func GetTraceID(ctx context.Context) string {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.IsValid() {
		return zeroTraceID
	}
	return sc.TraceID().String()
}
