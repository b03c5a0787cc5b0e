package operations

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const TracerName = "sxmcli.operations"

// BatchTracer instruments batch execution: one span per batch with a
// child span per file or phase under it.
type BatchTracer struct {
	tracer trace.Tracer
}

// NewBatchTracer resolves the tracer from the global provider, so a
// process that never installs one gets no-op spans.
func NewBatchTracer() *BatchTracer {
	return &BatchTracer{tracer: otel.Tracer(TracerName)}
}

// StartBatch opens the span covering one whole batch.
func (bt *BatchTracer) StartBatch(ctx context.Context, kind, token string, items int) (context.Context, trace.Span) {
	return bt.tracer.Start(ctx, "batch."+kind,
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("batch.token", token),
			attribute.String("batch.kind", kind),
			attribute.Int("batch.items", items),
		),
	)
}

// StartItem opens a child span for one unit of work within a batch.
func (bt *BatchTracer) StartItem(ctx context.Context, op, target string) (context.Context, trace.Span) {
	return bt.tracer.Start(ctx, "batch.item."+op,
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("item.op", op),
			attribute.String("item.target", target),
		),
	)
}

// MarkCancelled flags a span whose batch stopped before completion.
func MarkCancelled(span trace.Span) {
	span.SetAttributes(attribute.Bool("batch.cancelled", true))
	span.SetStatus(codes.Error, "cancelled")
}
