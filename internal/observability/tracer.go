package observability

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// StartSpan creates a new span with the given name and attributes
func StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return Tracer().Start(ctx, name,
		trace.WithAttributes(attrs...),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
}

// StartClientSpan creates a span for an outgoing database call.
func StartClientSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return Tracer().Start(ctx, name,
		trace.WithAttributes(attrs...),
		trace.WithSpanKind(trace.SpanKindClient),
	)
}

// StartServerSpan creates a new server span (for incoming requests)
func StartServerSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return Tracer().Start(ctx, name,
		trace.WithAttributes(attrs...),
		trace.WithSpanKind(trace.SpanKindServer),
	)
}

// SetSpanError marks the span as errored
func SetSpanError(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// SetSpanOK marks the span as successful
func SetSpanOK(span trace.Span) {
	span.SetStatus(codes.Ok, "")
}

// Common attribute keys for nhook spans
var (
	AttrTable      = attribute.Key("nhook.table")
	AttrColumn     = attribute.Key("nhook.column")
	AttrIdentity   = attribute.Key("nhook.identity")
	AttrQueryKind  = attribute.Key("nhook.query.kind")
	AttrFound      = attribute.Key("nhook.found")
	AttrRows       = attribute.Key("nhook.rows")
	AttrDurationMs = attribute.Key("nhook.duration_ms")
	AttrNodeID     = attribute.Key("nhook.node.id")
)
