package observability

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

const (
	headerTraceParent = "traceparent"
	headerTraceState  = "tracestate"
)

// MessageTrace is the W3C trace context stored in an invalidation message.
// A node applying the message continues the publisher's trace.
type MessageTrace struct {
	TraceParent string `json:"traceparent,omitempty"`
	TraceState  string `json:"tracestate,omitempty"`
}

// CaptureTrace returns the trace context of ctx, or the zero value when
// tracing is off.
func CaptureTrace(ctx context.Context) MessageTrace {
	if !Enabled() {
		return MessageTrace{}
	}
	carrier := propagation.MapCarrier{}
	otel.GetTextMapPropagator().Inject(ctx, carrier)
	return MessageTrace{
		TraceParent: carrier.Get(headerTraceParent),
		TraceState:  carrier.Get(headerTraceState),
	}
}

// Attach returns ctx carrying mt as its remote parent.
func (mt MessageTrace) Attach(ctx context.Context) context.Context {
	if mt.TraceParent == "" {
		return ctx
	}
	return otel.GetTextMapPropagator().Extract(ctx, propagation.MapCarrier{
		headerTraceParent: mt.TraceParent,
		headerTraceState:  mt.TraceState,
	})
}

// LogIDs returns the trace and span IDs of the span in ctx, empty when
// there is none. The pair feeds logging.OpWithTrace.
func LogIDs(ctx context.Context) (traceID, spanID string) {
	sc := trace.SpanContextFromContext(ctx)
	if sc.HasTraceID() {
		traceID = sc.TraceID().String()
	}
	if sc.HasSpanID() {
		spanID = sc.SpanID().String()
	}
	return traceID, spanID
}
