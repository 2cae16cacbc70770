package otel

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Standard attribute keys for toolrelay spans and metrics.
var (
	AttrToolName      = attribute.Key("toolrelay.tool.name")
	AttrCorrelationID = attribute.Key("toolrelay.correlation.id")
	AttrOutcome       = attribute.Key("toolrelay.outcome")
	AttrTable         = attribute.Key("toolrelay.table")
	AttrRoute         = attribute.Key("http.route")
	AttrStatus        = attribute.Key("http.response.status_code")
)

// StartSpan is a convenience wrapper that starts an internal span with common attributes.
func StartSpan(ctx context.Context, tracer trace.Tracer, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return tracer.Start(ctx, name,
		trace.WithAttributes(attrs...),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
}

// StartServerSpan starts a span for an inbound request (gateway).
func StartServerSpan(ctx context.Context, tracer trace.Tracer, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return tracer.Start(ctx, name,
		trace.WithAttributes(attrs...),
		trace.WithSpanKind(trace.SpanKindServer),
	)
}
