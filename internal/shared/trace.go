package shared

import (
	"context"

	"github.com/google/uuid"
)

type traceKey struct{}
type correlationKey struct{}
type toolKey struct{}

// WithTraceID attaches a trace_id to the context.
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, traceKey{}, traceID)
}

// TraceID extracts trace_id from context. Returns "-" if absent.
func TraceID(ctx context.Context) string {
	if v, ok := ctx.Value(traceKey{}).(string); ok && v != "" {
		return v
	}
	return "-"
}

// NewTraceID generates a new trace_id.
func NewTraceID() string {
	return uuid.NewString()
}

// WithCorrelationID attaches the correlation id of the command being handled.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, correlationKey{}, id)
}

// CorrelationID extracts the correlation id. Returns "" if absent.
func CorrelationID(ctx context.Context) string {
	if v, ok := ctx.Value(correlationKey{}).(string); ok {
		return v
	}
	return ""
}

// WithTool attaches the tool name being invoked.
func WithTool(ctx context.Context, tool string) context.Context {
	return context.WithValue(ctx, toolKey{}, tool)
}

// Tool extracts the tool name. Returns "" if absent.
func Tool(ctx context.Context) string {
	if v, ok := ctx.Value(toolKey{}).(string); ok {
		return v
	}
	return ""
}

// LogAttrs returns slog-style key/value pairs for the ids present on ctx.
func LogAttrs(ctx context.Context) []any {
	attrs := []any{"trace_id", TraceID(ctx)}
	if id := CorrelationID(ctx); id != "" {
		attrs = append(attrs, "correlation_id", id)
	}
	if tool := Tool(ctx); tool != "" {
		attrs = append(attrs, "tool", tool)
	}
	return attrs
}
