package infrastructure

import "context"

type contextKey string

// traceIDKey carries the per-request trace ID through the request lifecycle.
const traceIDKey contextKey = "trace_id"

// WithTraceID returns a context carrying the given trace ID.
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, traceIDKey, traceID)
}

// TraceIDFromContext extracts the trace ID, or "" when none is set.
func TraceIDFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(traceIDKey).(string); ok {
		return id
	}
	return ""
}
