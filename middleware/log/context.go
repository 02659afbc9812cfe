package logger

import (
	"context"

	"github.com/google/uuid"
)

// WithTraceID adds a trace ID to the context.
// If no trace ID is provided, a new UUID is generated.
func WithTraceID(ctx context.Context, traceID string) context.Context {
	if traceID == "" {
		traceID = uuid.New().String()
	}
	return context.WithValue(ctx, TraceIDKey, traceID)
}

// GetTraceID extracts the trace ID from the context.
// Returns an empty string if no trace ID is found.
func GetTraceID(ctx context.Context) string {
	if traceID, ok := ctx.Value(TraceIDKey).(string); ok {
		return traceID
	}
	return ""
}

// StartOperation tags ctx with a fresh trace ID (unless one is already present)
// and the name of the lifecycle operation being run. Every sweep and reap
// invocation starts here so its log lines can be correlated.
func StartOperation(ctx context.Context, op string) context.Context {
	if GetTraceID(ctx) == "" {
		ctx = WithTraceID(ctx, "")
	}
	return context.WithValue(ctx, OperationKey, op)
}
