package logger

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWithTraceIDContext(t *testing.T) {
	t.Run("keeps provided trace ID", func(t *testing.T) {
		ctx := WithTraceID(context.Background(), "test-trace-123")
		assert.Equal(t, "test-trace-123", GetTraceID(ctx))
	})

	t.Run("generates UUID when empty", func(t *testing.T) {
		ctx := WithTraceID(context.Background(), "")
		assert.Len(t, GetTraceID(ctx), 36)
	})
}

func TestGetTraceIDMissing(t *testing.T) {
	assert.Empty(t, GetTraceID(context.Background()))
}

func TestStartOperation(t *testing.T) {
	t.Run("assigns a trace ID when absent", func(t *testing.T) {
		ctx := StartOperation(context.Background(), "reap")
		assert.NotEmpty(t, GetTraceID(ctx))
		assert.Equal(t, "reap", ctx.Value(OperationKey))
	})

	t.Run("preserves an existing trace ID", func(t *testing.T) {
		ctx := WithTraceID(context.Background(), "upstream")
		ctx = StartOperation(ctx, "sweep")
		assert.Equal(t, "upstream", GetTraceID(ctx))
	})
}
