package tracing

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

func TestInjectExtract(t *testing.T) {
	otel.SetTextMapPropagator(propagation.TraceContext{})
	tp := sdktrace.NewTracerProvider()
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	t.Run("round trips span context", func(t *testing.T) {
		// Given: an active span
		ctx, span := tp.Tracer("test").Start(context.Background(), "emit")
		defer span.End()

		// When: injecting and extracting
		carrier := InjectContext(ctx)
		restored := ExtractContext(context.Background(), carrier)

		// Then: the trace id survives
		require.Contains(t, carrier, "traceparent")
		assert.Equal(t, GetTraceID(ctx), GetTraceID(restored))
		assert.Len(t, LogFields(restored), 2)
	})

	t.Run("no span yields nil carrier", func(t *testing.T) {
		assert.Nil(t, InjectContext(context.Background()))
		assert.Empty(t, GetTraceID(context.Background()))
		assert.Nil(t, LogFields(context.Background()))
	})

	t.Run("empty carrier keeps ctx", func(t *testing.T) {
		ctx := context.Background()
		assert.Equal(t, ctx, ExtractContext(ctx, nil))
	})
}
