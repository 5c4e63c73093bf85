package broker

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

func TestTracingRoundTrip(t *testing.T) {
	otel.SetTextMapPropagator(propagation.TraceContext{})

	tp := sdktrace.NewTracerProvider()
	ctx, span := tp.Tracer("test").Start(t.Context(), "publish")
	defer span.End()

	msg := Message{RoutingKey: "k", MessageID: "m1"}
	InjectTracing(ctx, &msg)
	require.Contains(t, msg.Headers, "traceparent")

	extracted := trace.SpanContextFromContext(ExtractTracing(t.Context(), msg.Headers))
	require.Equal(t, span.SpanContext().TraceID(), extracted.TraceID())
	require.True(t, extracted.IsRemote())
}

func TestInjectWithoutSpanLeavesHeadersAlone(t *testing.T) {
	otel.SetTextMapPropagator(propagation.TraceContext{})

	msg := Message{RoutingKey: "k"}
	InjectTracing(t.Context(), &msg)
	require.Nil(t, msg.Headers)
}

func TestDispositionString(t *testing.T) {
	require.Equal(t, "ack", Ack.String())
	require.Equal(t, "requeue", Requeue.String())
	require.Equal(t, "reject", Reject.String())
	require.Equal(t, "unknown", Disposition(42).String())
}
