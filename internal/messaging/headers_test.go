package messaging

import (
	"context"
	"testing"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

func TestRecordHeaders_RoundTripTraceContext(t *testing.T) {
	prev := otel.GetTextMapPropagator()
	otel.SetTextMapPropagator(propagation.TraceContext{})
	t.Cleanup(func() { otel.SetTextMapPropagator(prev) })

	traceID, err := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
	require.NoError(t, err)
	spanID, err := trace.SpanIDFromHex("00f067aa0ba902b7")
	require.NoError(t, err)
	ctx := trace.ContextWithSpanContext(context.Background(), trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    traceID,
		SpanID:     spanID,
		TraceFlags: trace.FlagsSampled,
	}))

	msg := kafka.Message{Headers: []kafka.Header{
		{Key: "Traceparent", Value: []byte("stale")},
		{Key: "x-tenant", Value: []byte("books")},
	}}
	stampHeaders(ctx, &msg)

	headers := recordHeaders{h: &msg.Headers}
	assert.ElementsMatch(t, []string{"x-tenant", "traceparent", "content-type"}, headers.Keys(),
		"stale mixed-case header is replaced, unrelated headers survive")
	assert.Equal(t, ContentTypeJSON, headers.Get("Content-Type"))
	assert.Equal(t, "books", headers.Get("x-tenant"))

	got := trace.SpanContextFromContext(remoteContext(context.Background(), &msg))
	assert.Equal(t, traceID, got.TraceID())
	assert.Equal(t, spanID, got.SpanID())
	assert.True(t, got.IsSampled())
}

func TestRemoteContext_WithoutHeaders(t *testing.T) {
	msg := kafka.Message{}
	got := trace.SpanContextFromContext(remoteContext(context.Background(), &msg))
	assert.False(t, got.IsValid())
}

func TestParseBrokers(t *testing.T) {
	assert.Equal(t, []string{"a:9092", "b:9092"}, ParseBrokers(" a:9092, ,b:9092 "))
	assert.Nil(t, ParseBrokers(""))
}
