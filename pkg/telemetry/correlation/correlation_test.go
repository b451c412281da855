package correlation

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace"
)

func TestEnsureKeepsExistingID(t *testing.T) {
	ctx := WithID(context.Background(), "req-1")
	_, id := Ensure(ctx)
	assert.Equal(t, "req-1", id)

	ctx, minted := Ensure(context.Background())
	assert.NotEmpty(t, minted)
	assert.Equal(t, minted, ID(ctx))
	assert.Empty(t, ID(nil))
}

func TestEnvelopeCarriesTraceIdentifiers(t *testing.T) {
	traceID, err := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
	require.NoError(t, err)
	spanID, err := trace.SpanIDFromHex("00f067aa0ba902b7")
	require.NoError(t, err)
	sc := trace.NewSpanContext(trace.SpanContextConfig{TraceID: traceID, SpanID: spanID, TraceFlags: trace.FlagsSampled})
	ctx := trace.ContextWithSpanContext(WithID(context.Background(), "req-2"), sc)

	at := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	fields := Fields(Envelope(ctx, at))
	assert.Equal(t, "req-2", fields[KeyCorrelationID])
	assert.Equal(t, "4bf92f3577b34da6a3ce929d0e0e4736", fields[KeyTraceID])
	assert.Equal(t, "00f067aa0ba902b7", fields[KeySpanID])
	assert.Equal(t, "2025-03-01T12:00:00Z", fields[KeyPublishedAt])
}

func TestEnvelopeWithoutSpan(t *testing.T) {
	fields := Fields(Envelope(context.Background(), time.Now()))
	assert.NotEmpty(t, fields[KeyCorrelationID])
	assert.NotContains(t, fields, KeyTraceID)
}
