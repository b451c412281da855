// Package correlation carries a correlation id from an inbound request to the
// events it produces.
package correlation

import (
	"context"
	"time"

	"github.com/oklog/ulid/v2"
	eventv1 "github.com/smallbiznis/go-genproto/smallbiznis/event/v1"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/protobuf/types/known/structpb"
)

const (
	KeyCorrelationID = "correlation_id"
	KeyTraceID       = "trace_id"
	KeySpanID        = "span_id"
	KeyPublishedAt   = "published_at"
)

type correlationKey struct{}

func WithID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, correlationKey{}, id)
}

func ID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	id, _ := ctx.Value(correlationKey{}).(string)
	return id
}

// Ensure returns ctx carrying a correlation id, minting one when absent.
func Ensure(ctx context.Context) (context.Context, string) {
	id := ID(ctx)
	if id == "" {
		id = ulid.Make().String()
	}
	return WithID(ctx, id), id
}

// Envelope returns an event envelope whose metadata carries the correlation
// id of ctx and, when ctx holds a valid span, its trace and span ids.
func Envelope(ctx context.Context, publishedAt time.Time) *eventv1.Event {
	_, id := Ensure(ctx)
	fields := map[string]*structpb.Value{
		KeyCorrelationID: structpb.NewStringValue(id),
		KeyPublishedAt:   structpb.NewStringValue(publishedAt.UTC().Format(time.RFC3339)),
	}
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		fields[KeyTraceID] = structpb.NewStringValue(sc.TraceID().String())
		fields[KeySpanID] = structpb.NewStringValue(sc.SpanID().String())
	}
	return &eventv1.Event{Metadata: &structpb.Struct{Fields: fields}}
}

// Fields flattens the string metadata of evt.
func Fields(evt *eventv1.Event) map[string]string {
	out := map[string]string{}
	for k, v := range evt.GetMetadata().GetFields() {
		if s, ok := v.GetKind().(*structpb.Value_StringValue); ok {
			out[k] = s.StringValue
		}
	}
	return out
}
