package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/socialchef/beacon/internal/observe"
)

// SpanTransport replays finished span trees into an OTel tracer, keeping the
// recorded start and end times. Events are not exported.
type SpanTransport struct {
	tracer trace.Tracer
}

func NewSpanTransport(tp trace.TracerProvider) *SpanTransport {
	return &SpanTransport{tracer: tp.Tracer("github.com/socialchef/beacon/observe")}
}

func (t *SpanTransport) Name() string { return "otlp" }

func (t *SpanTransport) SendEvent(context.Context, *observe.Event) error { return nil }

func (t *SpanTransport) SendSpan(ctx context.Context, tree *observe.SpanTree) error {
	attrs := []attribute.KeyValue{
		attribute.String("deployment.environment", tree.Environment),
		attribute.String("service.version", tree.Release),
	}
	t.replay(ctx, tree.SpanRecord, tree.Name, trace.SpanKindServer, attrs)
	return nil
}

func (t *SpanTransport) replay(ctx context.Context, r observe.SpanRecord, name string, kind trace.SpanKind, extra []attribute.KeyValue) {
	attrs := append([]attribute.KeyValue(nil), extra...)
	attrs = append(attrs,
		attribute.String("beacon.op", r.Op),
		attribute.String("beacon.trace_id", r.TraceID),
		attribute.String("beacon.span_id", r.SpanID),
	)
	for k, v := range r.Tags {
		attrs = append(attrs, attribute.String(k, v))
	}
	for k, v := range r.Data {
		attrs = append(attrs, toAttribute(k, v))
	}

	ctx, span := t.tracer.Start(ctx, name,
		trace.WithTimestamp(r.Start),
		trace.WithSpanKind(kind),
		trace.WithAttributes(attrs...),
	)
	for _, c := range r.Children {
		childName := c.Description
		if childName == "" {
			childName = c.Op
		}
		t.replay(ctx, c, childName, trace.SpanKindInternal, nil)
	}
	code, desc := statusCode(r.Status)
	span.SetStatus(code, desc)
	span.End(trace.WithTimestamp(r.End))
}

func statusCode(s observe.SpanStatus) (codes.Code, string) {
	switch s {
	case observe.SpanStatusOK:
		return codes.Ok, ""
	case observe.SpanStatusUndefined:
		return codes.Unset, ""
	default:
		return codes.Error, string(s)
	}
}

func toAttribute(key string, v any) attribute.KeyValue {
	switch val := v.(type) {
	case string:
		return attribute.String(key, val)
	case bool:
		return attribute.Bool(key, val)
	case int:
		return attribute.Int(key, val)
	case int64:
		return attribute.Int64(key, val)
	case float64:
		return attribute.Float64(key, val)
	default:
		return attribute.String(key, fmt.Sprint(val))
	}
}
