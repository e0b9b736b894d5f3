package worker

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"
)

func TestOTelMiddleware(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder)))
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	ok := OTelMiddleware(asynq.HandlerFunc(func(context.Context, *asynq.Task) error { return nil }))
	bad := OTelMiddleware(asynq.HandlerFunc(func(context.Context, *asynq.Task) error {
		return fmt.Errorf("bad payload: %w", asynq.SkipRetry)
	}))

	require.NoError(t, ok.ProcessTask(context.Background(), asynq.NewTask(TypeDeliverEvent, []byte(`{}`))))
	err := bad.ProcessTask(context.Background(), asynq.NewTask(TypeDeliverSpan, []byte(`nope`)))
	assert.True(t, errors.Is(err, asynq.SkipRetry))

	spans := recorder.Ended()
	require.Len(t, spans, 2)

	assert.Equal(t, "forward "+TypeDeliverEvent, spans[0].Name())
	assert.Equal(t, trace.SpanKindConsumer, spans[0].SpanKind())
	assert.Equal(t, codes.Unset, spans[0].Status().Code)

	assert.Equal(t, "forward "+TypeDeliverSpan, spans[1].Name())
	assert.Equal(t, codes.Error, spans[1].Status().Code)
	retryable := false
	for _, kv := range spans[1].Attributes() {
		if kv.Key == "asynq.retryable" {
			retryable = true
			assert.False(t, kv.Value.AsBool())
		}
	}
	assert.True(t, retryable, "asynq.retryable attribute missing")
}
