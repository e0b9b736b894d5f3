package worker

import (
	"context"
	"errors"

	"github.com/hibiken/asynq"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/socialchef/beacon/internal/telemetry"
)

const tracerName = "github.com/socialchef/beacon/worker"

// OTelMiddleware records an OpenTelemetry consumer span per forwarded task.
func OTelMiddleware(h asynq.Handler) asynq.Handler {
	return asynq.HandlerFunc(func(ctx context.Context, t *asynq.Task) error {
		taskID, _ := asynq.GetTaskID(ctx)
		queue, _ := asynq.GetQueueName(ctx)
		retries, _ := asynq.GetRetryCount(ctx)
		maxRetry, _ := asynq.GetMaxRetry(ctx)

		ctx, span := telemetry.Tracer(tracerName).Start(ctx, "forward "+t.Type(),
			trace.WithSpanKind(trace.SpanKindConsumer),
			trace.WithAttributes(
				attribute.String("messaging.system", "asynq"),
				attribute.String("messaging.destination.name", queue),
				attribute.String("messaging.message.id", taskID),
				attribute.Int("messaging.message.body.size", len(t.Payload())),
				attribute.Int("asynq.retry_count", retries),
				attribute.Int("asynq.max_retry", maxRetry),
			),
		)
		defer span.End()

		err := h.ProcessTask(ctx, t)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			span.SetAttributes(attribute.Bool("asynq.retryable", !errors.Is(err, asynq.SkipRetry) && retries < maxRetry))
		}
		return err
	})
}
