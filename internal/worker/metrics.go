package worker

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "beacon/worker"

// Task outcomes recorded by WorkerMetrics.
const (
	OutcomeDelivered = "delivered"
	OutcomeFailed    = "failed"
	OutcomeInvalid   = "invalid"
)

// WorkerMetrics measures forwarding of queued telemetry. A nil
// *WorkerMetrics records nothing.
type WorkerMetrics struct {
	tasks             metric.Int64Counter
	taskDuration      metric.Float64Histogram
	transportFailures metric.Int64Counter
}

// NewWorkerMetrics creates the instruments on the global MeterProvider.
func NewWorkerMetrics() (*WorkerMetrics, error) {
	meter := otel.Meter(meterName)

	tasks, err := meter.Int64Counter(
		"worker.tasks.total",
		metric.WithDescription("Queued telemetry tasks handled, by outcome"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	taskDuration, err := meter.Float64Histogram(
		"worker.task.duration",
		metric.WithDescription("Time spent forwarding one queued item to every transport"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.005, 0.025, 0.1, 0.5, 1, 5),
	)
	if err != nil {
		return nil, err
	}

	transportFailures, err := meter.Int64Counter(
		"worker.transport.failures.total",
		metric.WithDescription("Forwarding attempts rejected by a downstream transport"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	return &WorkerMetrics{
		tasks:             tasks,
		taskDuration:      taskDuration,
		transportFailures: transportFailures,
	}, nil
}

// RecordTask counts one handled task and, unless the payload was invalid,
// how long forwarding took.
func (m *WorkerMetrics) RecordTask(ctx context.Context, taskType, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	typeAttr := attribute.String("task.type", taskType)
	m.tasks.Add(ctx, 1, metric.WithAttributes(typeAttr, attribute.String("outcome", outcome)))
	if outcome != OutcomeInvalid {
		m.taskDuration.Record(ctx, elapsed.Seconds(), metric.WithAttributes(typeAttr))
	}
}

func (m *WorkerMetrics) RecordTransportFailure(ctx context.Context, transport string) {
	if m == nil {
		return
	}
	m.transportFailures.Add(ctx, 1, metric.WithAttributes(attribute.String("transport", transport)))
}
