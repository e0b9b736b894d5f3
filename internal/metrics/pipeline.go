package metrics

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

var (
	noopMeter = noop.NewMeterProvider().Meter("beacon/pipeline")

	// Event metrics
	EventsCaptured, _ = noopMeter.Int64Counter("events.captured.total")
	EventsDropped, _  = noopMeter.Int64Counter("events.dropped.total")

	// Span metrics
	SpansFinished, _ = noopMeter.Int64Counter("spans.finished.total")

	// Sink metrics
	SinkDropped, _      = noopMeter.Int64Counter("sink.dropped.total")
	SinkSendDuration, _ = noopMeter.Float64Histogram("sink.send.duration")
)

// Init swaps the noop instruments for ones backed by the global MeterProvider.
func Init() error {
	meter := otel.Meter("beacon/pipeline")

	var err error

	// Event metrics
	EventsCaptured, err = meter.Int64Counter(
		"events.captured.total",
		metric.WithDescription("Total number of events built by the pipeline"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return err
	}

	EventsDropped, err = meter.Int64Counter(
		"events.dropped.total",
		metric.WithDescription("Total number of events dropped before delivery"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return err
	}

	// Span metrics
	SpansFinished, err = meter.Int64Counter(
		"spans.finished.total",
		metric.WithDescription("Total number of sampled spans finished"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return err
	}

	// Sink metrics
	SinkDropped, err = meter.Int64Counter(
		"sink.dropped.total",
		metric.WithDescription("Total number of items a sink could not deliver"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return err
	}

	SinkSendDuration, err = meter.Float64Histogram(
		"sink.send.duration",
		metric.WithDescription("Duration of a single transport send"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.005, 0.01, 0.05, 0.1, 0.5, 1, 2, 5),
	)
	if err != nil {
		return err
	}

	return nil
}

func KindAttr(kind string) metric.AddOption {
	return metric.WithAttributes(attribute.String("kind", kind))
}

func ReasonAttr(reason string) metric.AddOption {
	return metric.WithAttributes(attribute.String("reason", reason))
}

func StatusAttr(status string) metric.AddOption {
	return metric.WithAttributes(attribute.String("status", status))
}

func TransportAttr(name string) metric.RecordOption {
	return metric.WithAttributes(attribute.String("transport", name))
}
