package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/socialchef/beacon/internal/observe"
	"github.com/socialchef/beacon/internal/sink"
)

// Processor forwards queued telemetry to the downstream transports.
type Processor struct {
	transports []sink.Transport
	metrics    *WorkerMetrics
}

func NewProcessor(metrics *WorkerMetrics, transports ...sink.Transport) *Processor {
	return &Processor{
		transports: transports,
		metrics:    metrics,
	}
}

func (p *Processor) HandleEvent(ctx context.Context, t *asynq.Task) error {
	start := time.Now()

	var ev observe.Event
	if err := json.Unmarshal(t.Payload(), &ev); err != nil {
		p.metrics.RecordTask(ctx, t.Type(), OutcomeInvalid, time.Since(start))
		return fmt.Errorf("failed to unmarshal event: %v: %w", err, asynq.SkipRetry)
	}

	slog.DebugContext(ctx, "Forwarding event", "event_id", ev.ID(), "kind", ev.Kind)

	err := p.forward(ctx, func(ctx context.Context, tr sink.Transport) error { return tr.SendEvent(ctx, &ev) })
	p.record(ctx, t.Type(), start, err)
	return err
}

func (p *Processor) HandleSpan(ctx context.Context, t *asynq.Task) error {
	start := time.Now()

	var tree observe.SpanTree
	if err := json.Unmarshal(t.Payload(), &tree); err != nil {
		p.metrics.RecordTask(ctx, t.Type(), OutcomeInvalid, time.Since(start))
		return fmt.Errorf("failed to unmarshal span tree: %v: %w", err, asynq.SkipRetry)
	}

	slog.DebugContext(ctx, "Forwarding span tree", "trace_id", tree.TraceID, "transaction", tree.Name)

	err := p.forward(ctx, func(ctx context.Context, tr sink.Transport) error { return tr.SendSpan(ctx, &tree) })
	p.record(ctx, t.Type(), start, err)
	return err
}

// forward sends to every transport concurrently and joins the failures.
func (p *Processor) forward(ctx context.Context, send func(context.Context, sink.Transport) error) error {
	errs := RunParallel(ctx, len(p.transports), 0, func(ctx context.Context, i int) error {
		tr := p.transports[i]
		if err := send(ctx, tr); err != nil {
			p.metrics.RecordTransportFailure(ctx, tr.Name())
			slog.ErrorContext(ctx, "Transport failed", "transport", tr.Name(), "error", err)
			return fmt.Errorf("%s: %w", tr.Name(), err)
		}
		return nil
	})
	return errors.Join(errs...)
}

func (p *Processor) record(ctx context.Context, taskType string, start time.Time, err error) {
	outcome := OutcomeDelivered
	if err != nil {
		outcome = OutcomeFailed
	}
	p.metrics.RecordTask(ctx, taskType, outcome, time.Since(start))
}
