package sink

import (
	"context"
	"log/slog"

	"github.com/socialchef/beacon/internal/observe"
)

// LogTransport writes events and span trees as structured log records.
type LogTransport struct {
	logger *slog.Logger
}

func NewLogTransport(logger *slog.Logger) *LogTransport {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogTransport{logger: logger}
}

func (t *LogTransport) Name() string { return "log" }

func (t *LogTransport) SendEvent(ctx context.Context, ev *observe.Event) error {
	attrs := []any{
		"event_id", ev.ID(),
		"kind", ev.Kind,
		"timestamp", ev.Timestamp(),
		"tags", ev.Tags,
		"breadcrumbs", len(ev.Breadcrumbs),
	}
	if len(ev.Exception) > 0 {
		attrs = append(attrs, "error.type", ev.Exception[0].Type, "error.message", ev.Exception[0].Value)
	}
	if ev.User != nil {
		attrs = append(attrs, "user.id", ev.User.ID)
	}
	if ev.Trace != nil {
		attrs = append(attrs, "trace_id", ev.Trace.TraceID, "span_id", ev.Trace.SpanID)
	}
	if ev.Feedback != nil {
		attrs = append(attrs, "feedback.event_id", ev.Feedback.EventID)
	}

	msg := ev.Message
	if msg == "" && len(ev.Exception) > 0 {
		msg = ev.Exception[0].Value
	}
	t.logger.Log(ctx, slogLevel(ev.Level), msg, attrs...)
	return nil
}

func (t *LogTransport) SendSpan(ctx context.Context, tree *observe.SpanTree) error {
	spans := 0
	tree.Walk(func(observe.SpanRecord) { spans++ })
	t.logger.InfoContext(ctx, "Transaction finished",
		"transaction", tree.Name,
		"op", tree.Op,
		"trace_id", tree.TraceID,
		"status", tree.Status,
		"duration_ms", tree.Duration().Milliseconds(),
		"spans", spans,
	)
	return nil
}

func slogLevel(l observe.Level) slog.Level {
	switch l {
	case observe.LevelDebug:
		return slog.LevelDebug
	case observe.LevelWarning:
		return slog.LevelWarn
	case observe.LevelError, observe.LevelFatal:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
