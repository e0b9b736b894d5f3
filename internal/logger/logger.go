package logger

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"go.opentelemetry.io/otel/log"
	"go.opentelemetry.io/otel/log/global"
	"go.opentelemetry.io/otel/trace"

	"github.com/socialchef/beacon/internal/observe"
)

// New creates a new slog.Logger based on the environment.
// For "production", it returns a JSON handler.
// For other environments, it returns a text handler with debug level.
// Records are mirrored to the OTel log provider and, when hub is non-nil,
// recorded as breadcrumbs on the unit of work carried by the context.
func New(env string, hub *observe.Hub) *slog.Logger {
	var handler slog.Handler
	if env == "production" {
		handler = slog.NewJSONHandler(os.Stdout, nil)
	} else {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
			Level: slog.LevelDebug,
		})
	}

	return slog.New(NewHandler(handler, hub))
}

// NewHandler wraps handler with the OTel log bridge and breadcrumb recording.
func NewHandler(handler slog.Handler, hub *observe.Hub) slog.Handler {
	return &otelHandler{handler: handler, hub: hub}
}

// WithTraceContext returns a slog.Attr containing trace_id and span_id if available in the context.
func WithTraceContext(ctx context.Context) slog.Attr {
	span := trace.SpanFromContext(ctx)
	if !span.SpanContext().IsValid() {
		return slog.Attr{}
	}
	sc := span.SpanContext()
	return slog.Group("trace",
		slog.String("trace_id", sc.TraceID().String()),
		slog.String("span_id", sc.SpanID().String()),
	)
}

type otelHandler struct {
	handler slog.Handler
	hub     *observe.Hub
	attrs   []slog.Attr
}

func (h *otelHandler) Enabled(ctx context.Context, l slog.Level) bool {
	return h.handler.Enabled(ctx, l)
}

func (h *otelHandler) Handle(ctx context.Context, r slog.Record) error {
	// Always log to stdout first
	if err := h.handler.Handle(ctx, r); err != nil {
		return err
	}

	if h.hub != nil && r.Level >= slog.LevelInfo && h.hub.InUnit(ctx) {
		h.hub.AddBreadcrumb(ctx, breadcrumb(r))
	}

	logger := global.GetLoggerProvider().Logger("github.com/socialchef/beacon")

	var otelRecord log.Record
	otelRecord.SetTimestamp(r.Time)
	otelRecord.SetBody(log.StringValue(r.Message))
	otelRecord.SetSeverity(severity(r.Level))
	otelRecord.SetSeverityText(r.Level.String())

	for _, a := range h.attrs {
		otelRecord.AddAttributes(log.KeyValue{Key: a.Key, Value: toOTelValue(a.Value)})
	}
	r.Attrs(func(a slog.Attr) bool {
		otelRecord.AddAttributes(log.KeyValue{
			Key:   a.Key,
			Value: toOTelValue(a.Value),
		})
		return true
	})

	logger.Emit(ctx, otelRecord)
	return nil
}

func (h *otelHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &otelHandler{
		handler: h.handler.WithAttrs(attrs),
		hub:     h.hub,
		attrs:   append(append([]slog.Attr(nil), h.attrs...), attrs...),
	}
}

func (h *otelHandler) WithGroup(name string) slog.Handler {
	return &otelHandler{handler: h.handler.WithGroup(name), hub: h.hub, attrs: h.attrs}
}

func breadcrumb(r slog.Record) observe.Breadcrumb {
	b := observe.Breadcrumb{
		Timestamp: r.Time,
		Type:      "default",
		Category:  "log",
		Message:   r.Message,
		Level:     level(r.Level),
	}
	if r.NumAttrs() > 0 {
		b.Data = make(map[string]any, r.NumAttrs())
		r.Attrs(func(a slog.Attr) bool {
			b.Data[a.Key] = a.Value.Resolve().Any()
			return true
		})
	}
	return b
}

// Map slog level to OTel severity
func severity(l slog.Level) log.Severity {
	switch {
	case l >= slog.LevelError:
		return log.SeverityError
	case l >= slog.LevelWarn:
		return log.SeverityWarn
	case l >= slog.LevelInfo:
		return log.SeverityInfo
	default:
		return log.SeverityDebug
	}
}

func level(l slog.Level) observe.Level {
	switch {
	case l >= slog.LevelError:
		return observe.LevelError
	case l >= slog.LevelWarn:
		return observe.LevelWarning
	case l >= slog.LevelInfo:
		return observe.LevelInfo
	default:
		return observe.LevelDebug
	}
}

func toOTelValue(v slog.Value) log.Value {
	switch v.Kind() {
	case slog.KindString:
		return log.StringValue(v.String())
	case slog.KindInt64:
		return log.Int64Value(v.Int64())
	case slog.KindBool:
		return log.BoolValue(v.Bool())
	case slog.KindFloat64:
		return log.Float64Value(v.Float64())
	default:
		return log.StringValue(fmt.Sprint(v.Any()))
	}
}
