package logger

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace"

	"github.com/socialchef/beacon/internal/observe"
)

func TestNew(t *testing.T) {
	t.Run("production", func(t *testing.T) {
		l := New("production", nil)
		if l == nil {
			t.Fatal("expected logger to be non-nil")
		}
	})

	t.Run("development", func(t *testing.T) {
		l := New("development", nil)
		if l == nil {
			t.Fatal("expected logger to be non-nil")
		}
	})
}

type mockSpan struct {
	trace.Span
	sc trace.SpanContext
}

func (s mockSpan) SpanContext() trace.SpanContext {
	return s.sc
}

func TestWithTraceContext(t *testing.T) {
	t.Run("valid span", func(t *testing.T) {
		traceID, _ := trace.TraceIDFromHex("0102030405060708090a0b0c0d0e0f10")
		spanID, _ := trace.SpanIDFromHex("0102030405060708")
		sc := trace.NewSpanContext(trace.SpanContextConfig{
			TraceID: traceID,
			SpanID:  spanID,
		})
		ctx := trace.ContextWithSpan(context.Background(), mockSpan{sc: sc})

		attr := WithTraceContext(ctx)
		if attr.Key != "trace" {
			t.Errorf("expected key 'trace', got %s", attr.Key)
		}

		group := attr.Value.Group()
		if len(group) != 2 {
			t.Errorf("expected 2 attributes in group, got %d", len(group))
		}

		foundTraceID := false
		foundSpanID := false
		for _, a := range group {
			if a.Key == "trace_id" && a.Value.String() == "0102030405060708090a0b0c0d0e0f10" {
				foundTraceID = true
			}
			if a.Key == "span_id" && a.Value.String() == "0102030405060708" {
				foundSpanID = true
			}
		}

		if !foundTraceID {
			t.Error("trace_id not found or incorrect")
		}
		if !foundSpanID {
			t.Error("span_id not found or incorrect")
		}
	})

	t.Run("invalid span", func(t *testing.T) {
		ctx := context.Background()
		attr := WithTraceContext(ctx)
		if !attr.Equal(slog.Attr{}) {
			t.Errorf("expected empty attribute for invalid span, got %+v", attr)
		}
	})
}

func TestHandler_RecordsBreadcrumbsInsideUnit(t *testing.T) {
	hub := observe.New(observe.Options{})
	var buf bytes.Buffer
	l := slog.New(NewHandler(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}), hub))

	ctx, token := hub.Enter(context.Background())
	defer hub.Exit(token)

	l.DebugContext(ctx, "too chatty")
	l.With("component", "api").WarnContext(ctx, "disk almost full", "free_mb", 12)

	crumbs := hub.CurrentScope(ctx).Breadcrumbs()
	require.Len(t, crumbs, 1, "debug records are not recorded")
	assert.Equal(t, "log", crumbs[0].Category)
	assert.Equal(t, "disk almost full", crumbs[0].Message)
	assert.Equal(t, observe.LevelWarning, crumbs[0].Level)
	assert.EqualValues(t, 12, crumbs[0].Data["free_mb"])

	assert.Contains(t, buf.String(), "disk almost full")
	assert.Contains(t, buf.String(), "component=api")
}

func TestHandler_IgnoresRecordsOutsideUnit(t *testing.T) {
	hub := observe.New(observe.Options{})
	l := slog.New(NewHandler(slog.NewTextHandler(&bytes.Buffer{}, nil), hub))

	l.ErrorContext(context.Background(), "process level")

	assert.Empty(t, hub.CurrentScope(context.Background()).Breadcrumbs())
}

func TestLevelMapping(t *testing.T) {
	assert.Equal(t, observe.LevelError, level(slog.LevelError))
	assert.Equal(t, observe.LevelWarning, level(slog.LevelWarn))
	assert.Equal(t, observe.LevelInfo, level(slog.LevelInfo))
	assert.Equal(t, observe.LevelDebug, level(slog.LevelDebug))
}
