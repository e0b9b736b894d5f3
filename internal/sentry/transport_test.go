package sentry

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/getsentry/sentry-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/socialchef/beacon/internal/observe"
)

func captured(t *testing.T, fn func(ctx context.Context, hub *observe.Hub) observe.EventID) *observe.Event {
	t.Helper()
	rec := observe.NewRecorder()
	hub := observe.New(observe.Options{Sink: rec, Environment: "test", Release: "beacon@1.0.0", TracesSampleRate: 1})
	ctx, token := hub.Enter(context.Background())
	defer hub.Exit(token)
	id := fn(ctx, hub)
	ev := rec.EventByID(id)
	require.NotNil(t, ev)
	return ev
}

func TestToEvent_Exception(t *testing.T) {
	ev := captured(t, func(ctx context.Context, hub *observe.Hub) observe.EventID {
		hub.SetTag(ctx, "route", "/error")
		hub.SetUser(ctx, &observe.User{ID: "1234"})
		hub.AddBreadcrumb(ctx, observe.Breadcrumb{Category: "custom", Message: "About to throw", Level: observe.LevelWarning})
		hub.StartTransaction(ctx, "http.server", "GET /error")
		return hub.CaptureException(ctx, fmt.Errorf("handler: %w", errors.New("root cause")))
	})

	out := ToEvent(ev)
	assert.Equal(t, sentry.EventID(ev.ID()), out.EventID)
	assert.Equal(t, sentry.LevelError, out.Level)
	assert.Equal(t, "test", out.Environment)
	assert.Equal(t, "beacon@1.0.0", out.Release)
	assert.Equal(t, "/error", out.Tags["route"])
	assert.Equal(t, "1234", out.User.ID)

	require.Len(t, out.Exception, 2)
	assert.Equal(t, "root cause", out.Exception[0].Value, "innermost error first")
	assert.Equal(t, "handler: root cause", out.Exception[1].Value)

	require.Len(t, out.Breadcrumbs, 1)
	assert.Equal(t, sentry.LevelWarning, out.Breadcrumbs[0].Level)

	trace, ok := out.Contexts["trace"]
	require.True(t, ok)
	assert.Equal(t, ev.Trace.TraceID, trace["trace_id"])
}

func TestToEvent_Feedback(t *testing.T) {
	ev := captured(t, func(ctx context.Context, hub *observe.Hub) observe.EventID {
		return hub.CaptureFeedback(ctx, observe.Feedback{EventID: "abc", Name: "Ada", Email: "ada@example.com", Comments: "Broken"})
	})

	out := ToEvent(ev)
	assert.Equal(t, "Broken", out.Message)
	assert.Equal(t, "abc", out.Tags["feedback.event_id"])
	fb, ok := out.Contexts["feedback"]
	require.True(t, ok)
	assert.Equal(t, "ada@example.com", fb["contact_email"])
}

func TestToTransaction(t *testing.T) {
	rec := observe.NewRecorder()
	hub := observe.New(observe.Options{Sink: rec, TracesSampleRate: 1})
	ctx, token := hub.Enter(context.Background())
	tx := hub.StartTransaction(ctx, "http.server", "GET /slow")
	db := hub.StartSpan(ctx, "db.query", "SELECT 1")
	hub.StartSpan(ctx, "db.row", "scan").Finish()
	db.Finish()
	running := hub.StartSpan(ctx, "http.client", "GET downstream")
	tx.Finish()
	hub.Exit(token)

	require.Len(t, rec.Spans(), 1)
	out := ToTransaction(rec.Spans()[0])

	assert.Equal(t, "transaction", out.Type)
	assert.Equal(t, "GET /slow", out.Transaction)
	require.Len(t, out.Spans, 3)
	assert.Equal(t, "db.query", out.Spans[0].Op)
	assert.Equal(t, "db.row", out.Spans[1].Op)
	assert.Equal(t, out.Spans[0].SpanID, out.Spans[1].ParentSpanID)
	assert.Equal(t, sentry.SpanStatusAborted, out.Spans[2].Status, "parent finished early")
	assert.True(t, running.Finished())
	assert.Equal(t, traceID(tx.TraceID), out.Spans[0].TraceID)
}

func TestInit_EmptyDSN(t *testing.T) {
	client, err := Init("", "test", "beacon", "beacon@1.0.0")
	require.NoError(t, err)
	assert.Nil(t, client)
	assert.True(t, Flush(client, 0))
}

func TestSpanStatus(t *testing.T) {
	assert.Equal(t, sentry.SpanStatusOK, spanStatus(observe.SpanStatusOK))
	assert.Equal(t, sentry.SpanStatusCanceled, spanStatus(observe.SpanStatusCancelled))
	assert.Equal(t, sentry.SpanStatusUnknown, spanStatus(observe.SpanStatus("bogus")))
}
