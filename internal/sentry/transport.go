package sentry

import (
	"context"
	"encoding/hex"
	"log/slog"
	"time"

	"github.com/getsentry/sentry-go"

	"github.com/socialchef/beacon/internal/observe"
)

// Transport forwards pipeline events and span trees to Sentry.
type Transport struct {
	client *sentry.Client
	hub    *sentry.Hub
}

func NewTransport(client *sentry.Client) *Transport {
	return &Transport{
		client: client,
		hub:    sentry.NewHub(client, sentry.NewScope()),
	}
}

func (t *Transport) Name() string { return "sentry" }

func (t *Transport) SendEvent(ctx context.Context, ev *observe.Event) error {
	if id := t.hub.CaptureEvent(ToEvent(ev)); id == nil {
		slog.DebugContext(ctx, "Sentry client discarded event", "event_id", ev.ID())
	}
	return nil
}

func (t *Transport) SendSpan(ctx context.Context, tree *observe.SpanTree) error {
	if id := t.hub.CaptureEvent(ToTransaction(tree)); id == nil {
		slog.DebugContext(ctx, "Sentry client discarded transaction", "trace_id", tree.TraceID)
	}
	return nil
}

// ToEvent converts a pipeline event into a Sentry event.
func ToEvent(ev *observe.Event) *sentry.Event {
	out := sentry.NewEvent()
	out.EventID = sentry.EventID(ev.ID())
	out.Timestamp = ev.Timestamp()
	out.Level = sentry.Level(ev.Level)
	out.Message = ev.Message
	out.Environment = ev.Environment
	out.Release = ev.Release
	out.ServerName = ev.ServerName
	out.Platform = "go"

	for k, v := range ev.Tags {
		out.Tags[k] = v
	}
	for k, v := range ev.Extra {
		out.Extra[k] = v
	}

	// Sentry lists the innermost error first.
	for i := len(ev.Exception) - 1; i >= 0; i-- {
		ex := ev.Exception[i]
		se := sentry.Exception{Type: ex.Type, Value: ex.Value}
		if len(ex.Stacktrace) > 0 {
			se.Stacktrace = &sentry.Stacktrace{Frames: toFrames(ex.Stacktrace)}
		}
		out.Exception = append(out.Exception, se)
	}

	if ev.User != nil {
		out.User = sentry.User{
			ID:        ev.User.ID,
			Username:  ev.User.Username,
			Email:     ev.User.Email,
			IPAddress: ev.User.IPAddress,
		}
	}

	if ev.Request != nil {
		out.Request = &sentry.Request{
			URL:         ev.Request.URL,
			Method:      ev.Request.Method,
			QueryString: ev.Request.Query,
			Headers:     ev.Request.Headers,
		}
	}

	for _, b := range ev.Breadcrumbs {
		out.Breadcrumbs = append(out.Breadcrumbs, &sentry.Breadcrumb{
			Type:      b.Type,
			Category:  b.Category,
			Message:   b.Message,
			Data:      b.Data,
			Level:     sentry.Level(b.Level),
			Timestamp: b.Timestamp,
		})
	}

	if ev.Trace != nil {
		out.Contexts["trace"] = sentry.Context{
			"trace_id":       ev.Trace.TraceID,
			"span_id":        ev.Trace.SpanID,
			"parent_span_id": ev.Trace.ParentSpanID,
			"op":             ev.Trace.Op,
		}
	}

	if ev.Feedback != nil {
		out.Tags["feedback.event_id"] = string(ev.Feedback.EventID)
		out.Contexts["feedback"] = sentry.Context{
			"associated_event_id": string(ev.Feedback.EventID),
			"name":                ev.Feedback.Name,
			"contact_email":       ev.Feedback.Email,
			"message":             ev.Feedback.Comments,
		}
	}

	return out
}

// ToTransaction converts a finished span tree into a Sentry transaction event.
func ToTransaction(tree *observe.SpanTree) *sentry.Event {
	out := sentry.NewEvent()
	out.Type = "transaction"
	out.Transaction = tree.Name
	out.StartTime = tree.Start
	out.Timestamp = tree.End
	out.Environment = tree.Environment
	out.Release = tree.Release
	out.ServerName = tree.ServerName
	out.Platform = "go"
	for k, v := range tree.Tags {
		out.Tags[k] = v
	}
	out.Contexts["trace"] = sentry.Context{
		"trace_id": tree.TraceID,
		"span_id":  tree.SpanID,
		"op":       tree.Op,
		"status":   string(tree.Status),
	}

	for _, c := range tree.Children {
		appendSpans(&out.Spans, c)
	}
	return out
}

func appendSpans(dst *[]*sentry.Span, r observe.SpanRecord) {
	*dst = append(*dst, &sentry.Span{
		TraceID:      traceID(r.TraceID),
		SpanID:       spanID(r.SpanID),
		ParentSpanID: spanID(r.ParentSpanID),
		Op:           r.Op,
		Description:  r.Description,
		Status:       spanStatus(r.Status),
		Tags:         r.Tags,
		Data:         r.Data,
		StartTime:    r.Start,
		EndTime:      r.End,
	})
	for _, c := range r.Children {
		appendSpans(dst, c)
	}
}

func toFrames(frames []observe.Frame) []sentry.Frame {
	out := make([]sentry.Frame, 0, len(frames))
	for _, f := range frames {
		out = append(out, sentry.Frame{
			Function: f.Function,
			Module:   f.Module,
			Filename: f.Filename,
			AbsPath:  f.AbsPath,
			Lineno:   f.Lineno,
			InApp:    f.InApp,
		})
	}
	return out
}

func traceID(s string) sentry.TraceID {
	var id sentry.TraceID
	b, err := hex.DecodeString(s)
	if err == nil {
		copy(id[:], b)
	}
	return id
}

func spanID(s string) sentry.SpanID {
	var id sentry.SpanID
	b, err := hex.DecodeString(s)
	if err == nil {
		copy(id[:], b)
	}
	return id
}

func spanStatus(s observe.SpanStatus) sentry.SpanStatus {
	switch s {
	case observe.SpanStatusOK:
		return sentry.SpanStatusOK
	case observe.SpanStatusCancelled:
		return sentry.SpanStatusCanceled
	case observe.SpanStatusInternalError:
		return sentry.SpanStatusInternalError
	case observe.SpanStatusDeadlineExceeded:
		return sentry.SpanStatusDeadlineExceeded
	case observe.SpanStatusInvalidArgument:
		return sentry.SpanStatusInvalidArgument
	case observe.SpanStatusNotFound:
		return sentry.SpanStatusNotFound
	case observe.SpanStatusParentFinishedEarly:
		return sentry.SpanStatusAborted
	default:
		return sentry.SpanStatusUnknown
	}
}

// Flush waits for the Sentry client to send what it has queued.
func (t *Transport) Flush(timeout time.Duration) bool {
	return Flush(t.client, timeout)
}
