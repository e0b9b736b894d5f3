package httpclient

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/socialchef/beacon/internal/observe"
)

// DefaultTransport is the base transport used by the instrumented client.
var DefaultTransport = http.DefaultTransport

// observeTransport records every outgoing request as an http.client span
// and an http breadcrumb on the caller's unit of work.
type observeTransport struct {
	base http.RoundTripper
	hub  *observe.Hub
}

func (t *observeTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	ctx := req.Context()
	target := req.Method + " " + req.URL.Redacted()

	span := t.hub.StartSpan(ctx, "http.client", target)
	span.SetData("http.method", req.Method)
	span.SetData("url", req.URL.Redacted())

	otelSpan := trace.SpanFromContext(ctx)
	resp, err := t.base.RoundTrip(req)
	if err != nil {
		otelSpan.RecordError(err)
		otelSpan.SetStatus(codes.Error, err.Error())
		span.FinishWithStatus(observe.SpanStatusInternalError)
		t.hub.AddBreadcrumb(ctx, observe.Breadcrumb{
			Type:     "http",
			Category: "http",
			Message:  target + " failed",
			Level:    observe.LevelError,
			Data:     map[string]any{"method": req.Method, "url": req.URL.Redacted(), "error": err.Error()},
		})
		return nil, err
	}

	level := observe.LevelInfo
	if resp.StatusCode >= 400 {
		otelSpan.SetStatus(codes.Error, fmt.Sprintf("HTTP status %d", resp.StatusCode))
		level = observe.LevelWarning
	}
	span.SetTag("http.status_code", strconv.Itoa(resp.StatusCode))
	span.FinishWithStatus(observe.SpanStatusFromHTTP(resp.StatusCode))
	t.hub.AddBreadcrumb(ctx, observe.Breadcrumb{
		Type:     "http",
		Category: "http",
		Message:  target,
		Level:    level,
		Data:     map[string]any{"method": req.Method, "url": req.URL.Redacted(), "status_code": resp.StatusCode},
	})
	return resp, nil
}

func newTransport(hub *observe.Hub, base http.RoundTripper) http.RoundTripper {
	return otelhttp.NewTransport(&observeTransport{base: base, hub: hub},
		otelhttp.WithSpanNameFormatter(func(operation string, r *http.Request) string {
			return fmt.Sprintf("%s %s", r.Method, r.URL.Path)
		}),
	)
}

// NewInstrumentedClient returns an http.Client traced by both OpenTelemetry
// and the observe hub.
func NewInstrumentedClient(hub *observe.Hub, timeout time.Duration) *http.Client {
	return &http.Client{
		Transport: newTransport(hub, DefaultTransport),
		Timeout:   timeout,
	}
}

// WrapClient wraps an existing http.Client's transport with the same instrumentation.
func WrapClient(hub *observe.Hub, client *http.Client) *http.Client {
	if client.Transport == nil {
		client.Transport = DefaultTransport
	}
	client.Transport = newTransport(hub, client.Transport)
	return client
}
