package middleware

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	apperrors "github.com/socialchef/beacon/internal/errors"
	"github.com/socialchef/beacon/internal/observe"
)

// Observe opens a unit of work per request, traces it as an http.server
// transaction and turns panics into captured fatal events and a 500.
func Observe(hub *observe.Hub) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, token := hub.Enter(r.Context())
			defer hub.Exit(token)

			hub.SetRequest(ctx, requestInfo(r))
			hub.SetTags(ctx, map[string]string{
				"http.method": r.Method,
				"http.route":  r.URL.Path,
			})

			tx := hub.StartTransaction(ctx, "http.server", r.Method+" "+r.URL.Path)
			ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
			r = r.WithContext(ctx)

			defer func() {
				if pattern := routePattern(r); pattern != "" {
					hub.SetTag(ctx, "http.route", pattern)
					tx.SetName(r.Method + " " + pattern)
				}

				if rec := recover(); rec != nil {
					if rec == http.ErrAbortHandler {
						tx.FinishWithStatus(observe.SpanStatusCancelled)
						panic(rec)
					}
					id := hub.Recover(ctx, rec)
					tx.SetTag("http.status_code", "500")
					tx.FinishWithStatus(observe.SpanStatusInternalError)
					if ww.Status() == 0 {
						apperrors.WriteJSON(ww, apperrors.NewInternalError("Internal server error", panicErr(rec)), string(id))
					}
					return
				}

				status := ww.Status()
				if status == 0 {
					status = http.StatusOK
				}
				tx.SetTag("http.status_code", fmt.Sprint(status))
				if errors.Is(ctx.Err(), context.Canceled) {
					tx.FinishWithStatus(observe.SpanStatusCancelled)
					return
				}
				tx.FinishWithStatus(observe.SpanStatusFromHTTP(status))
			}()

			next.ServeHTTP(ww, r)
		})
	}
}

func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		return rctx.RoutePattern()
	}
	return ""
}

func requestInfo(r *http.Request) *observe.Request {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	headers := make(map[string]string, len(r.Header))
	for k := range r.Header {
		headers[k] = r.Header.Get(k)
	}
	return &observe.Request{
		Method:     r.Method,
		URL:        scheme + "://" + r.Host + r.URL.Path,
		Query:      r.URL.RawQuery,
		Headers:    headers,
		RemoteAddr: r.RemoteAddr,
	}
}

func panicErr(v any) error {
	if err, ok := v.(error); ok {
		return err
	}
	return &observe.PanicError{Value: v}
}
