package httpclient

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/socialchef/beacon/internal/observe"
)

func TestInstrumentedClient_RecordsSpanAndBreadcrumb(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	defer srv.Close()

	rec := observe.NewRecorder()
	hub := observe.New(observe.Options{Sink: rec, TracesSampleRate: 1})
	ctx, token := hub.Enter(context.Background())
	defer hub.Exit(token)

	tx := hub.StartTransaction(ctx, "http.server", "GET /proxy")
	client := NewInstrumentedClient(hub, 5*time.Second)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/brew", nil)
	require.NoError(t, err)
	resp, err := client.Do(req)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Same(t, tx, hub.ActiveSpan(ctx), "client span must not stay active")
	tx.Finish()

	spans := rec.Spans()
	require.Len(t, spans, 1)
	require.Len(t, spans[0].Children, 1)
	child := spans[0].Children[0]
	assert.Equal(t, "http.client", child.Op)
	assert.Equal(t, "418", child.Tags["http.status_code"])

	crumbs := hub.CurrentScope(ctx).Breadcrumbs()
	require.Len(t, crumbs, 1)
	assert.Equal(t, "http", crumbs[0].Category)
	assert.Equal(t, observe.LevelWarning, crumbs[0].Level)
	assert.Equal(t, http.StatusTeapot, crumbs[0].Data["status_code"])
}

func TestInstrumentedClient_TransportError(t *testing.T) {
	hub := observe.New(observe.Options{TracesSampleRate: 1})
	ctx, token := hub.Enter(context.Background())
	defer hub.Exit(token)

	client := NewInstrumentedClient(hub, time.Second)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "http://127.0.0.1:1/unreachable", nil)
	require.NoError(t, err)

	_, err = client.Do(req)
	require.Error(t, err)

	crumbs := hub.CurrentScope(ctx).Breadcrumbs()
	require.Len(t, crumbs, 1)
	assert.Equal(t, observe.LevelError, crumbs[0].Level)
}
