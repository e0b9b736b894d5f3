// Package integration exercises the server, the queue transport and the
// worker together with the broker replaced by an in-memory queue.
package integration

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/socialchef/beacon/internal/api"
	"github.com/socialchef/beacon/internal/config"
	"github.com/socialchef/beacon/internal/observe"
	"github.com/socialchef/beacon/internal/sink"
	"github.com/socialchef/beacon/internal/worker"
)

// memoryQueue stands in for Redis: it keeps enqueued tasks in order.
type memoryQueue struct {
	mu    sync.Mutex
	tasks []*asynq.Task
}

func (q *memoryQueue) EnqueueContext(_ context.Context, task *asynq.Task, _ ...asynq.Option) (*asynq.TaskInfo, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.tasks = append(q.tasks, task)
	return &asynq.TaskInfo{ID: task.Type(), Queue: worker.QueueName}, nil
}

func (q *memoryQueue) drain() []*asynq.Task {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := q.tasks
	q.tasks = nil
	return out
}

// downstream records what the worker forwards.
type downstream struct {
	mu     sync.Mutex
	events []*observe.Event
	spans  []*observe.SpanTree
}

func (d *downstream) Name() string { return "downstream" }

func (d *downstream) SendEvent(_ context.Context, ev *observe.Event) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.events = append(d.events, ev)
	return nil
}

func (d *downstream) SendSpan(_ context.Context, tree *observe.SpanTree) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.spans = append(d.spans, tree)
	return nil
}

type fixture struct {
	router http.Handler
	hub    *observe.Hub
	queue  *memoryQueue
	mux    *asynq.ServeMux
	out    *downstream
	sink   *sink.Buffered
}

func setup(t *testing.T) *fixture {
	t.Helper()

	queue := &memoryQueue{}
	buffered := sink.NewBuffered(worker.NewQueueTransport(queue))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		buffered.Close(ctx)
	})

	hub := observe.New(observe.Options{
		Environment:      "integration",
		Release:          "beacon@test",
		TracesSampleRate: 1,
		Sink:             buffered,
		BeforeSend:       observe.ScrubExtra("password"),
	})

	cfg := &config.Config{DataDir: t.TempDir(), DownstreamURL: "http://127.0.0.1:1/"}
	r := chi.NewRouter()
	api.NewServer(cfg, hub, nil, &http.Client{Timeout: time.Second}).Register(r)

	out := &downstream{}
	workerHub := observe.New(observe.Options{})
	mux := worker.NewServeMux(worker.NewProcessor(nil, out), worker.ObserveMiddleware(workerHub))

	return &fixture{router: r, hub: hub, queue: queue, mux: mux, out: out, sink: buffered}
}

// deliver flushes the server side and runs every queued task through the worker.
func (f *fixture) deliver(t *testing.T) {
	t.Helper()
	require.True(t, f.hub.Flush(2*time.Second))
	for _, task := range f.queue.drain() {
		require.NoError(t, f.mux.ProcessTask(context.Background(), task))
	}
}

func TestErrorRoute_ReachesDownstreamThroughQueue(t *testing.T) {
	f := setup(t)

	rr := httptest.NewRecorder()
	f.router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/error", nil))
	require.Equal(t, http.StatusInternalServerError, rr.Code)

	f.deliver(t)

	require.Len(t, f.out.events, 1)
	ev := f.out.events[0]
	assert.Equal(t, observe.LevelFatal, ev.Level)
	assert.Equal(t, "integration", ev.Environment)
	require.Len(t, ev.Breadcrumbs, 2)
	assert.Equal(t, "About to throw a test error", ev.Breadcrumbs[0].Message)
	assert.Equal(t, "Simulated user ID: 1234", ev.Breadcrumbs[1].Message)
	assert.EqualValues(t, 1234, ev.Breadcrumbs[1].Data["user_id"])

	require.Len(t, f.out.spans, 1)
	tree := f.out.spans[0]
	assert.Equal(t, "GET /error", tree.Name)
	assert.Equal(t, observe.SpanStatusInternalError, tree.Status)
	require.NotNil(t, ev.Trace)
	assert.Equal(t, tree.TraceID, ev.Trace.TraceID)
}

func TestQueuePreservesDeliveryOrder(t *testing.T) {
	f := setup(t)

	for _, target := range []string{"/error/sync", "/error/fs", "/error/db"} {
		f.router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, target, nil))
	}
	f.deliver(t)

	require.Len(t, f.out.events, 3)
	assert.Equal(t, "sync", f.out.events[0].Tags["error.kind"])
	assert.Equal(t, "filesystem", f.out.events[1].Tags["error.kind"])
	assert.Equal(t, "database", f.out.events[2].Tags["error.kind"])
	assert.Len(t, f.out.spans, 3)
}

func TestHomeRoute_OnlyTransactionIsDelivered(t *testing.T) {
	f := setup(t)

	f.router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	f.deliver(t)

	assert.Empty(t, f.out.events)
	require.Len(t, f.out.spans, 1)
	assert.Equal(t, observe.SpanStatusOK, f.out.spans[0].Status)
	assert.Zero(t, f.hub.ActiveFrames())
}
