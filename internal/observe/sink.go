package observe

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"
)

// Sink receives finished events and span trees. Implementations must be safe
// for concurrent use and must not block the caller; buffering and retries are
// the sink's own concern.
type Sink interface {
	DeliverEvent(ev *Event)
	DeliverSpan(tree *SpanTree)
	// Flush waits until buffered items are delivered or ctx is done and
	// reports whether everything was delivered.
	Flush(ctx context.Context) bool
}

// NoopSink discards everything.
type NoopSink struct{}

func (NoopSink) DeliverEvent(*Event)        {}
func (NoopSink) DeliverSpan(*SpanTree)      {}
func (NoopSink) Flush(context.Context) bool { return true }

// MultiSink fans out to several sinks in order.
type MultiSink []Sink

func (m MultiSink) DeliverEvent(ev *Event) {
	for _, s := range m {
		s.DeliverEvent(ev)
	}
}

func (m MultiSink) DeliverSpan(tree *SpanTree) {
	for _, s := range m {
		s.DeliverSpan(tree)
	}
}

// Flush flushes every sink concurrently and reports whether all succeeded.
func (m MultiSink) Flush(ctx context.Context) bool {
	g, ctx := errgroup.WithContext(ctx)
	results := make([]bool, len(m))
	for i, s := range m {
		g.Go(func() error {
			results[i] = s.Flush(ctx)
			return nil
		})
	}
	_ = g.Wait()
	for _, ok := range results {
		if !ok {
			return false
		}
	}
	return true
}

// Recorder is an in-memory Sink that keeps everything it receives.
type Recorder struct {
	mu     sync.Mutex
	events []*Event
	spans  []*SpanTree
}

func NewRecorder() *Recorder {
	return &Recorder{}
}

func (r *Recorder) DeliverEvent(ev *Event) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

func (r *Recorder) DeliverSpan(tree *SpanTree) {
	r.mu.Lock()
	r.spans = append(r.spans, tree)
	r.mu.Unlock()
}

func (r *Recorder) Flush(context.Context) bool { return true }

// Events returns the delivered events in delivery order.
func (r *Recorder) Events() []*Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*Event(nil), r.events...)
}

// Spans returns the delivered span trees in delivery order.
func (r *Recorder) Spans() []*SpanTree {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*SpanTree(nil), r.spans...)
}

// EventByID returns the delivered event with the given id, or nil.
func (r *Recorder) EventByID(id EventID) *Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ev := range r.events {
		if ev.ID() == id {
			return ev
		}
	}
	return nil
}

func (r *Recorder) Reset() {
	r.mu.Lock()
	r.events = nil
	r.spans = nil
	r.mu.Unlock()
}
