// Package sink provides observe.Sink implementations that queue items in
// memory and hand them to a Transport on a background goroutine.
package sink

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/socialchef/beacon/internal/metrics"
	"github.com/socialchef/beacon/internal/observe"
	"github.com/socialchef/beacon/internal/utils"
)

// DefaultQueueSize is the number of items a Buffered sink holds before dropping.
const DefaultQueueSize = 256

// Transport sends items to a backend. It may block and may fail; Buffered
// calls it from a single goroutine.
type Transport interface {
	Name() string
	SendEvent(ctx context.Context, ev *observe.Event) error
	SendSpan(ctx context.Context, tree *observe.SpanTree) error
}

type item struct {
	event *observe.Event
	span  *observe.SpanTree
	// flushed is closed once every item queued before it has been sent.
	flushed chan struct{}
}

// Buffered is a FIFO observe.Sink backed by a bounded queue. Items are sent
// in the order they were delivered.
type Buffered struct {
	transport Transport
	retry     utils.RetryConfig
	logger    *slog.Logger

	queue chan item
	done  chan struct{}

	closeOnce sync.Once
	mu        sync.RWMutex
	closed    bool
}

type Option func(*Buffered)

func WithQueueSize(n int) Option {
	return func(b *Buffered) {
		if n > 0 {
			b.queue = make(chan item, n)
		}
	}
}

func WithRetry(cfg utils.RetryConfig) Option {
	return func(b *Buffered) { b.retry = cfg }
}

func WithLogger(l *slog.Logger) Option {
	return func(b *Buffered) { b.logger = l }
}

// NewBuffered starts the delivery goroutine for t.
func NewBuffered(t Transport, opts ...Option) *Buffered {
	b := &Buffered{
		transport: t,
		retry:     utils.DeliveryRetryConfig(),
		logger:    slog.Default(),
		queue:     make(chan item, DefaultQueueSize),
		done:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(b)
	}
	go b.run()
	return b
}

func (b *Buffered) DeliverEvent(ev *observe.Event) {
	b.enqueue(item{event: ev})
}

func (b *Buffered) DeliverSpan(tree *observe.SpanTree) {
	b.enqueue(item{span: tree})
}

func (b *Buffered) enqueue(it item) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		b.drop(it, "closed")
		return
	}
	select {
	case b.queue <- it:
	default:
		b.drop(it, "queue_full")
	}
}

func (b *Buffered) drop(it item, reason string) {
	metrics.SinkDropped.Add(context.Background(), 1, metrics.ReasonAttr(reason))
	if it.event != nil {
		b.logger.Warn("Dropping event", "transport", b.transport.Name(), "event_id", it.event.ID(), "reason", reason)
		return
	}
	if it.span != nil {
		b.logger.Warn("Dropping span tree", "transport", b.transport.Name(), "trace_id", it.span.TraceID, "reason", reason)
	}
}

// Flush blocks until every item delivered before the call has been sent or
// ctx is done.
func (b *Buffered) Flush(ctx context.Context) bool {
	marker := item{flushed: make(chan struct{})}

	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		select {
		case <-b.done:
			return true
		case <-ctx.Done():
			return false
		}
	}
	select {
	case b.queue <- marker:
	case <-ctx.Done():
		b.mu.RUnlock()
		return false
	}
	b.mu.RUnlock()

	select {
	case <-marker.flushed:
		return true
	case <-ctx.Done():
		return false
	}
}

// Close stops accepting items, sends what is queued and stops the goroutine.
func (b *Buffered) Close(ctx context.Context) bool {
	b.closeOnce.Do(func() {
		b.mu.Lock()
		b.closed = true
		close(b.queue)
		b.mu.Unlock()
	})
	select {
	case <-b.done:
		return true
	case <-ctx.Done():
		return false
	}
}

func (b *Buffered) run() {
	defer close(b.done)
	for it := range b.queue {
		if it.flushed != nil {
			close(it.flushed)
			continue
		}
		b.send(it)
	}
}

func (b *Buffered) send(it item) {
	start := time.Now()
	retry := b.retry
	if retry.OnRetry == nil {
		retry.OnRetry = func(attempt int, err error, delay time.Duration) {
			b.logger.Warn("Transport send failed, retrying",
				"transport", b.transport.Name(), "attempt", attempt, "delay", delay, "error", err)
		}
	}
	_, err := utils.WithRetry(context.Background(), func(ctx context.Context) (struct{}, error) {
		if it.event != nil {
			return struct{}{}, b.transport.SendEvent(ctx, it.event)
		}
		return struct{}{}, b.transport.SendSpan(ctx, it.span)
	}, retry)
	metrics.SinkSendDuration.Record(context.Background(), time.Since(start).Seconds(), metrics.TransportAttr(b.transport.Name()))

	if err != nil {
		b.drop(it, "send_failed")
		b.logger.Error("Transport send failed", "transport", b.transport.Name(), "error", err)
	}
}
