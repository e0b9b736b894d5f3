package observe

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultMaxErrorDepth bounds how many wrapped errors are unwrapped into an exception chain.
const DefaultMaxErrorDepth = 10

// Options configure a Hub. They are read once by New and never change afterwards.
type Options struct {
	Environment string
	Release     string
	ServerName  string

	// TracesSampleRate is the probability in [0, 1] that a transaction is recorded.
	TracesSampleRate float64
	// TracesSampler, when set, overrides TracesSampleRate per transaction.
	TracesSampler func(SamplingContext) float64

	// MaxBreadcrumbs caps breadcrumbs per scope. Zero means DefaultMaxBreadcrumbs,
	// a negative value disables breadcrumbs.
	MaxBreadcrumbs int
	MaxErrorDepth  int

	AttachStacktrace bool
	SendDefaultPII   bool

	// BeforeSend runs on every event before delivery. Returning nil drops the event.
	BeforeSend func(*Event, *EventHint) *Event
	// BeforeBreadcrumb runs on every breadcrumb. Returning nil drops it.
	BeforeBreadcrumb func(*Breadcrumb) *Breadcrumb

	Sink   Sink
	Logger *slog.Logger
	Clock  func() time.Time
}

// SamplingContext is passed to Options.TracesSampler.
type SamplingContext struct {
	Op   string
	Name string
	Ctx  context.Context
}

// Token identifies one frame of the scope arena.
type Token uint64

type tokenKey struct{}

type lastEvent struct {
	mu sync.Mutex
	id EventID
}

func (l *lastEvent) set(id EventID) {
	l.mu.Lock()
	l.id = id
	l.mu.Unlock()
}

func (l *lastEvent) get() EventID {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.id
}

type frame struct {
	scope *Scope
	last  *lastEvent
	// span is the active span inherited from the parent frame at push time.
	span *Span
}

// Hub owns the scope arena and the delivery pipeline of one process.
type Hub struct {
	opts   Options
	sink   Sink
	logger *slog.Logger

	root     *Scope
	rootLast *lastEvent

	mu     sync.RWMutex
	frames map[Token]*frame
	next   atomic.Uint64

	clockMu sync.Mutex
	lastTS  time.Time
}

// New builds a Hub from opts, filling in defaults.
func New(opts Options) *Hub {
	if opts.MaxBreadcrumbs == 0 {
		opts.MaxBreadcrumbs = DefaultMaxBreadcrumbs
	}
	if opts.MaxErrorDepth <= 0 {
		opts.MaxErrorDepth = DefaultMaxErrorDepth
	}
	if opts.TracesSampleRate < 0 {
		opts.TracesSampleRate = 0
	}
	if opts.TracesSampleRate > 1 {
		opts.TracesSampleRate = 1
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	sink := opts.Sink
	if sink == nil {
		sink = NoopSink{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Hub{
		opts:     opts,
		sink:     sink,
		logger:   logger,
		root:     NewScope(opts.MaxBreadcrumbs),
		rootLast: &lastEvent{},
		frames:   make(map[Token]*frame),
	}
}

// Options returns the options the hub was built with.
func (h *Hub) Options() Options {
	return h.opts
}

// Enter opens a new unit of work. The returned context carries a copy of the
// current scope; Exit must be called with the returned token.
func (h *Hub) Enter(ctx context.Context) (context.Context, Token) {
	return h.push(ctx, &lastEvent{})
}

// Exit releases a unit of work opened by Enter or WithScope. Spans started
// inside it that are still running are finished as cancelled.
func (h *Hub) Exit(token Token) {
	h.mu.Lock()
	f, ok := h.frames[token]
	delete(h.frames, token)
	h.mu.Unlock()
	if !ok {
		return
	}

	// prev links a child to its parent and a transaction to the span that
	// was active before it, so the walk reaches every span this frame opened.
	for span := f.scope.Span(); span != nil && span != f.span; span = span.prev {
		span.FinishWithStatus(SpanStatusCancelled)
	}
}

// WithScope runs fn with a copy of the current scope pushed. The copy is
// discarded when fn returns or panics.
func (h *Hub) WithScope(ctx context.Context, fn func(ctx context.Context, scope *Scope) error) error {
	last := h.rootLast
	if f := h.frame(ctx); f != nil {
		last = f.last
	}
	ctx, token := h.push(ctx, last)
	defer h.Exit(token)
	return fn(ctx, h.CurrentScope(ctx))
}

func (h *Hub) push(ctx context.Context, last *lastEvent) (context.Context, Token) {
	if ctx == nil {
		ctx = context.Background()
	}
	parent := h.CurrentScope(ctx)
	scope := parent.Clone()
	token := Token(h.next.Add(1))

	h.mu.Lock()
	h.frames[token] = &frame{scope: scope, last: last, span: scope.Span()}
	h.mu.Unlock()

	return context.WithValue(ctx, tokenKey{}, token), token
}

func (h *Hub) frame(ctx context.Context) *frame {
	if ctx == nil {
		return nil
	}
	token, ok := ctx.Value(tokenKey{}).(Token)
	if !ok {
		return nil
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.frames[token]
}

// CurrentScope returns the scope of the unit of work carried by ctx, or the
// process-wide scope outside any unit. A released unit yields a detached
// copy so late writes are discarded.
func (h *Hub) CurrentScope(ctx context.Context) *Scope {
	if ctx == nil {
		return h.root
	}
	token, ok := ctx.Value(tokenKey{}).(Token)
	if !ok {
		return h.root
	}
	h.mu.RLock()
	f := h.frames[token]
	h.mu.RUnlock()
	if f == nil {
		return h.root.Clone()
	}
	return f.scope
}

// InUnit reports whether ctx belongs to an open unit of work.
func (h *Hub) InUnit(ctx context.Context) bool {
	return h.frame(ctx) != nil
}

// ActiveFrames reports how many units of work are currently open.
func (h *Hub) ActiveFrames() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.frames)
}

func (h *Hub) SetTag(ctx context.Context, key, value string) {
	h.CurrentScope(ctx).SetTag(key, value)
}

func (h *Hub) SetTags(ctx context.Context, tags map[string]string) {
	h.CurrentScope(ctx).SetTags(tags)
}

func (h *Hub) SetExtra(ctx context.Context, key string, value any) {
	h.CurrentScope(ctx).SetExtra(key, value)
}

// SetUser sets the identity of the current unit. Nil clears it explicitly.
func (h *Hub) SetUser(ctx context.Context, u *User) {
	h.CurrentScope(ctx).SetUser(u)
}

func (h *Hub) SetRequest(ctx context.Context, r *Request) {
	h.CurrentScope(ctx).SetRequest(r)
}

// AddBreadcrumb records b on the current scope after normalising its level
// and timestamp and running BeforeBreadcrumb.
func (h *Hub) AddBreadcrumb(ctx context.Context, b Breadcrumb) {
	if h.opts.MaxBreadcrumbs < 0 {
		return
	}
	if b.Timestamp.IsZero() {
		b.Timestamp = h.opts.Clock()
	}
	b.Level = b.Level.normalize()
	if h.opts.BeforeBreadcrumb != nil {
		out, ok := h.runBeforeBreadcrumb(&b)
		if !ok || out == nil {
			return
		}
		b = *out
	}
	h.CurrentScope(ctx).AddBreadcrumb(b)
}

func (h *Hub) runBeforeBreadcrumb(b *Breadcrumb) (out *Breadcrumb, ok bool) {
	orig := b.copy()
	defer func() {
		if r := recover(); r != nil {
			h.logger.Warn("BeforeBreadcrumb panicked", "panic", r)
			out, ok = &orig, true
		}
	}()
	return h.opts.BeforeBreadcrumb(b), true
}

func (h *Hub) ClearBreadcrumbs(ctx context.Context) {
	h.CurrentScope(ctx).ClearBreadcrumbs()
}

// LastEventID returns the id of the last event captured in the unit of work
// carried by ctx, or the empty EventID if none was captured.
func (h *Hub) LastEventID(ctx context.Context) EventID {
	if f := h.frame(ctx); f != nil {
		return f.last.get()
	}
	return h.rootLast.get()
}

func (h *Hub) recordLastEvent(ctx context.Context, id EventID) {
	if f := h.frame(ctx); f != nil {
		f.last.set(id)
		return
	}
	h.rootLast.set(id)
}

// Flush waits for the sink to drain, at most timeout. It reports whether the
// sink finished in time.
func (h *Hub) Flush(timeout time.Duration) bool {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return h.sink.Flush(ctx)
}

// now returns a timestamp that never goes backwards within this hub.
func (h *Hub) now() time.Time {
	t := h.opts.Clock()
	h.clockMu.Lock()
	defer h.clockMu.Unlock()
	if t.Before(h.lastTS) {
		t = h.lastTS
	}
	h.lastTS = t
	return t
}
