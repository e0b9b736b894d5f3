package observe

import (
	"context"
	"maps"
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/socialchef/beacon/internal/metrics"
)

type SpanStatus string

const (
	SpanStatusUndefined           SpanStatus = ""
	SpanStatusOK                  SpanStatus = "ok"
	SpanStatusCancelled           SpanStatus = "cancelled"
	SpanStatusInternalError       SpanStatus = "internal_error"
	SpanStatusDeadlineExceeded    SpanStatus = "deadline_exceeded"
	SpanStatusInvalidArgument     SpanStatus = "invalid_argument"
	SpanStatusNotFound            SpanStatus = "not_found"
	SpanStatusUnknown             SpanStatus = "unknown"
	SpanStatusParentFinishedEarly SpanStatus = "parent_finished_early"
)

// SpanStatusFromHTTP maps an HTTP response code to a span status.
func SpanStatusFromHTTP(code int) SpanStatus {
	switch {
	case code < 400:
		return SpanStatusOK
	case code == 400 || code == 422:
		return SpanStatusInvalidArgument
	case code == 404:
		return SpanStatusNotFound
	case code == 499:
		return SpanStatusCancelled
	case code == 504:
		return SpanStatusDeadlineExceeded
	case code >= 500:
		return SpanStatusInternalError
	default:
		return SpanStatusUnknown
	}
}

// Span is a timed operation. Identity fields are fixed at creation; the
// remaining state is guarded by the span tree's lock. A finished span is
// terminal.
type Span struct {
	TraceID      string
	SpanID       string
	ParentSpanID string
	Op           string
	Description  string
	Sampled      bool

	hub    *Hub
	scope  *Scope
	prev   *Span
	parent *Span
	root   *Span

	// treeMu is owned by the root span and shared by every span of the tree.
	treeMu *sync.Mutex

	start    time.Time
	end      time.Time
	status   SpanStatus
	tags     map[string]string
	data     map[string]any
	children []*Span
	finished bool
}

// StartTransaction starts a root span and makes it the active span of the
// current scope. The sampling decision is taken here and inherited by every
// child.
func (h *Hub) StartTransaction(ctx context.Context, op, name string) *Span {
	scope := h.CurrentScope(ctx)
	span := &Span{
		TraceID:     newTraceID(),
		SpanID:      newSpanID(),
		Op:          op,
		Description: name,
		hub:         h,
		scope:       scope,
		treeMu:      &sync.Mutex{},
		start:       h.now(),
	}
	span.root = span
	span.Sampled = h.sample(SamplingContext{Op: op, Name: name, Ctx: ctx})
	span.prev = scope.Span()
	scope.setSpan(span)
	return span
}

// StartSpan starts a child of the active span, or a transaction when no
// span is active.
func (h *Hub) StartSpan(ctx context.Context, op, description string) *Span {
	scope := h.CurrentScope(ctx)
	parent := scope.Span()
	if parent == nil {
		return h.StartTransaction(ctx, op, description)
	}

	span := &Span{
		TraceID:      parent.TraceID,
		SpanID:       newSpanID(),
		ParentSpanID: parent.SpanID,
		Op:           op,
		Description:  description,
		Sampled:      parent.Sampled,
		hub:          h,
		scope:        scope,
		parent:       parent,
		root:         parent.root,
		treeMu:       parent.treeMu,
		start:        h.now(),
		prev:         parent,
	}
	if span.Sampled {
		span.treeMu.Lock()
		if parent.finished {
			// A child of a finished span never gets delivered.
			span.Sampled = false
		} else {
			parent.children = append(parent.children, span)
		}
		span.treeMu.Unlock()
	}
	scope.setSpan(span)
	return span
}

// ActiveSpan returns the active span of the current scope, or nil.
func (h *Hub) ActiveSpan(ctx context.Context) *Span {
	return h.CurrentScope(ctx).Span()
}

func (h *Hub) sample(sc SamplingContext) bool {
	rate := h.opts.TracesSampleRate
	if h.opts.TracesSampler != nil {
		rate = h.runSampler(sc)
	}
	switch {
	case rate <= 0:
		return false
	case rate >= 1:
		return true
	default:
		return rand.Float64() < rate
	}
}

func (h *Hub) runSampler(sc SamplingContext) (rate float64) {
	defer func() {
		if r := recover(); r != nil {
			h.logger.Warn("TracesSampler panicked, using TracesSampleRate", "panic", r)
			rate = h.opts.TracesSampleRate
		}
	}()
	return h.opts.TracesSampler(sc)
}

// SetName renames the span. It has no effect once the span is finished.
func (s *Span) SetName(name string) {
	s.treeMu.Lock()
	defer s.treeMu.Unlock()
	if !s.finished {
		s.Description = name
	}
}

func (s *Span) SetTag(key, value string) {
	if !s.Sampled {
		return
	}
	s.treeMu.Lock()
	defer s.treeMu.Unlock()
	if s.finished {
		return
	}
	if s.tags == nil {
		s.tags = make(map[string]string)
	}
	s.tags[key] = value
}

func (s *Span) SetData(key string, value any) {
	if !s.Sampled {
		return
	}
	s.treeMu.Lock()
	defer s.treeMu.Unlock()
	if s.finished {
		return
	}
	if s.data == nil {
		s.data = make(map[string]any)
	}
	s.data[key] = value
}

// SetStatus records the status the span finishes with.
func (s *Span) SetStatus(status SpanStatus) {
	if !s.Sampled {
		return
	}
	s.treeMu.Lock()
	defer s.treeMu.Unlock()
	if !s.finished {
		s.status = status
	}
}

func (s *Span) Status() SpanStatus {
	s.treeMu.Lock()
	defer s.treeMu.Unlock()
	return s.status
}

func (s *Span) Finished() bool {
	s.treeMu.Lock()
	defer s.treeMu.Unlock()
	return s.finished
}

func (s *Span) IsTransaction() bool { return s.root == s }

// Finish ends the span with its current status, or ok when none was set.
func (s *Span) Finish() {
	s.FinishWithStatus(SpanStatusUndefined)
}

// FinishWithStatus ends the span. Only the first call has any effect.
// Finishing a transaction closes its running children as
// parent_finished_early and delivers the tree once.
func (s *Span) FinishWithStatus(status SpanStatus) {
	s.treeMu.Lock()
	if s.finished {
		s.treeMu.Unlock()
		return
	}
	s.finished = true
	s.end = s.hub.now()
	if status != SpanStatusUndefined {
		s.status = status
	}
	if s.status == SpanStatusUndefined {
		s.status = SpanStatusOK
	}
	var tree *SpanTree
	if s.IsTransaction() {
		closeChildren(s, s.end)
		if s.Sampled {
			tree = s.freeze()
		}
	}
	s.treeMu.Unlock()

	if s.IsTransaction() {
		s.scope.restoreTree(s, s.prev)
	} else {
		s.scope.restoreSpan(s, s.prev)
	}

	if !s.Sampled {
		return
	}
	metrics.SpansFinished.Add(context.Background(), 1, metrics.StatusAttr(string(s.status)))
	if tree != nil {
		s.hub.deliverSpan(tree)
	}
}

// closeChildren must be called with treeMu held.
func closeChildren(s *Span, end time.Time) {
	for _, c := range s.children {
		if !c.finished {
			c.finished = true
			c.end = end
			c.status = SpanStatusParentFinishedEarly
		}
		closeChildren(c, end)
	}
}

func (h *Hub) deliverSpan(tree *SpanTree) {
	defer func() {
		if r := recover(); r != nil {
			h.logger.Error("sink panicked delivering span tree", "trace_id", tree.TraceID, "panic", r)
		}
	}()
	h.sink.DeliverSpan(tree)
}

// SpanRecord is the frozen form of a finished span.
type SpanRecord struct {
	TraceID      string            `json:"trace_id"`
	SpanID       string            `json:"span_id"`
	ParentSpanID string            `json:"parent_span_id,omitempty"`
	Op           string            `json:"op"`
	Description  string            `json:"description,omitempty"`
	Start        time.Time         `json:"start_timestamp"`
	End          time.Time         `json:"timestamp"`
	Status       SpanStatus        `json:"status"`
	Tags         map[string]string `json:"tags,omitempty"`
	Data         map[string]any    `json:"data,omitempty"`
	Children     []SpanRecord      `json:"children,omitempty"`
}

func (r SpanRecord) Duration() time.Duration { return r.End.Sub(r.Start) }

// SpanTree is a finished transaction with all of its spans, as delivered to a Sink.
type SpanTree struct {
	SpanRecord
	Name        string `json:"transaction"`
	Environment string `json:"environment,omitempty"`
	Release     string `json:"release,omitempty"`
	ServerName  string `json:"server_name,omitempty"`
}

// Walk visits every record of the tree depth first, root included.
func (t *SpanTree) Walk(fn func(SpanRecord)) {
	var walk func(SpanRecord)
	walk = func(r SpanRecord) {
		fn(r)
		for _, c := range r.Children {
			walk(c)
		}
	}
	walk(t.SpanRecord)
}

// freeze must be called with treeMu held.
func (s *Span) freeze() *SpanTree {
	return &SpanTree{
		SpanRecord:  s.record(),
		Name:        s.Description,
		Environment: s.hub.opts.Environment,
		Release:     s.hub.opts.Release,
		ServerName:  s.hub.opts.ServerName,
	}
}

func (s *Span) record() SpanRecord {
	r := SpanRecord{
		TraceID:      s.TraceID,
		SpanID:       s.SpanID,
		ParentSpanID: s.ParentSpanID,
		Op:           s.Op,
		Description:  s.Description,
		Start:        s.start,
		End:          s.end,
		Status:       s.status,
		Tags:         maps.Clone(s.tags),
		Data:         maps.Clone(s.data),
	}
	for _, c := range s.children {
		r.Children = append(r.Children, c.record())
	}
	return r
}

func newTraceID() string {
	return strings.ReplaceAll(uuid.New().String(), "-", "")
}

func newSpanID() string {
	return newTraceID()[:16]
}
