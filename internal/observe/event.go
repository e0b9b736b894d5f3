package observe

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"net"
	"net/http"
	"reflect"
	"strings"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/google/uuid"

	"github.com/socialchef/beacon/internal/metrics"
)

// EventID is the 32 character hex identifier of an event. The empty value
// means no event.
type EventID string

func newEventID() EventID {
	id := uuid.New()
	return EventID(strings.ReplaceAll(id.String(), "-", ""))
}

type EventKind string

const (
	KindException EventKind = "exception"
	KindMessage   EventKind = "message"
	KindFeedback  EventKind = "feedback"
)

// Frame is one stack frame, oldest call first.
type Frame struct {
	Function string `json:"function,omitempty"`
	Module   string `json:"module,omitempty"`
	Filename string `json:"filename,omitempty"`
	AbsPath  string `json:"abs_path,omitempty"`
	Lineno   int    `json:"lineno,omitempty"`
	InApp    bool   `json:"in_app"`
}

// Exception is one error of a chain. Event.Exception lists the outermost
// error first.
type Exception struct {
	Type       string  `json:"type"`
	Value      string  `json:"value"`
	Stacktrace []Frame `json:"stacktrace,omitempty"`
}

// TraceContext links an event to the span that was active when it was captured.
type TraceContext struct {
	TraceID      string `json:"trace_id"`
	SpanID       string `json:"span_id"`
	ParentSpanID string `json:"parent_span_id,omitempty"`
	Op           string `json:"op,omitempty"`
}

// Feedback is free-form user text about a previously captured event.
type Feedback struct {
	EventID  EventID `json:"event_id"`
	Name     string  `json:"name,omitempty"`
	Email    string  `json:"email,omitempty"`
	Comments string  `json:"comments"`
}

// Event is a reportable occurrence. The id and timestamp are fixed when the
// event is built; BeforeSend may change the exported fields only.
type Event struct {
	id        EventID
	timestamp time.Time

	Kind        EventKind
	Level       Level
	Message     string
	Exception   []Exception
	Tags        map[string]string
	Extra       map[string]any
	User        *User
	Request     *Request
	Breadcrumbs []Breadcrumb
	Environment string
	Release     string
	ServerName  string
	Trace       *TraceContext
	Feedback    *Feedback
}

func (e *Event) ID() EventID { return e.id }

func (e *Event) Timestamp() time.Time { return e.timestamp }

func (e *Event) clone() *Event {
	c := *e
	c.Tags = maps.Clone(e.Tags)
	c.Extra = maps.Clone(e.Extra)
	if e.User != nil {
		u := *e.User
		c.User = &u
	}
	if e.Request != nil {
		r := *e.Request
		r.Headers = maps.Clone(e.Request.Headers)
		c.Request = &r
	}
	if e.Trace != nil {
		t := *e.Trace
		c.Trace = &t
	}
	if e.Feedback != nil {
		f := *e.Feedback
		c.Feedback = &f
	}
	if e.Exception != nil {
		c.Exception = make([]Exception, len(e.Exception))
		for i, ex := range e.Exception {
			ex.Stacktrace = append([]Frame(nil), ex.Stacktrace...)
			c.Exception[i] = ex
		}
	}
	if e.Breadcrumbs != nil {
		c.Breadcrumbs = make([]Breadcrumb, len(e.Breadcrumbs))
		for i, b := range e.Breadcrumbs {
			c.Breadcrumbs[i] = b.copy()
		}
	}
	return &c
}

type eventWire struct {
	ID          EventID           `json:"event_id"`
	Timestamp   time.Time         `json:"timestamp"`
	Kind        EventKind         `json:"kind"`
	Level       Level             `json:"level"`
	Message     string            `json:"message,omitempty"`
	Exception   []Exception       `json:"exception,omitempty"`
	Tags        map[string]string `json:"tags,omitempty"`
	Extra       map[string]any    `json:"extra,omitempty"`
	User        *User             `json:"user,omitempty"`
	Request     *Request          `json:"request,omitempty"`
	Breadcrumbs []Breadcrumb      `json:"breadcrumbs,omitempty"`
	Environment string            `json:"environment,omitempty"`
	Release     string            `json:"release,omitempty"`
	ServerName  string            `json:"server_name,omitempty"`
	Trace       *TraceContext     `json:"trace,omitempty"`
	Feedback    *Feedback         `json:"feedback,omitempty"`
}

func (e *Event) MarshalJSON() ([]byte, error) {
	return json.Marshal(eventWire{
		ID:          e.id,
		Timestamp:   e.timestamp,
		Kind:        e.Kind,
		Level:       e.Level,
		Message:     e.Message,
		Exception:   e.Exception,
		Tags:        e.Tags,
		Extra:       e.Extra,
		User:        e.User,
		Request:     e.Request,
		Breadcrumbs: e.Breadcrumbs,
		Environment: e.Environment,
		Release:     e.Release,
		ServerName:  e.ServerName,
		Trace:       e.Trace,
		Feedback:    e.Feedback,
	})
}

func (e *Event) UnmarshalJSON(data []byte) error {
	var w eventWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	*e = Event{
		id:          w.ID,
		timestamp:   w.Timestamp,
		Kind:        w.Kind,
		Level:       w.Level.normalize(),
		Message:     w.Message,
		Exception:   w.Exception,
		Tags:        w.Tags,
		Extra:       w.Extra,
		User:        w.User,
		Request:     w.Request,
		Breadcrumbs: w.Breadcrumbs,
		Environment: w.Environment,
		Release:     w.Release,
		ServerName:  w.ServerName,
		Trace:       w.Trace,
		Feedback:    w.Feedback,
	}
	return nil
}

// EventHint carries the raw inputs of a capture to BeforeSend.
type EventHint struct {
	Context        context.Context
	OriginalError  error
	RecoveredValue any
}

type captureOverrides struct {
	tags  map[string]string
	extra map[string]any
	level Level
}

// CaptureOption overrides scope data for a single capture. Overrides win
// over scope values on key collision.
type CaptureOption func(*captureOverrides)

func WithTag(key, value string) CaptureOption {
	return func(o *captureOverrides) {
		if o.tags == nil {
			o.tags = make(map[string]string)
		}
		o.tags[key] = value
	}
}

func WithTags(tags map[string]string) CaptureOption {
	return func(o *captureOverrides) {
		if o.tags == nil {
			o.tags = make(map[string]string)
		}
		maps.Copy(o.tags, tags)
	}
}

func WithExtra(key string, value any) CaptureOption {
	return func(o *captureOverrides) {
		if o.extra == nil {
			o.extra = make(map[string]any)
		}
		o.extra[key] = value
	}
}

func WithLevel(level Level) CaptureOption {
	return func(o *captureOverrides) {
		o.level = level.normalize()
	}
}

// PanicError wraps a recovered panic value that was not an error.
type PanicError struct {
	Value any
}

func (p *PanicError) Error() string {
	return fmt.Sprintf("panic: %v", p.Value)
}

// CaptureException reports err at error level and returns the event id. A
// nil error captures nothing and returns the empty id.
func (h *Hub) CaptureException(ctx context.Context, err error, opts ...CaptureOption) EventID {
	if err == nil {
		return ""
	}
	ev := &Event{
		Kind:      KindException,
		Level:     LevelError,
		Exception: h.exceptionChain(err),
	}
	return h.capture(ctx, ev, &EventHint{Context: ctx, OriginalError: err}, opts)
}

// CaptureMessage reports free text. An empty or unknown level becomes info.
func (h *Hub) CaptureMessage(ctx context.Context, message string, level Level, opts ...CaptureOption) EventID {
	ev := &Event{
		Kind:    KindMessage,
		Level:   level.normalize(),
		Message: message,
	}
	if h.opts.AttachStacktrace {
		ev.Exception = []Exception{{
			Type:       "message",
			Value:      message,
			Stacktrace: h.trimFrames(convertStacktrace(sentry.NewStacktrace())),
		}}
	}
	return h.capture(ctx, ev, &EventHint{Context: ctx}, opts)
}

// CaptureFeedback reports user-supplied comments tied to an earlier event.
func (h *Hub) CaptureFeedback(ctx context.Context, fb Feedback) EventID {
	ev := &Event{
		Kind:     KindFeedback,
		Level:    LevelInfo,
		Message:  fb.Comments,
		Feedback: &fb,
	}
	return h.capture(ctx, ev, &EventHint{Context: ctx}, nil)
}

// Recover reports a value returned by recover() at fatal level. A nil value
// captures nothing.
func (h *Hub) Recover(ctx context.Context, recovered any) EventID {
	if recovered == nil {
		return ""
	}
	err, ok := recovered.(error)
	if !ok {
		err = &PanicError{Value: recovered}
	}
	ev := &Event{
		Kind:      KindException,
		Level:     LevelFatal,
		Exception: h.exceptionChain(err),
	}
	hint := &EventHint{Context: ctx, OriginalError: err, RecoveredValue: recovered}
	return h.capture(ctx, ev, hint, []CaptureOption{WithTag("mechanism", "panic")})
}

// Go runs fn on a new goroutine. A panic inside fn is captured instead of
// crashing the process. The returned channel is closed once fn has returned
// and any panic has been captured.
func (h *Hub) Go(ctx context.Context, fn func(ctx context.Context)) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		defer func() {
			if r := recover(); r != nil {
				h.Recover(ctx, r)
			}
		}()
		fn(ctx)
	}()
	return done
}

func (h *Hub) capture(ctx context.Context, ev *Event, hint *EventHint, opts []CaptureOption) (id EventID) {
	defer func() {
		if r := recover(); r != nil {
			h.logger.Error("event capture failed", "panic", r)
		}
	}()

	ev.id = newEventID()
	ev.timestamp = h.now()
	id = ev.id

	h.enrich(ctx, ev, opts)
	h.recordLastEvent(ctx, id)
	metrics.EventsCaptured.Add(context.Background(), 1, metrics.KindAttr(string(ev.Kind)))

	out := h.runBeforeSend(ev, hint)
	if out == nil {
		metrics.EventsDropped.Add(context.Background(), 1, metrics.ReasonAttr("before_send"))
		h.logger.Debug("event dropped by BeforeSend", "event_id", id)
		return id
	}
	out.id = ev.id
	out.timestamp = ev.timestamp

	h.deliverEvent(out)
	return id
}

func (h *Hub) enrich(ctx context.Context, ev *Event, opts []CaptureOption) {
	snap := h.CurrentScope(ctx).snapshot()

	var o captureOverrides
	for _, opt := range opts {
		opt(&o)
	}

	ev.Tags = snap.tags
	maps.Copy(ev.Tags, o.tags)
	ev.Extra = snap.extra
	maps.Copy(ev.Extra, o.extra)
	if o.level != "" {
		ev.Level = o.level
	}

	ev.Breadcrumbs = snap.breadcrumbs
	ev.Request = snap.request
	if ev.Request != nil && !h.opts.SendDefaultPII {
		scrubHeaders(ev.Request.Headers)
	}

	switch snap.userState {
	case userSet:
		u := snap.user
		ev.User = &u
	case userUnset:
		if h.opts.SendDefaultPII && snap.request != nil && snap.request.RemoteAddr != "" {
			ev.User = &User{IPAddress: remoteIP(snap.request.RemoteAddr)}
		}
	}

	if span := snap.span; span != nil {
		ev.Trace = &TraceContext{
			TraceID:      span.TraceID,
			SpanID:       span.SpanID,
			ParentSpanID: span.ParentSpanID,
			Op:           span.Op,
		}
	}

	ev.Environment = h.opts.Environment
	ev.Release = h.opts.Release
	ev.ServerName = h.opts.ServerName
}

// runBeforeSend applies the hook. When the hook panics the event as it was
// before the hook is returned.
func (h *Hub) runBeforeSend(ev *Event, hint *EventHint) (out *Event) {
	if h.opts.BeforeSend == nil {
		return ev
	}
	pre := ev.clone()
	defer func() {
		if r := recover(); r != nil {
			h.logger.Warn("BeforeSend panicked, sending unmodified event", "event_id", ev.id, "panic", r)
			out = pre
		}
	}()
	return h.opts.BeforeSend(ev, hint)
}

func (h *Hub) deliverEvent(ev *Event) {
	defer func() {
		if r := recover(); r != nil {
			h.logger.Error("sink panicked delivering event", "event_id", ev.id, "panic", r)
		}
	}()
	h.sink.DeliverEvent(ev)
}

func (h *Hub) exceptionChain(err error) []Exception {
	var chain []Exception
	for depth := 0; err != nil && depth < h.opts.MaxErrorDepth; depth++ {
		ex := Exception{
			Type:       reflect.TypeOf(err).String(),
			Value:      err.Error(),
			Stacktrace: h.trimFrames(convertStacktrace(sentry.ExtractStacktrace(err))),
		}
		chain = append(chain, ex)
		err = errors.Unwrap(err)
	}
	if len(chain) > 0 && len(chain[0].Stacktrace) == 0 {
		chain[0].Stacktrace = h.trimFrames(convertStacktrace(sentry.NewStacktrace()))
	}
	return chain
}

const modulePrefix = "github.com/socialchef/beacon/internal/observe"

// trimFrames drops the pipeline's own frames from the tail of a stack.
func (h *Hub) trimFrames(frames []Frame) []Frame {
	end := len(frames)
	for end > 0 && frames[end-1].Module == modulePrefix {
		end--
	}
	return frames[:end]
}

func convertStacktrace(st *sentry.Stacktrace) []Frame {
	if st == nil {
		return nil
	}
	frames := make([]Frame, 0, len(st.Frames))
	for _, f := range st.Frames {
		frames = append(frames, Frame{
			Function: f.Function,
			Module:   f.Module,
			Filename: f.Filename,
			AbsPath:  f.AbsPath,
			Lineno:   f.Lineno,
			InApp:    f.InApp,
		})
	}
	return frames
}

var sensitiveHeaders = []string{"Authorization", "Cookie", "Set-Cookie", "X-Forwarded-For", "X-Real-Ip"}

func scrubHeaders(headers map[string]string) {
	for _, name := range sensitiveHeaders {
		delete(headers, http.CanonicalHeaderKey(name))
	}
}

func remoteIP(addr string) string {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	return host
}

// ScrubExtra returns a BeforeSend hook that masks the given extra keys.
func ScrubExtra(keys ...string) func(*Event, *EventHint) *Event {
	masked := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		masked[strings.ToLower(k)] = struct{}{}
	}
	return func(ev *Event, _ *EventHint) *Event {
		for k := range ev.Extra {
			if _, ok := masked[strings.ToLower(k)]; ok {
				ev.Extra[k] = "[Filtered]"
			}
		}
		return ev
	}
}
