package observe

import (
	"context"
	"sync/atomic"
	"time"
)

var currentHub atomic.Pointer[Hub]

func init() {
	currentHub.Store(New(Options{}))
}

// Init replaces the process-wide hub and returns it.
func Init(opts Options) *Hub {
	h := New(opts)
	currentHub.Store(h)
	return h
}

// CurrentHub returns the process-wide hub.
func CurrentHub() *Hub {
	return currentHub.Load()
}

func WithScope(ctx context.Context, fn func(ctx context.Context, scope *Scope) error) error {
	return CurrentHub().WithScope(ctx, fn)
}

func CurrentScope(ctx context.Context) *Scope {
	return CurrentHub().CurrentScope(ctx)
}

func SetTag(ctx context.Context, key, value string) {
	CurrentHub().SetTag(ctx, key, value)
}

func SetExtra(ctx context.Context, key string, value any) {
	CurrentHub().SetExtra(ctx, key, value)
}

func SetUser(ctx context.Context, u *User) {
	CurrentHub().SetUser(ctx, u)
}

func AddBreadcrumb(ctx context.Context, b Breadcrumb) {
	CurrentHub().AddBreadcrumb(ctx, b)
}

func CaptureException(ctx context.Context, err error, opts ...CaptureOption) EventID {
	return CurrentHub().CaptureException(ctx, err, opts...)
}

func CaptureMessage(ctx context.Context, message string, level Level, opts ...CaptureOption) EventID {
	return CurrentHub().CaptureMessage(ctx, message, level, opts...)
}

func LastEventID(ctx context.Context) EventID {
	return CurrentHub().LastEventID(ctx)
}

func StartTransaction(ctx context.Context, op, name string) *Span {
	return CurrentHub().StartTransaction(ctx, op, name)
}

// Recover captures a panic on the process-wide hub and re-panics. Use it as
// the first deferred call in main.
func Recover() {
	if r := recover(); r != nil {
		h := CurrentHub()
		h.Recover(context.Background(), r)
		h.Flush(2 * time.Second)
		panic(r)
	}
}

func Flush(timeout time.Duration) bool {
	return CurrentHub().Flush(timeout)
}
