package observe

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestHub(t *testing.T, opts Options) (*Hub, *Recorder) {
	t.Helper()
	rec := NewRecorder()
	opts.Sink = rec
	if opts.Logger == nil {
		opts.Logger = newTestLogger()
	}
	return New(opts), rec
}

func TestNewDefaults(t *testing.T) {
	tests := []struct {
		name     string
		opts     Options
		wantRate float64
		wantMax  int
	}{
		{"zero value", Options{}, 0, DefaultMaxBreadcrumbs},
		{"rate above one", Options{TracesSampleRate: 3}, 1, DefaultMaxBreadcrumbs},
		{"negative rate", Options{TracesSampleRate: -0.5}, 0, DefaultMaxBreadcrumbs},
		{"explicit cap", Options{MaxBreadcrumbs: 7}, 0, 7},
		{"disabled breadcrumbs", Options{MaxBreadcrumbs: -1}, 0, -1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := New(tt.opts)
			got := h.Options()
			assert.Equal(t, tt.wantRate, got.TracesSampleRate)
			assert.Equal(t, tt.wantMax, got.MaxBreadcrumbs)
			assert.Equal(t, DefaultMaxErrorDepth, got.MaxErrorDepth)
			assert.NotNil(t, got.Clock)
		})
	}
}

func TestEnterExit(t *testing.T) {
	h, _ := newTestHub(t, Options{})
	root := context.Background()
	h.SetTag(root, "process", "yes")

	ctx, token := h.Enter(root)
	assert.True(t, h.InUnit(ctx))
	assert.Equal(t, 1, h.ActiveFrames())

	h.SetTag(ctx, "request", "r1")
	assert.Equal(t, map[string]string{"process": "yes", "request": "r1"}, h.CurrentScope(ctx).Tags())
	assert.Equal(t, map[string]string{"process": "yes"}, h.CurrentScope(root).Tags())

	h.Exit(token)
	assert.False(t, h.InUnit(ctx))
	assert.Equal(t, 0, h.ActiveFrames())

	// exiting twice is harmless
	h.Exit(token)
	assert.Equal(t, 0, h.ActiveFrames())
}

func TestReleasedUnitWritesAreDiscarded(t *testing.T) {
	h, _ := newTestHub(t, Options{})
	ctx, token := h.Enter(context.Background())
	h.Exit(token)

	h.SetTag(ctx, "late", "write")
	h.AddBreadcrumb(ctx, Breadcrumb{Message: "late"})

	assert.NotContains(t, h.CurrentScope(context.Background()).Tags(), "late")
	assert.Empty(t, h.CurrentScope(context.Background()).Breadcrumbs())
	assert.NotContains(t, h.CurrentScope(ctx).Tags(), "late")
}

func TestConcurrentUnitsAreIsolated(t *testing.T) {
	h, rec := newTestHub(t, Options{})

	const workers = 50
	var wg, ready sync.WaitGroup
	ready.Add(workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ctx, token := h.Enter(context.Background())
			defer h.Exit(token)

			h.SetTag(ctx, "worker", fmt.Sprint(i))
			h.AddBreadcrumb(ctx, Breadcrumb{Message: fmt.Sprintf("step-%d", i)})

			// Every unit is open and suspended here before any of them captures.
			ready.Done()
			ready.Wait()
			assert.Equal(t, workers, h.ActiveFrames())

			h.CaptureMessage(ctx, fmt.Sprintf("done-%d", i), LevelInfo)
		}(i)
	}
	wg.Wait()

	events := rec.Events()
	require.Len(t, events, workers)
	for _, ev := range events {
		var i int
		_, err := fmt.Sscanf(ev.Message, "done-%d", &i)
		require.NoError(t, err)
		assert.Equal(t, fmt.Sprint(i), ev.Tags["worker"])
		assert.Equal(t, []string{fmt.Sprintf("step-%d", i)}, messages(ev.Breadcrumbs))
	}
	assert.Equal(t, 0, h.ActiveFrames())
}

func TestWithScope(t *testing.T) {
	h, rec := newTestHub(t, Options{})
	ctx, token := h.Enter(context.Background())
	defer h.Exit(token)
	h.SetTag(ctx, "outer", "1")

	err := h.WithScope(ctx, func(ctx context.Context, scope *Scope) error {
		scope.SetTag("inner", "1")
		h.CaptureMessage(ctx, "inside", LevelInfo)
		return nil
	})
	require.NoError(t, err)

	assert.Equal(t, map[string]string{"outer": "1"}, h.CurrentScope(ctx).Tags())
	require.Len(t, rec.Events(), 1)
	assert.Equal(t, map[string]string{"outer": "1", "inner": "1"}, rec.Events()[0].Tags)
	assert.Equal(t, 1, h.ActiveFrames())
}

func TestWithScopeOverrideIsUndoneAfterReturn(t *testing.T) {
	h, rec := newTestHub(t, Options{})
	ctx, token := h.Enter(context.Background())
	defer h.Exit(token)

	h.SetTag(ctx, "a", "1")
	err := h.WithScope(ctx, func(ctx context.Context, scope *Scope) error {
		scope.SetTag("a", "2")
		h.CaptureMessage(ctx, "x", LevelWarning)
		return nil
	})
	require.NoError(t, err)
	h.CaptureMessage(ctx, "y", LevelInfo)

	events := rec.Events()
	require.Len(t, events, 2)
	assert.Equal(t, "x", events[0].Message)
	assert.Equal(t, "2", events[0].Tags["a"])
	assert.Equal(t, LevelWarning, events[0].Level)
	assert.Equal(t, "y", events[1].Message)
	assert.Equal(t, "1", events[1].Tags["a"])
	assert.Equal(t, LevelInfo, events[1].Level)
}

func TestWithScopeReturnsError(t *testing.T) {
	h, _ := newTestHub(t, Options{})
	want := errors.New("task failed")

	err := h.WithScope(context.Background(), func(context.Context, *Scope) error {
		return want
	})
	assert.ErrorIs(t, err, want)
	assert.Equal(t, 0, h.ActiveFrames())
}

func TestWithScopeDiscardedOnPanic(t *testing.T) {
	h, _ := newTestHub(t, Options{})
	ctx, token := h.Enter(context.Background())
	defer h.Exit(token)

	assert.Panics(t, func() {
		_ = h.WithScope(ctx, func(ctx context.Context, scope *Scope) error {
			scope.SetTag("leak", "yes")
			panic("boom")
		})
	})

	assert.NotContains(t, h.CurrentScope(ctx).Tags(), "leak")
	assert.Equal(t, 1, h.ActiveFrames())
}

func TestLastEventID(t *testing.T) {
	h, _ := newTestHub(t, Options{})

	a, tokenA := h.Enter(context.Background())
	defer h.Exit(tokenA)
	b, tokenB := h.Enter(context.Background())
	defer h.Exit(tokenB)

	assert.Equal(t, EventID(""), h.LastEventID(a))

	idA := h.CaptureMessage(a, "from a", LevelInfo)
	assert.Equal(t, idA, h.LastEventID(a))
	assert.Equal(t, EventID(""), h.LastEventID(b))

	var inner EventID
	_ = h.WithScope(a, func(ctx context.Context, _ *Scope) error {
		inner = h.CaptureMessage(ctx, "nested", LevelInfo)
		return nil
	})
	assert.Equal(t, inner, h.LastEventID(a), "WithScope shares the unit's last event")
	assert.Len(t, string(inner), 32)
}

func TestLastEventIDRecordedWhenDropped(t *testing.T) {
	h, rec := newTestHub(t, Options{
		BeforeSend: func(*Event, *EventHint) *Event { return nil },
	})
	ctx, token := h.Enter(context.Background())
	defer h.Exit(token)

	id := h.CaptureMessage(ctx, "dropped", LevelInfo)
	assert.NotEmpty(t, id)
	assert.Equal(t, id, h.LastEventID(ctx))
	assert.Empty(t, rec.Events())
}

func TestAddBreadcrumb(t *testing.T) {
	fixed := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	t.Run("fills timestamp and normalises level", func(t *testing.T) {
		h, _ := newTestHub(t, Options{Clock: func() time.Time { return fixed }})
		h.AddBreadcrumb(context.Background(), Breadcrumb{Message: "m", Level: "WARN"})

		got := h.CurrentScope(context.Background()).Breadcrumbs()
		require.Len(t, got, 1)
		assert.Equal(t, fixed, got[0].Timestamp)
		assert.Equal(t, LevelWarning, got[0].Level)
	})

	t.Run("cap evicts oldest", func(t *testing.T) {
		h, _ := newTestHub(t, Options{MaxBreadcrumbs: 3})
		ctx, token := h.Enter(context.Background())
		defer h.Exit(token)
		for i := 1; i <= 4; i++ {
			h.AddBreadcrumb(ctx, crumb(i))
		}
		assert.Equal(t, []string{"crumb-2", "crumb-3", "crumb-4"}, messages(h.CurrentScope(ctx).Breadcrumbs()))
	})

	t.Run("negative cap disables", func(t *testing.T) {
		h, rec := newTestHub(t, Options{MaxBreadcrumbs: -1})
		h.AddBreadcrumb(context.Background(), crumb(1))
		h.CaptureMessage(context.Background(), "x", LevelInfo)

		assert.Empty(t, h.CurrentScope(context.Background()).Breadcrumbs())
		require.Len(t, rec.Events(), 1)
		assert.Empty(t, rec.Events()[0].Breadcrumbs)
	})

	t.Run("BeforeBreadcrumb can drop and rewrite", func(t *testing.T) {
		h, _ := newTestHub(t, Options{
			BeforeBreadcrumb: func(b *Breadcrumb) *Breadcrumb {
				if b.Category == "noise" {
					return nil
				}
				b.Message = "rewritten " + b.Message
				return b
			},
		})
		h.AddBreadcrumb(context.Background(), Breadcrumb{Category: "noise", Message: "a"})
		h.AddBreadcrumb(context.Background(), Breadcrumb{Category: "http", Message: "b"})

		assert.Equal(t, []string{"rewritten b"}, messages(h.CurrentScope(context.Background()).Breadcrumbs()))
	})

	t.Run("panicking BeforeBreadcrumb keeps original", func(t *testing.T) {
		h, _ := newTestHub(t, Options{
			BeforeBreadcrumb: func(b *Breadcrumb) *Breadcrumb {
				b.Message = "half-edited"
				panic("hook bug")
			},
		})
		assert.NotPanics(t, func() {
			h.AddBreadcrumb(context.Background(), Breadcrumb{Message: "original"})
		})
		assert.Equal(t, []string{"original"}, messages(h.CurrentScope(context.Background()).Breadcrumbs()))
	})

	t.Run("caller data map is copied", func(t *testing.T) {
		h, _ := newTestHub(t, Options{})
		data := map[string]any{"url": "/a"}
		h.AddBreadcrumb(context.Background(), Breadcrumb{Message: "req", Data: data})
		data["url"] = "/b"

		got := h.CurrentScope(context.Background()).Breadcrumbs()
		require.Len(t, got, 1)
		assert.Equal(t, "/a", got[0].Data["url"])
	})
}

func TestClearBreadcrumbs(t *testing.T) {
	h, rec := newTestHub(t, Options{})
	ctx, token := h.Enter(context.Background())
	defer h.Exit(token)

	h.AddBreadcrumb(ctx, crumb(1))
	h.ClearBreadcrumbs(ctx)
	h.CaptureMessage(ctx, "after clear", LevelInfo)

	require.Len(t, rec.Events(), 1)
	assert.Empty(t, rec.Events()[0].Breadcrumbs)
}

func TestTimestampsNeverGoBackwards(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	ticks := []time.Time{base, base.Add(-time.Minute), base.Add(time.Second), base.Add(-time.Hour)}
	var mu sync.Mutex
	i := 0
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		now := ticks[i%len(ticks)]
		i++
		return now
	}

	h, rec := newTestHub(t, Options{Clock: clock})
	for range ticks {
		h.CaptureMessage(context.Background(), "tick", LevelInfo)
	}

	events := rec.Events()
	require.Len(t, events, len(ticks))
	for i := 1; i < len(events); i++ {
		assert.False(t, events[i].Timestamp().Before(events[i-1].Timestamp()), "event %d went backwards", i)
	}
	assert.Equal(t, base.Add(time.Second), events[3].Timestamp())
}

func TestFlushUsesSink(t *testing.T) {
	h, _ := newTestHub(t, Options{})
	assert.True(t, h.Flush(time.Second))

	noop := New(Options{})
	assert.True(t, noop.Flush(time.Second))
}
