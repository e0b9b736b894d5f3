package pipeline

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/socialchef/beacon/internal/config"
	"github.com/socialchef/beacon/internal/observe"
	"github.com/socialchef/beacon/internal/sink"
)

func testConfig() *config.Config {
	cfg := &config.Config{Env: "test", ServiceName: "beacon", ServiceVersion: "0.1.0"}
	cfg.SetObserveDefaults()
	return cfg
}

func TestTransports(t *testing.T) {
	cfg := testConfig()

	transports, closeAll, err := Transports(cfg, slog.Default(), []string{"log", "otlp"})
	require.NoError(t, err)
	defer closeAll()

	require.Len(t, transports, 2)
	assert.Equal(t, "log", transports[0].Name())
	assert.Equal(t, "otlp", transports[1].Name())
}

func TestTransports_Errors(t *testing.T) {
	cfg := testConfig()

	_, _, err := Transports(cfg, slog.Default(), []string{"sentry"})
	assert.Error(t, err, "sentry without DSN")

	_, _, err = Transports(cfg, slog.Default(), []string{"log", "smoke-signal"})
	assert.Error(t, err)

	cfg.RedisURL = ""
	_, _, err = Transports(cfg, slog.Default(), []string{"queue"})
	assert.ErrorContains(t, err, "queue sink")
}

func TestHubOptions(t *testing.T) {
	cfg := testConfig()
	rate := 0.5
	cfg.Observe.TracesSampleRate = &rate

	opts := HubOptions(cfg, slog.Default(), observe.NoopSink{})
	assert.Equal(t, "test", opts.Environment)
	assert.Equal(t, "beacon@0.1.0", opts.Release)
	assert.Equal(t, "beacon", opts.ServerName)
	assert.Equal(t, 0.5, opts.TracesSampleRate)
	assert.Equal(t, 100, opts.MaxBreadcrumbs)
	require.NotNil(t, opts.BeforeSend)
}

type countingTransport struct {
	events chan string
}

func (c *countingTransport) Name() string { return "counting" }

func (c *countingTransport) SendEvent(_ context.Context, ev *observe.Event) error {
	c.events <- string(ev.ID())
	return nil
}

func (c *countingTransport) SendSpan(context.Context, *observe.SpanTree) error { return nil }

func TestNew_DeliversThroughBufferedSinks(t *testing.T) {
	cfg := testConfig()
	tr := &countingTransport{events: make(chan string, 1)}

	p := New(cfg, slog.Default(), []sink.Transport{tr})
	assert.Same(t, p.Hub, observe.CurrentHub())

	ctx, token := p.Hub.Enter(context.Background())
	p.Hub.SetExtra(ctx, "password", "hunter2")
	id := p.Hub.CaptureMessage(ctx, "hello", observe.LevelInfo)
	p.Hub.Exit(token)

	require.True(t, p.Hub.Flush(time.Second))
	assert.Equal(t, string(id), <-tr.events)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.True(t, p.Close(ctx))
}
