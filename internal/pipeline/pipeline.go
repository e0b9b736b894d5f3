// Package pipeline assembles the observe hub and its delivery transports
// from configuration.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"go.opentelemetry.io/otel"

	"github.com/socialchef/beacon/internal/config"
	"github.com/socialchef/beacon/internal/observe"
	beaconsentry "github.com/socialchef/beacon/internal/sentry"
	"github.com/socialchef/beacon/internal/sink"
	"github.com/socialchef/beacon/internal/telemetry"
	"github.com/socialchef/beacon/internal/worker"
)

// Transports builds one transport per sink name. The returned close
// function releases the clients the transports hold.
func Transports(cfg *config.Config, logger *slog.Logger, names []string) ([]sink.Transport, func(), error) {
	var (
		transports []sink.Transport
		closers    []func()
	)
	closeAll := func() {
		for _, c := range slices.Backward(closers) {
			c()
		}
	}

	for _, name := range names {
		switch name {
		case "log":
			transports = append(transports, sink.NewLogTransport(logger))
		case "sentry":
			client, err := beaconsentry.Init(cfg.SentryDSN, cfg.Observe.Environment, cfg.ServiceName, cfg.Observe.Release)
			if err != nil {
				closeAll()
				return nil, nil, err
			}
			if client == nil {
				closeAll()
				return nil, nil, errors.New("sentry sink requires SENTRY_DSN")
			}
			t := beaconsentry.NewTransport(client)
			transports = append(transports, t)
			closers = append(closers, func() { t.Flush(flushTimeout) })
		case "queue":
			client, err := worker.NewClient(cfg.RedisURL)
			if err != nil {
				closeAll()
				return nil, nil, fmt.Errorf("queue sink: %w", err)
			}
			transports = append(transports, worker.NewQueueTransport(client))
			closers = append(closers, func() { _ = client.Close() })
		case "otlp":
			transports = append(transports, telemetry.NewSpanTransport(otel.GetTracerProvider()))
		default:
			closeAll()
			return nil, nil, fmt.Errorf("unknown sink %q", name)
		}
	}
	return transports, closeAll, nil
}

const flushTimeout = 2 * time.Second

// Pipeline is a hub whose sinks are buffered transports.
type Pipeline struct {
	Hub      *observe.Hub
	buffered []*sink.Buffered
}

// New buffers every transport and installs the resulting hub as the
// process-wide hub.
func New(cfg *config.Config, logger *slog.Logger, transports []sink.Transport) *Pipeline {
	p := &Pipeline{}
	sinks := make(observe.MultiSink, 0, len(transports))
	for _, t := range transports {
		b := sink.NewBuffered(t,
			sink.WithQueueSize(cfg.Observe.QueueSize),
			sink.WithLogger(logger),
		)
		p.buffered = append(p.buffered, b)
		sinks = append(sinks, b)
	}

	p.Hub = observe.Init(HubOptions(cfg, logger, sinks))
	return p
}

// HubOptions maps the observe config section onto hub options.
func HubOptions(cfg *config.Config, logger *slog.Logger, s observe.Sink) observe.Options {
	opts := observe.Options{
		Environment:      cfg.Observe.Environment,
		Release:          cfg.Observe.Release,
		ServerName:       cfg.ServiceName,
		MaxBreadcrumbs:   cfg.Observe.MaxBreadcrumbs,
		AttachStacktrace: cfg.Observe.AttachStacktrace,
		SendDefaultPII:   cfg.Observe.SendDefaultPII,
		Sink:             s,
		Logger:           logger,
	}
	if cfg.Observe.TracesSampleRate != nil {
		opts.TracesSampleRate = *cfg.Observe.TracesSampleRate
	}
	if len(cfg.Observe.ScrubKeys) > 0 {
		opts.BeforeSend = observe.ScrubExtra(cfg.Observe.ScrubKeys...)
	}
	return opts
}

// Close drains every buffered sink and reports whether all finished before
// ctx was done.
func (p *Pipeline) Close(ctx context.Context) bool {
	ok := true
	for _, b := range p.buffered {
		if !b.Close(ctx) {
			ok = false
		}
	}
	return ok
}
