package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"slices"
	"syscall"
	"time"

	_ "github.com/joho/godotenv/autoload"

	"github.com/socialchef/beacon/internal/config"
	"github.com/socialchef/beacon/internal/logger"
	"github.com/socialchef/beacon/internal/metrics"
	"github.com/socialchef/beacon/internal/observe"
	"github.com/socialchef/beacon/internal/pipeline"
	"github.com/socialchef/beacon/internal/telemetry"
	"github.com/socialchef/beacon/internal/worker"
)

func main() {
	defer observe.Recover()

	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if cfg.RedisURL == "" {
		log.Fatal("REDIS_URL is required for the worker")
	}

	// Initialize telemetry
	shutdown, err := telemetry.InitTelemetry(ctx, telemetry.Config{
		ServiceName:    cfg.ServiceName + "-worker",
		ServiceVersion: cfg.ServiceVersion,
		Environment:    cfg.Observe.Environment,
		Endpoint:       cfg.OtelExporterOTLPEndpoint,
		Headers:        telemetry.ParseHeaders(cfg.OtelExporterOTLPHeaders),
	})
	if err != nil {
		slog.Warn("Failed to init telemetry", "error", err)
	} else {
		defer shutdown(ctx)
	}

	// Initialize pipeline metrics
	if err := metrics.Init(); err != nil {
		slog.Warn("Failed to init pipeline metrics", "error", err)
	}

	baseLogger := logger.New(cfg.Env, nil)

	// The worker is the queue's consumer, so it forwards to every other sink.
	names := slices.DeleteFunc(cfg.Sinks(), func(s string) bool { return s == "queue" })
	if len(names) == 0 {
		names = []string{"log"}
	}
	transports, closeTransports, err := pipeline.Transports(cfg, baseLogger, names)
	if err != nil {
		log.Fatalf("Failed to build sinks: %v", err)
	}
	defer closeTransports()

	// Failures of the worker itself go through a buffered hub on the same transports
	p := pipeline.New(cfg, baseLogger, transports)
	hub := p.Hub
	slog.SetDefault(logger.New(cfg.Env, hub))

	workerMetrics, err := worker.NewWorkerMetrics()
	if err != nil {
		slog.Warn("Failed to init worker metrics", "error", err)
	}

	processor := worker.NewProcessor(workerMetrics, transports...)

	// Asynq server
	srv, err := worker.NewServer(cfg.RedisURL, worker.DefaultConcurrency)
	if err != nil {
		log.Fatalf("Failed to create worker: %v", err)
	}
	mux := worker.NewServeMux(processor, worker.ObserveMiddleware(hub), worker.OTelMiddleware)

	// Handle shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		slog.Info("Shutting down worker...")
		srv.Shutdown()
	}()

	slog.Info("Starting worker", "queue", worker.QueueName, "forwarding_to", names)

	if err := srv.Run(mux); err != nil {
		log.Fatalf("Worker failed: %v", err)
	}

	hub.Flush(2 * time.Second)
	closeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	p.Close(closeCtx)
}
