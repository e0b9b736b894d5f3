package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	_ "github.com/joho/godotenv/autoload"
	"github.com/riandyrn/otelchi"
	otelchimetric "github.com/riandyrn/otelchi/metric"
	"go.opentelemetry.io/otel"

	"github.com/socialchef/beacon/internal/api"
	"github.com/socialchef/beacon/internal/config"
	"github.com/socialchef/beacon/internal/db"
	"github.com/socialchef/beacon/internal/httpclient"
	"github.com/socialchef/beacon/internal/logger"
	"github.com/socialchef/beacon/internal/metrics"
	"github.com/socialchef/beacon/internal/observe"
	"github.com/socialchef/beacon/internal/pipeline"
	"github.com/socialchef/beacon/internal/telemetry"
)

func main() {
	defer observe.Recover()

	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Initialize telemetry
	shutdown, err := telemetry.InitTelemetry(ctx, telemetry.Config{
		ServiceName:    cfg.ServiceName,
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

	// The pipeline logs through a logger without breadcrumbs so its own
	// output never lands on a scope.
	baseLogger := logger.New(cfg.Env, nil)

	transports, closeTransports, err := pipeline.Transports(cfg, baseLogger, cfg.Sinks())
	if err != nil {
		log.Fatalf("Failed to build sinks: %v", err)
	}
	defer closeTransports()

	p := pipeline.New(cfg, baseLogger, transports)
	hub := p.Hub

	slog.SetDefault(logger.New(cfg.Env, hub))

	// Database connection is optional; the db route simulates a failure without it
	var database api.DB
	if cfg.DatabaseURL != "" {
		pool, err := db.NewPool(ctx, cfg.DatabaseURL)
		if err != nil {
			slog.Warn("Failed to create database pool", "error", err)
		} else {
			defer pool.Close()
			database = pool
		}
	}

	client := httpclient.NewInstrumentedClient(hub, 10*time.Second)
	apiServer := api.NewServer(cfg, hub, database, client)

	// Router
	r := chi.NewRouter()

	// Middleware
	r.Use(otelchi.Middleware(cfg.ServiceName,
		otelchi.WithChiRoutes(r),
		otelchi.WithFilter(func(r *http.Request) bool {
			return r.URL.Path != "/health"
		}),
	))

	// HTTP metrics
	metricCfg := otelchimetric.NewBaseConfig(cfg.ServiceName, otelchimetric.WithMeterProvider(otel.GetMeterProvider()))
	r.Use(otelchimetric.NewRequestDurationMillis(metricCfg))
	r.Use(otelchimetric.NewRequestInFlight(metricCfg))
	r.Use(otelchimetric.NewResponseSizeBytes(metricCfg))

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	apiServer.Register(r)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		slog.Info("Starting server", "port", cfg.Port, "sinks", cfg.Sinks())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	// Handle shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan
	slog.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server shutdown failed", "error", err)
	}
	if !hub.Flush(2 * time.Second) {
		slog.Warn("Timed out flushing telemetry")
	}
	p.Close(shutdownCtx)
}
