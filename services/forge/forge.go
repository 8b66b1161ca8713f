// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package forge assembles the combination service: durable storage,
// the in-memory combination store, the change broadcaster, the result
// generator, and the HTTP surface that ties them together.
package forge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/AleutianAI/AlchemyLocal/pkg/logging"
	"github.com/AleutianAI/AlchemyLocal/services/forge/combination"
	"github.com/AleutianAI/AlchemyLocal/services/forge/generator"
	"github.com/AleutianAI/AlchemyLocal/services/forge/observability"
	"github.com/AleutianAI/AlchemyLocal/services/forge/routes"
	badgerstore "github.com/AleutianAI/AlchemyLocal/services/forge/storage/badger"
)

const serviceName = "forge-service"

// Config controls service assembly. Zero values get defaults from
// applyDefaults; the environment is consulted only by the cmd layer,
// never here.
type Config struct {
	// Port the HTTP server listens on. Default "12230".
	Port string

	// DataDir is the BadgerDB directory. Default "./data/forge".
	// Ignored when InMemory is set.
	DataDir string

	// InMemory runs storage without touching disk. For tests and
	// ephemeral deployments.
	InMemory bool

	// GeneratorBackend selects the result generator: "local" (default),
	// "openai", or "ollama".
	GeneratorBackend string

	// EventBuffer is the per-subscriber event channel capacity.
	// Non-positive uses combination.DefaultEventBuffer.
	EventBuffer int

	// OTelEndpoint is the OTLP gRPC collector address. Empty disables
	// trace export.
	OTelEndpoint string

	// EnableMetrics registers Prometheus metrics. Disable in tests to
	// avoid duplicate collector registration.
	EnableMetrics bool

	// GinMode is gin.DebugMode, gin.ReleaseMode, or gin.TestMode.
	// Default release.
	GinMode string

	// LogLevel is "debug", "info", "warn", or "error". Default info.
	LogLevel string

	// LogDir enables JSON file logging next to stderr when set.
	LogDir string

	// ShutdownTimeout bounds graceful HTTP shutdown. Default 10s.
	ShutdownTimeout time.Duration
}

func applyDefaults(cfg Config) Config {
	if cfg.Port == "" {
		cfg.Port = "12230"
	}
	if cfg.DataDir == "" {
		cfg.DataDir = "./data/forge"
	}
	if cfg.GeneratorBackend == "" {
		cfg.GeneratorBackend = "local"
	}
	if cfg.GinMode == "" {
		cfg.GinMode = gin.ReleaseMode
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}
	return cfg
}

// Service is the assembled forge server. Create with New, run with
// Run, and stop by cancelling the context passed to Run.
type Service struct {
	cfg         Config
	logger      *logging.Logger
	db          *badgerstore.DB
	store       *combination.Store
	broadcaster *combination.Broadcaster
	generator   generator.Generator
	metrics     *observability.ForgeMetrics
	router      *gin.Engine

	tracerShutdown func(context.Context)
}

// New assembles the service: opens storage, loads persisted records,
// wires the broadcaster and generator, and builds the HTTP router.
// The caller owns the returned service and must Run or Close it.
func New(ctx context.Context, cfg Config) (*Service, error) {
	cfg = applyDefaults(cfg)

	logger := logging.New(logging.Config{
		Level:   logging.ParseLevel(cfg.LogLevel),
		LogDir:  cfg.LogDir,
		Service: "forged",
		JSON:    true,
	})
	logger.SetAsDefault()

	svc := &Service{cfg: cfg, logger: logger}

	if err := svc.initStorage(ctx); err != nil {
		_ = logger.Close()
		return nil, err
	}

	gen, err := generator.New(cfg.GeneratorBackend)
	if err != nil {
		svc.closeStorage()
		_ = logger.Close()
		return nil, fmt.Errorf("init generator: %w", err)
	}
	svc.generator = gen

	if cfg.EnableMetrics {
		svc.metrics = observability.InitMetrics()
		svc.broadcaster.OnDrop(svc.metrics.RecordDroppedEvents)
	}

	if cfg.OTelEndpoint != "" {
		shutdown, err := initTracer(ctx, cfg.OTelEndpoint)
		if err != nil {
			// Tracing is best-effort: the service is useful without a
			// collector, so log and continue.
			slog.Warn("OTLP tracer setup failed, continuing without tracing", "error", err)
		} else {
			svc.tracerShutdown = shutdown
		}
	}

	gin.SetMode(cfg.GinMode)
	router := gin.New()
	router.Use(gin.Recovery())
	if svc.tracerShutdown != nil {
		router.Use(otelgin.Middleware(serviceName))
	}
	routes.SetupRoutes(router, svc.store, svc.generator, svc.broadcaster, svc.metrics)
	svc.router = router

	slog.Info("forge service assembled",
		"port", cfg.Port,
		"backend", gen.Backend(),
		"in_memory", cfg.InMemory,
		"records", svc.store.Stats().TotalCombinations,
	)
	return svc, nil
}

func (s *Service) initStorage(ctx context.Context) error {
	var (
		db  *badgerstore.DB
		err error
	)
	if s.cfg.InMemory {
		db, err = badgerstore.OpenInMemory()
	} else {
		storageCfg := badgerstore.DefaultConfig()
		storageCfg.Path = s.cfg.DataDir
		db, err = badgerstore.Open(storageCfg)
	}
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	s.db = db

	s.broadcaster = combination.NewBroadcaster(s.cfg.EventBuffer)
	s.store = combination.NewStore(badgerstore.NewGateway(db), s.broadcaster)
	if err := s.store.Load(ctx); err != nil {
		s.closeStorage()
		return fmt.Errorf("load combination store: %w", err)
	}
	return nil
}

func (s *Service) closeStorage() {
	if s.broadcaster != nil {
		s.broadcaster.Close()
	}
	if s.db != nil {
		if err := s.db.Close(); err != nil {
			slog.Error("failed to close storage", "error", err)
		}
	}
}

// Router exposes the gin engine, mainly for httptest.
func (s *Service) Router() *gin.Engine {
	return s.router
}

// Store exposes the combination store for the CLI and tests.
func (s *Service) Store() *combination.Store {
	return s.store
}

// Run serves HTTP until the context is cancelled, then shuts down
// gracefully: stop accepting requests, close the broadcaster so every
// live observer receives the shutdown event, and close storage.
func (s *Service) Run(ctx context.Context) error {
	server := &http.Server{
		Addr:    ":" + s.cfg.Port,
		Handler: s.router,
	}

	group, ctx := errgroup.WithContext(ctx)

	group.Go(func() error {
		slog.Info("starting the forge server", "port", s.cfg.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	})

	group.Go(func() error {
		<-ctx.Done()
		slog.Info("shutting down the forge server")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("HTTP shutdown failed", "error", err)
		}
		return nil
	})

	err := group.Wait()
	s.Close()
	return err
}

// Close releases everything New acquired. Safe after Run; callers that
// never Run must call it themselves.
func (s *Service) Close() {
	s.closeStorage()
	if s.tracerShutdown != nil {
		s.tracerShutdown(context.Background())
	}
	if s.logger != nil {
		_ = s.logger.Close()
	}
}

// initTracer configures the global OTLP trace exporter.
func initTracer(ctx context.Context, endpoint string) (func(context.Context), error) {
	conn, err := grpc.NewClient(endpoint,
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, err
	}
	traceExporter, err := otlptracegrpc.New(ctx, otlptracegrpc.WithGRPCConn(conn))
	if err != nil {
		return nil, err
	}
	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceNameKey.String(serviceName)))
	if err != nil {
		return nil, err
	}
	bsp := sdktrace.NewBatchSpanProcessor(traceExporter)
	traceProvider := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithResource(res),
		sdktrace.WithSpanProcessor(bsp))
	otel.SetTracerProvider(traceProvider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.
		TraceContext{}, propagation.Baggage{}))

	return func(ctx context.Context) {
		ctx, cancel := context.WithTimeout(ctx, time.Second*5)
		defer cancel()
		if err := traceExporter.Shutdown(ctx); err != nil {
			slog.Error("failed to shutdown OTLP exporter", "error", err)
		}
	}, nil
}

// ConfigFromEnv builds a Config from the process environment. Used by
// the server binary; library callers construct Config directly.
func ConfigFromEnv() Config {
	return Config{
		Port:             os.Getenv("FORGE_PORT"),
		DataDir:          os.Getenv("FORGE_DATA_DIR"),
		GeneratorBackend: os.Getenv("FORGE_GENERATOR_BACKEND"),
		OTelEndpoint:     os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		EnableMetrics:    true,
		LogLevel:         os.Getenv("FORGE_LOG_LEVEL"),
		LogDir:           os.Getenv("FORGE_LOG_DIR"),
	}
}
