// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package compliance wires the question-answering pipeline into a runnable
// HTTP service: profile store, search backends with failover, LLM
// collaborators, the engine, and the Gin router.
package compliance

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/AleutianAI/AleutianComply/services/compliance/backend"
	"github.com/AleutianAI/AleutianComply/services/compliance/engine"
	"github.com/AleutianAI/AleutianComply/services/compliance/generate"
	"github.com/AleutianAI/AleutianComply/services/compliance/llm"
	"github.com/AleutianAI/AleutianComply/services/compliance/profile"
	"github.com/AleutianAI/AleutianComply/services/compliance/retrieval"
	"github.com/AleutianAI/AleutianComply/services/compliance/routes"
)

// =============================================================================
// Configuration
// =============================================================================

// Config holds compliance service configuration options.
//
// # Description
//
// Config centralizes all configuration for the compliance service. Values
// can be populated from flags, environment variables, or programmatically
// for testing. All fields have defaults applied by New().
type Config struct {
	// Port is the HTTP server port. Default: 12310
	Port int

	// ProfilePath is the tenant profile YAML file. Default: "./profiles/default.yaml"
	ProfilePath string

	// WatchProfile enables hot-reload of the profile file. Default: false
	WatchProfile bool

	// LLMBackend specifies the LLM provider.
	// Valid values: "openai", "ollama". Default: "ollama"
	LLMBackend string

	// OTelEndpoint is the OpenTelemetry collector endpoint.
	// Default: "aleutian-otel-collector:4317"
	OTelEndpoint string

	// GinMode sets the Gin framework mode.
	// Valid values: "debug", "release", "test"
	GinMode string

	// BackendTimeout is the per-request timeout for HTTP search backends.
	// Default: 20 seconds
	BackendTimeout time.Duration
}

// =============================================================================
// Implementation
// =============================================================================

// Service is the runnable compliance question-answering service.
//
// # Thread Safety
//
// Thread-safe after construction. All fields are read-only after New()
// returns; the profile store and backend selector manage their own locks.
type Service struct {
	config        Config
	profiles      *profile.Store
	selector      *backend.Selector
	engine        *engine.Engine
	router        *gin.Engine
	tracerCleanup func(context.Context)
}

// New creates the compliance service from its configuration.
//
// # Description
//
// New initializes every component in dependency order:
//  1. Applies default configuration for missing values
//  2. Loads the tenant profile (optionally watching it for changes)
//  3. Initializes OpenTelemetry tracing
//  4. Builds the search backends declared by the profile
//  5. Creates the LLM client and its generator/evaluator collaborators
//  6. Wires the retrieval orchestrator and the engine
//  7. Sets up HTTP routes
//
// # Outputs
//
//   - *Service: Ready-to-run service
//   - error: Non-nil if any component fails to initialize
func New(cfg Config) (*Service, error) {
	s := &Service{config: applyConfigDefaults(cfg)}

	profiles, err := profile.NewStore(s.config.ProfilePath)
	if err != nil {
		return nil, fmt.Errorf("failed to load profile: %w", err)
	}
	s.profiles = profiles
	if s.config.WatchProfile {
		if err := profiles.Watch(); err != nil {
			slog.Warn("Profile watch failed, continuing with static profile",
				"error", err)
		}
	}

	cleanup, err := s.initTracer()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize tracer: %w", err)
	}
	s.tracerCleanup = cleanup

	search, err := s.initBackends()
	if err != nil {
		s.cleanup()
		return nil, fmt.Errorf("failed to initialize search backends: %w", err)
	}

	llmClient, err := s.initLLMClient()
	if err != nil {
		s.cleanup()
		return nil, fmt.Errorf("failed to initialize LLM client: %w", err)
	}

	retriever := retrieval.NewOrchestrator(search, generate.NewEvaluator(llmClient))
	s.engine = engine.New(profiles, retriever, generate.NewGenerator(llmClient))

	s.initRouter()
	return s, nil
}

// Run starts the HTTP server and blocks until shutdown or error.
func (s *Service) Run() error {
	defer s.cleanup()

	addr := fmt.Sprintf(":%d", s.config.Port)
	slog.Info("Starting compliance server", "port", s.config.Port)
	return s.router.Run(addr)
}

// Router returns the underlying Gin engine for testing.
func (s *Service) Router() *gin.Engine {
	return s.router
}

// Engine returns the wired engine, for CLI use without the HTTP layer.
func (s *Service) Engine() *engine.Engine {
	return s.engine
}

// =============================================================================
// Private Initialization Methods
// =============================================================================

func applyConfigDefaults(cfg Config) Config {
	if cfg.Port == 0 {
		cfg.Port = 12310
	}
	if cfg.ProfilePath == "" {
		cfg.ProfilePath = "./profiles/default.yaml"
	}
	if cfg.LLMBackend == "" {
		cfg.LLMBackend = "ollama"
	}
	if cfg.OTelEndpoint == "" {
		cfg.OTelEndpoint = "aleutian-otel-collector:4317"
	}
	if cfg.BackendTimeout == 0 {
		cfg.BackendTimeout = 20 * time.Second
	}
	return cfg
}

// initTracer configures the OTLP gRPC exporter and installs the global
// tracer provider. The returned cleanup flushes and shuts down the
// exporter; callers must invoke it on exit.
func (s *Service) initTracer() (func(context.Context), error) {
	ctx := context.Background()

	conn, err := grpc.NewClient(s.config.OTelEndpoint,
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("failed to create gRPC connection to collector: %w", err)
	}

	exporter, err := otlptracegrpc.New(ctx, otlptracegrpc.WithGRPCConn(conn))
	if err != nil {
		return nil, fmt.Errorf("failed to create trace exporter: %w", err)
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceNameKey.String("compliance-service"),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	bsp := sdktrace.NewBatchSpanProcessor(exporter)
	tracerProvider := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithResource(res),
		sdktrace.WithSpanProcessor(bsp),
	)
	otel.SetTracerProvider(tracerProvider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{}, propagation.Baggage{}))

	slog.Info("Initialized OpenTelemetry tracing", "endpoint", s.config.OTelEndpoint)

	cleanup := func(ctx context.Context) {
		shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := tracerProvider.Shutdown(shutdownCtx); err != nil {
			slog.Error("Failed to shutdown tracer provider", "error", err)
		}
	}
	return cleanup, nil
}

// initBackends builds the search backends the profile declares and wraps
// them in the failover searcher. At least one backend is required.
func (s *Service) initBackends() (*backend.FailoverSearcher, error) {
	p := s.profiles.Current()
	if len(p.Backends) == 0 {
		return nil, fmt.Errorf("profile declares no search backends")
	}

	searchers := make([]backend.Searcher, 0, len(p.Backends))
	for _, bc := range p.Backends {
		switch bc.Kind {
		case "", "contract":
			searchers = append(searchers,
				backend.NewContractClient(bc.Name, bc.URL, bc.HealthURL, s.config.BackendTimeout))
		case "weaviate":
			u, err := url.Parse(bc.URL)
			if err != nil || u.Host == "" {
				return nil, fmt.Errorf("invalid weaviate URL for backend %q: %s", bc.Name, bc.URL)
			}
			ws, err := backend.NewWeaviateSearcher(bc.Name, u.Host, u.Scheme)
			if err != nil {
				return nil, fmt.Errorf("failed to create weaviate backend %q: %w", bc.Name, err)
			}
			searchers = append(searchers, ws)
		default:
			return nil, fmt.Errorf("unknown backend kind %q for backend %q", bc.Kind, bc.Name)
		}
		slog.Info("Registered search backend", "name", bc.Name, "kind", bc.Kind, "url", bc.URL)
	}

	opts := []backend.SelectorOption{
		backend.WithProbeTTL(time.Duration(p.ProbeTTLSeconds) * time.Second),
		backend.WithProbeTimeout(time.Duration(p.ProbeTimeoutMs) * time.Millisecond),
	}
	if p.ForceBackend != "" {
		opts = append(opts, backend.WithForcedBackend(p.ForceBackend))
	}
	s.selector = backend.NewSelector(searchers, opts...)

	metrics := backend.NewMetrics(prometheus.DefaultRegisterer)
	return backend.NewFailoverSearcher(s.selector, metrics), nil
}

func (s *Service) initLLMClient() (llm.Client, error) {
	switch s.config.LLMBackend {
	case "openai":
		return llm.NewOpenAIClient()
	case "ollama":
		return llm.NewOllamaClient()
	default:
		return nil, fmt.Errorf("unknown LLM backend: %s (valid: openai, ollama)", s.config.LLMBackend)
	}
}

func (s *Service) initRouter() {
	if s.config.GinMode != "" {
		gin.SetMode(s.config.GinMode)
	}
	router := gin.Default()
	router.Use(otelgin.Middleware("compliance-service"))
	routes.SetupRoutes(router, s.engine, s.selector)
	s.router = router
}

func (s *Service) cleanup() {
	if s.tracerCleanup != nil {
		s.tracerCleanup(context.Background())
	}
	if s.profiles != nil {
		if err := s.profiles.Close(); err != nil {
			slog.Error("Failed to close profile store", "error", err)
		}
	}
}
