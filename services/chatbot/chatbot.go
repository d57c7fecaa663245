// Copyright (C) 2026 Pelagic AI (oss@pelagicai.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package chatbot provides the retrieval-augmented chat service.
//
// This package contains the Service type that coordinates all components:
// HTTP routing, the generation backend, the retriever, the guardrail gate,
// and the observability infrastructure.
//
// # Usage
//
//	cfg := chatbot.Config{Port: 8090, LLMBackend: "ollama"}
//	svc, err := chatbot.New(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	log.Fatal(svc.Run())
package chatbot

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	openai "github.com/sashabaranov/go-openai"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/pelagicai/pelagic/services/chatbot/guardrail"
	"github.com/pelagicai/pelagic/services/chatbot/handlers"
	"github.com/pelagicai/pelagic/services/chatbot/observability"
	"github.com/pelagicai/pelagic/services/chatbot/retrieval"
	"github.com/pelagicai/pelagic/services/chatbot/routes"
	"github.com/pelagicai/pelagic/services/llm"
)

// =============================================================================
// Interface Definition
// =============================================================================

// Service defines the contract for the chat service lifecycle.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use. Run() blocks and should
// only be called once per instance.
type Service interface {
	// Run starts the HTTP server and blocks until shutdown or error.
	Run() error

	// Router returns the underlying Gin engine for testing. Callers must
	// not modify routes after construction.
	Router() *gin.Engine
}

// =============================================================================
// Configuration
// =============================================================================

// Config holds chat service configuration.
//
// # Description
//
// Centralizes all configuration for the service. Values can be populated
// from environment variables (see cmd/chatbot), config files, or
// programmatically for testing. All fields have defaults applied by New().
type Config struct {
	// Port is the HTTP server port. Default: 8090
	Port int

	// LLMBackend selects the generation provider.
	// Valid values: "ollama", "openai". Default: "ollama"
	LLMBackend string

	// EmbeddingBackend selects the query embedding provider.
	// Valid values: "ollama", "openai". Default: follows LLMBackend.
	EmbeddingBackend string

	// EmbeddingModel overrides the embedding model name. Empty uses the
	// backend default (nomic-embed-text / text-embedding-3-small).
	EmbeddingModel string

	// WeaviateURL is the vector database URL.
	// Default: "http://localhost:8080"
	WeaviateURL string

	// WeaviateClassName is the class holding video summaries.
	// Default: "VideoSummary"
	WeaviateClassName string

	// OTelEndpoint is the OpenTelemetry collector endpoint.
	// Default: "pelagic-otel-collector:4317"
	OTelEndpoint string

	// EnableMetrics enables the Prometheus metrics endpoint.
	// Default: true
	EnableMetrics bool

	// EnableModeration enables the remote moderation guardrail layer.
	// Requires an OpenAI API key; silently disabled when none is set.
	EnableModeration bool

	// GinMode sets the Gin framework mode.
	// Valid values: "debug", "release", "test". Default: GIN_MODE env var.
	GinMode string

	// SearchLimit caps retrieved passages per query. Default: 5
	SearchLimit int

	// SearchThreshold is the minimum passage similarity. Default: 0.5
	SearchThreshold float64

	// PromptBudgetChars bounds the assembled prompt. Default: 24KiB
	PromptBudgetChars int

	// HeartbeatInterval paces SSE keepalives. Default: 15s
	HeartbeatInterval time.Duration
}

// =============================================================================
// Implementation
// =============================================================================

// service implements Service for production use.
//
// # Fields
//
//   - config: Service configuration with defaults applied.
//   - router: Gin HTTP engine.
//   - llmClient: Generation backend.
//   - retriever: Weaviate-backed retriever.
//   - gate: Input/output guardrail.
//   - weaviateClient: Vector database client.
//   - tracerCleanup: Shuts down the OTLP exporter on exit.
//
// # Thread Safety
//
// Thread-safe after construction; all fields are read-only after New().
type service struct {
	config         Config
	router         *gin.Engine
	llmClient      llm.LLMClient
	retriever      retrieval.Retriever
	gate           *guardrail.Gate
	weaviateClient *weaviate.Client
	tracerCleanup  func(context.Context)
}

// New creates a chat Service with the given configuration.
//
// # Description
//
// Initializes all components in dependency order:
//  1. Applies default configuration for missing values
//  2. Initializes OpenTelemetry tracing
//  3. Initializes Prometheus metrics
//  4. Creates the Weaviate client and retriever
//  5. Compiles the guardrail gate
//  6. Creates the LLM client for the configured backend
//  7. Sets up HTTP routes
//
// # Inputs
//
//   - cfg: Service configuration. Zero values use defaults.
//
// # Outputs
//
//   - Service: Ready-to-run chat service.
//   - error: Non-nil if initialization fails.
//
// # Assumptions
//
//   - Environment variables are set for the chosen providers (API keys,
//     Ollama base URL).
//   - Network availability is a runtime concern: constructors here do not
//     dial; unreachable backends surface per-request.
func New(cfg Config) (Service, error) {
	s := &service{
		config: applyConfigDefaults(cfg),
	}

	cleanup, err := s.initTracer()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize tracer: %w", err)
	}
	s.tracerCleanup = cleanup

	if s.config.EnableMetrics {
		observability.InitMetrics()
		slog.Info("Initialized Prometheus metrics for streaming")
	}

	if err := s.initRetriever(); err != nil {
		s.cleanup()
		return nil, fmt.Errorf("failed to initialize retriever: %w", err)
	}

	if err := s.initGuardrail(); err != nil {
		s.cleanup()
		return nil, fmt.Errorf("failed to initialize guardrail: %w", err)
	}

	if err := s.initLLMClient(); err != nil {
		s.cleanup()
		return nil, fmt.Errorf("failed to initialize LLM client: %w", err)
	}

	s.initRouter()

	return s, nil
}

// =============================================================================
// Service Interface Methods
// =============================================================================

// Run starts the HTTP server and blocks until shutdown or error.
func (s *service) Run() error {
	defer s.cleanup()

	addr := fmt.Sprintf(":%d", s.config.Port)
	slog.Info("Starting chat server", "port", s.config.Port)

	return s.router.Run(addr)
}

// Router returns the underlying Gin engine for testing.
func (s *service) Router() *gin.Engine {
	return s.router
}

// =============================================================================
// Private Initialization Methods
// =============================================================================

// applyConfigDefaults fills in missing configuration values.
func applyConfigDefaults(cfg Config) Config {
	if cfg.Port == 0 {
		cfg.Port = 8090
	}
	if cfg.LLMBackend == "" {
		cfg.LLMBackend = "ollama"
	}
	if cfg.EmbeddingBackend == "" {
		cfg.EmbeddingBackend = cfg.LLMBackend
	}
	if cfg.WeaviateURL == "" {
		cfg.WeaviateURL = "http://localhost:8080"
	}
	if cfg.WeaviateClassName == "" {
		cfg.WeaviateClassName = retrieval.DefaultClassName
	}
	if cfg.OTelEndpoint == "" {
		cfg.OTelEndpoint = "pelagic-otel-collector:4317"
	}
	// Metrics are always on; the endpoint is internal-only.
	cfg.EnableMetrics = true

	if cfg.SearchLimit == 0 {
		cfg.SearchLimit = retrieval.DefaultLimit
	}
	if cfg.SearchThreshold == 0 {
		cfg.SearchThreshold = retrieval.DefaultThreshold
	}
	if cfg.HeartbeatInterval == 0 {
		cfg.HeartbeatInterval = 15 * time.Second
	}

	return cfg
}

// initTracer initializes OpenTelemetry distributed tracing.
//
// # Limitations
//
//   - Uses an insecure gRPC connection (appropriate for internal networks).
func (s *service) initTracer() (func(context.Context), error) {
	ctx := context.Background()

	conn, err := grpc.NewClient(s.config.OTelEndpoint,
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("failed to create gRPC connection: %w", err)
	}

	traceExporter, err := otlptracegrpc.New(ctx, otlptracegrpc.WithGRPCConn(conn))
	if err != nil {
		return nil, fmt.Errorf("failed to create trace exporter: %w", err)
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceNameKey.String("chatbot-service")))
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	bsp := sdktrace.NewBatchSpanProcessor(traceExporter)
	traceProvider := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithResource(res),
		sdktrace.WithSpanProcessor(bsp))

	otel.SetTracerProvider(traceProvider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{}, propagation.Baggage{}))

	cleanup := func(ctx context.Context) {
		ctx, cancel := context.WithTimeout(ctx, time.Second*5)
		defer cancel()
		if err := traceExporter.Shutdown(ctx); err != nil {
			slog.Error("failed to shutdown OTLP exporter", "error", err)
		}
	}

	return cleanup, nil
}

// initRetriever creates the Weaviate client, the query embedder, and the
// retriever on top of them.
//
// # Limitations
//
//   - Client creation validates the URL but does not dial; an unreachable
//     Weaviate degrades per-request via ErrRetrievalUnavailable.
func (s *service) initRetriever() error {
	weaviateURL := strings.Trim(s.config.WeaviateURL, "\"' ")

	parsedURL, err := url.Parse(weaviateURL)
	if err != nil || parsedURL.Scheme == "" || parsedURL.Host == "" {
		return fmt.Errorf("invalid Weaviate URL: %s", weaviateURL)
	}

	clientConf := weaviate.Config{
		Host:   parsedURL.Host,
		Scheme: parsedURL.Scheme,
	}

	s.weaviateClient, err = weaviate.NewClient(clientConf)
	if err != nil {
		return fmt.Errorf("failed to create Weaviate client: %w", err)
	}
	slog.Info("Weaviate client initialized", "url", weaviateURL)

	embedder, err := s.buildEmbedder()
	if err != nil {
		return err
	}

	s.retriever = retrieval.NewWeaviateRetriever(
		s.weaviateClient, embedder, s.config.WeaviateClassName)

	return nil
}

// buildEmbedder creates the query embedder for the configured backend.
func (s *service) buildEmbedder() (retrieval.Embedder, error) {
	switch s.config.EmbeddingBackend {
	case "openai":
		client, ok := openAIClientFromEnv()
		if !ok {
			return nil, fmt.Errorf("openai embedding backend requires OPENAI_API_KEY")
		}
		slog.Info("Using OpenAI embedding backend")
		return retrieval.NewOpenAIEmbedder(client,
			openai.EmbeddingModel(s.config.EmbeddingModel)), nil
	case "ollama":
		slog.Info("Using Ollama embedding backend")
		return retrieval.NewOllamaEmbedder(ollamaBaseURL(), s.config.EmbeddingModel), nil
	default:
		slog.Warn("Unknown embedding backend, defaulting to ollama",
			"backend", s.config.EmbeddingBackend)
		return retrieval.NewOllamaEmbedder(ollamaBaseURL(), s.config.EmbeddingModel), nil
	}
}

// initGuardrail compiles the pattern gate and wires the optional remote
// moderation layer.
func (s *service) initGuardrail() error {
	var moderation guardrail.ModerationClient
	if s.config.EnableModeration {
		if client, ok := openAIClientFromEnv(); ok {
			moderation = guardrail.NewOpenAIModerationClient(client)
			slog.Info("Remote moderation layer enabled")
		} else {
			slog.Warn("Moderation requested but no OpenAI API key found, " +
				"running with pattern layer only")
		}
	}

	gate, err := guardrail.NewGate(moderation)
	if err != nil {
		return err
	}
	s.gate = gate

	return nil
}

// initLLMClient creates the generation client for the configured backend.
func (s *service) initLLMClient() error {
	var err error

	switch s.config.LLMBackend {
	case "ollama":
		s.llmClient, err = llm.NewOllamaClient()
		slog.Info("Using Ollama LLM backend")
	case "openai":
		s.llmClient, err = llm.NewOpenAIClient()
		slog.Info("Using OpenAI LLM backend")
	default:
		slog.Warn("Unknown LLM backend, defaulting to ollama", "backend", s.config.LLMBackend)
		s.llmClient, err = llm.NewOllamaClient()
	}

	return err
}

// initRouter sets up the Gin HTTP router with all routes.
func (s *service) initRouter() {
	if s.config.GinMode != "" {
		gin.SetMode(s.config.GinMode)
	}

	s.router = gin.Default()
	s.router.Use(otelgin.Middleware("chatbot-service"))

	chatHandler := handlers.NewChatHandler(
		s.llmClient, s.retriever, s.gate, observability.DefaultMetrics,
		handlers.ChatHandlerConfig{
			SearchLimit:       s.config.SearchLimit,
			SearchThreshold:   s.config.SearchThreshold,
			PromptBudgetChars: s.config.PromptBudgetChars,
			HeartbeatInterval: s.config.HeartbeatInterval,
		})

	routes.SetupRoutes(s.router, chatHandler, s.config.EnableMetrics)
}

// cleanup releases resources held by the service.
func (s *service) cleanup() {
	if s.tracerCleanup != nil {
		s.tracerCleanup(context.Background())
	}
}

// =============================================================================
// Environment Helpers
// =============================================================================

// openAIClientFromEnv builds an OpenAI client from OPENAI_API_KEY or the
// Docker secret file. The second return is false when no key is available.
func openAIClientFromEnv() (*openai.Client, bool) {
	apiKey := os.Getenv("OPENAI_API_KEY")
	if apiKey == "" {
		if data, err := os.ReadFile("/run/secrets/openai_api_key"); err == nil {
			apiKey = strings.TrimSpace(string(data))
		}
	}
	if apiKey == "" {
		return nil, false
	}
	return openai.NewClient(apiKey), true
}

// ollamaBaseURL returns the Ollama server base URL from the environment.
func ollamaBaseURL() string {
	if v := os.Getenv("OLLAMA_BASE_URL"); v != "" {
		return strings.TrimRight(v, "/")
	}
	return "http://localhost:11434"
}

// =============================================================================
// Compile-time Interface Compliance
// =============================================================================

var _ Service = (*service)(nil)
