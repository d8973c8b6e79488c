// Package main is the entry point for the API server.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/tic-ai/inference-platform/internal/completion"
	"github.com/tic-ai/inference-platform/internal/config"
	"github.com/tic-ai/inference-platform/internal/handler"
	"github.com/tic-ai/inference-platform/internal/llm"
	"github.com/tic-ai/inference-platform/internal/middleware"
	natsclient "github.com/tic-ai/inference-platform/internal/nats"
	"github.com/tic-ai/inference-platform/internal/service"
	"github.com/tic-ai/inference-platform/internal/template"
	"github.com/tic-ai/inference-platform/pkg/logger"
	"github.com/tic-ai/inference-platform/pkg/tracing"
)

func main() {
	// Load configuration
	cfg := config.Load()

	// Initialize logger
	log, err := logger.New(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()
	logger.SetGlobal(log)

	log.Info("starting API server")

	// Compile chat templates; a malformed definition is fatal.
	templates, err := template.NewRegistry()
	if err != nil {
		log.Error("failed to initialize template registry", zap.Error(err))
		os.Exit(1)
	}
	defaultFamily := template.Family(cfg.TemplateFamily)
	if !templates.Known(defaultFamily) {
		log.Error("unknown template family", zap.String("family", cfg.TemplateFamily))
		os.Exit(1)
	}

	// Initialize tracing if enabled
	ctx := context.Background()
	if cfg.TracingEnabled {
		tp, err := tracing.InitTracer(ctx, "inference-platform", cfg.TracingEndpoint)
		if err != nil {
			log.Warn("failed to initialize tracing", zap.Error(err))
		} else {
			defer tracing.Shutdown(ctx, tp)
		}
	}

	// Connect to NATS when event publishing is enabled
	var natsConn *natsclient.Client
	var publisher *natsclient.Publisher
	if cfg.NATSEnabled {
		natsConn, err = natsclient.Connect(natsclient.Config{
			URL:      cfg.NATSURL,
			CAFile:   cfg.NATSCAFile,
			CertFile: cfg.NATSCertFile,
			KeyFile:  cfg.NATSKeyFile,
			Token:    cfg.NATSToken,
		}, log)
		if err != nil {
			log.Error("failed to connect to NATS", zap.Error(err))
			os.Exit(1)
		}
		defer natsConn.Close()

		publisher = natsclient.NewPublisher(natsConn)
		if err := publisher.EnsureStream(ctx); err != nil {
			log.Error("failed to ensure stream", zap.Error(err))
			os.Exit(1)
		}
	}

	// Session factory: every completion request gets its own exclusive
	// session against the inference backend.
	backend := llm.Backend(cfg.Backend)
	sessionCfg := llm.Config{
		BaseURL:        cfg.BackendURL,
		Model:          cfg.Model,
		APIKey:         cfg.BackendAPIKey,
		MaxPromptBytes: cfg.MaxPromptBytes,
	}
	if _, err := llm.NewSession(backend, sessionCfg); err != nil {
		log.Error("invalid inference backend configuration", zap.Error(err))
		os.Exit(1)
	}
	sessions := func() (llm.Session, error) {
		return llm.NewSession(backend, sessionCfg)
	}

	// Initialize services
	registry := completion.NewRegistry(log)
	conversationSvc := service.NewConversationService(templates, defaultFamily, log)
	completionSvc := service.NewCompletionService(
		templates,
		registry,
		conversationSvc,
		publisher,
		sessions,
		service.GenerationSettings{
			Sampling: llm.SamplingParams{
				Temperature: float32(cfg.Temperature),
				TopP:        float32(cfg.TopP),
				TopK:        cfg.TopK,
			},
			MaxTokens: cfg.MaxTokens,
			ModelName: cfg.Model,
		},
		log,
	)

	// Initialize handlers
	healthHandler := handler.NewHealthHandler(natsConn)
	conversationHandler := handler.NewConversationHandler(conversationSvc, log)
	completionHandler := handler.NewCompletionHandler(completionSvc, conversationSvc, log)

	// Create router
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logging(log))
	r.Use(middleware.SecurityHeaders)
	r.Use(chimiddleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Requested-With"},
		ExposedHeaders:   []string{"Link", "X-Correlation-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Health endpoints (no auth required)
	r.Get("/health", healthHandler.Health)
	r.Get("/ready", healthHandler.Ready)

	// Metrics endpoint
	r.Handle("/metrics", promhttp.Handler())

	// API routes with authentication
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWTSecret))
		r.Use(middleware.RateLimit(cfg.RateLimitRequests, cfg.RateLimitWindow))

		// Conversations
		r.Route("/conversations", func(r chi.Router) {
			r.Post("/", conversationHandler.Create)
			r.Get("/", conversationHandler.List)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", conversationHandler.Get)
				r.Put("/", conversationHandler.Update)
				r.Delete("/", conversationHandler.Delete)

				// Messages and prompt preview
				r.Get("/messages", conversationHandler.Messages)
				r.Get("/render", completionHandler.Render)

				// Completion submission (per-user limited)
				r.With(
					middleware.RequireScope(middleware.ScopeCompletions),
					middleware.UserRateLimit(cfg.RateLimitRequests, cfg.RateLimitWindow),
				).Group(func(r chi.Router) {
					r.Post("/completions", completionHandler.Stream)
					r.Post("/messages", completionHandler.Send)
				})
			})
		})

		// Completion request registry
		r.Route("/completions/{id}", func(r chi.Router) {
			r.Get("/", completionHandler.Get)
			r.Delete("/", completionHandler.Abandon)
		})
	})

	// Create HTTP server
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      r,
		ReadTimeout:  cfg.ServerReadTimeout,
		WriteTimeout: cfg.ServerWriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Info("server listening", zap.String("port", cfg.ServerPort))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server error", zap.Error(err))
			os.Exit(1)
		}
	}()

	// Wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down server")

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("server forced to shutdown", zap.Error(err))
	}

	log.Info("server stopped")
}
