// Package main is the entry point for the messaging API server.
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

	"github.com/relaypoint/messaging-platform/internal/attachment"
	"github.com/relaypoint/messaging-platform/internal/config"
	"github.com/relaypoint/messaging-platform/internal/handler"
	"github.com/relaypoint/messaging-platform/internal/llm"
	"github.com/relaypoint/messaging-platform/internal/middleware"
	"github.com/relaypoint/messaging-platform/internal/screen"
	"github.com/relaypoint/messaging-platform/internal/service"
	"github.com/relaypoint/messaging-platform/internal/store"
	"github.com/relaypoint/messaging-platform/internal/ws"
	"github.com/relaypoint/messaging-platform/pkg/logger"
	"github.com/relaypoint/messaging-platform/pkg/tracing"
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

	// Initialize tracing if enabled
	ctx := context.Background()
	if cfg.TracingEnabled {
		tp, err := tracing.InitTracer(ctx, "messaging-platform", cfg.TracingEndpoint)
		if err != nil {
			log.Warn("failed to initialize tracing")
		} else {
			defer tracing.Shutdown(ctx, tp)
		}
	}

	// Open the message store
	st, err := store.Open(cfg.DatabasePath)
	if err != nil {
		log.Error("failed to open store", "error", err, "path", cfg.DatabasePath)
		os.Exit(1)
	}
	defer st.Close()

	// Attachment storage
	attachments, err := attachment.NewStore(cfg.UploadDir, cfg.UploadBaseURL, cfg.MaxUploadBytes)
	if err != nil {
		log.Error("failed to create upload dir", "error", err, "dir", cfg.UploadDir)
		os.Exit(1)
	}

	// Initialize LLM client
	var llmClient llm.Client
	if cfg.AnthropicAPIKey != "" {
		llmClient, err = llm.NewClient(llm.ProviderAnthropic, cfg.AnthropicAPIKey)
		if err != nil {
			log.Warn("failed to create Anthropic client, assistant replies disabled")
		}
	} else if cfg.OpenAIAPIKey != "" {
		llmClient, err = llm.NewClient(llm.ProviderOpenAI, cfg.OpenAIAPIKey)
		if err != nil {
			log.Warn("failed to create OpenAI client, assistant replies disabled")
		}
	}

	// Initialize services
	screener := screen.NewWordList(cfg.ScreenWords)
	hub := ws.NewHub(log)
	index := service.NewConversationIndex(st, log)
	relay := service.NewDeliveryRelay(st, hub, index, screener, log)
	receipts := service.NewReadReceipts(st, hub, index, log)
	assistant := service.NewAssistant(st, llmClient, attachments, nil, screener, log)
	gateway := ws.NewGateway(hub, relay, cfg.JWTSecret, log)

	// Initialize handlers
	healthHandler := handler.NewHealthHandler(st)
	chatHandler := handler.NewChatHandler(relay, receipts, index, assistant, attachments, st, log)
	adminHandler := handler.NewAdminHandler(st, index, log)

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

	// Live connection endpoint; authenticates inside the handshake so
	// browser clients can pass the token as a query parameter.
	r.Get("/ws", gateway.Handshake)

	// Uploaded files
	r.Handle(cfg.UploadBaseURL+"/*", http.StripPrefix(cfg.UploadBaseURL+"/",
		http.FileServer(http.Dir(attachments.Dir()))))

	// API routes with authentication
	r.Route("/api/chat", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWTSecret))
		r.Use(middleware.RateLimit(cfg.RateLimitRequests, cfg.RateLimitWindow))

		r.Post("/send", chatHandler.Send)
		r.Get("/history", chatHandler.History)
		r.Get("/p2p/{peerID}", chatHandler.HistoryP2P)
		r.Post("/messages/mark-read", chatHandler.MarkRead)
		r.Get("/conversations", chatHandler.Conversations)
		r.Get("/peers", chatHandler.Peers)
	})

	// Moderation routes
	r.Route("/api/admin", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWTSecret))
		r.Use(middleware.RequireAdmin)

		r.Post("/messages/{id}/toggle", adminHandler.Toggle)
		r.Post("/messages/soft-delete", adminHandler.SoftDelete)
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
		log.Info("server listening", "port", cfg.ServerPort)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server error", "error", err)
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
		log.Error("server forced to shutdown", "error", err)
	}

	log.Info("server stopped")
}
