// Repchat - experiment session server for the representative-client study.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/avh-lab/repchat/internal/api"
	"github.com/avh-lab/repchat/internal/config"
	"github.com/avh-lab/repchat/internal/events"
	"github.com/avh-lab/repchat/internal/middleware"
	"github.com/avh-lab/repchat/internal/quota"
	"github.com/avh-lab/repchat/internal/responder"
	"github.com/avh-lab/repchat/internal/session"
	"github.com/avh-lab/repchat/internal/store"
	"github.com/avh-lab/repchat/internal/study"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	slog.Info("Starting server", "port", cfg.Port, "dev", cfg.IsDevelopment())

	// Initialize dependencies.
	repo, err := store.NewSQLite(cfg.DBPath)
	if err != nil {
		slog.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := repo.Close(); closeErr != nil {
			slog.Error("Failed to close repository", "error", closeErr)
		}
	}()

	if err := repo.Ping(context.Background()); err != nil {
		slog.Error("Database health check failed", "error", err)
		os.Exit(1)
	}
	// Refuse to start on a corrupt quota table; assigning conditions
	// against partial counts would unbalance the design.
	if _, err := repo.LoadQuota(context.Background()); err != nil {
		slog.Error("Quota state check failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Database connected")

	// Initialize services.
	sessions := session.NewStore()
	allocator := quota.New(repo, cfg.CapacityPerCell, nil, logger)

	var persona responder.Persona
	var emotional responder.EmotionalAgent
	var informational responder.InformationalAgent
	var sentiment responder.SentimentClassifier
	if cfg.Responder.URL != "" {
		client := responder.NewLLMClient(cfg.Responder.URL, cfg.Responder.APIKey, cfg.Responder.Model, cfg.Responder.Timeout)
		persona, emotional, informational, sentiment = client, client, client, client
		slog.Info("LLM responder configured", "url", cfg.Responder.URL, "model", cfg.Responder.Model)
	} else {
		scripted := &responder.Scripted{}
		persona, emotional, informational, sentiment = scripted, scripted, scripted, scripted
		slog.Info("RESPONDER_URL not set, using scripted responder")
	}

	engine := study.NewEngine(study.Config{
		Sessions:  sessions,
		Allocator: allocator,
		Persona:   persona,
		Emotional: emotional,
		Info:      informational,
		Sentiment: sentiment,
		Recorder:  events.NewStoreRecorder(repo, logger),
		Logger:    logger,
	})

	// Initialize handlers.
	baseHandler := api.NewHandler(cfg.FrontendURL)
	studyHandler := api.NewStudyHandler(baseHandler, engine, allocator, repo)
	healthHandler := api.NewHealthHandler(repo)

	// Setup router.
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/ping"))
	r.Use(middleware.CORS([]string{"*"}))

	// Public routes.
	healthHandler.RegisterHealth(r)
	r.Handle("/metrics", promhttp.Handler())

	studyHandler.RegisterRoutes(r)

	// Create server.
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Start server.
	go func() {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server failed", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for shutdown signal.
	<-ctx.Done()
	stop()

	slog.Info("Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
		os.Exit(1)
	}

	slog.Info("Server stopped successfully")
}
