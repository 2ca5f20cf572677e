// Elfrid - conversational assistant backend
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

	"github.com/elfrid-labs/elfrid/internal/agents"
	"github.com/elfrid-labs/elfrid/internal/api"
	"github.com/elfrid-labs/elfrid/internal/assistant"
	"github.com/elfrid-labs/elfrid/internal/config"
	"github.com/elfrid-labs/elfrid/internal/llm"
	"github.com/elfrid-labs/elfrid/internal/middleware"
	"github.com/elfrid-labs/elfrid/internal/store"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
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

	slog.Info("Starting server", "port", cfg.Port)

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
	slog.Info("Database connected", "path", cfg.DBPath)

	if cfg.SeedDemoData {
		if err := seedDemoData(context.Background(), repo); err != nil {
			slog.Error("Failed to seed demo data", "error", err)
			os.Exit(1)
		}
		slog.Info("Demo data seeded", "user_id", 1)
	}

	completion, err := llm.NewGeminiService(context.Background(), cfg.GeminiAPIKey, cfg.GeminiModel)
	if err != nil {
		slog.Error("Failed to initialize completion service", "error", err)
		os.Exit(1)
	}
	slog.Info("Completion service ready")

	ilog, err := assistant.NewInteractionLogger(assistant.InteractionLogConfig{
		Enabled:   cfg.InteractionLog.Enabled,
		Dir:       cfg.InteractionLog.Dir,
		QueueSize: cfg.InteractionLog.QueueSize,
	}, logger)
	if err != nil {
		slog.Error("Failed to initialize interaction logger", "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := ilog.Close(); closeErr != nil {
			slog.Error("Failed to close interaction logger", "error", closeErr)
		}
	}()

	registry := agents.NewRegistry()
	pipeline := assistant.NewPipeline(repo, completion, registry, ilog)

	// Initialize handlers.
	chatHandler := api.NewChatHandler(pipeline)
	healthHandler := api.NewHealthHandler(repo)

	// Setup router.
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/health"))
	r.Use(middleware.CORS(cfg.AllowedOrigins))

	healthHandler.RegisterHealth(r)
	chatHandler.RegisterRoutes(r)

	// Completion calls are network-bound; give writes generous room.
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 120 * time.Second,
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
