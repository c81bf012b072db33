package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"multimodal-backend/internal/config"
	"multimodal-backend/internal/database"
	"multimodal-backend/internal/events"
	"multimodal-backend/internal/handlers"
	"multimodal-backend/internal/logging"
	"multimodal-backend/internal/router"
	"multimodal-backend/internal/services"
	"multimodal-backend/internal/session"
	"multimodal-backend/internal/telemetry"
	"multimodal-backend/internal/websocket"
)

const janitorInterval = time.Minute

func runServe(cmd *cobra.Command, args []string) error {
	// ──── Step 1: Load Environment Variables ────
	cfg := config.Load()
	if port != "" {
		cfg.Port = port
	}

	// ──── Step 2: Logging ────
	logger, err := logging.Init(cfg)
	if err != nil {
		return fmt.Errorf("logging setup failed: %w", err)
	}
	logger.Info("🚀 Starting Multimodal Backend...")
	logger.Info("✓ Environment variables loaded", "env", cfg.Env)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ──── Step 3: Telemetry ────
	if cfg.TelemetryEnabled {
		shutdown, err := telemetry.Init(ctx, cfg.TelemetryDir)
		if err != nil {
			return fmt.Errorf("telemetry setup failed: %w", err)
		}
		defer shutdown()
		logger.Info("✓ Telemetry exporting", "dir", cfg.TelemetryDir)
	}

	// ──── Step 4: Initialize Gemini Client ────
	var backend services.ChatBackend
	if cfg.GoogleAPIKey != "" {
		gemini, err := services.NewGeminiService(ctx, cfg.GoogleAPIKey, cfg.VisionModel, cfg.LanguageModel)
		if err != nil {
			return fmt.Errorf("gemini client initialization failed: %w", err)
		}
		defer gemini.Close()
		backend = gemini
		logger.Info("✓ Gemini client initialized", "vision_model", cfg.VisionModel, "language_model", cfg.LanguageModel)
	} else {
		logger.Warn("✗ GOOGLE_API_KEY not set, chat requests will be rejected")
	}

	if cfg.ReplicateAPIToken == "" {
		logger.Warn("✗ REPLICATE_API_TOKEN not set, image generation needs a token per session")
	}

	// ──── Step 5: Event Bus ────
	var bus events.Bus
	if cfg.RedisURL != "" {
		client, err := database.NewRedisClient(cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("redis connection failed: %w", err)
		}
		bus = events.NewRedisBus(client)
		logger.Info("✓ Redis event bus connected")
	} else {
		bus = events.NewMemoryBus()
		logger.Info("✓ In-memory event bus ready")
	}
	defer bus.Close()

	// ──── Step 6: Sessions and Services ────
	store := session.NewStore(cfg.SessionIdleTTL)
	store.StartJanitor(janitorInterval)
	defer store.Stop()

	chatService := services.NewChatService(backend, cfg.StreamDelay)
	imageService := services.NewImageService(services.NewReplicatePredictor(), cfg.ReplicateModel, cfg.ReplicateAPIToken)

	sessionHandler := handlers.NewSessionHandler(store, chatService, bus)
	chatHandler := handlers.NewChatHandler(chatService, bus, cfg.MaxImageBytes)
	imageHandler := handlers.NewImageHandler(imageService, bus)

	// ──── Step 7: WebSocket Hub ────
	wsHub := websocket.NewHub(bus, chatService, cfg.MaxImageBytes, cfg.FrontendURL)
	logger.Info("✓ WebSocket hub started")

	// ──── Step 8: Start HTTP Server ────
	sessionLimiter := router.DefaultSessionLimiter()
	defer sessionLimiter.Stop()

	r := router.New(store, sessionHandler, chatHandler, imageHandler, wsHub, sessionLimiter, cfg.FrontendURL)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.Port),
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info(fmt.Sprintf("✓ Multimodal Backend ready on http://localhost:%s", cfg.Port))
		logger.Info(fmt.Sprintf("  API: http://localhost:%s/api/v1", cfg.Port))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	case <-ctx.Done():
		slog.Info("Shutting down...")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}
	return nil
}
