package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"ai_gateway/internal/config"
	"ai_gateway/internal/httpapi"
	"ai_gateway/internal/logging"
)

func main() {
	logger := logging.NewLogger("main")

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logger.Error("Failed to load config", "error", err)
		os.Exit(1)
	}

	if err := logging.Setup(logging.Config{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		File:       cfg.Logging.File,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAgeDays: cfg.Logging.MaxAgeDays,
	}); err != nil {
		logger.Error("Failed to configure logging", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Build every service behind the API
	services, err := httpapi.NewServices(ctx, cfg)
	if err != nil {
		logger.Error("Failed to build services", "error", err)
		os.Exit(1)
	}
	services.Start(context.WithoutCancel(ctx))

	// Streams can run for minutes, so there is no write timeout; provider
	// calls are bounded by PROVIDER_REQUEST_TIMEOUT instead.
	addr := ":" + cfg.HTTPPort
	server := &http.Server{
		Addr:              addr,
		Handler:           services.Handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("AI Gateway listening", "addr", addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-serverErr:
		logger.Error("Server error", "error", err)
	}

	logger.Info("Shutting down server...")

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("Server forced to shutdown", "error", err)
	}

	// Flush queued usage records and close connections
	if err := services.Shutdown(shutdownCtx); err != nil {
		logger.Warn("Failed to shut down services", "error", err)
	}

	logger.Info("Server exited")
}
