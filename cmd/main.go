package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"students-registry/internal/di"
	"students-registry/internal/shared/logger"
	"students-registry/internal/students/config"

	"github.com/joho/godotenv"
)

func main() {
	// Load environment variables from .env file
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Printf("Warning: Could not load .env file: %v", err)
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	appLogger := logger.NewLoggerWithConfig(cfg.LogLevel, cfg.LogFormat)
	if err := run(cfg, appLogger); err != nil {
		appLogger.Fatalf("Students registry stopped: %v", err)
	}
}

// run serves until a shutdown signal arrives or the listener fails. Deferred cleanup
// always runs before run returns, so callers may exit on its error.
func run(cfg *config.Config, appLogger logger.Logger) error {
	accessLogger, err := logger.NewAccessLogger(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("failed to create access logger: %w", err)
	}
	defer func() { _ = accessLogger.Sync() }()

	appLogger.WithFields(map[string]interface{}{
		"environment": cfg.Environment,
		"storage":     cfg.StorageDriver,
		"testing":     cfg.Testing,
	}).Info("Students registry starting")

	container := di.NewContainer(cfg, appLogger, accessLogger)
	defer func() {
		if err := container.Close(); err != nil {
			appLogger.Errorf("Failed to close container: %v", err)
		}
	}()

	if err := container.InitializeStorage(context.Background()); err != nil {
		return fmt.Errorf("failed to initialize student store: %w", err)
	}
	if err := container.InitializeStudents(); err != nil {
		return fmt.Errorf("failed to initialize students module: %w", err)
	}

	app, err := container.NewHTTPApp()
	if err != nil {
		return fmt.Errorf("failed to build HTTP app: %w", err)
	}

	serverAddr := cfg.Addr()
	appLogger.Infof("Starting HTTP server on %s", serverAddr)

	// Start server in a goroutine for graceful shutdown
	serverShutdown := make(chan error, 1)
	go func() {
		serverShutdown <- app.Listen(serverAddr)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case err := <-serverShutdown:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
	case sig := <-quit:
		appLogger.Infof("Received shutdown signal: %v", sig)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		// Live-feed connections are hijacked; stop the hub first so Shutdown can finish.
		if module := container.GetStudentsModule(); module != nil {
			_ = module.Stop()
		}
		if err := app.ShutdownWithContext(shutdownCtx); err != nil {
			appLogger.Errorf("Server forced to shutdown: %v", err)
		}
		appLogger.Info("HTTP server stopped")
	}
	return nil
}
