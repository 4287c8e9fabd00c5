package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/ngoclaw/ngoclaw/wabridge/internal/application"
	"github.com/ngoclaw/ngoclaw/wabridge/internal/infrastructure/config"
	"github.com/ngoclaw/ngoclaw/wabridge/internal/infrastructure/logger"
)

const (
	appName    = "wabridge-gateway"
	appVersion = "0.3.0"
)

// Container entrypoint: configuration comes from WABRIDGE_* variables or
// the file named by WABRIDGE_CONFIG. The admin commands live in cmd/wabridge.
func main() {
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "version":
			fmt.Printf("%s v%s\n", appName, appVersion)
			return
		case "help", "--help", "-h":
			printUsage()
			return
		}
	}

	cfg, v, err := config.LoadWithViper(os.Getenv("WABRIDGE_CONFIG"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log, level, err := logger.NewWithLevel(logger.Config{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		OutputPath: cfg.Log.Output,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	log.Info("Starting gateway bridge",
		zap.String("name", appName),
		zap.String("version", appVersion),
	)

	if err := config.Bootstrap(cfg, "", log); err != nil {
		log.Fatal("Failed to prepare storage", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	app, err := application.NewApp(cfg, log)
	if err != nil {
		log.Fatal("Failed to initialize application", zap.Error(err))
	}
	app.WatchConfig(v, level)

	if err := app.Start(ctx); err != nil {
		log.Fatal("Failed to start application", zap.Error(err))
	}

	// Wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	sig := <-quit
	log.Info("Received shutdown signal", zap.String("signal", sig.String()))

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := app.Stop(shutdownCtx); err != nil {
		log.Error("Error during shutdown", zap.Error(err))
		os.Exit(1)
	}

	log.Info("Application stopped successfully")
}

func printUsage() {
	fmt.Printf(`%s v%s

Usage:
  gateway           Start the bridge server (default)
  gateway version   Show version
  gateway help      Show this help

Environment:
  WABRIDGE_CONFIG   Config file path (optional)
  WABRIDGE_*        Configuration overrides, e.g. WABRIDGE_SERVER_PORT
`, appName, appVersion)
}
