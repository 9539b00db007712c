// Package main runs the MCP server without Postgres or Redis: trials are kept
// in memory and feedback in SQLite under the data directory.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/trial-matcher-server/internal/app"
	"github.com/trial-matcher-server/internal/config"
	"github.com/trial-matcher-server/internal/mcp"
)

func main() {
	configManager, err := config.NewManager()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	cfg := configManager.GetConfig()
	dataDir := config.DefaultDataDir()
	if err := config.ApplyLite(cfg, dataDir); err != nil {
		log.Fatalf("Failed to prepare data directory: %v", err)
	}
	cfg.Logging.Output = "stderr"

	if err := configManager.Validate(); err != nil {
		log.Fatalf("Configuration validation failed: %v", err)
	}

	logger := app.NewLogger(cfg.Logging)
	logger.WithField("data_dir", dataDir).Info("Starting trial matcher MCP server (lite)")

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	application, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize application")
	}
	defer application.Close()

	opts := []mcp.ServerOption{mcp.WithDefaultCountry(cfg.CTGov.DefaultCountry)}
	if application.Feedback != nil {
		opts = append(opts, mcp.WithFeedbackStore(application.Feedback))
	}
	server := mcp.NewServer(cfg.MCP, application.Matcher, logger, opts...)

	if err := server.Start(ctx); err != nil {
		logger.WithError(err).Error("MCP server stopped with error")
		return
	}

	logger.Info("Trial matcher MCP server (lite) stopped")
}
