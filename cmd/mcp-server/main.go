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
	// Load configuration
	configManager, err := config.NewManager()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	cfg := configManager.GetConfig()
	// stdout belongs to the stdio transport.
	if cfg.MCP.Transport == "" || cfg.MCP.Transport == "stdio" {
		cfg.Logging.Output = "stderr"
	}

	// Validate configuration
	if err := configManager.Validate(); err != nil {
		log.Fatalf("Configuration validation failed: %v", err)
	}

	logger := app.NewLogger(cfg.Logging)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	application, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize application")
	}
	defer application.Close()

	server := mcp.NewServer(cfg.MCP, application.Matcher, logger, mcpOptions(application)...)

	if err := server.Start(ctx); err != nil {
		logger.WithError(err).Error("MCP server stopped with error")
		return
	}

	logger.Info("Trial matcher MCP server stopped")
}

func mcpOptions(a *app.App) []mcp.ServerOption {
	opts := []mcp.ServerOption{mcp.WithDefaultCountry(a.Config.CTGov.DefaultCountry)}
	if a.Feedback != nil {
		opts = append(opts, mcp.WithFeedbackStore(a.Feedback))
	}
	return opts
}
