// Package mcp exposes the trial matcher as Model Context Protocol tools.
package mcp

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/sirupsen/logrus"

	"github.com/trial-matcher-server/internal/domain"
	"github.com/trial-matcher-server/internal/feedback"
)

// Matcher is the part of the matcher service exposed over MCP.
type Matcher interface {
	MatchForPatientBundle(ctx context.Context, req *domain.MatchRequest) ([]domain.MatchResult, error)
	DefaultTopK() int
}

// Server represents the trial matcher MCP server
type Server struct {
	config    domain.MCPConfig
	country   string
	mcpServer *mcp.Server
	matcher   Matcher
	feedback  feedback.Store
	logger    *logrus.Logger
}

// ServerOption is a functional option for Server.
type ServerOption func(*Server)

// WithFeedbackStore registers the feedback tools backed by store.
func WithFeedbackStore(store feedback.Store) ServerOption {
	return func(s *Server) { s.feedback = store }
}

// WithDefaultCountry sets the country used when a call omits one.
func WithDefaultCountry(country string) ServerOption {
	return func(s *Server) { s.country = country }
}

// NewServer creates a new MCP server instance
func NewServer(cfg domain.MCPConfig, matcher Matcher, logger *logrus.Logger, opts ...ServerOption) *Server {
	name := cfg.ServerName
	if name == "" {
		name = "trial-matcher"
	}
	version := cfg.ServerVersion
	if version == "" {
		version = "v0.1.0"
	}

	s := &Server{
		config:    cfg,
		country:   "United States",
		mcpServer: mcp.NewServer(&mcp.Implementation{Name: name, Version: version}, nil),
		matcher:   matcher,
		logger:    logger,
	}
	for _, opt := range opts {
		opt(s)
	}

	s.registerTools()
	return s
}

// MCPServer returns the underlying SDK server.
func (s *Server) MCPServer() *mcp.Server {
	return s.mcpServer
}

// registerTools registers the matching and feedback tools
func (s *Server) registerTools() {
	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name: "match_trials",
		Description: "Match a patient (clinical bundle plus optional free-text notes) to recruiting clinical trials. " +
			"Returns candidate trials in retrieval order with a heuristic score, per-criterion breakdown, " +
			"uncertain criteria and an optional rationale.",
	}, s.handleMatchTrials)

	count := 1
	if s.feedback != nil {
		mcp.AddTool(s.mcpServer, &mcp.Tool{
			Name:        "submit_feedback",
			Description: "Record a coordinator decision (eligible, ineligible, needs_review) on a suggested trial for a patient.",
		}, s.handleSubmitFeedback)
		mcp.AddTool(s.mcpServer, &mcp.Tool{
			Name:        "list_feedback",
			Description: "List recorded coordinator decisions, newest first.",
		}, s.handleListFeedback)
		mcp.AddTool(s.mcpServer, &mcp.Tool{
			Name:        "export_feedback",
			Description: "Export all coordinator decisions to a JSON file on the server.",
		}, s.handleExportFeedback)
		count += 3
	}

	s.logger.WithField("tool_count", count).Info("Registered MCP tools")
}

// Start runs the server on the configured transport until ctx is done.
func (s *Server) Start(ctx context.Context) error {
	transport := s.config.Transport
	if transport == "" {
		transport = "stdio"
	}
	s.logger.WithField("transport_type", transport).Info("Starting trial matcher MCP server")

	switch transport {
	case "stdio":
		if err := s.mcpServer.Run(ctx, &mcp.StdioTransport{}); err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("MCP server failed: %w", err)
		}
		return nil
	case "http":
		return s.serveHTTP(ctx)
	default:
		return fmt.Errorf("unsupported transport: %s", transport)
	}
}

func (s *Server) serveHTTP(ctx context.Context) error {
	handler := mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server { return s.mcpServer }, nil)
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.config.HTTPPort),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.WithField("addr", srv.Addr).Info("MCP streamable HTTP listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("MCP HTTP server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// Close releases the feedback store.
func (s *Server) Close() error {
	if s.feedback != nil {
		if err := s.feedback.Close(); err != nil {
			s.logger.WithError(err).Error("Failed to close feedback store")
			return err
		}
	}
	return nil
}
