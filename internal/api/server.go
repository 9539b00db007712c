package api

import (
	"context"
	"fmt"
	"html/template"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/trial-matcher-server/internal/domain"
	"github.com/trial-matcher-server/internal/feedback"
	"github.com/trial-matcher-server/internal/metrics"
	"github.com/trial-matcher-server/internal/middleware"
)

// Matcher is the part of the matcher service the HTTP layer uses.
type Matcher interface {
	MatchForPatientBundle(ctx context.Context, req *domain.MatchRequest) ([]domain.MatchResult, error)
	BuildReport(ctx context.Context, bundle *domain.ClinicalBundle, notes string) (*domain.PatientReport, error)
	DefaultTopK() int
}

// TrialCounter reports corpus size for health checks.
type TrialCounter interface {
	Count(ctx context.Context) (int, error)
}

// Server represents the HTTP server
type Server struct {
	config   *domain.Config
	logger   *logrus.Logger
	matcher  Matcher
	trials   TrialCounter
	feedback feedback.Store
	metrics  *metrics.Metrics
	router   *gin.Engine
	server   *http.Server
}

// Option configures optional server collaborators.
type Option func(*Server)

// WithFeedbackStore enables the feedback endpoints.
func WithFeedbackStore(store feedback.Store) Option {
	return func(s *Server) { s.feedback = store }
}

// WithTrialCounter reports corpus size on /health.
func WithTrialCounter(c TrialCounter) Option {
	return func(s *Server) { s.trials = c }
}

// WithMetrics exposes /metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// NewServer creates a new HTTP server instance
func NewServer(config *domain.Config, matcher Matcher, logger *logrus.Logger, opts ...Option) *Server {
	// Set Gin mode based on environment
	if config.Logging.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.SetHTMLTemplate(template.Must(template.New("pages").Parse(pageTemplates)))

	// Add middleware
	router.Use(gin.Recovery())
	router.Use(middleware.RequestID())
	router.Use(middleware.RequestLogger(logger))
	router.Use(middleware.SecurityHeaders())
	router.Use(middleware.RequestTimeout(config.Server.WriteTimeout))

	s := &Server{
		config:  config,
		logger:  logger,
		matcher: matcher,
		router:  router,
	}
	for _, opt := range opts {
		opt(s)
	}

	s.setupRoutes()
	return s
}

// Router exposes the handler for tests and embedding.
func (s *Server) Router() http.Handler {
	return s.router
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	cfg := s.config.Server
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)

	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.WithField("addr", addr).Info("HTTP server listening")
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("failed to start server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	// Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	return s.server.Shutdown(shutdownCtx)
}

// setupRoutes configures the API routes
func (s *Server) setupRoutes() {
	s.router.GET("/", s.handleHome)
	s.router.GET("/health", s.handleHealth)
	s.router.GET("/metrics", gin.WrapH(s.metrics.Handler()))
	s.router.GET("/report/:patient_id", s.handleReport)

	// Path kept for clients of the first release.
	s.router.POST("/match/patient", s.handleMatch)

	v1 := s.router.Group("/api/v1")
	{
		v1.POST("/match", s.handleMatch)
		v1.GET("/report/:patient_id", s.handleReportJSON)
		v1.POST("/feedback", s.handleSaveFeedback)
		v1.GET("/feedback", s.handleListFeedback)
	}
}
