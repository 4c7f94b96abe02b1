// Package http serves the review API: pending pull requests awaiting a
// decision, and the endpoint reviewers post decisions to.
package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/devpipe/internal/logging"
	"github.com/fyrsmithlabs/devpipe/internal/orchestrator"
	"github.com/fyrsmithlabs/devpipe/internal/review"
)

var validSlug = regexp.MustCompile(`^[a-z0-9-]+$`)

// ReviewSink receives decisions. *review.Inbox serves local runs and
// *workflows.Client relays to Temporal.
type ReviewSink interface {
	Submit(ctx context.Context, slug string, rv orchestrator.Review) error
	Pending(ctx context.Context) ([]orchestrator.ReviewRequest, error)
}

// Server provides the review HTTP endpoints.
type Server struct {
	echo     *echo.Echo
	sink     ReviewSink
	logger   *logging.Logger
	config   *Config
	limiters *limiters
	registry *prometheus.Registry
	metrics  *promMetrics
}

// Config holds HTTP server configuration.
type Config struct {
	Host string
	Port int
	// RequestsPerSecond and Burst bound each client IP. Zero uses 1 and 10.
	RequestsPerSecond float64
	Burst             int
}

// NewServer creates a new HTTP server.
func NewServer(sink ReviewSink, logger *logging.Logger, cfg *Config) (*Server, error) {
	if sink == nil {
		return nil, fmt.Errorf("review sink cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required for request tracking and debugging")
	}
	if cfg == nil {
		cfg = &Config{
			Host: "localhost",
			Port: 8088,
		}
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	registry := prometheus.NewRegistry()
	s := &Server{
		echo:     e,
		sink:     sink,
		logger:   logger.Named("http"),
		config:   cfg,
		limiters: newLimiters(cfg.RequestsPerSecond, cfg.Burst),
		registry: registry,
		metrics:  newPromMetrics(registry),
	}

	// Middleware
	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(s.requestLogger())
	e.Use(NewHTTPMetrics(logger).MetricsMiddleware())

	// Register routes
	s.registerRoutes()

	return s, nil
}

func (s *Server) requestLogger() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			duration := time.Since(start)

			s.logger.Info(c.Request().Context(), "http request",
				zap.String("method", c.Request().Method),
				zap.String("uri", c.Request().RequestURI),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", duration),
				zap.String("request_id", c.Response().Header().Get(echo.HeaderXRequestID)),
			)

			return err
		}
	}
}

// registerRoutes sets up the HTTP endpoints.
func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})))

	// API v1 routes
	v1 := s.echo.Group("/api/v1", s.rateLimit)
	v1.GET("/reviews", s.handleListReviews)
	v1.GET("/reviews/:slug", s.handleGetReview)
	v1.POST("/reviews/:slug", s.handleSubmitReview)
}

// Echo exposes the router for extra routes.
func (s *Server) Echo() *echo.Echo { return s.echo }

// Registry is the Prometheus registry served on /metrics.
func (s *Server) Registry() *prometheus.Registry { return s.registry }

// ObserveTransition counts a pipeline transition on /metrics.
func (s *Server) ObserveTransition(t orchestrator.Transition) {
	s.metrics.transitions.WithLabelValues(string(t.To)).Inc()
	if t.To == orchestrator.StateTerminated {
		s.metrics.runs.WithLabelValues(string(t.Reason)).Inc()
	}
}

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status string `json:"status"`
}

// DecisionRequest is the request body for POST /api/v1/reviews/:slug.
type DecisionRequest struct {
	Decision string `json:"decision"`
	Feedback string `json:"feedback,omitempty"`
	Reviewer string `json:"reviewer,omitempty"`
}

// DecisionResponse acknowledges a delivered decision.
type DecisionResponse struct {
	Slug     string                `json:"slug"`
	Decision orchestrator.Decision `json:"decision"`
	Status   string                `json:"status"`
}

// PendingReview is one entry of GET /api/v1/reviews.
type PendingReview struct {
	RunID       string                  `json:"run_id"`
	Task        string                  `json:"task"`
	Slug        string                  `json:"slug"`
	Branch      string                  `json:"branch"`
	IssueNumber int                     `json:"issue_number"`
	PRNumber    int                     `json:"pr_number"`
	Iteration   int                     `json:"iteration"`
	Summary     string                  `json:"test_summary"`
	Artifacts   []orchestrator.Artifact `json:"artifacts,omitempty"`
}

func pendingFrom(req orchestrator.ReviewRequest, withArtifacts bool) PendingReview {
	p := PendingReview{
		RunID:       req.RunID,
		Task:        req.Task.Name,
		Slug:        req.Slug,
		Branch:      req.Branch,
		IssueNumber: req.IssueNumber,
		PRNumber:    req.PRNumber,
		Iteration:   req.Iteration,
		Summary:     req.Verdict.Summary,
	}
	if withArtifacts {
		p.Artifacts = req.Artifacts
	}
	return p
}

// handleHealth returns a simple health check response.
func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{Status: "ok"})
}

func (s *Server) handleListReviews(c echo.Context) error {
	pending, err := s.sink.Pending(c.Request().Context())
	if err != nil {
		s.logger.Error(c.Request().Context(), "listing pending reviews failed", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadGateway, "pending reviews unavailable")
	}
	out := make([]PendingReview, len(pending))
	for i, req := range pending {
		out[i] = pendingFrom(req, false)
	}
	return c.JSON(http.StatusOK, out)
}

func (s *Server) handleGetReview(c echo.Context) error {
	slug := c.Param("slug")
	if !validSlug.MatchString(slug) {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid task slug")
	}
	pending, err := s.sink.Pending(c.Request().Context())
	if err != nil {
		s.logger.Error(c.Request().Context(), "listing pending reviews failed", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadGateway, "pending reviews unavailable")
	}
	for _, req := range pending {
		if req.Slug == slug {
			return c.JSON(http.StatusOK, pendingFrom(req, true))
		}
	}
	return echo.NewHTTPError(http.StatusNotFound, "no review pending for "+slug)
}

// handleSubmitReview delivers a decision to the run waiting on the slug.
func (s *Server) handleSubmitReview(c echo.Context) error {
	ctx := c.Request().Context()
	slug := c.Param("slug")
	if !validSlug.MatchString(slug) {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid task slug")
	}

	var req DecisionRequest
	if err := c.Bind(&req); err != nil {
		s.logger.Warn(ctx, "invalid review request", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	decision, ok := orchestrator.ParseDecision(req.Decision)
	if !ok {
		return echo.NewHTTPError(http.StatusBadRequest, review.ErrInvalidDecision.Error())
	}

	rv := orchestrator.Review{Decision: decision, Feedback: req.Feedback, Reviewer: req.Reviewer}
	if rv.Reviewer == "" {
		rv.Reviewer = "http"
	}

	err := s.sink.Submit(ctx, slug, rv)
	switch {
	case errors.Is(err, review.ErrNoPendingReview):
		return echo.NewHTTPError(http.StatusNotFound, "no review pending for "+slug)
	case errors.Is(err, review.ErrInvalidDecision):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case err != nil:
		s.logger.Error(ctx, "delivering review decision failed", zap.String("slug", slug), zap.Error(err))
		return echo.NewHTTPError(http.StatusBadGateway, "decision not delivered")
	}

	s.metrics.decisions.WithLabelValues(string(decision)).Inc()
	s.logger.Info(ctx, "review decision delivered",
		zap.String("slug", slug), zap.String("decision", string(decision)), zap.String("reviewer", rv.Reviewer))
	return c.JSON(http.StatusAccepted, DecisionResponse{Slug: slug, Decision: decision, Status: "delivered"})
}

// Addr is the listen address.
func (s *Server) Addr() string {
	return fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	s.logger.Info(context.Background(), "starting http server", zap.String("addr", s.Addr()))
	return s.echo.Start(s.Addr())
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info(ctx, "shutting down http server")
	return s.echo.Shutdown(ctx)
}
