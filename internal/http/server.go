// Package http provides the HTTP API for analystd.
package http

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/insightrow/analystd/internal/completion"
	"github.com/insightrow/analystd/internal/contextwindow"
	"github.com/insightrow/analystd/internal/domain"
	"github.com/insightrow/analystd/internal/pipeline"
	"github.com/insightrow/analystd/internal/sandbox"
)

// Config holds HTTP server configuration.
type Config struct {
	Host string
	Port int
}

// Deps are the collaborators the API surface drives.
type Deps struct {
	Client   completion.Client
	Domains  *domain.Cache
	Window   *contextwindow.Manager
	Sandbox  sandbox.Config
	Pipeline pipeline.Config
	// MetadataDir is the directory scanned for available domains.
	MetadataDir string
	// Registry receives HTTP and pipeline metrics and backs GET /metrics.
	// Optional; nil disables metrics.
	Registry *prometheus.Registry
}

// Server provides HTTP endpoints for analystd.
type Server struct {
	echo    *echo.Echo
	deps    Deps
	logger  *zap.Logger
	config  *Config
	metrics *pipeline.Metrics
}

// NewServer creates a new HTTP server.
func NewServer(deps Deps, logger *zap.Logger, cfg *Config) (*Server, error) {
	if deps.Client == nil {
		return nil, fmt.Errorf("completion client cannot be nil")
	}
	if deps.Domains == nil {
		return nil, fmt.Errorf("domain cache cannot be nil")
	}
	if deps.Window == nil {
		return nil, fmt.Errorf("context window manager cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required for request tracking and debugging")
	}
	if cfg == nil {
		cfg = &Config{
			Host: "localhost",
			Port: 8080,
		}
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Middleware
	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			duration := time.Since(start)

			logger.Info("http request",
				zap.String("method", c.Request().Method),
				zap.String("uri", c.Request().RequestURI),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", duration),
				zap.String("request_id", c.Response().Header().Get(echo.HeaderXRequestID)),
			)

			return err
		}
	})

	s := &Server{
		echo:   e,
		deps:   deps,
		logger: logger,
		config: cfg,
	}

	if deps.Registry != nil {
		s.metrics = pipeline.NewMetrics(deps.Registry)
		e.Use(NewHTTPMetrics(deps.Registry).Middleware())
	}

	s.registerRoutes()

	return s, nil
}

// registerRoutes sets up the HTTP endpoints.
func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)

	if s.deps.Registry != nil {
		s.echo.GET("/metrics", echo.WrapHandler(
			promhttp.HandlerFor(s.deps.Registry, promhttp.HandlerOpts{})))
	}

	v1 := s.echo.Group("/api/v1")
	v1.POST("/query", s.handleQuery)
	v1.GET("/domains", s.handleDomains)
}

// QueryRequest is the request body for POST /api/v1/query.
type QueryRequest struct {
	Message   string               `json:"message"`
	SessionID string               `json:"session_id"`
	Domain    string               `json:"domain"`
	History   []contextwindow.Turn `json:"history"`
}

// DomainsResponse is the response body for GET /api/v1/domains.
type DomainsResponse struct {
	Domains []string `json:"domains"`
}

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status string `json:"status"`
}

// handleHealth returns a simple health check response.
func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{Status: "ok"})
}

// handleQuery runs the full analysis pipeline for one message. The pipeline
// result is returned with HTTP 200 even when the analysis itself failed;
// the success flag in the body carries the outcome. Non-2xx statuses are
// reserved for malformed requests and unknown domains.
func (s *Server) handleQuery(c echo.Context) error {
	var req QueryRequest
	if err := c.Bind(&req); err != nil {
		s.logger.Warn("invalid query request", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	if req.Message == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "message field is required")
	}
	if req.Domain == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "domain field is required")
	}
	if req.SessionID == "" {
		req.SessionID = uuid.NewString()
	}

	provider, err := s.deps.Domains.Get(req.Domain)
	if err != nil {
		s.logger.Warn("unknown domain requested",
			zap.String("domain", req.Domain), zap.Error(err))
		return echo.NewHTTPError(http.StatusNotFound,
			fmt.Sprintf("unknown domain %q", req.Domain))
	}

	// Each request gets its own sandbox: the shared output directory makes
	// a sandbox non-reentrant across concurrent runs.
	sb, err := sandbox.New(s.deps.Sandbox, s.logger)
	if err != nil {
		s.logger.Error("failed to create sandbox", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "execution environment unavailable")
	}
	defer sb.Close()

	orch, err := pipeline.New(
		s.deps.Client, provider, sb, s.deps.Window,
		s.deps.Pipeline, s.logger, s.metrics)
	if err != nil {
		s.logger.Error("failed to build pipeline", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "pipeline unavailable")
	}

	result := orch.Process(c.Request().Context(), pipeline.Request{
		Message:   req.Message,
		SessionID: req.SessionID,
		Domain:    req.Domain,
		History:   req.History,
	})

	return c.JSON(http.StatusOK, result)
}

// handleDomains lists the domains available for analysis.
func (s *Server) handleDomains(c echo.Context) error {
	domains, err := domain.Discover(s.deps.MetadataDir)
	if err != nil {
		s.logger.Error("failed to discover domains", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to list domains")
	}
	return c.JSON(http.StatusOK, DomainsResponse{Domains: domains})
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.logger.Info("starting http server", zap.String("addr", addr))
	return s.echo.Start(addr)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down http server")
	return s.echo.Shutdown(ctx)
}
