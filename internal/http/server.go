// Package http serves the memoryd API: an OpenAI-compatible chat endpoint
// backed by scoped memory, memory search, index reconciliation, health
// and Prometheus metrics.
package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/fyrsmithlabs/memoryd/internal/indexsync"
	"github.com/fyrsmithlabs/memoryd/internal/logging"
	"github.com/fyrsmithlabs/memoryd/internal/orchestrator"
	"github.com/fyrsmithlabs/memoryd/internal/retrieval"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"
)

// Chatter answers chat requests against scoped memory.
type Chatter interface {
	Chat(ctx context.Context, req orchestrator.ChatRequest) (*orchestrator.ChatResponse, error)
	ChatStream(ctx context.Context, req orchestrator.ChatRequest, onDelta func(string) error) (*orchestrator.ChatResponse, error)
	Search(ctx context.Context, query, scope string, topK int) ([]retrieval.Scored, error)
}

// Reconciler rebuilds the vector index from the record store.
type Reconciler interface {
	Reconcile(ctx context.Context) (indexsync.Stats, error)
}

// Server provides the HTTP endpoints.
type Server struct {
	echo       *echo.Echo
	chat       Chatter
	reconciler Reconciler
	metrics    http.Handler
	logger     *zap.Logger
	config     *Config
}

// Config holds HTTP server configuration.
type Config struct {
	Host string
	Port int
}

// NewServer creates a new HTTP server. metrics may be nil, in which case
// /metrics is not registered.
func NewServer(chat Chatter, reconciler Reconciler, metrics http.Handler, logger *zap.Logger, cfg *Config) (*Server, error) {
	if chat == nil {
		return nil, fmt.Errorf("chat handler cannot be nil")
	}
	if reconciler == nil {
		return nil, fmt.Errorf("reconciler cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required for request tracking and debugging")
	}
	if cfg == nil {
		cfg = &Config{Host: "localhost", Port: 8765}
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	s := &Server{
		echo:       e,
		chat:       chat,
		reconciler: reconciler,
		metrics:    metrics,
		logger:     logger,
		config:     cfg,
	}
	e.HTTPErrorHandler = s.handleError

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(NewHTTPMetrics(logger).MetricsMiddleware())
	e.Use(s.requestLogger)

	s.registerRoutes()
	return s, nil
}

// requestLogger logs every request and carries the request id into the
// handler context.
func (s *Server) requestLogger(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		start := time.Now()
		id := c.Response().Header().Get(echo.HeaderXRequestID)
		c.SetRequest(c.Request().WithContext(logging.WithRequestID(c.Request().Context(), id)))

		err := next(c)

		s.logger.Info("http request",
			zap.String("method", c.Request().Method),
			zap.String("uri", c.Request().RequestURI),
			zap.Int("status", responseStatus(c, err)),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", id),
		)
		return err
	}
}

func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	if s.metrics != nil {
		s.echo.GET("/metrics", echo.WrapHandler(s.metrics))
	}

	v1 := s.echo.Group("/v1")
	v1.POST("/chat/completions", s.handleChatCompletions)
	v1.POST("/memories/search", s.handleSearch)
	v1.POST("/memories/reconcile", s.handleReconcile)
}

// ErrorResponse is the body of every error reply.
type ErrorResponse struct {
	Error string `json:"error"`
}

// handleError renders errors as {"error": "..."}.
func (s *Server) handleError(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}
	code := http.StatusInternalServerError
	msg := http.StatusText(code)
	var he *echo.HTTPError
	if errors.As(err, &he) {
		code = he.Code
		msg = fmt.Sprint(he.Message)
	} else {
		s.logger.Error("unhandled request error",
			zap.String("request_id", logging.RequestIDFromContext(c.Request().Context())),
			zap.Error(err))
	}

	if c.Request().Method == http.MethodHead {
		err = c.NoContent(code)
	} else {
		err = c.JSON(code, ErrorResponse{Error: msg})
	}
	if err != nil {
		s.logger.Warn("writing error response", zap.Error(err))
	}
}

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status string `json:"status"`
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{Status: "ok"})
}

// Mount serves h for every method under path, e.g. an MCP endpoint.
func (s *Server) Mount(path string, h http.Handler) {
	s.echo.Any(path, echo.WrapHandler(h))
}

// Handler exposes the router, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Start starts the HTTP server. It returns http.ErrServerClosed after
// Shutdown.
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
