package http

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/aescanero/dago-testrun/internal/application/sessions"
	"github.com/aescanero/dago-testrun/pkg/ports"
)

// Server represents the HTTP API server
type Server struct {
	router   *gin.Engine
	server   *http.Server
	registry *sessions.Registry
	storage  ports.SnapshotStorage
	logger   *zap.Logger

	startTimeout time.Duration
}

// Config holds HTTP server configuration
type Config struct {
	Port     int
	Registry *sessions.Registry
	// Storage serves snapshots of past executions; optional
	Storage ports.SnapshotStorage
	// Gatherer backs /metrics; nil uses the default registry
	Gatherer prometheus.Gatherer
	// StartTimeout bounds how long a launch request waits for the run
	// to start polling; the run itself keeps going afterwards
	StartTimeout time.Duration
	// APIToken enables bearer authentication on /api/v1
	APIToken string
	// Mode is the gin mode; defaults to release
	Mode   string
	Logger *zap.Logger
}

// streamHandler serves the live event stream of one session
type streamHandler interface {
	HandleSessionStream(c *gin.Context)
}

// NewServer creates a new HTTP server
func NewServer(cfg *Config) *Server {
	mode := cfg.Mode
	if mode == "" {
		mode = gin.ReleaseMode
	}
	gin.SetMode(mode)

	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestLogger(logger))
	router.Use(corsMiddleware())

	s := &Server{
		router:   router,
		registry: cfg.Registry,
		storage:  cfg.Storage,
		logger:   logger,

		startTimeout: cfg.StartTimeout,
	}
	if s.startTimeout <= 0 {
		s.startTimeout = time.Minute
	}

	s.setupRoutes(cfg)

	s.server = &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: router,
	}

	return s
}

// setupRoutes configures API routes
func (s *Server) setupRoutes(cfg *Config) {
	// Health check
	s.router.GET("/health", s.handleHealth)

	// Metrics
	if cfg.Gatherer != nil {
		s.router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{})))
	} else {
		s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	}

	// API v1
	v1 := s.router.Group("/api/v1")
	v1.Use(AuthMiddleware(cfg.APIToken))
	{
		// Session endpoints
		v1.GET("/sessions", s.handleListSessions)
		v1.PUT("/sessions/:id", s.handleOpenSession)
		v1.GET("/sessions/:id", s.handleGetSession)
		v1.DELETE("/sessions/:id", s.handleCloseSession)
		v1.PUT("/sessions/:id/graph", s.handleSetGraph)
		v1.PUT("/sessions/:id/document", s.handleSetDocument)

		// Runs
		v1.POST("/sessions/:id/test_run", s.handleTestRun)
		v1.POST("/sessions/:id/nodes/:node_id/test_run", s.handleTestRunNode)
		v1.POST("/sessions/:id/triggers/:trigger_id/test_run", s.handleTestRunTrigger)
		v1.POST("/sessions/:id/attach", s.handleAttach)
		v1.GET("/sessions/:id/process", s.handleGetProcess)

		// Run control
		v1.POST("/sessions/:id/pause", s.handlePause)
		v1.POST("/sessions/:id/resume", s.handleResume)
		v1.POST("/sessions/:id/cancel", s.handleCancel)
		v1.POST("/sessions/:id/clear", s.handleClear)

		// Snapshots of past executions
		v1.GET("/snapshots", s.handleListSnapshots)
		v1.GET("/snapshots/:execute_id", s.handleGetSnapshot)
		v1.DELETE("/snapshots/:execute_id", s.handleDeleteSnapshot)
	}
}

// SetupWebSocket adds the session stream handler to the server
func (s *Server) SetupWebSocket(handler streamHandler) {
	s.router.GET("/api/v1/sessions/:id/ws", handler.HandleSessionStream)
}

// Handler returns the router, for tests and embedding
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.logger.Info("starting HTTP server", zap.String("addr", s.server.Addr))

	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}

	return nil
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown HTTP server: %w", err)
	}

	s.logger.Info("HTTP server shut down complete")
	return nil
}
