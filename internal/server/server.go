// Package server exposes the platform webhooks and the operator API over
// HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/zulandar/shoprelay/internal/ingest"
	"github.com/zulandar/shoprelay/internal/operator"
	"github.com/zulandar/shoprelay/internal/telemetry"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Opts holds configuration for the HTTP server.
type Opts struct {
	DB          *gorm.DB
	Ingest      *ingest.Handler
	Operator    *operator.Service
	Telemetry   *telemetry.Provider // nil disables /metrics data
	Port        int                 // default 8080
	VerifyToken string
	AppSecret   string // empty disables signature checks
	Logger      *zap.Logger
}

// Server routes webhook deliveries to ingestion and operator calls to the
// operator service.
type Server struct {
	db          *gorm.DB
	ingest      *ingest.Handler
	operator    *operator.Service
	telemetry   *telemetry.Provider
	port        int
	verifyToken string
	appSecret   string
	logger      *zap.Logger
	router      *gin.Engine
}

// New builds the server and its routes.
func New(opts Opts) (*Server, error) {
	if opts.DB == nil {
		return nil, fmt.Errorf("server: db is required")
	}
	if opts.Ingest == nil {
		return nil, fmt.Errorf("server: ingest handler is required")
	}
	if opts.Operator == nil {
		return nil, fmt.Errorf("server: operator service is required")
	}
	if opts.Port <= 0 {
		opts.Port = 8080
	}
	if opts.Telemetry == nil {
		opts.Telemetry = telemetry.Init(false)
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	s := &Server{
		db:          opts.DB,
		ingest:      opts.Ingest,
		operator:    opts.Operator,
		telemetry:   opts.Telemetry,
		port:        opts.Port,
		verifyToken: opts.VerifyToken,
		appSecret:   opts.AppSecret,
		logger:      opts.Logger,
	}

	if gin.Mode() != gin.TestMode {
		gin.SetMode(gin.ReleaseMode)
	}
	s.router = gin.New()
	s.router.Use(gin.Recovery(), requestLogger(s.logger))
	s.registerRoutes()
	return s, nil
}

// Handler returns the HTTP handler, for tests and embedding.
func (s *Server) Handler() http.Handler { return s.router }

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	s.logger.Info("http server listening", zap.Int("port", s.port))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server: %w", err)
	}
	return nil
}

func (s *Server) registerRoutes() {
	r := s.router
	r.GET("/healthz", s.handleHealth)
	r.GET("/metrics", s.handleMetrics)

	hooks := r.Group("/webhooks")
	hooks.GET("/messenger", s.handleVerify)
	hooks.GET("/instagram", s.handleVerify)
	hooks.POST("/messenger", s.handleMetaEvent)
	hooks.POST("/instagram", s.handleMetaEvent)
	hooks.POST("/telegram/:bot_id", s.handleTelegramEvent)

	api := r.Group("/api")
	api.GET("/threads", s.handleListThreads)
	api.GET("/threads/:id", s.handleGetThread)
	api.GET("/threads/:id/messages", s.handleListMessages)
	api.POST("/threads/:id/messages", s.handleSendMessage)
	api.POST("/threads/:id/retry", s.handleRetry)
	api.POST("/threads/:id/resume", s.handleResumeThread)
	api.POST("/shops/:id/pause", s.handlePauseShop)
	api.POST("/shops/:id/resume", s.handleResumeShop)
	api.GET("/shops/:id/agent-status", s.handleShopStatus)
	api.GET("/settings", s.handleGetSettings)
	api.PUT("/settings", s.handlePutSettings)
}

// requestLogger logs method, path, status and latency.
func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Debug("http request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)))
	}
}

func (s *Server) handleHealth(c *gin.Context) {
	sqlDB, err := s.db.DB()
	if err == nil {
		err = sqlDB.PingContext(c.Request.Context())
	}
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) handleMetrics(c *gin.Context) {
	snap, err := s.telemetry.Snapshot(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"enabled": s.telemetry.Enabled(), "metrics": snap})
}
