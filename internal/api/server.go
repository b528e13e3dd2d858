package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"example.com/carebase/services/eventstore/config"
	"example.com/carebase/services/eventstore/internal/api/handlers"
	"example.com/carebase/services/eventstore/internal/metrics"
)

// Server represents the HTTP server
type Server struct {
	config     config.Config
	router     *gin.Engine
	httpServer *http.Server
	service    handlers.EventService
	metrics    *metrics.Metrics
}

// NewServer creates a new HTTP server
func NewServer(cfg config.Config, service handlers.EventService, m *metrics.Metrics) *Server {
	server := &Server{
		config:  cfg,
		service: service,
		metrics: m,
	}

	server.router = server.setupRouter()
	server.httpServer = &http.Server{
		Addr:    cfg.Server.Address,
		Handler: server.router,
	}

	return server
}

// setupRouter configures the HTTP router
func (s *Server) setupRouter() *gin.Engine {
	if s.config.Environment != "development" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestLogger())

	eventsHandler := handlers.NewEventsHandler(s.service)
	eventsHandler.RegisterRoutes(router)

	subscribeHandler := handlers.NewSubscribeHandler(s.service, s.config.Publisher.GlobalTopic)
	subscribeHandler.RegisterRoutes(router)

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	router.GET("/metrics", func(c *gin.Context) {
		c.JSON(http.StatusOK, s.metrics.Snapshot())
	})

	return router
}

// requestLogger logs each request with zerolog.
func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		status := c.Writer.Status()
		entry := log.Info()
		if status >= 500 {
			entry = log.Error()
		} else if status >= 400 {
			entry = log.Warn()
		}

		entry.
			Int("status", status).
			Str("method", c.Request.Method).
			Str("path", path).
			Dur("latency", time.Since(start)).
			Str("clientIP", c.ClientIP()).
			Msg("Request processed")
	}
}

// Start starts the HTTP server
func (s *Server) Start() error {
	log.Info().Str("address", s.config.Server.Address).Msg("Starting HTTP server")

	if err := s.httpServer.ListenAndServe(); err != nil {
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return errors.Wrap(err, "HTTP server error")
	}

	return nil
}

// Shutdown gracefully stops the HTTP server
func (s *Server) Shutdown(ctx context.Context) error {
	log.Info().Msg("Shutting down HTTP server")

	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return errors.Wrap(err, "HTTP server shutdown error")
	}

	return nil
}
