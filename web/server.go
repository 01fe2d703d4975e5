// Package web serves the sensor status API and the live websocket feed.
package web

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/Uranury/sensorhub/config"
	"github.com/Uranury/sensorhub/sensors"
)

const (
	readHeaderTimeout = 5 * time.Second
	shutdownTimeout   = 5 * time.Second
)

// Server is the HTTP front of the agent.
type Server struct {
	cfg      config.WebConfig
	registry *sensors.Registry
	scanner  *sensors.Scanner
	hub      *Hub
	engine   *gin.Engine
	logger   *zap.SugaredLogger
}

// SensorsResponse is the body of GET /api/sensors.
type SensorsResponse struct {
	Sensors []sensors.Reading `json:"sensors"`
	Stats   sensors.ScanStats `json:"stats"`
}

// New builds the router. scanner may be nil.
func New(cfg config.WebConfig, reg *sensors.Registry, scanner *sensors.Scanner, logger *zap.SugaredLogger) *Server {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	s := &Server{
		cfg:      cfg,
		registry: reg,
		scanner:  scanner,
		hub:      NewHub(logger),
		logger:   logger,
	}

	r := gin.New()
	r.Use(gin.Recovery(), s.requestLogger())
	r.GET("/healthz", s.handleHealth)
	r.GET("/api/sensors", s.handleSensors)
	r.GET("/ws", func(c *gin.Context) { s.hub.serve(c.Writer, c.Request) })
	s.engine = r
	return s
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler { return s.engine }

// Hub returns the websocket hub.
func (s *Server) Hub() *Hub { return s.hub }

// Publish forwards a delta to websocket clients.
func (s *Server) Publish(ctx context.Context, payload []byte, changes []sensors.Change) error {
	return s.hub.Publish(ctx, payload, changes)
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.engine,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Infow("web server listening", "addr", s.cfg.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("web server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	s.hub.Close()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("web server shutdown: %w", err)
	}
	return nil
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "sensors": s.registry.Len()})
}

func (s *Server) handleSensors(c *gin.Context) {
	resp := SensorsResponse{Sensors: s.registry.Readings()}
	if s.scanner != nil {
		resp.Stats = s.scanner.Stats()
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Debugw("http request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration", time.Since(start),
		)
	}
}
