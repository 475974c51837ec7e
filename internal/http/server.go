// Package http provides the optional HTTP surface of the RLM engine.
package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/kazuba/internal/reward"
	"github.com/fyrsmithlabs/kazuba/internal/rlm"
)

// Engine is the read side of *rlm.Engine served over HTTP.
type Engine interface {
	Stats() rlm.Stats
	BestAction(state string) (string, bool)
	QValue(state, action string) float64
	ActionsForState(state string) []string
	RewardBreakdown(metrics map[string]float64) reward.Breakdown
	IsSessionActive() bool
}

// Server provides HTTP endpoints for the engine.
type Server struct {
	echo     *echo.Echo
	engine   Engine
	logger   *zap.Logger
	config   *Config
	registry *prometheus.Registry
}

// Config holds HTTP server configuration.
type Config struct {
	Host string
	Port int
}

// Option configures a Server.
type Option func(*serverOptions)

type serverOptions struct {
	meter metric.Meter
}

// WithMeter records request metrics on m instead of the global provider.
func WithMeter(m metric.Meter) Option {
	return func(o *serverOptions) { o.meter = m }
}

// NewServer creates a new HTTP server.
func NewServer(engine Engine, logger *zap.Logger, cfg *Config, opts ...Option) (*Server, error) {
	if engine == nil {
		return nil, fmt.Errorf("engine cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required for request tracking and debugging")
	}
	if cfg == nil {
		cfg = &Config{
			Host: "127.0.0.1",
			Port: 9191,
		}
	}

	var o serverOptions
	for _, opt := range opts {
		opt(&o)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	if err := RegisterGauges(registry, engine); err != nil {
		return nil, fmt.Errorf("failed to register gauges: %w", err)
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
	e.Use(NewHTTPMetrics(o.meter, logger).MetricsMiddleware())

	s := &Server{
		echo:     e,
		engine:   engine,
		logger:   logger,
		config:   cfg,
		registry: registry,
	}

	s.registerRoutes()

	return s, nil
}

// registerRoutes sets up the HTTP endpoints.
func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})))

	v1 := s.echo.Group("/api/v1")
	v1.GET("/stats", s.handleStats)
	v1.GET("/qtable/best", s.handleBestAction)
	v1.POST("/reward", s.handleReward)
}

// handleHealth returns a simple health check response.
func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{Status: "ok", SessionActive: s.engine.IsSessionActive()})
}

func (s *Server) handleStats(c echo.Context) error {
	return c.JSON(http.StatusOK, s.engine.Stats())
}

// handleBestAction returns the greedy action and every known action value
// for the state query parameter.
func (s *Server) handleBestAction(c echo.Context) error {
	state := c.QueryParam("state")
	if state == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "state query parameter is required")
	}
	action, ok := s.engine.BestAction(state)
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "unknown state")
	}

	actions := s.engine.ActionsForState(state)
	values := make(map[string]float64, len(actions))
	for _, a := range actions {
		values[a] = s.engine.QValue(state, a)
	}
	return c.JSON(http.StatusOK, BestActionResponse{
		State:   state,
		Action:  action,
		Value:   values[action],
		Actions: values,
	})
}

// handleReward scores a metrics map against the configured components.
func (s *Server) handleReward(c echo.Context) error {
	var req RewardRequest
	if err := c.Bind(&req); err != nil {
		s.logger.Warn("invalid reward request", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Metrics == nil {
		return echo.NewHTTPError(http.StatusBadRequest, "metrics field is required")
	}

	breakdown := s.engine.RewardBreakdown(req.Metrics)
	s.logger.Debug("computed reward",
		zap.Int("metrics", len(req.Metrics)),
		zap.Float64("total", breakdown.Total),
	)
	return c.JSON(http.StatusOK, breakdown)
}

// Addr is the configured listen address.
func (s *Server) Addr() string {
	return fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
}

// Start starts the HTTP server. It returns nil after a graceful Shutdown.
func (s *Server) Start() error {
	addr := s.Addr()
	s.logger.Info("starting http server", zap.String("addr", addr))
	if err := s.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down http server")
	return s.echo.Shutdown(ctx)
}
