// Package server provides the HTTP server for go-tdoa
package server

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/teslashibe/go-tdoa/internal/config"
	"github.com/teslashibe/go-tdoa/internal/health"
	"github.com/teslashibe/go-tdoa/internal/localize"
)

// Server is the HTTP server for go-tdoa
type Server struct {
	app       *fiber.App
	cfg       config.Config
	session   *localize.Session
	checker   *health.Checker
	logger    *slog.Logger
	wsHub     *WSHub
	startTime time.Time
	version   string
}

// New creates a new HTTP server
func New(cfg config.Config, session *localize.Session, checker *health.Checker, logger *slog.Logger, version string) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	app := fiber.New(fiber.Config{
		AppName:               "go-tdoa",
		DisableStartupMessage: true,
		ReadTimeout:           cfg.Server.ReadTimeout,
		WriteTimeout:          cfg.Server.WriteTimeout,
	})

	// Middleware
	app.Use(recover.New())
	app.Use(cors.New())
	app.Use(LoggingMiddleware(logger))

	if checker != nil {
		// Without a running session there is nothing to serve; a mock
		// capture source merely degrades.
		checker.MarkCritical("session")
	}

	s := &Server{
		app:       app,
		cfg:       cfg,
		session:   session,
		checker:   checker,
		logger:    logger,
		wsHub:     NewWSHub(session, logger),
		startTime: time.Now(),
		version:   version,
	}

	// Register routes
	s.registerRoutes()

	return s
}

// registerRoutes sets up all API routes
func (s *Server) registerRoutes() {
	// Health check
	s.app.Get("/health", s.healthHandler)

	// Metrics endpoint
	s.app.Get("/metrics", s.metricsHandler)

	// Localization API
	api := s.app.Group("/api")

	api.Get("/locate", s.locateHandler)
	api.Get("/locate/stream", s.wsHub.UpgradeHandler())

	// Config endpoint
	api.Get("/config", s.configHandler)

	// Stats endpoint
	api.Get("/stats", s.statsHandler)
}

// healthHandler returns service health
func (s *Server) healthHandler(c *fiber.Ctx) error {
	if s.checker == nil {
		return c.JSON(fiber.Map{"status": "ok", "version": s.version})
	}

	if s.session != nil {
		stats := s.session.GetStats()
		s.checker.SetComponent("capture", stats.SourceHealthy, "")
		s.checker.SetComponent("session", stats.Running, "")
	}

	return c.JSON(s.checker.GetStatus())
}

// locateHandler returns the most recent position estimate
func (s *Server) locateHandler(c *fiber.Ctx) error {
	if s.session == nil {
		return c.Status(503).JSON(fiber.Map{
			"error": "localization session not available",
		})
	}

	return c.JSON(s.session.GetLatest())
}

// configHandler returns current configuration
func (s *Server) configHandler(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"server": fiber.Map{
			"port":             s.cfg.Server.Port,
			"read_timeout_ms":  s.cfg.Server.ReadTimeout.Milliseconds(),
			"write_timeout_ms": s.cfg.Server.WriteTimeout.Milliseconds(),
		},
		"capture": fiber.Map{
			"sample_rate": s.cfg.Capture.SampleRate,
			"range_code":  s.cfg.Capture.RangeCode,
		},
		"online": fiber.Map{
			"frame_len":   s.cfg.Online.FrameLen,
			"median_len":  s.cfg.Online.MedianLen,
			"cutoff_low":  s.cfg.Online.CutoffLow,
			"cutoff_high": s.cfg.Online.CutoffHigh,
		},
		"array": fiber.Map{
			"arm_length":    s.cfg.Array.ArmLength,
			"arm_ratio":     s.cfg.Array.ArmRatio,
			"temperature_c": s.cfg.Array.TemperatureC,
		},
	})
}

// statsHandler returns session statistics
func (s *Server) statsHandler(c *fiber.Ctx) error {
	if s.session == nil {
		return c.Status(503).JSON(fiber.Map{
			"error": "session not available",
		})
	}

	return c.JSON(s.session.GetStats())
}

// metricsHandler returns Prometheus-format metrics
func (s *Server) metricsHandler(c *fiber.Ctx) error {
	if s.session == nil {
		return c.Status(503).SendString("# no session available\n")
	}

	stats := s.session.GetStats()

	metrics := fmt.Sprintf(`# HELP go_tdoa_position_x_meters Current estimated source X coordinate
# TYPE go_tdoa_position_x_meters gauge
go_tdoa_position_x_meters %f

# HELP go_tdoa_position_y_meters Current estimated source Y coordinate
# TYPE go_tdoa_position_y_meters gauge
go_tdoa_position_y_meters %f

# HELP go_tdoa_position_z_meters Current estimated source Z coordinate
# TYPE go_tdoa_position_z_meters gauge
go_tdoa_position_z_meters %f

# HELP go_tdoa_frame_count Total frames processed
# TYPE go_tdoa_frame_count counter
go_tdoa_frame_count %d

# HELP go_tdoa_degenerate_count Frames skipped for near-singular geometry
# TYPE go_tdoa_degenerate_count counter
go_tdoa_degenerate_count %d

# HELP go_tdoa_avg_latency_ms Average per-frame processing latency in milliseconds
# TYPE go_tdoa_avg_latency_ms gauge
go_tdoa_avg_latency_ms %f

# HELP go_tdoa_source_healthy Capture source health (1=healthy, 0=unhealthy)
# TYPE go_tdoa_source_healthy gauge
go_tdoa_source_healthy %d

# HELP go_tdoa_session_running Online session state (1=running, 0=stopped)
# TYPE go_tdoa_session_running gauge
go_tdoa_session_running %d

# HELP go_tdoa_uptime_seconds Server uptime in seconds
# TYPE go_tdoa_uptime_seconds gauge
go_tdoa_uptime_seconds %d

# HELP go_tdoa_websocket_clients Current WebSocket client count
# TYPE go_tdoa_websocket_clients gauge
go_tdoa_websocket_clients %d
`,
		stats.Current.X,
		stats.Current.Y,
		stats.Current.Z,
		stats.FrameCount,
		stats.DegenerateCount,
		stats.AvgLatencyMs,
		boolToInt(stats.SourceHealthy),
		boolToInt(stats.Running),
		int64(time.Since(s.startTime).Seconds()),
		s.wsHub.ClientCount(),
	)

	c.Set("Content-Type", "text/plain; charset=utf-8")
	return c.SendString(metrics)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.logger.Info("starting HTTP server",
		"port", s.cfg.Server.Port,
	)

	return s.app.Listen(fmt.Sprintf(":%d", s.cfg.Server.Port))
}

// WSHub returns the WebSocket hub for external control
func (s *Server) WSHub() *WSHub {
	return s.wsHub
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")

	// Close WebSocket hub
	s.wsHub.Close()

	// Shutdown Fiber with timeout from context
	done := make(chan error, 1)
	go func() {
		done <- s.app.Shutdown()
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
