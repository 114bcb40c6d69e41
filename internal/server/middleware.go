package server

import (
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v2"
)

// Polled at high frequency by dashboards and scrapers; logging every
// hit would drown the session logs.
var quietPaths = map[string]bool{
	"/health":     true,
	"/metrics":    true,
	"/api/locate": true,
}

const slowRequestThreshold = 500 * time.Millisecond

// LoggingMiddleware logs HTTP requests, promoting slow ones to warnings
func LoggingMiddleware(logger *slog.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()
		elapsed := time.Since(start)

		path := c.Path()
		if quietPaths[path] && elapsed < slowRequestThreshold {
			return err
		}

		level := slog.LevelInfo
		if elapsed >= slowRequestThreshold {
			level = slog.LevelWarn
		}

		logger.Log(c.UserContext(), level, "http request",
			"method", c.Method(),
			"path", path,
			"status", c.Response().StatusCode(),
			"latency_ms", elapsed.Milliseconds(),
			"ip", c.IP(),
		)

		return err
	}
}
