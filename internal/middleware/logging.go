// Package middleware provides Echo middleware for logging, security, and
// session gating.
package middleware

import (
	"log/slog"
	"time"

	"github.com/labstack/echo/v4"
)

// RequestLogger returns an Echo middleware that logs each request with slog.
// The correlation ID set by the forwarder, when present, is included so a
// browser-reported failure can be matched to its upstream call.
func RequestLogger(logger *slog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()

			err := next(c)

			req := c.Request()
			res := c.Response()

			attrs := []any{
				"method", req.Method,
				"path", req.URL.Path,
				"status", res.Status,
				"duration_ms", time.Since(start).Milliseconds(),
				"request_id", res.Header().Get(echo.HeaderXRequestID),
				"remote_ip", c.RealIP(),
				"bytes_out", res.Size,
			}
			if cid := res.Header().Get("X-Correlation-Id"); cid != "" {
				attrs = append(attrs, "correlation_id", cid)
			}

			logger.Info("request", attrs...)

			return err
		}
	}
}
