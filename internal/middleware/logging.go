// Package middleware provides Echo middleware for logging, metrics and
// proxy header hygiene.
package middleware

import (
	"log/slog"
	"time"

	"github.com/labstack/echo/v4"

	"studio-cors-proxy/internal/metrics"
)

// RequestLogger returns an Echo middleware that logs each request with slog.
// Besides the usual request fields it records the caller origin and the
// resolved route, the two axes this proxy exists to bridge.
func RequestLogger(logger *slog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()

			err := next(c)

			req := c.Request()
			res := c.Response()

			logger.Info("request",
				"method", req.Method,
				"path", req.URL.Path,
				"origin", req.Header.Get("Origin"),
				"route", metrics.NormalizeRoute(req.Method, req.URL.Path),
				"status", res.Status,
				"duration_ms", time.Since(start).Milliseconds(),
				"request_id", res.Header().Get(echo.HeaderXRequestID),
				"remote_ip", c.RealIP(),
				"bytes_out", res.Size,
			)

			return err
		}
	}
}
