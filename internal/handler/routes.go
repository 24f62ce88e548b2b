package handler

import (
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"studio-cors-proxy/internal/config"
	"studio-cors-proxy/internal/metrics"
)

// RegisterRoutes wires the forwarding handler onto the main Echo instance.
// Every path and every method goes through it; preflights are answered
// inside Handle.
func RegisterRoutes(e *echo.Echo, proxy *ProxyHandler) {
	e.Any("/", proxy.Handle)
	e.Any("/*", proxy.Handle)
}

// RegisterAdminRoutes wires health, status and Prometheus metrics onto the
// admin Echo instance.
func RegisterAdminRoutes(e *echo.Echo, admin *AdminHandler, m *metrics.Metrics, cfg *config.Config) {
	e.GET("/healthz", admin.Healthz)
	e.GET("/status", admin.Status)
	e.GET(cfg.Metrics.Path, echo.WrapHandler(promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})))
}
