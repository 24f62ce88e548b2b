package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"studio-cors-proxy/internal/config"
)

// Version is a string type for dependency injection of the build version.
type Version string

// AdminHandler serves health and status endpoints on the admin listener.
// They live on their own listener so that every path on the main one stays
// forwardable to the upstream.
type AdminHandler struct {
	cfg     *config.Config
	version Version
}

// NewAdminHandler creates an AdminHandler.
func NewAdminHandler(cfg *config.Config, v Version) *AdminHandler {
	return &AdminHandler{cfg: cfg, version: v}
}

// Healthz returns a simple OK response for liveness probes.
func (h *AdminHandler) Healthz(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status": "ok",
	})
}

// Status returns proxy status information.
func (h *AdminHandler) Status(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status":      "ok",
		"version":     string(h.version),
		"target":      h.cfg.Upstream.Target,
		"studio_base": h.cfg.Studio.BaseURL,
	})
}
