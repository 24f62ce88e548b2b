package handler

import (
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"studio-cors-proxy/internal/cors"
	"studio-cors-proxy/internal/middleware"
	"studio-cors-proxy/internal/model"
	"studio-cors-proxy/internal/service"
)

// ProxyHandler forwards inbound requests upstream and relays the responses
// with the proxy's CORS policy stamped on.
type ProxyHandler struct {
	service *service.ProxyService
	logger  *slog.Logger
}

// NewProxyHandler creates a ProxyHandler.
func NewProxyHandler(svc *service.ProxyService, logger *slog.Logger) *ProxyHandler {
	return &ProxyHandler{
		service: svc,
		logger:  logger.With("component", "proxy_handler"),
	}
}

// Handle serves one inbound request. Preflights are answered locally with
// 204; everything else is forwarded and the upstream response is streamed
// back with the proxy's CORS headers replacing any the upstream set.
func (h *ProxyHandler) Handle(c echo.Context) error {
	req := c.Request()
	origin := req.Header.Get("Origin")

	// Preflights never reach an upstream.
	if req.Method == http.MethodOptions {
		cors.Apply(c.Response().Header(), origin)
		return c.NoContent(http.StatusNoContent)
	}

	body, err := io.ReadAll(req.Body)
	if err != nil {
		var httpErr *echo.HTTPError
		if errors.As(err, &httpErr) {
			// Body limit rejections keep their own status.
			return httpErr
		}
		return echo.NewHTTPError(http.StatusBadRequest, "read request body").SetInternal(err)
	}

	pr := &model.ProxyRequest{
		Ctx:      req.Context(),
		Method:   req.Method,
		Path:     req.URL.Path,
		RawQuery: req.URL.RawQuery,
		Header:   req.Header,
		Body:     body,
	}

	resp, err := h.service.Forward(pr)
	if err != nil {
		return h.replyError(c, origin, err)
	}
	defer func() { _ = resp.Body.Close() }()

	// Copy upstream headers minus its CORS policy and connection-scoped
	// headers, then stamp our own CORS headers last so they always win.
	cors.StripUpstream(resp.Header)
	middleware.StripHopByHop(resp.Header)

	respHeader := c.Response().Header()
	for key, vals := range resp.Header {
		for _, v := range vals {
			respHeader.Add(key, v)
		}
	}
	cors.Apply(respHeader, origin)

	c.Response().WriteHeader(resp.StatusCode)

	// Stream the upstream body directly to the client. If io.Copy fails
	// mid-stream (e.g. client disconnect, network error), the HTTP status
	// code has already been sent, so the client receives a truncated
	// response with the original status. This is an inherent trade-off of
	// streaming proxies; we log the error for observability.
	if _, err := io.Copy(c.Response(), resp.Body); err != nil {
		h.logger.Error("streaming response body",
			"err", err,
			"path", req.URL.Path,
		)
	}

	return nil
}

// replyError answers a failed forwarding attempt with a 502 JSON payload.
// CORS headers are applied here too, so the browser can read the error
// instead of reporting an opaque CORS failure.
func (h *ProxyHandler) replyError(c echo.Context, origin string, err error) error {
	h.logger.Error("proxy error",
		"err", err,
		"method", c.Request().Method,
		"path", c.Request().URL.Path,
	)

	cors.Apply(c.Response().Header(), origin)

	var fwdErr *service.ForwardError
	if errors.As(err, &fwdErr) {
		return c.JSON(http.StatusBadGateway, model.ErrorResponse{
			Error:   "Proxy request failed",
			Message: fwdErr.Err.Error(),
			Details: model.ErrorDetails{
				Target: fwdErr.Target,
				Method: fwdErr.Method,
				Path:   fwdErr.Path,
				Code:   fwdErr.Code,
			},
		})
	}

	return c.JSON(http.StatusBadGateway, model.ErrorResponse{
		Error:   "Proxy request failed",
		Message: err.Error(),
		Details: model.ErrorDetails{
			Method: c.Request().Method,
			Path:   c.Request().URL.Path,
		},
	})
}
