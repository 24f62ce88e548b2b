package middleware

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// hopByHopHeaders are connection-scoped headers that must not traverse the
// proxy in either direction.
var hopByHopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"TE",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// StripHopByHop removes hop-by-hop headers from h. The relay uses it on
// upstream response headers before copying them to the client.
func StripHopByHop(h http.Header) {
	for _, name := range hopByHopHeaders {
		h.Del(name)
	}
}

// HopByHop returns an Echo middleware that strips hop-by-hop headers from
// inbound requests before the forwarding handler sees them.
func HopByHop() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			StripHopByHop(c.Request().Header)
			return next(c)
		}
	}
}
