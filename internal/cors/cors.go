// Package cors stamps the proxy's permissive CORS policy onto responses and
// removes any competing CORS headers that arrive from upstreams.
package cors

import (
	"net/http"
	"strings"
)

const (
	allowMethods = "GET, POST, PUT, DELETE, OPTIONS, HEAD"
	allowHeaders = "Content-Type, Authorization, X-Requested-With, Accept, Origin"

	// markerHeader tells CORS-aware infrastructure in front of the proxy
	// (such as a sandbox ingress) to skip its own CORS handling.
	markerHeader = "X-Daytona-Disable-CORS"
)

// upstreamHeaders lists the response headers removed from upstream responses
// so the proxy's own policy is the only one the browser ever sees.
var upstreamHeaders = []string{
	"Access-Control-Allow-Origin",
	"Access-Control-Allow-Methods",
	"Access-Control-Allow-Headers",
	"Access-Control-Allow-Credentials",
	"Access-Control-Expose-Headers",
	"Access-Control-Max-Age",
}

// Apply stamps the permissive CORS headers onto h. The caller's origin is
// echoed back when one was sent, otherwise any origin is allowed. Apply
// overwrites prior values, so calling it after copying upstream headers
// guarantees the proxy's policy wins.
func Apply(h http.Header, origin string) {
	if origin == "" {
		origin = "*"
	}
	h.Set("Access-Control-Allow-Origin", origin)
	h.Set("Access-Control-Allow-Methods", allowMethods)
	h.Set("Access-Control-Allow-Headers", allowHeaders)
	h.Set("Access-Control-Allow-Credentials", "true")
	h.Set(markerHeader, "true")
}

// StripUpstream removes every CORS header from h, matching names
// case-insensitively regardless of how the upstream spelled them.
func StripUpstream(h http.Header) {
	for key := range h {
		for _, name := range upstreamHeaders {
			if strings.EqualFold(key, name) {
				delete(h, key)
				break
			}
		}
	}
}
