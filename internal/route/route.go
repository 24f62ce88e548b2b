// Package route maps inbound request paths to the upstream that serves them.
package route

import "strings"

const (
	studioPrefix = "/studio"
	cdnPrefix    = "/cdn-cgi"
)

// Route names, used in logs and metric labels.
const (
	NameStudio = "studio"
	NameCDN    = "cdn-cgi"
	NameTarget = "target"
)

// Route is a resolved forwarding decision: the upstream base origin and the
// path to request from it.
type Route struct {
	Name string
	Base string
	Path string
}

// Selector decides which upstream serves a request path.
type Selector struct {
	target     string
	studioBase string
}

// NewSelector creates a Selector forwarding to target by default and to
// studioBase for studio asset paths. Trailing slashes on either base are
// ignored.
func NewSelector(target, studioBase string) *Selector {
	return &Selector{
		target:     strings.TrimSuffix(target, "/"),
		studioBase: strings.TrimSuffix(studioBase, "/"),
	}
}

// Select applies the routing rules in order: /studio paths go to the studio
// CDN with the prefix stripped once, /cdn-cgi paths go to the studio CDN
// unchanged, and everything else goes to the configured target unchanged.
// The rewritten studio path always keeps a leading slash; stripping the
// prefix from a bare /studio leaves the CDN root.
func (s *Selector) Select(path string) Route {
	switch {
	case strings.HasPrefix(path, studioPrefix):
		rest := strings.TrimPrefix(path, studioPrefix)
		if !strings.HasPrefix(rest, "/") {
			rest = "/" + rest
		}
		return Route{Name: NameStudio, Base: s.studioBase, Path: rest}
	case strings.HasPrefix(path, cdnPrefix):
		return Route{Name: NameCDN, Base: s.studioBase, Path: path}
	default:
		return Route{Name: NameTarget, Base: s.target, Path: path}
	}
}
