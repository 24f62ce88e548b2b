// Package service implements the core proxy forwarding logic.
package service

import (
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"studio-cors-proxy/internal/client"
	"studio-cors-proxy/internal/config"
	"studio-cors-proxy/internal/model"
	"studio-cors-proxy/internal/route"
)

// droppedRequestHeaders are never forwarded upstream. The upstream must see
// its own Host, and the browser's Origin stays between browser and proxy;
// everything else is passed through verbatim.
var droppedRequestHeaders = []string{
	"Host",
	"Origin",
}

// ForwardError describes a failed forwarding attempt with enough context to
// build the client-facing error payload.
type ForwardError struct {
	Target string
	Method string
	Path   string
	Code   string
	Err    error
}

func (e *ForwardError) Error() string {
	return fmt.Sprintf("forward %s %s to %s: %v", e.Method, e.Path, e.Target, e.Err)
}

func (e *ForwardError) Unwrap() error { return e.Err }

// ProxyService handles the forwarding logic for proxy requests.
type ProxyService struct {
	dispatcher *client.Dispatcher
	selector   *route.Selector
	logger     *slog.Logger
}

// NewProxyService creates a ProxyService.
func NewProxyService(d *client.Dispatcher, cfg *config.Config, logger *slog.Logger) *ProxyService {
	return &ProxyService{
		dispatcher: d,
		selector:   route.NewSelector(cfg.Upstream.Target, cfg.Studio.BaseURL),
		logger:     logger.With("component", "proxy_service"),
	}
}

// Forward routes pr to its upstream and returns the response with its body
// unread; the caller is responsible for closing it. Failures are returned as
// *ForwardError carrying the resolved target and a failure code.
func (s *ProxyService) Forward(pr *model.ProxyRequest) (*model.ProxyResponse, error) {
	rt := s.selector.Select(pr.Path)
	upstreamURL := buildUpstreamURL(rt, pr.RawQuery)
	header := filterRequestHeaders(pr.Header)

	s.logger.Debug("forwarding request",
		"method", pr.Method,
		"path", pr.Path,
		"route", rt.Name,
		"url", upstreamURL,
	)

	resp, err := s.dispatcher.Forward(pr.Ctx, pr.Method, upstreamURL, header, pr.Body)
	if err != nil {
		return nil, &ForwardError{
			Target: rt.Base,
			Method: pr.Method,
			Path:   pr.Path,
			Code:   client.FailureCode(err),
			Err:    err,
		}
	}

	s.logger.Debug("upstream responded",
		"status", resp.Status,
		"route", rt.Name,
	)
	return resp, nil
}

// buildUpstreamURL joins the routed base and path, carrying the original
// query string through untouched.
func buildUpstreamURL(rt route.Route, rawQuery string) string {
	u := rt.Base + rt.Path
	if rawQuery != "" {
		u += "?" + rawQuery
	}
	return u
}

// filterRequestHeaders copies every inbound header except the dropped set,
// preserving multi-value headers.
func filterRequestHeaders(src http.Header) http.Header {
	dst := make(http.Header, len(src))
	for key, vals := range src {
		if isDroppedRequestHeader(key) {
			continue
		}
		dst[http.CanonicalHeaderKey(key)] = append([]string(nil), vals...)
	}
	return dst
}

func isDroppedRequestHeader(key string) bool {
	for _, name := range droppedRequestHeaders {
		if strings.EqualFold(key, name) {
			return true
		}
	}
	return false
}
