// Package model defines shared types for the proxy.
package model

import (
	"context"
	"io"
	"net/http"
)

// ProxyRequest represents a client request to be forwarded upstream.
//
// Body is fully buffered before forwarding: the outbound request must be
// rebuildable for the scheme-fallback retry, and some upstreams need
// Content-Length before they accept a request.
type ProxyRequest struct {
	Ctx      context.Context
	Method   string
	Path     string
	RawQuery string
	Header   http.Header
	Body     []byte
}

// ProxyResponse represents the upstream response to be streamed back.
// Body is unread at construction time; the caller owns closing it.
type ProxyResponse struct {
	StatusCode int
	Status     string
	Header     http.Header
	Body       io.ReadCloser
}

// ErrorResponse is the JSON body returned when a request cannot be forwarded.
type ErrorResponse struct {
	Error   string       `json:"error"`
	Message string       `json:"message"`
	Details ErrorDetails `json:"details"`
}

// ErrorDetails carries diagnostic context about the failed forwarding attempt.
type ErrorDetails struct {
	Target string `json:"target"`
	Method string `json:"method"`
	Path   string `json:"path"`
	Code   string `json:"code,omitempty"`
}
