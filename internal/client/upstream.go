// Package client provides the outbound HTTP client used to reach upstreams.
package client

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"syscall"
	"time"

	"studio-cors-proxy/internal/config"
	"studio-cors-proxy/internal/metrics"
	"studio-cors-proxy/internal/model"
)

// Failure codes surfaced in error payloads, stable across Go versions.
const (
	CodeConnectionRefused = "connection_refused"
	CodeDNSError          = "dns_error"
	CodeTimeout           = "timeout"
	CodeCanceled          = "canceled"
	CodeTLSError          = "tls_error"
	CodeSchemeMismatch    = "scheme_mismatch"
	CodeNetworkError      = "network_error"
)

// Dispatcher sends requests to upstreams, retrying once with the opposite
// URL scheme when the upstream turns out to speak the other protocol.
type Dispatcher struct {
	httpClient *http.Client
	logger     *slog.Logger
	metrics    *metrics.Metrics
}

// NewDispatcher creates a Dispatcher with connection pooling. The metrics
// parameter is optional; pass nil to disable upstream metrics recording.
func NewDispatcher(cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) *Dispatcher {
	transport := &http.Transport{
		MaxIdleConns:        cfg.Upstream.IdleConnections,
		MaxIdleConnsPerHost: cfg.Upstream.IdleConnections,
		IdleConnTimeout:     90 * time.Second,
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSClientConfig: &tls.Config{
			// Local studio servers present self-signed certificates;
			// verification stays off unless upstream.verify_tls is set.
			InsecureSkipVerify: !cfg.Upstream.VerifyTLS, //nolint:gosec
		},
	}

	return &Dispatcher{
		httpClient: &http.Client{
			Transport: transport,
			Timeout:   time.Duration(cfg.Upstream.TimeoutSeconds) * time.Second,
		},
		logger:  logger.With("component", "dispatcher"),
		metrics: m,
	}
}

// Forward sends one request to rawURL and returns the response with its body
// unread; the caller is responsible for closing it. When the first attempt
// fails with a scheme mismatch (TLS spoken to a plaintext server, or the
// reverse), Forward retries exactly once with the opposite scheme. Any other
// failure, including a failure of the retry itself, is returned as is.
//
// The provided context controls the lifetime of the upstream request: when
// it is canceled (e.g. the client disconnects), the upstream request is
// canceled too.
func (d *Dispatcher) Forward(ctx context.Context, method, rawURL string, header http.Header, body []byte) (*model.ProxyResponse, error) {
	resp, err := d.attempt(ctx, method, rawURL, header, body)
	if err == nil || !IsSchemeMismatch(err) {
		return resp, err
	}

	flipped, ok := flipScheme(rawURL)
	if !ok {
		return nil, err
	}

	d.logger.Debug("scheme mismatch, retrying with opposite scheme",
		"url", rawURL,
		"retry_url", flipped,
	)

	resp, retryErr := d.attempt(ctx, method, flipped, header, body)
	if d.metrics != nil {
		outcome := "success"
		if retryErr != nil {
			outcome = "failure"
		}
		d.metrics.SchemeFallbacks.WithLabelValues(outcome).Inc()
	}
	return resp, retryErr
}

// attempt performs a single upstream request. The outbound request is built
// fresh each time so a retry never reuses a consumed body reader.
func (d *Dispatcher) attempt(ctx context.Context, method, rawURL string, header http.Header, body []byte) (*model.ProxyResponse, error) {
	var reqBody io.Reader
	if len(body) > 0 && method != http.MethodGet && method != http.MethodHead {
		reqBody = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, rawURL, reqBody)
	if err != nil {
		return nil, fmt.Errorf("build upstream request: %w", err)
	}
	req.Header = header.Clone()

	d.logger.Debug("upstream request",
		"method", req.Method,
		"url", rawURL,
	)

	scheme := req.URL.Scheme

	start := time.Now()
	resp, err := d.httpClient.Do(req) //nolint:bodyclose // body ownership transfers to caller via ProxyResponse
	duration := time.Since(start).Seconds()

	if d.metrics != nil {
		d.metrics.UpstreamDuration.WithLabelValues(scheme).Observe(duration)
	}
	if err != nil {
		return nil, fmt.Errorf("upstream request: %w", err)
	}

	if d.metrics != nil {
		d.metrics.UpstreamResponses.WithLabelValues(scheme, strconv.Itoa(resp.StatusCode)).Inc()
	}

	return &model.ProxyResponse{
		StatusCode: resp.StatusCode,
		Status:     resp.Status,
		Header:     resp.Header,
		Body:       resp.Body,
	}, nil
}

// IsSchemeMismatch reports whether err indicates the upstream speaks the
// other protocol: an HTTPS response to a plaintext request, or a plaintext
// HTTP response where a TLS handshake was expected.
func IsSchemeMismatch(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, http.ErrSchemeMismatch) {
		return true
	}
	var recordErr tls.RecordHeaderError
	if errors.As(err, &recordErr) {
		return true
	}
	// Some TLS servers answer a plaintext request with a raw alert record,
	// which the HTTP client reports as an unparseable response.
	return strings.Contains(err.Error(), "malformed HTTP response")
}

// flipScheme returns rawURL with http and https swapped. The port, if any,
// is kept: the same local port serves whichever protocol the upstream chose.
func flipScheme(rawURL string) (string, bool) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", false
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "https"
	case "https":
		u.Scheme = "http"
	default:
		return "", false
	}
	return u.String(), true
}

// FailureCode classifies err into one of the Code constants for error
// payloads, or empty when err fits no known category.
func FailureCode(err error) string {
	if err == nil {
		return ""
	}

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return CodeTimeout
	case errors.Is(err, context.Canceled):
		return CodeCanceled
	case errors.Is(err, syscall.ECONNREFUSED):
		return CodeConnectionRefused
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return CodeDNSError
	}

	if IsSchemeMismatch(err) {
		return CodeSchemeMismatch
	}

	var certErr *tls.CertificateVerificationError
	if errors.As(err, &certErr) {
		return CodeTLSError
	}
	var alertErr tls.AlertError
	if errors.As(err, &alertErr) {
		return CodeTLSError
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return CodeTimeout
	}

	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return CodeNetworkError
	}

	return ""
}
