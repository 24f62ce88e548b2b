package client

import (
	"context"
	"crypto/tls"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"strings"
	"sync/atomic"
	"syscall"
	"testing"
	"time"

	"studio-cors-proxy/internal/config"
)

// roundTripperFunc adapts a function to http.RoundTripper for fault injection.
type roundTripperFunc func(*http.Request) (*http.Response, error)

func (f roundTripperFunc) RoundTrip(r *http.Request) (*http.Response, error) {
	return f(r)
}

func testConfig() *config.Config {
	return &config.Config{
		Upstream: config.UpstreamConfig{
			TimeoutSeconds:  10,
			IdleConnections: 10,
		},
	}
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeDispatcher builds a Dispatcher around an injected transport.
func fakeDispatcher(rt http.RoundTripper) *Dispatcher {
	return &Dispatcher{
		httpClient: &http.Client{Transport: rt},
		logger:     testLogger(),
	}
}

func TestDispatcher_Forward(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	}))
	defer srv.Close()

	d := NewDispatcher(testConfig(), testLogger(), nil)

	resp, err := d.Forward(context.Background(), http.MethodGet, srv.URL+"/test", http.Header{}, nil)
	if err != nil {
		t.Fatalf("Forward() error = %v", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("StatusCode = %d, want %d", resp.StatusCode, http.StatusOK)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if string(body) != `{"status":"ok"}` {
		t.Errorf("body = %q, want %q", string(body), `{"status":"ok"}`)
	}
}

func TestDispatcher_Forward_Error(t *testing.T) {
	d := NewDispatcher(testConfig(), testLogger(), nil)

	_, err := d.Forward(context.Background(), http.MethodGet, "http://127.0.0.1:1/nonexistent", http.Header{}, nil)
	if err == nil {
		t.Fatal("Forward() expected error for unreachable host, got nil")
	}
	if got := FailureCode(err); got != CodeConnectionRefused {
		t.Errorf("FailureCode() = %q, want %q", got, CodeConnectionRefused)
	}
}

func TestDispatcher_Forward_CanceledContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Simulate a slow upstream; the request should be canceled before this completes.
		time.Sleep(5 * time.Second)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	d := NewDispatcher(testConfig(), testLogger(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel() // cancel immediately

	_, err := d.Forward(ctx, http.MethodGet, srv.URL+"/slow", http.Header{}, nil)
	if err == nil {
		t.Fatal("Forward() expected error for canceled context, got nil")
	}
	if got := FailureCode(err); got != CodeCanceled {
		t.Errorf("FailureCode() = %q, want %q", got, CodeCanceled)
	}
}

func TestDispatcher_Forward_FallsBackToHTTP(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		_, _ = w.Write([]byte("plain"))
	}))
	defer srv.Close()

	d := NewDispatcher(testConfig(), testLogger(), nil)

	// The server only speaks plaintext HTTP; asking for https must fall back.
	httpsURL := strings.Replace(srv.URL, "http://", "https://", 1)
	resp, err := d.Forward(context.Background(), http.MethodGet, httpsURL+"/x", http.Header{}, nil)
	if err != nil {
		t.Fatalf("Forward() error = %v, want fallback to plain HTTP", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, _ := io.ReadAll(resp.Body)
	if string(body) != "plain" {
		t.Errorf("body = %q, want %q", string(body), "plain")
	}
	if got := hits.Load(); got != 1 {
		t.Errorf("upstream handler hits = %d, want 1 (TLS attempt never parses as a request)", got)
	}
}

func TestDispatcher_Forward_FallsBackToHTTPS(t *testing.T) {
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("secure"))
	}))
	defer srv.Close()

	// verify_tls off, as it is by default for self-signed local servers.
	d := NewDispatcher(testConfig(), testLogger(), nil)

	var attempts atomic.Int32
	base, ok := d.httpClient.Transport.(*http.Transport)
	if !ok {
		t.Fatal("transport is not *http.Transport")
	}
	d.httpClient.Transport = roundTripperFunc(func(r *http.Request) (*http.Response, error) {
		attempts.Add(1)
		if r.URL.Scheme == "http" {
			// A TLS-only server answers plaintext with a raw alert record.
			return nil, &url.Error{Op: "Get", URL: r.URL.String(), Err: errors.New(`malformed HTTP response "\x15\x03\x01\x00\x02\x02"`)}
		}
		return base.RoundTrip(r)
	})

	httpURL := strings.Replace(srv.URL, "https://", "http://", 1)
	resp, err := d.Forward(context.Background(), http.MethodGet, httpURL+"/x", http.Header{}, nil)
	if err != nil {
		t.Fatalf("Forward() error = %v, want fallback to HTTPS", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, _ := io.ReadAll(resp.Body)
	if string(body) != "secure" {
		t.Errorf("body = %q, want %q", string(body), "secure")
	}
	if got := attempts.Load(); got != 2 {
		t.Errorf("attempts = %d, want 2 (plaintext then TLS)", got)
	}
}

func TestDispatcher_Forward_FallbackOnlyOnce(t *testing.T) {
	var attempts atomic.Int32
	d := fakeDispatcher(roundTripperFunc(func(r *http.Request) (*http.Response, error) {
		attempts.Add(1)
		return nil, http.ErrSchemeMismatch
	}))

	_, err := d.Forward(context.Background(), http.MethodGet, "http://localhost:4983/", http.Header{}, nil)
	if err == nil {
		t.Fatal("Forward() expected error when both schemes fail, got nil")
	}
	if got := attempts.Load(); got != 2 {
		t.Errorf("attempts = %d, want exactly 2", got)
	}
	if got := FailureCode(err); got != CodeSchemeMismatch {
		t.Errorf("FailureCode() = %q, want %q", got, CodeSchemeMismatch)
	}
}

func TestDispatcher_Forward_NoFallbackOnOtherErrors(t *testing.T) {
	var attempts atomic.Int32
	d := fakeDispatcher(roundTripperFunc(func(r *http.Request) (*http.Response, error) {
		attempts.Add(1)
		return nil, syscall.ECONNREFUSED
	}))

	_, err := d.Forward(context.Background(), http.MethodGet, "http://localhost:4983/", http.Header{}, nil)
	if err == nil {
		t.Fatal("Forward() expected error, got nil")
	}
	if got := attempts.Load(); got != 1 {
		t.Errorf("attempts = %d, want 1 (no retry for refused connections)", got)
	}
}

func TestDispatcher_Forward_BodyHandling(t *testing.T) {
	tests := []struct {
		name     string
		method   string
		body     []byte
		wantBody string
	}{
		{"post sends body", http.MethodPost, []byte(`{"q":1}`), `{"q":1}`},
		{"put sends body", http.MethodPut, []byte("data"), "data"},
		{"get drops body", http.MethodGet, []byte("ignored"), ""},
		{"head drops body", http.MethodHead, []byte("ignored"), ""},
		{"post with empty body", http.MethodPost, nil, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var gotBody string
			d := fakeDispatcher(roundTripperFunc(func(r *http.Request) (*http.Response, error) {
				if r.Body != nil {
					b, _ := io.ReadAll(r.Body)
					gotBody = string(b)
				}
				return &http.Response{
					StatusCode: http.StatusOK,
					Status:     "200 OK",
					Header:     http.Header{},
					Body:       io.NopCloser(strings.NewReader("")),
				}, nil
			}))

			resp, err := d.Forward(context.Background(), tt.method, "http://localhost:4983/", http.Header{}, tt.body)
			if err != nil {
				t.Fatalf("Forward() error = %v", err)
			}
			_ = resp.Body.Close()

			if gotBody != tt.wantBody {
				t.Errorf("upstream received body %q, want %q", gotBody, tt.wantBody)
			}
		})
	}
}

func TestDispatcher_Forward_TLSVerification(t *testing.T) {
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("secure"))
	}))
	defer srv.Close()

	t.Run("relaxed accepts self-signed", func(t *testing.T) {
		d := NewDispatcher(testConfig(), testLogger(), nil)

		resp, err := d.Forward(context.Background(), http.MethodGet, srv.URL, http.Header{}, nil)
		if err != nil {
			t.Fatalf("Forward() error = %v, want self-signed cert accepted", err)
		}
		_ = resp.Body.Close()
	})

	t.Run("strict rejects self-signed", func(t *testing.T) {
		cfg := testConfig()
		cfg.Upstream.VerifyTLS = true
		d := NewDispatcher(cfg, testLogger(), nil)

		_, err := d.Forward(context.Background(), http.MethodGet, srv.URL, http.Header{}, nil)
		if err == nil {
			t.Fatal("Forward() expected certificate error with verify_tls, got nil")
		}
		if got := FailureCode(err); got != CodeTLSError {
			t.Errorf("FailureCode() = %q, want %q", got, CodeTLSError)
		}
	})
}

func TestIsSchemeMismatch(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"scheme mismatch sentinel", http.ErrSchemeMismatch, true},
		{"wrapped scheme mismatch", &url.Error{Op: "Get", URL: "https://x", Err: http.ErrSchemeMismatch}, true},
		{"tls record header", tls.RecordHeaderError{Msg: "first record does not look like a TLS handshake"}, true},
		{"malformed response text", errors.New(`malformed HTTP response "\x15\x03\x01"`), true},
		{"refused", syscall.ECONNREFUSED, false},
		{"plain error", errors.New("boom"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsSchemeMismatch(tt.err); got != tt.want {
				t.Errorf("IsSchemeMismatch() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestFlipScheme(t *testing.T) {
	tests := []struct {
		name   string
		rawURL string
		want   string
		wantOK bool
	}{
		{"http to https", "http://localhost:4983/a?b=1", "https://localhost:4983/a?b=1", true},
		{"https to http", "https://local.drizzle.studio/", "http://local.drizzle.studio/", true},
		{"port preserved", "https://localhost:8443/x", "http://localhost:8443/x", true},
		{"non-http scheme", "ftp://example.com/", "", false},
		{"unparseable", "://", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := flipScheme(tt.rawURL)
			if ok != tt.wantOK {
				t.Fatalf("flipScheme(%q) ok = %v, want %v", tt.rawURL, ok, tt.wantOK)
			}
			if got != tt.want {
				t.Errorf("flipScheme(%q) = %q, want %q", tt.rawURL, got, tt.want)
			}
		})
	}
}

func TestFailureCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"nil", nil, ""},
		{"deadline", &url.Error{Op: "Get", URL: "http://x", Err: context.DeadlineExceeded}, CodeTimeout},
		{"canceled", context.Canceled, CodeCanceled},
		{
			"refused",
			&url.Error{Op: "Get", URL: "http://x", Err: &net.OpError{
				Op:  "dial",
				Err: os.NewSyscallError("connect", syscall.ECONNREFUSED),
			}},
			CodeConnectionRefused,
		},
		{"dns", &net.DNSError{Err: "no such host", Name: "nope.invalid", IsNotFound: true}, CodeDNSError},
		{"scheme mismatch", http.ErrSchemeMismatch, CodeSchemeMismatch},
		{"other url error", &url.Error{Op: "Get", URL: "http://x", Err: errors.New("weird")}, CodeNetworkError},
		{"unclassified", errors.New("weird"), ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := FailureCode(tt.err); got != tt.want {
				t.Errorf("FailureCode() = %q, want %q", got, tt.want)
			}
		})
	}
}
