// Package config handles TOML configuration loading and validation.
package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"

	"github.com/alecthomas/kong"
	toml "github.com/pelletier/go-toml/v2"
)

// configSearchPaths lists paths checked in order when no explicit config is given.
var configSearchPaths = []string{
	"studio-cors-proxy.toml",
	"configs/config.toml",
}

// CLI holds command-line arguments parsed by Kong.
type CLI struct {
	Port     int              `kong:"short='p',placeholder='PORT',help='Port to listen on (default 8080).',env='PORT'"`
	Target   string           `kong:"short='t',placeholder='URL',help='Target URL to forward requests to (default http://localhost:4983).',env='TARGET'"`
	Host     string           `kong:"help='Listen host (default 0.0.0.0).',env='HOST'"`
	Config   string           `kong:"short='c',help='Path to TOML config file.',env='CONFIG_PATH'"`
	LogLevel string           `kong:"help='Log level: debug|info|warn|error.',env='LOG_LEVEL'"`
	Version  kong.VersionFlag `kong:"short='v',help='Print version and exit.'"`
}

// Config is the top-level application configuration.
type Config struct {
	Server   ServerConfig   `toml:"server"`
	Upstream UpstreamConfig `toml:"upstream"`
	Studio   StudioConfig   `toml:"studio"`
	Log      LogConfig      `toml:"log"`
	Metrics  MetricsConfig  `toml:"metrics"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string          `toml:"host"`
	Port         int             `toml:"port"` // 0 means "use default" (8080); TOML cannot distinguish 0 from unset
	BodyMaxBytes int64           `toml:"body_max_bytes"` // 0 means unlimited
	RateLimit    RateLimitConfig `toml:"rate_limit"`
}

// RateLimitConfig controls per-IP request rate limiting.
type RateLimitConfig struct {
	Enabled           bool    `toml:"enabled"`
	RequestsPerSecond float64 `toml:"requests_per_second"`
}

// UpstreamConfig holds settings for the default forwarding target and the
// outbound HTTP client.
type UpstreamConfig struct {
	Target              string `toml:"target"`
	VerifyTLS           bool   `toml:"verify_tls"` // off by default: local studio servers use self-signed certs
	TimeoutSeconds      int    `toml:"timeout_seconds"` // 0 means no client timeout
	ProbeTimeoutSeconds int    `toml:"probe_timeout_seconds"`
	IdleConnections     int    `toml:"idle_connections"`
}

// StudioConfig holds the studio CDN origin serving /studio and /cdn-cgi paths.
type StudioConfig struct {
	BaseURL string `toml:"base_url"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// MetricsConfig holds settings for the admin listener (health, status and
// Prometheus metrics). It is a separate listener so that every path on the
// main one stays forwardable.
type MetricsConfig struct {
	Enabled bool   `toml:"enabled"`
	Addr    string `toml:"addr"`
	Path    string `toml:"path"`
}

// Load reads the TOML config file (when one exists) and applies CLI
// overrides. Running without any config file is the normal case: every
// setting has a default. An explicitly given --config path must exist.
func Load(cli *CLI) (*Config, error) {
	var cfg Config

	path := cli.Config
	if path == "" {
		path = findConfig()
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := toml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	cfg.applyCLI(cli)
	cfg.setDefaults()

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config: validate: %w", err)
	}

	return &cfg, nil
}

// applyCLI overrides config values with non-zero CLI flags.
func (c *Config) applyCLI(cli *CLI) {
	if cli.Host != "" {
		c.Server.Host = cli.Host
	}
	if cli.Port != 0 {
		c.Server.Port = cli.Port
	}
	if cli.Target != "" {
		c.Upstream.Target = cli.Target
	}
	if cli.LogLevel != "" {
		c.Log.Level = cli.LogLevel
	}
}

// setDefaults fills zero-valued fields with defaults and normalizes URLs.
// For integer fields (Port, TimeoutSeconds, etc.), zero means "unset" because
// TOML cannot distinguish between an explicit 0 and an omitted key. Setting
// port=0 therefore results in the default port (8080).
func (c *Config) setDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Upstream.Target == "" {
		c.Upstream.Target = "http://localhost:4983"
	}
	if c.Upstream.ProbeTimeoutSeconds == 0 {
		c.Upstream.ProbeTimeoutSeconds = 3
	}
	if c.Upstream.IdleConnections == 0 {
		c.Upstream.IdleConnections = 100
	}
	if c.Studio.BaseURL == "" {
		c.Studio.BaseURL = "https://local.drizzle.studio"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
	if c.Metrics.Addr == "" {
		c.Metrics.Addr = "127.0.0.1:9090"
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}

	// Bases are concatenated with request paths, so trailing slashes would
	// produce double-slash URLs.
	c.Upstream.Target = strings.TrimSuffix(c.Upstream.Target, "/")
	c.Studio.BaseURL = strings.TrimSuffix(c.Studio.BaseURL, "/")
}

func (c *Config) validate() error {
	if err := validateBaseURL("upstream.target", c.Upstream.Target); err != nil {
		return err
	}
	if err := validateBaseURL("studio.base_url", c.Studio.BaseURL); err != nil {
		return err
	}

	// Numeric bounds. Defaults are already applied, so port 0 cannot occur here.
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be 1–65535; got %d", c.Server.Port)
	}
	if c.Server.BodyMaxBytes < 0 {
		return fmt.Errorf("server.body_max_bytes must be non-negative; got %d", c.Server.BodyMaxBytes)
	}
	if c.Upstream.TimeoutSeconds < 0 {
		return fmt.Errorf("upstream.timeout_seconds must be non-negative; got %d", c.Upstream.TimeoutSeconds)
	}
	if c.Upstream.ProbeTimeoutSeconds < 0 {
		return fmt.Errorf("upstream.probe_timeout_seconds must be non-negative; got %d", c.Upstream.ProbeTimeoutSeconds)
	}
	if c.Upstream.IdleConnections < 0 {
		return fmt.Errorf("upstream.idle_connections must be non-negative; got %d", c.Upstream.IdleConnections)
	}
	if c.Server.RateLimit.Enabled && c.Server.RateLimit.RequestsPerSecond <= 0 {
		return fmt.Errorf("server.rate_limit.requests_per_second must be > 0 when rate limiting is enabled; got %v", c.Server.RateLimit.RequestsPerSecond)
	}

	// Log fields.
	level := strings.ToLower(c.Log.Level)
	switch level {
	case "debug", "info", "warn", "error":
		// valid
	default:
		return fmt.Errorf("log.level must be one of: debug, info, warn, error; got %q", c.Log.Level)
	}
	format := strings.ToLower(c.Log.Format)
	switch format {
	case "json", "text":
		// valid
	default:
		return fmt.Errorf("log.format must be one of: json, text; got %q", c.Log.Format)
	}

	if c.Metrics.Enabled {
		if !strings.HasPrefix(c.Metrics.Path, "/") {
			return fmt.Errorf("metrics.path must start with '/'; got %q", c.Metrics.Path)
		}
		if !strings.Contains(c.Metrics.Addr, ":") {
			return fmt.Errorf("metrics.addr must be host:port; got %q", c.Metrics.Addr)
		}
	}

	return nil
}

// validateBaseURL checks that raw is an absolute http(s) URL with a host.
func validateBaseURL(field, raw string) error {
	if raw == "" {
		return fmt.Errorf("%s is required", field)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%s is not a valid URL: %w", field, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%s must use http or https; got %q", field, raw)
	}
	if u.Host == "" {
		return fmt.Errorf("%s has no host; got %q", field, raw)
	}
	return nil
}

// findConfig returns the first config path that exists, or empty string.
func findConfig() string {
	return findConfigInPaths(configSearchPaths)
}

// findConfigInPaths returns the first path that exists on disk, or empty string.
func findConfigInPaths(paths []string) string {
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// Addr returns the server listen address as host:port.
func (c *ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
