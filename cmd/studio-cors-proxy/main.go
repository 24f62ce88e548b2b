package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/alecthomas/kong"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"go.uber.org/fx"
	"golang.org/x/time/rate"

	"studio-cors-proxy/internal/client"
	"studio-cors-proxy/internal/config"
	"studio-cors-proxy/internal/handler"
	"studio-cors-proxy/internal/metrics"
	"studio-cors-proxy/internal/middleware"
	"studio-cors-proxy/internal/probe"
	"studio-cors-proxy/internal/service"
)

// Set by goreleaser ldflags.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	var cli config.CLI
	kong.Parse(&cli,
		kong.Name("studio-cors-proxy"),
		kong.Description("CORS-forwarding proxy for local database studio development."),
		kong.Vars{"version": fmt.Sprintf("%s (%s, %s)", version, commit, date)},
	)

	fx.New(
		fx.Provide(
			func() *config.CLI { return &cli },
			func() handler.Version { return handler.Version(version) },
			config.Load,
			newLogger,
			metrics.New,
			newEcho,
			client.NewDispatcher,
			service.NewProxyService,
			handler.NewProxyHandler,
			handler.NewAdminHandler,
		),
		fx.Invoke(handler.RegisterRoutes, startServer, startAdminServer, startProbe),
	).Run()
}

func newLogger(cfg *config.Config) *slog.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(cfg.Log.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}

	var h slog.Handler
	switch strings.ToLower(cfg.Log.Format) {
	case "json":
		h = slog.NewJSONHandler(os.Stdout, opts)
	default:
		h = slog.NewTextHandler(os.Stdout, opts)
	}

	return slog.New(h)
}

func newEcho(cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Read and write timeouts are disabled (0): request bodies are unbounded
	// by default and upstream responses may stream for a long time. Stalled
	// connections are bounded by the header and idle timeouts instead.
	e.Server.ReadHeaderTimeout = 10 * time.Second
	e.Server.IdleTimeout = 120 * time.Second

	e.Use(echomw.Recover())
	e.Use(echomw.RequestID())
	e.Use(middleware.RequestLogger(logger))
	e.Use(middleware.HopByHop())

	if cfg.Server.BodyMaxBytes > 0 {
		e.Use(echomw.BodyLimit(fmt.Sprintf("%dB", cfg.Server.BodyMaxBytes)))
	}
	if cfg.Metrics.Enabled {
		e.Use(middleware.MetricsMiddleware(m))
	}
	if cfg.Server.RateLimit.Enabled {
		store := echomw.NewRateLimiterMemoryStore(rate.Limit(cfg.Server.RateLimit.RequestsPerSecond))
		e.Use(echomw.RateLimiter(store))
		logger.Info("rate limiter enabled", "rps", cfg.Server.RateLimit.RequestsPerSecond)
	}

	return e
}

func startServer(lc fx.Lifecycle, e *echo.Echo, cfg *config.Config, logger *slog.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			addr := cfg.Server.Addr()
			ln, err := net.Listen("tcp", addr)
			if err != nil {
				return fmt.Errorf("bind %s: %w", addr, err)
			}
			logger.Info("starting proxy",
				"addr", addr,
				"target", cfg.Upstream.Target,
				"studio_base", cfg.Studio.BaseURL,
			)
			go func() {
				if err := e.Server.Serve(ln); err != nil && err != http.ErrServerClosed {
					logger.Error("server error", "err", err)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			logger.Info("shutting down server")
			return e.Shutdown(ctx)
		},
	})
}

// startAdminServer runs health, status and metrics on their own listener so
// the main one keeps every path forwardable.
func startAdminServer(lc fx.Lifecycle, cfg *config.Config, admin *handler.AdminHandler, m *metrics.Metrics, logger *slog.Logger) {
	if !cfg.Metrics.Enabled {
		return
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	handler.RegisterAdminRoutes(e, admin, m, cfg)

	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			ln, err := net.Listen("tcp", cfg.Metrics.Addr)
			if err != nil {
				return fmt.Errorf("bind admin %s: %w", cfg.Metrics.Addr, err)
			}
			logger.Info("starting admin server", "addr", cfg.Metrics.Addr)
			go func() {
				if err := e.Server.Serve(ln); err != nil && err != http.ErrServerClosed {
					logger.Error("admin server error", "err", err)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return e.Shutdown(ctx)
		},
	})
}

// startProbe checks target reachability in the background once the app
// starts. It never delays or fails startup.
func startProbe(lc fx.Lifecycle, cfg *config.Config, d *client.Dispatcher, logger *slog.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			timeout := time.Duration(cfg.Upstream.ProbeTimeoutSeconds) * time.Second
			go probe.Run(context.Background(), d, cfg.Upstream.Target, timeout, logger)
			return nil
		},
	})
}
