// Package probe performs the best-effort startup connectivity check against
// the configured target.
package probe

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"studio-cors-proxy/internal/client"
)

// Run issues one GET against the target base URL and logs whether it is
// reachable. It is purely diagnostic: failures are logged, never returned,
// and the timeout bounds how long the check can outlive startup. Going
// through the Dispatcher means the probe benefits from the same scheme
// fallback as real traffic.
func Run(ctx context.Context, d *client.Dispatcher, target string, timeout time.Duration, logger *slog.Logger) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	resp, err := d.Forward(ctx, http.MethodGet, target+"/", http.Header{}, nil)
	if err != nil {
		logger.Warn("target not reachable yet; requests will fail until it is up",
			"target", target,
			"err", err,
			"code", client.FailureCode(err),
		)
		return
	}
	defer func() { _ = resp.Body.Close() }()

	logger.Info("target reachable",
		"target", target,
		"status", resp.StatusCode,
		"duration_ms", time.Since(start).Milliseconds(),
	)
}
