package httpserver

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/dmitrymomot/billingsync/pkg/logger"
)

// Check is a named readiness probe.
type Check struct {
	Name  string
	Probe func(context.Context) error
}

// HealthCheckHandler reports liveness when no checks are given and readiness
// otherwise. Every check runs with timeout; any failure answers 503 with the
// per-check status in the body.
func HealthCheckHandler(log *slog.Logger, timeout time.Duration, checks ...Check) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), timeout)
		defer cancel()

		status := http.StatusOK
		results := make(map[string]string, len(checks))
		for _, c := range checks {
			if err := c.Probe(ctx); err != nil {
				log.LogAttrs(ctx, slog.LevelError, "readiness check failed",
					slog.String("check", c.Name),
					logger.Error(err),
				)
				results[c.Name] = "down"
				status = http.StatusServiceUnavailable
				continue
			}
			results[c.Name] = "up"
		}

		body := map[string]any{"status": "ok", "checks": results}
		if status != http.StatusOK {
			body["status"] = "unavailable"
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(body)
	}
}
