package server

import (
	"context"
	"log/slog"
	"net/http"
	"sort"
	"time"
)

const healthTimeout = 2 * time.Second

type healthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}

// HandleHealth returns the /healthz handler. It reports 503 when any
// backend fails its ping.
func HandleHealth(backends map[string]Pinger, logger *slog.Logger) http.HandlerFunc {
	names := make([]string, 0, len(backends))
	for name := range backends {
		names = append(names, name)
	}

	sort.Strings(names)

	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
		defer cancel()

		resp := healthResponse{Status: "ok", Checks: make(map[string]string, len(names))}
		status := http.StatusOK

		for _, name := range names {
			if err := backends[name].Ping(ctx); err != nil {
				logger.Warn("health check failed",
					slog.String("backend", name),
					slog.String("error", err.Error()),
				)

				resp.Checks[name] = "unavailable"
				resp.Status = "degraded"
				status = http.StatusServiceUnavailable

				continue
			}

			resp.Checks[name] = "ok"
		}

		w.Header().Set("Cache-Control", "no-store")
		writeJSON(w, status, resp)
	}
}
