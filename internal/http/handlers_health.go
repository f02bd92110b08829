package httpx

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"time"
)

const healthResponse = `{"status":"ok"}`

// healthHandler returns a simple 200 OK status for liveness checks.
func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if r.Method == http.MethodHead {
		return
	}
	if _, err := io.WriteString(w, healthResponse); err != nil {
		// Nothing more to do if the client connection is gone.
		return
	}
}

// Pinger is a dependency the readiness check probes (Postgres, Redis).
type Pinger func(ctx context.Context) error

// readyHandler probes every dependency and answers 503 when any of them fails.
func readyHandler(checks map[string]Pinger, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		status := http.StatusOK
		result := make(map[string]string, len(checks))
		for name, ping := range checks {
			if err := ping(ctx); err != nil {
				logger.WarnContext(ctx, "readiness check failed", "dependency", name, "error", err)
				result[name] = "unavailable"
				status = http.StatusServiceUnavailable
				continue
			}
			result[name] = "ok"
		}
		WriteJSON(w, status, result)
	}
}
