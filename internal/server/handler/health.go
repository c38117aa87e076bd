package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"
)

// Check probes one dependency.
type Check func(ctx context.Context) error

// HealthHandler reports liveness and the state of the configured
// dependencies.
type HealthHandler struct {
	checks map[string]Check
	logger *slog.Logger
}

// NewHealthHandler creates a HealthHandler. checks may be empty.
func NewHealthHandler(checks map[string]Check, logger *slog.Logger) *HealthHandler {
	return &HealthHandler{checks: checks, logger: logger}
}

// HealthCheck answers 200 when every check passes and 503 otherwise.
// GET /health
func (h *HealthHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	status, code := "ok", http.StatusOK
	results := make(map[string]string, len(h.checks))
	for name, check := range h.checks {
		if err := check(ctx); err != nil {
			h.logger.WarnContext(ctx, "health check failed", slog.String("check", name), slog.String("error", err.Error()))
			results[name] = err.Error()
			status, code = "degraded", http.StatusServiceUnavailable
			continue
		}
		results[name] = "ok"
	}
	writeJSON(w, code, map[string]any{
		"status":    status,
		"checks":    results,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}
