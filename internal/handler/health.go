package handler

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"
)

const pingTimeout = 2 * time.Second

// Health pings every registered dependency. It answers 200 when all respond.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{Status: "ok"}
	status := http.StatusOK

	for _, d := range h.deps {
		ctx, cancel := context.WithTimeout(r.Context(), pingTimeout)
		err := d.pinger.Ping(ctx)
		cancel()
		if err == nil {
			continue
		}
		zap.L().Warn("health check failed",
			zap.String("component", "handler"),
			zap.String("dependency", d.name),
			zap.Error(err))
		resp.Unavailable = append(resp.Unavailable, d.name)
		resp.Status = "degraded"
		status = http.StatusServiceUnavailable
	}

	writeJSON(w, status, resp)
}
