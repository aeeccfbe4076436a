package api

import (
	"net/http"
	"time"

	"github.com/openjobspec/ojs-scheduler/internal/core"
)

// SystemHandler serves operational endpoints.
type SystemHandler struct {
	checker core.HealthChecker
	started time.Time
}

// NewSystemHandler creates a SystemHandler reporting on checker.
func NewSystemHandler(checker core.HealthChecker) *SystemHandler {
	return &SystemHandler{checker: checker, started: time.Now()}
}

// Health handles GET /ojs/v1/health.
func (h *SystemHandler) Health(w http.ResponseWriter, r *http.Request) {
	backend := h.checker.Health()
	resp := core.HealthResponse{
		Status:        "ok",
		Version:       core.Version,
		UptimeSeconds: int64(time.Since(h.started).Seconds()),
		Backend:       backend,
	}
	status := http.StatusOK
	if backend.Status != "connected" {
		resp.Status = "degraded"
		status = http.StatusServiceUnavailable
	}
	WriteJSON(w, status, resp)
}
