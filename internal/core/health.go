package core

// Version is reported by health checks and build info.
const Version = "0.4.0"

// HealthResponse is the body of the health endpoint.
type HealthResponse struct {
	Status        string        `json:"status"`
	Version       string        `json:"version"`
	UptimeSeconds int64         `json:"uptime_seconds"`
	Backend       BackendHealth `json:"backend"`
}

// BackendHealth describes the storage backend's health.
type BackendHealth struct {
	Type       string `json:"type"`
	Status     string `json:"status"`
	LatencyMs  int64  `json:"latency_ms,omitempty"`
	QueueDepth *int64 `json:"queue_depth,omitempty"`
	Inflight   *int64 `json:"inflight,omitempty"`
	Error      string `json:"error,omitempty"`
}

// HealthChecker reports backend health.
type HealthChecker interface {
	Health() BackendHealth
}
