package api

import "github.com/mattjoyce/forkpool/internal/pool"

// ErrorResponse is returned on errors
type ErrorResponse struct {
	Error string `json:"error"`
}

// HealthzResponse is returned by GET /healthz.
type HealthzResponse struct {
	Status        string       `json:"status"`
	UptimeSeconds int64        `json:"uptime_seconds"`
	Pool          *pool.Status `json:"pool,omitempty"`
}
