package http

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"runtime"
	"time"

	"github.com/Sentinel-Gate/infragate/internal/adapter/outbound/memory"
)

// healthCheckTimeout bounds the audit store ping.
const healthCheckTimeout = 2 * time.Second

// HealthResponse is the JSON response from the /healthz endpoint.
type HealthResponse struct {
	Status  string            `json:"status"` // "healthy" or "unhealthy"
	Checks  map[string]string `json:"checks"`
	Version string            `json:"version,omitempty"`
}

// AuditPinger reports whether the audit store accepts writes.
type AuditPinger interface {
	Ready(ctx context.Context) error
}

// SessionCounter is implemented by confirmation trackers that can report
// how many sessions they hold.
type SessionCounter interface {
	SessionCount() int
}

// HealthChecker verifies component health. The gateway refuses mutations
// while the audit store is down, so an unreachable store makes it unhealthy.
type HealthChecker struct {
	audit        AuditPinger
	tracker      SessionCounter
	sessionStore *memory.MemorySessionStore
	rateLimiter  *memory.MemoryRateLimiter
	version      string
}

// NewHealthChecker creates a HealthChecker with optional components.
// Pass nil for components that aren't available.
func NewHealthChecker(
	audit AuditPinger,
	tracker SessionCounter,
	sessionStore *memory.MemorySessionStore,
	rateLimiter *memory.MemoryRateLimiter,
	version string,
) *HealthChecker {
	return &HealthChecker{
		audit:        audit,
		tracker:      tracker,
		sessionStore: sessionStore,
		rateLimiter:  rateLimiter,
		version:      version,
	}
}

// Check performs health checks on all components.
func (h *HealthChecker) Check(ctx context.Context) HealthResponse {
	checks := make(map[string]string)
	healthy := true

	if h.audit != nil {
		pingCtx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
		err := h.audit.Ready(pingCtx)
		cancel()
		if err != nil {
			checks["audit"] = "unavailable: " + err.Error()
			healthy = false
		} else {
			checks["audit"] = "ok"
		}
	} else {
		checks["audit"] = "not configured"
		healthy = false
	}

	if h.tracker != nil {
		checks["confirmations"] = fmt.Sprintf("ok: %d sessions", h.tracker.SessionCount())
	} else {
		checks["confirmations"] = "external"
	}

	if h.sessionStore != nil {
		checks["session_store"] = fmt.Sprintf("ok: %d sessions", h.sessionStore.Size())
	} else {
		checks["session_store"] = "not configured"
	}

	if h.rateLimiter != nil {
		checks["rate_limiter"] = fmt.Sprintf("ok: %d keys", h.rateLimiter.Size())
	} else {
		checks["rate_limiter"] = "not configured"
	}

	checks["goroutines"] = fmt.Sprintf("%d", runtime.NumGoroutine())

	status := "healthy"
	if !healthy {
		status = "unhealthy"
	}

	return HealthResponse{
		Status:  status,
		Checks:  checks,
		Version: h.version,
	}
}

// Handler returns an HTTP handler for the health endpoint.
func (h *HealthChecker) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		health := h.Check(r.Context())

		w.Header().Set("Content-Type", "application/json")
		if health.Status != "healthy" {
			w.WriteHeader(http.StatusServiceUnavailable)
		} else {
			w.WriteHeader(http.StatusOK)
		}

		_ = json.NewEncoder(w).Encode(health)
	})
}
