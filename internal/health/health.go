// Package health provides the liveness and readiness endpoints.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/Pbasnal/comic-visibility/internal/metrics"
	"go.uber.org/zap"
)

// Pinger is a dependency that can report whether it is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// ConsumerCounter reports how many consumer loops are running.
type ConsumerCounter interface {
	Running() int
}

// HealthCheck tracks readiness of the repository, the cache and the
// consumer loops.
type HealthCheck struct {
	repository    Pinger
	cache         Pinger
	consumers     ConsumerCounter
	checkInterval time.Duration
	metrics       *metrics.Metrics
	logger        *zap.Logger

	mu        sync.RWMutex
	ready     bool
	checks    map[string]string
	lastError string
	lastCheck time.Time
}

// NewHealthCheck creates a new HealthCheck instance. cache may be nil.
func NewHealthCheck(repository Pinger, cache Pinger, consumers ConsumerCounter, checkInterval time.Duration, m *metrics.Metrics, logger *zap.Logger) *HealthCheck {
	if checkInterval <= 0 {
		checkInterval = 5 * time.Second
	}
	return &HealthCheck{
		repository:    repository,
		cache:         cache,
		consumers:     consumers,
		checkInterval: checkInterval,
		metrics:       m,
		logger:        logger,
	}
}

// LivenessResponse represents the response for the liveness check.
type LivenessResponse struct {
	Status string `json:"status"`
}

// ReadinessResponse represents the response for the readiness check.
type ReadinessResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
	Error  string            `json:"error,omitempty"`
}

// LivenessHandler handles GET /health requests.
// Returns 200 OK if the process is running.
func (hc *HealthCheck) LivenessHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, LivenessResponse{Status: "healthy"})
}

// ReadinessHandler handles GET /ready requests. A fresh check runs when the
// cached state is not ready.
func (hc *HealthCheck) ReadinessHandler(w http.ResponseWriter, r *http.Request) {
	if !hc.IsReady() {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		hc.Check(ctx)
		cancel()
	}

	hc.mu.RLock()
	resp := ReadinessResponse{
		Status: "ready",
		Checks: hc.checks,
		Error:  hc.lastError,
	}
	ready := hc.ready
	hc.mu.RUnlock()

	if !ready {
		resp.Status = "not_ready"
		writeJSON(w, http.StatusServiceUnavailable, resp)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// Check probes every dependency and updates the readiness state.
func (hc *HealthCheck) Check(ctx context.Context) bool {
	checks := make(map[string]string, 3)
	ready := true
	var lastErr string

	if err := hc.repository.Ping(ctx); err != nil {
		checks["repository"] = "unhealthy"
		ready = false
		lastErr = err.Error()
	} else {
		checks["repository"] = "healthy"
	}

	// the cache is optional for serving, so a failure is reported but not fatal
	if hc.cache != nil {
		if err := hc.cache.Ping(ctx); err != nil {
			checks["cache"] = "unhealthy"
			hc.logger.Warn("Cache health check failed", zap.Error(err))
		} else {
			checks["cache"] = "healthy"
		}
	}

	if hc.consumers.Running() > 0 {
		checks["consumers"] = "running"
	} else {
		checks["consumers"] = "stopped"
		ready = false
		if lastErr == "" {
			lastErr = "no consumer loops running"
		}
	}

	hc.mu.Lock()
	if hc.ready && !ready {
		hc.logger.Warn("Service became not ready", zap.String("error", lastErr))
	}
	hc.ready = ready
	hc.checks = checks
	hc.lastError = lastErr
	hc.lastCheck = time.Now()
	hc.mu.Unlock()

	hc.metrics.SetHealthStatus(ready)
	return ready
}

// Run performs periodic health checks until ctx is cancelled.
func (hc *HealthCheck) Run(ctx context.Context) {
	ticker := time.NewTicker(hc.checkInterval)
	defer ticker.Stop()

	for {
		checkCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		hc.Check(checkCtx)
		cancel()

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// IsReady returns the current readiness status.
func (hc *HealthCheck) IsReady() bool {
	hc.mu.RLock()
	defer hc.mu.RUnlock()
	return hc.ready
}

// LastCheck returns when the dependencies were last probed.
func (hc *HealthCheck) LastCheck() time.Time {
	hc.mu.RLock()
	defer hc.mu.RUnlock()
	return hc.lastCheck
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
