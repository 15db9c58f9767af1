package observability

import (
	"encoding/json"
	"net/http"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// HealthChecker serves /healthz (liveness) and /readyz (readiness).
// The service is ready once recovery has finished and every registered
// dependency reports up.
type HealthChecker struct {
	ready     atomic.Bool
	startTime time.Time

	mu           sync.RWMutex
	dependencies map[string]bool
}

func NewHealthChecker() *HealthChecker {
	return &HealthChecker{
		startTime:    time.Now(),
		dependencies: make(map[string]bool),
	}
}

// SetReady marks recovery as complete (or not).
func (h *HealthChecker) SetReady(ready bool) {
	h.ready.Store(ready)
}

// SetDependency records the state of a named dependency (postgres, nats, redis).
func (h *HealthChecker) SetDependency(name string, up bool) {
	h.mu.Lock()
	h.dependencies[name] = up
	h.mu.Unlock()
}

// IsReady reports recovery complete and all dependencies up.
func (h *HealthChecker) IsReady() bool {
	if !h.ready.Load() {
		return false
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, up := range h.dependencies {
		if !up {
			return false
		}
	}
	return true
}

func (h *HealthChecker) down() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	var out []string
	for name, up := range h.dependencies {
		if !up {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

// LivenessHandler always returns 200 while the process runs.
func (h *HealthChecker) LivenessHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status": "alive",
		"uptime": time.Since(h.startTime).String(),
	})
}

// ReadinessHandler returns 200 when ready, 503 with the failing
// dependencies otherwise.
func (h *HealthChecker) ReadinessHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if h.IsReady() {
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"status": "ready",
		})
		return
	}
	w.WriteHeader(http.StatusServiceUnavailable)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status":     "not_ready",
		"recovering": !h.ready.Load(),
		"down":       h.down(),
	})
}
