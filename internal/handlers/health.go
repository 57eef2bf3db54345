package handlers

import (
	"context"
	"net/http"
	"time"
)

// Version is set at build time.
var Version = "dev"

// readyProbeTimeout bounds how long a readiness check may spend across all
// probes before the endpoint reports degraded anyway.
const readyProbeTimeout = 5 * time.Second

// Probe is one named readiness dependency (database, cache, registry). A
// nil error from Check means the dependency can serve traffic.
type Probe struct {
	Name  string
	Check func(ctx context.Context) error
}

// HealthHandler serves the liveness and readiness endpoints. Liveness never
// touches a dependency; readiness runs every registered probe.
type HealthHandler struct {
	probes []Probe
}

func NewHealthHandler(probes ...Probe) *HealthHandler {
	return &HealthHandler{probes: probes}
}

// HealthStatus is the response body for both endpoints.
type HealthStatus struct {
	Status    string            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Version   string            `json:"version"`
	Probes    map[string]string `json:"probes,omitempty"`
}

// Live reports process liveness for the orchestrator's restart decision.
// It deliberately checks nothing: a wedged database must not make the
// scheduler kill an otherwise healthy process.
func (h *HealthHandler) Live(w http.ResponseWriter, r *http.Request) {
	respondSuccess(w, HealthStatus{
		Status:    "ok",
		Timestamp: time.Now().UTC(),
		Version:   Version,
	})
}

// Ready runs every probe and reports 503 with per-probe detail if any
// dependency is down, so a load balancer stops routing sync/analysis
// traffic here until the dependency recovers.
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), readyProbeTimeout)
	defer cancel()

	results := make(map[string]string, len(h.probes))
	healthy := true
	for _, p := range h.probes {
		if err := p.Check(ctx); err != nil {
			results[p.Name] = "unhealthy: " + err.Error()
			healthy = false
		} else {
			results[p.Name] = "healthy"
		}
	}

	status := HealthStatus{
		Status:    "ok",
		Timestamp: time.Now().UTC(),
		Version:   Version,
		Probes:    results,
	}
	if healthy {
		respondSuccess(w, status)
		return
	}
	status.Status = "degraded"
	respondJSON(w, http.StatusServiceUnavailable, status)
}
