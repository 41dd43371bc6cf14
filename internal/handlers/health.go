package handlers

import (
	"net/http"
	"runtime"
	"time"

	"momento/internal/jobs"
	"momento/internal/startup"
)

const (
	statusHealthy  = "healthy"
	statusStarting = "starting"
)

// HealthResponse contains the health check response
type HealthResponse struct {
	Status  string `json:"status"`
	Ready   bool   `json:"ready"`
	Version string `json:"version"`
	Uptime  string `json:"uptime"`

	Jobs map[jobs.Kind]jobs.Status `json:"jobs"`

	TotalImages int `json:"totalImages"`
	TotalVideos int `json:"totalVideos"`
	Geotagged   int `json:"geotagged"`
	Users       int `json:"users"`

	GoVersion    string `json:"goVersion"`
	NumGoroutine int    `json:"numGoroutine"`
}

// HealthCheck returns the health status of the service
func (h *Handlers) HealthCheck(w http.ResponseWriter, _ *http.Request) {
	stats := h.store.GetStats()
	ready := h.ready.Load()

	response := HealthResponse{
		Status:       statusStarting,
		Ready:        ready,
		Version:      startup.Version,
		Uptime:       time.Since(h.startTime).Round(time.Second).String(),
		Jobs:         make(map[jobs.Kind]jobs.Status, 3),
		TotalImages:  stats.TotalImages,
		TotalVideos:  stats.TotalVideos,
		Geotagged:    stats.Geotagged,
		Users:        stats.Users,
		GoVersion:    runtime.Version(),
		NumGoroutine: runtime.NumGoroutine(),
	}
	for _, kind := range []jobs.Kind{jobs.KindImport, jobs.KindRegeneration, jobs.KindWatch} {
		if state, ok := h.jobs.Get(kind); ok {
			response.Jobs[kind] = state.Snapshot().Status
		}
	}

	code := http.StatusServiceUnavailable
	if ready {
		response.Status = statusHealthy
		code = http.StatusOK
	}
	writeJSONResponse(w, code, response)
}

// LivenessCheck always returns 200 while the process is serving
func (h *Handlers) LivenessCheck(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)

	if r.Method != http.MethodHead {
		writeJSON(w, map[string]string{"status": "alive"})
	}
}

// ReadinessCheck returns 200 only once startup has completed
func (h *Handlers) ReadinessCheck(w http.ResponseWriter, _ *http.Request) {
	if h.ready.Load() {
		writeJSONResponse(w, http.StatusOK, map[string]string{"status": "ready"})
		return
	}
	writeJSONResponse(w, http.StatusServiceUnavailable, map[string]string{"status": "not_ready"})
}
