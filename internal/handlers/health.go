package handlers

import (
	"net/http"
	"sync/atomic"
)

// HealthHandler serves liveness and readiness probes for the proxy. The
// process is live as soon as it starts; it becomes not-ready only once
// the operator has asked it to drain (shutdown in progress).
type HealthHandler struct {
	unavailable atomic.Bool
}

func NewHealthHandler() *HealthHandler {
	return &HealthHandler{}
}

// SetUnavailable marks the process as draining: Readiness starts
// returning 503 so a load balancer stops sending new traffic, while
// Liveness keeps returning 200 until the process actually exits.
func (h *HealthHandler) SetUnavailable() {
	h.unavailable.Store(true)
}

func (h *HealthHandler) Liveness(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

func (h *HealthHandler) Readiness(w http.ResponseWriter, r *http.Request) {
	if h.unavailable.Load() {
		http.Error(w, "draining", http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("READY"))
}
