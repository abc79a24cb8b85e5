package handler

import (
	"net/http"
	"time"

	"github.com/finopsmind/billing/internal/provider"
)

// HealthHandler reports liveness and the state of the cost sources.
type HealthHandler struct {
	backend string
	sources *provider.Registry
	started time.Time
}

func NewHealthHandler(backend string, sources *provider.Registry) *HealthHandler {
	return &HealthHandler{backend: backend, sources: sources, started: time.Now()}
}

// Health always answers 200 while the process serves requests. Unhealthy
// sources are reported as "degraded".
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	status := "healthy"
	checks := map[string]provider.HealthStatus{}
	if h.sources != nil {
		for _, name := range h.sources.Names() {
			src, _ := h.sources.Get(name)
			hs := src.Health(r.Context())
			if !hs.Healthy {
				status = "degraded"
			}
			checks[name] = hs
		}
	}
	WriteJSON(w, http.StatusOK, map[string]any{
		"status":  status,
		"backend": h.backend,
		"uptime":  time.Since(h.started).Round(time.Second).String(),
		"sources": checks,
	})
}
