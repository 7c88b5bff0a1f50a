package api

import (
	"net/http"

	"github.com/af-corp/kinsafe/internal/httputil"
)

// Health handles GET /health. Open circuits degrade the status but never
// fail the health check: the heuristic still answers.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := "healthy"
	var backends map[string]string
	if h.Backends != nil {
		backends = h.Backends.States()
		for _, s := range backends {
			if s != "closed" {
				status = "degraded"
				break
			}
		}
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{
		"status":   status,
		"version":  h.Version,
		"backends": backends,
	})
}
