package handler

import (
	"net/http"
	"time"

	"github.com/yndnr/weft-go/internal/core/router"
)

// handleHealth handles GET /health.
func (h *Handler) handleHealth(c *router.Context) (router.Result, error) {
	return h.writeJSON(c, http.StatusOK, map[string]string{
		"status": "healthy",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

// handleReady handles GET /ready. The server is ready once at least one
// acceptor is accepting.
func (h *Handler) handleReady(c *router.Context) (router.Result, error) {
	s := h.stats()
	if s.Acceptors == 0 {
		return h.writeError(c, http.StatusServiceUnavailable, "WEFT-SYS-5030", "no active acceptors", nil)
	}
	return h.writeJSON(c, http.StatusOK, map[string]string{
		"status": "ready",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}
