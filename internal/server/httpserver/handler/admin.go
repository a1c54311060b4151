package handler

import (
	"net/http"
	"time"

	"github.com/yndnr/weft-go/internal/core/router"
	"github.com/yndnr/weft-go/internal/infra/buildinfo"
)

// handleAdminStatus handles GET /admin/status.
func (h *Handler) handleAdminStatus(c *router.Context) (router.Result, error) {
	return h.writeJSON(c, http.StatusOK, StatusResponse{
		Status:  "running",
		Uptime:  time.Since(h.started).Round(time.Second).String(),
		Build:   buildinfo.Get(),
		Pool:    h.stats(),
		Started: h.started.UTC(),
	})
}
