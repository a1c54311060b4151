package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/yndnr/weft-go/internal/core/router"
	"github.com/yndnr/weft-go/internal/server/workerpool"
)

// StatsSource reports worker pool occupancy.
type StatsSource interface {
	Stats() workerpool.Stats
}

// Config holds the collaborators of a Handler.
type Config struct {
	Logger *slog.Logger

	// Stats feeds /ready and /admin/status. Nil reports an empty pool.
	Stats StatsSource

	// Metrics serves /metrics on the admin router. Nil leaves the route out.
	Metrics http.Handler

	// SlowDelay is how long GET /slow works in the background.
	SlowDelay time.Duration

	// MaxEchoBytes caps the body POST /echo reads.
	MaxEchoBytes int64
}

// Handler owns the stages behind every route.
type Handler struct {
	cfg     Config
	logger  *slog.Logger
	started time.Time
}

// New creates a Handler.
func New(cfg Config) *Handler {
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.DiscardHandler)
	}
	if cfg.SlowDelay <= 0 {
		cfg.SlowDelay = 200 * time.Millisecond
	}
	if cfg.MaxEchoBytes <= 0 {
		cfg.MaxEchoBytes = 1 << 20
	}
	return &Handler{cfg: cfg, logger: cfg.Logger, started: time.Now()}
}

// Register adds the application and health routes to r.
func (h *Handler) Register(r *router.Router) {
	r.GET("/health", router.StageFunc(h.handleHealth))
	r.GET("/ready", router.StageFunc(h.handleReady))

	r.GET("/", router.StageFunc(h.handleRoot))
	r.POST("/echo", router.StageFunc(h.handleEcho))
	r.PUT("/echo", router.StageFunc(h.handleEcho))
	r.GET("/hello/:name?", router.StageFunc(h.handleHello))
	r.GET("/static/*path", router.StageFunc(h.handleStatic))
	r.GET("/slow", router.StageFunc(h.handleSlow))
}

// RegisterAdmin adds the admin routes to r.
func (h *Handler) RegisterAdmin(r *router.Router) {
	r.GET("/health", router.StageFunc(h.handleHealth))
	r.GET("/admin/status", router.StageFunc(h.handleAdminStatus))
	if h.cfg.Metrics != nil {
		r.GET("/metrics", router.HTTPHandler(h.cfg.Metrics))
	}
}

func (h *Handler) stats() workerpool.Stats {
	if h.cfg.Stats == nil {
		return workerpool.Stats{}
	}
	return h.cfg.Stats.Stats()
}

// writeJSON writes data in the standard envelope.
func (h *Handler) writeJSON(c *router.Context, status int, data any) (router.Result, error) {
	return c.JSON(status, NewResponse(getRequestID(c), data))
}

// writeError writes an error in the standard envelope.
func (h *Handler) writeError(c *router.Context, status int, code, message string, details any) (router.Result, error) {
	c.Response.Header().Set("X-Error-Code", code)
	return c.JSON(status, NewErrorResponse(getRequestID(c), code, message, details))
}

// getRequestID returns the id the request id stage put on the response,
// falling back to the caller's header.
func getRequestID(c *router.Context) string {
	if id := c.Response.Header().Get("X-Request-ID"); id != "" {
		return id
	}
	return c.Request.Header.Get("X-Request-ID")
}
