package httpserver

import (
	"log/slog"

	"github.com/yndnr/weft-go/internal/core/router"
	"github.com/yndnr/weft-go/internal/server/httpserver/handler"
)

// RouterConfig holds configuration for the routers.
type RouterConfig struct {
	// Handler provides the route stages.
	Handler *handler.Handler

	// Logger for audit and ACL logging.
	Logger *slog.Logger

	// ClientIP attributes requests to clients for audit logging.
	ClientIP *ClientIPResolver

	// RateLimiter limits application requests per client. Nil disables.
	RateLimiter *RateLimiter

	// AdminAllowList is the IP/CIDR allowlist for admin routes (empty = no restriction).
	AdminAllowList []string

	// CORSAllowedOrigins is the list of allowed CORS origins (empty = no CORS headers).
	CORSAllowedOrigins []string

	// EnableAudit logs every completed exchange.
	EnableAudit bool
}

// NewRouter builds the application router.
// Order: RequestID -> Audit -> CORS -> RateLimit -> route.
func NewRouter(cfg *RouterConfig) *router.Router {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	r := router.New()
	r.Use(RequestID())
	if cfg.EnableAudit {
		r.Use(Audit(logger, cfg.ClientIP))
	}
	if len(cfg.CORSAllowedOrigins) > 0 {
		r.Use(CORS(cfg.CORSAllowedOrigins))
	}
	if cfg.RateLimiter != nil {
		r.Use(cfg.RateLimiter.Stage())
	}
	cfg.Handler.Register(r)
	return r
}

// NewAdminRouter builds the router for admin listeners.
// Order: RequestID -> NetworkACL -> Audit -> route.
func NewAdminRouter(cfg *RouterConfig) *router.Router {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	r := router.New()
	r.Use(RequestID())
	if len(cfg.AdminAllowList) > 0 {
		r.Use(NetworkACL(&NetworkACLConfig{
			AllowList: cfg.AdminAllowList,
			Logger:    logger,
		}))
	}
	if cfg.EnableAudit {
		r.Use(Audit(logger, cfg.ClientIP))
	}
	cfg.Handler.RegisterAdmin(r)
	return r
}
