package httpserver

import (
	"crypto/rand"
	"log/slog"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/oklog/ulid/v2"
	"golang.org/x/time/rate"

	"github.com/yndnr/weft-go/internal/core/router"
	"github.com/yndnr/weft-go/pkg/cmap"
)

// HeaderRequestID carries the request id in both directions.
const HeaderRequestID = "X-Request-ID"

// requestInfo is stored on the router context by RequestID.
type requestInfo struct {
	id    string
	start time.Time
}

// RequestID assigns every request an id (the caller's X-Request-ID when
// present, "req-<ulid>" otherwise), echoes it in the response and tags the
// cycle's logger with it.
func RequestID() router.Stage {
	return router.StageFunc(func(c *router.Context) (router.Result, error) {
		requestID := c.Request.Header.Get(HeaderRequestID)
		if requestID == "" {
			requestID = newRequestID()
		}

		c.Response.Header().Set(HeaderRequestID, requestID)
		router.Store(c, requestInfo{id: requestID, start: time.Now()})
		c.SetLogger(c.Logger().With("request_id", requestID))
		return router.Next, nil
	})
}

func newRequestID() string {
	id, err := ulid.New(ulid.Timestamp(time.Now()), rand.Reader)
	if err != nil {
		return "req-unknown"
	}
	return "req-" + strings.ToLower(id.String())
}

// GetRequestID returns the id assigned by RequestID, or "".
func GetRequestID(c *router.Context) string {
	info, _ := router.Load[requestInfo](c)
	return info.id
}

// RateLimitConfig configures per-client token buckets.
type RateLimitConfig struct {
	// Rate is the sustained number of requests per second per client.
	Rate float64
	// Burst is the bucket size. Zero means max(1, Rate).
	Burst int
	// IdleTTL evicts buckets not used for this long. Zero keeps them.
	IdleTTL time.Duration
	// OnReject is told the route of every rejected request.
	OnReject func(route string)
	// ClientIP keys the buckets. Nil keys on the peer address.
	ClientIP *ClientIPResolver
}

type limiterEntry struct {
	lim      *rate.Limiter
	lastSeen atomic.Int64
}

// RateLimiter keeps one token bucket per client IP.
type RateLimiter struct {
	cfg      RateLimitConfig
	limiters *cmap.Map[*limiterEntry]
}

// NewRateLimiter creates a limiter registry for cfg.
func NewRateLimiter(cfg RateLimitConfig) *RateLimiter {
	if cfg.Burst <= 0 {
		cfg.Burst = int(math.Max(1, math.Ceil(cfg.Rate)))
	}
	return &RateLimiter{cfg: cfg, limiters: cmap.New[*limiterEntry]()}
}

// Stage rejects requests over the client's budget with 429 and Retry-After.
func (rl *RateLimiter) Stage() router.Stage {
	return router.StageFunc(func(c *router.Context) (router.Result, error) {
		now := time.Now()
		e := rl.limiters.GetOrCompute(rl.cfg.ClientIP.Resolve(c), func() *limiterEntry {
			return &limiterEntry{lim: rate.NewLimiter(rate.Limit(rl.cfg.Rate), rl.cfg.Burst)}
		})
		e.lastSeen.Store(now.UnixNano())

		r := e.lim.ReserveN(now, 1)
		if r.OK() && r.DelayFrom(now) == 0 {
			return router.Next, nil
		}
		retry := 1
		if r.OK() {
			retry = int(math.Ceil(r.DelayFrom(now).Seconds()))
			r.CancelAt(now)
		}
		if rl.cfg.OnReject != nil {
			rl.cfg.OnReject(routeLabel(c))
		}
		c.Response.Header().Set("Retry-After", strconv.Itoa(retry))
		return writeError(c, http.StatusTooManyRequests, "WEFT-SYS-4290", "too many requests")
	})
}

// Sweep drops buckets idle for longer than IdleTTL and reports how many.
func (rl *RateLimiter) Sweep(now time.Time) int {
	if rl.cfg.IdleTTL <= 0 {
		return 0
	}
	cutoff := now.Add(-rl.cfg.IdleTTL).UnixNano()
	return rl.limiters.DeleteIf(func(_ string, e *limiterEntry) bool {
		return e.lastSeen.Load() < cutoff
	})
}

// Clients returns the number of tracked clients.
func (rl *RateLimiter) Clients() int {
	return rl.limiters.Count()
}

// Audit logs every exchange once it has been dispatched.
func Audit(logger *slog.Logger, clientIP *ClientIPResolver) router.Stage {
	return router.StageFunc(func(c *router.Context) (router.Result, error) {
		start := time.Now()
		if info, ok := router.Load[requestInfo](c); ok {
			start = info.start
		}
		c.Defer(func(c *router.Context) {
			status := c.Response.Status()
			attrs := []any{
				"request_id", GetRequestID(c),
				"method", c.Request.Method,
				"path", c.Request.Path,
				"status", status,
				"duration_ms", time.Since(start).Milliseconds(),
				"client_ip", clientIP.Resolve(c),
			}

			switch {
			case status >= 500:
				logger.Error("request completed with error", attrs...)
			case status >= 400:
				logger.Warn("request completed with client error", attrs...)
			default:
				logger.Info("request completed", attrs...)
			}
		})
		return router.Next, nil
	})
}

// NetworkACLConfig holds configuration for the network ACL stage.
type NetworkACLConfig struct {
	// AllowList is the list of allowed IP/CIDR entries.
	// Empty list means no restriction.
	AllowList []string

	// Logger for logging denied requests.
	Logger *slog.Logger
}

// NetworkACL rejects peers outside the allowlist with 403. Only the socket
// address counts; forwarding headers are ignored.
func NetworkACL(cfg *NetworkACLConfig) router.Stage {
	allowed := newIPSet("allowlist", cfg.AllowList, cfg.Logger)

	return router.StageFunc(func(c *router.Context) (router.Result, error) {
		if allowed.empty() {
			return router.Next, nil
		}

		peer := hostOnly(c.Request.RemoteAddr)
		ip := net.ParseIP(peer)
		if ip == nil {
			return writeError(c, http.StatusForbidden, "WEFT-ADMIN-4031", "invalid client IP")
		}
		if allowed.contains(ip) {
			return router.Next, nil
		}

		if cfg.Logger != nil {
			cfg.Logger.Warn("request denied by network ACL",
				"client_ip", peer,
				"path", c.Request.Path,
			)
		}
		return writeError(c, http.StatusForbidden, "WEFT-ADMIN-4031", "IP not in allowlist")
	})
}

// ipSet matches addresses against single IPs and CIDR networks.
type ipSet struct {
	networks  []*net.IPNet
	singleIPs []net.IP
}

// newIPSet parses entries, logging and skipping invalid ones.
func newIPSet(what string, entries []string, logger *slog.Logger) ipSet {
	var s ipSet
	for _, entry := range entries {
		if strings.Contains(entry, "/") {
			_, ipNet, err := net.ParseCIDR(entry)
			if err != nil {
				if logger != nil {
					logger.Warn("invalid CIDR in "+what, "entry", entry, "error", err)
				}
				continue
			}
			s.networks = append(s.networks, ipNet)
		} else {
			ip := net.ParseIP(entry)
			if ip == nil {
				if logger != nil {
					logger.Warn("invalid IP in "+what, "entry", entry)
				}
				continue
			}
			s.singleIPs = append(s.singleIPs, ip)
		}
	}
	return s
}

func (s ipSet) empty() bool {
	return len(s.networks) == 0 && len(s.singleIPs) == 0
}

func (s ipSet) contains(ip net.IP) bool {
	if ip == nil {
		return false
	}
	for _, allowed := range s.singleIPs {
		if allowed.Equal(ip) {
			return true
		}
	}
	for _, network := range s.networks {
		if network.Contains(ip) {
			return true
		}
	}
	return false
}

// CORS adds Cross-Origin Resource Sharing headers and answers preflight
// requests with 204.
func CORS(allowedOrigins []string) router.Stage {
	return router.StageFunc(func(c *router.Context) (router.Result, error) {
		origin := c.Request.Header.Get("Origin")

		allowed := len(allowedOrigins) == 0 // Empty means allow all
		for _, o := range allowedOrigins {
			if o == "*" || o == origin {
				allowed = true
				break
			}
		}

		if allowed && origin != "" {
			h := c.Response.Header()
			h.Set("Access-Control-Allow-Origin", origin)
			h.Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			h.Set("Access-Control-Allow-Headers", "Content-Type, Expect, X-Request-ID, Authorization")
			h.Set("Access-Control-Max-Age", "86400")
			h.Add("Vary", "Origin")
		}

		if c.Request.Method == http.MethodOptions {
			c.Response.WriteHeader(http.StatusNoContent)
			return router.Send, nil
		}
		return router.Next, nil
	})
}

// errorBody is the JSON body of every error produced by a stage.
type errorBody struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	RequestID string `json:"request_id,omitempty"`
}

// writeError writes an error response and returns Send.
func writeError(c *router.Context, status int, code, message string) (router.Result, error) {
	c.Response.Header().Set("X-Error-Code", code)
	c.Response.ResetBody()
	return c.JSON(status, errorBody{Code: code, Message: message, RequestID: GetRequestID(c)})
}

// ClientIPResolver attributes a request to a client address. Forwarding
// headers count only when the peer is a trusted proxy.
type ClientIPResolver struct {
	trusted ipSet
}

// NewClientIPResolver trusts the proxies listed as IPs or CIDRs.
func NewClientIPResolver(trustedProxies []string, logger *slog.Logger) *ClientIPResolver {
	return &ClientIPResolver{trusted: newIPSet("trusted proxies", trustedProxies, logger)}
}

// Resolve returns the client address of c. A nil resolver trusts no proxy.
// X-Forwarded-For is walked from the right, skipping trusted hops.
func (r *ClientIPResolver) Resolve(c *router.Context) string {
	peer := hostOnly(c.Request.RemoteAddr)
	if r == nil || !r.trusted.contains(net.ParseIP(peer)) {
		return peer
	}
	if xff := c.Request.Header.Get("X-Forwarded-For"); xff != "" {
		hops := strings.Split(xff, ",")
		for i := len(hops) - 1; i >= 0; i-- {
			hop := strings.TrimSpace(hops[i])
			ip := net.ParseIP(hop)
			if ip == nil {
				break
			}
			if i == 0 || !r.trusted.contains(ip) {
				return hop
			}
		}
		return peer
	}
	if xri := strings.TrimSpace(c.Request.Header.Get("X-Real-IP")); net.ParseIP(xri) != nil {
		return xri
	}
	return peer
}

// routeLabel names the matched route for metrics without leaking raw paths.
func routeLabel(c *router.Context) string {
	if r := c.Route(); r != "" {
		return r
	}
	return "unmatched"
}

// hostOnly strips the port; [::1]:8080 yields ::1.
func hostOnly(addr string) string {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	return host
}
