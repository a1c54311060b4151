package httpserver

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/yndnr/weft-go/internal/core/router"
	"github.com/yndnr/weft-go/internal/server/config"
	"github.com/yndnr/weft-go/internal/server/httpserver/handler"
	"github.com/yndnr/weft-go/internal/server/workerpool"
	"github.com/yndnr/weft-go/internal/telemetry/metric"
)

// Rate limiter housekeeping.
const (
	limiterIdleTTL       = 10 * time.Minute
	limiterSweepInterval = time.Minute
)

// ErrTLSRequired is returned when a TLS listener has no TLS configuration.
var ErrTLSRequired = errors.New("httpserver: listener requires TLS but no certificate is configured")

// Options holds the collaborators of a Server.
type Options struct {
	Config *config.ServerConfig
	Logger *slog.Logger

	// Metrics receives pool activity and serves /metrics. Nil creates a
	// private registry.
	Metrics *metric.Registry

	// TLS is used by listeners with tls enabled.
	TLS *tls.Config

	// EnableAudit logs every completed exchange.
	EnableAudit bool
}

// Server runs the worker pool behind the application and admin routers.
type Server struct {
	cfg     *config.ServerConfig
	logger  *slog.Logger
	tls     *tls.Config
	pool    *workerpool.Pool
	metrics *metric.Registry
	limiter *RateLimiter

	rcfg *RouterConfig

	sweepStop chan struct{}
	stopOnce  sync.Once
}

// New creates a server for opts.Config. Listeners open in Start.
func New(opts Options) (*Server, error) {
	cfg := opts.Config
	if cfg == nil {
		cfg = config.Default()
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	metrics := opts.Metrics
	if metrics == nil {
		metrics = metric.NewRegistry()
	}

	pool, err := workerpool.New(config.ToPoolConfig(cfg), logger, workerpool.WithObserver(metrics))
	if err != nil {
		return nil, fmt.Errorf("create worker pool: %w", err)
	}

	s := &Server{
		cfg:       cfg,
		logger:    logger,
		tls:       opts.TLS,
		pool:      pool,
		metrics:   metrics,
		sweepStop: make(chan struct{}),
	}

	clientIP := NewClientIPResolver(cfg.Limits.TrustedProxies, logger)
	if cfg.Limits.RateLimit > 0 {
		s.limiter = NewRateLimiter(RateLimitConfig{
			ClientIP: clientIP,
			Rate:     cfg.Limits.RateLimit,
			Burst:    cfg.Limits.Burst,
			IdleTTL:  limiterIdleTTL,
			OnReject: metrics.IncRateLimited,
		})
	}

	h := handler.New(handler.Config{
		Logger:       logger,
		Stats:        pool,
		Metrics:      metrics.Handler(),
		MaxEchoBytes: cfg.Limits.MaxEchoBytes,
	})
	s.rcfg = &RouterConfig{
		Handler:            h,
		Logger:             logger,
		ClientIP:           clientIP,
		RateLimiter:        s.limiter,
		AdminAllowList:     cfg.Admin.AllowList,
		CORSAllowedOrigins: cfg.CORS.AllowedOrigins,
		EnableAudit:        opts.EnableAudit,
	}
	return s, nil
}

// Start opens every listener and starts serving. It does not block.
func (s *Server) Start(ctx context.Context) error {
	app := NewRouter(s.rcfg)
	admin := NewAdminRouter(s.rcfg)

	groups := []struct {
		listeners []config.ListenerConfig
		router    *router.Router
	}{
		{s.cfg.AppListeners(), app},
		{s.cfg.AdminListeners(), admin},
	}
	for _, g := range groups {
		for _, l := range g.listeners {
			acfg := config.ToAcceptorConfig(l)
			if l.TLS {
				if s.tls == nil {
					s.pool.Stop()
					return fmt.Errorf("%w (%s)", ErrTLSRequired, l.Name)
				}
				acfg.TLS = s.tls
			}
			if _, err := s.pool.Listen(ctx, acfg, g.router); err != nil {
				s.pool.Stop()
				return fmt.Errorf("listen %s (%s): %w", l.Name, l.Addr, err)
			}
		}
	}

	if err := s.pool.Start(ctx); err != nil {
		s.pool.Stop()
		return err
	}
	if s.limiter != nil {
		go s.sweepLoop()
	}
	return nil
}

// sweepLoop evicts idle rate limiter buckets until shutdown.
func (s *Server) sweepLoop() {
	ticker := time.NewTicker(limiterSweepInterval)
	defer ticker.Stop()
	for {
		select {
		case now := <-ticker.C:
			if n := s.limiter.Sweep(now); n > 0 {
				s.logger.Debug("rate limiter swept", "evicted", n, "clients", s.limiter.Clients())
			}
		case <-s.sweepStop:
			return
		case <-s.pool.Done():
			return
		}
	}
}

// Shutdown stops accepting, cancels live sessions and waits for the workers.
func (s *Server) Shutdown(ctx context.Context) error {
	s.stopOnce.Do(func() { close(s.sweepStop) })
	return s.pool.Shutdown(ctx)
}

// Done is closed once the pool stopped.
func (s *Server) Done() <-chan struct{} {
	return s.pool.Done()
}

// Addrs returns the bound addresses: application listeners first, then
// admin listeners, each in configuration order.
func (s *Server) Addrs() []net.Addr {
	return s.pool.Addrs()
}

// Stats returns the worker pool occupancy.
func (s *Server) Stats() workerpool.Stats {
	return s.pool.Stats()
}

// Metrics returns the registry the server reports to.
func (s *Server) Metrics() *metric.Registry {
	return s.metrics
}
