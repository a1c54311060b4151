package workerpool

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io/fs"
	"net"
	"os"
	"time"

	"github.com/yndnr/weft-go/internal/core/router"
)

// AcceptorConfig describes one listening endpoint.
type AcceptorConfig struct {
	// Name labels the acceptor in logs and metrics.
	Name string
	// Network is "tcp" (default) or "unix".
	Network string
	Addr    string
	// TLS enables TLS on accepted connections when set.
	TLS *tls.Config
	// Admin marks the endpoint as serving the admin router.
	Admin bool
	// Accepts is the number of accepts kept outstanding (default 1).
	Accepts int
	// ReusePort sets SO_REUSEPORT on the listening socket (Linux only).
	ReusePort bool
}

type acceptor struct {
	ln     net.Listener
	cfg    AcceptorConfig
	router *router.Router

	// Owned by the event loop.
	need         int
	retired      bool
	delay        time.Duration
	backoffUntil time.Time
}

func newAcceptor(ln net.Listener, cfg AcceptorConfig, r *router.Router) *acceptor {
	if cfg.Accepts < 1 {
		cfg.Accepts = 1
	}
	if cfg.Name == "" {
		cfg.Name = ln.Addr().String()
	}
	return &acceptor{ln: ln, cfg: cfg, router: r, need: cfg.Accepts}
}

func (a *acceptor) backoff(max time.Duration) {
	if max <= 0 {
		max = time.Second
	}
	if a.delay == 0 {
		a.delay = 5 * time.Millisecond
	} else {
		a.delay *= 2
	}
	if a.delay > max {
		a.delay = max
	}
	a.backoffUntil = time.Now().Add(a.delay)
}

// Listen opens the listening socket described by cfg.
func Listen(ctx context.Context, cfg AcceptorConfig) (net.Listener, error) {
	network := cfg.Network
	if network == "" {
		network = "tcp"
	}

	var lc net.ListenConfig
	switch network {
	case "tcp", "tcp4", "tcp6":
		if cfg.ReusePort {
			lc.Control = reusePortControl
		}
	case "unix":
		// A socket file left by a previous run blocks bind.
		if fi, err := os.Lstat(cfg.Addr); err == nil && fi.Mode().Type() == fs.ModeSocket {
			if err := os.Remove(cfg.Addr); err != nil {
				return nil, fmt.Errorf("remove stale socket %s: %w", cfg.Addr, err)
			}
		} else if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("stat socket %s: %w", cfg.Addr, err)
		}
	default:
		return nil, fmt.Errorf("workerpool: unsupported network %q", network)
	}

	ln, err := lc.Listen(ctx, network, cfg.Addr)
	if err != nil {
		return nil, fmt.Errorf("listen %s %s: %w", network, cfg.Addr, err)
	}
	return ln, nil
}
