package config

import (
	"github.com/yndnr/weft-go/internal/server/workerpool"
)

// ToPoolConfig converts the server section to a worker pool configuration.
// Zero values fall back to the pool defaults.
func ToPoolConfig(cfg *ServerConfig) *workerpool.Config {
	pc := workerpool.DefaultConfig()
	s := &cfg.Server
	if s.Workers > 0 {
		pc.Workers = s.Workers
	}
	if s.ReadHeaderTimeout > 0 {
		pc.ReadHeaderTimeout = s.ReadHeaderTimeout
	}
	if s.ReadTimeout > 0 {
		pc.ReadTimeout = s.ReadTimeout
	}
	if s.WriteTimeout > 0 {
		pc.WriteTimeout = s.WriteTimeout
	}
	if s.IdleTimeout > 0 {
		pc.IdleTimeout = s.IdleTimeout
	}
	if s.MaxHeaderBytes > 0 {
		pc.MaxHeaderBytes = s.MaxHeaderBytes
	}
	if s.MaxDiscardBytes > 0 {
		pc.MaxDiscardBytes = s.MaxDiscardBytes
	}
	if cfg.Limits.BackgroundTasks > 0 {
		pc.BackgroundTasks = cfg.Limits.BackgroundTasks
	}
	return pc
}

// ToAcceptorConfig converts a listener entry. TLS is attached by the caller.
func ToAcceptorConfig(l ListenerConfig) workerpool.AcceptorConfig {
	network := l.Network
	if network == "" {
		network = "tcp"
	}
	return workerpool.AcceptorConfig{
		Name:      l.Name,
		Network:   network,
		Addr:      l.Addr,
		Admin:     l.Admin,
		Accepts:   l.Accepts,
		ReusePort: l.ReusePort,
	}
}
