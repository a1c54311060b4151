package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
)

// ErrNoListeners is returned when the configuration declares no endpoint.
var ErrNoListeners = errors.New("config: server.listeners must not be empty")

// Verify validates the configuration.
func Verify(cfg *ServerConfig) error {
	if err := verifyServer(&cfg.Server); err != nil {
		return err
	}
	if err := verifyTLS(cfg); err != nil {
		return err
	}
	if err := verifyLimits(&cfg.Limits); err != nil {
		return err
	}
	if err := verifyLog(&cfg.Log); err != nil {
		return err
	}
	for _, entry := range cfg.Admin.AllowList {
		if !validACLEntry(entry) {
			return fmt.Errorf("admin.allow_list: invalid IP or CIDR %q", entry)
		}
	}
	for _, entry := range cfg.Limits.TrustedProxies {
		if !validACLEntry(entry) {
			return fmt.Errorf("limits.trusted_proxies: invalid IP or CIDR %q", entry)
		}
	}
	if cfg.Client.ContinueTimeout < 0 {
		return errors.New("client.continue_timeout must not be negative")
	}
	return nil
}

func verifyServer(cfg *ServerSection) error {
	if len(cfg.Listeners) == 0 {
		return ErrNoListeners
	}
	names := make(map[string]struct{}, len(cfg.Listeners))
	for i, l := range cfg.Listeners {
		if l.Name == "" {
			return fmt.Errorf("server.listeners[%d]: name is required", i)
		}
		if _, dup := names[l.Name]; dup {
			return fmt.Errorf("server.listeners[%d]: duplicate name %q", i, l.Name)
		}
		names[l.Name] = struct{}{}

		switch l.Network {
		case "", "tcp", "tcp4", "tcp6":
			if _, _, err := net.SplitHostPort(l.Addr); err != nil {
				return fmt.Errorf("server.listeners[%d] (%s): invalid address %q: %w", i, l.Name, l.Addr, err)
			}
		case "unix":
			if l.Addr == "" {
				return fmt.Errorf("server.listeners[%d] (%s): socket path is required", i, l.Name)
			}
			if l.ReusePort {
				return fmt.Errorf("server.listeners[%d] (%s): reuse_port requires tcp", i, l.Name)
			}
		default:
			return fmt.Errorf("server.listeners[%d] (%s): unsupported network %q", i, l.Name, l.Network)
		}
		if l.Accepts < 0 {
			return fmt.Errorf("server.listeners[%d] (%s): accepts must not be negative", i, l.Name)
		}
	}

	if cfg.Workers < 1 {
		return errors.New("server.workers must be at least 1")
	}
	if cfg.ReadHeaderTimeout < 0 || cfg.ReadTimeout < 0 || cfg.WriteTimeout < 0 ||
		cfg.IdleTimeout < 0 || cfg.ShutdownTimeout < 0 {
		return errors.New("server timeouts must not be negative")
	}
	if cfg.MaxHeaderBytes < 1 {
		return errors.New("server.max_header_bytes must be positive")
	}
	if cfg.MaxDiscardBytes < 0 {
		return errors.New("server.max_discard_bytes must not be negative")
	}
	return nil
}

func verifyTLS(cfg *ServerConfig) error {
	needed := false
	for _, l := range cfg.Server.Listeners {
		needed = needed || l.TLS
	}
	t := &cfg.TLS
	if !needed && t.CertFile == "" && t.KeyFile == "" {
		return nil
	}
	if t.CertFile == "" || t.KeyFile == "" {
		return errors.New("tls.cert_file and tls.key_file must be set together")
	}
	for _, f := range []string{t.CertFile, t.KeyFile, t.ClientCAFile} {
		if f == "" {
			continue
		}
		if _, err := os.Stat(f); err != nil {
			return fmt.Errorf("tls: %w", err)
		}
	}
	return nil
}

func verifyLimits(cfg *LimitsSection) error {
	if cfg.RateLimit < 0 {
		return errors.New("limits.rate_limit must not be negative")
	}
	if cfg.RateLimit > 0 && cfg.Burst < 1 {
		return errors.New("limits.burst must be at least 1 when rate limiting")
	}
	if cfg.BackgroundTasks < 0 {
		return errors.New("limits.background_tasks must not be negative")
	}
	if cfg.MaxEchoBytes < 0 {
		return errors.New("limits.max_echo_bytes must not be negative")
	}
	return nil
}

func verifyLog(cfg *LogSection) error {
	switch strings.ToLower(cfg.Level) {
	case "", "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("log.level: unknown level %q", cfg.Level)
	}
	switch strings.ToLower(cfg.Format) {
	case "", "json", "text":
	default:
		return fmt.Errorf("log.format: unknown format %q", cfg.Format)
	}
	return nil
}

func validACLEntry(entry string) bool {
	if strings.Contains(entry, "/") {
		_, _, err := net.ParseCIDR(entry)
		return err == nil
	}
	return net.ParseIP(entry) != nil
}
