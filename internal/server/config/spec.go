package config

import "time"

// ServerConfig is the root configuration for weft-server.
type ServerConfig struct {
	Server ServerSection `koanf:"server"`
	TLS    TLSSection    `koanf:"tls"`
	Client ClientSection `koanf:"client"`
	Limits LimitsSection `koanf:"limits"`
	Log    LogSection    `koanf:"log"`
	Admin  AdminSection  `koanf:"admin"`
	CORS   CORSSection   `koanf:"cors"`
}

// ServerSection configures the worker pool and its listeners.
type ServerSection struct {
	Listeners []ListenerConfig `koanf:"listeners"`

	// Workers is the number of connection slots shared by all listeners.
	Workers int `koanf:"workers"`

	ReadHeaderTimeout time.Duration `koanf:"read_header_timeout"`
	ReadTimeout       time.Duration `koanf:"read_timeout"`
	WriteTimeout      time.Duration `koanf:"write_timeout"`
	IdleTimeout       time.Duration `koanf:"idle_timeout"`

	MaxHeaderBytes  int64 `koanf:"max_header_bytes"`
	MaxDiscardBytes int64 `koanf:"max_discard_bytes"`

	// ShutdownTimeout bounds the graceful drain of live sessions.
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

// ListenerConfig describes one endpoint.
type ListenerConfig struct {
	Name string `koanf:"name"`
	// Network is "tcp" or "unix".
	Network string `koanf:"network"`
	Addr    string `koanf:"addr"`
	// TLS serves the endpoint with the certificate from the tls section.
	TLS bool `koanf:"tls"`
	// Admin serves the admin router (metrics, status) instead of the app.
	Admin     bool `koanf:"admin"`
	ReusePort bool `koanf:"reuse_port"`
	// Accepts is the number of accepts kept outstanding.
	Accepts int `koanf:"accepts"`
}

// TLSSection configures the server certificate.
type TLSSection struct {
	CertFile string `koanf:"cert_file"`
	KeyFile  string `koanf:"key_file"`
	// ClientCAFile enables client certificate verification when set.
	ClientCAFile string `koanf:"client_ca_file"`
}

// ClientSection configures outbound connections made by the CLI.
type ClientSection struct {
	ContinueTimeout time.Duration `koanf:"continue_timeout"`
}

// LimitsSection configures per-request and per-client limits.
type LimitsSection struct {
	// RateLimit is the per-client request rate in requests per second.
	// Zero disables rate limiting.
	RateLimit float64 `koanf:"rate_limit"`
	Burst     int     `koanf:"burst"`
	// BackgroundTasks is the capacity of each connection's task group.
	BackgroundTasks int   `koanf:"background_tasks"`
	MaxEchoBytes    int64 `koanf:"max_echo_bytes"`
	// TrustedProxies holds IPs or CIDRs whose X-Forwarded-For and X-Real-IP
	// headers name the client. Empty trusts only the peer address.
	TrustedProxies []string `koanf:"trusted_proxies"`
}

// LogSection configures logging.
type LogSection struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// AdminSection configures the admin endpoints.
type AdminSection struct {
	// AllowList holds IPs or CIDRs allowed to reach admin listeners.
	// Empty allows everyone.
	AllowList []string `koanf:"allow_list"`
}

// CORSSection configures cross-origin access to application routes.
type CORSSection struct {
	AllowedOrigins []string `koanf:"allowed_origins"`
}

// AppListeners returns the listeners serving application routes.
func (c *ServerConfig) AppListeners() []ListenerConfig {
	return c.filterListeners(false)
}

// AdminListeners returns the listeners serving the admin router.
func (c *ServerConfig) AdminListeners() []ListenerConfig {
	return c.filterListeners(true)
}

func (c *ServerConfig) filterListeners(admin bool) []ListenerConfig {
	var out []ListenerConfig
	for _, l := range c.Server.Listeners {
		if l.Admin == admin {
			out = append(out, l)
		}
	}
	return out
}
