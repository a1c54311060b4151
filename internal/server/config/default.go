package config

import "time"

// Default configuration values.
const (
	DefaultHTTPAddr  = "127.0.0.1:5080"
	DefaultAdminAddr = "127.0.0.1:5090"

	DefaultWorkers           = 64
	DefaultReadHeaderTimeout = 10 * time.Second
	DefaultReadTimeout       = 30 * time.Second
	DefaultWriteTimeout      = 30 * time.Second
	DefaultIdleTimeout       = 2 * time.Minute
	DefaultMaxHeaderBytes    = 1 << 20
	DefaultMaxDiscardBytes   = 256 << 10
	DefaultShutdownTimeout   = 15 * time.Second

	DefaultContinueTimeout = time.Second

	DefaultBurst           = 20
	DefaultBackgroundTasks = 4
	DefaultMaxEchoBytes    = 1 << 20

	DefaultLogLevel  = "info"
	DefaultLogFormat = "json"
)

// Default returns the default server configuration.
func Default() *ServerConfig {
	return &ServerConfig{
		Server: ServerSection{
			Listeners: []ListenerConfig{
				{Name: "http", Network: "tcp", Addr: DefaultHTTPAddr},
				{Name: "admin", Network: "tcp", Addr: DefaultAdminAddr, Admin: true},
			},
			Workers:           DefaultWorkers,
			ReadHeaderTimeout: DefaultReadHeaderTimeout,
			ReadTimeout:       DefaultReadTimeout,
			WriteTimeout:      DefaultWriteTimeout,
			IdleTimeout:       DefaultIdleTimeout,
			MaxHeaderBytes:    DefaultMaxHeaderBytes,
			MaxDiscardBytes:   DefaultMaxDiscardBytes,
			ShutdownTimeout:   DefaultShutdownTimeout,
		},
		Client: ClientSection{
			ContinueTimeout: DefaultContinueTimeout,
		},
		Limits: LimitsSection{
			Burst:           DefaultBurst,
			BackgroundTasks: DefaultBackgroundTasks,
			MaxEchoBytes:    DefaultMaxEchoBytes,
		},
		Log: LogSection{
			Level:  DefaultLogLevel,
			Format: DefaultLogFormat,
		},
		Admin: AdminSection{
			AllowList: []string{"127.0.0.1/32", "::1/128"},
		},
	}
}
