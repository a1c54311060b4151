package main

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/urfave/cli/v2"

	"github.com/yndnr/weft-go/internal/infra/buildinfo"
	"github.com/yndnr/weft-go/internal/infra/confloader"
	"github.com/yndnr/weft-go/internal/infra/shutdown"
	"github.com/yndnr/weft-go/internal/infra/tlsroots"
	"github.com/yndnr/weft-go/internal/server/config"
	"github.com/yndnr/weft-go/internal/server/httpserver"
	"github.com/yndnr/weft-go/internal/telemetry/logger"
	"github.com/yndnr/weft-go/internal/telemetry/metric"
)

func main() {
	if err := app().Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func app() *cli.App {
	return &cli.App{
		Name:    "weft-server",
		Usage:   "Serve HTTP/1.1 from a fixed worker pool",
		Version: buildinfo.String(),
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "path to configuration file",
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "override log.level (debug, info, warn, error)",
			},
			&cli.StringFlag{
				Name:  "log-format",
				Usage: "override log.format (json, text)",
			},
			&cli.IntFlag{
				Name:  "workers",
				Usage: "override server.workers",
			},
			&cli.Float64Flag{
				Name:  "rate-limit",
				Usage: "override limits.rate_limit (requests per second per client, 0 disables)",
			},
			&cli.BoolFlag{
				Name:  "audit",
				Usage: "log every completed request",
			},
		},
		Action: run,
	}
}

func run(c *cli.Context) error {
	configFile := c.String("config")
	overrides := flagOverrides(c)

	cfg, err := loadConfig(configFile, overrides)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	root, err := logger.New(logger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: os.Stdout,
	})
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	log := root.Logger

	info := buildinfo.Get()
	log.Info("starting weft-server",
		"version", info.Version,
		"commit", info.Commit,
		"config", configFile)
	log.Debug("effective configuration", "config", config.Sanitize(cfg))

	watcher, err := confloader.NewWatcher(confloader.WithWatcherLogger(log))
	if err != nil {
		return fmt.Errorf("init watcher: %w", err)
	}

	tlsConfig, err := initTLS(cfg, watcher, log)
	if err != nil {
		return fmt.Errorf("init tls: %w", err)
	}

	if configFile != "" {
		if err := watchConfig(watcher, configFile, overrides, root); err != nil {
			return fmt.Errorf("watch config: %w", err)
		}
	}
	watcher.StartAsync()

	srv, err := httpserver.New(httpserver.Options{
		Config:      cfg,
		Logger:      log,
		Metrics:     metric.NewRegistry(),
		TLS:         tlsConfig,
		EnableAudit: c.Bool("audit"),
	})
	if err != nil {
		_ = watcher.Stop()
		return fmt.Errorf("create server: %w", err)
	}

	shutdownHandler := shutdown.NewHandler(cfg.Server.ShutdownTimeout, log)

	// Hooks run in reverse order: the server drains before the watcher stops.
	shutdownHandler.OnShutdown("watcher", func(context.Context) error {
		return watcher.Stop()
	})
	shutdownHandler.OnShutdown("server", srv.Shutdown)

	if err := srv.Start(c.Context); err != nil {
		_ = watcher.Stop()
		return fmt.Errorf("start server: %w", err)
	}
	for _, addr := range srv.Addrs() {
		log.Info("listening", "addr", addr.String())
	}

	// A pool that stops by itself still runs the hooks.
	go func() {
		<-srv.Done()
		shutdownHandler.Trigger()
	}()

	log.Info("server started, press Ctrl+C to stop")
	if err := shutdownHandler.Wait(c.Context); err != nil {
		log.Error("shutdown error", "error", err)
		return err
	}

	log.Info("server stopped gracefully")
	return nil
}

// flagOverrides maps the flags that were set onto configuration keys.
func flagOverrides(c *cli.Context) map[string]any {
	overrides := make(map[string]any)
	if c.IsSet("log-level") {
		overrides["log.level"] = c.String("log-level")
	}
	if c.IsSet("log-format") {
		overrides["log.format"] = c.String("log-format")
	}
	if c.IsSet("workers") {
		overrides["server.workers"] = c.Int("workers")
	}
	if c.IsSet("rate-limit") {
		overrides["limits.rate_limit"] = c.Float64("rate-limit")
	}
	return overrides
}

// loadConfig loads configuration from file, environment and flags.
func loadConfig(configFile string, overrides map[string]any) (*config.ServerConfig, error) {
	cfg := config.Default()

	opts := []confloader.Option{confloader.WithOverrides(overrides)}
	if configFile != "" {
		opts = append(opts, confloader.WithConfigFile(configFile))
	}
	if err := confloader.NewLoader(opts...).Load(cfg); err != nil {
		return nil, err
	}

	if err := config.Verify(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// initTLS loads the certificate when any listener serves TLS and keeps it
// fresh through watcher.
func initTLS(cfg *config.ServerConfig, watcher *confloader.Watcher, log *slog.Logger) (*tls.Config, error) {
	needsTLS := false
	for _, l := range cfg.Server.Listeners {
		needsTLS = needsTLS || l.TLS
	}
	if !needsTLS {
		return nil, nil
	}

	reloader, err := tlsroots.NewReloader(cfg.TLS.CertFile, cfg.TLS.KeyFile, tlsroots.WithLogger(log))
	if err != nil {
		return nil, err
	}
	if err := reloader.Watch(watcher); err != nil {
		return nil, err
	}

	var clientCAs *tlsroots.Pool
	if cfg.TLS.ClientCAFile != "" {
		clientCAs = tlsroots.NewEmptyPool()
		if err := clientCAs.AddCertFile(cfg.TLS.ClientCAFile); err != nil {
			return nil, fmt.Errorf("load client ca: %w", err)
		}
	}

	log.Info("tls enabled",
		"cert_file", cfg.TLS.CertFile,
		"not_after", reloader.NotAfter(),
		"client_auth", clientCAs != nil)
	return tlsroots.ServerConfig(reloader, clientCAs), nil
}

// watchConfig re-applies the log level whenever the configuration file
// changes. Other settings need a restart.
func watchConfig(w *confloader.Watcher, configFile string, overrides map[string]any, log *logger.Logger) error {
	if err := w.Watch(configFile); err != nil {
		return err
	}
	w.OnChange(func(path string) {
		if path != filepath.Clean(configFile) {
			return
		}
		cfg, err := loadConfig(configFile, overrides)
		if err != nil {
			log.Error("config reload failed, keeping current settings", "error", err)
			return
		}
		if level := cfg.Log.Level; level != log.Level() {
			log.SetLevel(level)
			log.Info("log level changed", "level", level)
		}
	})
	return nil
}
