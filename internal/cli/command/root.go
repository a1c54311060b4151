package command

import (
	"fmt"
	"os"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/yndnr/weft-go/internal/cli/connection"
	"github.com/yndnr/weft-go/internal/cli/output"
	"github.com/yndnr/weft-go/internal/infra/buildinfo"
	"github.com/yndnr/weft-go/internal/infra/confloader"
	"github.com/yndnr/weft-go/internal/server/config"
)

// App creates the CLI application.
func App() *cli.App {
	return &cli.App{
		Name:    "weft-cli",
		Usage:   "Talk to a weft server",
		Version: buildinfo.String(),
		Flags:   globalFlags(),
		Commands: []*cli.Command{
			RequestCommand(),
			StatusCommand(),
			HealthCommand(),
			ShellCommand(),
		},
	}
}

// globalFlags returns the global CLI flags.
func globalFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "server",
			Aliases: []string{"s"},
			Usage:   "application listener address (host:port or unix:///path)",
			EnvVars: []string{"WEFT_CLI_SERVER"},
			Value:   config.DefaultHTTPAddr,
		},
		&cli.StringFlag{
			Name:    "admin",
			Usage:   "admin listener address (host:port or unix:///path)",
			EnvVars: []string{"WEFT_CLI_ADMIN"},
			Value:   config.DefaultAdminAddr,
		},
		&cli.StringFlag{
			Name:    "output",
			Aliases: []string{"o"},
			Usage:   "output format: table, json, yaml",
			Value:   string(output.FormatTable),
		},
		&cli.BoolFlag{
			Name:  "tls",
			Usage: "connect with TLS",
		},
		&cli.StringFlag{
			Name:  "ca-file",
			Usage: "PEM bundle used to verify the server instead of the system roots",
		},
		&cli.BoolFlag{
			Name:  "insecure",
			Usage: "skip server certificate verification",
		},
		&cli.DurationFlag{
			Name:  "timeout",
			Usage: "overall deadline per command",
			Value: 30 * time.Second,
		},
		&cli.StringFlag{
			Name:    "config",
			Aliases: []string{"c"},
			Usage:   "server configuration file to read client settings from",
			EnvVars: []string{"WEFT_CLI_CONFIG"},
		},
	}
}

// GlobalFlags holds the parsed global flags.
type GlobalFlags struct {
	Server   string
	Admin    string
	Output   output.Format
	TLS      bool
	CAFile   string
	Insecure bool
	Timeout  time.Duration

	// ContinueTimeout comes from the configuration file, or the default.
	ContinueTimeout time.Duration
}

// ParseGlobalFlags extracts global flags from context.
func ParseGlobalFlags(c *cli.Context) (*GlobalFlags, error) {
	format, err := output.ParseFormat(c.String("output"))
	if err != nil {
		return nil, err
	}
	flags := &GlobalFlags{
		Server:          c.String("server"),
		Admin:           c.String("admin"),
		Output:          format,
		TLS:             c.Bool("tls"),
		CAFile:          c.String("ca-file"),
		Insecure:        c.Bool("insecure"),
		Timeout:         c.Duration("timeout"),
		ContinueTimeout: config.DefaultContinueTimeout,
	}
	if path := c.String("config"); path != "" {
		cfg := config.Default()
		if err := confloader.NewLoader(confloader.WithConfigFile(path)).Load(cfg); err != nil {
			return nil, fmt.Errorf("load config: %w", err)
		}
		flags.ContinueTimeout = cfg.Client.ContinueTimeout
	}
	return flags, nil
}

// Target returns the endpoint for the application or admin listener.
func (f *GlobalFlags) Target(admin bool) connection.Target {
	addr := f.Server
	if admin {
		addr = f.Admin
	}
	network, addr := connection.ParseAddr(addr)
	return connection.Target{
		Network:         network,
		Addr:            addr,
		TLS:             f.TLS,
		CAFile:          f.CAFile,
		Insecure:        f.Insecure,
		ContinueTimeout: f.ContinueTimeout,
	}
}

// render writes data to the app's writer in the chosen format.
func render(c *cli.Context, format output.Format, data any) error {
	return output.NewFormatter(format).Format(c.App.Writer, data)
}

// PrintError prints an error message to stderr.
func PrintError(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "error: "+format+"\n", args...)
}
