package command

import (
	"context"

	"github.com/urfave/cli/v2"

	"github.com/yndnr/weft-go/internal/cli/connection"
)

// StatusCommand returns the status command.
func StatusCommand() *cli.Command {
	return &cli.Command{
		Name:   "status",
		Usage:  "Show server status from the admin listener",
		Action: showStatus,
	}
}

// HealthCommand returns the health command.
func HealthCommand() *cli.Command {
	return &cli.Command{
		Name:  "health",
		Usage: "Check server health",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "ready",
				Usage: "check readiness instead of liveness",
			},
		},
		Action: checkHealth,
	}
}

func showStatus(c *cli.Context) error {
	return getAndRender(c, true, "/admin/status")
}

func checkHealth(c *cli.Context) error {
	path := "/health"
	if c.Bool("ready") {
		path = "/ready"
	}
	return getAndRender(c, false, path)
}

func getAndRender(c *cli.Context, admin bool, path string) error {
	flags, err := ParseGlobalFlags(c)
	if err != nil {
		return err
	}
	client, err := flags.Target(admin).Client()
	if err != nil {
		return err
	}
	defer client.Close()

	ctx, cancel := context.WithTimeout(c.Context, flags.Timeout)
	defer cancel()

	var result map[string]any
	if err := connection.GetJSON(ctx, client, path, &result); err != nil {
		return err
	}
	return render(c, flags.Output, result)
}
