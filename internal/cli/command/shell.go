package command

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/yndnr/weft-go/internal/cli/repl"
)

// globalArgs are re-applied to every line typed in the shell.
var globalArgs = []string{"server", "admin", "output", "tls", "ca-file", "insecure", "timeout", "config"}

// ShellCommand returns the interactive shell command.
func ShellCommand() *cli.Command {
	return &cli.Command{
		Name:  "shell",
		Usage: "Run commands interactively",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "history-file",
				Usage: "where to keep shell history (empty disables)",
				Value: repl.DefaultHistoryFile(),
			},
		},
		Action: runShell,
	}
}

func runShell(c *cli.Context) error {
	prefix := inheritedFlags(c)

	var names []string
	for _, cmd := range c.App.Commands {
		if cmd.Name != "shell" && cmd.Name != "help" {
			names = append(names, cmd.Name)
		}
	}

	history := repl.NewHistory(c.String("history-file"))
	if err := history.Load(); err != nil {
		PrintError("load history: %v", err)
	}

	exec := func(ctx context.Context, args []string) error {
		if args[0] == "shell" {
			return fmt.Errorf("already in a shell")
		}
		app := App()
		app.Writer = c.App.Writer
		app.ErrWriter = c.App.ErrWriter
		app.ExitErrHandler = func(*cli.Context, error) {}
		argv := append([]string{app.Name}, prefix...)
		return app.RunContext(ctx, append(argv, args...))
	}

	r := repl.New(exec, names,
		repl.WithIO(c.App.Reader, c.App.Writer),
		repl.WithHistory(history))
	runErr := r.Run(c.Context)
	if err := history.Save(); err != nil {
		PrintError("save history: %v", err)
	}
	return runErr
}

// inheritedFlags turns the global flags set for the shell into arguments.
func inheritedFlags(c *cli.Context) []string {
	var args []string
	for _, name := range globalArgs {
		if !c.IsSet(name) {
			continue
		}
		switch name {
		case "tls", "insecure":
			args = append(args, fmt.Sprintf("--%s=%t", name, c.Bool(name)))
		default:
			args = append(args, "--"+name, fmt.Sprint(c.Value(name)))
		}
	}
	return args
}
