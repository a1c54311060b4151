// Package repl provides the interactive shell of weft-cli.
//
//   - repl.go: read-eval-print loop and line splitting
//   - completer.go: command name completion used by help
//   - history.go: command history persistence
//
// Each line is split shell-style and run as a weft-cli command with the
// global flags the shell was started with.
package repl
