// Package command provides the weft-cli command definitions.
//
// This package defines all CLI commands using urfave/cli/v2:
//
//   - root.go: application, global flags, shared helpers
//   - request.go: single requests with an optional Expect: 100-continue handshake
//   - status.go: admin status and health checks
//   - shell.go: interactive mode on top of internal/cli/repl
//
// Commands parse flags, talk to the server through internal/server/httpclient
// and render results with internal/cli/output.
package command
