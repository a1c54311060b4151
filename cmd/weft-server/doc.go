// Package main provides the entry point for weft-server.
//
// The server runs a fixed pool of workers behind the configured listeners:
//
//   - application listeners serve the demo routes (/, /echo, /hello, /static, /slow)
//   - admin listeners serve /admin/status and /metrics behind a network ACL
//   - TLS listeners share one certificate that is reloaded when it changes on disk
//
// Usage:
//
//	weft-server [flags]
//	weft-server --config /etc/weft/weft.yaml --log-level debug
//
// Configuration is read from the file, then WEFT_ environment variables,
// then flags. Changing the log level in the file takes effect without a
// restart.
package main
