// Package tlsroots provides TLS certificate management for weft.
//
//   - roots.go: trust pools for client verification and the CLI
//   - reloader.go: server certificate hot-reload on file changes
package tlsroots
