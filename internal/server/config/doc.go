// Package config provides server configuration for weft-server.
//
// This package defines the server configuration structure and validation:
//
//   - spec.go: ServerConfig struct definition
//   - default.go: Default configuration values
//   - verify.go: Validation (listeners, timeouts, TLS files, ACL entries)
//   - sanitize.go: Log sanitization (hide sensitive values)
//   - pool.go: Conversion to the worker pool configuration
//
// Configuration is loaded via internal/infra/confloader and supports
// multiple sources: files, environment variables, and flags.
package config
