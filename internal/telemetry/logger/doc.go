// Package logger builds the structured loggers used across weft.
//
//   - logger.go: handler construction and the shared level
//   - context.go: carrying a logger on a context.Context
//   - redact.go: masking of credentials before they reach the output
//
// Every constructor returns a plain *slog.Logger, so packages that log only
// depend on log/slog.
package logger
