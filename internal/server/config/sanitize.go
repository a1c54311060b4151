package config

import (
	"path/filepath"
	"slices"
	"strings"
)

// Sanitize returns a copy of the config that is safe to log. The private
// key location is masked and slices are copied so the result can be
// modified freely.
func Sanitize(cfg *ServerConfig) *ServerConfig {
	sanitized := *cfg
	sanitized.Server.Listeners = slices.Clone(cfg.Server.Listeners)
	sanitized.Admin.AllowList = slices.Clone(cfg.Admin.AllowList)
	sanitized.CORS.AllowedOrigins = slices.Clone(cfg.CORS.AllowedOrigins)

	if sanitized.TLS.KeyFile != "" {
		dir, name := filepath.Split(sanitized.TLS.KeyFile)
		sanitized.TLS.KeyFile = dir + maskSecret(name)
	}
	return &sanitized
}

// maskSecret masks a secret value for safe logging.
func maskSecret(s string) string {
	if len(s) <= 4 {
		return "****"
	}
	return s[:2] + strings.Repeat("*", len(s)-4) + s[len(s)-2:]
}
