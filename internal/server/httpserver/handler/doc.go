// Package handler implements the request stages served by weft-server.
//
//   - Application routes: /, /echo, /hello/:name?, /static/*path, /slow
//   - Health routes: /health, /ready
//   - Admin routes: /admin/status, /metrics
//
// JSON bodies use the Response envelope from types.go.
package handler
