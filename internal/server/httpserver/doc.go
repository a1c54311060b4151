// Package httpserver assembles weft-server: the routers, their stages and
// the worker pool serving them.
//
//   - Application routes: /, /echo, /hello/:name?, /static/*path, /slow
//   - Health endpoints: /health, /ready
//   - Admin endpoints: /admin/status, /metrics (admin listeners only)
//
// Stages: RequestID, Audit, CORS, RateLimit on the application router;
// RequestID, NetworkACL, Audit on the admin router.
package httpserver
