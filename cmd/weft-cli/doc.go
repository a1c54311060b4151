// Package main provides the entry point for weft-cli.
//
// The CLI sends requests to a weft server and reads its admin endpoints:
//
//   - request: one or more requests, optionally with Expect: 100-continue
//   - status: worker pool and build information from the admin listener
//   - health: liveness or readiness of the application listener
//
// Usage:
//
//	weft-cli request --data-file payload.bin --expect-continue /echo
//	weft-cli -o json status
package main
