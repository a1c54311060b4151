// Package metric exposes weft's Prometheus metrics.
//
// A Registry owns its own prometheus.Registry (plus the Go and process
// collectors) and implements the worker pool's Observer, so wiring it with
// workerpool.WithObserver is enough to publish pool, session and request
// activity. Handler serves the text exposition format for /metrics.
package metric
