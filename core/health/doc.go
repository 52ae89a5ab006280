// Package health provides HTTP handlers for service health monitoring.
//
// Handlers:
//   - Liveness: process is running (no dependency checks)
//   - Readiness: all dependencies are available
//   - NoContent: returns 204 for minimal overhead
//
// Usage:
//
//	mux := http.NewServeMux()
//	mux.Handle("GET /health/live", health.Liveness())
//	mux.Handle("GET /health/ready", health.Readiness(log, repo.Healthcheck, bridge.Healthcheck))
//	mux.Handle("GET /ping", health.NoContent())
//
// Dependency checks follow the func(context.Context) error signature used by
// every Healthcheck in this module.
package health
