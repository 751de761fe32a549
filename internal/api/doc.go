// Package api hosts the HTTP server, middleware, and REST handlers for the
// character image service. Notable routes:
//   - GET /healthz / readyz for Kubernetes probes.
//   - GET /metrics for Prometheus scraping.
//   - POST /v1/characters/resolve for range resolution.
//   - POST /v1/characters/{number}/generate for forced regeneration.
//   - GET /v1/proxy for presentation-layer image fetches.
package api
