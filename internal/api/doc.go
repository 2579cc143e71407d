// Package api hosts the HTTP server, middleware, and REST handlers for operator
// access. Notable routes:
//   - GET /healthz / readyz for Kubernetes probes.
//   - GET /metrics for Prometheus scraping.
//   - POST /v1/discoveries to submit a website, GET to list runs.
//   - GET /v1/discoveries/{run_id} and /content for results and markdown.
//   - POST /v1/discoveries/{run_id}/cancel to stop a queued or running run.
package api
