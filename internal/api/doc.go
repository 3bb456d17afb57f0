// Package api hosts the operator HTTP endpoint. Routes:
//   - GET /healthz for liveness.
//   - GET /readyz runs the registered readiness checks (Redis, storage).
//   - GET /metrics for Prometheus scraping.
//
// The research pipeline itself is driven from the CLI; there is no research API.
package api
