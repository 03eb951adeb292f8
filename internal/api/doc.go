// Package api hosts the optional status server that runs alongside an
// archive run. Routes:
//   - GET /healthz for liveness probes.
//   - GET /metrics for Prometheus scraping.
//   - GET /status for a JSON snapshot of run progress.
package api
