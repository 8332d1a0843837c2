// Package api hosts the HTTP control plane. Notable routes:
//   - GET /healthz and /readyz for probes.
//   - GET /metrics for Prometheus scraping.
//   - POST /v1/works to queue a work download (409 while that work is still
//     downloading), GET /v1/works/{work_id} for its last summary.
//   - GET /v1/runs and /v1/runs/{run_id} for per-run progress via the
//     ProgressRepository interface.
package api
