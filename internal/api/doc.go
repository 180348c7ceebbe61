// Package api hosts the read-only HTTP surface over harvested data:
//   - GET /healthz for liveness probes.
//   - GET /metrics for Prometheus scraping.
//   - GET /v1/athletes?name=<q>[&exact=true][&limit=N] for athlete lookup by
//     exact or partial name.
package api
