// Package api serves the auth core's operational HTTP surface.
//
// Routes:
//   - GET /health: liveness plus the state of registered dependencies
//   - GET /metrics: Prometheus exposition
//   - GET /api/v1/audit: audit trail, admin bearer token required
//
// The server follows the same lifecycle as the other infrastructure
// components:
//
//	srv, err := api.New(deps)
//	srv.Start(ctx)
//	defer srv.Close()
package api
