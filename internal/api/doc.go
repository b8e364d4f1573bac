// Package api provides the HTTP API and WebSocket event stream for the
// MQTT call service.
//
// Routes (all under /api/v1 except /metrics):
//
//	GET  /health                       liveness, no auth
//	GET  /metrics                      Prometheus text, no auth
//	GET  /services                     registered services per domain
//	POST /services/{domain}/{service}  call a service; body is service_data
//	GET  /calls                        call history
//	GET  /integrations                 integration entries and their states
//	POST /auth/ws-ticket               single-use WebSocket ticket
//	GET  /ws?ticket=...                stream of service.called events
//
// Protected routes expect "Authorization: Bearer <jwt>", an HS256 token
// signed with security.jwt.secret. IssueToken mints one.
//
// The server follows the same lifecycle as other components:
//
//	server, err := api.New(deps)
//	server.Start(ctx)
//	defer server.Close()
package api
