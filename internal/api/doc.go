// Package api implements the admin HTTP API and WebSocket event stream.
//
// Endpoints:
//   - GET  /metrics                          Prometheus scrape (no auth)
//   - GET  /api/v1/health                    component health (no auth)
//   - GET  /api/v1/stats                     sink and ingest counters
//   - GET  /api/v1/deadletters               list, filter by kind
//   - GET  /api/v1/deadletters/{id}          one dead letter
//   - POST /api/v1/deadletters/{id}/replay   feed the payload back in
//   - DEL  /api/v1/deadletters/{id}          remove
//   - POST /api/v1/auth/ws-ticket            single-use WebSocket ticket
//   - GET  /api/v1/ws?ticket=...             sink events
//
// Protected routes take a bearer token issued by the token subcommand. The
// token's role decides which routes it may call.
//
// WebSocket clients subscribe to "record.completed" and "sink.throttled",
// optionally narrowing record.completed to outcomes ("ack", "emit", "fail").
// Publishing never blocks the sink: events for a client whose send buffer is
// full are dropped and counted.
package api
