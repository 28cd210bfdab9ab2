// Package api defines the wire types of the ChatGateway HTTP and WebSocket API.
//
// # API Overview
//
// ChatGateway relays chat requests to a local Ollama daemon:
//   - GET  /healthz        liveness probe
//   - GET  /readyz         readiness (Ollama and, when enabled, Redis)
//   - GET  /version        build information
//   - GET  /api/models     installed models
//   - POST /api/chat       chat, single response or SSE stream
//   - GET  /api/metrics    rolling latency and token totals
//   - GET  /ws/chat        multi-turn WebSocket chat
//
// # Authentication
//
// When api_key_optional is false every endpoint except the probes requires
// the x-api-key header:
//
//	x-api-key: your-api-key
//
// # Validation
//
// Request types implement validation.Validatable (ozzo-validation). Use
// FieldErrors to turn a validation failure into per-field details.
package api
