// Package api holds the request and response types of the StoryFlow HTTP API.
//
// # API Overview
//
//   - GET  /v1/workflows                 list registered workflows
//   - POST /v1/workflows/{id}/runs       start a run
//   - POST /v1/runs/{runId}/resume       resume a suspended run
//   - GET  /v1/runs/{runId}              run status and step history
//   - GET  /v1/runs/{runId}/events       live run events (websocket)
//   - GET  /v1/agents                    planning agent catalog
//   - GET  /health, /ready, /version, /metrics
//
// Every JSON response uses the envelope {"success", "data", "error"}.
//
// # Authentication
//
// When auth.jwt_secret is configured, /v1 endpoints require an HS256 bearer
// token:
//
//	Authorization: Bearer <token>
package api
