// Package gateway serves the parley HTTP API.
//
// # Overview
//
// The Gateway owns the HTTP server and wires together the pieces a request
// touches: the language-model provider, the in-memory session store, the
// conversation service and the usage ledger. It can listen on plain TCP or
// join a tailnet through tsnet.
//
// # HTTP API
//
//   - GET /api/health - Liveness with timestamp
//   - POST /api/translate - Stream a translation (SSE)
//   - POST /api/chat - Stream a chat answer and remember the exchange (SSE)
//   - POST /api/translate-non-stream - Translate and return JSON
//   - GET /api/session/{id} - Remembered turns, optionally rendered to HTML
//   - DELETE /api/session/{id} - Forget a session
//   - GET /api/stats/usage - Aggregated usage ledger
//   - GET /health - Liveness check
//   - GET /health/ready - Readiness check (ledger reachable)
//
// All routes allow any origin and answer OPTIONS preflights with 204.
//
// # Streaming
//
// Streaming responses are data-only SSE frames:
//
//	data: {"content":"Hel"}
//
//	data: {"content":"lo"}
//
//	data: [DONE]
//
// A failure after the stream has started ends it with a single
// data: {"error":"..."} frame instead of [DONE]. A failure before the first
// fragment is a plain 500 JSON response. Chat exchanges are committed to the
// session only when the answer completed and the client is still connected.
//
// # Lifecycle
//
//	gw, err := gateway.New(cfg, logger)
//	if err != nil {
//	    return err
//	}
//	return gw.Run(ctx) // blocks until ctx is canceled
package gateway
