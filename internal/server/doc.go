// Package server provides the HTTP surface for tracked polling sessions.
//
// It handles all HTTP concerns of a running tracker:
//
//   - REST API: create, list, inspect and cancel sessions under "/api/sessions"
//   - Server-Sent Events: real-time session record updates at "/api/sse"
//   - Redirects: "/uploads/{jobID}/wait" polls a job and answers with a
//     303 See Other to the destination of its outcome
//   - Metrics: Prometheus exposition at "/metrics"
//
// Routing uses chi with request IDs, panic recovery and request logging.
// The server supports graceful shutdown via context cancellation, with a
// 5-second timeout for in-flight requests.
//
// Users of the uploadpoll library should not need to interact with this
// package directly. The server is started by [uploadpoll.Tracker.Start].
package server
