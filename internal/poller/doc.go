// Package poller provides the network and timing primitives used by
// upload status sessions.
//
// The main components are:
//
//   - [Client]: GET-only HTTP client with per-request timeouts, a 1MB body
//     limit, and an optional shared rate limiter
//   - [BackOffFactory]: per-session wait strategy (constant or exponential)
//   - [Sleep]: cancellable wait that never leaves a timer behind
//
// Users of the uploadpoll library should not need to interact with this
// package directly. Configuration is done through the main uploadpoll package.
package poller
