// Package gateway serves the board synchronization protocol over WebSocket.
//
// # Endpoints
//
//   - GET /ws - WebSocket upgrade; one board client per connection
//   - GET /health - Liveness check
//   - GET /health/ready - Readiness check (store and Redis reachable)
//
// The session token for a connection comes from an "Authorization: Bearer"
// header or a ?token= query parameter. Individual requests may carry their
// own session_token, which takes precedence.
//
// # Connections
//
// Each connection gets a member id and a buffered room.Queue. A reader
// goroutine decodes request envelopes and hands them to the board
// coordinator one at a time, so a client's requests are applied in the order
// it sent them. A writer goroutine drains the queue onto the socket. When
// either side stops, the connection leaves every room it joined.
//
// # Multiple instances
//
// With redis.addr configured, sequence numbers, request id dedupe and room
// fan-out move to Redis, so clients of the same board may connect to
// different gateway instances.
//
// # Lifecycle
//
//	gw, err := gateway.New(cfg, logger)
//	err = gw.Run(ctx) // blocks; shuts down when ctx is canceled
package gateway
