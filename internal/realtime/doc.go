// Package realtime implements the websocket Hub that pushes execution
// status and log updates to connected dashboards.
//
// A connection authenticates with its own first-frame handshake — the
// first JSON message sent must be {"auth":{"token":"<jwt>"}} — rather than
// a library-specific connection_init protocol, since this Hub talks plain
// JSON frames, not GraphQL subscriptions. The organization room a
// connection joins is derived entirely from its verified token; a client
// can never request a different room.
//
// Two delivery classes apply once a connection is registered: status
// updates (execution-updated) must never be silently dropped, so a slow
// consumer is disconnected rather than made to miss a terminal state
// transition; log chunks (execution-log) are best-effort and dropped under
// backpressure, matching the posture already used by internal/pubsub's
// Redis and in-memory backends.
package realtime
