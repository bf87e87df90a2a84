// Package pubsub provides a publish-subscribe interface for realtime
// websocket fan-out.
//
// # Overview
//
// This package provides a unified interface for pub/sub messaging that
// supports the Realtime Hub's organization rooms. The primary
// implementation uses Redis for horizontal scaling across multiple server
// instances; an in-memory implementation (MemoryPubSub) is also provided,
// though cmd/server always uses Redis.
//
// # Architecture
//
// ```
// ┌─────────────┐     ┌─────────────┐     ┌─────────────┐
// │  Producer   │     │   Redis     │     │ Realtime    │
// │  (Publish)  │────▶│   Pub/Sub   │────▶│    Hub      │
// └─────────────┘     └─────────────┘     └─────────────┘
//
//	│                    │                   │
//	│                    │                   │
//
// ┌─────────────┐     ┌─────────────┐     ┌─────────────┐
// │ Job status  │     │  Topic:     │     │ WebSocket   │
// │ + log chunks│     │hub:org:{id} │     │  Client     │
// └─────────────┘     └─────────────┘     └─────────────┘
// ```
//
// # Usage
//
// Initialize the pub/sub client:
//
//	redisClient := redis.NewClient(&redis.Options{
//		Addr: "localhost:6379",
//	})
//	ps := pubsub.NewRedisPubSub(redisClient)
//
// Publish an event:
//
//	err := ps.Publish(ctx, pubsub.HubFanoutChannel(organizationID), &pubsub.ExecutionUpdatedEvent{
//		TaskID: taskID,
//		Status: "RUNNING",
//	})
//
// Subscribe to events:
//
//	ch, unsub := ps.Subscribe(ctx, pubsub.HubFanoutChannel(organizationID))
//	defer unsub()
//	for msg := range ch {
//		var event pubsub.ExecutionUpdatedEvent
//		json.Unmarshal(msg, &event)
//		// Handle event
//	}
//
// # Topics
//
// Topics follow a hierarchical naming convention:
//   - hub:org:{organizationId} (HubFanoutChannel) - every execution-updated/execution-log event the Realtime Hub fans out for one tenant
//   - org:{organizationId} (OrgRoomTopic) - the name of that tenant's room
//
// # Event Types
//
// Each topic has corresponding event types defined in events.go:
//   - AuthSuccessEvent / AuthErrorEvent - websocket auth-frame handshake outcome
//   - ExecutionUpdatedEvent - status transitions, never dropped under backpressure
//   - ExecutionLogEvent - log chunks, may be dropped under backpressure
package pubsub
