package pubsub

import "fmt"

// Topic constants and helper functions for subscription topics.
// Topics follow a hierarchical naming convention: {resource}:{id}

const prefixOrg = "org"

// OrgRoomTopic returns the topic for an organization's realtime room. Every
// authenticated websocket connection joins exactly one such room, scoped to
// the organizationId carried in its verified token (spec §4.3).
func OrgRoomTopic(organizationID string) string {
	return fmt.Sprintf("%s:%s", prefixOrg, organizationID)
}

// HubFanoutChannel is the cross-instance Redis channel an organization's
// room events are mirrored onto, so a websocket connection accepted by one
// server instance still receives updates produced by another (spec §4.3).
func HubFanoutChannel(organizationID string) string {
	return fmt.Sprintf("hub:org:%s", organizationID)
}
