package pubsub

import "time"

// EventType identifies the type of event for type switches.
type EventType string

const (
	EventTypeAuthSuccess      EventType = "auth-success"
	EventTypeAuthError        EventType = "auth-error"
	EventTypeExecutionUpdated EventType = "execution-updated"
	EventTypeExecutionLog     EventType = "execution-log"
)

// AuthSuccessEvent confirms a websocket connection's auth frame was
// accepted and names the room it was joined to.
type AuthSuccessEvent struct {
	Type           EventType `json:"type"`
	OrganizationID string    `json:"organizationId"`
	Timestamp      time.Time `json:"timestamp"`
}

// AuthErrorEvent is sent in place of AuthSuccessEvent when the first frame's
// token fails verification; the connection is closed immediately after.
type AuthErrorEvent struct {
	Type      EventType `json:"type"`
	Error     string    `json:"error"`
	Timestamp time.Time `json:"timestamp"`
}

// ExecutionUpdatedEvent carries a status transition for one execution.
// Delivery is required, never dropped under backpressure (spec §4.3,
// §5 MUST-NOT-drop-updates).
type ExecutionUpdatedEvent struct {
	Type           EventType `json:"type"`
	TaskID         string    `json:"taskId"`
	OrganizationID string    `json:"organizationId"`
	Status         string    `json:"status"`
	Error          string    `json:"error,omitempty"`
	Timestamp      time.Time `json:"timestamp"`
}

// ExecutionLogEvent carries one chunk of a running container's combined
// stdout/stderr stream. Delivery is best-effort and may be dropped under
// backpressure (spec §4.3, §5 MAY-drop-logs).
type ExecutionLogEvent struct {
	Type           EventType `json:"type"`
	TaskID         string    `json:"taskId"`
	OrganizationID string    `json:"organizationId"`
	Chunk          string    `json:"chunk"`
	Timestamp      time.Time `json:"timestamp"`
}
