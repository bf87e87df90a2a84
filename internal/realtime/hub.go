package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/volaticloud/runbox/internal/auth"
	"github.com/volaticloud/runbox/internal/pubsub"
)

const (
	updateSendTimeout = 5 * time.Second
	updateBufferSize  = 64
	logBufferSize     = 256
	writeWait         = 10 * time.Second
	pongWait          = 60 * time.Second
	pingPeriod        = (pongWait * 9) / 10
)

// authFrame is the first message a connection must send.
type authFrame struct {
	Auth struct {
		Token string `json:"token"`
	} `json:"auth"`
}

// Client is one authenticated websocket connection, joined to exactly one
// organization room.
type Client struct {
	conn           *websocket.Conn
	organizationID string
	updates        chan []byte
	logs           chan []byte
	closeOnce      sync.Once
	done           chan struct{}
}

func newClient(conn *websocket.Conn, organizationID string) *Client {
	return &Client{
		conn:           conn,
		organizationID: organizationID,
		updates:        make(chan []byte, updateBufferSize),
		logs:           make(chan []byte, logBufferSize),
		done:           make(chan struct{}),
	}
}

func (c *Client) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.conn.Close()
	})
}

// Hub tracks organization rooms and fans out execution events to every
// connection in the room. Optionally mirrors events across instances via
// internal/pubsub so a connection accepted by one server process still
// receives updates produced by another.
type Hub struct {
	mu    sync.RWMutex
	rooms map[string]map[*Client]struct{}

	verifier *auth.Verifier
	ps       pubsub.PubSub
	logger   *zap.Logger

	upgrader websocket.Upgrader
}

// Option configures a Hub at construction time.
type Option func(*Hub)

// WithPubSub mirrors every broadcast across instances over ps.
func WithPubSub(ps pubsub.PubSub) Option {
	return func(h *Hub) { h.ps = ps }
}

// WithAllowedOrigins restricts the websocket upgrader's accepted Origin
// header values; an empty list allows any origin (development mode).
func WithAllowedOrigins(origins []string) Option {
	return func(h *Hub) {
		h.upgrader.CheckOrigin = func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" || len(origins) == 0 {
				return true
			}
			for _, o := range origins {
				if o == origin {
					return true
				}
			}
			return false
		}
	}
}

// WithLogger attaches a zap logger for connection lifecycle diagnostics.
func WithLogger(logger *zap.Logger) Option {
	return func(h *Hub) { h.logger = logger }
}

// NewHub builds a Hub that authenticates connections with verifier.
func NewHub(verifier *auth.Verifier, opts ...Option) *Hub {
	h := &Hub{
		rooms:    make(map[string]map[*Client]struct{}),
		verifier: verifier,
		upgrader: websocket.Upgrader{ReadBufferSize: 1024, WriteBufferSize: 1024},
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// ServeWS upgrades the request to a websocket connection, runs the
// auth-frame handshake, and blocks until the connection closes.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		if h.logger != nil {
			h.logger.Warn("websocket upgrade failed", zap.Error(err))
		}
		return
	}

	tenant, err := h.handshake(conn)
	if err != nil {
		h.sendAuthError(conn, err.Error())
		conn.Close()
		return
	}

	client := newClient(conn, tenant.OrganizationID)
	h.join(client)
	defer h.leave(client)

	h.sendAuthSuccess(client)

	var cancelFanout func()
	if h.ps != nil {
		cancelFanout = h.subscribeFanout(client)
		defer cancelFanout()
	}

	go h.writePump(client)
	h.readPump(client)
}

func (h *Hub) handshake(conn *websocket.Conn) (*auth.TenantContext, error) {
	conn.SetReadDeadline(time.Now().Add(10 * time.Second))
	_, raw, err := conn.ReadMessage()
	if err != nil {
		return nil, err
	}

	var frame authFrame
	if err := json.Unmarshal(raw, &frame); err != nil || frame.Auth.Token == "" {
		return nil, errMissingAuthFrame
	}

	tenant, err := h.verifier.Verify(frame.Auth.Token)
	if err != nil {
		return nil, err
	}
	conn.SetReadDeadline(time.Time{})
	return tenant, nil
}

var errMissingAuthFrame = authError("first message must be {\"auth\":{\"token\":\"...\"}}")

type authError string

func (e authError) Error() string { return string(e) }

func (h *Hub) join(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	room, ok := h.rooms[c.organizationID]
	if !ok {
		room = make(map[*Client]struct{})
		h.rooms[c.organizationID] = room
	}
	room[c] = struct{}{}
}

func (h *Hub) leave(c *Client) {
	c.close()
	h.mu.Lock()
	defer h.mu.Unlock()
	if room, ok := h.rooms[c.organizationID]; ok {
		delete(room, c)
		if len(room) == 0 {
			delete(h.rooms, c.organizationID)
		}
	}
}

func (h *Hub) readPump(c *Client) {
	defer pubsub.RecoverWithCleanup("realtime.readPump", func() {})
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writePump(c *Client) {
	defer pubsub.RecoverWithCleanup("realtime.writePump", func() {})
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	defer c.close()

	for {
		select {
		case <-c.done:
			return
		case msg := <-c.updates:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case msg := <-c.logs:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (h *Hub) sendAuthSuccess(c *Client) {
	payload, _ := json.Marshal(pubsub.AuthSuccessEvent{
		Type:           pubsub.EventTypeAuthSuccess,
		OrganizationID: c.organizationID,
		Timestamp:      time.Now(),
	})
	select {
	case c.updates <- payload:
	default:
	}
}

func (h *Hub) sendAuthError(conn *websocket.Conn, reason string) {
	payload, _ := json.Marshal(pubsub.AuthErrorEvent{
		Type:      pubsub.EventTypeAuthError,
		Error:     reason,
		Timestamp: time.Now(),
	})
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	_ = conn.WriteMessage(websocket.TextMessage, payload)
}

// BroadcastUpdate delivers an execution-updated event to every connection
// in organizationID's room. Delivery blocks briefly per client; a client
// that cannot keep up is disconnected rather than silently missing a
// status transition.
func (h *Hub) BroadcastUpdate(ctx context.Context, organizationID string, event pubsub.ExecutionUpdatedEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}

	// When a fanout backend is configured, every client (including ones on
	// this instance) is already subscribed to the org channel via
	// subscribeFanout, so delivering locally too would double-send. Without
	// a fanout backend this instance is the only source of truth, so it
	// must deliver directly.
	if h.ps == nil {
		h.deliverLocal(organizationID, payload, true)
		return nil
	}
	return h.ps.Publish(ctx, pubsub.HubFanoutChannel(organizationID), event)
}

// BroadcastLog delivers an execution-log event to every connection in
// organizationID's room. Delivery is best-effort; a slow client simply
// misses the chunk.
func (h *Hub) BroadcastLog(ctx context.Context, organizationID string, event pubsub.ExecutionLogEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}

	if h.ps == nil {
		h.deliverLocalLog(organizationID, payload)
		return nil
	}
	return h.ps.Publish(ctx, pubsub.HubFanoutChannel(organizationID), event)
}

func (h *Hub) deliverLocal(organizationID string, payload []byte, mustNotDrop bool) {
	h.mu.RLock()
	room := h.rooms[organizationID]
	clients := make([]*Client, 0, len(room))
	for c := range room {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, c := range clients {
		if !mustNotDrop {
			select {
			case c.updates <- payload:
			default:
			}
			continue
		}
		select {
		case c.updates <- payload:
		case <-time.After(updateSendTimeout):
			if h.logger != nil {
				h.logger.Warn("disconnecting slow consumer that missed a status update",
					zap.String("organizationId", organizationID))
			}
			c.close()
		}
	}
}

func (h *Hub) deliverLocalLog(organizationID string, payload []byte) {
	h.mu.RLock()
	room := h.rooms[organizationID]
	clients := make([]*Client, 0, len(room))
	for c := range room {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, c := range clients {
		select {
		case c.logs <- payload:
		default:
		}
	}
}

// subscribeFanout mirrors another instance's broadcasts for
// client.organizationID onto this client's local channels. Returns a
// cancel func that unsubscribes.
func (h *Hub) subscribeFanout(client *Client) func() {
	ctx, cancel := context.WithCancel(context.Background())
	ch, unsub := h.ps.Subscribe(ctx, pubsub.HubFanoutChannel(client.organizationID))

	go func() {
		defer pubsub.RecoverWithCleanup("realtime.subscribeFanout", func() {})
		for msg := range ch {
			var probe struct {
				Type pubsub.EventType `json:"type"`
			}
			if err := json.Unmarshal(msg, &probe); err != nil {
				continue
			}
			if probe.Type == pubsub.EventTypeExecutionLog {
				select {
				case client.logs <- msg:
				default:
				}
				continue
			}
			select {
			case client.updates <- msg:
			case <-client.done:
				return
			}
		}
	}()

	return func() {
		unsub()
		cancel()
	}
}

// RoomSize reports the number of connections currently joined to
// organizationID's room, for diagnostics and tests.
func (h *Hub) RoomSize(organizationID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[organizationID])
}
