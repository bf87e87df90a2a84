package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/volaticloud/runbox/internal/auth"
	"github.com/volaticloud/runbox/internal/pubsub"
)

func dialWithAuth(t *testing.T, wsURL, token string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)

	frame, _ := json.Marshal(map[string]any{"auth": map[string]string{"token": token}})
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, frame))
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, v))
}

func TestHub_HandshakeAndBroadcastUpdate(t *testing.T) {
	verifier, err := auth.NewVerifier("test-secret")
	require.NoError(t, err)
	hub := NewHub(verifier)

	server := httptest.NewServer(http.HandlerFunc(hub.ServeWS))
	defer server.Close()
	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")

	token, err := verifier.Issue("user-1", "org-1", auth.RoleMember, jwt.RegisteredClaims{
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})
	require.NoError(t, err)

	conn := dialWithAuth(t, wsURL, token)
	defer conn.Close()

	var success pubsub.AuthSuccessEvent
	readEvent(t, conn, &success)
	assert.Equal(t, pubsub.EventTypeAuthSuccess, success.Type)
	assert.Equal(t, "org-1", success.OrganizationID)

	require.Eventually(t, func() bool { return hub.RoomSize("org-1") == 1 }, time.Second, 10*time.Millisecond)

	require.NoError(t, hub.BroadcastUpdate(context.Background(), "org-1", pubsub.ExecutionUpdatedEvent{
		Type:           pubsub.EventTypeExecutionUpdated,
		TaskID:         "task-1",
		OrganizationID: "org-1",
		Status:         "RUNNING",
	}))

	var update pubsub.ExecutionUpdatedEvent
	readEvent(t, conn, &update)
	assert.Equal(t, "task-1", update.TaskID)
	assert.Equal(t, "RUNNING", update.Status)
}

func TestHub_RejectsBadAuthFrame(t *testing.T) {
	verifier, err := auth.NewVerifier("test-secret")
	require.NoError(t, err)
	hub := NewHub(verifier)

	server := httptest.NewServer(http.HandlerFunc(hub.ServeWS))
	defer server.Close()
	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")

	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"not":"auth"}`)))

	var authErr pubsub.AuthErrorEvent
	readEvent(t, conn, &authErr)
	assert.Equal(t, pubsub.EventTypeAuthError, authErr.Type)
}

func TestHub_RoomsAreIsolatedByOrganization(t *testing.T) {
	verifier, err := auth.NewVerifier("test-secret")
	require.NoError(t, err)
	hub := NewHub(verifier)

	server := httptest.NewServer(http.HandlerFunc(hub.ServeWS))
	defer server.Close()
	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")

	tokenA, err := verifier.Issue("u1", "org-a", auth.RoleMember, jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour))})
	require.NoError(t, err)
	tokenB, err := verifier.Issue("u2", "org-b", auth.RoleMember, jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour))})
	require.NoError(t, err)

	connA := dialWithAuth(t, wsURL, tokenA)
	defer connA.Close()
	connB := dialWithAuth(t, wsURL, tokenB)
	defer connB.Close()

	var successA, successB pubsub.AuthSuccessEvent
	readEvent(t, connA, &successA)
	readEvent(t, connB, &successB)

	require.NoError(t, hub.BroadcastUpdate(context.Background(), "org-a", pubsub.ExecutionUpdatedEvent{
		Type: pubsub.EventTypeExecutionUpdated, TaskID: "only-a", OrganizationID: "org-a",
	}))

	var update pubsub.ExecutionUpdatedEvent
	readEvent(t, connA, &update)
	assert.Equal(t, "only-a", update.TaskID)

	connB.SetReadDeadline(time.Now().Add(300 * time.Millisecond))
	_, _, err = connB.ReadMessage()
	assert.Error(t, err, "org-b connection must not receive org-a's update")
}

func TestHub_FanoutAcrossPubSub(t *testing.T) {
	verifier, err := auth.NewVerifier("test-secret")
	require.NoError(t, err)
	ps := pubsub.NewMemoryPubSub()
	hub := NewHub(verifier, WithPubSub(ps))

	server := httptest.NewServer(http.HandlerFunc(hub.ServeWS))
	defer server.Close()
	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")

	token, err := verifier.Issue("u1", "org-1", auth.RoleMember, jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour))})
	require.NoError(t, err)

	conn := dialWithAuth(t, wsURL, token)
	defer conn.Close()

	var success pubsub.AuthSuccessEvent
	readEvent(t, conn, &success)

	time.Sleep(50 * time.Millisecond) // allow fanout subscription goroutine to register

	require.NoError(t, hub.BroadcastUpdate(context.Background(), "org-1", pubsub.ExecutionUpdatedEvent{
		Type: pubsub.EventTypeExecutionUpdated, TaskID: "task-fanout", OrganizationID: "org-1",
	}))

	var update pubsub.ExecutionUpdatedEvent
	readEvent(t, conn, &update)
	assert.Equal(t, "task-fanout", update.TaskID)
}
