package gateway_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/farm2retail/realtime-gateway/internal/config"
	"github.com/farm2retail/realtime-gateway/internal/gateway"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

func testConfig() config.GatewayConfig {
	return config.GatewayConfig{
		Port:           0,
		ReadTimeout:    5 * time.Second,
		WriteTimeout:   2 * time.Second,
		PingInterval:   1 * time.Second,
		MaxConnections: 100,
	}
}

// gatewayServer runs a hub behind a real websocket endpoint
func gatewayServer(t *testing.T) (*gateway.Hub, *httptest.Server) {
	t.Helper()

	hub := gateway.NewHub(testConfig())
	require.NoError(t, hub.Start())

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Logf("Upgrade error: %v", err)
			return
		}
		hub.Register(gateway.NewConnection(uuid.New().String(), conn))
	}))

	t.Cleanup(func() {
		server.Close()
		hub.Stop()
	})
	return hub, server
}

func dialGateway(t *testing.T, server *httptest.Server) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func sendFrame(t *testing.T, conn *websocket.Conn, event string, payload interface{}) {
	t.Helper()
	frame, err := gateway.EncodeFrame(event, payload)
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, frame))
}

func readFrame(t *testing.T, conn *websocket.Conn) gateway.Frame {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, message, err := conn.ReadMessage()
	require.NoError(t, err)

	var frame gateway.Frame
	require.NoError(t, json.Unmarshal(message, &frame))
	return frame
}

func waitForOnline(t *testing.T, hub *gateway.Hub, count int) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for hub.OnlineCount() != count {
		if time.Now().After(deadline) {
			t.Fatalf("Timed out waiting for %d online users, have %d", count, hub.OnlineCount())
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestHub_JoinAndPresence(t *testing.T) {
	hub, server := gatewayServer(t)

	alice := dialGateway(t, server)
	bob := dialGateway(t, server)

	sendFrame(t, alice, gateway.EventUserJoin, "alice")
	waitForOnline(t, hub, 1)

	// Bob hears about Alice once he is connected, Alice does not hear
	// about herself
	sendFrame(t, bob, gateway.EventUserJoin, "bob")
	waitForOnline(t, hub, 2)

	frame := readFrame(t, alice)
	assert.Equal(t, gateway.EventUserOnline, frame.Event)
	var presence gateway.PresenceEvent
	require.NoError(t, json.Unmarshal(frame.Data, &presence))
	assert.Equal(t, "bob", presence.UserID)

	assert.ElementsMatch(t, []string{"alice", "bob"}, hub.OnlineUsers())
}

func TestHub_OfflineAnnouncement(t *testing.T) {
	hub, server := gatewayServer(t)

	alice := dialGateway(t, server)
	bob := dialGateway(t, server)

	sendFrame(t, alice, gateway.EventUserJoin, "alice")
	waitForOnline(t, hub, 1)
	sendFrame(t, bob, gateway.EventUserJoin, "bob")
	waitForOnline(t, hub, 2)
	readFrame(t, alice) // user:online for bob

	bob.Close()
	waitForOnline(t, hub, 1)

	frame := readFrame(t, alice)
	assert.Equal(t, gateway.EventUserOffline, frame.Event)
	var presence gateway.PresenceEvent
	require.NoError(t, json.Unmarshal(frame.Data, &presence))
	assert.Equal(t, "bob", presence.UserID)
}

func TestHub_ChatRoundTrip(t *testing.T) {
	hub, server := gatewayServer(t)

	alice := dialGateway(t, server)
	bob := dialGateway(t, server)

	sendFrame(t, alice, gateway.EventUserJoin, "alice")
	waitForOnline(t, hub, 1)
	sendFrame(t, bob, gateway.EventUserJoin, "bob")
	waitForOnline(t, hub, 2)
	readFrame(t, alice) // user:online for bob

	sendFrame(t, alice, gateway.EventChatSend, gateway.ChatMessagePayload{
		RecipientID: "bob",
		SenderID:    "alice",
		SenderName:  "Alice Farmer",
		Message:     "Crates are packed",
	})

	frame := readFrame(t, bob)
	assert.Equal(t, gateway.EventChatReceive, frame.Event)
	var delivery gateway.ChatDelivery
	require.NoError(t, json.Unmarshal(frame.Data, &delivery))
	assert.Equal(t, "alice", delivery.SenderID)
	assert.Equal(t, "Crates are packed", delivery.Message)

	frame = readFrame(t, alice)
	assert.Equal(t, gateway.EventChatSent, frame.Event)
	var receipt gateway.ChatReceipt
	require.NoError(t, json.Unmarshal(frame.Data, &receipt))
	assert.True(t, receipt.Delivered)
}

func TestHub_NotifyUserAndBroadcast(t *testing.T) {
	hub, server := gatewayServer(t)

	alice := dialGateway(t, server)
	sendFrame(t, alice, gateway.EventUserJoin, "alice")
	waitForOnline(t, hub, 1)

	assert.False(t, hub.NotifyUser("nobody", gateway.EventNotifyNew, "x"))

	require.True(t, hub.NotifyUser("alice", gateway.EventNotifyNew, map[string]string{"message": "direct"}))
	frame := readFrame(t, alice)
	assert.Equal(t, gateway.EventNotifyNew, frame.Event)

	hub.Broadcast(gateway.EventChatNewMessage, map[string]string{"id": "msg-1"})
	frame = readFrame(t, alice)
	assert.Equal(t, gateway.EventChatNewMessage, frame.Event)
}

func TestHub_SupersededTabDisconnectKeepsUserOnline(t *testing.T) {
	hub, server := gatewayServer(t)

	observer := dialGateway(t, server)
	tab1 := dialGateway(t, server)
	tab2 := dialGateway(t, server)

	sendFrame(t, observer, gateway.EventUserJoin, "observer")
	waitForOnline(t, hub, 1)

	sendFrame(t, tab1, gateway.EventUserJoin, "alice")
	waitForOnline(t, hub, 2)
	readFrame(t, observer) // user:online for alice

	sendFrame(t, tab2, gateway.EventUserJoin, "alice")
	frame := readFrame(t, observer) // second user:online for alice
	assert.Equal(t, gateway.EventUserOnline, frame.Event)

	// The superseded tab going away must not take Alice offline
	tab1.Close()
	time.Sleep(200 * time.Millisecond)
	assert.Contains(t, hub.OnlineUsers(), "alice")

	// No user:offline was announced; pushing to Alice still works
	require.True(t, hub.NotifyUser("alice", gateway.EventNotifyNew, "ping"))
	frame = readFrame(t, tab2)
	for frame.Event == gateway.EventUserOnline {
		frame = readFrame(t, tab2)
	}
	assert.Equal(t, gateway.EventNotifyNew, frame.Event)
}

func TestHub_Stats(t *testing.T) {
	hub, server := gatewayServer(t)

	alice := dialGateway(t, server)
	sendFrame(t, alice, gateway.EventUserJoin, "alice")
	waitForOnline(t, hub, 1)

	stats := hub.GetStats()
	assert.Equal(t, int64(1), stats.ConnectionsTotal)
	assert.Equal(t, int64(1), stats.ConnectionsActive)
	assert.Equal(t, int64(1), stats.UsersOnline)
	assert.GreaterOrEqual(t, stats.EventsRouted, int64(1))
}
