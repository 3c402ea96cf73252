package client

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/farm2retail/realtime-gateway/internal/gateway"
)

func TestManager_SubscribeUnsubscribe(t *testing.T) {
	m := NewManager(DefaultConfig("ws://localhost:0/ws"))

	token := m.Subscribe("user:online", func(json.RawMessage) {})
	if m.ListenerCount() != 1 {
		t.Errorf("Expected 1 listener, got %d", m.ListenerCount())
	}

	m.Unsubscribe(token)
	if m.ListenerCount() != 0 {
		t.Errorf("Expected 0 listeners, got %d", m.ListenerCount())
	}
}

func TestManager_StaleTokenIgnored(t *testing.T) {
	m := NewManager(DefaultConfig("ws://localhost:0/ws"))

	stale := m.Subscribe("user:online", func(json.RawMessage) {})
	m.Subscribe("user:online", func(json.RawMessage) {})

	// The first token was invalidated by the second registration
	m.Unsubscribe(stale)
	if m.ListenerCount() != 1 {
		t.Errorf("Expected the newer listener to survive, got %d listeners", m.ListenerCount())
	}
}

func TestManager_OnReplacesHandler(t *testing.T) {
	m := NewManager(DefaultConfig("ws://localhost:0/ws"))

	m.On("chat:receiveMessage", func(json.RawMessage) {})
	m.On("chat:receiveMessage", func(json.RawMessage) {})
	if m.ListenerCount() != 1 {
		t.Errorf("Expected a single listener per event, got %d", m.ListenerCount())
	}

	m.Off("chat:receiveMessage")
	if m.ListenerCount() != 0 {
		t.Errorf("Expected 0 listeners after Off, got %d", m.ListenerCount())
	}
}

func TestManager_RemoveAllListeners(t *testing.T) {
	m := NewManager(DefaultConfig("ws://localhost:0/ws"))

	m.On("user:online", func(json.RawMessage) {})
	m.On("user:offline", func(json.RawMessage) {})
	m.On("chat:receiveMessage", func(json.RawMessage) {})

	m.RemoveAllListeners()
	if m.ListenerCount() != 0 {
		t.Errorf("Expected 0 listeners, got %d", m.ListenerCount())
	}
}

func TestManager_EmitWithoutConnection(t *testing.T) {
	m := NewManager(DefaultConfig("ws://localhost:0/ws"))

	// All emitters are no-ops while disconnected
	m.JoinUser("user-1")
	m.EmitOrderCreated(map[string]string{"orderId": "1"})
	m.SendChatMessage(gateway.ChatMessagePayload{RecipientID: "user-2"})
	m.SendTyping(gateway.TypingPayload{RecipientID: "user-2"})

	if m.IsConnected() {
		t.Error("Expected no active connection")
	}
}

func TestManager_DisconnectIdempotent(t *testing.T) {
	m := NewManager(DefaultConfig("ws://localhost:0/ws"))

	m.On("user:online", func(json.RawMessage) {})

	m.Disconnect()
	m.Disconnect()

	if m.ListenerCount() != 0 {
		t.Errorf("Expected listeners cleared on disconnect, got %d", m.ListenerCount())
	}
}

func TestManager_GivesUpAfterExhaustedAttempts(t *testing.T) {
	cfg := Config{
		URL:               "ws://127.0.0.1:1/ws", // nothing listens here
		ReconnectDelay:    10 * time.Millisecond,
		ReconnectAttempts: 2,
		HandshakeTimeout:  100 * time.Millisecond,
		WriteTimeout:      100 * time.Millisecond,
	}
	m := NewManager(cfg)
	m.Connect("user-1")

	deadline := time.After(5 * time.Second)
	for m.IsRunning() {
		select {
		case <-deadline:
			t.Fatal("Expected the manager to give up")
		case <-time.After(10 * time.Millisecond):
		}
	}
	if m.IsConnected() {
		t.Error("Expected no connection after giving up")
	}

	// Giving up resets the manager so Connect works again later
	m.Connect("user-1")
	if !m.IsRunning() {
		t.Error("Expected Connect to restart the manager")
	}
	m.Disconnect()
}

// wsURL rewrites an httptest server URL into a websocket URL
func wsURL(server *httptest.Server) string {
	return "ws" + strings.TrimPrefix(server.URL, "http") + "/ws"
}

func TestManager_ConnectAndJoin(t *testing.T) {
	upgrader := websocket.Upgrader{}
	joined := make(chan string, 1)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("Failed to upgrade: %v", err)
			return
		}
		defer conn.Close()

		_, message, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var frame gateway.Frame
		if err := json.Unmarshal(message, &frame); err != nil {
			t.Errorf("Failed to decode frame: %v", err)
			return
		}
		if frame.Event != gateway.EventUserJoin {
			t.Errorf("Expected %s, got %s", gateway.EventUserJoin, frame.Event)
		}
		var userID string
		json.Unmarshal(frame.Data, &userID)
		joined <- userID

		// Push an event back at the client
		response, _ := gateway.EncodeFrame(gateway.EventUserOnline, gateway.PresenceEvent{UserID: "user-2"})
		conn.WriteMessage(websocket.TextMessage, response)

		// Hold the connection open until the client hangs up
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer server.Close()

	cfg := DefaultConfig(wsURL(server))
	cfg.ReconnectDelay = 10 * time.Millisecond
	m := NewManager(cfg)

	online := make(chan gateway.PresenceEvent, 1)
	m.On(gateway.EventUserOnline, func(data json.RawMessage) {
		var presence gateway.PresenceEvent
		if err := json.Unmarshal(data, &presence); err != nil {
			t.Errorf("Failed to decode presence: %v", err)
			return
		}
		online <- presence
	})

	m.Connect("user-1")
	defer m.Disconnect()

	select {
	case userID := <-joined:
		if userID != "user-1" {
			t.Errorf("Expected join for user-1, got %s", userID)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Timed out waiting for user:join")
	}

	select {
	case presence := <-online:
		if presence.UserID != "user-2" {
			t.Errorf("Expected user-2 online, got %s", presence.UserID)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Timed out waiting for user:online")
	}
}

func TestManager_ConnectIdempotent(t *testing.T) {
	upgrader := websocket.Upgrader{}
	upgrades := make(chan struct{}, 4)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		upgrades <- struct{}{}
		defer conn.Close()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer server.Close()

	m := NewManager(DefaultConfig(wsURL(server)))
	m.Connect("user-1")
	m.Connect("user-1")
	defer m.Disconnect()

	select {
	case <-upgrades:
	case <-time.After(5 * time.Second):
		t.Fatal("Timed out waiting for the connection")
	}

	select {
	case <-upgrades:
		t.Error("Expected a second Connect to be a no-op")
	case <-time.After(200 * time.Millisecond):
	}
}
