package client

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/farm2retail/realtime-gateway/internal/gateway"
	"github.com/farm2retail/realtime-gateway/pkg/logger"
)

// Config holds configuration for the client connection manager. Reconnection
// uses a fixed delay and a bounded attempt count, not exponential backoff.
type Config struct {
	URL               string
	ReconnectDelay    time.Duration
	ReconnectAttempts int
	HandshakeTimeout  time.Duration
	WriteTimeout      time.Duration
}

// DefaultConfig returns the default client configuration
func DefaultConfig(url string) Config {
	return Config{
		URL:               url,
		ReconnectDelay:    1 * time.Second,
		ReconnectAttempts: 5,
		HandshakeTimeout:  10 * time.Second,
		WriteTimeout:      10 * time.Second,
	}
}

// Handler consumes the payload of a named event
type Handler func(data json.RawMessage)

// Token identifies one subscription so it can be removed without knowing
// whether a later registration has replaced it
type Token struct {
	event string
	seq   uint64
}

type listenerEntry struct {
	seq     uint64
	handler Handler
}

// Manager owns one logical gateway connection per process. It hides
// reconnection from callers: after any transport drop it redials with a
// fixed delay up to the configured attempt count, re-identifies with
// user:join, and then gives up silently. Callers detect prolonged absence
// of expected events themselves; there is no explicit gave-up signal.
type Manager struct {
	config Config

	mu        sync.RWMutex
	conn      *websocket.Conn
	writeMu   sync.Mutex
	running   bool
	userID    string
	listeners map[string]listenerEntry
	nextSeq   uint64
	done      chan struct{}
	wg        sync.WaitGroup
}

// NewManager creates a client connection manager
func NewManager(config Config) *Manager {
	return &Manager{
		config:    config,
		listeners: make(map[string]listenerEntry),
	}
}

// Connect establishes the gateway connection and starts the reconnect loop.
// Idempotent: a second call while connected is a no-op. If userID is
// non-empty, user:join is emitted on every successful (re)connect so
// server-side identity survives transport drops. Dial failures are logged
// and retried, never surfaced as errors.
func (m *Manager) Connect(userID string) {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return
	}
	m.running = true
	m.userID = userID
	m.done = make(chan struct{})
	m.mu.Unlock()

	m.wg.Add(1)
	go m.run()
}

// run dials, pumps inbound frames, and redials on failure with a fixed
// delay. The attempt counter resets after every successful connection.
func (m *Manager) run() {
	defer m.wg.Done()

	attempts := 0
	for {
		select {
		case <-m.done:
			return
		default:
		}

		conn, err := m.dial()
		if err != nil {
			attempts++
			logger.Warn("Gateway connection attempt failed",
				logger.ErrorField(err),
				logger.String("url", m.config.URL),
				logger.Int("attempt", attempts),
			)
			if attempts >= m.config.ReconnectAttempts {
				logger.Warn("Reconnect attempts exhausted, giving up",
					logger.String("url", m.config.URL),
					logger.Int("attempts", attempts),
				)
				m.mu.Lock()
				m.running = false
				m.mu.Unlock()
				return
			}
			select {
			case <-m.done:
				return
			case <-time.After(m.config.ReconnectDelay):
			}
			continue
		}

		attempts = 0
		m.mu.Lock()
		m.conn = conn
		userID := m.userID
		m.mu.Unlock()

		logger.Info("Gateway connected", logger.String("url", m.config.URL))

		if userID != "" {
			m.JoinUser(userID)
		}

		m.readLoop(conn)

		m.mu.Lock()
		if m.conn == conn {
			m.conn = nil
		}
		m.mu.Unlock()

		select {
		case <-m.done:
			return
		case <-time.After(m.config.ReconnectDelay):
		}
	}
}

func (m *Manager) dial() (*websocket.Conn, error) {
	dialer := websocket.Dialer{
		HandshakeTimeout: m.config.HandshakeTimeout,
	}
	conn, _, err := dialer.Dial(m.config.URL, nil)
	return conn, err
}

// readLoop decodes inbound frames and hands them to the registered
// listeners until the transport fails
func (m *Manager) readLoop(conn *websocket.Conn) {
	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Debug("Gateway read error", logger.ErrorField(err))
			}
			conn.Close()
			return
		}

		var frame gateway.Frame
		if err := json.Unmarshal(message, &frame); err != nil {
			logger.Debug("Dropping undecodable frame from gateway",
				logger.ErrorField(err),
			)
			continue
		}

		m.mu.RLock()
		entry, ok := m.listeners[frame.Event]
		m.mu.RUnlock()
		if ok {
			entry.handler(frame.Data)
		}
	}
}

// Disconnect tears down the transport and clears every locally tracked
// listener. Idempotent: calling it without an active connection is a no-op.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	if !m.running {
		m.listeners = make(map[string]listenerEntry)
		m.mu.Unlock()
		return
	}
	m.running = false
	close(m.done)
	if m.conn != nil {
		m.conn.Close()
		m.conn = nil
	}
	m.listeners = make(map[string]listenerEntry)
	m.mu.Unlock()

	m.wg.Wait()
}

// IsRunning reports whether the reconnect loop is active. False after
// Disconnect and after reconnect attempts are exhausted.
func (m *Manager) IsRunning() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.running
}

// IsConnected reports whether a live transport exists right now
func (m *Manager) IsConnected() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.conn != nil
}

// On registers the single callback for an event name, replacing any
// earlier registration for that name
func (m *Manager) On(event string, handler Handler) {
	m.Subscribe(event, handler)
}

// Off removes the callback registered for an event name
func (m *Manager) Off(event string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.listeners, event)
}

// Subscribe registers a callback and returns a token for its removal. A
// later Subscribe or On for the same event replaces the callback and
// invalidates the earlier token.
func (m *Manager) Subscribe(event string, handler Handler) Token {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextSeq++
	m.listeners[event] = listenerEntry{seq: m.nextSeq, handler: handler}
	return Token{event: event, seq: m.nextSeq}
}

// Unsubscribe removes the subscription identified by the token. A token
// whose registration has already been replaced is ignored, so a stale
// unsubscribe cannot detach a newer handler.
func (m *Manager) Unsubscribe(token Token) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if entry, ok := m.listeners[token.event]; ok && entry.seq == token.seq {
		delete(m.listeners, token.event)
	}
}

// RemoveAllListeners clears every locally tracked callback without closing
// the transport
func (m *Manager) RemoveAllListeners() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = make(map[string]listenerEntry)
}

// ListenerCount returns the number of tracked event subscriptions
func (m *Manager) ListenerCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.listeners)
}

// Emit sends a named event to the gateway. A no-op without an active
// connection; transport errors are logged, never returned.
func (m *Manager) Emit(event string, payload interface{}) {
	m.mu.RLock()
	conn := m.conn
	m.mu.RUnlock()
	if conn == nil {
		return
	}

	frame, err := gateway.EncodeFrame(event, payload)
	if err != nil {
		logger.Error("Failed to encode event",
			logger.ErrorField(err),
			logger.String("event", event),
		)
		return
	}

	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(m.config.WriteTimeout))
	if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
		logger.Debug("Failed to send event to gateway",
			logger.ErrorField(err),
			logger.String("event", event),
		)
	}
}

// JoinUser identifies this client to the gateway
func (m *Manager) JoinUser(userID string) {
	m.Emit(gateway.EventUserJoin, userID)
}

// EmitOrderCreated announces a new order
func (m *Manager) EmitOrderCreated(orderData interface{}) {
	m.Emit(gateway.EventOrderCreated, orderData)
}

// EmitProductUpdated announces a product update
func (m *Manager) EmitProductUpdated(productData interface{}) {
	m.Emit(gateway.EventProductUpdated, productData)
}

// EmitPriceChanged announces a price change
func (m *Manager) EmitPriceChanged(priceData interface{}) {
	m.Emit(gateway.EventPriceChanged, priceData)
}

// EmitStockUpdate announces a stock update
func (m *Manager) EmitStockUpdate(stockData interface{}) {
	m.Emit(gateway.EventStockUpdate, stockData)
}

// SendChatMessage sends a chat message to another user
func (m *Manager) SendChatMessage(msg gateway.ChatMessagePayload) {
	m.Emit(gateway.EventChatSend, msg)
}

// SendTyping sends a typing indicator to another user
func (m *Manager) SendTyping(typing gateway.TypingPayload) {
	m.Emit(gateway.EventChatTyping, typing)
}
