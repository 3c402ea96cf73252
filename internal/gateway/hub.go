package gateway

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/farm2retail/realtime-gateway/internal/config"
	"github.com/farm2retail/realtime-gateway/pkg/logger"
)

// Hub owns the websocket connections: it accepts them into the registry,
// runs their read/write pumps, routes their events and announces presence
// transitions on teardown.
type Hub struct {
	config   config.GatewayConfig
	registry *Registry
	presence *Presence
	router   *Router
	stats    *Stats
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	mu       sync.RWMutex
	running  bool
}

// NewHub creates a hub with its registry, presence tracker and router
func NewHub(cfg config.GatewayConfig) *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	registry := NewRegistry()
	presence := NewPresence(registry)
	stats := &Stats{}
	return &Hub{
		config:   cfg,
		registry: registry,
		presence: presence,
		router:   NewRouter(registry, presence, stats),
		stats:    stats,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start starts the hub's connection health monitor
func (h *Hub) Start() error {
	h.mu.Lock()
	if h.running {
		h.mu.Unlock()
		return nil
	}
	h.running = true
	h.mu.Unlock()

	logger.Info("Starting gateway hub",
		logger.Duration("ping_interval", h.config.PingInterval),
		logger.Int("max_connections", h.config.MaxConnections),
	)

	h.wg.Add(1)
	go h.monitorConnections()

	return nil
}

// Stop stops the hub and waits for connection handlers to drain
func (h *Hub) Stop() {
	h.mu.Lock()
	if !h.running {
		h.mu.Unlock()
		return
	}
	h.running = false
	h.mu.Unlock()

	logger.Info("Stopping gateway hub")
	h.cancel()
	h.wg.Wait()
	logger.Info("Gateway hub stopped")
}

// Register accepts a connection into the registry and starts its pumps
func (h *Hub) Register(conn *Connection) {
	h.registry.Add(conn)
	h.stats.recordConnection()
	logger.ConnectionsActive.Set(float64(h.registry.Count()))

	logger.Info("Connection registered",
		logger.String("connection_id", conn.ID),
		logger.Int("total_connections", h.registry.Count()),
	)

	h.wg.Add(2)
	go h.writePump(conn)
	go h.readPump(conn)
}

// Unregister removes a connection and, if it still owned its user mapping,
// announces the user offline to everyone left. Both pumps call Unregister on
// exit; the registry reports which call actually removed the connection so
// the log, gauges and offline announcement fire once.
func (h *Hub) Unregister(conn *Connection) {
	userID, present, owned := h.registry.Remove(conn)
	conn.Close()
	if !present {
		return
	}
	logger.ConnectionsActive.Set(float64(h.registry.Count()))
	logger.UsersOnline.Set(float64(h.registry.OnlineCount()))

	logger.Info("Connection unregistered",
		logger.String("connection_id", conn.ID),
		logger.String("user_id", userID),
		logger.Int("total_connections", h.registry.Count()),
	)

	if owned {
		h.stats.recordPresence()
		h.presence.AnnounceOffline(userID)
	}
}

// NotifyUser pushes an event to one user's live connection. Returns false
// without error when the user has no registry entry; persistence of the
// notification is the caller's concern, not the hub's.
func (h *Hub) NotifyUser(userID string, event string, payload interface{}) bool {
	conn, ok := h.registry.Lookup(userID)
	if !ok {
		return false
	}
	if err := conn.SendEvent(event, payload); err != nil {
		logger.Debug("Failed to notify user",
			logger.ErrorField(err),
			logger.String("user_id", userID),
		)
		return false
	}
	return true
}

// Broadcast pushes an event to every live connection
func (h *Hub) Broadcast(event string, payload interface{}) {
	frame, err := EncodeFrame(event, payload)
	if err != nil {
		logger.Error("Failed to encode broadcast",
			logger.ErrorField(err),
			logger.String("event", event),
		)
		return
	}
	connections := h.registry.All()
	for _, conn := range connections {
		conn.Enqueue(frame)
	}
	h.stats.recordBroadcast(len(connections))
}

// OnlineUsers returns the IDs of every identified user
func (h *Hub) OnlineUsers() []string {
	return h.registry.OnlineUsers()
}

// OnlineCount returns the number of identified users
func (h *Hub) OnlineCount() int {
	return h.registry.OnlineCount()
}

// ConnectionCount returns the number of live connections
func (h *Hub) ConnectionCount() int {
	return h.registry.Count()
}

// writePump pumps queued frames to the websocket and keeps it alive with
// pings
func (h *Hub) writePump(conn *Connection) {
	defer h.wg.Done()
	defer h.Unregister(conn)

	ticker := time.NewTicker(h.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-h.ctx.Done():
			return

		case frame, ok := <-conn.Send:
			conn.Conn.SetWriteDeadline(time.Now().Add(h.config.WriteTimeout))
			if !ok {
				// Channel closed
				conn.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := conn.Conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}

		case <-ticker.C:
			conn.Conn.SetWriteDeadline(time.Now().Add(h.config.WriteTimeout))
			if err := conn.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump pumps inbound frames from the websocket into the router
func (h *Hub) readPump(conn *Connection) {
	defer h.wg.Done()
	defer h.Unregister(conn)

	conn.Conn.SetReadDeadline(time.Now().Add(h.config.ReadTimeout))
	conn.Conn.SetPongHandler(func(string) error {
		conn.UpdateLastPong()
		conn.Conn.SetReadDeadline(time.Now().Add(h.config.ReadTimeout))
		return nil
	})

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logger.Debug("WebSocket error",
					logger.ErrorField(err),
					logger.String("connection_id", conn.ID),
				)
			}
			break
		}

		h.router.Dispatch(conn, message)
	}
}

// monitorConnections removes connections whose pongs have gone stale
func (h *Hub) monitorConnections() {
	defer h.wg.Done()

	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-h.ctx.Done():
			return

		case <-ticker.C:
			now := time.Now()
			staleThreshold := h.config.ReadTimeout * 2

			for _, conn := range h.registry.All() {
				lastPong := conn.GetLastPong()
				if now.Sub(lastPong) > staleThreshold {
					logger.Info("Removing stale connection",
						logger.String("connection_id", conn.ID),
						logger.String("user_id", conn.UserID()),
						logger.Duration("idle_time", now.Sub(lastPong)),
					)
					h.Unregister(conn)
				}
			}
		}
	}
}

// GetStats returns a snapshot of hub statistics
func (h *Hub) GetStats() StatsSnapshot {
	snapshot := h.stats.snapshot()
	snapshot.ConnectionsActive = int64(h.registry.Count())
	snapshot.UsersOnline = int64(h.registry.OnlineCount())
	return snapshot
}

// Stats accumulates hub counters behind its own lock
type Stats struct {
	mu               sync.RWMutex
	connectionsTotal int64
	eventsRouted     int64
	broadcastsSent   int64
	framesBroadcast  int64
	chatDelivered    int64
	chatDropped      int64
	presenceEvents   int64
	lastEventTime    time.Time
}

// StatsSnapshot is a point-in-time copy of hub statistics
type StatsSnapshot struct {
	ConnectionsTotal  int64     `json:"connections_total"`
	ConnectionsActive int64     `json:"connections_active"`
	UsersOnline       int64     `json:"users_online"`
	EventsRouted      int64     `json:"events_routed"`
	BroadcastsSent    int64     `json:"broadcasts_sent"`
	FramesBroadcast   int64     `json:"frames_broadcast"`
	ChatDelivered     int64     `json:"chat_delivered"`
	ChatDropped       int64     `json:"chat_dropped"`
	PresenceEvents    int64     `json:"presence_events"`
	LastEventTime     time.Time `json:"last_event_time"`
}

func (s *Stats) recordConnection() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connectionsTotal++
}

func (s *Stats) recordEvent() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.eventsRouted++
	s.lastEventTime = time.Now()
}

func (s *Stats) recordBroadcast(recipients int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.broadcastsSent++
	s.framesBroadcast += int64(recipients)
}

func (s *Stats) recordChatDelivered() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.chatDelivered++
}

func (s *Stats) recordChatDropped() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.chatDropped++
}

func (s *Stats) recordPresence() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.presenceEvents++
}

func (s *Stats) snapshot() StatsSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return StatsSnapshot{
		ConnectionsTotal: s.connectionsTotal,
		EventsRouted:     s.eventsRouted,
		BroadcastsSent:   s.broadcastsSent,
		FramesBroadcast:  s.framesBroadcast,
		ChatDelivered:    s.chatDelivered,
		ChatDropped:      s.chatDropped,
		PresenceEvents:   s.presenceEvents,
		LastEventTime:    s.lastEventTime,
	}
}
