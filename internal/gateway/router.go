package gateway

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/farm2retail/realtime-gateway/pkg/logger"
)

// Router classifies inbound frames and dispatches them per a fixed routing
// table: presence joins, broadcast notifications, and point-to-point chat.
// Delivery is attempted once at dispatch time; there is no queue or replay.
type Router struct {
	registry *Registry
	presence *Presence
	stats    *Stats
}

// NewRouter creates an event router over a registry
func NewRouter(registry *Registry, presence *Presence, stats *Stats) *Router {
	return &Router{
		registry: registry,
		presence: presence,
		stats:    stats,
	}
}

// Dispatch routes one inbound frame from a connection. Undecodable frames
// and unknown events are logged and skipped; the router never returns an
// error to the wire.
func (r *Router) Dispatch(conn *Connection, raw []byte) {
	var frame Frame
	if err := json.Unmarshal(raw, &frame); err != nil {
		logger.Debug("Dropping undecodable frame",
			logger.ErrorField(err),
			logger.String("connection_id", conn.ID),
		)
		return
	}

	r.stats.recordEvent()
	logger.EventsRouted.WithLabelValues(frame.Event).Inc()

	switch frame.Event {
	case EventUserJoin:
		r.handleJoin(conn, frame.Data)

	case EventOrderCreated:
		msg := fmt.Sprintf("New order #%s received", payloadField(frame.Data, "orderId"))
		r.broadcast(EventNotifyNewOrder, NewEnvelope(TypeNewOrder, msg, frame.Data))

	case EventProductUpdated:
		msg := fmt.Sprintf("Product %q has been updated", payloadField(frame.Data, "title"))
		r.broadcast(EventNotifyProductUpdate, NewEnvelope(TypeProductUpdate, msg, frame.Data))

	case EventPriceChanged:
		msg := fmt.Sprintf("Price updated for %s", payloadField(frame.Data, "productTitle"))
		r.broadcast(EventNotifyPriceChange, NewEnvelope(TypePriceChange, msg, frame.Data))

	case EventStockUpdate:
		msg := fmt.Sprintf("Stock updated for %s", payloadField(frame.Data, "productTitle"))
		r.broadcast(EventNotifyStockUpdate, NewEnvelope(TypeStockUpdate, msg, frame.Data))

	case EventChatSend:
		r.handleChatSend(conn, frame.Data)

	case EventChatTyping:
		r.handleTyping(conn, frame.Data)

	default:
		logger.Debug("Ignoring unknown event",
			logger.String("event", frame.Event),
			logger.String("connection_id", conn.ID),
		)
	}
}

// handleJoin binds the user identity to this connection and announces the
// user online to everyone else. A join for an already-mapped user silently
// supersedes the earlier connection.
func (r *Router) handleJoin(conn *Connection, data json.RawMessage) {
	var userID string
	if err := json.Unmarshal(data, &userID); err != nil || userID == "" {
		logger.Debug("Dropping user:join without a user id",
			logger.String("connection_id", conn.ID),
		)
		return
	}

	prior := r.registry.Bind(userID, conn)
	if prior != nil {
		logger.Info("User session superseded",
			logger.String("user_id", userID),
			logger.String("old_connection_id", prior.ID),
			logger.String("new_connection_id", conn.ID),
		)
	}

	logger.Info("User joined",
		logger.String("user_id", userID),
		logger.String("connection_id", conn.ID),
	)
	logger.UsersOnline.Set(float64(r.registry.OnlineCount()))

	r.stats.recordPresence()
	r.presence.AnnounceOnline(conn, userID)
}

// handleChatSend delivers a chat message to the recipient's connection if
// the recipient has a live registry entry, then returns a best-effort
// receipt to the sender either way.
func (r *Router) handleChatSend(conn *Connection, data json.RawMessage) {
	var msg ChatMessagePayload
	if err := json.Unmarshal(data, &msg); err != nil {
		logger.Debug("Dropping malformed chat message",
			logger.ErrorField(err),
			logger.String("connection_id", conn.ID),
		)
		return
	}

	recipient, delivered := r.registry.Lookup(msg.RecipientID)
	if delivered {
		recipient.SendEvent(EventChatReceive, ChatDelivery{
			SenderID:   msg.SenderID,
			SenderName: msg.SenderName,
			Message:    msg.Message,
			Timestamp:  time.Now(),
		})
		logger.ChatDeliveries.WithLabelValues("delivered").Inc()
		r.stats.recordChatDelivered()
	} else {
		logger.ChatDeliveries.WithLabelValues("dropped").Inc()
		r.stats.recordChatDropped()
	}

	conn.SendEvent(EventChatSent, ChatReceipt{
		Success:     true,
		RecipientID: msg.RecipientID,
		Delivered:   delivered,
	})
}

// handleTyping forwards a typing indicator to the recipient; silently
// dropped when the recipient is unreachable
func (r *Router) handleTyping(conn *Connection, data json.RawMessage) {
	var typing TypingPayload
	if err := json.Unmarshal(data, &typing); err != nil {
		logger.Debug("Dropping malformed typing indicator",
			logger.ErrorField(err),
			logger.String("connection_id", conn.ID),
		)
		return
	}

	recipient, ok := r.registry.Lookup(typing.RecipientID)
	if !ok {
		return
	}

	recipient.SendEvent(EventChatUserTyping, TypingEvent{
		UserID:     conn.UserID(),
		SenderName: typing.SenderName,
		IsTyping:   typing.IsTyping,
	})
}

// broadcast fans an envelope out to every live connection, identified or
// not. Connections joining afterward never receive it.
func (r *Router) broadcast(event string, env Envelope) {
	frame, err := EncodeFrame(event, env)
	if err != nil {
		logger.Error("Failed to encode notification envelope",
			logger.ErrorField(err),
			logger.String("event", event),
		)
		return
	}

	connections := r.registry.All()
	for _, conn := range connections {
		conn.Enqueue(frame)
	}

	r.stats.recordBroadcast(len(connections))
	logger.BroadcastsSent.WithLabelValues(string(env.Type)).Inc()
	logger.Debug("Broadcast notification",
		logger.String("event", event),
		logger.String("type", string(env.Type)),
		logger.Int("recipients", len(connections)),
	)
}

// payloadField extracts a single field from an opaque payload for message
// composition. Missing or malformed payloads degrade to an empty string
// rather than an error.
func payloadField(data json.RawMessage, key string) string {
	var payload map[string]interface{}
	if err := json.Unmarshal(data, &payload); err != nil {
		return ""
	}
	value, ok := payload[key]
	if !ok {
		return ""
	}
	return fmt.Sprintf("%v", value)
}
