package gateway

import (
	"encoding/json"
	"time"
)

// Event names received from clients
const (
	EventUserJoin       = "user:join"
	EventOrderCreated   = "order:created"
	EventProductUpdated = "product:updated"
	EventPriceChanged   = "price:changed"
	EventStockUpdate    = "stock:update"
	EventChatSend       = "chat:sendMessage"
	EventChatTyping     = "chat:typing"
)

// Event names emitted to clients
const (
	EventUserOnline          = "user:online"
	EventUserOffline         = "user:offline"
	EventNotifyNewOrder      = "notification:newOrder"
	EventNotifyProductUpdate = "notification:productUpdate"
	EventNotifyPriceChange   = "notification:priceChange"
	EventNotifyStockUpdate   = "notification:stockUpdate"
	EventNotifyNew           = "notification:new"
	EventNotifyNewMessage    = "notification:newMessage"
	EventChatReceive         = "chat:receiveMessage"
	EventChatSent            = "chat:messageSent"
	EventChatUserTyping      = "chat:userTyping"
	EventChatNewMessage      = "chat:newMessage"
)

// Frame is the wire format for every message on a connection: a named event
// plus its JSON payload
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// EncodeFrame marshals an event and its payload into a wire frame
func EncodeFrame(event string, payload interface{}) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Frame{Event: event, Data: data})
}

// NotificationType classifies a broadcast notification envelope
type NotificationType string

const (
	TypeNewOrder          NotificationType = "NEW_ORDER"
	TypeOrderStatusUpdate NotificationType = "ORDER_STATUS_UPDATE"
	TypeProductUpdate     NotificationType = "PRODUCT_UPDATE"
	TypePriceChange       NotificationType = "PRICE_CHANGE"
	TypeStockUpdate       NotificationType = "STOCK_UPDATE"
	TypeNewMessage        NotificationType = "NEW_MESSAGE"
	TypePayment           NotificationType = "PAYMENT"
	TypeSystem            NotificationType = "SYSTEM"
)

// Envelope wraps a broadcast notification. Data carries the original event
// payload untouched; Timestamp is set when the envelope is built, not when
// it is delivered.
type Envelope struct {
	Type      NotificationType `json:"type"`
	Message   string           `json:"message"`
	Data      json.RawMessage  `json:"data"`
	Timestamp time.Time        `json:"timestamp"`
}

// NewEnvelope builds a notification envelope around an opaque payload
func NewEnvelope(t NotificationType, message string, data json.RawMessage) Envelope {
	return Envelope{
		Type:      t,
		Message:   message,
		Data:      data,
		Timestamp: time.Now(),
	}
}

// PresenceEvent is the payload of user:online and user:offline
type PresenceEvent struct {
	UserID string `json:"userId"`
}

// ChatMessagePayload is the payload of an inbound chat:sendMessage
type ChatMessagePayload struct {
	RecipientID string `json:"recipientId"`
	SenderID    string `json:"senderId"`
	SenderName  string `json:"senderName"`
	Message     string `json:"message"`
}

// ChatDelivery is the payload of chat:receiveMessage sent to the recipient
type ChatDelivery struct {
	SenderID   string    `json:"senderId"`
	SenderName string    `json:"senderName"`
	Message    string    `json:"message"`
	Timestamp  time.Time `json:"timestamp"`
}

// ChatReceipt is the best-effort delivery receipt returned to the sender.
// Delivered reports whether the recipient had a live registry entry at send
// time; it is not a durable read receipt.
type ChatReceipt struct {
	Success     bool   `json:"success"`
	RecipientID string `json:"recipientId"`
	Delivered   bool   `json:"delivered"`
}

// TypingPayload is the payload of an inbound chat:typing
type TypingPayload struct {
	RecipientID string `json:"recipientId"`
	IsTyping    bool   `json:"isTyping"`
	SenderName  string `json:"senderName"`
}

// TypingEvent is the payload of chat:userTyping sent to the recipient
type TypingEvent struct {
	UserID     string `json:"userId"`
	SenderName string `json:"senderName"`
	IsTyping   bool   `json:"isTyping"`
}
