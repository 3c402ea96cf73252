package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/farm2retail/realtime-gateway/internal/gateway"
)

// ErrNotFound reports a record that does not exist
var ErrNotFound = errors.New("record not found")

// Notification is a persisted copy of a notification delivered (or not) over
// the socket. Persistence and delivery are independent, individually
// failable operations with no transactional link.
type Notification struct {
	ID        string                   `json:"id"`
	UserID    string                   `json:"userId"`
	Type      gateway.NotificationType `json:"type"`
	Title     string                   `json:"title"`
	Message   string                   `json:"message"`
	Data      json.RawMessage          `json:"data,omitempty"`
	Link      string                   `json:"link,omitempty"`
	Read      bool                     `json:"read"`
	CreatedAt time.Time                `json:"createdAt"`
}

// ChatMessage is a persisted chat message between two users
type ChatMessage struct {
	ID         string     `json:"id"`
	SenderID   string     `json:"senderId"`
	ReceiverID string     `json:"receiverId"`
	Message    string     `json:"message"`
	Read       bool       `json:"read"`
	CreatedAt  time.Time  `json:"createdAt"`
	ReadAt     *time.Time `json:"readAt,omitempty"`
}

// ConversationSummary pairs a chat partner with the latest message between
// them and the caller's unread count for that thread
type ConversationSummary struct {
	PartnerID   string       `json:"partnerId"`
	LastMessage *ChatMessage `json:"lastMessage"`
	UnreadCount int          `json:"unreadCount"`
}

// NotificationStore defines the interface for notification persistence
type NotificationStore interface {
	// Save persists a notification
	Save(ctx context.Context, n *Notification) error

	// ListByUser returns a user's notifications, newest first
	ListByUser(ctx context.Context, userID string, limit int) ([]*Notification, error)

	// UnreadCount returns the number of unread notifications for a user
	UnreadCount(ctx context.Context, userID string) (int, error)

	// MarkRead marks one notification as read
	MarkRead(ctx context.Context, userID string, id string) (*Notification, error)

	// MarkAllRead marks every unread notification for a user as read
	MarkAllRead(ctx context.Context, userID string) error

	// Delete removes one notification
	Delete(ctx context.Context, userID string, id string) error

	// ClearRead removes every read notification for a user
	ClearRead(ctx context.Context, userID string) error
}

// MessageStore defines the interface for chat message persistence
type MessageStore interface {
	// Save persists a chat message
	Save(ctx context.Context, msg *ChatMessage) error

	// Conversation returns the most recent messages between two users in
	// chronological order, regardless of direction
	Conversation(ctx context.Context, userID, otherUserID string, limit int) ([]*ChatMessage, error)

	// UnreadCount returns the number of unread messages sent to receiver
	// by sender
	UnreadCount(ctx context.Context, receiverID, senderID string) (int, error)

	// UnreadTotal returns the number of unread messages for a receiver
	// across all senders
	UnreadTotal(ctx context.Context, receiverID string) (int, error)

	// MarkConversationRead marks everything sent to receiver by sender as
	// read
	MarkConversationRead(ctx context.Context, receiverID, senderID string) error

	// Conversations returns one summary per chat partner, newest first
	Conversations(ctx context.Context, userID string) ([]*ConversationSummary, error)

	// HasConversation reports whether any messages exist between two users
	HasConversation(ctx context.Context, userID, otherUserID string) (bool, error)

	// Delete removes a single message by ID
	Delete(ctx context.Context, id string) error
}
