package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MockNotificationStore is an in-memory implementation of NotificationStore
// for testing
type MockNotificationStore struct {
	mu            sync.Mutex
	Notifications map[string][]*Notification // user_id -> notifications
	SaveErr       error
}

// NewMockNotificationStore creates an empty mock notification store
func NewMockNotificationStore() *MockNotificationStore {
	return &MockNotificationStore{
		Notifications: make(map[string][]*Notification),
	}
}

func (m *MockNotificationStore) Save(ctx context.Context, n *Notification) error {
	if m.SaveErr != nil {
		return m.SaveErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if n.ID == "" {
		n.ID = uuid.New().String()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now()
	}
	m.Notifications[n.UserID] = append(m.Notifications[n.UserID], n)
	return nil
}

func (m *MockNotificationStore) ListByUser(ctx context.Context, userID string, limit int) ([]*Notification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	all := append([]*Notification(nil), m.Notifications[userID]...)
	sort.Slice(all, func(i, j int) bool {
		return all[i].CreatedAt.After(all[j].CreatedAt)
	})
	if limit > 0 && len(all) > limit {
		all = all[:limit]
	}
	return all, nil
}

func (m *MockNotificationStore) UnreadCount(ctx context.Context, userID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for _, n := range m.Notifications[userID] {
		if !n.Read {
			count++
		}
	}
	return count, nil
}

func (m *MockNotificationStore) MarkRead(ctx context.Context, userID string, id string) (*Notification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, n := range m.Notifications[userID] {
		if n.ID == id {
			n.Read = true
			return n, nil
		}
	}
	return nil, fmt.Errorf("notification not found")
}

func (m *MockNotificationStore) MarkAllRead(ctx context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, n := range m.Notifications[userID] {
		n.Read = true
	}
	return nil
}

func (m *MockNotificationStore) Delete(ctx context.Context, userID string, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	list := m.Notifications[userID]
	for i, n := range list {
		if n.ID == id {
			m.Notifications[userID] = append(list[:i], list[i+1:]...)
			return nil
		}
	}
	return nil
}

func (m *MockNotificationStore) ClearRead(ctx context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	remaining := m.Notifications[userID][:0]
	for _, n := range m.Notifications[userID] {
		if !n.Read {
			remaining = append(remaining, n)
		}
	}
	m.Notifications[userID] = remaining
	return nil
}

// MockMessageStore is an in-memory implementation of MessageStore for
// testing
type MockMessageStore struct {
	mu       sync.Mutex
	Messages []*ChatMessage
	SaveErr  error
}

// NewMockMessageStore creates an empty mock message store
func NewMockMessageStore() *MockMessageStore {
	return &MockMessageStore{}
}

func (m *MockMessageStore) Save(ctx context.Context, msg *ChatMessage) error {
	if m.SaveErr != nil {
		return m.SaveErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}
	m.Messages = append(m.Messages, msg)
	return nil
}

func (m *MockMessageStore) Conversation(ctx context.Context, userID, otherUserID string, limit int) ([]*ChatMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var result []*ChatMessage
	for _, msg := range m.Messages {
		if (msg.SenderID == userID && msg.ReceiverID == otherUserID) ||
			(msg.SenderID == otherUserID && msg.ReceiverID == userID) {
			result = append(result, msg)
		}
	}
	if limit > 0 && len(result) > limit {
		result = result[len(result)-limit:]
	}
	return result, nil
}

func (m *MockMessageStore) UnreadCount(ctx context.Context, receiverID, senderID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for _, msg := range m.Messages {
		if msg.ReceiverID == receiverID && msg.SenderID == senderID && !msg.Read {
			count++
		}
	}
	return count, nil
}

func (m *MockMessageStore) UnreadTotal(ctx context.Context, receiverID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for _, msg := range m.Messages {
		if msg.ReceiverID == receiverID && !msg.Read {
			count++
		}
	}
	return count, nil
}

func (m *MockMessageStore) MarkConversationRead(ctx context.Context, receiverID, senderID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	for _, msg := range m.Messages {
		if msg.ReceiverID == receiverID && msg.SenderID == senderID && !msg.Read {
			msg.Read = true
			msg.ReadAt = &now
		}
	}
	return nil
}

func (m *MockMessageStore) Conversations(ctx context.Context, userID string) ([]*ConversationSummary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	byPartner := make(map[string]*ConversationSummary)
	for _, msg := range m.Messages {
		var partnerID string
		switch userID {
		case msg.SenderID:
			partnerID = msg.ReceiverID
		case msg.ReceiverID:
			partnerID = msg.SenderID
		default:
			continue
		}
		summary := byPartner[partnerID]
		if summary == nil {
			summary = &ConversationSummary{PartnerID: partnerID}
			byPartner[partnerID] = summary
		}
		if summary.LastMessage == nil || msg.CreatedAt.After(summary.LastMessage.CreatedAt) {
			summary.LastMessage = msg
		}
		if msg.ReceiverID == userID && !msg.Read {
			summary.UnreadCount++
		}
	}

	summaries := make([]*ConversationSummary, 0, len(byPartner))
	for _, summary := range byPartner {
		summaries = append(summaries, summary)
	}
	sort.Slice(summaries, func(i, j int) bool {
		return summaries[i].LastMessage.CreatedAt.After(summaries[j].LastMessage.CreatedAt)
	})
	return summaries, nil
}

func (m *MockMessageStore) HasConversation(ctx context.Context, userID, otherUserID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, msg := range m.Messages {
		if (msg.SenderID == userID && msg.ReceiverID == otherUserID) ||
			(msg.SenderID == otherUserID && msg.ReceiverID == userID) {
			return true, nil
		}
	}
	return false, nil
}

func (m *MockMessageStore) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, msg := range m.Messages {
		if msg.ID == id {
			m.Messages = append(m.Messages[:i], m.Messages[i+1:]...)
			return nil
		}
	}
	return ErrNotFound
}
