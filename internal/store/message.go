package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RedisMessageStore persists chat messages in a Redis list per conversation,
// with unread counters per (receiver, sender) pair
type RedisMessageStore struct {
	client *Client
}

// NewRedisMessageStore creates a message store over a Redis client
func NewRedisMessageStore(client *Client) *RedisMessageStore {
	return &RedisMessageStore{client: client}
}

// conversationKey is direction-independent so both participants read the
// same list
func conversationKey(a, b string) string {
	if a > b {
		a, b = b, a
	}
	return "messages:" + a + ":" + b
}

func unreadKey(receiverID, senderID string) string {
	return "unread:" + receiverID + ":" + senderID
}

func unreadSetKey(receiverID string) string {
	return "unread-from:" + receiverID
}

func partnersKey(userID string) string {
	return "conversation-partners:" + userID
}

// messageIndexKey maps message ID to its conversation list key, so a message
// can be deleted by ID alone
const messageIndexKey = "message-index"

// Save persists a chat message and bumps the receiver's unread counter
func (s *RedisMessageStore) Save(ctx context.Context, msg *ChatMessage) error {
	if msg.SenderID == "" || msg.ReceiverID == "" {
		return fmt.Errorf("message requires sender and receiver ids")
	}
	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	convKey := conversationKey(msg.SenderID, msg.ReceiverID)
	pipe := s.client.rdb.Pipeline()
	pipe.RPush(ctx, convKey, data)
	pipe.Incr(ctx, unreadKey(msg.ReceiverID, msg.SenderID))
	pipe.SAdd(ctx, unreadSetKey(msg.ReceiverID), msg.SenderID)
	pipe.SAdd(ctx, partnersKey(msg.SenderID), msg.ReceiverID)
	pipe.SAdd(ctx, partnersKey(msg.ReceiverID), msg.SenderID)
	pipe.HSet(ctx, messageIndexKey, msg.ID, convKey)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to save message: %w", err)
	}
	return nil
}

// Conversation returns the most recent messages between two users in
// chronological order
func (s *RedisMessageStore) Conversation(ctx context.Context, userID, otherUserID string, limit int) ([]*ChatMessage, error) {
	start := int64(0)
	if limit > 0 {
		start = int64(-limit)
	}

	values, err := s.client.rdb.LRange(ctx, conversationKey(userID, otherUserID), start, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load conversation: %w", err)
	}

	messages := make([]*ChatMessage, 0, len(values))
	for _, raw := range values {
		var msg ChatMessage
		if err := json.Unmarshal([]byte(raw), &msg); err != nil {
			continue
		}
		messages = append(messages, &msg)
	}
	return messages, nil
}

// UnreadCount returns the number of unread messages sent to receiver by
// sender
func (s *RedisMessageStore) UnreadCount(ctx context.Context, receiverID, senderID string) (int, error) {
	count, err := s.client.rdb.Get(ctx, unreadKey(receiverID, senderID)).Int()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to load unread count: %w", err)
	}
	return count, nil
}

// UnreadTotal returns the number of unread messages for a receiver across
// all senders
func (s *RedisMessageStore) UnreadTotal(ctx context.Context, receiverID string) (int, error) {
	senders, err := s.client.rdb.SMembers(ctx, unreadSetKey(receiverID)).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to load unread senders: %w", err)
	}

	total := 0
	for _, senderID := range senders {
		count, err := s.UnreadCount(ctx, receiverID, senderID)
		if err != nil {
			return 0, err
		}
		total += count
	}
	return total, nil
}

// MarkConversationRead flags everything sent to receiver by sender as read
// in the stored conversation and resets the unread counters. Concurrent
// sends only append, so rewriting entries by index is safe.
func (s *RedisMessageStore) MarkConversationRead(ctx context.Context, receiverID, senderID string) error {
	key := conversationKey(receiverID, senderID)
	values, err := s.client.rdb.LRange(ctx, key, 0, -1).Result()
	if err != nil {
		return fmt.Errorf("failed to load conversation: %w", err)
	}

	now := time.Now()
	pipe := s.client.rdb.Pipeline()
	for i, raw := range values {
		var msg ChatMessage
		if err := json.Unmarshal([]byte(raw), &msg); err != nil {
			continue
		}
		if msg.ReceiverID != receiverID || msg.SenderID != senderID || msg.Read {
			continue
		}
		msg.Read = true
		msg.ReadAt = &now
		data, err := json.Marshal(&msg)
		if err != nil {
			continue
		}
		pipe.LSet(ctx, key, int64(i), data)
	}
	pipe.Del(ctx, unreadKey(receiverID, senderID))
	pipe.SRem(ctx, unreadSetKey(receiverID), senderID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to mark conversation read: %w", err)
	}
	return nil
}

// Conversations returns one summary per chat partner, newest conversation
// first. Partners without any stored messages are skipped.
func (s *RedisMessageStore) Conversations(ctx context.Context, userID string) ([]*ConversationSummary, error) {
	partners, err := s.client.rdb.SMembers(ctx, partnersKey(userID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load conversation partners: %w", err)
	}

	summaries := make([]*ConversationSummary, 0, len(partners))
	for _, partnerID := range partners {
		raw, err := s.client.rdb.LIndex(ctx, conversationKey(userID, partnerID), -1).Result()
		if err == redis.Nil {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to load last message: %w", err)
		}
		var last ChatMessage
		if err := json.Unmarshal([]byte(raw), &last); err != nil {
			continue
		}
		count, err := s.UnreadCount(ctx, userID, partnerID)
		if err != nil {
			return nil, err
		}
		summaries = append(summaries, &ConversationSummary{
			PartnerID:   partnerID,
			LastMessage: &last,
			UnreadCount: count,
		})
	}

	sort.Slice(summaries, func(i, j int) bool {
		return summaries[i].LastMessage.CreatedAt.After(summaries[j].LastMessage.CreatedAt)
	})
	return summaries, nil
}

// HasConversation reports whether any messages exist between two users
func (s *RedisMessageStore) HasConversation(ctx context.Context, userID, otherUserID string) (bool, error) {
	length, err := s.client.rdb.LLen(ctx, conversationKey(userID, otherUserID)).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check conversation: %w", err)
	}
	return length > 0, nil
}

// Delete removes a single message by ID. Deleting an unread message also
// rolls its unread counter back.
func (s *RedisMessageStore) Delete(ctx context.Context, id string) error {
	key, err := s.client.rdb.HGet(ctx, messageIndexKey, id).Result()
	if err == redis.Nil {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to resolve message: %w", err)
	}

	values, err := s.client.rdb.LRange(ctx, key, 0, -1).Result()
	if err != nil {
		return fmt.Errorf("failed to load conversation: %w", err)
	}

	for _, raw := range values {
		var msg ChatMessage
		if err := json.Unmarshal([]byte(raw), &msg); err != nil || msg.ID != id {
			continue
		}

		pipe := s.client.rdb.Pipeline()
		pipe.LRem(ctx, key, 1, raw)
		pipe.HDel(ctx, messageIndexKey, id)
		if _, err := pipe.Exec(ctx); err != nil {
			return fmt.Errorf("failed to delete message: %w", err)
		}

		if !msg.Read {
			remaining, err := s.client.rdb.Decr(ctx, unreadKey(msg.ReceiverID, msg.SenderID)).Result()
			if err == nil && remaining <= 0 {
				s.client.rdb.Del(ctx, unreadKey(msg.ReceiverID, msg.SenderID))
				s.client.rdb.SRem(ctx, unreadSetKey(msg.ReceiverID), msg.SenderID)
			}
		}
		return nil
	}

	// Index pointed at a list the message is no longer in
	s.client.rdb.HDel(ctx, messageIndexKey, id)
	return ErrNotFound
}
