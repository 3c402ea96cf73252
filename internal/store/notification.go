package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
)

// RedisNotificationStore persists notifications in a Redis hash per user,
// keyed by notification ID
type RedisNotificationStore struct {
	client *Client
}

// NewRedisNotificationStore creates a notification store over a Redis client
func NewRedisNotificationStore(client *Client) *RedisNotificationStore {
	return &RedisNotificationStore{client: client}
}

func notificationsKey(userID string) string {
	return "notifications:" + userID
}

// Save persists a notification, assigning an ID and creation time if unset
func (s *RedisNotificationStore) Save(ctx context.Context, n *Notification) error {
	if n.UserID == "" {
		return fmt.Errorf("notification requires a user id")
	}
	if n.ID == "" {
		n.ID = uuid.New().String()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now()
	}

	data, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("failed to marshal notification: %w", err)
	}

	if err := s.client.rdb.HSet(ctx, notificationsKey(n.UserID), n.ID, data).Err(); err != nil {
		return fmt.Errorf("failed to save notification: %w", err)
	}
	return nil
}

// ListByUser returns a user's notifications, newest first
func (s *RedisNotificationStore) ListByUser(ctx context.Context, userID string, limit int) ([]*Notification, error) {
	all, err := s.load(ctx, userID)
	if err != nil {
		return nil, err
	}

	sort.Slice(all, func(i, j int) bool {
		return all[i].CreatedAt.After(all[j].CreatedAt)
	})

	if limit > 0 && len(all) > limit {
		all = all[:limit]
	}
	return all, nil
}

// UnreadCount returns the number of unread notifications for a user
func (s *RedisNotificationStore) UnreadCount(ctx context.Context, userID string) (int, error) {
	all, err := s.load(ctx, userID)
	if err != nil {
		return 0, err
	}

	count := 0
	for _, n := range all {
		if !n.Read {
			count++
		}
	}
	return count, nil
}

// MarkRead marks one notification as read and returns the updated record
func (s *RedisNotificationStore) MarkRead(ctx context.Context, userID string, id string) (*Notification, error) {
	data, err := s.client.rdb.HGet(ctx, notificationsKey(userID), id).Result()
	if err != nil {
		return nil, fmt.Errorf("notification not found: %w", err)
	}

	var n Notification
	if err := json.Unmarshal([]byte(data), &n); err != nil {
		return nil, fmt.Errorf("failed to unmarshal notification: %w", err)
	}

	n.Read = true
	updated, err := json.Marshal(&n)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal notification: %w", err)
	}
	if err := s.client.rdb.HSet(ctx, notificationsKey(userID), id, updated).Err(); err != nil {
		return nil, fmt.Errorf("failed to update notification: %w", err)
	}
	return &n, nil
}

// MarkAllRead marks every unread notification for a user as read
func (s *RedisNotificationStore) MarkAllRead(ctx context.Context, userID string) error {
	all, err := s.load(ctx, userID)
	if err != nil {
		return err
	}

	pipe := s.client.rdb.Pipeline()
	for _, n := range all {
		if n.Read {
			continue
		}
		n.Read = true
		data, err := json.Marshal(n)
		if err != nil {
			return fmt.Errorf("failed to marshal notification: %w", err)
		}
		pipe.HSet(ctx, notificationsKey(userID), n.ID, data)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to mark notifications read: %w", err)
	}
	return nil
}

// Delete removes one notification
func (s *RedisNotificationStore) Delete(ctx context.Context, userID string, id string) error {
	if err := s.client.rdb.HDel(ctx, notificationsKey(userID), id).Err(); err != nil {
		return fmt.Errorf("failed to delete notification: %w", err)
	}
	return nil
}

// ClearRead removes every read notification for a user
func (s *RedisNotificationStore) ClearRead(ctx context.Context, userID string) error {
	all, err := s.load(ctx, userID)
	if err != nil {
		return err
	}

	ids := make([]string, 0, len(all))
	for _, n := range all {
		if n.Read {
			ids = append(ids, n.ID)
		}
	}
	if len(ids) == 0 {
		return nil
	}

	if err := s.client.rdb.HDel(ctx, notificationsKey(userID), ids...).Err(); err != nil {
		return fmt.Errorf("failed to clear read notifications: %w", err)
	}
	return nil
}

func (s *RedisNotificationStore) load(ctx context.Context, userID string) ([]*Notification, error) {
	values, err := s.client.rdb.HGetAll(ctx, notificationsKey(userID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load notifications: %w", err)
	}

	notifications := make([]*Notification, 0, len(values))
	for _, raw := range values {
		var n Notification
		if err := json.Unmarshal([]byte(raw), &n); err != nil {
			// Skip records that no longer decode
			continue
		}
		notifications = append(notifications, &n)
	}
	return notifications, nil
}
