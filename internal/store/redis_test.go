package store

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T) *Client {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return &Client{rdb: rdb}
}

func TestRedisMessageStore_SaveAndConversation(t *testing.T) {
	ctx := context.Background()
	s := NewRedisMessageStore(newTestClient(t))

	require.NoError(t, s.Save(ctx, &ChatMessage{SenderID: "user-1", ReceiverID: "user-2", Message: "hi"}))
	require.NoError(t, s.Save(ctx, &ChatMessage{SenderID: "user-2", ReceiverID: "user-1", Message: "hello"}))

	conv, err := s.Conversation(ctx, "user-2", "user-1", 10)
	require.NoError(t, err)
	require.Len(t, conv, 2)
	assert.Equal(t, "hi", conv[0].Message, "messages stay in chronological order")
	assert.NotEmpty(t, conv[0].ID)
	assert.False(t, conv[0].Read)
}

// Marking a conversation read must rewrite the persisted messages, not just
// reset the counters: a later Conversation load has to show read true with a
// read timestamp.
func TestRedisMessageStore_MarkConversationReadRewritesMessages(t *testing.T) {
	ctx := context.Background()
	s := NewRedisMessageStore(newTestClient(t))

	require.NoError(t, s.Save(ctx, &ChatMessage{SenderID: "user-1", ReceiverID: "user-2", Message: "a"}))
	require.NoError(t, s.Save(ctx, &ChatMessage{SenderID: "user-1", ReceiverID: "user-2", Message: "b"}))
	require.NoError(t, s.Save(ctx, &ChatMessage{SenderID: "user-2", ReceiverID: "user-1", Message: "reply"}))

	require.NoError(t, s.MarkConversationRead(ctx, "user-2", "user-1"))

	conv, err := s.Conversation(ctx, "user-2", "user-1", 10)
	require.NoError(t, err)
	require.Len(t, conv, 3)
	for _, msg := range conv {
		if msg.ReceiverID == "user-2" {
			assert.True(t, msg.Read, "message %q should be read", msg.Message)
			assert.NotNil(t, msg.ReadAt, "message %q should carry a read timestamp", msg.Message)
		} else {
			assert.False(t, msg.Read, "the reply the other way stays unread")
			assert.Nil(t, msg.ReadAt)
		}
	}

	count, err := s.UnreadCount(ctx, "user-2", "user-1")
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

func TestRedisMessageStore_UnreadCounters(t *testing.T) {
	ctx := context.Background()
	s := NewRedisMessageStore(newTestClient(t))

	require.NoError(t, s.Save(ctx, &ChatMessage{SenderID: "user-1", ReceiverID: "user-2", Message: "a"}))
	require.NoError(t, s.Save(ctx, &ChatMessage{SenderID: "user-1", ReceiverID: "user-2", Message: "b"}))
	require.NoError(t, s.Save(ctx, &ChatMessage{SenderID: "user-3", ReceiverID: "user-2", Message: "c"}))

	count, err := s.UnreadCount(ctx, "user-2", "user-1")
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	total, err := s.UnreadTotal(ctx, "user-2")
	require.NoError(t, err)
	assert.Equal(t, 3, total)

	require.NoError(t, s.MarkConversationRead(ctx, "user-2", "user-1"))

	total, err = s.UnreadTotal(ctx, "user-2")
	require.NoError(t, err)
	assert.Equal(t, 1, total, "messages from other senders stay unread")
}

func TestRedisMessageStore_Conversations(t *testing.T) {
	ctx := context.Background()
	s := NewRedisMessageStore(newTestClient(t))

	base := time.Now().Add(-time.Hour).Truncate(time.Second)
	require.NoError(t, s.Save(ctx, &ChatMessage{SenderID: "user-2", ReceiverID: "user-1", Message: "older thread", CreatedAt: base}))
	require.NoError(t, s.Save(ctx, &ChatMessage{SenderID: "user-1", ReceiverID: "user-3", Message: "outbound", CreatedAt: base.Add(time.Minute)}))
	require.NoError(t, s.Save(ctx, &ChatMessage{SenderID: "user-3", ReceiverID: "user-1", Message: "newest", CreatedAt: base.Add(2 * time.Minute)}))

	summaries, err := s.Conversations(ctx, "user-1")
	require.NoError(t, err)
	require.Len(t, summaries, 2)

	assert.Equal(t, "user-3", summaries[0].PartnerID, "most recent conversation comes first")
	assert.Equal(t, "newest", summaries[0].LastMessage.Message)
	assert.Equal(t, 1, summaries[0].UnreadCount)

	assert.Equal(t, "user-2", summaries[1].PartnerID)
	assert.Equal(t, "older thread", summaries[1].LastMessage.Message)
	assert.Equal(t, 1, summaries[1].UnreadCount)
}

func TestRedisMessageStore_HasConversation(t *testing.T) {
	ctx := context.Background()
	s := NewRedisMessageStore(newTestClient(t))

	require.NoError(t, s.Save(ctx, &ChatMessage{SenderID: "user-1", ReceiverID: "user-2", Message: "hi"}))

	exists, err := s.HasConversation(ctx, "user-2", "user-1")
	require.NoError(t, err)
	assert.True(t, exists)

	exists, err = s.HasConversation(ctx, "user-1", "user-3")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestRedisMessageStore_Delete(t *testing.T) {
	ctx := context.Background()
	s := NewRedisMessageStore(newTestClient(t))

	msg := &ChatMessage{SenderID: "user-1", ReceiverID: "user-2", Message: "oops"}
	require.NoError(t, s.Save(ctx, msg))
	require.NoError(t, s.Save(ctx, &ChatMessage{SenderID: "user-1", ReceiverID: "user-2", Message: "keep"}))

	require.NoError(t, s.Delete(ctx, msg.ID))

	conv, err := s.Conversation(ctx, "user-1", "user-2", 10)
	require.NoError(t, err)
	require.Len(t, conv, 1)
	assert.Equal(t, "keep", conv[0].Message)

	count, err := s.UnreadCount(ctx, "user-2", "user-1")
	require.NoError(t, err)
	assert.Equal(t, 1, count, "deleting an unread message rolls its counter back")

	assert.ErrorIs(t, s.Delete(ctx, "missing"), ErrNotFound)
}

func TestRedisNotificationStore_Lifecycle(t *testing.T) {
	ctx := context.Background()
	s := NewRedisNotificationStore(newTestClient(t))

	first := &Notification{UserID: "user-1", Type: "NEW_ORDER", Message: "New order #1 received", CreatedAt: time.Now().Add(-time.Minute)}
	second := &Notification{UserID: "user-1", Type: "NEW_MESSAGE", Message: "You have a new message"}
	require.NoError(t, s.Save(ctx, first))
	require.NoError(t, s.Save(ctx, second))

	list, err := s.ListByUser(ctx, "user-1", 10)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, second.ID, list[0].ID, "newest notification should come first")

	marked, err := s.MarkRead(ctx, "user-1", first.ID)
	require.NoError(t, err)
	assert.True(t, marked.Read)

	count, err := s.UnreadCount(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	require.NoError(t, s.ClearRead(ctx, "user-1"))
	list, err = s.ListByUser(ctx, "user-1", 10)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, second.ID, list[0].ID, "unread notifications survive the sweep")
}
