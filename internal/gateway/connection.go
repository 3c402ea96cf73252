package gateway

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/farm2retail/realtime-gateway/pkg/logger"
)

// Connection represents one live transport session with a client. A
// connection starts unidentified; it is tagged with a user ID when that
// client sends user:join.
type Connection struct {
	ID   string
	Conn *websocket.Conn
	Send chan []byte

	mu        sync.RWMutex
	userID    string
	lastPong  time.Time
	createdAt time.Time
	closed    bool

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
}

// NewConnection creates a connection wrapper around an accepted websocket
func NewConnection(id string, conn *websocket.Conn) *Connection {
	ctx, cancel := context.WithCancel(context.Background())
	return &Connection{
		ID:        id,
		Conn:      conn,
		Send:      make(chan []byte, 256),
		ctx:       ctx,
		cancel:    cancel,
		createdAt: time.Now(),
		lastPong:  time.Now(),
	}
}

// UserID returns the user tag set by user:join, or "" while unidentified
func (c *Connection) UserID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.userID
}

func (c *Connection) setUserID(userID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.userID = userID
}

// UpdateLastPong updates the last pong time
func (c *Connection) UpdateLastPong() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastPong = time.Now()
}

// GetLastPong returns the last pong time
func (c *Connection) GetLastPong() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastPong
}

// Enqueue queues an already-encoded frame for the write pump. Delivery is
// attempted once; if the send buffer stays full the frame is dropped. The
// read lock is held across the send so Close cannot close the channel
// underneath a sender.
func (c *Connection) Enqueue(frame []byte) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return c.ctx.Err()
	}

	select {
	case c.Send <- frame:
		return nil
	case <-c.ctx.Done():
		return c.ctx.Err()
	case <-time.After(1 * time.Second):
		// Read userID directly: the read lock is already held, and going
		// through UserID here would queue behind a writer blocked in Close
		// and deadlock
		logger.Warn("Send buffer full, dropping frame",
			logger.String("connection_id", c.ID),
			logger.String("user_id", c.userID),
		)
		return nil
	}
}

// SendEvent encodes an event frame and queues it for delivery
func (c *Connection) SendEvent(event string, payload interface{}) error {
	frame, err := EncodeFrame(event, payload)
	if err != nil {
		return err
	}
	return c.Enqueue(frame)
}

// Close tears down the transport. Safe to call more than once.
func (c *Connection) Close() {
	c.closeOnce.Do(func() {
		c.cancel()
		c.mu.Lock()
		c.closed = true
		close(c.Send)
		c.mu.Unlock()
		if c.Conn != nil {
			c.Conn.Close()
		}
	})
}

// ReadMessage reads a message from the underlying websocket
func (c *Connection) ReadMessage() (messageType int, p []byte, err error) {
	return c.Conn.ReadMessage()
}
