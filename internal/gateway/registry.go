package gateway

import (
	"sync"
)

// Registry tracks every live connection plus the user -> connection identity
// mapping. One active connection is tracked per user: a second join for the
// same user silently supersedes the earlier mapping. The registry is the
// only shared mutable state in the gateway and is never exposed for direct
// iteration or mutation.
type Registry struct {
	connections map[string]*Connection // connection_id -> connection
	byUser      map[string]*Connection // user_id -> current connection (last join wins)
	mu          sync.RWMutex
}

// NewRegistry creates an empty connection registry
func NewRegistry() *Registry {
	return &Registry{
		connections: make(map[string]*Connection),
		byUser:      make(map[string]*Connection),
	}
}

// Add records an accepted connection in the live set. The connection stays
// unidentified until Bind.
func (r *Registry) Add(conn *Connection) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.connections[conn.ID] = conn
}

// Bind inserts or overwrites the user mapping for a connection and tags the
// connection with the user ID. It returns the superseded connection, if any;
// the superseded connection is not notified.
func (r *Registry) Bind(userID string, conn *Connection) *Connection {
	r.mu.Lock()
	defer r.mu.Unlock()

	prior := r.byUser[userID]
	if prior == conn {
		prior = nil
	}
	r.byUser[userID] = conn
	conn.setUserID(userID)
	return prior
}

// Lookup resolves a user to their current connection. Absence means the
// user is not currently reachable.
func (r *Registry) Lookup(userID string) (*Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conn, exists := r.byUser[userID]
	return conn, exists
}

// Remove drops a connection from the live set. The user mapping is cleared
// only if it still points at this exact connection, so a stale disconnect
// racing a newer join for the same user cannot clobber the newer mapping.
// present reports whether the connection was still in the live set, so both
// pumps can call Remove but only the first triggers teardown side effects.
// owned reports whether the mapping was cleared; it drives the offline
// announcement.
func (r *Registry) Remove(conn *Connection) (userID string, present, owned bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, present = r.connections[conn.ID]; !present {
		return "", false, false
	}
	delete(r.connections, conn.ID)

	userID = conn.UserID()
	if userID == "" {
		return "", true, false
	}
	if current, exists := r.byUser[userID]; exists && current == conn {
		delete(r.byUser, userID)
		return userID, true, true
	}
	return userID, true, false
}

// All returns every live connection, identified or not
func (r *Registry) All() []*Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()

	connections := make([]*Connection, 0, len(r.connections))
	for _, conn := range r.connections {
		connections = append(connections, conn)
	}
	return connections
}

// Count returns the total number of live connections
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.connections)
}

// OnlineUsers returns the IDs of every identified user
func (r *Registry) OnlineUsers() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	users := make([]string, 0, len(r.byUser))
	for userID := range r.byUser {
		users = append(users, userID)
	}
	return users
}

// OnlineCount returns the number of identified users
func (r *Registry) OnlineCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byUser)
}
