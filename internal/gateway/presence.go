package gateway

import (
	"github.com/farm2retail/realtime-gateway/pkg/logger"
)

// Presence derives online/offline announcements from registry transitions.
// Every transition is announced independently; there is no deduplication
// across rapid join/leave cycles.
type Presence struct {
	registry *Registry
}

// NewPresence creates a presence tracker over a registry
func NewPresence(registry *Registry) *Presence {
	return &Presence{registry: registry}
}

// AnnounceOnline broadcasts user:online to every connection except the one
// that just joined
func (p *Presence) AnnounceOnline(joined *Connection, userID string) {
	p.announce(EventUserOnline, userID, joined)
}

// AnnounceOffline broadcasts user:offline to all remaining connections. The
// caller must only invoke this when the departing connection still owned the
// user mapping, otherwise a superseded tab's disconnect would announce a
// user offline who is still connected elsewhere.
func (p *Presence) AnnounceOffline(userID string) {
	p.announce(EventUserOffline, userID, nil)
}

func (p *Presence) announce(event string, userID string, except *Connection) {
	frame, err := EncodeFrame(event, PresenceEvent{UserID: userID})
	if err != nil {
		logger.Error("Failed to encode presence event",
			logger.ErrorField(err),
			logger.String("event", event),
		)
		return
	}

	for _, conn := range p.registry.All() {
		if conn == except {
			continue
		}
		conn.Enqueue(frame)
	}

	logger.Debug("Presence change announced",
		logger.String("event", event),
		logger.String("user_id", userID),
	)
}
