package chat

import (
	"go.uber.org/zap"

	"github.com/Tyrowin/roomchat/internal/metrics"
)

// Presence applies join and leave transitions to the registry and notifies
// room members about them.
type Presence struct {
	registry *Registry
	metrics  *metrics.Metrics
	log      *zap.Logger
}

// NewPresence returns a presence manager operating on registry.
func NewPresence(registry *Registry, m *metrics.Metrics, log *zap.Logger) *Presence {
	return &Presence{registry: registry, metrics: m, log: log}
}

// Join adds username to the room and subscribes conn to its fan-out, creating
// the room if needed. Re-adding a present username from another connection
// leaves the member set as is. The joiner receives the history snapshot followed by the online count;
// the other members receive user-joined. It returns the resulting count.
func (p *Presence) Join(roomID, username string, conn Conn) int {
	room := p.registry.lockRoom(roomID, true)
	defer room.mu.Unlock()

	created := len(room.conns) == 0 && room.count() == 0
	room.subscribe(conn, username)
	count := room.count()

	// Snapshot and subscription happen under the room lock, so a message
	// appended concurrently is either in the snapshot or fanned out later.
	history := p.registry.History(roomID)
	p.deliver(conn, Event{Type: EventChatHistory, Data: history})
	p.deliver(conn, Event{Type: EventRoomUsers, Data: count})

	notice := Event{Type: EventUserJoined, Data: PresenceNotice{Username: username, OnlineCount: count}}
	for _, other := range room.subscribers(conn) {
		p.deliver(other, notice)
	}

	if created {
		p.metrics.Rooms.Inc()
	}
	p.metrics.PresenceChanges.WithLabelValues("join").Inc()
	p.log.Info("User joined room",
		zap.String("room", roomID),
		zap.String("username", username),
		zap.String("conn", conn.ID()),
		zap.Int("online", count),
		zap.Int("history", len(history)))
	return count
}

// Leave unsubscribes conn from the room and removes the username it joined
// under once no other connection holds it. Leaving a room that does not
// exist, or that conn is not subscribed to, is a no-op reported by ok=false.
// The room is pruned when its last member leaves; otherwise the remaining
// connections receive user-left when the username is gone.
func (p *Presence) Leave(roomID, username string, conn Conn) (count int, ok bool) {
	room := p.registry.lockRoom(roomID, false)
	if room == nil {
		p.log.Debug("Leave for unknown room ignored", zap.String("room", roomID), zap.String("conn", conn.ID()))
		return 0, false
	}
	defer room.mu.Unlock()

	if _, subscribed := room.conns[conn.ID()]; !subscribed {
		p.log.Debug("Leave from non-member connection ignored", zap.String("room", roomID), zap.String("conn", conn.ID()))
		return room.count(), false
	}

	joinedAs, gone := room.unsubscribe(conn.ID())
	if joinedAs != username {
		p.log.Debug("Leave names a different user than the connection joined as",
			zap.String("room", roomID), zap.String("username", username), zap.String("joined_as", joinedAs))
	}
	username = joinedAs
	count = room.count()
	p.metrics.PresenceChanges.WithLabelValues("leave").Inc()

	if count == 0 {
		if p.registry.pruneLocked(room) {
			p.metrics.Rooms.Dec()
			p.log.Info("Room pruned", zap.String("room", roomID))
		}
		return 0, true
	}

	if !gone {
		p.log.Info("Connection left room; user still present",
			zap.String("room", roomID),
			zap.String("username", username),
			zap.String("conn", conn.ID()),
			zap.Int("online", count))
		return count, true
	}

	notice := Event{Type: EventUserLeft, Data: PresenceNotice{Username: username, OnlineCount: count}}
	for _, other := range room.subscribers(nil) {
		p.deliver(other, notice)
	}

	p.log.Info("User left room",
		zap.String("room", roomID),
		zap.String("username", username),
		zap.String("conn", conn.ID()),
		zap.Int("online", count))
	return count, true
}

func (p *Presence) deliver(conn Conn, event Event) {
	if !conn.Send(event) {
		p.metrics.Dropped.Inc()
		p.log.Warn("Dropped event for connection", zap.String("event", string(event.Type)), zap.String("conn", conn.ID()))
	}
}
