package chat

import (
	"go.uber.org/zap"

	"github.com/Tyrowin/roomchat/internal/metrics"
)

// Router appends chat messages to room history and fans messages and typing
// notices out to the connections subscribed to a room. It does not check
// that the sender is a member of the room it targets.
type Router struct {
	registry *Registry
	metrics  *metrics.Metrics
	log      *zap.Logger
}

// NewRouter returns a router operating on registry.
func NewRouter(registry *Registry, m *metrics.Metrics, log *zap.Logger) *Router {
	return &Router{registry: registry, metrics: m, log: log}
}

// SendMessage records msg in its room's history and delivers it to every
// subscribed connection, the sender included. Messages for rooms without
// members are discarded and reported by a false return.
func (r *Router) SendMessage(msg Message, sender Conn) bool {
	if msg.RoomID == "" {
		r.log.Debug("Message without room id discarded", zap.String("conn", sender.ID()))
		return false
	}

	room := r.registry.lockRoom(msg.RoomID, false)
	if room == nil {
		r.log.Debug("Message for unknown room discarded", zap.String("room", msg.RoomID), zap.String("conn", sender.ID()))
		return false
	}
	defer room.mu.Unlock()

	r.registry.AppendMessage(msg.RoomID, msg)
	r.metrics.Messages.Inc()

	event := Event{Type: EventMessage, Data: msg}
	targets := room.subscribers(nil)
	for _, conn := range targets {
		r.deliver(conn, event)
	}

	r.log.Debug("Message broadcast",
		zap.String("room", msg.RoomID),
		zap.String("conn", sender.ID()),
		zap.Int("targets", len(targets)))
	return true
}

// Typing notifies every other connection in the room that username is typing.
// Notices are neither stored nor de-duplicated.
func (r *Router) Typing(roomID, username string, sender Conn) bool {
	return r.notifyOthers(roomID, sender, Event{Type: EventTyping, Data: TypingNotice{Username: username}})
}

// StopTyping notifies every other connection in the room that typing stopped.
// The notice carries no username.
func (r *Router) StopTyping(roomID string, sender Conn) bool {
	return r.notifyOthers(roomID, sender, Event{Type: EventStopTyping})
}

func (r *Router) notifyOthers(roomID string, sender Conn, event Event) bool {
	room := r.registry.lockRoom(roomID, false)
	if room == nil {
		return false
	}
	defer room.mu.Unlock()

	for _, conn := range room.subscribers(sender) {
		r.deliver(conn, event)
	}
	return true
}

func (r *Router) deliver(conn Conn, event Event) {
	if !conn.Send(event) {
		r.metrics.Dropped.Inc()
		r.log.Warn("Dropped event for connection", zap.String("event", string(event.Type)), zap.String("conn", conn.ID()))
	}
}
