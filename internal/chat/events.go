// Package chat implements the room coordination engine: the room registry,
// presence transitions, message routing and the per-connection session state
// machine that drives them.
package chat

import (
	"encoding/json"
	"errors"
	"fmt"
)

// EventType names an event exchanged with a client.
type EventType string

// Inbound events sent by clients.
const (
	EventJoinRoom    EventType = "join-room"
	EventSendMessage EventType = "send-message"
	EventTyping      EventType = "typing"
	EventStopTyping  EventType = "stop-typing"
	EventLeaveRoom   EventType = "leave-room"
)

// Outbound events emitted by the server.
const (
	EventChatHistory EventType = "chat-history"
	EventRoomUsers   EventType = "room-users"
	EventUserJoined  EventType = "user-joined"
	EventUserLeft    EventType = "user-left"
	EventMessage     EventType = "message"
	EventError       EventType = "error"
)

// Event is the envelope written to and read from a connection.
// Data is omitted for events that carry no payload, such as stop-typing.
type Event struct {
	Type EventType `json:"event"`
	Data any       `json:"data,omitempty"`
}

// Inbound is a decoded client frame whose payload has not been interpreted yet.
type Inbound struct {
	Type EventType       `json:"event"`
	Data json.RawMessage `json:"data,omitempty"`
}

// PresenceNotice is the payload of user-joined and user-left.
type PresenceNotice struct {
	Username    string `json:"username"`
	OnlineCount int    `json:"onlineCount"`
}

// TypingNotice is the payload of the outbound typing event.
type TypingNotice struct {
	Username string `json:"username"`
}

// ErrorNotice is the payload of the error event.
type ErrorNotice struct {
	Message string `json:"message"`
}

// JoinRequest is the payload of join-room.
type JoinRequest struct {
	Username string `json:"username" validate:"required"`
	RoomID   string `json:"roomId" validate:"required"`
}

// LeaveRequest is the payload of leave-room.
type LeaveRequest struct {
	Username string `json:"username"`
	RoomID   string `json:"roomId"`
}

// TypingRequest is the payload of typing and stop-typing.
type TypingRequest struct {
	RoomID   string `json:"roomId"`
	Username string `json:"username"`
}

// Message is a chat message as produced by a client. The raw payload is kept
// verbatim and re-emitted as is; only the room id is interpreted.
type Message struct {
	RoomID string
	raw    json.RawMessage
}

// ParseMessage extracts the room id from a send-message payload and keeps
// the payload bytes for later delivery.
func ParseMessage(data []byte) (Message, error) {
	var head struct {
		RoomID string `json:"roomId"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return Message{}, fmt.Errorf("decode message: %w", err)
	}
	raw := make(json.RawMessage, len(data))
	copy(raw, data)
	return Message{RoomID: head.RoomID, raw: raw}, nil
}

// Raw returns the original payload.
func (m Message) Raw() json.RawMessage {
	return m.raw
}

// MarshalJSON writes the payload exactly as it was received.
func (m Message) MarshalJSON() ([]byte, error) {
	if m.raw == nil {
		return []byte("null"), nil
	}
	return m.raw, nil
}

var (
	// ErrInvalidJoin is returned when a join-room payload lacks a username or room id.
	ErrInvalidJoin = errors.New("invalid join request")
	// ErrMissingRoom is returned when a payload that needs a room id has none.
	ErrMissingRoom = errors.New("missing room id")
	// ErrRoomMismatch is returned in strict mode when a payload targets a room
	// other than the one the session is bound to.
	ErrRoomMismatch = errors.New("room does not match joined room")
	// ErrUnknownEvent is returned for event names the session does not handle.
	ErrUnknownEvent = errors.New("unknown event")
	// ErrMalformedPayload is returned when an event payload cannot be decoded.
	ErrMalformedPayload = errors.New("malformed payload")
)
