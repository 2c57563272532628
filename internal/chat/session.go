package chat

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/Tyrowin/roomchat/internal/metrics"
)

var validate = validator.New()

// ErrSessionClosed is returned when an event arrives after disconnect.
var ErrSessionClosed = errors.New("session closed")

// SessionState is the lifecycle state of a connection.
type SessionState int

const (
	// StateUnjoined is a connected session bound to no room.
	StateUnjoined SessionState = iota
	// StateJoined is a session bound to one username and room.
	StateJoined
	// StateClosed is a disconnected session; it accepts no further events.
	StateClosed
)

func (s SessionState) String() string {
	switch s {
	case StateUnjoined:
		return "unjoined"
	case StateJoined:
		return "joined"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("SessionState(%d)", int(s))
	}
}

// Options tune session behaviour.
type Options struct {
	// StrictRoomBinding rejects send-message, typing and stop-typing whose
	// room id differs from the room the session joined.
	StrictRoomBinding bool
}

// Coordinator owns the presence manager and router shared by all sessions
// and hands out one Session per connection.
type Coordinator struct {
	registry *Registry
	presence *Presence
	router   *Router
	opts     Options
	metrics  *metrics.Metrics
	log      *zap.Logger
}

// NewCoordinator wires a presence manager and a router around registry.
func NewCoordinator(registry *Registry, m *metrics.Metrics, log *zap.Logger, opts Options) *Coordinator {
	return &Coordinator{
		registry: registry,
		presence: NewPresence(registry, m, log.Named("presence")),
		router:   NewRouter(registry, m, log.Named("router")),
		opts:     opts,
		metrics:  m,
		log:      log,
	}
}

// Registry returns the registry the coordinator operates on.
func (c *Coordinator) Registry() *Registry {
	return c.registry
}

// NewSession starts an unjoined session for conn.
func (c *Coordinator) NewSession(conn Conn) *Session {
	return &Session{coord: c, conn: conn, state: StateUnjoined}
}

// Session is the state machine of one connection: Unjoined until a valid
// join-room, Joined until leave-room, Closed after disconnect.
type Session struct {
	coord *Coordinator
	conn  Conn

	mu       sync.Mutex
	state    SessionState
	username string
	roomID   string
}

// State returns the current lifecycle state.
func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Binding returns the username and room the session is joined to.
func (s *Session) Binding() (username, roomID string, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.username, s.roomID, s.state == StateJoined
}

// HandleFrame decodes a client frame and dispatches it.
func (s *Session) HandleFrame(frame []byte) error {
	var in Inbound
	if err := json.Unmarshal(frame, &in); err != nil {
		s.mu.Lock()
		defer s.mu.Unlock()
		return s.reject("", fmt.Errorf("%w: %v", ErrMalformedPayload, err))
	}
	return s.Handle(in)
}

// Handle dispatches one inbound event. Rejected events are reported to the
// client with an error event and returned; they never affect other sessions.
func (s *Session) Handle(in Inbound) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateClosed {
		return ErrSessionClosed
	}

	switch in.Type {
	case EventJoinRoom:
		return s.join(in)
	case EventSendMessage:
		return s.sendMessage(in)
	case EventTyping:
		return s.typing(in)
	case EventStopTyping:
		return s.stopTyping(in)
	case EventLeaveRoom:
		return s.leave(in)
	default:
		return s.reject(in.Type, fmt.Errorf("%w: %q", ErrUnknownEvent, in.Type))
	}
}

// Close handles disconnect: a joined session leaves its room, an unjoined one
// does nothing. Close is idempotent.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateJoined {
		s.coord.presence.Leave(s.roomID, s.username, s.conn)
	}
	s.state = StateClosed
	s.username, s.roomID = "", ""
}

func (s *Session) join(in Inbound) error {
	var req JoinRequest
	if err := decode(in.Data, &req); err != nil {
		return s.reject(in.Type, err)
	}
	if err := validate.Struct(req); err != nil {
		return s.reject(in.Type, fmt.Errorf("%w: %v", ErrInvalidJoin, err))
	}

	// One membership per connection: switching rooms leaves the old one.
	if s.state == StateJoined {
		s.coord.presence.Leave(s.roomID, s.username, s.conn)
	}

	s.coord.presence.Join(req.RoomID, req.Username, s.conn)
	s.state = StateJoined
	s.username, s.roomID = req.Username, req.RoomID
	return nil
}

func (s *Session) sendMessage(in Inbound) error {
	msg, err := ParseMessage(in.Data)
	if err != nil {
		return s.reject(in.Type, fmt.Errorf("%w: %v", ErrMalformedPayload, err))
	}
	if msg.RoomID == "" {
		return s.reject(in.Type, ErrMissingRoom)
	}
	if err := s.checkBinding(msg.RoomID); err != nil {
		return s.reject(in.Type, err)
	}
	s.coord.router.SendMessage(msg, s.conn)
	return nil
}

func (s *Session) typing(in Inbound) error {
	var req TypingRequest
	if err := decode(in.Data, &req); err != nil {
		return s.reject(in.Type, err)
	}
	roomID := s.resolveRoom(req.RoomID)
	if roomID == "" {
		return s.reject(in.Type, ErrMissingRoom)
	}
	if err := s.checkBinding(roomID); err != nil {
		return s.reject(in.Type, err)
	}
	username := req.Username
	if username == "" {
		username = s.username
	}
	s.coord.router.Typing(roomID, username, s.conn)
	return nil
}

func (s *Session) stopTyping(in Inbound) error {
	var req TypingRequest
	if err := decode(in.Data, &req); err != nil {
		return s.reject(in.Type, err)
	}
	roomID := s.resolveRoom(req.RoomID)
	if roomID == "" {
		return s.reject(in.Type, ErrMissingRoom)
	}
	if err := s.checkBinding(roomID); err != nil {
		return s.reject(in.Type, err)
	}
	s.coord.router.StopTyping(roomID, s.conn)
	return nil
}

func (s *Session) leave(in Inbound) error {
	var req LeaveRequest
	if err := decode(in.Data, &req); err != nil {
		return s.reject(in.Type, err)
	}
	roomID := s.resolveRoom(req.RoomID)
	if roomID == "" {
		// Nothing bound and nothing named.
		return nil
	}
	username := req.Username
	if s.state == StateJoined && roomID == s.roomID {
		username = s.username
	}

	s.coord.presence.Leave(roomID, username, s.conn)
	if s.state == StateJoined && roomID == s.roomID {
		s.state = StateUnjoined
		s.username, s.roomID = "", ""
	}
	return nil
}

// resolveRoom falls back to the bound room when a payload names none.
func (s *Session) resolveRoom(roomID string) string {
	if roomID == "" && s.state == StateJoined {
		return s.roomID
	}
	return roomID
}

func (s *Session) checkBinding(roomID string) error {
	if !s.coord.opts.StrictRoomBinding {
		return nil
	}
	if s.state != StateJoined || roomID != s.roomID {
		return fmt.Errorf("%w: %q", ErrRoomMismatch, roomID)
	}
	return nil
}

func (s *Session) reject(event EventType, err error) error {
	s.coord.metrics.RejectedEvents.WithLabelValues(string(event)).Inc()
	s.coord.log.Warn("Rejected event",
		zap.String("event", string(event)),
		zap.String("conn", s.conn.ID()),
		zap.String("state", s.state.String()),
		zap.Error(err))
	s.conn.Send(Event{Type: EventError, Data: ErrorNotice{Message: err.Error()}})
	return err
}

func decode(data json.RawMessage, v any) error {
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	return nil
}
