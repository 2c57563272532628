package chat

import (
	"sort"
	"sync"

	"github.com/samber/lo"
)

// Conn is the engine's view of a client connection. Send must not block:
// implementations enqueue the event and report false when it was dropped.
type Conn interface {
	ID() string
	Send(event Event) bool
}

// Room holds the members currently present in a room and the connections
// subscribed to its fan-out. A username stays a member while at least one
// connection is joined under it. All fields are guarded by mu.
type Room struct {
	ID string

	mu       sync.Mutex
	members  map[string]int
	conns    map[string]Conn
	connUser map[string]string
	pruned   bool
}

func newRoom(id string) *Room {
	return &Room{
		ID:       id,
		members:  make(map[string]int),
		conns:    make(map[string]Conn),
		connUser: make(map[string]string),
	}
}

// subscribe binds conn to username, replacing any earlier binding of conn.
// Caller holds mu.
func (r *Room) subscribe(conn Conn, username string) {
	if _, ok := r.conns[conn.ID()]; ok {
		r.unsubscribe(conn.ID())
	}
	r.conns[conn.ID()] = conn
	r.connUser[conn.ID()] = username
	r.members[username]++
}

// unsubscribe drops the connection and returns the username it was joined
// under and whether that username left the member set. Caller holds mu.
func (r *Room) unsubscribe(connID string) (username string, gone bool) {
	username = r.connUser[connID]
	delete(r.conns, connID)
	delete(r.connUser, connID)

	r.members[username]--
	if r.members[username] > 0 {
		return username, false
	}
	delete(r.members, username)
	return username, true
}

// count returns the online count. Caller holds mu.
func (r *Room) count() int {
	return len(r.members)
}

// subscribers returns the subscribed connections other than except, which may be nil.
// Caller holds mu.
func (r *Room) subscribers(except Conn) []Conn {
	return lo.Filter(lo.Values(r.conns), func(c Conn, _ int) bool {
		return except == nil || c.ID() != except.ID()
	})
}

// Registry maps room ids to rooms and, separately, to message history.
// History outlives membership: a pruned room keeps its history and a later
// join to the same id sees it again.
type Registry struct {
	mu    sync.Mutex
	rooms map[string]*Room

	historyMu    sync.RWMutex
	history      map[string][]Message
	historyLimit int
}

// NewRegistry returns an empty registry. A positive historyLimit caps the
// number of messages retained per room, dropping the oldest first.
func NewRegistry(historyLimit int) *Registry {
	if historyLimit < 0 {
		historyLimit = 0
	}
	return &Registry{
		rooms:        make(map[string]*Room),
		history:      make(map[string][]Message),
		historyLimit: historyLimit,
	}
}

// GetOrCreateRoom returns the room for id, creating an empty one if absent.
// It does not touch metrics: the active rooms gauge counts rooms with
// members and is maintained by Presence.Join and Presence.Leave.
func (r *Registry) GetOrCreateRoom(id string) *Room {
	r.mu.Lock()
	defer r.mu.Unlock()

	room, ok := r.rooms[id]
	if !ok {
		room = newRoom(id)
		r.rooms[id] = room
	}
	return room
}

func (r *Registry) lookup(id string) (*Room, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	room, ok := r.rooms[id]
	return room, ok
}

// lockRoom returns the live room for id with its mutex held. When create is
// false and the room does not exist, it returns nil.
func (r *Registry) lockRoom(id string, create bool) *Room {
	for {
		var room *Room
		if create {
			room = r.GetOrCreateRoom(id)
		} else {
			var ok bool
			if room, ok = r.lookup(id); !ok {
				return nil
			}
		}

		room.mu.Lock()
		if !room.pruned {
			return room
		}
		// Lost a race with pruning; the id now maps to a fresh room or nothing.
		room.mu.Unlock()
	}
}

// pruneLocked removes room from the registry if it has no members.
// Caller holds room.mu.
func (r *Registry) pruneLocked(room *Room) bool {
	if room.pruned || room.count() > 0 {
		return false
	}

	r.mu.Lock()
	if r.rooms[room.ID] == room {
		delete(r.rooms, room.ID)
	}
	r.mu.Unlock()

	room.pruned = true
	return true
}

// RemoveRoomIfEmpty prunes the room for id when its member set is empty and
// reports whether it did so. Like GetOrCreateRoom it bypasses metrics; a room
// with no members was never counted as active.
func (r *Registry) RemoveRoomIfEmpty(id string) bool {
	room := r.lockRoom(id, false)
	if room == nil {
		return false
	}
	defer room.mu.Unlock()
	return r.pruneLocked(room)
}

// AppendMessage appends msg to the history of roomID.
func (r *Registry) AppendMessage(roomID string, msg Message) {
	r.historyMu.Lock()
	defer r.historyMu.Unlock()

	msgs := append(r.history[roomID], msg)
	if r.historyLimit > 0 && len(msgs) > r.historyLimit {
		msgs = append([]Message(nil), msgs[len(msgs)-r.historyLimit:]...)
	}
	r.history[roomID] = msgs
}

// History returns a copy of the messages recorded for roomID, oldest first.
// Unknown rooms yield an empty, non-nil slice.
func (r *Registry) History(roomID string) []Message {
	r.historyMu.RLock()
	defer r.historyMu.RUnlock()

	msgs := r.history[roomID]
	out := make([]Message, len(msgs))
	copy(out, msgs)
	return out
}

// RoomCount returns the number of rooms with at least one member.
func (r *Registry) RoomCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.rooms)
}

// Members returns the usernames present in roomID, sorted.
func (r *Registry) Members(roomID string) []string {
	room := r.lockRoom(roomID, false)
	if room == nil {
		return nil
	}
	defer room.mu.Unlock()

	names := lo.Keys(room.members)
	sort.Strings(names)
	return names
}

// OnlineCount returns the current member count of roomID, zero if absent.
func (r *Registry) OnlineCount(roomID string) int {
	room := r.lockRoom(roomID, false)
	if room == nil {
		return 0
	}
	defer room.mu.Unlock()
	return room.count()
}
