package chat

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSession_AliceAndBobScenario(t *testing.T) {
	req := require.New(t)
	coordinator := newTestCoordinator(t, Options{})
	aliceConn, bobConn := newRecorder(), newRecorder()
	alice, bob := coordinator.NewSession(aliceConn), coordinator.NewSession(bobConn)

	// Alice joins room1
	req.NoError(alice.HandleFrame(frame(t, EventJoinRoom, JoinRequest{Username: "Alice", RoomID: "room1"})))
	req.Equal([]Event{
		{Type: EventChatHistory, Data: []Message{}},
		{Type: EventRoomUsers, Data: 1},
	}, aliceConn.Events())
	aliceConn.Reset()

	// Bob joins room1
	req.NoError(bob.HandleFrame(frame(t, EventJoinRoom, JoinRequest{Username: "Bob", RoomID: "room1"})))
	req.Equal([]Event{
		{Type: EventChatHistory, Data: []Message{}},
		{Type: EventRoomUsers, Data: 2},
	}, bobConn.Events())
	req.Equal([]Event{{Type: EventUserJoined, Data: PresenceNotice{Username: "Bob", OnlineCount: 2}}}, aliceConn.Events())
	aliceConn.Reset()
	bobConn.Reset()

	// Alice says hi
	req.NoError(alice.HandleFrame([]byte(`{"event":"send-message","data":{"roomId":"room1","text":"hi"}}`)))
	for _, conn := range []*recorderConn{aliceConn, bobConn} {
		req.Len(conn.Events(), 1)
		req.JSONEq(`{"event":"message","data":{"roomId":"room1","text":"hi"}}`, toJSON(t, conn.Events()[0]))
	}
	aliceConn.Reset()

	// Bob disconnects
	bob.Close()
	req.Equal([]Event{{Type: EventUserLeft, Data: PresenceNotice{Username: "Bob", OnlineCount: 1}}}, aliceConn.Events())
	req.Equal([]string{"Alice"}, coordinator.Registry().Members("room1"))

	// Alice leaves
	req.NoError(alice.HandleFrame(frame(t, EventLeaveRoom, LeaveRequest{Username: "Alice", RoomID: "room1"})))
	req.Zero(coordinator.Registry().RoomCount())
	req.Equal(StateUnjoined, alice.State())
	req.Len(coordinator.Registry().History("room1"), 1)
}

func TestSession_Join_RejectsMissingFields(t *testing.T) {
	tests := []struct {
		name string
		data JoinRequest
	}{
		{name: "missing username", data: JoinRequest{RoomID: "room1"}},
		{name: "missing room", data: JoinRequest{Username: "alice"}},
		{name: "empty", data: JoinRequest{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := require.New(t)
			coordinator := newTestCoordinator(t, Options{})
			conn := newRecorder()
			session := coordinator.NewSession(conn)

			err := session.HandleFrame(frame(t, EventJoinRoom, tt.data))

			req.ErrorIs(err, ErrInvalidJoin)
			req.Equal(StateUnjoined, session.State())
			req.Equal([]EventType{EventError}, conn.Types())
			req.Zero(coordinator.Registry().RoomCount())
		})
	}
}

func TestSession_MalformedFrame(t *testing.T) {
	req := require.New(t)
	coordinator := newTestCoordinator(t, Options{})
	conn := newRecorder()
	session := coordinator.NewSession(conn)

	req.ErrorIs(session.HandleFrame([]byte(`not json`)), ErrMalformedPayload)
	req.ErrorIs(session.HandleFrame([]byte(`{"event":"join-room","data":"alice"}`)), ErrMalformedPayload)
	req.Equal([]EventType{EventError, EventError}, conn.Types())
}

func TestSession_UnknownEvent(t *testing.T) {
	conn := newRecorder()
	session := newTestCoordinator(t, Options{}).NewSession(conn)

	err := session.HandleFrame([]byte(`{"event":"shout","data":{}}`))

	require.ErrorIs(t, err, ErrUnknownEvent)
	require.Equal(t, []EventType{EventError}, conn.Types())
}

func TestSession_SendMessage_RequiresRoomID(t *testing.T) {
	conn := newRecorder()
	session := newTestCoordinator(t, Options{}).NewSession(conn)

	err := session.HandleFrame([]byte(`{"event":"send-message","data":{"text":"hi"}}`))

	require.ErrorIs(t, err, ErrMissingRoom)
}

func TestSession_SendMessage_WhileUnjoinedPassesThrough(t *testing.T) {
	req := require.New(t)
	coordinator := newTestCoordinator(t, Options{})
	member, outsider := newRecorder(), newRecorder()
	coordinator.NewSession(member).HandleFrame(frame(t, EventJoinRoom, JoinRequest{Username: "alice", RoomID: "room1"}))
	member.Reset()

	err := coordinator.NewSession(outsider).HandleFrame([]byte(`{"event":"send-message","data":{"roomId":"room1","text":"hi"}}`))

	req.NoError(err)
	req.Equal([]EventType{EventMessage}, member.Types())
}

func TestSession_Typing_FallsBackToBoundRoomAndName(t *testing.T) {
	req := require.New(t)
	coordinator := newTestCoordinator(t, Options{})
	aliceConn, bobConn := newRecorder(), newRecorder()
	alice := coordinator.NewSession(aliceConn)
	req.NoError(alice.HandleFrame(frame(t, EventJoinRoom, JoinRequest{Username: "alice", RoomID: "room1"})))
	req.NoError(coordinator.NewSession(bobConn).HandleFrame(frame(t, EventJoinRoom, JoinRequest{Username: "bob", RoomID: "room1"})))
	bobConn.Reset()

	req.NoError(alice.HandleFrame([]byte(`{"event":"typing"}`)))
	req.NoError(alice.HandleFrame([]byte(`{"event":"stop-typing","data":{}}`)))

	req.Equal([]Event{
		{Type: EventTyping, Data: TypingNotice{Username: "alice"}},
		{Type: EventStopTyping},
	}, bobConn.Events())
}

func TestSession_Typing_WithoutRoomWhileUnjoined(t *testing.T) {
	session := newTestCoordinator(t, Options{}).NewSession(newRecorder())

	require.ErrorIs(t, session.HandleFrame([]byte(`{"event":"typing","data":{"username":"alice"}}`)), ErrMissingRoom)
}

func TestSession_Disconnect_UnjoinedIsNoop(t *testing.T) {
	coordinator := newTestCoordinator(t, Options{})
	conn := newRecorder()
	session := coordinator.NewSession(conn)

	session.Close()
	session.Close()

	require.Equal(t, StateClosed, session.State())
	require.Empty(t, conn.Events())
}

func TestSession_ClosedRejectsEvents(t *testing.T) {
	session := newTestCoordinator(t, Options{}).NewSession(newRecorder())
	session.Close()

	err := session.HandleFrame(frame(t, EventJoinRoom, JoinRequest{Username: "alice", RoomID: "room1"}))

	require.ErrorIs(t, err, ErrSessionClosed)
}

func TestSession_LeaveThenDisconnect(t *testing.T) {
	req := require.New(t)
	coordinator := newTestCoordinator(t, Options{})
	aliceConn, bobConn := newRecorder(), newRecorder()
	alice := coordinator.NewSession(aliceConn)
	req.NoError(alice.HandleFrame(frame(t, EventJoinRoom, JoinRequest{Username: "alice", RoomID: "room1"})))
	req.NoError(coordinator.NewSession(bobConn).HandleFrame(frame(t, EventJoinRoom, JoinRequest{Username: "bob", RoomID: "room1"})))
	bobConn.Reset()

	req.NoError(alice.HandleFrame(frame(t, EventLeaveRoom, LeaveRequest{Username: "alice", RoomID: "room1"})))
	alice.Close()

	// Only one user-left although both leave and disconnect happened
	req.Len(bobConn.OfType(EventUserLeft), 1)
	_, _, joined := alice.Binding()
	req.False(joined)
}

func TestSession_LeaveUnjoinedRoomIsNoop(t *testing.T) {
	coordinator := newTestCoordinator(t, Options{})
	conn := newRecorder()
	session := coordinator.NewSession(conn)

	require.NoError(t, session.HandleFrame(frame(t, EventLeaveRoom, LeaveRequest{Username: "alice", RoomID: "room1"})))
	require.NoError(t, session.HandleFrame([]byte(`{"event":"leave-room"}`)))
	require.Empty(t, conn.Events())
}

func TestSession_JoinAnotherRoomLeavesPrevious(t *testing.T) {
	req := require.New(t)
	coordinator := newTestCoordinator(t, Options{})
	aliceConn, bobConn := newRecorder(), newRecorder()
	alice := coordinator.NewSession(aliceConn)
	req.NoError(alice.HandleFrame(frame(t, EventJoinRoom, JoinRequest{Username: "alice", RoomID: "room1"})))
	req.NoError(coordinator.NewSession(bobConn).HandleFrame(frame(t, EventJoinRoom, JoinRequest{Username: "bob", RoomID: "room1"})))
	bobConn.Reset()

	req.NoError(alice.HandleFrame(frame(t, EventJoinRoom, JoinRequest{Username: "alice", RoomID: "room2"})))

	req.Equal([]Event{{Type: EventUserLeft, Data: PresenceNotice{Username: "alice", OnlineCount: 1}}}, bobConn.Events())
	req.Equal([]string{"bob"}, coordinator.Registry().Members("room1"))
	req.Equal([]string{"alice"}, coordinator.Registry().Members("room2"))
	username, roomID, joined := alice.Binding()
	req.True(joined)
	req.Equal("alice", username)
	req.Equal("room2", roomID)
}

func TestSession_SecondTabSurvivesFirstTabDisconnect(t *testing.T) {
	req := require.New(t)
	coordinator := newTestCoordinator(t, Options{})
	firstConn, secondConn, danConn := newRecorder(), newRecorder(), newRecorder()
	first, second, dan := coordinator.NewSession(firstConn), coordinator.NewSession(secondConn), coordinator.NewSession(danConn)

	// Given Alice has the room open in two tabs
	req.NoError(first.HandleFrame(frame(t, EventJoinRoom, JoinRequest{Username: "Alice", RoomID: "r"})))
	req.NoError(second.HandleFrame(frame(t, EventJoinRoom, JoinRequest{Username: "Alice", RoomID: "r"})))

	// When the first tab disconnects
	first.Close()

	// Then the room lives on with Alice in it
	req.Equal(StateJoined, second.State())
	req.Equal(1, coordinator.Registry().RoomCount())
	req.Equal([]string{"Alice"}, coordinator.Registry().Members("r"))

	// And the second tab still sees Dan arrive and every message, its own included
	secondConn.Reset()
	req.NoError(dan.HandleFrame(frame(t, EventJoinRoom, JoinRequest{Username: "Dan", RoomID: "r"})))
	req.NoError(dan.HandleFrame([]byte(`{"event":"send-message","data":{"roomId":"r","text":"hello"}}`)))
	req.NoError(second.HandleFrame([]byte(`{"event":"send-message","data":{"roomId":"r","text":"hi dan"}}`)))

	req.Equal([]Event{{Type: EventUserJoined, Data: PresenceNotice{Username: "Dan", OnlineCount: 2}}}, secondConn.OfType(EventUserJoined))
	req.Len(secondConn.OfType(EventMessage), 2)
	req.Len(danConn.OfType(EventMessage), 2)
	req.Empty(firstConn.OfType(EventMessage))
}

func TestSession_StrictBinding_RejectsForeignRoom(t *testing.T) {
	req := require.New(t)
	coordinator := newTestCoordinator(t, Options{StrictRoomBinding: true})
	aliceConn, bobConn := newRecorder(), newRecorder()
	alice := coordinator.NewSession(aliceConn)
	req.NoError(alice.HandleFrame(frame(t, EventJoinRoom, JoinRequest{Username: "alice", RoomID: "room1"})))
	req.NoError(coordinator.NewSession(bobConn).HandleFrame(frame(t, EventJoinRoom, JoinRequest{Username: "bob", RoomID: "room2"})))
	aliceConn.Reset()
	bobConn.Reset()

	req.ErrorIs(alice.HandleFrame([]byte(`{"event":"send-message","data":{"roomId":"room2","text":"spam"}}`)), ErrRoomMismatch)
	req.ErrorIs(alice.HandleFrame([]byte(`{"event":"typing","data":{"roomId":"room2","username":"alice"}}`)), ErrRoomMismatch)
	req.ErrorIs(alice.HandleFrame([]byte(`{"event":"stop-typing","data":{"roomId":"room2"}}`)), ErrRoomMismatch)
	req.NoError(alice.HandleFrame([]byte(`{"event":"send-message","data":{"roomId":"room1","text":"ok"}}`)))

	req.Empty(bobConn.Events())
	req.Equal([]EventType{EventError, EventError, EventError, EventMessage}, aliceConn.Types())
}

func TestSession_StrictBinding_RejectsUnjoinedSender(t *testing.T) {
	coordinator := newTestCoordinator(t, Options{StrictRoomBinding: true})
	session := coordinator.NewSession(newRecorder())

	err := session.HandleFrame([]byte(`{"event":"send-message","data":{"roomId":"room1","text":"hi"}}`))

	require.ErrorIs(t, err, ErrRoomMismatch)
}

func TestSession_LateJoinerSeesSnapshotOnce(t *testing.T) {
	req := require.New(t)
	coordinator := newTestCoordinator(t, Options{})
	alice := coordinator.NewSession(newRecorder())
	req.NoError(alice.HandleFrame(frame(t, EventJoinRoom, JoinRequest{Username: "alice", RoomID: "room1"})))
	for i := 0; i < 3; i++ {
		req.NoError(alice.HandleFrame([]byte(fmt.Sprintf(`{"event":"send-message","data":{"roomId":"room1","n":%d}}`, i))))
	}

	bobConn := newRecorder()
	bob := coordinator.NewSession(bobConn)
	req.NoError(bob.HandleFrame(frame(t, EventJoinRoom, JoinRequest{Username: "bob", RoomID: "room1"})))
	req.NoError(alice.HandleFrame([]byte(`{"event":"send-message","data":{"roomId":"room1","n":3}}`)))

	events := bobConn.Events()
	req.Equal([]EventType{EventChatHistory, EventRoomUsers, EventMessage}, bobConn.Types())
	req.JSONEq(`[{"roomId":"room1","n":0},{"roomId":"room1","n":1},{"roomId":"room1","n":2}]`, toJSON(t, events[0].Data))
	req.JSONEq(`{"roomId":"room1","n":3}`, toJSON(t, events[2].Data))
}

func TestSession_ConcurrentJoinLeave(t *testing.T) {
	req := require.New(t)
	coordinator := newTestCoordinator(t, Options{})
	const workers = 50
	rooms := []string{"a", "b", "c"}

	observer := newRecorder()
	observerSession := coordinator.NewSession(observer)
	req.NoError(observerSession.HandleFrame(frame(t, EventJoinRoom, JoinRequest{Username: "observer", RoomID: "a"})))

	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func(i int) {
			defer wg.Done()
			conn := newRecorder()
			session := coordinator.NewSession(conn)
			room := rooms[i%len(rooms)]
			name := fmt.Sprintf("user-%d", i%10)
			_ = session.HandleFrame(frame(t, EventJoinRoom, JoinRequest{Username: name, RoomID: room}))
			_ = session.HandleFrame([]byte(`{"event":"send-message","data":{"roomId":"` + room + `","text":"x"}}`))
			session.Close()
		}(i)
	}
	wg.Wait()

	// Every worker left; only the observer remains
	req.Equal(1, coordinator.Registry().RoomCount())
	req.Equal([]string{"observer"}, coordinator.Registry().Members("a"))
	req.Zero(coordinator.Registry().OnlineCount("b"))

	// Each reported count was within bounds of the live member set
	for _, e := range observer.Events() {
		if notice, ok := e.Data.(PresenceNotice); ok {
			req.GreaterOrEqual(notice.OnlineCount, 0)
			req.LessOrEqual(notice.OnlineCount, 11)
		}
	}
	req.Len(coordinator.Registry().History("a"), workers/len(rooms)+1)
}
