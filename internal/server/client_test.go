package server

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/Tyrowin/roomchat/internal/chat"
	"github.com/Tyrowin/roomchat/internal/metrics"
)

func newDetachedClient(t *testing.T) *Client {
	t.Helper()
	log := zaptest.NewLogger(t)
	m := metrics.NewNop()
	coordinator := chat.NewCoordinator(chat.NewRegistry(0), m, log, chat.Options{})
	return NewClient(nil, NewHub(m, log), coordinator, "127.0.0.1:1234", *NewConfig(), log)
}

func TestClient_SendEncodesEnvelope(t *testing.T) {
	req := require.New(t)
	client := newDetachedClient(t)

	req.True(client.Send(chat.Event{Type: chat.EventTyping, Data: chat.TypingNotice{Username: "alice"}}))

	payload := <-client.GetSendChan()
	req.JSONEq(`{"event":"typing","data":{"username":"alice"}}`, string(payload))
}

func TestClient_SendAfterCloseFails(t *testing.T) {
	client := newDetachedClient(t)
	client.close()
	client.close()

	require.False(t, client.Send(chat.Event{Type: chat.EventStopTyping}))
}

func TestClient_SendOnFullQueueFails(t *testing.T) {
	req := require.New(t)
	client := newDetachedClient(t)

	for i := 0; i < sendBufferSize; i++ {
		req.True(client.Send(chat.Event{Type: chat.EventRoomUsers, Data: i}))
	}
	req.False(client.Send(chat.Event{Type: chat.EventRoomUsers, Data: -1}))
	req.Len(client.GetSendChan(), sendBufferSize)
}

func TestClient_SessionStartsUnjoined(t *testing.T) {
	client := newDetachedClient(t)

	require.Equal(t, chat.StateUnjoined, client.Session().State())
	require.NotEmpty(t, client.ID())
}

func TestClient_ProcessMessageRoutesThroughSession(t *testing.T) {
	req := require.New(t)
	client := newDetachedClient(t)
	frame, err := json.Marshal(map[string]any{
		"event": "join-room",
		"data":  map[string]string{"username": "alice", "roomId": "room1"},
	})
	req.NoError(err)

	req.True(client.processMessage(frame))
	req.Equal(chat.StateJoined, client.Session().State())

	var first chat.Inbound
	req.NoError(json.Unmarshal(<-client.GetSendChan(), &first))
	req.Equal(chat.EventChatHistory, first.Type)

	req.False(client.processMessage([]byte("not json")))
}
