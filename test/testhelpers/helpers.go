// Package testhelpers provides common utilities for testing the room chat server.
//
// It builds fully wired servers on httptest listeners and offers small
// helpers to speak the event protocol over a WebSocket connection, so that
// unit and integration tests share the same plumbing.
package testhelpers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/Tyrowin/roomchat/internal/chat"
	"github.com/Tyrowin/roomchat/internal/giphy"
	"github.com/Tyrowin/roomchat/internal/metrics"
	"github.com/Tyrowin/roomchat/internal/server"
)

// TestOrigin is the origin allowed by NewTestConfig and sent by ConnectWebSocket.
const TestOrigin = "http://localhost:8080"

// Harness is a running server on an httptest listener.
type Harness struct {
	Server      *server.Server
	Coordinator *chat.Coordinator
	HTTP        *httptest.Server
	WSURL       string
}

// NewTestConfig returns the default configuration with TestOrigin allowed.
func NewTestConfig() server.Config {
	cfg := server.NewConfig()
	cfg.AllowedOrigins = []string{TestOrigin}
	return *cfg
}

// StartServer wires a server from cfg, starts its hub and serves its routes.
// Everything is torn down when the test ends.
func StartServer(t *testing.T, cfg server.Config, searcher giphy.Searcher) *Harness {
	t.Helper()

	log := zaptest.NewLogger(t)
	m := metrics.NewNop()
	coordinator := chat.NewCoordinator(
		chat.NewRegistry(cfg.HistoryLimit),
		m,
		log.Named("chat"),
		chat.Options{StrictRoomBinding: cfg.StrictRoomBinding},
	)
	srv := server.New(cfg, coordinator, searcher, m, log)
	srv.StartHub()

	ts := httptest.NewServer(srv.Routes())
	t.Cleanup(func() {
		ts.Close()
		_ = srv.Hub().Shutdown(2 * time.Second)
	})

	return &Harness{
		Server:      srv,
		Coordinator: coordinator,
		HTTP:        ts,
		WSURL:       "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws",
	}
}

// ConnectWebSocket dials url with the given Origin header.
func ConnectWebSocket(url, origin string) (*websocket.Conn, *http.Response, error) {
	dialer := websocket.Dialer{
		HandshakeTimeout: 5 * time.Second,
	}

	headers := http.Header{}
	if origin != "" {
		headers.Set("Origin", origin)
	}

	conn, resp, err := dialer.Dial(url, headers)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	return conn, resp, err
}

// MustConnect dials the harness with TestOrigin and closes the connection on cleanup.
func (h *Harness) MustConnect(t *testing.T) *websocket.Conn {
	t.Helper()
	conn, _, err := ConnectWebSocket(h.WSURL, TestOrigin)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

// Emit sends one event envelope.
func Emit(t *testing.T, conn *websocket.Conn, event chat.EventType, data any) {
	t.Helper()
	require.NoError(t, conn.WriteJSON(map[string]any{"event": event, "data": data}))
}

// ReadEvent reads the next envelope, failing the test after timeout.
func ReadEvent(t *testing.T, conn *websocket.Conn, timeout time.Duration) chat.Inbound {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(timeout)))
	_, payload, err := conn.ReadMessage()
	require.NoError(t, err)

	var in chat.Inbound
	require.NoError(t, json.Unmarshal(payload, &in))
	return in
}

// ExpectEvent reads the next envelope and checks its type.
func ExpectEvent(t *testing.T, conn *websocket.Conn, want chat.EventType) chat.Inbound {
	t.Helper()
	in := ReadEvent(t, conn, 2*time.Second)
	require.Equal(t, want, in.Type, "payload: %s", string(in.Data))
	return in
}

// ExpectSilence fails if any frame arrives within timeout. A timed out read
// leaves the connection unusable, so call it last.
func ExpectSilence(t *testing.T, conn *websocket.Conn, timeout time.Duration) {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(timeout)))
	_, payload, err := conn.ReadMessage()
	require.Error(t, err, "unexpected frame: %s", string(payload))
}

// Join emits join-room and consumes the chat-history and room-users replies.
// It returns the history payload and the online count.
func Join(t *testing.T, conn *websocket.Conn, username, roomID string) (json.RawMessage, int) {
	t.Helper()
	Emit(t, conn, chat.EventJoinRoom, chat.JoinRequest{Username: username, RoomID: roomID})

	history := ExpectEvent(t, conn, chat.EventChatHistory)
	users := ExpectEvent(t, conn, chat.EventRoomUsers)

	var count int
	require.NoError(t, json.Unmarshal(users.Data, &count))
	return history.Data, count
}

// CloseWebSocket gracefully closes a WebSocket connection.
func CloseWebSocket(conn *websocket.Conn) error {
	err := conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	if err != nil {
		return err
	}
	return conn.Close()
}
