package chat

import (
	"encoding/json"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/Tyrowin/roomchat/internal/metrics"
)

// recorderConn is a Conn that records every event it is sent.
type recorderConn struct {
	id string

	mu     sync.Mutex
	events []Event
	full   bool
}

func newRecorder() *recorderConn {
	return &recorderConn{id: uuid.NewString()}
}

func (c *recorderConn) ID() string { return c.id }

func (c *recorderConn) Send(event Event) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.full {
		return false
	}
	c.events = append(c.events, event)
	return true
}

func (c *recorderConn) Events() []Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Event(nil), c.events...)
}

func (c *recorderConn) Types() []EventType {
	var types []EventType
	for _, e := range c.Events() {
		types = append(types, e.Type)
	}
	return types
}

func (c *recorderConn) OfType(t EventType) []Event {
	var out []Event
	for _, e := range c.Events() {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

func (c *recorderConn) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = nil
}

func newTestCoordinator(t *testing.T, opts Options) *Coordinator {
	t.Helper()
	return NewCoordinator(NewRegistry(0), metrics.NewNop(), zaptest.NewLogger(t), opts)
}

func frame(t *testing.T, event EventType, data any) []byte {
	t.Helper()
	raw, err := json.Marshal(data)
	require.NoError(t, err)
	out, err := json.Marshal(Inbound{Type: event, Data: raw})
	require.NoError(t, err)
	return out
}

func mustMessage(t *testing.T, payload string) Message {
	t.Helper()
	msg, err := ParseMessage([]byte(payload))
	require.NoError(t, err)
	return msg
}

func toJSON(t *testing.T, v any) string {
	t.Helper()
	out, err := json.Marshal(v)
	require.NoError(t, err)
	return string(out)
}
