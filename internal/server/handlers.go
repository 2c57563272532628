// Package server exposes HTTP handlers, including WebSocket upgrades, health
// checks, the GIF search passthrough and the built-in test page.
package server

import (
	"encoding/json"
	"fmt"
	"net/http"

	"go.uber.org/zap"
)

const healthMessage = "Room chat server running"

// WebSocketHandler handles WebSocket upgrade requests and manages client connections.
// It validates that the request uses the GET method, upgrades the HTTP connection
// to WebSocket, creates a new Client with its session, and registers it with the hub.
func (s *Server) WebSocketHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed. WebSocket endpoint only accepts GET requests.", http.StatusMethodNotAllowed)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("WebSocket upgrade failed", zap.Error(err))
		return
	}

	client := NewClient(conn, s.hub, s.coordinator, r.RemoteAddr, s.cfg, s.log.Named("client"))

	// The hub launches the pump goroutines.
	if !s.hub.registerClient(client) {
		s.log.Info("Hub stopped; refusing connection", zap.String("addr", r.RemoteAddr))
		_ = conn.Close()
	}
}

// HealthHandler reports that the server is running and how many rooms are active.
func (s *Server) HealthHandler(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{
		Message:     healthMessage,
		ActiveRooms: s.coordinator.Registry().RoomCount(),
	}, s.log)
}

// GiphyHandler proxies ?q= to the GIF searcher and returns the list of URLs.
// Lookup failures are answered once with a 500 and never retried.
func (s *Server) GiphyHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	urls, err := s.searcher.Search(r.Context(), r.URL.Query().Get("q"))
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, SearchErrorResponse{
			Error:   "Giphy API failed",
			Details: err.Error(),
		}, s.log)
		return
	}
	if urls == nil {
		urls = []string{}
	}
	writeJSON(w, http.StatusOK, urls, s.log)
}

func writeJSON(w http.ResponseWriter, status int, body any, log *zap.Logger) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Warn("Error writing JSON response", zap.Error(err))
	}
}

// TestPageHandler serves an HTML test page for trying rooms from a browser.
// It connects to the WebSocket endpoint, joins a room, and shows messages,
// presence changes and typing notices.
func (s *Server) TestPageHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html")
	if _, err := fmt.Fprint(w, testPage); err != nil {
		s.log.Warn("Error writing HTML response", zap.Error(err))
	}
}

const testPage = `<!DOCTYPE html>
<html>
<head>
    <title>Room Chat Test</title>
    <style>
        body { font-family: Arial, sans-serif; margin: 20px; }
        #messages {
            border: 1px solid #ccc;
            height: 300px;
            padding: 10px;
            overflow-y: scroll;
            margin: 10px 0;
            background-color: #f9f9f9;
        }
        input[type="text"] { width: 200px; padding: 5px; margin-right: 10px; }
        button { padding: 5px 15px; background-color: #007cba; color: white; border: none; cursor: pointer; }
        button:hover { background-color: #005a87; }
        #typing { color: gray; font-style: italic; height: 1em; }
    </style>
</head>
<body>
    <h1>Room Chat Test</h1>

    <div>
        <input type="text" id="username" placeholder="Username">
        <input type="text" id="room" placeholder="Room">
        <button id="joinButton" onclick="join()">Join</button>
        <button onclick="leave()">Leave</button>
        <span id="online"></span>
    </div>

    <div id="messages"></div>
    <div id="typing"></div>

    <div>
        <input type="text" id="messageInput" placeholder="Type a message..." disabled>
        <button id="sendButton" onclick="sendMessage()" disabled>Send</button>
    </div>

    <script>
        let ws = null;
        let roomId = null;
        let username = null;
        let typingTimer = null;
        const messagesDiv = document.getElementById('messages');
        const messageInput = document.getElementById('messageInput');

        function addLine(text, color) {
            const el = document.createElement('div');
            el.style.color = color || 'black';
            el.textContent = text;
            messagesDiv.appendChild(el);
            messagesDiv.scrollTop = messagesDiv.scrollHeight;
        }

        function emit(event, data) {
            if (ws && ws.readyState === WebSocket.OPEN) {
                ws.send(JSON.stringify({event: event, data: data}));
            }
        }

        function join() {
            username = document.getElementById('username').value.trim();
            roomId = document.getElementById('room').value.trim();
            const scheme = location.protocol === 'https:' ? 'wss://' : 'ws://';
            ws = new WebSocket(scheme + location.host + '/ws');
            ws.onopen = function() {
                emit('join-room', {username: username, roomId: roomId});
                messageInput.disabled = false;
                document.getElementById('sendButton').disabled = false;
            };
            ws.onmessage = function(e) {
                const evt = JSON.parse(e.data);
                switch (evt.event) {
                case 'chat-history':
                    messagesDiv.innerHTML = '';
                    (evt.data || []).forEach(m => addLine(m.username + ': ' + m.text));
                    break;
                case 'room-users':
                    document.getElementById('online').textContent = evt.data + ' online';
                    break;
                case 'user-joined':
                    addLine(evt.data.username + ' joined', 'green');
                    document.getElementById('online').textContent = evt.data.onlineCount + ' online';
                    break;
                case 'user-left':
                    addLine(evt.data.username + ' left', 'gray');
                    document.getElementById('online').textContent = evt.data.onlineCount + ' online';
                    break;
                case 'message':
                    addLine(evt.data.username + ': ' + evt.data.text);
                    break;
                case 'typing':
                    document.getElementById('typing').textContent = evt.data.username + ' is typing...';
                    break;
                case 'stop-typing':
                    document.getElementById('typing').textContent = '';
                    break;
                case 'error':
                    addLine('error: ' + evt.data.message, 'red');
                    break;
                }
            };
            ws.onclose = function() {
                addLine('Connection closed', 'gray');
                messageInput.disabled = true;
                document.getElementById('sendButton').disabled = true;
            };
        }

        function leave() {
            emit('leave-room', {username: username, roomId: roomId});
            if (ws) { ws.close(); }
        }

        function sendMessage() {
            const text = messageInput.value.trim();
            if (text) {
                emit('send-message', {roomId: roomId, username: username, text: text, time: new Date().toISOString()});
                emit('stop-typing', {roomId: roomId});
                messageInput.value = '';
            }
        }

        messageInput.addEventListener('input', function() {
            emit('typing', {roomId: roomId, username: username});
            clearTimeout(typingTimer);
            typingTimer = setTimeout(() => emit('stop-typing', {roomId: roomId}), 1500);
        });

        messageInput.addEventListener('keypress', function(e) {
            if (e.key === 'Enter') {
                sendMessage();
            }
        });
    </script>
</body>
</html>`
