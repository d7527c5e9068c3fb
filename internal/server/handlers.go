package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/Tyrowin/lfgrelay/internal/protocol"
)

const (
	defaultPageSize = 50
	maxPageSize     = 100
)

var errBadPage = errors.New("invalid paging parameters")

// WebSocketHandler authenticates the token query parameter, upgrades the
// connection and hands the client to the hub. Bad tokens get 401 before the
// upgrade and leave no state behind.
func (s *Server) WebSocketHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed. WebSocket endpoint only accepts GET requests.", http.StatusMethodNotAllowed)
		return
	}

	user, err := s.auth.Verify(r.URL.Query().Get("token"))
	if err != nil {
		s.log.Info().Err(err).Str("addr", r.RemoteAddr).Msg("rejected WebSocket handshake")
		writeJSON(w, http.StatusUnauthorized, errorBody{Error: "Unauthorized"})
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Debug().Err(err).Str("addr", r.RemoteAddr).Msg("WebSocket upgrade failed")
		return
	}

	client := NewClient(conn, s.hub, user, r.RemoteAddr)
	if !s.hub.registerClient(client) {
		_ = conn.Close()
	}
}

type errorBody struct {
	Error string `json:"error"`
}

type descriptor struct {
	Message   string            `json:"message"`
	Status    string            `json:"status"`
	Endpoints map[string]string `json:"endpoints"`
}

// RootHandler describes the service.
func RootHandler(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, descriptor{
		Message: "LFG relay",
		Status:  "running",
		Endpoints: map[string]string{
			"health":    "/health",
			"websocket": "/ws?token=<jwt>",
			"rooms":     "/api/rooms/{game}/messages",
			"groups":    "/api/groups/{groupId}/messages",
			"test":      "/test",
		},
	})
}

// HealthHandler reports liveness.
func HealthHandler(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

type messagesBody struct {
	Messages []protocol.ChatMessage `json:"messages"`
}

// GameMessagesHandler returns a page of a game room's history, oldest first.
// The room is recorded so it becomes discoverable.
func (s *Server) GameMessagesHandler(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["game"]
	slug := protocol.NormalizeGameName(name)

	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.StoreTimeout)
	defer cancel()

	if err := s.store.UpsertRoomIfAbsent(ctx, slug, name); err != nil {
		s.log.Error().Err(err).Str("room", slug).Msg("failed to upsert room")
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "Server error"})
		return
	}
	s.writeHistory(ctx, w, r, protocol.RoomGame, slug)
}

// GroupMessagesHandler returns a page of a group room's history, oldest first.
func (s *Server) GroupMessagesHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.StoreTimeout)
	defer cancel()

	s.writeHistory(ctx, w, r, protocol.RoomGroup, mux.Vars(r)["groupId"])
}

func (s *Server) writeHistory(ctx context.Context, w http.ResponseWriter, r *http.Request, roomType protocol.RoomType, roomKey string) {
	before, limit, err := parsePage(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
		return
	}

	msgs, err := s.store.FindMessagesBefore(ctx, roomType, roomKey, before, limit)
	if err != nil {
		s.log.Error().Err(err).Str("room_type", string(roomType)).Str("room_key", roomKey).Msg("failed to load history")
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "Server error"})
		return
	}
	if user, ok := UserFromContext(r.Context()); ok {
		s.log.Debug().
			Str("user_id", user.ID).
			Str("room_type", string(roomType)).
			Str("room_key", roomKey).
			Int("messages", len(msgs)).
			Msg("served history")
	}
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	if msgs == nil {
		msgs = []protocol.ChatMessage{}
	}
	writeJSON(w, http.StatusOK, messagesBody{Messages: msgs})
}

// parsePage reads the before (RFC 3339) and limit query parameters. A zero
// before means now.
func parsePage(r *http.Request) (time.Time, int, error) {
	q := r.URL.Query()

	var before time.Time
	if v := q.Get("before"); v != "" {
		t, err := time.Parse(time.RFC3339Nano, v)
		if err != nil {
			return time.Time{}, 0, fmt.Errorf("%w: before must be an RFC 3339 timestamp", errBadPage)
		}
		before = t
	}

	limit := defaultPageSize
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return time.Time{}, 0, fmt.Errorf("%w: limit must be a positive integer", errBadPage)
		}
		limit = min(n, maxPageSize)
	}
	return before, limit, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// TestPageHandler serves an HTML page for trying the relay by hand with a
// token minted by cmd/devtoken.
func TestPageHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html")
	_, _ = fmt.Fprint(w, testPage)
}

const testPage = `<!DOCTYPE html>
<html>
<head>
    <title>LFG Relay Test</title>
    <style>
        body { font-family: Arial, sans-serif; margin: 20px; }
        #log {
            border: 1px solid #ccc;
            height: 300px;
            padding: 10px;
            overflow-y: scroll;
            margin: 10px 0;
            background-color: #f9f9f9;
            font-family: monospace;
            white-space: pre-wrap;
        }
        input[type="text"] { padding: 5px; margin-right: 10px; }
        button { padding: 5px 15px; background-color: #007cba; color: white; border: none; cursor: pointer; }
        button:hover { background-color: #005a87; }
        .status { margin: 10px 0; padding: 5px; border-radius: 3px; }
        .connected { background-color: #d4edda; color: #155724; }
        .disconnected { background-color: #f8d7da; color: #721c24; }
    </style>
</head>
<body>
    <h1>LFG Relay Test</h1>

    <div id="status" class="status disconnected">Disconnected</div>

    <div>
        <input type="text" id="token" placeholder="Token" size="60">
        <button onclick="toggleConnection()" id="connectButton">Connect</button>
    </div>
    <div>
        <select id="roomType"><option>game</option><option>group</option></select>
        <input type="text" id="roomKey" placeholder="Room (e.g. Valorant)">
        <button onclick="emit('join_room', room())">Join</button>
        <button onclick="emit('leave_room', room())">Leave</button>
        <button onclick="emit('voice_join', room())">Voice join</button>
    </div>
    <div>
        <input type="text" id="content" placeholder="Type a message..." size="60">
        <button onclick="sendMessage()">Send</button>
    </div>

    <div id="log"></div>

    <script>
        let ws = null;
        const logDiv = document.getElementById('log');
        const statusDiv = document.getElementById('status');
        const connectButton = document.getElementById('connectButton');

        function log(line) {
            const el = document.createElement('div');
            el.textContent = line;
            logDiv.appendChild(el);
            logDiv.scrollTop = logDiv.scrollHeight;
        }

        function room() {
            return {
                roomType: document.getElementById('roomType').value,
                roomKey: document.getElementById('roomKey').value
            };
        }

        function emit(event, data) {
            if (!ws || ws.readyState !== WebSocket.OPEN) return;
            ws.send(JSON.stringify({ event: event, data: data }));
            log('> ' + event + ' ' + JSON.stringify(data));
        }

        function sendMessage() {
            const input = document.getElementById('content');
            const data = room();
            data.content = input.value;
            emit('send_message', data);
            input.value = '';
        }

        function connect() {
            const token = encodeURIComponent(document.getElementById('token').value);
            const scheme = location.protocol === 'https:' ? 'wss://' : 'ws://';
            ws = new WebSocket(scheme + location.host + '/ws?token=' + token);

            ws.onopen = function() {
                statusDiv.textContent = 'Connected';
                statusDiv.className = 'status connected';
                connectButton.textContent = 'Disconnect';
            };
            ws.onmessage = function(event) {
                const frame = JSON.parse(event.data);
                log('< ' + frame.event + ' ' + JSON.stringify(frame.data));
            };
            ws.onclose = function() {
                statusDiv.textContent = 'Disconnected';
                statusDiv.className = 'status disconnected';
                connectButton.textContent = 'Connect';
                ws = null;
            };
        }

        function toggleConnection() {
            if (ws && ws.readyState === WebSocket.OPEN) {
                ws.close();
            } else {
                connect();
            }
        }

        document.getElementById('content').addEventListener('keypress', function(e) {
            if (e.key === 'Enter') sendMessage();
        });
    </script>
</body>
</html>`
