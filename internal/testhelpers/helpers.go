// Package testhelpers provides common utilities shared by the relay's tests.
//
// It offers an in-memory connection that records every frame it is sent, token
// minting, and WebSocket helpers for exercising a running test server.
package testhelpers

import (
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Tyrowin/lfgrelay/internal/auth"
	"github.com/Tyrowin/lfgrelay/internal/protocol"
)

// TestSecret signs tokens in tests.
const TestSecret = "test-secret-key"

// TestOrigin is the Origin header sent by ConnectWebSocket.
const TestOrigin = "http://localhost:3000"

// Frame is a decoded outbound event.
type Frame struct {
	Event string
	Data  json.RawMessage
}

// Decode unmarshals the frame payload into v, failing the test on error.
func (f Frame) Decode(t *testing.T, v any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(f.Data, v), "decoding %s payload %s", f.Event, f.Data)
}

// RecordingConn is an in-memory connection that records the frames sent to it.
type RecordingConn struct {
	id   string
	user protocol.User

	mu     sync.Mutex
	frames []Frame
	closed bool
}

// NewRecordingConn creates a connection with the given id owned by user.
func NewRecordingConn(id string, user protocol.User) *RecordingConn {
	return &RecordingConn{id: id, user: user}
}

// ID returns the connection id.
func (c *RecordingConn) ID() string { return c.id }

// User returns the bound identity.
func (c *RecordingConn) User() protocol.User { return c.user }

// Send records msg unless the connection was closed.
func (c *RecordingConn) Send(msg []byte) bool {
	var env protocol.Envelope
	if err := json.Unmarshal(msg, &env); err != nil {
		panic("testhelpers: sent invalid frame: " + string(msg))
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	c.frames = append(c.frames, Frame{Event: env.Event, Data: env.Data})
	return true
}

// Close makes subsequent sends fail.
func (c *RecordingConn) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
}

// Frames returns a copy of every recorded frame.
func (c *RecordingConn) Frames() []Frame {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Frame(nil), c.frames...)
}

// Events returns the event names recorded so far, in order.
func (c *RecordingConn) Events() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	names := make([]string, len(c.frames))
	for i, f := range c.frames {
		names[i] = f.Event
	}
	return names
}

// Named returns the recorded frames for event.
func (c *RecordingConn) Named(event string) []Frame {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []Frame
	for _, f := range c.frames {
		if f.Event == event {
			out = append(out, f)
		}
	}
	return out
}

// Reset discards recorded frames.
func (c *RecordingConn) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frames = nil
}

// User builds an identity with the default role.
func User(id, username string) protocol.User {
	return protocol.User{ID: id, Username: username, Role: auth.DefaultRole}
}

// MintToken signs a connection token for user with TestSecret.
func MintToken(t *testing.T, user protocol.User) string {
	t.Helper()
	token, err := auth.NewManager(auth.Config{Secret: TestSecret, TokenTTL: time.Hour}).Issue(user)
	require.NoError(t, err, "minting token")
	return token
}

// WebSocketURL converts an httptest server URL into the /ws endpoint URL
// carrying token.
func WebSocketURL(t *testing.T, serverURL, token string) string {
	t.Helper()
	u, err := url.Parse(serverURL)
	require.NoError(t, err, "parsing server URL")
	u.Scheme = strings.Replace(u.Scheme, "http", "ws", 1)
	u.Path = "/ws"
	if token != "" {
		u.RawQuery = url.Values{"token": {token}}.Encode()
	}
	return u.String()
}

// ConnectWebSocket dials wsURL with the test origin. The handshake response is
// returned so callers can inspect rejected upgrades.
func ConnectWebSocket(wsURL string) (*websocket.Conn, *http.Response, error) {
	dialer := websocket.Dialer{
		HandshakeTimeout: 5 * time.Second,
	}

	headers := http.Header{}
	headers.Set("Origin", TestOrigin)

	conn, resp, err := dialer.Dial(wsURL, headers)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	return conn, resp, err
}

// Dial connects user to the server and fails the test on error. The
// connection is closed when the test ends.
func Dial(t *testing.T, serverURL string, user protocol.User) *websocket.Conn {
	t.Helper()
	conn, _, err := ConnectWebSocket(WebSocketURL(t, serverURL, MintToken(t, user)))
	require.NoError(t, err, "connecting %s", user.Username)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

// Emit sends an inbound event.
func Emit(t *testing.T, conn *websocket.Conn, event string, data any) {
	t.Helper()
	raw, err := json.Marshal(data)
	require.NoError(t, err, "marshaling %s payload", event)
	require.NoError(t, conn.WriteJSON(protocol.Envelope{Event: event, Data: raw}), "sending %s", event)
}

// ReadFrame reads the next frame, failing the test after timeout.
func ReadFrame(t *testing.T, conn *websocket.Conn, timeout time.Duration) Frame {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(timeout)))
	var env protocol.Envelope
	require.NoError(t, conn.ReadJSON(&env), "reading frame")
	return Frame{Event: env.Event, Data: env.Data}
}

// Expect reads frames until one named event arrives, failing the test if it
// does not arrive within timeout. Frames read on the way are discarded.
func Expect(t *testing.T, conn *websocket.Conn, event string, timeout time.Duration) Frame {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			require.FailNow(t, "timed out waiting for "+event)
		}
		f := ReadFrame(t, conn, remaining)
		if f.Event == event {
			return f
		}
	}
}

// ExpectNone fails the test if a frame named event arrives within wait.
func ExpectNone(t *testing.T, conn *websocket.Conn, event string, wait time.Duration) {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(wait)))
	for {
		var env protocol.Envelope
		if err := conn.ReadJSON(&env); err != nil {
			return
		}
		require.NotEqual(t, event, env.Event, "unexpected frame: %s", env.Data)
	}
}

// AssertStatusCode checks if the HTTP response has the expected status code.
func AssertStatusCode(t *testing.T, resp *http.Response, expected int) {
	t.Helper()
	assert.Equal(t, expected, resp.StatusCode, "status code")
}

// AssertContentType checks if the HTTP response has the expected Content-Type header.
func AssertContentType(t *testing.T, resp *http.Response, expected string) {
	t.Helper()
	assert.Equal(t, expected, resp.Header.Get("Content-Type"), "content type")
}
