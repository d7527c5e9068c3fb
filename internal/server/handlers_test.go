package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Tyrowin/lfgrelay/internal/protocol"
	"github.com/Tyrowin/lfgrelay/internal/testhelpers"
)

func TestRootHandler(t *testing.T) {
	rec := httptest.NewRecorder()
	RootHandler(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	resp := rec.Result()
	defer func() { _ = resp.Body.Close() }()
	testhelpers.AssertStatusCode(t, resp, http.StatusOK)
	testhelpers.AssertContentType(t, resp, "application/json")

	var body descriptor
	decodeBody(t, resp, &body)
	assert.Equal(t, "running", body.Status)
	assert.Equal(t, "/health", body.Endpoints["health"])
}

func TestHealthHandler(t *testing.T) {
	env := newTestEnv(t, nil)
	resp := env.get(t, "/health", "")

	testhelpers.AssertStatusCode(t, resp, http.StatusOK)
	testhelpers.AssertContentType(t, resp, "application/json")
	var body map[string]bool
	decodeBody(t, resp, &body)
	assert.Equal(t, map[string]bool{"ok": true}, body)
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))
}

func TestTestPageHandler(t *testing.T) {
	env := newTestEnv(t, nil)
	resp := env.get(t, "/test", "")

	testhelpers.AssertStatusCode(t, resp, http.StatusOK)
	testhelpers.AssertContentType(t, resp, "text/html")
}

func TestWebSocketEndpointMethodNotAllowed(t *testing.T) {
	env := newTestEnv(t, nil)

	resp, err := http.Post(env.http.URL+"/ws", "application/json", strings.NewReader("{}"))
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	testhelpers.AssertStatusCode(t, resp, http.StatusMethodNotAllowed)
}

func TestHistoryRequiresBearerToken(t *testing.T) {
	env := newTestEnv(t, nil)

	tests := []struct {
		name   string
		header string
	}{
		{"no header", ""},
		{"not bearer", "Basic abc"},
		{"bad token", "Bearer nope"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, _ := http.NewRequest(http.MethodGet, env.http.URL+"/api/rooms/csgo/messages", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			resp, err := http.DefaultClient.Do(req)
			require.NoError(t, err)
			defer func() { _ = resp.Body.Close() }()
			testhelpers.AssertStatusCode(t, resp, http.StatusUnauthorized)
		})
	}
}

func TestRequireBearerSetsUser(t *testing.T) {
	env := newTestEnv(t, nil)

	var got protocol.User
	var found bool
	h := env.srv.requireBearer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, found = UserFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/groups/g/messages", nil)
	req.Header.Set("Authorization", "Bearer "+testhelpers.MintToken(t, carol))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusNoContent, rec.Code)
	assert.True(t, found)
	assert.Equal(t, carol, got)

	_, ok := UserFromContext(context.Background())
	assert.False(t, ok, "no user in a bare context")
}

func seedMessages(t *testing.T, env *testEnv, roomType protocol.RoomType, key string, contents ...string) []protocol.ChatMessage {
	t.Helper()
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	out := make([]protocol.ChatMessage, 0, len(contents))
	for i, content := range contents {
		msg, err := env.store.CreateMessage(context.Background(), protocol.ChatMessage{
			RoomType:   roomType,
			RoomKey:    key,
			SenderID:   alice.ID,
			SenderName: alice.Username,
			Content:    content,
			CreatedAt:  base.Add(time.Duration(i) * time.Minute),
		})
		require.NoError(t, err, "seeding message")
		out = append(out, msg)
	}
	return out
}

func TestGameMessagesHandler(t *testing.T) {
	env := newTestEnv(t, nil)
	token := testhelpers.MintToken(t, bob)
	seeded := seedMessages(t, env, protocol.RoomGame, "counter-strike", "one", "two", "three", "four")

	t.Run("oldest first", func(t *testing.T) {
		resp := env.get(t, "/api/rooms/"+url.PathEscape("Counter Strike")+"/messages", token)
		testhelpers.AssertStatusCode(t, resp, http.StatusOK)

		var body messagesBody
		decodeBody(t, resp, &body)
		assert.Equal(t, "one,two,three,four", contents(body.Messages))

		room, err := env.store.FindRoom(context.Background(), "counter-strike")
		require.NoError(t, err, "room is recorded")
		assert.Equal(t, "Counter Strike", room.Name)
	})

	t.Run("limit keeps the newest", func(t *testing.T) {
		resp := env.get(t, "/api/rooms/counter-strike/messages?limit=2", token)
		var body messagesBody
		decodeBody(t, resp, &body)
		assert.Equal(t, "three,four", contents(body.Messages))
	})

	t.Run("before pages backwards", func(t *testing.T) {
		before := seeded[2].CreatedAt.Format(time.RFC3339Nano)
		resp := env.get(t, "/api/rooms/counter-strike/messages?limit=1&before="+url.QueryEscape(before), token)
		var body messagesBody
		decodeBody(t, resp, &body)
		assert.Equal(t, "two", contents(body.Messages))
	})

	t.Run("empty room", func(t *testing.T) {
		resp := env.get(t, "/api/rooms/Dota%202/messages", token)
		testhelpers.AssertStatusCode(t, resp, http.StatusOK)
		var body map[string][]any
		decodeBody(t, resp, &body)
		msgs, ok := body["messages"]
		assert.True(t, ok)
		assert.NotNil(t, msgs, "an empty array, not null")
		assert.Empty(t, msgs)
	})

	t.Run("bad paging", func(t *testing.T) {
		for _, query := range []string{"?limit=abc", "?limit=0", "?before=yesterday"} {
			resp := env.get(t, "/api/rooms/counter-strike/messages"+query, token)
			testhelpers.AssertStatusCode(t, resp, http.StatusBadRequest)
		}
	})
}

func TestGroupMessagesHandler(t *testing.T) {
	env := newTestEnv(t, nil)
	token := testhelpers.MintToken(t, carol)
	seedMessages(t, env, protocol.RoomGroup, "Squad42", "a", "b")
	seedMessages(t, env, protocol.RoomGroup, "squad42", "other")

	resp := env.get(t, "/api/groups/Squad42/messages", token)
	testhelpers.AssertStatusCode(t, resp, http.StatusOK)

	var body messagesBody
	decodeBody(t, resp, &body)
	assert.Equal(t, "a,b", contents(body.Messages), "group keys are used verbatim")
	_, err := env.store.FindRoom(context.Background(), "squad42")
	assert.Error(t, err, "group reads do not record a game room")
}

func TestPageSizeIsCapped(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/api/groups/g/messages?limit=500", nil)
	_, limit, err := parsePage(req)
	require.NoError(t, err)
	assert.Equal(t, maxPageSize, limit)

	_, limit, err = parsePage(httptest.NewRequest(http.MethodGet, "/", nil))
	require.NoError(t, err)
	assert.Equal(t, defaultPageSize, limit)
}

func TestHTTPRateLimit(t *testing.T) {
	env := newTestEnv(t, func(cfg *Config) {
		cfg.HTTPRateLimit = 2
	})

	for i := 0; i < 2; i++ {
		testhelpers.AssertStatusCode(t, env.get(t, "/health", ""), http.StatusOK)
	}
	testhelpers.AssertStatusCode(t, env.get(t, "/health", ""), http.StatusTooManyRequests)

	// WebSocket handshakes are throttled per connection instead.
	conn := env.dial(t, alice)
	joinAndSettle(t, conn, protocol.RoomGroup, "g1")
}

func contents(msgs []protocol.ChatMessage) string {
	parts := make([]string, len(msgs))
	for i, m := range msgs {
		parts[i] = m.Content
	}
	return strings.Join(parts, ",")
}
