package server

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Tyrowin/lfgrelay/internal/protocol"
	"github.com/Tyrowin/lfgrelay/internal/testhelpers"
)

// stubStore fails or panics on demand.
type stubStore struct {
	failCreate  bool
	panicCreate bool
	failFind    bool
}

func (s *stubStore) UpsertRoomIfAbsent(context.Context, string, string) error { return nil }

func (s *stubStore) FindRecentMessages(context.Context, protocol.RoomType, string, int) ([]protocol.ChatMessage, error) {
	if s.failFind {
		return nil, errors.New("database is locked")
	}
	return nil, nil
}

func (s *stubStore) CreateMessage(_ context.Context, msg protocol.ChatMessage) (protocol.ChatMessage, error) {
	if s.panicCreate {
		panic("boom")
	}
	if s.failCreate {
		return protocol.ChatMessage{}, errors.New("disk full")
	}
	msg.ID = "m1"
	msg.CreatedAt = time.Now().UTC()
	return msg, nil
}

func newTestHub(store *stubStore) *Hub {
	cfg := NewConfig().sanitize()
	return NewHub(cfg, store, zerolog.Nop())
}

// offlineClient builds a registered client with no network connection; its
// outbound frames stay in the send queue.
func offlineClient(h *Hub, id string, user protocol.User) *Client {
	c := NewClient(nil, h, user, "test")
	c.id = id
	h.mutex.Lock()
	h.clients[c] = struct{}{}
	h.mutex.Unlock()
	h.conns.Add(c)
	return c
}

func nextFrame(t *testing.T, c *Client) testhelpers.Frame {
	t.Helper()
	select {
	case msg, ok := <-c.send:
		require.True(t, ok, "send queue closed")
		var env protocol.Envelope
		require.NoError(t, json.Unmarshal(msg, &env), "invalid frame %s", msg)
		return testhelpers.Frame{Event: env.Event, Data: env.Data}
	case <-time.After(time.Second):
		require.FailNow(t, "no frame queued")
	}
	return testhelpers.Frame{}
}

func expectError(t *testing.T, c *Client, want string) {
	t.Helper()
	f := nextFrame(t, c)
	require.Equal(t, protocol.EventErrorMessage, f.Event)
	var msg string
	f.Decode(t, &msg)
	assert.Equal(t, want, msg)
}

func TestDispatchPersistenceFailure(t *testing.T) {
	store := &stubStore{}
	h := newTestHub(store)
	a := offlineClient(h, "a1", alice)
	b := offlineClient(h, "b1", bob)

	h.dispatch(a, []byte(`{"event":"join_room","data":{"roomType":"group","roomKey":"g1"}}`))
	h.dispatch(b, []byte(`{"event":"join_room","data":{"roomType":"group","roomKey":"g1"}}`))
	for len(a.send) > 0 {
		<-a.send
	}
	for len(b.send) > 0 {
		<-b.send
	}

	store.failCreate = true
	h.dispatch(a, []byte(`{"event":"send_message","data":{"roomType":"group","roomKey":"g1","content":"hi"}}`))

	expectError(t, a, "failed to send message")
	assert.Empty(t, b.send, "no frames for other members")
}

func TestDispatchHistoryFailureStillJoins(t *testing.T) {
	h := newTestHub(&stubStore{failFind: true})
	a := offlineClient(h, "a1", alice)

	h.dispatch(a, []byte(`{"event":"join_room","data":{"roomType":"game","roomKey":"csgo"}}`))

	assert.Equal(t, protocol.EventRoomUsers, nextFrame(t, a).Event)
	assert.Equal(t, protocol.EventUserJoined, nextFrame(t, a).Event)
	expectError(t, a, "failed to join room")
	assert.Equal(t, 1, h.chat.Rooms().Rooms(), "membership is kept")
}

func TestDispatchRecoversPanics(t *testing.T) {
	h := newTestHub(&stubStore{panicCreate: true})
	a := offlineClient(h, "a1", alice)

	h.dispatch(a, []byte(`{"event":"send_message","data":{"roomType":"group","roomKey":"g1","content":"hi"}}`))
	expectError(t, a, "internal error")

	// The hub keeps serving the client.
	h.dispatch(a, []byte(`{"event":"voice_join","data":{"roomType":"group","roomKey":"g1"}}`))
	assert.Equal(t, protocol.EventVoicePeers, nextFrame(t, a).Event)
}

func TestDispatchDecodeErrors(t *testing.T) {
	h := newTestHub(&stubStore{})
	a := offlineClient(h, "a1", alice)

	h.dispatch(a, []byte(`{"event":"leave_room","data":{"roomType":"game"}}`))
	expectError(t, a, "invalid payload: leave_room: roomKey is required")

	h.dispatch(a, []byte(`{"event":"dance"}`))
	expectError(t, a, `unknown event: "dance"`)
}

func TestCleanupIsIdempotent(t *testing.T) {
	h := newTestHub(&stubStore{})
	a := offlineClient(h, "a1", alice)
	peer := testhelpers.NewRecordingConn("b1", bob)

	h.dispatch(a, []byte(`{"event":"join_room","data":{"roomType":"group","roomKey":"g1"}}`))
	h.dispatch(a, []byte(`{"event":"voice_join","data":{"roomType":"group","roomKey":"g1"}}`))
	require.NoError(t, h.chat.Join(context.Background(), peer, protocol.RoomGroup, "g1"))
	require.NoError(t, h.voice.Join(peer, protocol.RoomGroup, "g1"))
	peer.Reset()

	h.cleanup(a)
	h.cleanup(a)

	assert.Equal(t, []string{protocol.EventRoomUsers, protocol.EventUserLeft, protocol.EventVoiceUserLeft}, peer.Events())
	assert.False(t, h.conns.Online(alice.ID))
	assert.Equal(t, 0, h.ClientCount())
	assert.False(t, a.Send([]byte(`{}`)), "sends to a cleaned up client fail")
}

func TestSlowConsumerIsClosed(t *testing.T) {
	h := newTestHub(&stubStore{})
	c := NewClient(nil, h, alice, "test")
	frame := protocol.MustEncode(protocol.EventTyping, protocol.TypingNotice{UserID: "2"})

	for i := 0; i < sendBufferSize; i++ {
		require.True(t, c.Send(frame), "send %d before the buffer was full", i)
	}
	require.False(t, c.Send(frame), "send to a full buffer")
	require.False(t, c.Send(frame), "send after overflow")
	c.closeSend()

	n := 0
	for range c.send {
		n++
	}
	assert.Equal(t, sendBufferSize, n)
}

func TestHubShutdownWithoutClients(t *testing.T) {
	h := newTestHub(&stubStore{})
	go h.Run()

	assert.NoError(t, h.Shutdown(time.Second))
	assert.False(t, h.registerClient(NewClient(nil, h, alice, "test")), "registration refused after shutdown")
}
