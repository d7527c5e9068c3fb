// Package voice tracks voice room membership and relays WebRTC session
// descriptions and ICE candidates between peers. Media never passes through
// the relay.
package voice

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/Tyrowin/lfgrelay/internal/presence"
	"github.com/Tyrowin/lfgrelay/internal/protocol"
)

// ErrValidation is returned for requests the relay refuses to act on.
var ErrValidation = errors.New("invalid request")

// Relay handles voice events for all connections.
type Relay struct {
	rooms *presence.Table
	conns *presence.Registry
	log   zerolog.Logger
}

// NewRelay creates a relay that routes targeted messages through conns.
func NewRelay(conns *presence.Registry, log zerolog.Logger) *Relay {
	return &Relay{
		rooms: presence.NewTable(presence.DomainVoice),
		conns: conns,
		log:   log.With().Str("module", "voice").Logger(),
	}
}

// Rooms exposes the membership table for inspection.
func (r *Relay) Rooms() *presence.Table {
	return r.rooms
}

func (r *Relay) key(roomType protocol.RoomType, rawKey string) (presence.Key, error) {
	if !roomType.Valid() {
		return presence.Key{}, fmt.Errorf("%w: unsupported room type %q", ErrValidation, roomType)
	}
	id := protocol.CanonicalRoomKey(roomType, rawKey)
	if id == "" {
		return presence.Key{}, fmt.Errorf("%w: room key is required", ErrValidation)
	}
	return r.rooms.Key(roomType, id), nil
}

// Join adds c to the voice room, sends it the peers already present and tells
// those peers about the newcomer. A user's extra connections join silently.
func (r *Relay) Join(c presence.Conn, roomType protocol.RoomType, rawKey string) error {
	key, err := r.key(roomType, rawKey)
	if err != nil {
		return err
	}
	user := c.User()

	r.rooms.Join(key, c, func(room *presence.Room, ch presence.Change) {
		c.Send(protocol.MustEncode(protocol.EventVoicePeers, room.Members(user.ID)))
		if ch.Entered {
			room.BroadcastExcept(user.ID, protocol.MustEncode(protocol.EventVoiceUserJoined, protocol.UserRef{
				UserID:   user.ID,
				Username: user.Username,
			}))
		}
	})
	r.log.Debug().Str("room", key.String()).Str("user_id", user.ID).Str("conn_id", c.ID()).Msg("joined voice room")
	return nil
}

// Leave removes c from the voice room. Leaving a room c is not in does nothing.
func (r *Relay) Leave(c presence.Conn, roomType protocol.RoomType, rawKey string) bool {
	key, err := r.key(roomType, rawKey)
	if err != nil {
		return false
	}
	return r.rooms.Leave(key, c, r.announceDeparture(c.User()))
}

// Disconnect removes c from every voice room and returns how many it was in.
func (r *Relay) Disconnect(c presence.Conn) int {
	return r.rooms.Purge(c, r.announceDeparture(c.User()))
}

// Offer forwards an SDP offer to every connection of toUserID.
func (r *Relay) Offer(c presence.Conn, toUserID string, sdp json.RawMessage) int {
	return r.forward(toUserID, protocol.EventVoiceOffer, r.session(c, sdp))
}

// Answer forwards an SDP answer to every connection of toUserID.
func (r *Relay) Answer(c presence.Conn, toUserID string, sdp json.RawMessage) int {
	return r.forward(toUserID, protocol.EventVoiceAnswer, r.session(c, sdp))
}

// Candidate forwards an ICE candidate to every connection of toUserID.
func (r *Relay) Candidate(c presence.Conn, toUserID string, candidate json.RawMessage) int {
	user := c.User()
	return r.forward(toUserID, protocol.EventVoiceICECandidate, protocol.CandidateRelay{
		FromUserID:   user.ID,
		FromUsername: user.Username,
		Candidate:    candidate,
	})
}

func (r *Relay) session(c presence.Conn, sdp json.RawMessage) protocol.SessionRelay {
	user := c.User()
	return protocol.SessionRelay{
		FromUserID:   user.ID,
		FromUsername: user.Username,
		SDP:          sdp,
	}
}

// forward returns the number of connections the message was queued on.
// Offline targets are dropped. A user may signal their own id, which reaches
// every one of their connections, the sending one included.
func (r *Relay) forward(toUserID, event string, payload any) int {
	if toUserID == "" {
		return 0
	}
	targets := r.conns.Lookup(toUserID)
	if len(targets) == 0 {
		r.log.Debug().Str("event", event).Str("to_user_id", toUserID).Msg("target offline, dropping")
		return 0
	}

	frame := protocol.MustEncode(event, payload)
	sent := 0
	for _, t := range targets {
		if t.Send(frame) {
			sent++
		}
	}
	return sent
}

func (r *Relay) announceDeparture(user protocol.User) func(*presence.Room, presence.Change) {
	return func(room *presence.Room, ch presence.Change) {
		if !ch.Departed || room.Len() == 0 {
			return
		}
		room.Broadcast(protocol.MustEncode(protocol.EventVoiceUserLeft, protocol.UserRef{
			UserID:   user.ID,
			Username: user.Username,
		}))
	}
}
