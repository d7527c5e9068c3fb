// Package chat implements text rooms: membership, presence broadcasts, typing
// relay, and message fan-out after persistence.
package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"github.com/Tyrowin/lfgrelay/internal/presence"
	"github.com/Tyrowin/lfgrelay/internal/protocol"
)

var (
	// ErrValidation is returned for requests the manager refuses to act on.
	ErrValidation = errors.New("invalid request")
	// ErrPersistence wraps storage failures. Membership changes that already
	// happened are kept.
	ErrPersistence = errors.New("storage failure")
)

// Store is the persistence the manager depends on.
type Store interface {
	UpsertRoomIfAbsent(ctx context.Context, slug, name string) error
	// FindRecentMessages returns up to limit messages, newest first.
	FindRecentMessages(ctx context.Context, roomType protocol.RoomType, roomKey string, limit int) ([]protocol.ChatMessage, error)
	CreateMessage(ctx context.Context, msg protocol.ChatMessage) (protocol.ChatMessage, error)
}

// Config tunes the manager.
type Config struct {
	HistoryLimit     int
	MaxContentLength int
}

// Manager handles chat room events for all connections.
type Manager struct {
	rooms *presence.Table
	store Store
	cfg   Config
	log   zerolog.Logger
}

// NewManager creates a chat manager with its own membership table.
func NewManager(store Store, cfg Config, log zerolog.Logger) *Manager {
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = 50
	}
	if cfg.MaxContentLength <= 0 {
		cfg.MaxContentLength = 1000
	}
	return &Manager{
		rooms: presence.NewTable(presence.DomainChat),
		store: store,
		cfg:   cfg,
		log:   log.With().Str("module", "chat").Logger(),
	}
}

// Rooms exposes the membership table for inspection.
func (m *Manager) Rooms() *presence.Table {
	return m.rooms
}

func (m *Manager) key(roomType protocol.RoomType, rawKey string) (presence.Key, error) {
	if !roomType.Valid() {
		return presence.Key{}, fmt.Errorf("%w: unsupported room type %q", ErrValidation, roomType)
	}
	id := protocol.CanonicalRoomKey(roomType, rawKey)
	if id == "" {
		return presence.Key{}, fmt.Errorf("%w: room key is required", ErrValidation)
	}
	return m.rooms.Key(roomType, id), nil
}

// Join adds c to the room, delivers recent history to it and announces the
// updated membership to everyone in it. Game rooms are recorded in storage
// first so they become discoverable.
//
// c is a member before history is read, so a message stored concurrently is
// either in the history or broadcast to c, possibly both; clients drop
// duplicates by message id. A failed history fetch still joins the room; the
// error is returned afterwards.
func (m *Manager) Join(ctx context.Context, c presence.Conn, roomType protocol.RoomType, rawKey string) error {
	key, err := m.key(roomType, rawKey)
	if err != nil {
		return err
	}
	user := c.User()

	if roomType == protocol.RoomGame {
		if err := m.store.UpsertRoomIfAbsent(ctx, key.ID, strings.TrimSpace(rawKey)); err != nil {
			return fmt.Errorf("%w: %v", ErrPersistence, err)
		}
	}

	var entered bool
	m.rooms.Join(key, c, func(_ *presence.Room, ch presence.Change) {
		entered = ch.Entered
	})

	recent, histErr := m.store.FindRecentMessages(ctx, roomType, key.ID, m.cfg.HistoryLimit)
	// Storage hands back newest first; clients render oldest first.
	for i, j := 0, len(recent)-1; i < j; i, j = i+1, j-1 {
		recent[i], recent[j] = recent[j], recent[i]
	}
	if recent == nil {
		recent = []protocol.ChatMessage{}
	}

	m.rooms.View(key, func(r *presence.Room) {
		// c may have been swept while history was loading.
		if !r.Holds(c) {
			return
		}
		if histErr == nil {
			c.Send(protocol.MustEncode(protocol.EventRoomHistory, protocol.RoomHistory{
				RoomType: roomType,
				RoomKey:  key.ID,
				Messages: recent,
			}))
		}
		r.Broadcast(protocol.MustEncode(protocol.EventRoomUsers, r.Names()))
		if entered {
			r.Broadcast(protocol.MustEncode(protocol.EventUserJoined, protocol.UserRef{
				UserID:   user.ID,
				Username: user.Username,
			}))
		}
	})
	m.log.Debug().Str("room", key.String()).Str("user_id", user.ID).Str("conn_id", c.ID()).Msg("joined room")

	if histErr != nil {
		return fmt.Errorf("%w: %v", ErrPersistence, histErr)
	}
	return nil
}

// Leave removes c from the room and, once the user has no connection left in
// it, tells the remaining members. Leaving a room c is not in does nothing.
func (m *Manager) Leave(c presence.Conn, roomType protocol.RoomType, rawKey string) bool {
	key, err := m.key(roomType, rawKey)
	if err != nil {
		return false
	}
	left := m.rooms.Leave(key, c, m.announceDeparture(c.User()))
	if left {
		m.log.Debug().Str("room", key.String()).Str("user_id", c.User().ID).Str("conn_id", c.ID()).Msg("left room")
	}
	return left
}

// Typing relays the typing state to every other member of the room. Senders
// that are not in the room are ignored.
func (m *Manager) Typing(c presence.Conn, roomType protocol.RoomType, rawKey string, isTyping bool) {
	key, err := m.key(roomType, rawKey)
	if err != nil {
		return
	}
	user := c.User()
	m.rooms.View(key, func(r *presence.Room) {
		if !r.Has(user.ID) {
			return
		}
		r.BroadcastExcept(user.ID, protocol.MustEncode(protocol.EventTyping, protocol.TypingNotice{
			UserID:   user.ID,
			Username: user.Username,
			IsTyping: isTyping,
		}))
	})
}

// Send persists a chat line and broadcasts the stored message to the room.
// Empty content and content over the configured length are dropped without
// error. Nothing is broadcast when persistence fails.
func (m *Manager) Send(ctx context.Context, c presence.Conn, roomType protocol.RoomType, rawKey, content string) error {
	trimmed := strings.TrimSpace(content)
	if trimmed == "" || utf8.RuneCountInString(trimmed) > m.cfg.MaxContentLength {
		m.log.Debug().Str("conn_id", c.ID()).Int("length", utf8.RuneCountInString(trimmed)).Msg("dropping message content")
		return nil
	}

	key, err := m.key(roomType, rawKey)
	if err != nil {
		return err
	}
	user := c.User()

	stored, err := m.store.CreateMessage(ctx, protocol.ChatMessage{
		RoomType:   roomType,
		RoomKey:    key.ID,
		SenderID:   user.ID,
		SenderName: user.Username,
		Content:    trimmed,
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrPersistence, err)
	}

	frame := protocol.MustEncode(protocol.EventNewMessage, stored)
	m.rooms.View(key, func(r *presence.Room) {
		r.Broadcast(frame)
	})
	return nil
}

// Disconnect removes c from every chat room, announcing departures where the
// user has no other connection left in the room. It returns the number of
// rooms c was in; a second call returns 0.
func (m *Manager) Disconnect(c presence.Conn) int {
	return m.rooms.Purge(c, m.announceDeparture(c.User()))
}

func (m *Manager) announceDeparture(user protocol.User) func(*presence.Room, presence.Change) {
	return func(r *presence.Room, ch presence.Change) {
		if !ch.Departed || r.Len() == 0 {
			return
		}
		r.Broadcast(protocol.MustEncode(protocol.EventRoomUsers, r.Names()))
		r.Broadcast(protocol.MustEncode(protocol.EventUserLeft, protocol.UserRef{
			UserID:   user.ID,
			Username: user.Username,
		}))
	}
}
