// Package protocol defines the JSON events exchanged with relay clients, the
// identity bound to each connection, and the chat message shape shared with
// the persistence layer.
package protocol

import (
	"encoding/json"
	"time"
)

// RoomType distinguishes public game rooms from private group rooms.
type RoomType string

const (
	// RoomGame rooms are keyed by a normalized game name.
	RoomGame RoomType = "game"
	// RoomGroup rooms are keyed by an opaque stored group identifier.
	RoomGroup RoomType = "group"
)

// Valid reports whether t is a supported room type.
func (t RoomType) Valid() bool {
	return t == RoomGame || t == RoomGroup
}

// User is the identity decoded from a connection token. It never changes for
// the lifetime of a connection.
type User struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Role     string `json:"role"`
}

// ChatMessage is a stored chat line as broadcast in new_message and
// room_history events.
type ChatMessage struct {
	ID         string    `json:"id"`
	RoomType   RoomType  `json:"roomType"`
	RoomKey    string    `json:"roomKey"`
	SenderID   string    `json:"senderId"`
	SenderName string    `json:"senderName"`
	Content    string    `json:"content"`
	CreatedAt  time.Time `json:"createdAt"`
}

// UserRef identifies a user in presence and voice notifications.
type UserRef struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
}

// RoomHistory is delivered once to a connection that joins a chat room.
type RoomHistory struct {
	RoomType RoomType      `json:"roomType"`
	RoomKey  string        `json:"roomKey"`
	Messages []ChatMessage `json:"messages"`
}

// TypingNotice is relayed to the other members of a chat room.
type TypingNotice struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
	IsTyping bool   `json:"isTyping"`
}

// SessionRelay carries an SDP offer or answer to the target user.
type SessionRelay struct {
	FromUserID   string          `json:"fromUserId"`
	FromUsername string          `json:"fromUsername"`
	SDP          json.RawMessage `json:"sdp"`
}

// CandidateRelay carries an ICE candidate to the target user.
type CandidateRelay struct {
	FromUserID   string          `json:"fromUserId"`
	FromUsername string          `json:"fromUsername"`
	Candidate    json.RawMessage `json:"candidate"`
}
