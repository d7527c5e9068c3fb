package store

import (
	"time"

	"github.com/Tyrowin/lfgrelay/internal/protocol"
)

// Message is a persisted chat line.
type Message struct {
	ID         string    `gorm:"primarykey;size:27"`
	RoomType   string    `gorm:"size:16;not null;index:idx_messages_room,priority:1"`
	RoomKey    string    `gorm:"size:256;not null;index:idx_messages_room,priority:2"`
	SenderID   string    `gorm:"size:64;not null"`
	SenderName string    `gorm:"size:64;not null"`
	Content    string    `gorm:"not null"`
	CreatedAt  time.Time `gorm:"not null;index:idx_messages_room,priority:3"`
}

// TableName returns the table name for Message.
func (Message) TableName() string {
	return "messages"
}

func (m Message) toProtocol() protocol.ChatMessage {
	return protocol.ChatMessage{
		ID:         m.ID,
		RoomType:   protocol.RoomType(m.RoomType),
		RoomKey:    m.RoomKey,
		SenderID:   m.SenderID,
		SenderName: m.SenderName,
		Content:    m.Content,
		CreatedAt:  m.CreatedAt,
	}
}

// Room is a discoverable game room. Group rooms live with their groups and
// are not recorded here.
type Room struct {
	Slug      string    `gorm:"primarykey;size:256"`
	Name      string    `gorm:"size:256;not null"`
	Type      string    `gorm:"size:16;not null;default:game"`
	CreatedAt time.Time `gorm:"not null"`
}

// TableName returns the table name for Room.
func (Room) TableName() string {
	return "rooms"
}
