// Package store persists chat messages and game rooms with gorm on sqlite.
package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/ksuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/Tyrowin/lfgrelay/internal/protocol"
)

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = errors.New("record not found")

// Store provides access to message and room storage.
type Store struct {
	db *gorm.DB
}

// Open connects to the sqlite database at path and migrates the schema.
func Open(path string, log zerolog.Logger) (*Store, error) {
	db, err := gorm.Open(sqlite.Open(dsn(path)), &gorm.Config{
		Logger: logger.New(gormWriter{log: log.With().Str("module", "store").Logger()}, logger.Config{
			SlowThreshold:             200 * time.Millisecond,
			LogLevel:                  logger.Warn,
			IgnoreRecordNotFoundError: true,
		}),
		NowFunc: func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database handle: %w", err)
	}
	// sqlite allows a single writer; one connection also keeps :memory: databases alive.
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(&Message{}, &Room{}); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return &Store{db: db}, nil
}

func dsn(path string) string {
	if path == ":memory:" || strings.Contains(path, "?") {
		return path
	}
	return path + "?_busy_timeout=5000&_journal_mode=WAL"
}

// Close releases the underlying database connection.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// UpsertRoomIfAbsent records a game room under slug unless one already
// exists. An existing room is never modified.
func (s *Store) UpsertRoomIfAbsent(ctx context.Context, slug, name string) error {
	room := Room{
		Slug:      slug,
		Name:      name,
		Type:      string(protocol.RoomGame),
		CreatedAt: time.Now().UTC(),
	}
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&room).Error
	if err != nil {
		return fmt.Errorf("failed to upsert room %q: %w", slug, err)
	}
	return nil
}

// FindRoom retrieves a game room by slug.
func (s *Store) FindRoom(ctx context.Context, slug string) (*Room, error) {
	var room Room
	if err := s.db.WithContext(ctx).First(&room, "slug = ?", slug).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to find room: %w", err)
	}
	return &room, nil
}

// CreateMessage stores msg, assigning its id and, when unset, its timestamp.
// The stored message is returned.
func (s *Store) CreateMessage(ctx context.Context, msg protocol.ChatMessage) (protocol.ChatMessage, error) {
	createdAt := msg.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	row := Message{
		ID:         ksuid.New().String(),
		RoomType:   string(msg.RoomType),
		RoomKey:    msg.RoomKey,
		SenderID:   msg.SenderID,
		SenderName: msg.SenderName,
		Content:    msg.Content,
		CreatedAt:  createdAt.UTC(),
	}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return protocol.ChatMessage{}, fmt.Errorf("failed to create message: %w", err)
	}
	return row.toProtocol(), nil
}

// FindRecentMessages returns up to limit messages of the room, newest first.
func (s *Store) FindRecentMessages(ctx context.Context, roomType protocol.RoomType, roomKey string, limit int) ([]protocol.ChatMessage, error) {
	return s.FindMessagesBefore(ctx, roomType, roomKey, time.Time{}, limit)
}

// FindMessagesBefore returns up to limit messages of the room created before
// the given instant, newest first. A zero before means no upper bound.
func (s *Store) FindMessagesBefore(ctx context.Context, roomType protocol.RoomType, roomKey string, before time.Time, limit int) ([]protocol.ChatMessage, error) {
	q := s.db.WithContext(ctx).
		Where("room_type = ? AND room_key = ?", string(roomType), roomKey)
	if !before.IsZero() {
		q = q.Where("created_at < ?", before.UTC())
	}

	var rows []Message
	err := q.Order("created_at DESC").Order("id DESC").Limit(limit).Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to find messages: %w", err)
	}

	out := make([]protocol.ChatMessage, len(rows))
	for i, row := range rows {
		out[i] = row.toProtocol()
	}
	return out, nil
}

type gormWriter struct {
	log zerolog.Logger
}

func (w gormWriter) Printf(format string, args ...interface{}) {
	w.log.Warn().Msgf(format, args...)
}
