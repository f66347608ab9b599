// Package storage persists rooms and their messages. The relay registers
// every room when it is created and again when it ends, and appends each
// relayed message, so the HTTP listing endpoints can read them back.
package storage

import (
	"context"
	"errors"

	"github.com/chatkool/chat-app/internal/chat"
)

const (
	// DefaultMessageLimit is used when GetMessages is called with limit <= 0.
	DefaultMessageLimit = 50
	// MaxStoredMessages caps the messages kept per room by the Redis and
	// memory backends. Postgres keeps the full history.
	MaxStoredMessages = 500
)

// ErrRoomNotFound is returned when appending to a room that was never saved.
var ErrRoomNotFound = errors.New("storage: room not found")

// Repository is the room and message store.
type Repository interface {
	// SaveRoom creates or updates room.
	SaveRoom(ctx context.Context, room chat.Room) error
	// ListRooms returns every saved room, newest first.
	ListRooms(ctx context.Context) ([]chat.Room, error)
	// GetMessages returns the last limit messages of a room, oldest first.
	GetMessages(ctx context.Context, roomID string, limit int) ([]chat.Message, error)
	// AppendMessage stores a new message and returns it with its id and
	// timestamp set.
	AppendMessage(ctx context.Context, roomID, sender, content string) (chat.Message, error)
}

func normalizeLimit(limit int) int {
	if limit <= 0 {
		return DefaultMessageLimit
	}
	if limit > MaxStoredMessages {
		return MaxStoredMessages
	}
	return limit
}
