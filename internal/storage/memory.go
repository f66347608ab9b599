package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/chatkool/chat-app/internal/chat"
)

// Memory is an in-process Repository. It is the default backend and the
// one used by tests.
type Memory struct {
	mu       sync.RWMutex
	rooms    map[string]chat.Room
	messages map[string][]chat.Message
	now      func() time.Time
}

// NewMemory creates an empty in-memory repository.
func NewMemory() *Memory {
	return &Memory{
		rooms:    make(map[string]chat.Room),
		messages: make(map[string][]chat.Message),
		now:      time.Now,
	}
}

func (m *Memory) SaveRoom(_ context.Context, room chat.Room) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if prev, ok := m.rooms[room.ID]; ok && prev.MessageCount > room.MessageCount {
		room.MessageCount = prev.MessageCount
	}
	m.rooms[room.ID] = room
	return nil
}

func (m *Memory) ListRooms(_ context.Context) ([]chat.Room, error) {
	m.mu.RLock()
	out := make([]chat.Room, 0, len(m.rooms))
	for _, r := range m.rooms {
		out = append(out, r)
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (m *Memory) GetMessages(_ context.Context, roomID string, limit int) ([]chat.Message, error) {
	limit = normalizeLimit(limit)

	m.mu.RLock()
	defer m.mu.RUnlock()

	msgs := m.messages[roomID]
	if len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	return append([]chat.Message{}, msgs...), nil
}

func (m *Memory) AppendMessage(_ context.Context, roomID, sender, content string) (chat.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	room, ok := m.rooms[roomID]
	if !ok {
		return chat.Message{}, ErrRoomNotFound
	}
	msg := chat.Message{
		ID:        uuid.New().String(),
		Content:   content,
		Username:  sender,
		RoomID:    roomID,
		CreatedAt: m.now(),
	}
	msgs := append(m.messages[roomID], msg)
	if over := len(msgs) - MaxStoredMessages; over > 0 {
		msgs = append(msgs[:0:0], msgs[over:]...)
	}
	m.messages[roomID] = msgs
	room.MessageCount++
	m.rooms[roomID] = room
	return msg, nil
}
