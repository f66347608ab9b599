package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/chatkool/chat-app/internal/chat"
)

// Redis key layout:
//
//	chatkool:rooms                 sorted set of room ids scored by creation (unix ms)
//	chatkool:room:<id>             hash with the room fields
//	chatkool:room:<id>:messages    list of JSON messages, trimmed to MaxStoredMessages
const (
	keyRooms      = "chatkool:rooms"
	keyRoomPrefix = "chatkool:room:"
	// EndedRoomTTL is how long an ended room and its messages are kept.
	EndedRoomTTL = 24 * time.Hour
)

func roomKey(id string) string     { return keyRoomPrefix + id }
func messagesKey(id string) string { return keyRoomPrefix + id + ":messages" }

// Redis is a Repository backed by Redis.
type Redis struct {
	client *redis.Client
	now    func() time.Time
}

// NewRedis creates a Redis repository using client.
func NewRedis(client *redis.Client) *Redis {
	return &Redis{client: client, now: time.Now}
}

func (r *Redis) SaveRoom(ctx context.Context, room chat.Room) error {
	fields := map[string]interface{}{
		"id":            room.ID,
		"participant_a": room.Participants[0],
		"participant_b": room.Participants[1],
		"persona":       room.Persona,
		"created_at":    room.CreatedAt.UnixMilli(),
	}
	if room.EndedAt != nil {
		fields["ended_at"] = room.EndedAt.UnixMilli()
	}

	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, roomKey(room.ID), fields)
		pipe.ZAdd(ctx, keyRooms, redis.Z{Score: float64(room.CreatedAt.UnixMilli()), Member: room.ID})
		if room.EndedAt != nil {
			pipe.Expire(ctx, roomKey(room.ID), EndedRoomTTL)
			pipe.Expire(ctx, messagesKey(room.ID), EndedRoomTTL)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("storage: redis save room %s: %w", room.ID, err)
	}
	return nil
}

func (r *Redis) ListRooms(ctx context.Context) ([]chat.Room, error) {
	ids, err := r.client.ZRevRange(ctx, keyRooms, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("storage: redis list rooms: %w", err)
	}
	if len(ids) == 0 {
		return []chat.Room{}, nil
	}

	cmds := make([]*redis.MapStringStringCmd, len(ids))
	_, err = r.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, id := range ids {
			cmds[i] = pipe.HGetAll(ctx, roomKey(id))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("storage: redis load rooms: %w", err)
	}

	rooms := make([]chat.Room, 0, len(ids))
	var expired []interface{}
	for i, cmd := range cmds {
		h := cmd.Val()
		if len(h) == 0 {
			expired = append(expired, ids[i])
			continue
		}
		rooms = append(rooms, roomFromHash(h))
	}
	if len(expired) > 0 {
		// Ended rooms whose hash expired; drop them from the index.
		r.client.ZRem(ctx, keyRooms, expired...)
	}
	return rooms, nil
}

func roomFromHash(h map[string]string) chat.Room {
	room := chat.Room{
		ID:           h["id"],
		Participants: [2]string{h["participant_a"], h["participant_b"]},
		Persona:      h["persona"],
	}
	if ms, err := strconv.ParseInt(h["created_at"], 10, 64); err == nil {
		room.CreatedAt = time.UnixMilli(ms)
	}
	if ms, err := strconv.ParseInt(h["ended_at"], 10, 64); err == nil {
		t := time.UnixMilli(ms)
		room.EndedAt = &t
	}
	if n, err := strconv.Atoi(h["message_count"]); err == nil {
		room.MessageCount = n
	}
	return room
}

func (r *Redis) GetMessages(ctx context.Context, roomID string, limit int) ([]chat.Message, error) {
	limit = normalizeLimit(limit)

	raw, err := r.client.LRange(ctx, messagesKey(roomID), int64(-limit), -1).Result()
	if err != nil {
		return nil, fmt.Errorf("storage: redis get messages %s: %w", roomID, err)
	}

	msgs := make([]chat.Message, 0, len(raw))
	for _, s := range raw {
		var m chat.Message
		if err := json.Unmarshal([]byte(s), &m); err != nil {
			continue
		}
		msgs = append(msgs, m)
	}
	return msgs, nil
}

func (r *Redis) AppendMessage(ctx context.Context, roomID, sender, content string) (chat.Message, error) {
	n, err := r.client.Exists(ctx, roomKey(roomID)).Result()
	if err != nil {
		return chat.Message{}, fmt.Errorf("storage: redis check room %s: %w", roomID, err)
	}
	if n == 0 {
		return chat.Message{}, ErrRoomNotFound
	}

	msg := chat.Message{
		ID:        uuid.New().String(),
		Content:   content,
		Username:  sender,
		RoomID:    roomID,
		CreatedAt: r.now(),
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return chat.Message{}, fmt.Errorf("storage: marshal message: %w", err)
	}

	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.RPush(ctx, messagesKey(roomID), data)
		pipe.LTrim(ctx, messagesKey(roomID), -MaxStoredMessages, -1)
		pipe.HIncrBy(ctx, roomKey(roomID), "message_count", 1)
		return nil
	})
	if err != nil {
		return chat.Message{}, fmt.Errorf("storage: redis append message %s: %w", roomID, err)
	}
	return msg, nil
}

// Ping checks the connection.
func (r *Redis) Ping(ctx context.Context) error {
	if err := r.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("storage: redis ping: %w", err)
	}
	return nil
}
