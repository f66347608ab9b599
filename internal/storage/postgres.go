package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/chatkool/chat-app/internal/chat"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

const (
	roomTypeRandom  = "random"
	roomTypePersona = "persona"

	// foreign_key_violation
	pqForeignKeyViolation = "23503"
)

// Postgres is a Repository backed by PostgreSQL through lib/pq.
type Postgres struct {
	db  *sql.DB
	now func() time.Time
}

// OpenPostgres connects to dsn, applies the embedded migrations and returns
// the repository.
func OpenPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("storage: open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("storage: ping postgres: %w", err)
	}
	if err := Migrate(db); err != nil {
		db.Close()
		return nil, err
	}
	return NewPostgres(db), nil
}

// NewPostgres wraps an already migrated database handle.
func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db, now: time.Now}
}

// Migrate applies every pending up migration.
func Migrate(db *sql.DB) error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("storage: load migrations: %w", err)
	}
	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("storage: migrate driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "postgres", driver)
	if err != nil {
		return fmt.Errorf("storage: migrate init: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("storage: migrate up: %w", err)
	}
	return nil
}

// Close closes the database handle.
func (p *Postgres) Close() error {
	return p.db.Close()
}

func (p *Postgres) SaveRoom(ctx context.Context, room chat.Room) error {
	roomType := roomTypeRandom
	var persona sql.NullString
	if room.Synthetic() {
		roomType = roomTypePersona
		persona = sql.NullString{String: room.Persona, Valid: true}
	}
	var ended sql.NullTime
	if room.EndedAt != nil {
		ended = sql.NullTime{Time: *room.EndedAt, Valid: true}
	}

	const query = `
		INSERT INTO chat_rooms (id, name, type, participant_a, participant_b, persona, created_at, ended_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET ended_at = EXCLUDED.ended_at`

	_, err := p.db.ExecContext(ctx, query,
		room.ID,
		room.Participants[0]+" & "+room.Participants[1],
		roomType,
		room.Participants[0],
		room.Participants[1],
		persona,
		room.CreatedAt,
		ended,
	)
	if err != nil {
		return fmt.Errorf("storage: save room %s: %w", room.ID, err)
	}
	return nil
}

func (p *Postgres) ListRooms(ctx context.Context) ([]chat.Room, error) {
	const query = `
		SELECT id, participant_a, participant_b, persona, message_count, created_at, ended_at
		FROM chat_rooms
		ORDER BY created_at DESC`

	rows, err := p.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("storage: list rooms: %w", err)
	}
	defer rows.Close()

	rooms := []chat.Room{}
	for rows.Next() {
		var (
			r       chat.Room
			persona sql.NullString
			ended   sql.NullTime
		)
		if err := rows.Scan(&r.ID, &r.Participants[0], &r.Participants[1], &persona, &r.MessageCount, &r.CreatedAt, &ended); err != nil {
			return nil, fmt.Errorf("storage: scan room: %w", err)
		}
		r.Persona = persona.String
		if ended.Valid {
			t := ended.Time
			r.EndedAt = &t
		}
		rooms = append(rooms, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("storage: iterate rooms: %w", err)
	}
	return rooms, nil
}

func (p *Postgres) GetMessages(ctx context.Context, roomID string, limit int) ([]chat.Message, error) {
	const query = `
		SELECT id, content, username, room_id, created_at FROM (
			SELECT id, content, username, room_id, created_at
			FROM messages
			WHERE room_id = $1
			ORDER BY created_at DESC
			LIMIT $2
		) recent
		ORDER BY created_at ASC`

	rows, err := p.db.QueryContext(ctx, query, roomID, normalizeLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("storage: get messages %s: %w", roomID, err)
	}
	defer rows.Close()

	msgs := []chat.Message{}
	for rows.Next() {
		var m chat.Message
		if err := rows.Scan(&m.ID, &m.Content, &m.Username, &m.RoomID, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("storage: scan message: %w", err)
		}
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("storage: iterate messages: %w", err)
	}
	return msgs, nil
}

func (p *Postgres) AppendMessage(ctx context.Context, roomID, sender, content string) (chat.Message, error) {
	msg := chat.Message{
		ID:        uuid.New().String(),
		Content:   content,
		Username:  sender,
		RoomID:    roomID,
		CreatedAt: p.now(),
	}

	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return chat.Message{}, fmt.Errorf("storage: begin: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO messages (id, content, username, room_id, created_at) VALUES ($1, $2, $3, $4, $5)`,
		msg.ID, msg.Content, msg.Username, msg.RoomID, msg.CreatedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == pqForeignKeyViolation {
			return chat.Message{}, ErrRoomNotFound
		}
		return chat.Message{}, fmt.Errorf("storage: insert message: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE chat_rooms SET message_count = message_count + 1 WHERE id = $1`, roomID); err != nil {
		return chat.Message{}, fmt.Errorf("storage: bump message count: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return chat.Message{}, fmt.Errorf("storage: commit: %w", err)
	}
	return msg, nil
}
