// Package matching pairs waiting identities into rooms. All mutation of the
// waiting pool and the room creation that follows a pairing happen under a
// single lock, so no identity is ever matched twice.
package matching

import (
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/chatkool/chat-app/internal/chat"
	"github.com/chatkool/chat-app/internal/logging"
	"github.com/chatkool/chat-app/internal/metrics"
)

var (
	// ErrAlreadyInRoom is returned when the requester is already a
	// participant of an active room.
	ErrAlreadyInRoom = errors.New("matching: identity already in an active room")
	// ErrEmptyIdentity is returned for a blank requester.
	ErrEmptyIdentity = errors.New("matching: identity is empty")
)

// MatchResult is the outcome of a match request. Room and Partner are set
// only when Matched is true.
type MatchResult struct {
	Matched bool
	Room    *chat.Room
	Partner string
}

// Option configures a Matchmaker.
type Option func(*Matchmaker)

// WithPicker overrides the random index source, used by tests.
func WithPicker(p Picker) Option {
	return func(m *Matchmaker) { m.pick = p }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(m *Matchmaker) { m.now = now }
}

// Matchmaker owns the waiting pool and creates rooms in the Directory.
type Matchmaker struct {
	mu    sync.Mutex
	pool  *Pool
	rooms *chat.Directory
	pick  Picker
	now   func() time.Time
	log   zerolog.Logger
}

// NewMatchmaker creates a Matchmaker that registers rooms in rooms.
func NewMatchmaker(rooms *chat.Directory, log zerolog.Logger, opts ...Option) *Matchmaker {
	m := &Matchmaker{
		pool:  NewPool(),
		rooms: rooms,
		pick:  defaultPicker,
		now:   time.Now,
		log:   log,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// RequestMatch pairs identity with a random waiting identity, or adds it to
// the waiting pool when nobody else is waiting. A requester already in an
// active room is rejected with ErrAlreadyInRoom.
func (m *Matchmaker) RequestMatch(identity string) (MatchResult, error) {
	if identity == "" {
		return MatchResult{}, ErrEmptyIdentity
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.rooms.InRoom(identity) {
		return MatchResult{}, ErrAlreadyInRoom
	}

	candidates := m.pool.Others(identity)
	if len(candidates) == 0 {
		if m.pool.Add(identity, m.now()) {
			m.log.Info().Str(logging.FieldIdentity, identity).Int("waiting", m.pool.Len()).Msg("enqueued")
		}
		metrics.WaitingPoolSize.Set(float64(m.pool.Len()))
		return MatchResult{Matched: false}, nil
	}

	partner := pickRandom(candidates, m.pick)
	room, err := m.rooms.Create(partner, identity)
	if err != nil {
		// The Directory disagrees with the pool; drop the stale entry so the
		// next request does not pick it again.
		m.pool.Remove(partner)
		metrics.WaitingPoolSize.Set(float64(m.pool.Len()))
		m.log.Error().Err(err).Str(logging.FieldIdentity, identity).Str(logging.FieldPartner, partner).Msg("create room")
		return MatchResult{}, err
	}

	entry, _ := m.pool.Remove(partner)
	m.pool.Remove(identity)
	metrics.WaitingPoolSize.Set(float64(m.pool.Len()))
	metrics.MatchDuration.Observe(m.now().Sub(entry.JoinedAt).Seconds())
	metrics.ActiveRooms.WithLabelValues(metrics.RoomKind(false)).Inc()

	m.log.Info().
		Str(logging.FieldRoomID, room.ID).
		Str(logging.FieldIdentity, identity).
		Str(logging.FieldPartner, partner).
		Msg("matched")

	return MatchResult{Matched: true, Room: &room, Partner: partner}, nil
}

// Cancel removes identity from the waiting pool. It reports whether the
// identity was waiting.
func (m *Matchmaker) Cancel(identity string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	_, ok := m.pool.Remove(identity)
	if ok {
		metrics.WaitingPoolSize.Set(float64(m.pool.Len()))
		m.log.Info().Str(logging.FieldIdentity, identity).Msg("dequeued")
	}
	return ok
}

// ClaimForPersona takes identity out of the waiting pool and pairs it with
// persona in a synthetic room. It fails if identity is no longer waiting,
// which happens when a human match won the race.
func (m *Matchmaker) ClaimForPersona(identity, persona string) (chat.Room, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.pool.Contains(identity) || m.rooms.InRoom(identity) {
		return chat.Room{}, false
	}

	room, err := m.rooms.CreateSynthetic(identity, persona)
	if err != nil {
		m.log.Error().Err(err).Str(logging.FieldIdentity, identity).Msg("create persona room")
		return chat.Room{}, false
	}
	m.pool.Remove(identity)
	metrics.WaitingPoolSize.Set(float64(m.pool.Len()))
	metrics.ActiveRooms.WithLabelValues(metrics.RoomKind(true)).Inc()

	m.log.Info().
		Str(logging.FieldRoomID, room.ID).
		Str(logging.FieldIdentity, identity).
		Str(logging.FieldPersona, persona).
		Msg("claimed for persona")
	return room, true
}

// IsWaiting reports whether identity is in the waiting pool.
func (m *Matchmaker) IsWaiting(identity string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pool.Contains(identity)
}

// Waiting returns the number of waiting identities.
func (m *Matchmaker) Waiting() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pool.Len()
}
