package chat

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrSameParticipant is returned when a room would pair an identity
	// with itself.
	ErrSameParticipant = errors.New("chat: participants must be distinct")
	// ErrParticipantBusy is returned when a participant already belongs to
	// an active room.
	ErrParticipantBusy = errors.New("chat: participant already in an active room")
	// ErrEmptyParticipant is returned for a blank identity or persona.
	ErrEmptyParticipant = errors.New("chat: participant is empty")
)

type roomEntry struct {
	room       Room
	transcript *Transcript
}

// Directory tracks the active rooms and which room each identity belongs
// to. An identity is a participant of at most one active room.
type Directory struct {
	mu         sync.RWMutex
	rooms      map[string]*roomEntry // roomID -> entry
	byIdentity map[string]string     // identity -> active roomID

	transcriptSize int
	now            func() time.Time
}

// NewDirectory creates an empty Directory whose rooms keep transcriptSize
// recent messages each.
func NewDirectory(transcriptSize int) *Directory {
	return &Directory{
		rooms:          make(map[string]*roomEntry),
		byIdentity:     make(map[string]string),
		transcriptSize: transcriptSize,
		now:            time.Now,
	}
}

// Create opens a room between two distinct human identities.
func (d *Directory) Create(a, b string) (Room, error) {
	if a == "" || b == "" {
		return Room{}, ErrEmptyParticipant
	}
	if a == b {
		return Room{}, ErrSameParticipant
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.busyLocked(a) || d.busyLocked(b) {
		return Room{}, ErrParticipantBusy
	}
	room := d.insertLocked([2]string{a, b}, "")
	d.byIdentity[a] = room.ID
	d.byIdentity[b] = room.ID
	return room, nil
}

// CreateSynthetic opens a room between identity and a persona. The persona
// name is not registered as an identity.
func (d *Directory) CreateSynthetic(identity, persona string) (Room, error) {
	if identity == "" || persona == "" {
		return Room{}, ErrEmptyParticipant
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.busyLocked(identity) {
		return Room{}, ErrParticipantBusy
	}
	room := d.insertLocked([2]string{identity, persona}, persona)
	d.byIdentity[identity] = room.ID
	return room, nil
}

func (d *Directory) busyLocked(identity string) bool {
	_, ok := d.byIdentity[identity]
	return ok
}

func (d *Directory) insertLocked(participants [2]string, persona string) Room {
	room := Room{
		ID:           uuid.New().String(),
		Participants: participants,
		Persona:      persona,
		CreatedAt:    d.now(),
	}
	d.rooms[room.ID] = &roomEntry{room: room, transcript: NewTranscript(d.transcriptSize)}
	return room
}

// Get returns a snapshot of an active room.
func (d *Directory) Get(roomID string) (Room, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	e, ok := d.rooms[roomID]
	if !ok {
		return Room{}, false
	}
	return e.room, true
}

// ActiveRoomOf returns the active room identity participates in, if any.
func (d *Directory) ActiveRoomOf(identity string) (Room, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	id, ok := d.byIdentity[identity]
	if !ok {
		return Room{}, false
	}
	e, ok := d.rooms[id]
	if !ok {
		return Room{}, false
	}
	return e.room, true
}

// InRoom reports whether identity belongs to any active room.
func (d *Directory) InRoom(identity string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.busyLocked(identity)
}

// End closes the room and releases its participants. It returns the final
// snapshot and true only for the call that actually ended the room, so
// concurrent enders observe exactly one success.
func (d *Directory) End(roomID string) (Room, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	e, ok := d.rooms[roomID]
	if !ok {
		return Room{}, false
	}
	delete(d.rooms, roomID)
	for _, p := range e.room.Participants {
		if d.byIdentity[p] == roomID {
			delete(d.byIdentity, p)
		}
	}

	ended := d.now()
	room := e.room
	room.EndedAt = &ended
	return room, true
}

// Record appends msg to the room's transcript. It returns false if the room
// is no longer active.
func (d *Directory) Record(msg Message) bool {
	d.mu.Lock()
	e, ok := d.rooms[msg.RoomID]
	if ok {
		e.room.MessageCount++
	}
	d.mu.Unlock()

	if !ok {
		return false
	}
	e.transcript.Add(msg)
	return true
}

// Recent returns up to limit recent messages of an active room, oldest
// first.
func (d *Directory) Recent(roomID string, limit int) ([]Message, bool) {
	d.mu.RLock()
	e, ok := d.rooms[roomID]
	d.mu.RUnlock()

	if !ok {
		return nil, false
	}
	return e.transcript.Last(limit), true
}

// Rooms returns a snapshot of every active room.
func (d *Directory) Rooms() []Room {
	d.mu.RLock()
	defer d.mu.RUnlock()

	out := make([]Room, 0, len(d.rooms))
	for _, e := range d.rooms {
		out = append(out, e.room)
	}
	return out
}

// Count returns the number of active rooms.
func (d *Directory) Count() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.rooms)
}
