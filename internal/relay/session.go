package relay

import (
	"sync"

	"github.com/chatkool/chat-app/internal/registry"
)

// State is the relay state of one connection.
type State int

const (
	StateUnbound       State = iota // no identity yet
	StateIdentityBound              // identity bound, no room
	StateActive                     // bound to a room
)

func (s State) String() string {
	switch s {
	case StateUnbound:
		return "unbound"
	case StateIdentityBound:
		return "identity_bound"
	case StateActive:
		return "active"
	}
	return "unknown"
}

// Session is the per-connection relay state. Its lock is held only for
// field access; other connections' handlers clear the room binding through
// it when the counterpart leaves.
type Session struct {
	conn registry.Conn

	mu       sync.Mutex
	identity string
	roomID   string
	typing   bool
}

func newSession(conn registry.Conn) *Session {
	return &Session{conn: conn}
}

// Identity returns the bound identity, or "".
func (s *Session) Identity() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.identity
}

// RoomID returns the bound room, or "".
func (s *Session) RoomID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.roomID
}

// State derives the state from the bindings.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case s.identity == "":
		return StateUnbound
	case s.roomID == "":
		return StateIdentityBound
	default:
		return StateActive
	}
}

func (s *Session) snapshot() (identity, roomID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.identity, s.roomID
}

func (s *Session) setIdentity(identity string) {
	s.mu.Lock()
	s.identity = identity
	s.mu.Unlock()
}

func (s *Session) bindRoom(roomID string) {
	s.mu.Lock()
	s.roomID = roomID
	s.typing = false
	s.mu.Unlock()
}

// clearRoom drops the room binding if it still points at roomID and reports
// whether it did.
func (s *Session) clearRoom(roomID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.roomID != roomID {
		return false
	}
	s.roomID = ""
	s.typing = false
	return true
}

// setTyping records the typing flag and reports whether it changed.
func (s *Session) setTyping(on bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.typing == on {
		return false
	}
	s.typing = on
	return true
}

func (s *Session) reset() {
	s.mu.Lock()
	s.identity = ""
	s.roomID = ""
	s.typing = false
	s.mu.Unlock()
}
