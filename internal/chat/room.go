// Package chat holds the in-memory conversation model: rooms, messages, the
// per-room transcript buffer and the Directory of active rooms.
package chat

import "time"

// Room is a two-party conversation. For synthetic rooms Participants[1] is
// the persona's display name and Persona is set to the same value.
type Room struct {
	ID           string     `json:"id"`
	Participants [2]string  `json:"participants"`
	Persona      string     `json:"persona,omitempty"`
	CreatedAt    time.Time  `json:"createdAt"`
	EndedAt      *time.Time `json:"endedAt,omitempty"`
	MessageCount int        `json:"messageCount"`
}

// Synthetic reports whether the room pairs a user with a persona.
func (r Room) Synthetic() bool {
	return r.Persona != ""
}

// Active reports whether the room is still routing messages.
func (r Room) Active() bool {
	return r.EndedAt == nil
}

// IsParticipant checks if identity is one of the human participants. The
// persona of a synthetic room is not a participant identity.
func (r Room) IsParticipant(identity string) bool {
	if identity == "" {
		return false
	}
	if r.Synthetic() {
		return identity == r.Participants[0]
	}
	return identity == r.Participants[0] || identity == r.Participants[1]
}

// Partner returns the other side of the room for identity, or "" if
// identity is not a participant.
func (r Room) Partner(identity string) string {
	switch {
	case !r.IsParticipant(identity):
		return ""
	case identity == r.Participants[0]:
		return r.Participants[1]
	default:
		return r.Participants[0]
	}
}

// Message is one relayed chat line.
type Message struct {
	ID        string    `json:"id"`
	Content   string    `json:"content"`
	Username  string    `json:"username"`
	RoomID    string    `json:"roomId"`
	CreatedAt time.Time `json:"createdAt"`
}
