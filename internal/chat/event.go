package chat

// Room lifecycle event types published to the event bus.
const (
	EventRoomCreated = "room.created"
	EventRoomEnded   = "room.ended"
	EventRoomMessage = "room.message"
)

// Event is the payload published for room lifecycle observers (analytics,
// moderation tooling). It never carries more than one message.
type Event struct {
	Type         string   `json:"type"`                   // one of the Event* constants
	RoomID       string   `json:"room_id"`                // room the event belongs to
	Participants []string `json:"participants,omitempty"` // for created/ended events
	Persona      string   `json:"persona,omitempty"`      // set for synthetic rooms
	From         string   `json:"from,omitempty"`         // sender identity for message events
	Text         string   `json:"text,omitempty"`         // message content
	Ts           int64    `json:"ts"`                     // unix milliseconds
}

// NewRoomEvent builds a created/ended event for room.
func NewRoomEvent(eventType string, room Room, ts int64) Event {
	return Event{
		Type:         eventType,
		RoomID:       room.ID,
		Participants: []string{room.Participants[0], room.Participants[1]},
		Persona:      room.Persona,
		Ts:           ts,
	}
}

// NewMessageEvent builds a message event for msg.
func NewMessageEvent(msg Message) Event {
	return Event{
		Type:   EventRoomMessage,
		RoomID: msg.RoomID,
		From:   msg.Username,
		Text:   msg.Content,
		Ts:     msg.CreatedAt.UnixMilli(),
	}
}
