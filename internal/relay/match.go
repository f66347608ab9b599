package relay

import (
	"github.com/chatkool/chat-app/internal/chat"
	"github.com/chatkool/chat-app/internal/logging"
	"github.com/chatkool/chat-app/internal/matching"
	"github.com/chatkool/chat-app/internal/protocol"
)

// RequestMatch runs a match request for identity, from either transport.
// A new room is persisted and both participants that are online are bound
// to it and receive match_found. Without a partner, the persona handoff
// timer is armed; it only fires for identities that are online by then.
func (r *Relay) RequestMatch(identity string) (matching.MatchResult, error) {
	res, err := r.Matchmaker.RequestMatch(identity)
	if err != nil {
		return res, err
	}

	if !res.Matched {
		if r.Handoff != nil {
			r.Handoff.StartSearch(identity)
		}
		return res, nil
	}

	room := *res.Room
	if r.Handoff != nil {
		r.Handoff.Cancel(res.Partner)
		r.Handoff.Cancel(identity)
	}
	r.roomOpened(room)
	for _, p := range room.Participants {
		r.announceMatch(room, p)
	}
	return res, nil
}

// CancelMatch removes identity from the waiting pool and disarms its
// handoff timer.
func (r *Relay) CancelMatch(identity string) bool {
	waiting := r.Matchmaker.Cancel(identity)
	if r.Handoff != nil {
		r.Handoff.Cancel(identity)
	}
	return waiting
}

func (r *Relay) announceMatch(room chat.Room, identity string) {
	s := r.sessionFor(identity)
	if s == nil {
		return
	}
	s.bindRoom(room.ID)
	r.send(s.conn, protocol.TypeMatchFound, protocol.MatchFoundMsg{Room: room, Partner: room.Partner(identity)})
}

func (r *Relay) handoffSeconds() int {
	if r.Handoff == nil {
		return 0
	}
	return int(r.Handoff.Delay().Seconds())
}

// PersonaJoined binds the user of a synthetic room and announces the
// persona as the partner. If the user went offline the room is ended.
func (r *Relay) PersonaJoined(room chat.Room) bool {
	identity := room.Participants[0]
	r.roomOpened(room)

	s := r.sessionFor(identity)
	if s == nil {
		if ended, ok := r.Rooms.End(room.ID); ok {
			r.closeEnded(ended)
		}
		return false
	}
	s.bindRoom(room.ID)
	r.send(s.conn, protocol.TypeMatchFound, protocol.MatchFoundMsg{Room: room, Partner: room.Persona})
	return true
}

// PersonaMessage records a persona reply and delivers it to identity.
func (r *Relay) PersonaMessage(identity string, msg chat.Message) {
	if !r.Rooms.Record(msg) {
		return
	}
	r.publish(chat.NewMessageEvent(msg))
	if !r.sendToRoom(identity, msg.RoomID, protocol.TypeMessage, protocol.ServerChatMsg{Message: msg}) {
		r.Log.Debug().Str(logging.FieldIdentity, identity).Str(logging.FieldRoomID, msg.RoomID).Msg("persona reply not delivered")
	}
}

// PersonaTyping relays the persona's typing indicator.
func (r *Relay) PersonaTyping(identity, roomID string, typing bool) {
	r.sendToRoom(identity, roomID, protocol.TypeTyping, protocol.ServerTypingMsg{IsTyping: typing})
}
