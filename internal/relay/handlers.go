package relay

import (
	"errors"

	"github.com/chatkool/chat-app/internal/chat"
	"github.com/chatkool/chat-app/internal/logging"
	"github.com/chatkool/chat-app/internal/matching"
	"github.com/chatkool/chat-app/internal/metrics"
	"github.com/chatkool/chat-app/internal/protocol"
	"github.com/chatkool/chat-app/internal/registry"
)

func (r *Relay) handleBindIdentity(conn registry.Conn, msg interface{}) {
	m, ok := msg.(protocol.BindIdentityMsg)
	if !ok {
		return
	}
	s, ok := r.Session(conn)
	if !ok {
		return
	}

	identity := NormalizeIdentity(m.Identity)
	if err := ValidateIdentity(identity); err != nil {
		r.sendError(conn, protocol.ReasonInvalidIdentity, "identity must be 1-20 characters")
		return
	}

	switch current := s.Identity(); {
	case current == identity:
		r.send(conn, protocol.TypeIdentityBound, protocol.IdentityBoundMsg{Identity: identity})
		return
	case current != "":
		r.sendError(conn, protocol.ReasonAlreadyBound, "connection is bound to another identity")
		return
	}

	if evicted := r.Registry.Bind(identity, conn); evicted != nil {
		// The evicted connection is closed; its session must not act for
		// the identity any more.
		if old, ok := r.Session(evicted); ok {
			old.reset()
		}
	}
	s.setIdentity(identity)
	metrics.OnlineIdentities.Set(float64(r.Registry.Count()))

	r.send(conn, protocol.TypeIdentityBound, protocol.IdentityBoundMsg{Identity: identity})
	r.Log.Info().Str(logging.FieldIdentity, identity).Msg("identity bound")
}

func (r *Relay) handleJoinRoom(conn registry.Conn, msg interface{}) {
	m, ok := msg.(protocol.JoinRoomMsg)
	if !ok {
		return
	}
	s, ok := r.Session(conn)
	if !ok {
		return
	}

	identity := s.Identity()
	if identity == "" {
		r.sendError(conn, protocol.ReasonIdentityRequired, "bind an identity first")
		return
	}
	room, ok := r.Rooms.Get(m.RoomID)
	if !ok || !room.IsParticipant(identity) {
		r.sendError(conn, protocol.ReasonUnknownRoom, "room not found")
		return
	}

	s.bindRoom(room.ID)
	r.send(conn, protocol.TypeRoomJoined, protocol.RoomJoinedMsg{RoomID: room.ID})
	r.Log.Debug().Str(logging.FieldIdentity, identity).Str(logging.FieldRoomID, room.ID).Msg("room joined")
}

func (r *Relay) handleChatMessage(conn registry.Conn, msg interface{}) {
	m, ok := msg.(protocol.ChatMsg)
	if !ok {
		return
	}
	s, ok := r.Session(conn)
	if !ok {
		return
	}

	identity, roomID := s.snapshot()
	if identity == "" || roomID == "" {
		r.sendError(conn, protocol.ReasonNotInRoom, "join a room first")
		return
	}
	room, ok := r.Rooms.Get(roomID)
	if !ok {
		s.clearRoom(roomID)
		r.sendError(conn, protocol.ReasonNotInRoom, "room has ended")
		return
	}
	if err := chat.ValidateMessage(m.Content); err != nil {
		metrics.MessagesTotal.WithLabelValues("rejected").Inc()
		r.sendError(conn, protocol.ReasonInvalidMessage, err.Error())
		return
	}

	ctx, cancel := r.storeCtx()
	defer cancel()

	if r.Limiter != nil {
		// Limiter errors fail open.
		if allowed, _ := r.Limiter.Allow(ctx, identity, r.cfg.MessageRule); !allowed {
			metrics.MessagesTotal.WithLabelValues("rejected").Inc()
			r.sendError(conn, protocol.ReasonRateLimited, "slow down")
			return
		}
	}

	stored, err := r.Store.AppendMessage(ctx, room.ID, identity, m.Content)
	if err != nil {
		metrics.MessagesTotal.WithLabelValues("failed").Inc()
		r.Log.Error().Err(err).Str(logging.FieldRoomID, room.ID).Str(logging.FieldIdentity, identity).Msg("append message")
		r.sendError(conn, protocol.ReasonFailedToSend, "message could not be saved")
		return
	}
	r.Rooms.Record(stored)
	r.publish(chat.NewMessageEvent(stored))
	s.setTyping(false)
	metrics.MessagesTotal.WithLabelValues("human").Inc()

	if room.Synthetic() {
		if r.Handoff == nil || !r.Handoff.Forward(identity, room.ID, m.Content) {
			r.Log.Warn().Str(logging.FieldRoomID, room.ID).Msg("persona unavailable, message not forwarded")
		}
		return
	}
	r.sendToRoom(room.Partner(identity), room.ID, protocol.TypeMessage, protocol.ServerChatMsg{Message: stored})
}

func (r *Relay) handleTyping(conn registry.Conn, msg interface{}) {
	m, ok := msg.(protocol.TypingMsg)
	if !ok {
		return
	}
	s, ok := r.Session(conn)
	if !ok {
		return
	}

	identity, roomID := s.snapshot()
	if identity == "" || roomID == "" {
		return
	}
	room, ok := r.Rooms.Get(roomID)
	if !ok || room.Synthetic() {
		return
	}

	on := m.Type == protocol.TypeTypingStart
	if !s.setTyping(on) {
		return
	}
	r.sendToRoom(room.Partner(identity), room.ID, protocol.TypeTyping, protocol.ServerTypingMsg{IsTyping: on})
}

func (r *Relay) handleEndChat(conn registry.Conn, msg interface{}) {
	s, ok := r.Session(conn)
	if !ok {
		return
	}

	identity, roomID := s.snapshot()
	if identity == "" {
		r.sendError(conn, protocol.ReasonIdentityRequired, "bind an identity first")
		return
	}

	room, ok := r.Rooms.Get(roomID)
	if !ok {
		// Matched over HTTP but never joined, or the counterpart ended first.
		room, ok = r.Rooms.ActiveRoomOf(identity)
	}
	if !ok {
		if roomID != "" {
			s.clearRoom(roomID)
			r.send(conn, protocol.TypeChatEnded, protocol.ChatEndedMsg{})
			return
		}
		r.sendError(conn, protocol.ReasonNotInRoom, "no active room")
		return
	}

	r.endRoom(room, identity)
	s.clearRoom(room.ID)
	r.send(conn, protocol.TypeChatEnded, protocol.ChatEndedMsg{})
}

func (r *Relay) handleFindMatch(conn registry.Conn, msg interface{}) {
	s, ok := r.Session(conn)
	if !ok {
		return
	}
	identity := s.Identity()
	if identity == "" {
		r.sendError(conn, protocol.ReasonIdentityRequired, "bind an identity first")
		return
	}

	res, err := r.RequestMatch(identity)
	switch {
	case errors.Is(err, matching.ErrAlreadyInRoom):
		r.sendError(conn, protocol.ReasonAlreadyInRoom, "already in a room")
	case err != nil:
		r.sendError(conn, protocol.ReasonMatchFailed, "match failed")
	case !res.Matched:
		r.send(conn, protocol.TypeMatchingStarted, protocol.MatchingStartedMsg{Timeout: r.handoffSeconds()})
	}
	// Matched: both sides already received match_found.
}

func (r *Relay) handleCancelMatch(conn registry.Conn, msg interface{}) {
	s, ok := r.Session(conn)
	if !ok {
		return
	}
	identity := s.Identity()
	if identity == "" {
		return
	}
	r.CancelMatch(identity)
}
