// Package relay implements the per-connection chat state machine:
// Unbound -> IdentityBound -> Active -> (end) -> IdentityBound.
//
// Handlers are registered on the transport's dispatcher. The transport
// guarantees at most one frame in flight per connection, so a sender's
// messages are relayed in order; handlers for different connections run
// concurrently and meet only in the Registry, the Directory, the
// Matchmaker and the counterpart's Session lock.
package relay

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/chatkool/chat-app/internal/chat"
	"github.com/chatkool/chat-app/internal/logging"
	"github.com/chatkool/chat-app/internal/matching"
	"github.com/chatkool/chat-app/internal/metrics"
	"github.com/chatkool/chat-app/internal/protocol"
	"github.com/chatkool/chat-app/internal/ratelimit"
	"github.com/chatkool/chat-app/internal/registry"
)

// Handoff is the persona side of the relay.
type Handoff interface {
	StartSearch(identity string) bool
	Cancel(identity string) bool
	Forward(identity, roomID, text string) bool
	End(identity string) bool
	Delay() time.Duration
}

// Store is the part of the room repository the relay writes to.
type Store interface {
	SaveRoom(ctx context.Context, room chat.Room) error
	AppendMessage(ctx context.Context, roomID, sender, content string) (chat.Message, error)
}

// Limiter throttles chat messages per identity.
type Limiter interface {
	Allow(ctx context.Context, identifier string, rule ratelimit.Rule) (bool, error)
}

// Publisher receives room lifecycle events.
type Publisher interface {
	PublishRoomEvent(ev chat.Event) error
}

// Handler handles one decoded client message.
type Handler func(conn registry.Conn, msg interface{})

// Deps are the collaborators of a Relay. Handoff, Limiter and Publisher are
// optional.
type Deps struct {
	Registry   *registry.Registry
	Rooms      *chat.Directory
	Matchmaker *matching.Matchmaker
	Store      Store
	Handoff    Handoff
	Limiter    Limiter
	Publisher  Publisher
	Log        zerolog.Logger
}

// Config tunes a Relay.
type Config struct {
	MessageRule ratelimit.Rule
	// StoreTimeout bounds each repository call.
	StoreTimeout time.Duration
}

// Relay routes client events between the sessions of a room.
type Relay struct {
	Deps
	cfg Config
	now func() time.Time

	mu       sync.RWMutex
	sessions map[registry.Conn]*Session
}

// New creates a Relay.
func New(cfg Config, deps Deps) *Relay {
	if cfg.StoreTimeout <= 0 {
		cfg.StoreTimeout = 5 * time.Second
	}
	if cfg.MessageRule.Limit <= 0 {
		cfg.MessageRule = ratelimit.MessageRule(0, 0)
	}
	return &Relay{
		Deps:     deps,
		cfg:      cfg,
		now:      time.Now,
		sessions: make(map[registry.Conn]*Session),
	}
}

// Handlers returns the message handlers keyed by client message type. Ping
// is answered by the transport.
func (r *Relay) Handlers() map[string]Handler {
	return map[string]Handler{
		protocol.TypeBindIdentity: r.handleBindIdentity,
		protocol.TypeJoinRoom:     r.handleJoinRoom,
		protocol.TypeChatMessage:  r.handleChatMessage,
		protocol.TypeTypingStart:  r.handleTyping,
		protocol.TypeTypingStop:   r.handleTyping,
		protocol.TypeEndChat:      r.handleEndChat,
		protocol.TypeFindMatch:    r.handleFindMatch,
		protocol.TypeCancelMatch:  r.handleCancelMatch,
	}
}

// OnConnect creates the session for a new connection.
func (r *Relay) OnConnect(conn registry.Conn) {
	r.mu.Lock()
	r.sessions[conn] = newSession(conn)
	r.mu.Unlock()
}

// OnDisconnect tears down conn's session. If conn is still the registered
// connection of its identity, this behaves like end_chat plus cancel_match;
// a stale connection replaced by a newer bind tears down nothing.
func (r *Relay) OnDisconnect(conn registry.Conn) {
	r.mu.Lock()
	s, ok := r.sessions[conn]
	delete(r.sessions, conn)
	r.mu.Unlock()
	if !ok {
		return
	}

	identity, _ := s.snapshot()
	s.reset()
	if identity == "" {
		return
	}
	if !r.Registry.Unbind(identity, conn) {
		r.Log.Debug().Str(logging.FieldIdentity, identity).Msg("stale connection closed")
		return
	}
	metrics.OnlineIdentities.Set(float64(r.Registry.Count()))

	r.Matchmaker.Cancel(identity)
	if r.Handoff != nil {
		r.Handoff.Cancel(identity)
	}
	if room, ok := r.Rooms.ActiveRoomOf(identity); ok {
		r.endRoom(room, identity)
	}
	r.Log.Info().Str(logging.FieldIdentity, identity).Msg("identity disconnected")
}

// Session returns the session of conn.
func (r *Relay) Session(conn registry.Conn) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[conn]
	return s, ok
}

// sessionFor returns the session of the connection bound to identity.
func (r *Relay) sessionFor(identity string) *Session {
	conn, ok := r.Registry.Lookup(identity)
	if !ok {
		return nil
	}
	s, _ := r.Session(conn)
	return s
}

func (r *Relay) storeCtx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), r.cfg.StoreTimeout)
}

// send writes a server event to conn, logging failures.
func (r *Relay) send(conn registry.Conn, msgType string, payload interface{}) bool {
	data, err := protocol.NewServerMessage(msgType, payload)
	if err != nil {
		r.Log.Error().Err(err).Str("type", msgType).Msg("build server message")
		return false
	}
	if err := conn.Send(data); err != nil {
		r.Log.Debug().Err(err).Str("type", msgType).Msg("send failed")
		return false
	}
	return true
}

func (r *Relay) sendError(conn registry.Conn, reason, message string) {
	if err := conn.Send(protocol.NewError(reason, message)); err != nil {
		r.Log.Debug().Err(err).Str("reason", reason).Msg("send error event failed")
	}
}

// sendToRoom delivers an event to identity if its session is bound to
// roomID.
func (r *Relay) sendToRoom(identity, roomID, msgType string, payload interface{}) bool {
	s := r.sessionFor(identity)
	if s == nil || s.RoomID() != roomID {
		return false
	}
	return r.send(s.conn, msgType, payload)
}

func (r *Relay) publish(ev chat.Event) {
	if r.Publisher == nil {
		return
	}
	if err := r.Publisher.PublishRoomEvent(ev); err != nil {
		r.Log.Warn().Err(err).Str("event", ev.Type).Str(logging.FieldRoomID, ev.RoomID).Msg("publish room event")
	}
}

// roomOpened persists and announces a room created by the Matchmaker.
func (r *Relay) roomOpened(room chat.Room) {
	ctx, cancel := r.storeCtx()
	defer cancel()
	if err := r.Store.SaveRoom(ctx, room); err != nil {
		r.Log.Error().Err(err).Str(logging.FieldRoomID, room.ID).Msg("save room")
	}
	r.publish(chat.NewRoomEvent(chat.EventRoomCreated, room, r.now().UnixMilli()))
}

// endRoom ends room on behalf of identity. Only the caller that actually
// ends the room notifies the counterpart, so partner_left goes out once.
func (r *Relay) endRoom(room chat.Room, identity string) bool {
	ended, ok := r.Rooms.End(room.ID)
	if !ok {
		return false
	}
	r.closeEnded(ended)

	if s := r.sessionFor(identity); s != nil {
		s.clearRoom(ended.ID)
	}

	if ended.Synthetic() {
		if r.Handoff != nil {
			r.Handoff.End(identity)
		}
	} else if partner := ended.Partner(identity); partner != "" {
		if ps := r.sessionFor(partner); ps != nil {
			ps.clearRoom(ended.ID)
			r.send(ps.conn, protocol.TypePartnerLeft, protocol.PartnerLeftMsg{Identity: identity})
		}
	}

	r.Log.Info().
		Str(logging.FieldRoomID, ended.ID).
		Str(logging.FieldIdentity, identity).
		Int("messages", ended.MessageCount).
		Msg("room ended")
	return true
}

// closeEnded persists and announces a room the Directory just ended.
func (r *Relay) closeEnded(ended chat.Room) {
	metrics.ActiveRooms.WithLabelValues(metrics.RoomKind(ended.Synthetic())).Dec()

	ctx, cancel := r.storeCtx()
	defer cancel()
	if err := r.Store.SaveRoom(ctx, ended); err != nil {
		r.Log.Error().Err(err).Str(logging.FieldRoomID, ended.ID).Msg("save ended room")
	}
	r.publish(chat.NewRoomEvent(chat.EventRoomEnded, ended, r.now().UnixMilli()))
}
