// Package handoff hands a waiting identity over to a persona when no human
// partner shows up in time.
//
// Each search owns a single-shot timer and an outcome cell that moves from
// pending to either cancelled or fired exactly once. Whoever wins that
// transition acts; the loser does nothing. After firing, the waiting entry
// is claimed through the Matchmaker, which is the only owner of the waiting
// pool, so a human match that lands at the same instant still wins cleanly.
package handoff

import (
	"context"
	"math/rand/v2"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/chatkool/chat-app/internal/ai"
	"github.com/chatkool/chat-app/internal/chat"
	"github.com/chatkool/chat-app/internal/logging"
	"github.com/chatkool/chat-app/internal/metrics"
)

// PersonaNames is the pool persona display names are drawn from.
var PersonaNames = []string{
	"Maria", "Juan", "Ana", "Jose", "Sofia", "Miguel", "Isabelle", "Carlos",
	"Carmen", "Luis", "Mia", "Diego", "Elena", "Pablo", "Rosa", "Antonio",
}

const (
	// DefaultDelay is how long a search waits for a human partner.
	DefaultDelay     = 10 * time.Second
	defaultInboxSize = 16
)

// Claimer takes a waiting identity out of the pool, either for a persona
// or for good when nobody is left to talk to.
type Claimer interface {
	ClaimForPersona(identity, persona string) (chat.Room, bool)
	Cancel(identity string) bool
}

// Presence reports which identities are connected.
type Presence interface {
	Online(identity string) bool
	Identities() []string
}

// MessageStore persists persona replies.
type MessageStore interface {
	AppendMessage(ctx context.Context, roomID, sender, content string) (chat.Message, error)
}

// Notifier delivers persona events to the user's connection.
type Notifier interface {
	// PersonaJoined binds the user of room to it and announces the match.
	// It returns false when the user can no longer be reached; the caller
	// then abandons the session.
	PersonaJoined(room chat.Room) bool
	// PersonaMessage delivers a persona reply to identity.
	PersonaMessage(identity string, msg chat.Message)
	// PersonaTyping relays the persona's typing indicator to identity.
	PersonaTyping(identity, roomID string, typing bool)
}

// Config tunes the Controller.
type Config struct {
	Delay     time.Duration
	InboxSize int
}

// Option configures a Controller.
type Option func(*Controller)

// WithPicker overrides the random source used to choose persona names.
func WithPicker(pick func(n int) int) Option {
	return func(c *Controller) { c.pick = pick }
}

const (
	statePending int32 = iota
	stateCancelled
	stateFired
)

type search struct {
	state atomic.Int32
	timer *time.Timer
}

// Controller arms handoff timers and runs persona sessions.
type Controller struct {
	cfg      Config
	claimer  Claimer
	presence Presence
	chain    *ai.Chain
	store    MessageStore
	notifier Notifier
	pick     func(n int) int
	log      zerolog.Logger

	mu       sync.Mutex
	searches map[string]*search
	sessions map[string]*personaSession
	closed   bool
	wg       sync.WaitGroup
}

// New creates a Controller. The notifier may be set later with SetNotifier
// when it depends on the controller itself.
func New(cfg Config, claimer Claimer, presence Presence, chain *ai.Chain, store MessageStore, log zerolog.Logger, opts ...Option) *Controller {
	if cfg.Delay <= 0 {
		cfg.Delay = DefaultDelay
	}
	if cfg.InboxSize <= 0 {
		cfg.InboxSize = defaultInboxSize
	}
	c := &Controller{
		cfg:      cfg,
		claimer:  claimer,
		presence: presence,
		chain:    chain,
		store:    store,
		pick:     rand.IntN,
		log:      log,
		searches: make(map[string]*search),
		sessions: make(map[string]*personaSession),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SetNotifier installs the notifier. It must be called before the first
// search fires.
func (c *Controller) SetNotifier(n Notifier) {
	c.notifier = n
}

// Delay returns the configured handoff delay.
func (c *Controller) Delay() time.Duration {
	return c.cfg.Delay
}

// StartSearch arms the handoff timer for identity. It returns false when a
// timer is already armed.
func (c *Controller) StartSearch(identity string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return false
	}
	if _, ok := c.searches[identity]; ok {
		return false
	}
	s := &search{}
	s.timer = time.AfterFunc(c.cfg.Delay, func() { c.fire(identity, s) })
	c.searches[identity] = s

	c.log.Debug().Str(logging.FieldIdentity, identity).Dur("delay", c.cfg.Delay).Msg("handoff armed")
	return true
}

// Cancel disarms identity's timer. It returns true only if the timer had
// not fired yet.
func (c *Controller) Cancel(identity string) bool {
	c.mu.Lock()
	s, ok := c.searches[identity]
	if ok {
		delete(c.searches, identity)
	}
	c.mu.Unlock()

	if !ok || !s.state.CompareAndSwap(statePending, stateCancelled) {
		return false
	}
	s.timer.Stop()
	metrics.HandoffsTotal.WithLabelValues("cancelled").Inc()
	c.log.Debug().Str(logging.FieldIdentity, identity).Msg("handoff cancelled")
	return true
}

// Armed reports whether identity has a pending timer.
func (c *Controller) Armed(identity string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.searches[identity]
	return ok && s.state.Load() == statePending
}

func (c *Controller) fire(identity string, s *search) {
	if !s.state.CompareAndSwap(statePending, stateFired) {
		return
	}
	c.mu.Lock()
	if c.searches[identity] == s {
		delete(c.searches, identity)
	}
	c.mu.Unlock()

	c.connectToAI(identity)
}

// connectToAI pairs identity with a persona if it is still online and
// still waiting. An offline identity is dropped from the pool, since no
// disconnect will ever clear it.
func (c *Controller) connectToAI(identity string) {
	if !c.presence.Online(identity) {
		dropped := c.claimer.Cancel(identity)
		metrics.HandoffsTotal.WithLabelValues("skipped").Inc()
		c.log.Info().Str(logging.FieldIdentity, identity).Bool("dropped", dropped).Msg("handoff skipped, identity offline")
		return
	}

	name := c.personaName(identity)
	room, ok := c.claimer.ClaimForPersona(identity, name)
	if !ok {
		metrics.HandoffsTotal.WithLabelValues("skipped").Inc()
		c.log.Info().Str(logging.FieldIdentity, identity).Msg("handoff skipped, no longer waiting")
		return
	}
	metrics.HandoffsTotal.WithLabelValues("fired").Inc()

	ps := c.startSession(identity, room)
	if ps == nil {
		return
	}
	if c.notifier == nil || !c.notifier.PersonaJoined(room) {
		c.End(identity)
		return
	}
	ps.greet()

	c.log.Info().
		Str(logging.FieldIdentity, identity).
		Str(logging.FieldRoomID, room.ID).
		Str(logging.FieldPersona, name).
		Msg("handed off to persona")
}

// personaName picks a name from the pool that is neither the requester
// (compared case-insensitively) nor anyone currently online.
func (c *Controller) personaName(identity string) string {
	taken := map[string]bool{strings.ToLower(identity): true}
	for _, id := range c.presence.Identities() {
		taken[strings.ToLower(id)] = true
	}

	free := make([]string, 0, len(PersonaNames))
	for _, n := range PersonaNames {
		if !taken[strings.ToLower(n)] {
			free = append(free, n)
		}
	}
	if len(free) == 0 {
		for _, n := range PersonaNames {
			if !strings.EqualFold(n, identity) {
				free = append(free, n)
			}
		}
	}
	return free[c.pick(len(free))]
}

// Forward queues a user message for the persona in roomID. It returns false
// when no persona session serves that room or its inbox is full.
func (c *Controller) Forward(identity, roomID, text string) bool {
	c.mu.Lock()
	ps, ok := c.sessions[identity]
	c.mu.Unlock()

	if !ok || ps.room.ID != roomID {
		return false
	}
	select {
	case ps.inbox <- text:
		return true
	default:
		c.log.Warn().Str(logging.FieldIdentity, identity).Str(logging.FieldRoomID, roomID).Msg("persona inbox full, message dropped")
		return false
	}
}

// Active reports whether identity is talking to a persona.
func (c *Controller) Active(identity string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.sessions[identity]
	return ok
}

// End stops identity's persona session, if any, and forgets its state.
func (c *Controller) End(identity string) bool {
	c.mu.Lock()
	ps, ok := c.sessions[identity]
	if ok {
		delete(c.sessions, identity)
	}
	c.mu.Unlock()

	if !ok {
		return false
	}
	ps.cancel()
	c.chain.Forget(identity)
	c.log.Info().Str(logging.FieldIdentity, identity).Str(logging.FieldRoomID, ps.room.ID).Msg("persona session ended")
	return true
}

// Close cancels every pending timer and persona session, then waits for the
// session workers to exit.
func (c *Controller) Close() {
	c.mu.Lock()
	c.closed = true
	searches := c.searches
	sessions := c.sessions
	c.searches = make(map[string]*search)
	c.sessions = make(map[string]*personaSession)
	c.mu.Unlock()

	for _, s := range searches {
		if s.state.CompareAndSwap(statePending, stateCancelled) {
			s.timer.Stop()
		}
	}
	for _, ps := range sessions {
		ps.cancel()
	}
	c.wg.Wait()
}

func (c *Controller) startSession(identity string, room chat.Room) *personaSession {
	ctx, cancel := context.WithCancel(context.Background())
	ps := &personaSession{
		c:       c,
		user:    identity,
		room:    room,
		session: c.chain.NewSession(identity, room.Persona),
		inbox:   make(chan string, c.cfg.InboxSize),
		greetCh: make(chan struct{}, 1),
		ctx:     ctx,
		cancel:  cancel,
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		cancel()
		return nil
	}
	c.sessions[identity] = ps
	c.wg.Add(1)
	c.mu.Unlock()

	go ps.run()
	return ps
}
