package ai

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/rs/zerolog"

	"github.com/chatkool/chat-app/internal/logging"
	"github.com/chatkool/chat-app/internal/metrics"
)

const greetingInstruction = "(You just got matched with %s. Send your very first message to say hi.)"

// DefaultCannedMemory is how many recent canned lines are excluded per user
// when Options leaves CannedMemory unset.
const DefaultCannedMemory = 3

// Backend is a provider with its reply flavor.
type Backend struct {
	Provider TextProvider
	Profile  Profile
}

// Options configures a Chain.
type Options struct {
	Timeout        time.Duration // per provider call
	TypingDelayMin time.Duration
	TypingDelayMax time.Duration
	CannedMemory   int  // recent canned lines excluded per user; <= 0 means DefaultCannedMemory
	Rand           Rand // defaults to a locked PCG source
	Logger         zerolog.Logger
}

// Chain generates persona replies from its backends in priority order.
type Chain struct {
	backends  []Backend
	opts      Options
	r         Rand
	canned    *CannedPool
	greetings *CannedPool
	sleep     func(ctx context.Context, d time.Duration)
	log       zerolog.Logger
}

// NewChain builds a chain over backends, tried in the given order.
func NewChain(backends []Backend, opts Options) *Chain {
	if opts.CannedMemory <= 0 {
		opts.CannedMemory = DefaultCannedMemory
	}
	r := opts.Rand
	if r == nil {
		r = NewLockedRand(rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())))
	}
	return &Chain{
		backends:  backends,
		opts:      opts,
		r:         r,
		canned:    NewCannedPool(FallbackReplies, opts.CannedMemory, r),
		greetings: NewCannedPool(FallbackGreetings, opts.CannedMemory, r),
		sleep:     sleepCtx,
		log:       opts.Logger,
	}
}

// Providers returns the provider names in priority order.
func (c *Chain) Providers() []string {
	out := make([]string, len(c.backends))
	for i, b := range c.backends {
		out[i] = b.Provider.Name()
	}
	return out
}

// Session is one user's conversation with one persona. It holds a separate
// conversation copy per backend and is not safe for concurrent use; a
// single worker owns it.
type Session struct {
	User    string
	Persona Persona

	mood    string
	details map[string]string
	convs   []*Conversation
}

// NewSession creates a session between user and a freshly randomized
// persona called personaName.
func (c *Chain) NewSession(user, personaName string) *Session {
	p := NewPersona(personaName, c.r)
	s := &Session{
		User:    user,
		Persona: p,
		mood:    moodNeutral,
		details: make(map[string]string),
		convs:   make([]*Conversation, len(c.backends)),
	}
	for i, b := range c.backends {
		s.convs[i] = NewConversation(p.SystemPrompt(b.Profile.Style, b.Profile.Denial))
	}
	return s
}

// Mood returns the persona's current mood.
func (s *Session) Mood() string { return s.mood }

// Details returns a copy of the remembered personal details.
func (s *Session) Details() map[string]string {
	out := make(map[string]string, len(s.details))
	for k, v := range s.details {
		out[k] = v
	}
	return out
}

// History returns the conversation copy kept for backend i.
func (s *Session) History(i int) []string {
	if i < 0 || i >= len(s.convs) {
		return nil
	}
	return s.convs[i].Lines()
}

// Reset clears history, mood and remembered details. The persona's
// background is kept.
func (s *Session) Reset() {
	for _, conv := range s.convs {
		conv.Reset()
	}
	s.mood = moodNeutral
	s.details = make(map[string]string)
}

// GenerateReply returns the persona's answer to msg. It never fails: when
// every provider errors the reply comes from the canned pool.
func (c *Chain) GenerateReply(ctx context.Context, s *Session, msg string) string {
	for k, v := range ExtractDetails(msg) {
		s.details[k] = v
	}
	if c.r.Float64() < moodDriftChance {
		s.mood = moods[c.r.IntN(len(moods))]
	}

	for i, b := range c.backends {
		p := b.Profile
		conv := s.convs[i]
		conv.Add(s.User, msg)

		if line, ok := c.quickReply(p); ok {
			c.typingDelay(ctx)
			conv.Add(s.Persona.Name, line)
			return line
		}

		text, ok := c.complete(ctx, b, conv.Prompt(s.Persona.Name, s.mood), s)
		if !ok {
			continue
		}
		text = Humanize(text, p, s.details, c.r)
		text = Conceal(text, p.Denial)
		c.typingDelay(ctx)
		conv.Add(s.Persona.Name, text)
		return text
	}

	metrics.CannedReplies.Inc()
	c.log.Warn().Str(logging.FieldIdentity, s.User).Msg("all providers failed, using canned reply")
	line := c.canned.Next(s.User)
	for _, conv := range s.convs {
		conv.Add(s.Persona.Name, line)
	}
	return line
}

// Greeting returns the persona's opening line. It never fails.
func (c *Chain) Greeting(ctx context.Context, s *Session) string {
	for i, b := range c.backends {
		conv := s.convs[i]
		prompt := conv.PromptWithNote(fmt.Sprintf(greetingInstruction, s.User), s.Persona.Name, s.mood)

		text, ok := c.complete(ctx, b, prompt, s)
		if !ok {
			continue
		}
		text = Conceal(Shorten(text, b.Profile.WordCap, b.Profile.CutTo), b.Profile.Denial)
		c.typingDelay(ctx)
		conv.Add(s.Persona.Name, text)
		return text
	}

	metrics.CannedReplies.Inc()
	line := c.greetings.Next(s.User)
	for _, conv := range s.convs {
		conv.Add(s.Persona.Name, line)
	}
	return line
}

// Forget drops everything the chain remembers about user.
func (c *Chain) Forget(user string) {
	c.canned.Forget(user)
	c.greetings.Forget(user)
}

func (c *Chain) quickReply(p Profile) (string, bool) {
	if len(p.AFKLines) > 0 && c.r.Float64() < p.AFKChance {
		return p.AFKLines[c.r.IntN(len(p.AFKLines))], true
	}
	if len(p.ShortReplies) > 0 && c.r.Float64() < p.ShortReplyChance {
		return p.ShortReplies[c.r.IntN(len(p.ShortReplies))], true
	}
	return "", false
}

// complete calls one backend under the per-call timeout. Errors and empty
// output both count as failure.
func (c *Chain) complete(ctx context.Context, b Backend, prompt string, s *Session) (string, bool) {
	name := b.Provider.Name()
	callCtx := ctx
	if c.opts.Timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, c.opts.Timeout)
		defer cancel()
	}

	start := time.Now()
	text, err := b.Provider.Complete(callCtx, prompt, b.Profile.MaxTokens, b.Profile.Temperature)
	metrics.ProviderLatency.WithLabelValues(name).Observe(time.Since(start).Seconds())
	if err == nil {
		text = StripNamePrefix(text, s.Persona.Name)
		if text == "" {
			err = ErrEmptyCompletion
		}
	}
	if err != nil {
		metrics.ProviderRequests.WithLabelValues(name, "error").Inc()
		c.log.Warn().Err(err).Str(logging.FieldProvider, name).Str(logging.FieldIdentity, s.User).Msg("provider failed")
		return "", false
	}
	metrics.ProviderRequests.WithLabelValues(name, "ok").Inc()
	return text, true
}

func (c *Chain) typingDelay(ctx context.Context) {
	lo, hi := c.opts.TypingDelayMin, c.opts.TypingDelayMax
	if hi <= 0 {
		return
	}
	d := lo
	if hi > lo {
		d += time.Duration(c.r.Float64() * float64(hi-lo))
	}
	c.sleep(ctx, d)
}

func sleepCtx(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
