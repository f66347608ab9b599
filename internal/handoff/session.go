package handoff

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/chatkool/chat-app/internal/ai"
	"github.com/chatkool/chat-app/internal/chat"
	"github.com/chatkool/chat-app/internal/logging"
	"github.com/chatkool/chat-app/internal/metrics"
)

// personaSession is one user's conversation with one persona. The worker
// goroutine is the only reader of session, so it needs no lock.
type personaSession struct {
	c       *Controller
	user    string
	room    chat.Room
	session *ai.Session

	inbox   chan string
	greetCh chan struct{}
	ctx     context.Context
	cancel  context.CancelFunc
}

func (ps *personaSession) greet() {
	select {
	case ps.greetCh <- struct{}{}:
	default:
	}
}

func (ps *personaSession) run() {
	defer ps.c.wg.Done()
	defer ps.session.Reset()

	// The greeting goes out before any queued user message.
	select {
	case <-ps.ctx.Done():
		return
	case <-ps.greetCh:
		ps.reply(func(ctx context.Context) string { return ps.c.chain.Greeting(ctx, ps.session) })
	}

	for {
		select {
		case <-ps.ctx.Done():
			return
		case text := <-ps.inbox:
			ps.reply(func(ctx context.Context) string { return ps.c.chain.GenerateReply(ctx, ps.session, text) })
		}
	}
}

func (ps *personaSession) reply(generate func(ctx context.Context) string) {
	n := ps.c.notifier
	n.PersonaTyping(ps.user, ps.room.ID, true)
	text := generate(ps.ctx)
	n.PersonaTyping(ps.user, ps.room.ID, false)

	if ps.ctx.Err() != nil {
		return
	}

	msg, err := ps.c.store.AppendMessage(ps.ctx, ps.room.ID, ps.room.Persona, text)
	if err != nil {
		ps.c.log.Warn().Err(err).
			Str(logging.FieldRoomID, ps.room.ID).
			Str(logging.FieldPersona, ps.room.Persona).
			Msg("persist persona reply")
		msg = chat.Message{
			ID:        uuid.New().String(),
			Content:   text,
			Username:  ps.room.Persona,
			RoomID:    ps.room.ID,
			CreatedAt: time.Now(),
		}
	}
	metrics.MessagesTotal.WithLabelValues("persona").Inc()
	n.PersonaMessage(ps.user, msg)
}
