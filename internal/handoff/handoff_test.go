package handoff

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chatkool/chat-app/internal/ai"
	"github.com/chatkool/chat-app/internal/chat"
	"github.com/chatkool/chat-app/internal/matching"
)

type fakePresence struct {
	mu     sync.Mutex
	online map[string]bool
}

func newPresence(ids ...string) *fakePresence {
	p := &fakePresence{online: make(map[string]bool)}
	for _, id := range ids {
		p.online[id] = true
	}
	return p
}

func (p *fakePresence) Online(id string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.online[id]
}

func (p *fakePresence) set(id string, online bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if online {
		p.online[id] = true
	} else {
		delete(p.online, id)
	}
}

func (p *fakePresence) Identities() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.online))
	for id := range p.online {
		out = append(out, id)
	}
	return out
}

type fakeStore struct {
	mu   sync.Mutex
	msgs []chat.Message
}

func (s *fakeStore) AppendMessage(_ context.Context, roomID, sender, content string) (chat.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m := chat.Message{ID: "m", RoomID: roomID, Username: sender, Content: content, CreatedAt: time.Now()}
	s.msgs = append(s.msgs, m)
	return m, nil
}

type recordingNotifier struct {
	mu       sync.Mutex
	joined   []chat.Room
	messages []chat.Message
	typing   []bool
	reject   bool
}

func (n *recordingNotifier) PersonaJoined(room chat.Room) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.reject {
		return false
	}
	n.joined = append(n.joined, room)
	return true
}

func (n *recordingNotifier) PersonaMessage(_ string, msg chat.Message) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.messages = append(n.messages, msg)
}

func (n *recordingNotifier) PersonaTyping(_, _ string, typing bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.typing = append(n.typing, typing)
}

func (n *recordingNotifier) snapshot() ([]chat.Room, []chat.Message, []bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]chat.Room(nil), n.joined...),
		append([]chat.Message(nil), n.messages...),
		append([]bool(nil), n.typing...)
}

type fixture struct {
	ctrl     *Controller
	mm       *matching.Matchmaker
	rooms    *chat.Directory
	presence *fakePresence
	notifier *recordingNotifier
	store    *fakeStore
}

func newFixture(t *testing.T, delay time.Duration, online ...string) *fixture {
	t.Helper()
	rooms := chat.NewDirectory(chat.DefaultTranscriptSize)
	mm := matching.NewMatchmaker(rooms, zerolog.Nop())
	presence := newPresence(online...)
	store := &fakeStore{}
	chain := ai.NewChain(nil, ai.Options{CannedMemory: 3, Logger: zerolog.Nop()})

	ctrl := New(Config{Delay: delay}, mm, presence, chain, store, zerolog.Nop(),
		WithPicker(func(int) int { return 0 }))
	n := &recordingNotifier{}
	ctrl.SetNotifier(n)
	t.Cleanup(ctrl.Close)

	return &fixture{ctrl: ctrl, mm: mm, rooms: rooms, presence: presence, notifier: n, store: store}
}

func TestImmediateHumanMatchBeatsFarDeadline(t *testing.T) {
	f := newFixture(t, time.Hour, "ana", "bea")

	res, err := f.mm.RequestMatch("ana")
	require.NoError(t, err)
	require.False(t, res.Matched)
	require.True(t, f.ctrl.StartSearch("ana"))

	res, err = f.mm.RequestMatch("bea")
	require.NoError(t, err)
	require.True(t, res.Matched)

	assert.True(t, f.ctrl.Cancel("ana"))
	assert.False(t, f.ctrl.Armed("ana"))
	assert.False(t, f.ctrl.Cancel("ana"), "second cancel is a no-op")

	joined, _, _ := f.notifier.snapshot()
	assert.Empty(t, joined)
	assert.False(t, f.ctrl.Active("ana"))
}

func TestFireAfterCancelIsNoop(t *testing.T) {
	f := newFixture(t, time.Hour, "ana")

	_, err := f.mm.RequestMatch("ana")
	require.NoError(t, err)
	require.True(t, f.ctrl.StartSearch("ana"))

	f.ctrl.mu.Lock()
	s := f.ctrl.searches["ana"]
	f.ctrl.mu.Unlock()
	require.NotNil(t, s)

	require.True(t, f.ctrl.Cancel("ana"))
	// The timer callback may already be running when Cancel wins.
	f.ctrl.fire("ana", s)

	joined, _, _ := f.notifier.snapshot()
	assert.Empty(t, joined)
	assert.True(t, f.mm.IsWaiting("ana"), "cancelled search must not claim the entry")
}

func TestStartSearchArmsOnce(t *testing.T) {
	f := newFixture(t, time.Hour, "ana")

	assert.True(t, f.ctrl.StartSearch("ana"))
	assert.False(t, f.ctrl.StartSearch("ana"))
	assert.True(t, f.ctrl.Armed("ana"))
}

func TestHandoffPairsWithPersona(t *testing.T) {
	f := newFixture(t, 10*time.Millisecond, "maria", "juan")

	_, err := f.mm.RequestMatch("maria")
	require.NoError(t, err)
	require.True(t, f.ctrl.StartSearch("maria"))

	require.Eventually(t, func() bool {
		_, msgs, _ := f.notifier.snapshot()
		return len(msgs) == 1
	}, 2*time.Second, 5*time.Millisecond)

	joined, msgs, typing := f.notifier.snapshot()
	require.Len(t, joined, 1)
	room := joined[0]

	// "maria" and the online "juan" are excluded, leaving Ana first.
	assert.Equal(t, "Ana", room.Persona)
	assert.Equal(t, [2]string{"maria", "Ana"}, room.Participants)
	assert.True(t, room.Synthetic())
	assert.False(t, f.mm.IsWaiting("maria"))
	assert.True(t, f.rooms.InRoom("maria"))

	assert.Equal(t, "Ana", msgs[0].Username)
	assert.Contains(t, ai.FallbackGreetings, msgs[0].Content)
	assert.Equal(t, []bool{true, false}, typing)

	require.True(t, f.ctrl.Forward("maria", room.ID, "hello"))
	require.Eventually(t, func() bool {
		_, msgs, _ := f.notifier.snapshot()
		return len(msgs) == 2
	}, 2*time.Second, 5*time.Millisecond)

	_, msgs, _ = f.notifier.snapshot()
	assert.Contains(t, ai.FallbackReplies, msgs[1].Content)
	assert.Equal(t, room.ID, msgs[1].RoomID)

	f.store.mu.Lock()
	assert.Len(t, f.store.msgs, 2)
	f.store.mu.Unlock()
}

func TestForwardRejectsOtherRooms(t *testing.T) {
	f := newFixture(t, 5*time.Millisecond, "maria")

	_, _ = f.mm.RequestMatch("maria")
	f.ctrl.StartSearch("maria")
	require.Eventually(t, func() bool { return f.ctrl.Active("maria") }, 2*time.Second, 5*time.Millisecond)

	assert.False(t, f.ctrl.Forward("maria", "some-other-room", "hi"))
	assert.False(t, f.ctrl.Forward("nobody", "room", "hi"))
}

func TestHandoffSkipsOfflineIdentity(t *testing.T) {
	f := newFixture(t, 5*time.Millisecond)

	_, _ = f.mm.RequestMatch("ghost")
	require.True(t, f.ctrl.StartSearch("ghost"))

	require.Eventually(t, func() bool { return !f.mm.IsWaiting("ghost") }, time.Second, 5*time.Millisecond)
	joined, _, _ := f.notifier.snapshot()
	assert.Empty(t, joined)

	// The next real requester waits instead of pairing with the dropped entry.
	f.presence.set("ana", true)
	res, err := f.mm.RequestMatch("ana")
	require.NoError(t, err)
	assert.False(t, res.Matched)
	assert.True(t, f.mm.IsWaiting("ana"))
}

func TestHandoffLosesToLateHumanMatch(t *testing.T) {
	f := newFixture(t, time.Hour, "ana", "bea")

	_, _ = f.mm.RequestMatch("ana")
	f.ctrl.StartSearch("ana")

	f.ctrl.mu.Lock()
	s := f.ctrl.searches["ana"]
	f.ctrl.mu.Unlock()

	// The human match lands first, then the timer fires before Cancel.
	res, err := f.mm.RequestMatch("bea")
	require.NoError(t, err)
	require.True(t, res.Matched)
	f.ctrl.fire("ana", s)

	joined, _, _ := f.notifier.snapshot()
	assert.Empty(t, joined)
	room, ok := f.rooms.ActiveRoomOf("ana")
	require.True(t, ok)
	assert.False(t, room.Synthetic())
}

func TestEndStopsSession(t *testing.T) {
	f := newFixture(t, 5*time.Millisecond, "maria")

	_, _ = f.mm.RequestMatch("maria")
	f.ctrl.StartSearch("maria")
	require.Eventually(t, func() bool {
		_, msgs, _ := f.notifier.snapshot()
		return len(msgs) == 1
	}, 2*time.Second, 5*time.Millisecond)

	joined, _, _ := f.notifier.snapshot()
	assert.True(t, f.ctrl.End("maria"))
	assert.False(t, f.ctrl.End("maria"))
	assert.False(t, f.ctrl.Active("maria"))
	assert.False(t, f.ctrl.Forward("maria", joined[0].ID, "still there?"))
}

func TestUnreachableUserAbandonsSession(t *testing.T) {
	f := newFixture(t, 5*time.Millisecond, "maria")
	f.notifier.mu.Lock()
	f.notifier.reject = true
	f.notifier.mu.Unlock()

	_, _ = f.mm.RequestMatch("maria")
	f.ctrl.StartSearch("maria")

	time.Sleep(50 * time.Millisecond)
	assert.False(t, f.ctrl.Active("maria"))
	_, msgs, _ := f.notifier.snapshot()
	assert.Empty(t, msgs)
}

func TestPersonaNameFallsBackWhenPoolIsTaken(t *testing.T) {
	f := newFixture(t, time.Hour, PersonaNames...)
	name := f.ctrl.personaName("maria")
	assert.NotEqual(t, "Maria", name)
	assert.Contains(t, PersonaNames, name)
}
