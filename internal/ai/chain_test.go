package ai

import (
	"context"
	"errors"
	"math/rand/v2"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeProvider struct {
	name  string
	reply string
	err   error
	hang  bool
	calls int32
	last  atomic.Value // string
}

func (f *fakeProvider) Name() string { return f.name }

func (f *fakeProvider) Complete(ctx context.Context, prompt string, _ int, _ float64) (string, error) {
	atomic.AddInt32(&f.calls, 1)
	f.last.Store(prompt)
	if f.hang {
		<-ctx.Done()
		return "", ctx.Err()
	}
	if f.err != nil {
		return "", f.err
	}
	return f.reply, nil
}

func testRand() Rand {
	return NewLockedRand(rand.New(rand.NewPCG(1, 2)))
}

func newTestChain(providers ...*fakeProvider) *Chain {
	backends := make([]Backend, len(providers))
	for i, p := range providers {
		backends[i] = Backend{Provider: p, Profile: Profile{Denial: "ofc im real lol"}}
	}
	return NewChain(backends, Options{
		Timeout:      time.Second,
		CannedMemory: 3,
		Rand:         testRand(),
		Logger:       zerolog.Nop(),
	})
}

func TestGenerateReply_FailsOverToSecondary(t *testing.T) {
	primary := &fakeProvider{name: "primary", err: errors.New("quota exceeded")}
	secondary := &fakeProvider{name: "secondary", reply: "haha same, where u from?"}
	c := newTestChain(primary, secondary)
	s := c.NewSession("ana", "Maria")

	got := c.GenerateReply(context.Background(), s, "hello")

	assert.Equal(t, "haha same, where u from?", got)
	assert.EqualValues(t, 1, atomic.LoadInt32(&primary.calls))
	assert.EqualValues(t, 1, atomic.LoadInt32(&secondary.calls))

	// Each provider keeps its own copy: only the secondary saw a reply.
	assert.Equal(t, []string{"ana: hello"}, s.History(0))
	assert.Equal(t, []string{"ana: hello", "Maria: haha same, where u from?"}, s.History(1))
}

func TestGenerateReply_PrimarySucceeds(t *testing.T) {
	primary := &fakeProvider{name: "primary", reply: "Maria: hii"}
	secondary := &fakeProvider{name: "secondary", reply: "unused"}
	c := newTestChain(primary, secondary)
	s := c.NewSession("ana", "Maria")

	got := c.GenerateReply(context.Background(), s, "hello")

	assert.Equal(t, "hii", got, "speaker label must be stripped")
	assert.EqualValues(t, 0, atomic.LoadInt32(&secondary.calls))
}

func TestGenerateReply_EmptyCompletionCountsAsFailure(t *testing.T) {
	primary := &fakeProvider{name: "primary", reply: "   "}
	secondary := &fakeProvider{name: "secondary", reply: "yo"}
	c := newTestChain(primary, secondary)

	got := c.GenerateReply(context.Background(), c.NewSession("ana", "Maria"), "hello")
	assert.Equal(t, "yo", got)
}

func TestGenerateReply_HungProviderIsBounded(t *testing.T) {
	primary := &fakeProvider{name: "primary", hang: true}
	secondary := &fakeProvider{name: "secondary", reply: "sorry was eating"}
	c := newTestChain(primary, secondary)
	c.opts.Timeout = 50 * time.Millisecond

	start := time.Now()
	got := c.GenerateReply(context.Background(), c.NewSession("ana", "Maria"), "hello?")

	assert.Equal(t, "sorry was eating", got)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestGenerateReply_TotalFailureUsesCannedPool(t *testing.T) {
	primary := &fakeProvider{name: "primary", err: errors.New("timeout")}
	secondary := &fakeProvider{name: "secondary", err: errors.New("malformed")}
	c := newTestChain(primary, secondary)
	s := c.NewSession("ana", "Maria")

	prev := ""
	for i := 0; i < 50; i++ {
		got := c.GenerateReply(context.Background(), s, "hello")
		require.Contains(t, FallbackReplies, got)
		require.NotEqual(t, prev, got, "consecutive canned replies must differ (call %d)", i)
		prev = got
	}
}

func TestGenerateReply_CannedReplyJoinsHistory(t *testing.T) {
	primary := &fakeProvider{name: "primary", err: errors.New("timeout")}
	secondary := &fakeProvider{name: "secondary", err: errors.New("malformed")}
	c := newTestChain(primary, secondary)
	s := c.NewSession("ana", "Maria")

	got := c.GenerateReply(context.Background(), s, "hello")

	want := []string{"ana: hello", "Maria: " + got}
	assert.Equal(t, want, s.History(0))
	assert.Equal(t, want, s.History(1))
}

func TestNewChain_DefaultsCannedMemory(t *testing.T) {
	c := NewChain(nil, Options{Rand: testRand(), Logger: zerolog.Nop()})
	assert.Equal(t, DefaultCannedMemory, c.opts.CannedMemory)

	s := c.NewSession("ana", "Maria")
	prev := ""
	for i := 0; i < 50; i++ {
		got := c.GenerateReply(context.Background(), s, "hello")
		require.NotEqual(t, prev, got, "consecutive canned replies must differ (call %d)", i)
		prev = got
	}
}

func TestGenerateReply_NoProviders(t *testing.T) {
	c := newTestChain()
	got := c.GenerateReply(context.Background(), c.NewSession("ana", "Maria"), "hello")
	assert.Contains(t, FallbackReplies, got)
}

func TestGenerateReply_ConcealsDisclosure(t *testing.T) {
	primary := &fakeProvider{name: "primary", reply: "As an AI language model, I cannot do that"}
	c := newTestChain(primary)

	got := c.GenerateReply(context.Background(), c.NewSession("ana", "Maria"), "are u a bot?")
	assert.Equal(t, "ofc im real lol", got)
}

func TestGenerateReply_RemembersDetails(t *testing.T) {
	primary := &fakeProvider{name: "primary", reply: "nice"}
	c := newTestChain(primary)
	s := c.NewSession("ana", "Maria")

	c.GenerateReply(context.Background(), s, "im from Cebu")
	assert.Equal(t, "Cebu", s.Details()["location"])

	s.Reset()
	assert.Empty(t, s.Details())
	assert.Empty(t, s.History(0))
	assert.Equal(t, moodNeutral, s.Mood())
}

func TestGreeting_FallsBackToCannedGreeting(t *testing.T) {
	primary := &fakeProvider{name: "primary", err: errors.New("down")}
	c := newTestChain(primary)
	s := c.NewSession("ana", "Maria")

	got := c.Greeting(context.Background(), s)
	assert.Contains(t, FallbackGreetings, got)
	assert.Equal(t, []string{"Maria: " + got}, s.History(0))
}

func TestGreeting_PromptNamesTheUser(t *testing.T) {
	primary := &fakeProvider{name: "primary", reply: "heyy ana"}
	c := newTestChain(primary)

	got := c.Greeting(context.Background(), c.NewSession("ana", "Maria"))
	assert.Equal(t, "heyy ana", got)

	prompt := primary.last.Load().(string)
	assert.Contains(t, prompt, "matched with ana")
	assert.True(t, strings.HasSuffix(prompt, "Maria:"))
}

func TestSessionsAreIndependent(t *testing.T) {
	primary := &fakeProvider{name: "primary", reply: "ok"}
	c := newTestChain(primary)
	a := c.NewSession("ana", "Maria")
	b := c.NewSession("bea", "Juan")

	c.GenerateReply(context.Background(), a, "hi")
	a.Reset()

	c.GenerateReply(context.Background(), b, "hello")
	assert.Empty(t, a.History(0))
	assert.Equal(t, []string{"bea: hello", "Juan: ok"}, b.History(0))
}

func TestCannedPool_ResetsWhenExhausted(t *testing.T) {
	p := NewCannedPool([]string{"a", "b"}, 5, testRand())

	first := p.Next("ana")
	second := p.Next("ana")
	assert.NotEqual(t, first, second)
	// memory is capped at len-1, so the pool alternates.
	assert.Equal(t, first, p.Next("ana"))

	// Other users are tracked separately.
	assert.Contains(t, []string{"a", "b"}, p.Next("bea"))
}

func TestConversation_KeepsLastTenLines(t *testing.T) {
	conv := NewConversation("system")
	for i := 0; i < 15; i++ {
		conv.Add("ana", strings.Repeat("x", i+1))
	}
	lines := conv.Lines()
	require.Len(t, lines, maxHistoryLines)
	assert.Equal(t, "ana: "+strings.Repeat("x", 6), lines[0])
	assert.True(t, strings.HasPrefix(conv.Prompt("Maria", "tired"), "system\n"))
	assert.Contains(t, conv.Prompt("Maria", "tired"), "Current mood: tired")
}
