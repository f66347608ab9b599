package ai

import "sync"

// FallbackReplies is served when every provider fails.
var FallbackReplies = []string{
	"hey whats up!",
	"haha same tbh",
	"fr? thats cool",
	"nice nice bestie",
	"lol bet",
	"ohh interesting",
	"grabe naman haha",
	"uy kamusta ka?",
	"chill lang pre",
}

// FallbackGreetings opens a persona room when no provider can greet.
var FallbackGreetings = []string{
	"Hey! Nice to meet you 😊",
	"hii! kamusta?",
	"heyy whats up",
	"hello! where u from?",
	"uy hi! 👋",
}

// CannedPool hands out fixed lines, never repeating any of the last N lines
// served to the same user. When every line is excluded the user's history
// is reset.
type CannedPool struct {
	mu     sync.Mutex
	lines  []string
	memory int
	recent map[string][]string
	r      Rand
}

// NewCannedPool creates a pool over lines remembering memory lines per user.
// memory is capped at len(lines)-1 so the candidate set is never empty.
func NewCannedPool(lines []string, memory int, r Rand) *CannedPool {
	if memory > len(lines)-1 {
		memory = len(lines) - 1
	}
	if memory < 0 {
		memory = 0
	}
	return &CannedPool{
		lines:  append([]string(nil), lines...),
		memory: memory,
		recent: make(map[string][]string),
		r:      r,
	}
}

// Next returns a line for user.
func (p *CannedPool) Next(user string) string {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.lines) == 0 {
		return ""
	}

	recent := p.recent[user]
	candidates := make([]string, 0, len(p.lines))
	for _, l := range p.lines {
		if !contains(recent, l) {
			candidates = append(candidates, l)
		}
	}
	if len(candidates) == 0 {
		recent = nil
		candidates = p.lines
	}

	line := candidates[p.r.IntN(len(candidates))]
	if p.memory > 0 {
		recent = append(recent, line)
		if over := len(recent) - p.memory; over > 0 {
			recent = recent[over:]
		}
		p.recent[user] = recent
	}
	return line
}

// Forget drops user's history.
func (p *CannedPool) Forget(user string) {
	p.mu.Lock()
	delete(p.recent, user)
	p.mu.Unlock()
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
