package matching

import "time"

// WaitingEntry is an identity waiting for a partner.
type WaitingEntry struct {
	Identity string
	JoinedAt time.Time
}

// Pool is the set of identities currently seeking a match, kept in join
// order. It is not safe for concurrent use; the Matchmaker serializes all
// access under its own lock.
type Pool struct {
	entries map[string]WaitingEntry
	order   []string
}

// NewPool creates an empty waiting pool.
func NewPool() *Pool {
	return &Pool{entries: make(map[string]WaitingEntry)}
}

// Add inserts identity. Re-adding a waiting identity keeps its original
// timestamp and reports false.
func (p *Pool) Add(identity string, now time.Time) bool {
	if _, ok := p.entries[identity]; ok {
		return false
	}
	p.entries[identity] = WaitingEntry{Identity: identity, JoinedAt: now}
	p.order = append(p.order, identity)
	return true
}

// Remove deletes identity and returns its entry.
func (p *Pool) Remove(identity string) (WaitingEntry, bool) {
	e, ok := p.entries[identity]
	if !ok {
		return WaitingEntry{}, false
	}
	delete(p.entries, identity)
	for i, id := range p.order {
		if id == identity {
			p.order = append(p.order[:i], p.order[i+1:]...)
			break
		}
	}
	return e, true
}

// Contains reports whether identity is waiting.
func (p *Pool) Contains(identity string) bool {
	_, ok := p.entries[identity]
	return ok
}

// Others returns every waiting identity except exclude, oldest first.
func (p *Pool) Others(exclude string) []string {
	out := make([]string, 0, len(p.order))
	for _, id := range p.order {
		if id != exclude {
			out = append(out, id)
		}
	}
	return out
}

// Len returns the number of waiting identities.
func (p *Pool) Len() int {
	return len(p.entries)
}
