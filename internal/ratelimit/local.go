package ratelimit

import (
	"context"
	"sync"
	"time"
)

type window struct {
	count   int
	resetAt time.Time
}

// Local is an in-process fixed-window limiter with the same semantics as
// Limiter. Expired windows are dropped lazily on access and by Sweep.
type Local struct {
	mu      sync.Mutex
	windows map[string]*window
	now     func() time.Time
}

// NewLocal creates an empty Local limiter.
func NewLocal() *Local {
	return &Local{windows: make(map[string]*window), now: time.Now}
}

// Allow counts one request for identifier and reports whether it fits in
// rule. It never returns an error.
func (l *Local) Allow(_ context.Context, identifier string, rule Rule) (bool, error) {
	key := rule.Key + identifier
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	w, ok := l.windows[key]
	if !ok || !now.Before(w.resetAt) {
		w = &window{resetAt: now.Add(rule.Window)}
		l.windows[key] = w
	}
	w.count++
	return w.count <= rule.Limit, nil
}

// Sweep drops every expired window.
func (l *Local) Sweep() {
	now := l.now()
	l.mu.Lock()
	for k, w := range l.windows {
		if !now.Before(w.resetAt) {
			delete(l.windows, k)
		}
	}
	l.mu.Unlock()
}
