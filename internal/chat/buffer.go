package chat

import "sync"

// DefaultTranscriptSize is the number of recent messages retained per room.
const DefaultTranscriptSize = 50

// Transcript stores the last N messages of one room in arrival order.
// It is goroutine-safe and uses a ring buffer internally.
type Transcript struct {
	mu    sync.RWMutex
	items []Message
	pos   int
	count int
}

// NewTranscript creates an empty transcript holding up to size messages.
// A non-positive size falls back to DefaultTranscriptSize.
func NewTranscript(size int) *Transcript {
	if size <= 0 {
		size = DefaultTranscriptSize
	}
	return &Transcript{items: make([]Message, size)}
}

// Add appends a message. If the buffer is full the oldest message is
// overwritten.
func (t *Transcript) Add(msg Message) {
	t.mu.Lock()
	defer t.mu.Unlock()

	size := len(t.items)
	t.items[t.pos] = msg
	t.pos = (t.pos + 1) % size
	if t.count < size {
		t.count++
	}
}

// Last returns up to limit of the most recent messages, oldest first.
// A non-positive limit returns everything retained.
func (t *Transcript) Last(limit int) []Message {
	t.mu.RLock()
	defer t.mu.RUnlock()

	n := t.count
	if limit > 0 && limit < n {
		n = limit
	}
	size := len(t.items)
	result := make([]Message, n)
	// The oldest returned message sits n slots behind pos.
	start := (t.pos - n + size) % size
	for i := 0; i < n; i++ {
		result[i] = t.items[(start+i)%size]
	}
	return result
}

// Len returns the number of retained messages.
func (t *Transcript) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.count
}
