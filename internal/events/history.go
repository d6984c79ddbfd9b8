package events

import (
	"sync"
	"time"
)

// Entry is one recorded emission.
type Entry struct {
	Seq      uint64    `json:"seq"`
	Event    string    `json:"event"`
	Payload  any       `json:"payload,omitempty"`
	Handlers int       `json:"handlers"`
	At       time.Time `json:"at"`
}

// History keeps the most recent emissions in a fixed ring so the
// debug surface can show what the scripts have been reacting to.
// Recording is cheap enough to run inline on the executor; payloads
// are the already converted Go values, which nothing mutates after
// the emit returns.
type History struct {
	mu   sync.Mutex
	buf  []Entry
	next int
	full bool
	seq  uint64
}

// NewHistory creates a ring holding up to capacity entries. A zero or
// negative capacity keeps a single entry so Record never has to check.
func NewHistory(capacity int) *History {
	if capacity < 1 {
		capacity = 1
	}
	return &History{buf: make([]Entry, capacity)}
}

// Record appends an emission and returns the stored entry, stamped
// with its sequence number.
func (h *History) Record(event string, payload any, handlers int) Entry {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.seq++
	e := Entry{
		Seq:      h.seq,
		Event:    event,
		Payload:  payload,
		Handlers: handlers,
		At:       time.Now(),
	}
	h.buf[h.next] = e
	h.next++
	if h.next == len(h.buf) {
		h.next = 0
		h.full = true
	}
	return e
}

// Recent returns the recorded entries, oldest first.
func (h *History) Recent() []Entry {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.full {
		out := make([]Entry, h.next)
		copy(out, h.buf[:h.next])
		return out
	}
	out := make([]Entry, 0, len(h.buf))
	out = append(out, h.buf[h.next:]...)
	out = append(out, h.buf[:h.next]...)
	return out
}

// Len reports how many entries are currently held.
func (h *History) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.full {
		return len(h.buf)
	}
	return h.next
}
