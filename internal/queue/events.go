package queue

import (
	"sync"

	"github.com/stratawm/strata/scripting/internal/callback"
)

// Event is one callback-delivery record published by a worker. The
// payload is a typed struct owned by the publisher (process chunk,
// exit result, fetch result); the engine boundary converts it to
// script values when the callback runs.
type Event struct {
	Callback callback.ID
	Payload  any
}

// Events is the shared callback-event queue. Worker goroutines push
// from their own threads; the host drains once per refresh cycle.
// Per-producer FIFO order is preserved because each producer pushes
// its own events in sequence under the same lock.
type Events struct {
	mu     sync.Mutex
	events []Event
}

// NewEvents creates an empty callback-event queue.
func NewEvents() *Events {
	return &Events{}
}

// Push appends an event. Never blocks; the queue grows as needed so a
// worker is never stalled behind a slow script.
func (q *Events) Push(ev Event) {
	q.mu.Lock()
	q.events = append(q.events, ev)
	q.mu.Unlock()
}

// Drain removes and returns all queued events in push order. Events
// published after Drain returns are left for the next cycle.
func (q *Events) Drain() []Event {
	q.mu.Lock()
	events := q.events
	q.events = nil
	q.mu.Unlock()
	return events
}

// Len returns the number of queued events.
func (q *Events) Len() int {
	q.mu.Lock()
	n := len(q.events)
	q.mu.Unlock()
	return n
}
