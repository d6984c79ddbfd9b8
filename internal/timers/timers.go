package timers

import (
	"container/heap"
	"errors"
	"sync"
	"time"

	"github.com/stratawm/strata/scripting/internal/callback"
)

// ID identifies a timer. IDs are issued monotonically and never
// reused; 0 is never valid.
type ID uint64

var (
	// ErrUnknown marks operations on a closed or never-created timer.
	ErrUnknown = errors.New("timers: unknown timer")
	// ErrNeverStarted marks Again on a timer that has no previous
	// delay to restart from.
	ErrNeverStarted = errors.New("timers: timer was never started")
)

// Due describes one elapsed timer popped by a host tick.
type Due struct {
	Timer    ID
	Callback callback.ID
}

// entry is one timer. Armed entries additionally sit in the heap.
type entry struct {
	id       ID
	deadline time.Time
	delay    time.Duration
	repeat   time.Duration // 0 = one-shot
	callback callback.ID
	seq      uint64 // arm sequence, breaks deadline ties
	index    int    // heap index, -1 when unarmed
	started  bool   // Start was called at least once
}

// Manager owns every timer. The heap orders armed timers by deadline
// (ties by arm order); the index map addresses timers by ID for
// stop/again/set_repeat. Timers live until Close regardless of what
// the script does with its handle.
//
// The script goroutine mutates timers and the host goroutine pops due
// ones, so every operation locks.
type Manager struct {
	mu    sync.Mutex
	armed timerHeap
	byID  map[ID]*entry
	next  ID
	seq   uint64
	epoch time.Time
}

// NewManager creates an empty timer manager.
func NewManager() *Manager {
	return &Manager{
		byID:  make(map[ID]*entry),
		epoch: time.Now(),
	}
}

// Create allocates an unarmed timer and returns its ID.
func (m *Manager) Create() ID {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.next++
	id := m.next
	m.byID[id] = &entry{id: id, index: -1}
	return id
}

// Start arms the timer to fire after delay, then every repeat if
// repeat is nonzero. Restarting an armed timer re-arms it with the
// new parameters. Returns the previously attached callback ID so the
// caller can release it.
func (m *Manager) Start(id ID, delay, repeat time.Duration, cb callback.ID) (callback.ID, error) {
	if delay < 0 {
		delay = 0
	}
	if repeat < 0 {
		repeat = 0
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.byID[id]
	if !ok {
		return callback.None, ErrUnknown
	}

	prev := e.callback
	if prev == cb {
		prev = callback.None
	}

	e.delay = delay
	e.repeat = repeat
	e.callback = cb
	e.started = true
	m.armLocked(e, time.Now().Add(delay))
	return prev, nil
}

// Stop disarms the timer without destroying it.
func (m *Manager) Stop(id ID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.byID[id]
	if !ok {
		return ErrUnknown
	}
	m.disarmLocked(e)
	return nil
}

// Again re-arms a stopped or running timer the way libuv does: using
// the repeat interval when one is set, otherwise the original delay.
func (m *Manager) Again(id ID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.byID[id]
	if !ok {
		return ErrUnknown
	}
	if !e.started {
		return ErrNeverStarted
	}

	delay := e.repeat
	if delay == 0 {
		delay = e.delay
	}
	m.armLocked(e, time.Now().Add(delay))
	return nil
}

// SetRepeat updates the repeat interval. Takes effect at the next
// re-arm; the current deadline is left alone.
func (m *Manager) SetRepeat(id ID, repeat time.Duration) error {
	if repeat < 0 {
		repeat = 0
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.byID[id]
	if !ok {
		return ErrUnknown
	}
	e.repeat = repeat
	return nil
}

// IsActive reports whether the timer is armed.
func (m *Manager) IsActive(id ID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.byID[id]
	if !ok {
		return false, ErrUnknown
	}
	return e.index >= 0, nil
}

// DueIn returns time remaining until the timer fires. Inactive timers
// report zero with active=false.
func (m *Manager) DueIn(id ID) (time.Duration, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.byID[id]
	if !ok {
		return 0, false, ErrUnknown
	}
	if e.index < 0 {
		return 0, false, nil
	}
	d := time.Until(e.deadline)
	if d < 0 {
		d = 0
	}
	return d, true, nil
}

// Close destroys the timer. Returns the attached callback ID so the
// caller can release it from the registry.
func (m *Manager) Close(id ID) (callback.ID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.byID[id]
	if !ok {
		return callback.None, ErrUnknown
	}
	m.disarmLocked(e)
	delete(m.byID, id)
	return e.callback, nil
}

// PopDue removes every timer whose deadline has elapsed and returns
// them in deadline order (arm order on ties). Repeating timers are
// re-armed relative to now, so a stalled host does not produce a
// burst of catch-up fires.
func (m *Manager) PopDue(now time.Time) []Due {
	m.mu.Lock()
	defer m.mu.Unlock()

	var due []Due
	for len(m.armed) > 0 && !m.armed[0].deadline.After(now) {
		e := heap.Pop(&m.armed).(*entry)
		e.index = -1
		due = append(due, Due{Timer: e.id, Callback: e.callback})

		if e.repeat > 0 {
			m.armLocked(e, now.Add(e.repeat))
		}
	}
	return due
}

// NextDeadline returns the earliest armed deadline, if any. The host
// loop uses it to bound its poll timeout.
func (m *Manager) NextDeadline() (time.Time, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.armed) == 0 {
		return time.Time{}, false
	}
	return m.armed[0].deadline, true
}

// Active returns the number of armed timers.
func (m *Manager) Active() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.armed)
}

// Len returns the number of live timers, armed or not.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.byID)
}

// Now returns milliseconds of monotonic clock since the manager was
// created. Scripts use it to measure intervals, never wall time.
func (m *Manager) Now() int64 {
	return time.Since(m.epoch).Milliseconds()
}

func (m *Manager) armLocked(e *entry, deadline time.Time) {
	e.deadline = deadline
	if e.index >= 0 {
		heap.Fix(&m.armed, e.index)
		return
	}
	m.seq++
	e.seq = m.seq
	heap.Push(&m.armed, e)
}

func (m *Manager) disarmLocked(e *entry) {
	if e.index >= 0 {
		heap.Remove(&m.armed, e.index)
		e.index = -1
	}
}

// timerHeap is a min-heap of armed timers by deadline.
type timerHeap []*entry

func (h timerHeap) Len() int { return len(h) }

func (h timerHeap) Less(i, j int) bool {
	if h[i].deadline.Equal(h[j].deadline) {
		return h[i].seq < h[j].seq
	}
	return h[i].deadline.Before(h[j].deadline)
}

func (h timerHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *timerHeap) Push(x any) {
	e := x.(*entry)
	e.index = len(*h)
	*h = append(*h, e)
}

func (h *timerHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.index = -1
	*h = old[:n-1]
	return e
}
