package queue

import "sync"

// Deferred is the bounded queue for scheduled script work: timer
// fires and deferred tasks, as opposed to process I/O which is never
// dropped. Capacity bounds memory, the per-tick budget bounds latency
// added to a host refresh cycle. On overflow the oldest entry is
// dropped first.
type Deferred struct {
	mu      sync.Mutex
	tasks   []func()
	head    int
	size    int
	perTick int
	dropped uint64

	// onDrop is invoked outside the lock once per dropped task.
	onDrop func()
}

// NewDeferred creates a deferred queue with the given capacity and
// per-tick budget. Both must be positive.
func NewDeferred(capacity, perTick int) *Deferred {
	if capacity <= 0 {
		capacity = 1
	}
	if perTick <= 0 {
		perTick = 1
	}
	return &Deferred{
		tasks:   make([]func(), capacity),
		perTick: perTick,
	}
}

// OnDrop registers a hook called once per dropped task. Set before
// the queue is shared.
func (d *Deferred) OnDrop(fn func()) {
	d.onDrop = fn
}

// Push enqueues a task. Returns false when the queue was full and the
// oldest task was discarded to make room.
func (d *Deferred) Push(task func()) bool {
	if task == nil {
		return true
	}

	d.mu.Lock()
	displaced := false
	if d.size == len(d.tasks) {
		// Full: overwrite the oldest slot.
		d.tasks[d.head] = nil
		d.head = (d.head + 1) % len(d.tasks)
		d.size--
		d.dropped++
		displaced = true
	}
	tail := (d.head + d.size) % len(d.tasks)
	d.tasks[tail] = task
	d.size++
	hook := d.onDrop
	d.mu.Unlock()

	if displaced && hook != nil {
		hook()
	}
	return !displaced
}

// RunBatch pops and runs up to the per-tick budget of tasks, oldest
// first, and returns how many ran. Tasks run outside the lock so they
// may push more work; newly pushed tasks wait for the next batch.
func (d *Deferred) RunBatch() int {
	d.mu.Lock()
	n := d.size
	if n > d.perTick {
		n = d.perTick
	}
	batch := make([]func(), 0, n)
	for i := 0; i < n; i++ {
		batch = append(batch, d.tasks[d.head])
		d.tasks[d.head] = nil
		d.head = (d.head + 1) % len(d.tasks)
		d.size--
	}
	d.mu.Unlock()

	for _, task := range batch {
		task()
	}
	return len(batch)
}

// Len returns the number of queued tasks.
func (d *Deferred) Len() int {
	d.mu.Lock()
	n := d.size
	d.mu.Unlock()
	return n
}

// Dropped returns the total number of tasks discarded on overflow.
func (d *Deferred) Dropped() uint64 {
	d.mu.Lock()
	n := d.dropped
	d.mu.Unlock()
	return n
}
