package callback

import (
	"sync"
	"sync/atomic"

	lua "github.com/yuin/gopher-lua"
)

// ID identifies a registered script function. IDs are issued
// monotonically and never reused; 0 is never a valid ID.
type ID uint64

// None is the zero ID, used where no callback was supplied.
const None ID = 0

// Registry maps IDs to script functions so worker goroutines can
// reference callbacks without touching the Lua state. Workers carry
// IDs only; resolving an ID back to a function happens exclusively on
// the executor goroutine that owns the state.
type Registry struct {
	mu    sync.RWMutex
	funcs map[ID]*lua.LFunction
	next  atomic.Uint64
}

// NewRegistry creates an empty callback registry.
func NewRegistry() *Registry {
	return &Registry{funcs: make(map[ID]*lua.LFunction)}
}

// Register stores a function and returns its ID. The registry holds a
// strong reference, so the function stays alive until Unregister even
// if the script drops every other reference to it.
func (r *Registry) Register(fn *lua.LFunction) ID {
	if fn == nil {
		return None
	}
	id := ID(r.next.Add(1))
	r.mu.Lock()
	r.funcs[id] = fn
	r.mu.Unlock()
	return id
}

// Resolve returns the function for an ID.
func (r *Registry) Resolve(id ID) (*lua.LFunction, bool) {
	r.mu.RLock()
	fn, ok := r.funcs[id]
	r.mu.RUnlock()
	return fn, ok
}

// Unregister removes an ID. Unknown IDs are a no-op, so double
// unregistration and already-fired one-shot callbacks are safe.
func (r *Registry) Unregister(id ID) bool {
	r.mu.Lock()
	_, ok := r.funcs[id]
	delete(r.funcs, id)
	r.mu.Unlock()
	return ok
}

// Take resolves and removes an ID in one step. One-shot callbacks
// (process exit, fetch completion) use this so the registry cannot
// accumulate dead entries.
func (r *Registry) Take(id ID) (*lua.LFunction, bool) {
	r.mu.Lock()
	fn, ok := r.funcs[id]
	delete(r.funcs, id)
	r.mu.Unlock()
	return fn, ok
}

// Len returns the number of live registrations.
func (r *Registry) Len() int {
	r.mu.RLock()
	n := len(r.funcs)
	r.mu.RUnlock()
	return n
}

// Clear removes every registration. Called on runtime shutdown.
func (r *Registry) Clear() {
	r.mu.Lock()
	r.funcs = make(map[ID]*lua.LFunction)
	r.mu.Unlock()
}
