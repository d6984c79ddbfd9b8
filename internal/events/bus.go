package events

import (
	"sort"
	"sync"
	"sync/atomic"

	"github.com/bmatcuk/doublestar/v4"
	"go.uber.org/zap"

	"github.com/stratawm/strata/scripting/internal/callback"
	"github.com/stratawm/strata/scripting/internal/logging"
)

// HandlerID identifies one subscription. IDs are process-unique and
// monotonically increasing across all event names.
type HandlerID uint64

// Registration ties a handler ID to its event name and callback.
type Registration struct {
	ID       HandlerID
	Event    string
	Callback callback.ID
	Once     bool
}

// Invoker runs one handler for an emission. It is called without any
// bus lock held; the bus only decides which handlers run and in what
// order. A non-nil return is logged and the emission continues with
// the next handler.
type Invoker func(reg Registration, payload any) error

// Observer sees every emission after its handlers ran. The debug
// surfaces (event tap, history ring) attach here.
type Observer func(name string, payload any, handlers int)

// Bus is the event subscription registry. Handlers for a name fire in
// registration order; once-handlers are removed after their first
// invocation attempt, error or not. The bus never holds its lock
// while a handler runs.
type Bus struct {
	logger *logging.Logger

	mu       sync.Mutex
	handlers map[string][]*Registration
	next     atomic.Uint64

	observer atomic.Value // Observer
}

// NewBus creates an empty bus.
func NewBus(logger *logging.Logger) *Bus {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Bus{
		logger:   logger.Named("events"),
		handlers: make(map[string][]*Registration),
	}
}

// On subscribes a callback to an event name and returns its handler
// ID. Multi-name subscription is the caller registering once per
// name; each registration is independent.
func (b *Bus) On(event string, cb callback.ID, once bool) HandlerID {
	id := HandlerID(b.next.Add(1))
	reg := &Registration{ID: id, Event: event, Callback: cb, Once: once}

	b.mu.Lock()
	b.handlers[event] = append(b.handlers[event], reg)
	b.mu.Unlock()
	return id
}

// Off removes one subscription. Returns the callback ID to release
// and whether the subscription existed; a second Off with the same ID
// reports false without error.
func (b *Bus) Off(event string, id HandlerID) (callback.ID, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	regs := b.handlers[event]
	for i, reg := range regs {
		if reg.ID == id {
			b.removeLocked(event, i)
			return reg.Callback, true
		}
	}
	return callback.None, false
}

// OffAll removes every subscription for an event name and returns
// their callback IDs.
func (b *Bus) OffAll(event string) []callback.ID {
	b.mu.Lock()
	defer b.mu.Unlock()

	regs := b.handlers[event]
	if len(regs) == 0 {
		return nil
	}
	cbs := make([]callback.ID, 0, len(regs))
	for _, reg := range regs {
		cbs = append(cbs, reg.Callback)
	}
	delete(b.handlers, event)
	return cbs
}

// OffMap removes exactly the given event→ID pairs, such as the map
// returned by a multi-name subscription. Unknown pairs are skipped.
func (b *Bus) OffMap(ids map[string]HandlerID) []callback.ID {
	var cbs []callback.ID
	for event, id := range ids {
		if cb, ok := b.Off(event, id); ok {
			cbs = append(cbs, cb)
		}
	}
	return cbs
}

// Emit invokes every handler registered for the event, in
// registration order, via invoke. Handlers subscribed during the
// emission do not run until the next one; handlers unsubscribed
// mid-emission are skipped. Returns the number of handlers invoked.
func (b *Bus) Emit(event string, payload any, invoke Invoker) int {
	b.mu.Lock()
	regs := make([]*Registration, len(b.handlers[event]))
	copy(regs, b.handlers[event])
	b.mu.Unlock()

	invoked := 0
	for _, reg := range regs {
		if !b.alive(event, reg.ID) {
			continue
		}
		if err := invoke(*reg, payload); err != nil {
			b.logger.Warn("handler failed",
				zap.String("event", event),
				zap.Uint64("handler", uint64(reg.ID)),
				zap.Error(err))
		}
		invoked++

		if reg.Once {
			b.Off(event, reg.ID)
		}
	}

	if obs, ok := b.observer.Load().(Observer); ok && obs != nil {
		obs(event, payload, invoked)
	}
	return invoked
}

// List returns the sorted event names with at least one subscription,
// filtered by a glob pattern ("" or "*" for all).
func (b *Bus) List(pattern string) []string {
	b.mu.Lock()
	defer b.mu.Unlock()

	var names []string
	for name, regs := range b.handlers {
		if len(regs) == 0 {
			continue
		}
		if matchName(pattern, name) {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// Clear removes every subscription whose event name matches the glob
// pattern and returns the released callback IDs. A literal name
// clears exactly that event.
func (b *Bus) Clear(pattern string) []callback.ID {
	b.mu.Lock()
	defer b.mu.Unlock()

	var cbs []callback.ID
	for name, regs := range b.handlers {
		if !matchName(pattern, name) {
			continue
		}
		for _, reg := range regs {
			cbs = append(cbs, reg.Callback)
		}
		delete(b.handlers, name)
	}
	return cbs
}

// Len returns the total number of live subscriptions.
func (b *Bus) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	n := 0
	for _, regs := range b.handlers {
		n += len(regs)
	}
	return n
}

// SetObserver attaches the emission observer. Pass nil to detach.
func (b *Bus) SetObserver(obs Observer) {
	b.observer.Store(obs)
}

func (b *Bus) alive(event string, id HandlerID) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, reg := range b.handlers[event] {
		if reg.ID == id {
			return true
		}
	}
	return false
}

func (b *Bus) removeLocked(event string, i int) {
	regs := b.handlers[event]
	b.handlers[event] = append(regs[:i], regs[i+1:]...)
	if len(b.handlers[event]) == 0 {
		delete(b.handlers, event)
	}
}

// matchName treats pattern as a doublestar glob over the event name.
// Empty patterns match everything; an invalid pattern matches only
// itself literally.
func matchName(pattern, name string) bool {
	if pattern == "" || pattern == "*" || pattern == "**" {
		return true
	}
	ok, err := doublestar.Match(pattern, name)
	if err != nil {
		return pattern == name
	}
	return ok
}
