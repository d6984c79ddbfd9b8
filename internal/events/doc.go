// Package events maintains the event subscription registry: ordered
// handler lists per event name, once-handlers, and glob queries over
// the subscribed names.
//
// The bus is engine-agnostic. It stores callback IDs, never Lua
// values, and delegates invocation to the caller so the executor
// stays the only goroutine touching the interpreter. Locks are never
// held across a handler invocation.
package events
