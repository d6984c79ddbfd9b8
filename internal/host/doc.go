// Package host defines the runtime's contract with the compositor
// loop: a Scheduler for idle-phase work, and a reference Loop used by
// scriptd and tests.
package host
