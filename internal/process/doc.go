// Package process spawns and supervises child processes on behalf of
// scripts. Each child gets worker goroutines that own all of its
// blocking I/O and translate everything the child does into callback
// events on the shared queue; script functions only ever run when the
// host drains that queue on its own goroutine.
//
// Children are never tied to handle lifetime. Dropping a handle
// leaves the process running; Kill, Stop and Shutdown are the only
// ways script code affects a child.
package process
