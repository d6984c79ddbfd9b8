// Package world defines the script-visible model of compositor state.
//
// Scripts never touch live compositor structures. Everything they see
// is a Snapshot: an owned, immutable copy taken under a brief host
// lock. Snapshots are safe to read from any goroutine because nothing
// mutates them after construction.
//
// Host events carry typed payloads (WindowPayload, WorkspacePayload,
// ...) tagged by Category; they are converted to Lua tables only at
// the engine boundary.
package world
