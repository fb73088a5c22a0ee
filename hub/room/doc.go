// Package room implements the process-wide room registry and the per-room
// synchronization actor.
//
// A room groups one project's replicated document, its presence tracker
// and the set of currently attached sessions. Every room is a single-owner
// actor: one goroutine owns all of that state and all access goes through
// its mailbox, so document mutations are serialized per room without any
// global lock, and rooms scale independently of each other.
//
// The registry creates rooms lazily on first join (restoring a persisted
// snapshot when a durable store is configured) and evicts them after a
// configurable grace period once the last session detaches, flushing the
// document snapshot to the durable store. The grace period absorbs rapid
// reconnects without churning rooms.
//
// Broadcasting is at-least-once to currently attached sessions only.
// Sessions that join later are brought up to date by the sync handshake,
// never by replaying missed broadcasts. A session whose outbound queue is
// full is dropped (it reconnects and resyncs) rather than letting one slow
// consumer stall or bloat the whole room.
package room
