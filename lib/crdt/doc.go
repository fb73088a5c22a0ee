// Package crdt implements the replicated document at the heart of the
// synchronization engine: a conflict-free ordered sequence of opaque
// elements that converges to the same state on every replica, no matter
// in which order, how often, or how late update operations arrive.
//
// The package focuses on:
//   - Origin-tagged operations (actor id + per-actor counter) that are
//     commutative and idempotent once their dependencies are present
//   - Deterministic insertion ordering for concurrent edits (RGA-style
//     integration with a total order tie-break on origin tags)
//   - Tombstoned deletion so positional references stay valid for
//     operations still in flight
//   - State summaries (per-actor high-water marks) used to compute the
//     minimal catch-up diff for a reconnecting peer
//   - Full-state snapshots for peers with no prior state
//
// Key Components:
//
//   - ID: globally unique origin tag for elements and operations.
//
//   - Operation: a single self-describing edit (insert after X, delete Y).
//     Operations with unmet dependencies are parked and retried, never
//     rejected.
//
//   - VersionVector: the state summary exchanged during the sync
//     handshake.
//
//   - Document: one project's replicated state. Apply, LocalInsert and
//     LocalDelete mutate it; Summary, OpsSince and Snapshot feed the
//     handshake protocol.
//
// Document is not safe for concurrent use. Callers are expected to funnel
// all access through a single owner (see hub/room).
package crdt
