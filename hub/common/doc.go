// Package common provides the data structures shared across the realtime
// hub: the wire message protocol, the error taxonomy, and the server and
// client configuration structures.
//
// The package focuses on:
//   - Message protocol definition for the sync handshake and the live
//     update/presence streams
//   - A small error type with machine-checkable codes (malformed message,
//     unknown room, slow consumer)
//   - Configuration structures with pretty-printed summaries for startup
//     logging
//
// Key Components:
//
//   - Message: the single envelope for everything exchanged over a
//     connection. Which fields are used depends on the message type.
//     Factory functions cover every request/response pair.
//
//   - MessageType: enumeration of all wire message kinds: sync request,
//     sync response (diff or snapshot), update, presence and error.
//
//   - Error / RetCode: the per-connection error taxonomy. Note the absence
//     of any merge-conflict code: the CRDT design resolves all well-formed
//     concurrent operations deterministically, so conflicts are never
//     surfaced as failures.
//
//   - ServerConfig / ClientConfig: configuration for the hub server and
//     the Go client.
package common
