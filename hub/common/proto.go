package common

import (
	"encoding/json"
	"fmt"

	"github.com/harmonyhub/harmony/lib/crdt"
)

// --------------------------------------------------------------------------
// Message Structure
// --------------------------------------------------------------------------

// Message represents a single wire message. Which fields are used depends
// on the type of message.
type Message struct {
	// Type of message
	MsgType MessageType `json:"msg_type"`

	// Handshake fields
	Summary  crdt.VersionVector `json:"summary,omitempty"`  // Used for: SyncRequest, SyncResponse
	Snapshot *crdt.Snapshot     `json:"snapshot,omitempty"` // Used for: SyncSnapshot
	ClientID string             `json:"client_id,omitempty"`

	// Update fields
	Ops []crdt.Operation `json:"ops,omitempty"` // Used for: SyncResponse (catch-up diff), Update (single op)

	// Presence fields
	Payload []byte `json:"payload,omitempty"` // Opaque presence payload, owned by ClientID

	// Error field
	Err string `json:"err,omitempty"` // Empty if no error, otherwise the error message
}

// --------------------------------------------------------------------------
// Message Factory Functions
// --------------------------------------------------------------------------

// NewSyncRequest creates the first message a session sends after
// connecting: its identity and its state summary (empty for a new client).
func NewSyncRequest(clientID string, summary crdt.VersionVector) *Message {
	return &Message{
		MsgType:  MsgTSyncRequest,
		ClientID: clientID,
		Summary:  summary,
	}
}

// NewSyncResponse creates the diff variant of the handshake response: the
// responder's own summary plus the operations the peer is missing.
func NewSyncResponse(summary crdt.VersionVector, ops []crdt.Operation) *Message {
	return &Message{
		MsgType: MsgTSyncResponse,
		Summary: summary,
		Ops:     ops,
	}
}

// NewSyncSnapshot creates the snapshot variant of the handshake response,
// sent when the peer has no prior state.
func NewSyncSnapshot(snapshot *crdt.Snapshot) *Message {
	return &Message{
		MsgType:  MsgTSyncSnapshot,
		Snapshot: snapshot,
	}
}

// NewUpdate wraps a single edit operation.
func NewUpdate(op crdt.Operation) *Message {
	return &Message{
		MsgType: MsgTUpdate,
		Ops:     []crdt.Operation{op},
	}
}

// NewPresenceUpdate wraps a client's presence payload. An empty payload
// signals that the client went offline and its record should be dropped.
func NewPresenceUpdate(clientID string, payload []byte) *Message {
	return &Message{
		MsgType:  MsgTPresence,
		ClientID: clientID,
		Payload:  payload,
	}
}

// NewErrorMessage creates an error notification. It is the last message a
// session sends before terminating the connection.
func NewErrorMessage(err error) *Message {
	return &Message{
		MsgType: MsgTError,
		Err:     err.Error(),
	}
}

// --------------------------------------------------------------------------
// Message Type Definition
// --------------------------------------------------------------------------

// MessageType defines the type of a wire message.
type MessageType uint8

// String returns the string representation of a MessageType.
func (t MessageType) String() string {
	switch t {
	case MsgTSyncRequest:
		return "syncRequest"
	case MsgTSyncResponse:
		return "syncResponse"
	case MsgTSyncSnapshot:
		return "syncSnapshot"
	case MsgTUpdate:
		return "update"
	case MsgTPresence:
		return "presence"
	case MsgTError:
		return "error"
	default:
		return "unknown"
	}
}

// MarshalJSON implements the json.Marshaller interface for MessageType.
// This allows MessageType to be serialized as a string in JSON.
func (t MessageType) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

// UnmarshalJSON implements the json.Unmarshaler interface for MessageType.
func (t *MessageType) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}

	switch s {
	case "syncRequest":
		*t = MsgTSyncRequest
	case "syncResponse":
		*t = MsgTSyncResponse
	case "syncSnapshot":
		*t = MsgTSyncSnapshot
	case "update":
		*t = MsgTUpdate
	case "presence":
		*t = MsgTPresence
	case "error":
		*t = MsgTError
	default:
		return fmt.Errorf("unknown message type: %s", s)
	}

	return nil
}

// --------------------------------------------------------------------------
// Message Type Constants
// --------------------------------------------------------------------------

const (
	MsgTUnknown MessageType = iota

	// Handshake messages

	MsgTSyncRequest  // Session announces itself with its state summary
	MsgTSyncResponse // Summary plus the operations the peer is missing
	MsgTSyncSnapshot // Full state for a peer with no prior state

	// Live messages

	MsgTUpdate   // A single document edit operation
	MsgTPresence // A client presence record (opaque payload)

	// Control messages

	MsgTError // Terminal error notification
)
