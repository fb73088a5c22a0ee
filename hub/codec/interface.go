// Package codec encodes and decodes wire messages: update operations,
// state summaries and full-state snapshots. Two implementations are
// provided, a compact custom binary format (the default) and a JSON format
// useful for debugging and browser clients.
//
// Decoding is strict: truncated input, unknown tag bytes or trailing
// garbage produce a MalformedMessage error and never a partially decoded
// message. Callers must treat that error as fatal to the connection; a
// misbehaving peer must never be able to corrupt shared state.
package codec

import (
	"github.com/harmonyhub/harmony/hub/common"
)

// ICodec is the interface for all wire message codecs.
type ICodec interface {
	// Encode serializes a Message into a byte array.
	// It returns the serialized byte array and an error if any.
	Encode(msg *common.Message) ([]byte, error)
	// Decode deserializes a byte array into a Message.
	// On failure it returns a common.Error with code RetCMalformedMessage
	// and leaves no partial state usable; the caller must close the
	// offending connection.
	Decode(b []byte, msg *common.Message) error
}

// New returns the codec registered under the given name ("binary" or
// "json"), or false if the name is unknown.
func New(name string) (ICodec, bool) {
	switch name {
	case "binary":
		return NewBinaryCodec(), true
	case "json":
		return NewJSONCodec(), true
	default:
		return nil, false
	}
}
