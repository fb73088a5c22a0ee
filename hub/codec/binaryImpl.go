package codec

import (
	"encoding/binary"

	"github.com/harmonyhub/harmony/hub/common"
	"github.com/harmonyhub/harmony/lib/crdt"
)

// NewBinaryCodec creates a new codec using a custom binary format
// optimized for speed and efficiency. This is the default wire codec.
func NewBinaryCodec() ICodec {
	return &binaryCodecImpl{}
}

// binaryCodecImpl implements ICodec using a custom binary format
type binaryCodecImpl struct{}

// Bit flags to indicate which optional fields are present
const (
	hasSummary  byte = 1 << 0
	hasSnapshot byte = 1 << 1
	hasClientID byte = 1 << 2
	hasOps      byte = 1 << 3
	hasPayload  byte = 1 << 4
	hasErr      byte = 1 << 5
)

// --------------------------------------------------------------------------
// Interface Methods (docu see codec.ICodec)
// --------------------------------------------------------------------------

func (c *binaryCodecImpl) Encode(msg *common.Message) ([]byte, error) {
	// Header: message type + flags byte (patched after the fields are known)
	buf := []byte{byte(msg.MsgType), 0}
	var flags byte

	if msg.Summary != nil {
		flags |= hasSummary
		buf = appendVector(buf, msg.Summary)
	}
	if msg.Snapshot != nil {
		flags |= hasSnapshot
		buf = appendSnapshot(buf, msg.Snapshot)
	}
	if msg.ClientID != "" {
		flags |= hasClientID
		buf = appendString(buf, msg.ClientID)
	}
	if msg.Ops != nil {
		flags |= hasOps
		buf = appendUint32(buf, uint32(len(msg.Ops)))
		for _, op := range msg.Ops {
			buf = appendOp(buf, op)
		}
	}
	if msg.Payload != nil {
		flags |= hasPayload
		buf = appendBytes(buf, msg.Payload)
	}
	if msg.Err != "" {
		flags |= hasErr
		buf = appendString(buf, msg.Err)
	}

	buf[1] = flags
	return buf, nil
}

func (c *binaryCodecImpl) Decode(data []byte, msg *common.Message) error {
	if len(data) < 2 {
		return common.NewError(common.RetCMalformedMessage, "data too short for message header")
	}

	*msg = common.Message{MsgType: common.MessageType(data[0])}
	if msg.MsgType == common.MsgTUnknown || msg.MsgType > common.MsgTError {
		return common.NewError(common.RetCMalformedMessage, "unknown message type tag %d", data[0])
	}

	flags := data[1]
	r := &binReader{data: data, pos: 2}

	if flags&hasSummary != 0 {
		msg.Summary = r.vector()
	}
	if flags&hasSnapshot != 0 {
		msg.Snapshot = r.snapshot()
	}
	if flags&hasClientID != 0 {
		msg.ClientID = r.string()
	}
	if flags&hasOps != 0 {
		n := r.uint32()
		if r.err == nil && uint64(n)*2 > uint64(len(data)) {
			// An operation occupies at least two bytes on the wire; a
			// larger count is a corrupt length field, not a huge message.
			return common.NewError(common.RetCMalformedMessage, "operation count %d exceeds message size", n)
		}
		msg.Ops = make([]crdt.Operation, 0, n)
		for i := uint32(0); i < n && r.err == nil; i++ {
			msg.Ops = append(msg.Ops, r.op())
		}
	}
	if flags&hasPayload != 0 {
		msg.Payload = r.bytes()
	}
	if flags&hasErr != 0 {
		msg.Err = r.string()
	}

	if r.err != nil {
		*msg = common.Message{}
		return r.err
	}
	if r.pos != len(data) {
		*msg = common.Message{}
		return common.NewError(common.RetCMalformedMessage, "%d trailing bytes after message", len(data)-r.pos)
	}
	return nil
}

// --------------------------------------------------------------------------
// Encoding Helpers
// --------------------------------------------------------------------------

func appendUint32(buf []byte, v uint32) []byte {
	return binary.BigEndian.AppendUint32(buf, v)
}

func appendUint64(buf []byte, v uint64) []byte {
	return binary.BigEndian.AppendUint64(buf, v)
}

func appendBytes(buf, b []byte) []byte {
	buf = appendUint32(buf, uint32(len(b)))
	return append(buf, b...)
}

func appendString(buf []byte, s string) []byte {
	buf = appendUint32(buf, uint32(len(s)))
	return append(buf, s...)
}

func appendID(buf []byte, id crdt.ID) []byte {
	buf = appendString(buf, id.Actor)
	return appendUint64(buf, id.Seq)
}

func appendVector(buf []byte, vv crdt.VersionVector) []byte {
	actors := vv.Actors() // sorted, so equal vectors encode identically
	buf = appendUint32(buf, uint32(len(actors)))
	for _, actor := range actors {
		buf = appendString(buf, actor)
		buf = appendUint64(buf, vv[actor])
	}
	return buf
}

func appendOp(buf []byte, op crdt.Operation) []byte {
	buf = append(buf, byte(op.Kind))
	buf = appendID(buf, op.ID)
	switch op.Kind {
	case crdt.OpInsert:
		buf = appendID(buf, op.Left)
		buf = appendBytes(buf, op.Value)
	case crdt.OpDelete:
		buf = appendID(buf, op.Target)
	}
	return buf
}

func appendSnapshot(buf []byte, snap *crdt.Snapshot) []byte {
	buf = appendVector(buf, snap.Vector)
	buf = appendUint32(buf, uint32(len(snap.Elements)))
	for _, e := range snap.Elements {
		buf = appendID(buf, e.ID)
		buf = appendID(buf, e.Left)
		if e.Deleted {
			buf = append(buf, 1)
			buf = appendID(buf, e.DeletedBy)
		} else {
			buf = append(buf, 0)
			buf = appendBytes(buf, e.Value)
		}
	}
	buf = appendUint32(buf, uint32(len(snap.Pending)))
	for _, op := range snap.Pending {
		buf = appendOp(buf, op)
	}
	return buf
}

// --------------------------------------------------------------------------
// Decoding Helpers
// --------------------------------------------------------------------------

// binReader is a cursor over the raw message. The first failed read sets
// err and turns every following read into a no-op, so call sites can stay
// free of error plumbing and check once at the end.
type binReader struct {
	data []byte
	pos  int
	err  error
}

func (r *binReader) fail(format string, args ...interface{}) {
	if r.err == nil {
		r.err = common.NewError(common.RetCMalformedMessage, format, args...)
	}
}

func (r *binReader) uint32() uint32 {
	if r.err != nil {
		return 0
	}
	if r.pos+4 > len(r.data) {
		r.fail("data too short for uint32 at offset %d", r.pos)
		return 0
	}
	v := binary.BigEndian.Uint32(r.data[r.pos : r.pos+4])
	r.pos += 4
	return v
}

func (r *binReader) uint64() uint64 {
	if r.err != nil {
		return 0
	}
	if r.pos+8 > len(r.data) {
		r.fail("data too short for uint64 at offset %d", r.pos)
		return 0
	}
	v := binary.BigEndian.Uint64(r.data[r.pos : r.pos+8])
	r.pos += 8
	return v
}

func (r *binReader) byte() byte {
	if r.err != nil {
		return 0
	}
	if r.pos+1 > len(r.data) {
		r.fail("data too short for byte at offset %d", r.pos)
		return 0
	}
	b := r.data[r.pos]
	r.pos++
	return b
}

func (r *binReader) bytes() []byte {
	n := r.uint32()
	if r.err != nil {
		return nil
	}
	if r.pos+int(n) > len(r.data) {
		r.fail("data too short for %d byte field at offset %d", n, r.pos)
		return nil
	}
	out := make([]byte, n)
	copy(out, r.data[r.pos:r.pos+int(n)])
	r.pos += int(n)
	return out
}

func (r *binReader) string() string {
	return string(r.bytes())
}

func (r *binReader) id() crdt.ID {
	actor := r.string()
	seq := r.uint64()
	return crdt.ID{Actor: actor, Seq: seq}
}

func (r *binReader) vector() crdt.VersionVector {
	n := r.uint32()
	if r.err != nil {
		return nil
	}
	vv := crdt.NewVersionVector()
	for i := uint32(0); i < n && r.err == nil; i++ {
		actor := r.string()
		vv[actor] = r.uint64()
	}
	return vv
}

func (r *binReader) op() crdt.Operation {
	op := crdt.Operation{Kind: crdt.OpKind(r.byte())}
	op.ID = r.id()
	switch op.Kind {
	case crdt.OpInsert:
		op.Left = r.id()
		op.Value = r.bytes()
	case crdt.OpDelete:
		op.Target = r.id()
	default:
		r.fail("unknown operation kind tag %d", op.Kind)
	}
	return op
}

func (r *binReader) snapshot() *crdt.Snapshot {
	snap := &crdt.Snapshot{Vector: r.vector()}
	n := r.uint32()
	for i := uint32(0); i < n && r.err == nil; i++ {
		e := crdt.Element{ID: r.id(), Left: r.id()}
		if r.byte() == 1 {
			e.Deleted = true
			e.DeletedBy = r.id()
		} else {
			e.Value = r.bytes()
		}
		snap.Elements = append(snap.Elements, e)
	}
	n = r.uint32()
	for i := uint32(0); i < n && r.err == nil; i++ {
		snap.Pending = append(snap.Pending, r.op())
	}
	if r.err != nil {
		return nil
	}
	return snap
}
