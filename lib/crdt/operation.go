package crdt

import (
	"fmt"
	"sort"
)

// --------------------------------------------------------------------------
// Origin Tags
// --------------------------------------------------------------------------

// ID is the origin tag of an element or operation: the identity of the
// actor (client) that created it plus that actor's local counter. The pair
// is globally unique and totally ordered, which is what makes concurrent
// insertions resolve identically on every replica.
type ID struct {
	Actor string `json:"actor"`
	Seq   uint64 `json:"seq"`
}

// IsZero reports whether the ID is the zero tag. The zero tag is used as
// the left origin of elements inserted at the head of the document.
func (id ID) IsZero() bool {
	return id.Actor == "" && id.Seq == 0
}

// Less defines the total order used to tie-break concurrent insertions
// anchored at the same predecessor. Counters compare first so that the
// order roughly follows causal time, with the actor id breaking exact ties.
func (id ID) Less(other ID) bool {
	if id.Seq != other.Seq {
		return id.Seq < other.Seq
	}
	return id.Actor < other.Actor
}

func (id ID) String() string {
	return fmt.Sprintf("%s:%d", id.Actor, id.Seq)
}

// --------------------------------------------------------------------------
// Operations
// --------------------------------------------------------------------------

// OpKind defines the type of an update operation.
type OpKind uint8

const (
	OpUnknown OpKind = iota
	OpInsert         // insert a new element after a stated predecessor
	OpDelete         // tombstone the element with a stated origin tag
)

// String returns the string representation of an OpKind.
func (k OpKind) String() string {
	switch k {
	case OpInsert:
		return "insert"
	case OpDelete:
		return "delete"
	default:
		return "unknown"
	}
}

// Operation is a single atomic, self-describing edit. Every operation
// carries its own origin tag (ID); which of the remaining fields are used
// depends on the kind.
type Operation struct {
	Kind OpKind `json:"kind"`
	ID   ID     `json:"id"`

	// Insert fields: Left is the origin tag of the element the new element
	// is positioned after (zero tag = head of document), Value the opaque
	// element payload.
	Left  ID     `json:"left,omitempty"`
	Value []byte `json:"value,omitempty"`

	// Delete field: the origin tag of the element to tombstone.
	Target ID `json:"target,omitempty"`
}

// Validate checks that the operation is well-formed. It does NOT check
// whether dependencies (left origin, delete target) are known; missing
// dependencies are a normal consequence of out-of-order delivery and are
// handled by Document.Apply.
func (op Operation) Validate() error {
	if op.ID.IsZero() {
		return fmt.Errorf("operation has zero origin tag")
	}
	switch op.Kind {
	case OpInsert:
		return nil
	case OpDelete:
		if op.Target.IsZero() {
			return fmt.Errorf("delete operation %s has zero target", op.ID)
		}
		return nil
	default:
		return fmt.Errorf("operation %s has unknown kind %d", op.ID, op.Kind)
	}
}

// --------------------------------------------------------------------------
// Version Vectors (state summaries)
// --------------------------------------------------------------------------

// VersionVector is the state summary exchanged during the sync handshake:
// for every actor, the highest operation counter the replica has seen.
// Actors the replica has never heard of are simply absent.
type VersionVector map[string]uint64

// NewVersionVector returns an empty summary, i.e. the summary of a replica
// with no prior state.
func NewVersionVector() VersionVector {
	return VersionVector{}
}

// Covers reports whether the vector accounts for the given origin tag.
func (vv VersionVector) Covers(id ID) bool {
	return vv[id.Actor] >= id.Seq
}

// Observe raises the actor's high-water mark to include the given tag.
func (vv VersionVector) Observe(id ID) {
	if vv[id.Actor] < id.Seq {
		vv[id.Actor] = id.Seq
	}
}

// Clone returns an independent copy of the vector.
func (vv VersionVector) Clone() VersionVector {
	out := make(VersionVector, len(vv))
	for actor, seq := range vv {
		out[actor] = seq
	}
	return out
}

// Meet returns the pointwise minimum of both vectors. An actor missing
// from either side is treated as zero and therefore absent from the
// result. The meet of the summaries of all connected peers is the safe
// lower bound for tombstone compaction.
func (vv VersionVector) Meet(other VersionVector) VersionVector {
	out := NewVersionVector()
	for actor, seq := range vv {
		if o, ok := other[actor]; ok {
			if o < seq {
				seq = o
			}
			out[actor] = seq
		}
	}
	return out
}

// Actors returns the actor ids in the vector in sorted order. Used
// wherever deterministic iteration matters (encoding, diff generation).
func (vv VersionVector) Actors() []string {
	actors := make([]string, 0, len(vv))
	for actor := range vv {
		actors = append(actors, actor)
	}
	sort.Strings(actors)
	return actors
}
