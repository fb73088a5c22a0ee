package crdt

import (
	"fmt"
	"sort"
)

// --------------------------------------------------------------------------
// Element Type
// --------------------------------------------------------------------------

// Element is one entry of the replicated sequence. A deleted element stays
// in the sequence as a tombstone so that concurrent operations anchored on
// it still resolve; DeletedBy records the origin tag of the delete
// operation, which compaction checks against the peer acknowledgement
// threshold.
type Element struct {
	ID        ID     `json:"id"`
	Left      ID     `json:"left"`
	Value     []byte `json:"value,omitempty"`
	Deleted   bool   `json:"deleted,omitempty"`
	DeletedBy ID     `json:"deleted_by,omitempty"`
}

// --------------------------------------------------------------------------
// Snapshot Type
// --------------------------------------------------------------------------

// Snapshot is the full-state representation sent to peers with no prior
// state, instead of replaying the entire operation history. It carries the
// current sequence (including any tombstones that could still be
// referenced by in-flight operations), the version vector, and any
// operations still waiting for their dependencies.
type Snapshot struct {
	Elements []Element     `json:"elements"`
	Vector   VersionVector `json:"vector"`
	Pending  []Operation   `json:"pending,omitempty"`
}

// Ops converts the snapshot back into a stream of equivalent operations.
// This lets a replica that already has state merge a snapshot through the
// normal Apply path, where idempotence makes re-delivery harmless.
func (s *Snapshot) Ops() []Operation {
	ops := make([]Operation, 0, len(s.Elements)+len(s.Pending))
	for _, e := range s.Elements {
		ops = append(ops, Operation{Kind: OpInsert, ID: e.ID, Left: e.Left, Value: e.Value})
		if e.Deleted {
			ops = append(ops, Operation{Kind: OpDelete, ID: e.DeletedBy, Target: e.ID})
		}
	}
	ops = append(ops, s.Pending...)
	return ops
}

// --------------------------------------------------------------------------
// Document
// --------------------------------------------------------------------------

// Document holds one project's replicated state. All mutation goes through
// Apply (remote operations) or LocalInsert/LocalDelete (local edits); both
// paths keep the per-actor operation log that serves catch-up diffs.
type Document struct {
	elems   []Element
	index   map[ID]int    // element origin tag -> position in elems
	seen    map[ID]bool   // origin tags of all applied operations
	vv      VersionVector // summary of everything seen
	log     map[string][]Operation
	logBase VersionVector // summary at restore time; ops below it are not in the log
	pending []Operation   // operations waiting for a dependency
}

// NewDocument creates an empty replicated document.
func NewDocument() *Document {
	return &Document{
		index:   make(map[ID]int),
		seen:    make(map[ID]bool),
		vv:      NewVersionVector(),
		log:     make(map[string][]Operation),
		logBase: NewVersionVector(),
	}
}

// RestoreSnapshot creates a document from a previously taken snapshot.
// The restored replica can serve snapshots and live diffs, but cannot
// produce diffs for operations older than the snapshot (see OpsSince).
func RestoreSnapshot(snap *Snapshot) (*Document, error) {
	d := NewDocument()
	for _, op := range snap.Ops() {
		if err := d.Apply(op); err != nil {
			return nil, fmt.Errorf("restoring snapshot: %w", err)
		}
	}
	// Everything folded into the snapshot sequence is no longer in the
	// operation log. Pending ops were re-applied above and remain servable.
	d.logBase = snap.Vector.Clone()
	d.vv = snap.Vector.Clone()
	for actor := range d.log {
		base := d.logBase[actor]
		kept := d.log[actor][:0]
		for _, op := range d.log[actor] {
			if op.ID.Seq > base {
				kept = append(kept, op)
			}
		}
		d.log[actor] = kept
	}
	return d, nil
}

// Len returns the number of live (non-tombstoned) elements.
func (d *Document) Len() int {
	n := 0
	for _, e := range d.elems {
		if !e.Deleted {
			n++
		}
	}
	return n
}

// Elements returns the live elements in document order.
func (d *Document) Elements() []Element {
	out := make([]Element, 0, len(d.elems))
	for _, e := range d.elems {
		if !e.Deleted {
			out = append(out, e)
		}
	}
	return out
}

// Bytes returns the concatenated payloads of all live elements. For text
// documents this is the document content.
func (d *Document) Bytes() []byte {
	var out []byte
	for _, e := range d.elems {
		if !e.Deleted {
			out = append(out, e.Value...)
		}
	}
	return out
}

// --------------------------------------------------------------------------
// Local Edits
// --------------------------------------------------------------------------

// NextID allocates the next origin tag for the given actor. Counters are
// Lamport-style: the new tag dominates every operation this replica has
// seen, so a local insert tie-breaks ahead of all siblings known at the
// time of the edit and lands where the user put it.
func (d *Document) NextID(actor string) ID {
	var max uint64
	for _, seq := range d.vv {
		if seq > max {
			max = seq
		}
	}
	return ID{Actor: actor, Seq: max + 1}
}

// LocalInsert creates, applies and returns an insert operation positioning
// a new element after left (zero ID = head of document). The returned
// operation must be broadcast by the caller.
func (d *Document) LocalInsert(actor string, left ID, value []byte) (Operation, error) {
	if !left.IsZero() {
		if _, ok := d.index[left]; !ok {
			return Operation{}, fmt.Errorf("local insert after unknown element %s", left)
		}
	}
	op := Operation{Kind: OpInsert, ID: d.NextID(actor), Left: left, Value: value}
	if err := d.Apply(op); err != nil {
		return Operation{}, err
	}
	return op, nil
}

// LocalDelete creates, applies and returns a delete operation tombstoning
// the element with the given origin tag.
func (d *Document) LocalDelete(actor string, target ID) (Operation, error) {
	if _, ok := d.index[target]; !ok {
		return Operation{}, fmt.Errorf("local delete of unknown element %s", target)
	}
	op := Operation{Kind: OpDelete, ID: d.NextID(actor), Target: target}
	if err := d.Apply(op); err != nil {
		return Operation{}, err
	}
	return op, nil
}

// --------------------------------------------------------------------------
// Applying Operations
// --------------------------------------------------------------------------

// Apply folds one operation into the document. It returns an error only
// for malformed operations; well-formed operations never fail. Duplicates
// are no-ops, and operations whose dependency (left origin or delete
// target) has not arrived yet are parked and retried once it does.
func (d *Document) Apply(op Operation) error {
	if err := op.Validate(); err != nil {
		return err
	}
	if d.seen[op.ID] {
		return nil
	}
	if op.ID.Seq <= d.logBase[op.ID.Actor] {
		// The operation was folded into the snapshot this replica was
		// restored from (and possibly compacted). Its effect is already
		// part of the sequence.
		return nil
	}
	d.seen[op.ID] = true
	d.vv.Observe(op.ID)
	d.appendLog(op)

	if !d.integrate(op) {
		d.pending = append(d.pending, op)
		return nil
	}
	d.retryPending()
	return nil
}

// integrate attempts to fold the operation into the sequence. It returns
// false if a dependency is missing.
func (d *Document) integrate(op Operation) bool {
	switch op.Kind {
	case OpInsert:
		return d.integrateInsert(op)
	case OpDelete:
		return d.integrateDelete(op)
	}
	return true
}

// integrateInsert places the new element immediately after its stated
// predecessor, walking forward past the subtrees of concurrent siblings
// with greater origin tags. Two replicas that received the same two
// concurrent insertions in either order end up with the same sequence.
func (d *Document) integrateInsert(op Operation) bool {
	if _, dup := d.index[op.ID]; dup {
		return true
	}
	anchor := -1
	if !op.Left.IsZero() {
		pos, ok := d.index[op.Left]
		if !ok {
			return false
		}
		anchor = pos
	}

	i := anchor + 1
	for i < len(d.elems) {
		e := d.elems[i]
		left := -1
		if !e.Left.IsZero() {
			left = d.index[e.Left]
		}
		if left < anchor {
			// e hangs off something before our anchor: our subtree ends here.
			break
		}
		if left == anchor && e.ID.Less(op.ID) {
			// Concurrent sibling with a smaller tag sorts after us.
			break
		}
		i++
	}

	d.elems = append(d.elems, Element{})
	copy(d.elems[i+1:], d.elems[i:])
	d.elems[i] = Element{ID: op.ID, Left: op.Left, Value: op.Value}
	for j := i; j < len(d.elems); j++ {
		d.index[d.elems[j].ID] = j
	}
	return true
}

// integrateDelete tombstones the target element. Deleting an already
// tombstoned element is a no-op; the first delete wins the DeletedBy slot.
func (d *Document) integrateDelete(op Operation) bool {
	pos, ok := d.index[op.Target]
	if !ok {
		return false
	}
	e := &d.elems[pos]
	if !e.Deleted {
		e.Deleted = true
		e.DeletedBy = op.ID
		e.Value = nil
	}
	return true
}

// retryPending re-attempts parked operations until no further progress is
// made. One arriving element can unblock a whole chain.
func (d *Document) retryPending() {
	for {
		progress := false
		remaining := d.pending[:0]
		for _, op := range d.pending {
			if d.integrate(op) {
				progress = true
			} else {
				remaining = append(remaining, op)
			}
		}
		d.pending = remaining
		if !progress || len(d.pending) == 0 {
			return
		}
	}
}

// appendLog records the operation in the per-actor log, keeping each
// actor's slice ordered by counter.
func (d *Document) appendLog(op Operation) {
	ops := d.log[op.ID.Actor]
	i := sort.Search(len(ops), func(i int) bool { return ops[i].ID.Seq >= op.ID.Seq })
	ops = append(ops, Operation{})
	copy(ops[i+1:], ops[i:])
	ops[i] = op
	d.log[op.ID.Actor] = ops
}

// --------------------------------------------------------------------------
// Handshake Support
// --------------------------------------------------------------------------

// Summary returns the document's state summary.
func (d *Document) Summary() VersionVector {
	return d.vv.Clone()
}

// OpsSince computes the operations a peer with the given summary is
// missing. The second return value is false when the log no longer reaches
// far enough back (possible after a snapshot restore); the caller must
// fall back to sending a full snapshot.
func (d *Document) OpsSince(remote VersionVector) ([]Operation, bool) {
	var out []Operation
	for _, actor := range d.vv.Actors() {
		have := remote[actor]
		if have >= d.vv[actor] {
			continue
		}
		if have < d.logBase[actor] {
			return nil, false
		}
		ops := d.log[actor]
		i := sort.Search(len(ops), func(i int) bool { return ops[i].ID.Seq > have })
		out = append(out, ops[i:]...)
	}
	return out, true
}

// Snapshot captures the full current state, including tombstones that may
// still be referenced by operations in flight.
func (d *Document) Snapshot() *Snapshot {
	elems := make([]Element, len(d.elems))
	copy(elems, d.elems)
	pending := make([]Operation, len(d.pending))
	copy(pending, d.pending)
	return &Snapshot{Elements: elems, Vector: d.vv.Clone(), Pending: pending}
}

// --------------------------------------------------------------------------
// Tombstone Compaction
// --------------------------------------------------------------------------

// Compact physically removes tombstones whose delete operation is covered
// by the given threshold. The threshold must be the meet of the summaries
// of every peer that could still hold a reference (conservatively: all
// connected peers).
//
// A tombstone that still anchors a surviving element is kept even when its
// delete is covered: removing it would re-anchor the survivor and shift
// the tie-break order of concurrent same-anchor inserts on replicas that
// still hold the tombstone. Only subtree-free tombstones go, which keeps
// the visible sequence identical between compacted and uncompacted
// replicas for every operation anchored on a live element. Returns the
// number of elements removed.
func (d *Document) Compact(threshold VersionVector) int {
	// Anchors always precede their elements in the sequence, so a single
	// backward pass knows each tombstone's fate before it is reached.
	anchored := make(map[ID]struct{}, len(d.elems))
	drop := make(map[ID]struct{})
	for i := len(d.elems) - 1; i >= 0; i-- {
		e := d.elems[i]
		if e.Deleted && threshold.Covers(e.DeletedBy) {
			if _, needed := anchored[e.ID]; !needed {
				drop[e.ID] = struct{}{}
				continue
			}
		}
		anchored[e.Left] = struct{}{}
	}
	if len(drop) == 0 {
		return 0
	}
	kept := d.elems[:0]
	for _, e := range d.elems {
		if _, gone := drop[e.ID]; gone {
			continue
		}
		kept = append(kept, e)
	}
	d.elems = kept
	d.index = make(map[ID]int, len(d.elems))
	for i := range d.elems {
		d.index[d.elems[i].ID] = i
	}
	return len(drop)
}
