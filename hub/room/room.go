package room

import (
	"errors"
	"time"

	"github.com/VictoriaMetrics/metrics"
	"github.com/golang/glog"

	"github.com/harmonyhub/harmony/hub/codec"
	"github.com/harmonyhub/harmony/hub/common"
	"github.com/harmonyhub/harmony/lib/crdt"
	"github.com/harmonyhub/harmony/lib/presence"
)

// ErrRoomClosed is returned when a room has been evicted while the caller
// held a handle to it. Callers should re-resolve the room via the registry.
var ErrRoomClosed = errors.New("room closed")

var (
	metricOpsApplied      = metrics.NewCounter(`harmony_ops_applied_total`)
	metricBroadcasts      = metrics.NewCounter(`harmony_broadcasts_total`)
	metricSessionsDropped = metrics.NewCounter(`harmony_sessions_dropped_total`)
	metricPresenceUpdates = metrics.NewCounter(`harmony_presence_updates_total`)
)

// --------------------------------------------------------------------------
// Peer Interface
// --------------------------------------------------------------------------

// Peer is a room's view of an attached session. Enqueue must never block:
// it reports false when the session's bounded outbound queue is full, upon
// which the room drops the session.
type Peer interface {
	// ID returns the session id (unique per connection).
	ID() string
	// ClientID returns the actor identity behind the session.
	ClientID() string
	// Enqueue hands encoded bytes to the session's outbound queue without
	// blocking. A false return means the queue is full.
	Enqueue(msg []byte) bool
	// Kick asks the session to terminate its connection. Called outside
	// the normal detach path, e.g. on queue overflow.
	Kick(err error)
}

// member is the actor-side state for an attached peer. known tracks the
// operations the peer has provably seen (its handshake summary plus its
// own subsequent operations); the meet of all members' known vectors is
// the safe threshold for tombstone compaction.
type member struct {
	peer  Peer
	known crdt.VersionVector
}

// --------------------------------------------------------------------------
// Room Actor
// --------------------------------------------------------------------------

// Room is the synchronization unit for one project. All exported methods
// are safe for concurrent use; they post work into the actor mailbox.
type Room struct {
	id  string
	reg *Registry
	cdc codec.ICodec

	tasks chan func()
	// closed rejects further posts, done signals that eviction has fully
	// run (snapshot flushed). closed is always closed before done.
	closed chan struct{}
	done   chan struct{}

	// Owned by the actor goroutine, never touched outside it.
	doc        *crdt.Document
	pres       *presence.Tracker
	members    map[string]*member
	evictTimer *time.Timer
	evicted    bool
}

func newRoom(id string, doc *crdt.Document, reg *Registry) *Room {
	r := &Room{
		id:      id,
		reg:     reg,
		cdc:     reg.cdc,
		tasks:   make(chan func(), 64),
		closed:  make(chan struct{}),
		done:    make(chan struct{}),
		doc:     doc,
		pres:    presence.NewTracker(),
		members: make(map[string]*member),
	}
	go r.run()
	return r
}

// ID returns the project id the room is bound to.
func (r *Room) ID() string {
	return r.id
}

// run is the actor loop. It is the only goroutine that touches the
// document, the presence tracker and the member set.
func (r *Room) run() {
	sweep := time.NewTicker(r.reg.presenceTimeout / 2)
	defer sweep.Stop()
	for {
		select {
		case task := <-r.tasks:
			task()
		case <-sweep.C:
			r.sweepPresence()
		case <-r.closed:
			return
		}
	}
}

// post schedules work on the actor goroutine. The closed channel is
// checked on its own first: with tasks buffered, a combined select would
// pick between two ready cases at random and could enqueue into a room
// that is already gone, reporting success for a dropped operation.
func (r *Room) post(task func()) error {
	select {
	case <-r.closed:
		return ErrRoomClosed
	default:
	}
	select {
	case r.tasks <- task:
		return nil
	case <-r.closed:
		return ErrRoomClosed
	}
}

// call schedules work and waits for it to finish.
func (r *Room) call(task func()) error {
	done := make(chan struct{})
	if err := r.post(func() {
		defer close(done)
		task()
	}); err != nil {
		return err
	}
	select {
	case <-done:
		return nil
	case <-r.closed:
		return ErrRoomClosed
	}
}

// --------------------------------------------------------------------------
// Session Attachment
// --------------------------------------------------------------------------

// Join attaches a session and performs the room side of the sync
// handshake in one atomic step: the catch-up response and the current
// presence records are enqueued to the new peer before any later
// broadcast, so nothing can slip between handshake and attachment.
func (r *Room) Join(peer Peer, summary crdt.VersionVector) error {
	return r.call(func() {
		resp := r.handshakeResponse(summary)
		raw, err := r.cdc.Encode(resp)
		if err != nil {
			glog.Errorf("[room %s] encode handshake response: %v", r.id, err)
			peer.Kick(common.NewError(common.RetCInternalError, "handshake encode failed"))
			return
		}

		m := &member{peer: peer, known: summary.Clone()}
		if len(summary) == 0 {
			// A fresh peer knows exactly what we just sent it.
			m.known = r.doc.Summary()
		}
		r.members[peer.ID()] = m
		r.cancelEviction()

		peer.Enqueue(raw)
		for _, rec := range r.pres.All() {
			if praw, err := r.cdc.Encode(common.NewPresenceUpdate(rec.ClientID, rec.Payload)); err == nil {
				peer.Enqueue(praw)
			}
		}
		glog.V(1).Infof("[room %s] session %s joined (%d members)", r.id, peer.ID(), len(r.members))
	})
}

// handshakeResponse computes the message bringing a peer with the given
// summary up to date: an operation diff when the log reaches far enough
// back, a full snapshot otherwise. Must run on the actor goroutine.
func (r *Room) handshakeResponse(summary crdt.VersionVector) *common.Message {
	if len(summary) > 0 {
		if ops, ok := r.doc.OpsSince(summary); ok {
			return common.NewSyncResponse(r.doc.Summary(), ops)
		}
	}
	// Fresh peer (or one below our log horizon): send the full state.
	// Before encoding, drop tombstones every currently attached peer has
	// acknowledged; a fresh peer cannot hold references to them. Compact
	// keeps any tombstone that still anchors a live element, so attached
	// replicas that retain it order concurrent siblings the same way.
	// With a cross-node relay the local members are not the whole room,
	// so compaction is off.
	if r.reg.relay == nil {
		if threshold := r.ackThreshold(); threshold != nil {
			if n := r.doc.Compact(threshold); n > 0 {
				glog.V(1).Infof("[room %s] compacted %d tombstones", r.id, n)
			}
		}
	}
	return common.NewSyncSnapshot(r.doc.Snapshot())
}

// ackThreshold returns the meet of all attached members' known vectors,
// or nil when the room has no members (no compaction without proof).
func (r *Room) ackThreshold() crdt.VersionVector {
	var threshold crdt.VersionVector
	for _, m := range r.members {
		if threshold == nil {
			threshold = m.known.Clone()
		} else {
			threshold = threshold.Meet(m.known)
		}
	}
	return threshold
}

// Leave detaches a session, drops the client's presence record and starts
// the idle eviction timer when the room runs empty.
func (r *Room) Leave(sessionID string) {
	_ = r.post(func() {
		m, ok := r.members[sessionID]
		if !ok {
			return
		}
		delete(r.members, sessionID)
		clientID := m.peer.ClientID()
		if _, tracked := r.pres.Get(clientID); tracked {
			r.pres.Remove(clientID)
			r.broadcastPresenceGone(clientID)
		}
		glog.V(1).Infof("[room %s] session %s left (%d members)", r.id, sessionID, len(r.members))
		if len(r.members) == 0 {
			r.scheduleEviction()
		}
	})
}

// --------------------------------------------------------------------------
// Update and Presence Flow
// --------------------------------------------------------------------------

// Update applies one decoded operation coming from the given session and
// fans the raw bytes out to every sibling. The caller must pass the exact
// bytes it received; siblings share the codec, so re-encoding is wasted
// work.
func (r *Room) Update(from string, op crdt.Operation, raw []byte) error {
	return r.post(func() {
		if err := r.doc.Apply(op); err != nil {
			glog.Errorf("[room %s] apply from %s: %v", r.id, from, err)
			return
		}
		metricOpsApplied.Inc()
		if m, ok := r.members[from]; ok {
			m.known.Observe(op.ID)
		}
		r.broadcast(raw, from)
		if r.reg.relay != nil {
			r.reg.relay.Publish(r.id, raw)
		}
	})
}

// Presence records a client's presence payload (empty payload = offline)
// and rebroadcasts the raw bytes to every sibling. Presence never touches
// the document.
func (r *Room) Presence(from, clientID string, payload, raw []byte) error {
	return r.post(func() {
		metricPresenceUpdates.Inc()
		if len(payload) == 0 {
			r.pres.Remove(clientID)
		} else {
			r.pres.Update(clientID, payload)
		}
		r.broadcast(raw, from)
		if r.reg.relay != nil {
			r.reg.relay.Publish(r.id, raw)
		}
	})
}

// Relayed feeds a message received from the cross-node bridge into the
// room: it is applied locally and forwarded to every attached session, but
// never published back to the bridge. Duplicate delivery (including the
// bridge echoing our own publishes) is harmless, operations are idempotent.
func (r *Room) Relayed(raw []byte) error {
	var msg common.Message
	if err := r.cdc.Decode(raw, &msg); err != nil {
		return err
	}
	return r.post(func() {
		switch msg.MsgType {
		case common.MsgTUpdate:
			for _, op := range msg.Ops {
				if err := r.doc.Apply(op); err != nil {
					glog.Errorf("[room %s] apply relayed: %v", r.id, err)
					return
				}
			}
			r.broadcast(raw, "")
		case common.MsgTPresence:
			if len(msg.Payload) == 0 {
				r.pres.Remove(msg.ClientID)
			} else {
				r.pres.Update(msg.ClientID, msg.Payload)
			}
			r.broadcast(raw, "")
		}
	})
}

// broadcast fans raw bytes out to every member except the originator.
// Members whose queue is full are dropped on the spot; one slow consumer
// must not hold the room hostage. Must run on the actor goroutine.
func (r *Room) broadcast(raw []byte, exceptSessionID string) {
	var dropped []*member
	for id, m := range r.members {
		if id == exceptSessionID {
			continue
		}
		if !m.peer.Enqueue(raw) {
			dropped = append(dropped, m)
		}
	}
	metricBroadcasts.Inc()
	for _, m := range dropped {
		delete(r.members, m.peer.ID())
		metricSessionsDropped.Inc()
		glog.Infof("[room %s] dropping slow session %s", r.id, m.peer.ID())
		m.peer.Kick(common.NewError(common.RetCSlowConsumer, "outbound queue overflow"))
	}
	if len(r.members) == 0 && len(dropped) > 0 {
		r.scheduleEviction()
	}
}

func (r *Room) broadcastPresenceGone(clientID string) {
	if raw, err := r.cdc.Encode(common.NewPresenceUpdate(clientID, nil)); err == nil {
		r.broadcast(raw, "")
	}
}

// sweepPresence drops records whose owner has gone silent and notifies the
// remaining members. Must run on the actor goroutine.
func (r *Room) sweepPresence() {
	for _, clientID := range r.pres.Sweep(r.reg.presenceTimeout) {
		r.broadcastPresenceGone(clientID)
	}
}

// --------------------------------------------------------------------------
// Introspection
// --------------------------------------------------------------------------

// Snapshot returns a point-in-time snapshot of the room's document.
func (r *Room) Snapshot() (*crdt.Snapshot, error) {
	var snap *crdt.Snapshot
	err := r.call(func() {
		snap = r.doc.Snapshot()
	})
	return snap, err
}

// Members returns the number of currently attached sessions.
func (r *Room) Members() (int, error) {
	n := 0
	err := r.call(func() {
		n = len(r.members)
	})
	return n, err
}

// --------------------------------------------------------------------------
// Eviction
// --------------------------------------------------------------------------

// scheduleEviction arms the idle eviction timer. Must run on the actor
// goroutine.
func (r *Room) scheduleEviction() {
	r.cancelEviction()
	glog.V(1).Infof("[room %s] empty, evicting in %s", r.id, r.reg.gracePeriod)
	r.evictTimer = time.AfterFunc(r.reg.gracePeriod, func() {
		_ = r.post(func() {
			if len(r.members) == 0 {
				r.reg.evict(r)
			}
		})
	})
}

// cancelEviction disarms the timer, e.g. on a rapid reconnect. Must run on
// the actor goroutine.
func (r *Room) cancelEviction() {
	if r.evictTimer != nil {
		r.evictTimer.Stop()
		r.evictTimer = nil
	}
}
