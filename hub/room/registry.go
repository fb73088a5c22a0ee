package room

import (
	"sync"
	"time"

	"github.com/VictoriaMetrics/metrics"
	"github.com/golang/glog"
	"github.com/puzpuzpuz/xsync/v3"

	"github.com/harmonyhub/harmony/hub/codec"
	"github.com/harmonyhub/harmony/hub/common"
	"github.com/harmonyhub/harmony/lib/crdt"
	"github.com/harmonyhub/harmony/lib/snapshots"
)

var (
	metricRoomsCreated  = metrics.NewCounter(`harmony_rooms_created_total`)
	metricRoomsRestored = metrics.NewCounter(`harmony_rooms_restored_total`)
	metricRoomsEvicted  = metrics.NewCounter(`harmony_rooms_evicted_total`)
)

// Relay is the optional cross-node fan-out hook. Publish must not block on
// the calling (room actor) goroutine.
type Relay interface {
	Publish(roomID string, data []byte)
}

// --------------------------------------------------------------------------
// Registry Options
// --------------------------------------------------------------------------

// Options configures a Registry.
type Options struct {
	// Codec used to encode broadcasts originated by rooms (handshake
	// responses, presence notifications). Must match the sessions' codec.
	Codec codec.ICodec
	// Snapshots persists document state across room lifetimes. May be nil.
	Snapshots snapshots.IStore
	// Relay receives every accepted update for cross-node fan-out. May be
	// nil.
	Relay Relay
	// GracePeriod is how long an empty room lingers before eviction.
	GracePeriod time.Duration
	// PresenceTimeout is the age after which silent presence records are
	// swept.
	PresenceTimeout time.Duration
}

// --------------------------------------------------------------------------
// Registry
// --------------------------------------------------------------------------

// Registry is the process-wide mapping from project id to room. Rooms are
// created lazily on first join and evicted when idle.
//
// Thread-safety: all methods are safe for concurrent use. Room creation
// and eviction are serialized by a mutex; the per-room hot path never
// takes it.
type Registry struct {
	cdc             codec.ICodec
	store           snapshots.IStore
	relay           Relay
	gracePeriod     time.Duration
	presenceTimeout time.Duration

	mu    sync.Mutex // serializes create/evict
	rooms *xsync.MapOf[string, *Room]
}

// NewRegistry creates an empty room registry.
func NewRegistry(opts Options) *Registry {
	if opts.GracePeriod <= 0 {
		opts.GracePeriod = 30 * time.Second
	}
	if opts.PresenceTimeout <= 0 {
		opts.PresenceTimeout = 60 * time.Second
	}
	return &Registry{
		cdc:             opts.Codec,
		store:           opts.Snapshots,
		relay:           opts.Relay,
		gracePeriod:     opts.GracePeriod,
		presenceTimeout: opts.PresenceTimeout,
		rooms:           xsync.NewMapOf[string, *Room](),
	}
}

// JoinRoom resolves the room for a project id, creating it lazily on first
// join. When a durable snapshot exists for the project the room is
// restored from it, otherwise it starts empty.
//
// The returned handle may have been evicted by the time the caller uses
// it; methods then return ErrRoomClosed and the caller simply resolves
// again.
func (g *Registry) JoinRoom(projectID string) *Room {
	if r, ok := g.rooms.Load(projectID); ok {
		return r
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if r, ok := g.rooms.Load(projectID); ok {
		return r
	}

	doc := g.loadDocument(projectID)
	r := newRoom(projectID, doc, g)
	g.rooms.Store(projectID, r)
	metricRoomsCreated.Inc()
	glog.Infof("[registry] created room %s", projectID)
	return r
}

// LeaveRoom detaches a session from its room. Detaching the last session
// arms the idle eviction timer.
func (g *Registry) LeaveRoom(projectID, sessionID string) {
	if r, ok := g.rooms.Load(projectID); ok {
		r.Leave(sessionID)
	}
}

// SetRelay installs the cross-node fan-out hook. The relay needs the
// registry to deliver inbound updates, so it cannot be part of Options;
// call this during startup before the first room is created.
func (g *Registry) SetRelay(relay Relay) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.relay = relay
}

// Lookup returns the live room for a project id without creating one.
func (g *Registry) Lookup(projectID string) (*Room, bool) {
	return g.rooms.Load(projectID)
}

// Rooms returns the number of live rooms.
func (g *Registry) Rooms() int {
	return g.rooms.Size()
}

// Shutdown evicts every room immediately, flushing snapshots to the
// durable store. Used on server shutdown. Waiting on done rather than
// closed guarantees each room's snapshot write has finished before
// Shutdown returns.
func (g *Registry) Shutdown() {
	g.rooms.Range(func(_ string, r *Room) bool {
		_ = r.post(func() {
			g.evict(r)
		})
		<-r.done
		return true
	})
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

// loadDocument restores a project's document from the durable store, or
// returns an empty one. A failed restore is logged and treated as absent;
// a room can always be recreated from empty state.
func (g *Registry) loadDocument(projectID string) *crdt.Document {
	if g.store == nil {
		return crdt.NewDocument()
	}
	blob, ok, err := g.store.Load(projectID)
	if err != nil {
		glog.Errorf("[registry] load snapshot for %s: %v", projectID, err)
		return crdt.NewDocument()
	}
	if !ok {
		return crdt.NewDocument()
	}
	snap, err := decodeSnapshotBlob(g.cdc, blob)
	if err != nil {
		glog.Errorf("[registry] decode snapshot for %s: %v", projectID, err)
		return crdt.NewDocument()
	}
	doc, err := crdt.RestoreSnapshot(snap)
	if err != nil {
		glog.Errorf("[registry] restore snapshot for %s: %v", projectID, err)
		return crdt.NewDocument()
	}
	metricRoomsRestored.Inc()
	glog.Infof("[registry] restored room %s from snapshot (%d elements)", projectID, len(snap.Elements))
	return doc
}

// Persisted blobs are encoded SyncSnapshot messages, so the snapshot store
// stays codec-agnostic and the blob can be replayed straight to a client.

func encodeSnapshotBlob(cdc codec.ICodec, snap *crdt.Snapshot) ([]byte, error) {
	return cdc.Encode(common.NewSyncSnapshot(snap))
}

func decodeSnapshotBlob(cdc codec.ICodec, blob []byte) (*crdt.Snapshot, error) {
	var msg common.Message
	if err := cdc.Decode(blob, &msg); err != nil {
		return nil, err
	}
	if msg.MsgType != common.MsgTSyncSnapshot || msg.Snapshot == nil {
		return nil, common.NewError(common.RetCMalformedMessage, "blob is not a snapshot message")
	}
	return msg.Snapshot, nil
}

// evict removes the room from the registry, persists its snapshot and
// stops its actor. Called on the room's actor goroutine. The idle timer
// and a registry shutdown can both queue an eviction for the same room;
// only the first one runs.
//
// closed flips first and the room leaves the map last: anyone who can no
// longer find the room via Lookup is guaranteed to get ErrRoomClosed from
// a handle they still hold, and a room that is gone from the map has its
// snapshot already flushed.
func (g *Registry) evict(r *Room) {
	if r.evicted {
		return
	}
	r.evicted = true
	close(r.closed)

	if g.store != nil {
		if blob, err := encodeSnapshotBlob(g.cdc, r.doc.Snapshot()); err != nil {
			glog.Errorf("[registry] encode snapshot for %s: %v", r.id, err)
		} else if err := g.store.Save(r.id, blob); err != nil {
			// Persistence failures never block the eviction; the room can
			// be recreated from empty state.
			glog.Errorf("[registry] persist snapshot for %s: %v", r.id, err)
		}
	}

	g.mu.Lock()
	g.rooms.Delete(r.id)
	g.mu.Unlock()

	metricRoomsEvicted.Inc()
	glog.Infof("[registry] evicted room %s", r.id)
	close(r.done)
}
