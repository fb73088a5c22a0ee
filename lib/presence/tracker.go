// Package presence tracks the ephemeral per-room state of connected
// clients: cursor positions, selections, display metadata. Unlike the
// replicated document this state needs no merge semantics; every record is
// owned by exactly one client, overwritten wholesale on each update
// (last writer wins) and dropped on disconnect or timeout. The payload is
// an opaque byte blob; only clients interpret its structure, keeping the
// engine content-agnostic.
package presence

import (
	"time"

	"github.com/puzpuzpuz/xsync/v3"
)

// Record is one client's presence state.
type Record struct {
	ClientID  string    `json:"client_id"`
	Payload   []byte    `json:"payload"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Tracker holds the presence records of one room.
//
// Thread-safety: all methods are safe for concurrent use.
type Tracker struct {
	records *xsync.MapOf[string, Record]
	now     func() time.Time
}

// NewTracker creates an empty presence tracker.
func NewTracker() *Tracker {
	return &Tracker{
		records: xsync.NewMapOf[string, Record](),
		now:     time.Now,
	}
}

// Update overwrites the client's presence record with the given payload.
func (t *Tracker) Update(clientID string, payload []byte) {
	t.records.Store(clientID, Record{
		ClientID:  clientID,
		Payload:   payload,
		UpdatedAt: t.now(),
	})
}

// Remove drops the client's record, typically on disconnect.
func (t *Tracker) Remove(clientID string) {
	t.records.Delete(clientID)
}

// Get returns the client's record if present.
func (t *Tracker) Get(clientID string) (Record, bool) {
	return t.records.Load(clientID)
}

// All returns a point-in-time copy of every record.
func (t *Tracker) All() []Record {
	out := make([]Record, 0, t.records.Size())
	t.records.Range(func(_ string, rec Record) bool {
		out = append(out, rec)
		return true
	})
	return out
}

// Len returns the number of tracked clients.
func (t *Tracker) Len() int {
	return t.records.Size()
}

// Sweep removes records that have not been updated within maxAge and
// returns the ids of the removed clients so the caller can notify peers.
func (t *Tracker) Sweep(maxAge time.Duration) []string {
	cutoff := t.now().Add(-maxAge)
	var stale []string
	t.records.Range(func(id string, rec Record) bool {
		if rec.UpdatedAt.Before(cutoff) {
			stale = append(stale, id)
		}
		return true
	})
	for _, id := range stale {
		t.records.Delete(id)
	}
	return stale
}
