package session

import (
	"errors"
	"testing"
	"time"

	"github.com/harmonyhub/harmony/hub/codec"
	"github.com/harmonyhub/harmony/hub/common"
	"github.com/harmonyhub/harmony/hub/room"
	"github.com/harmonyhub/harmony/lib/crdt"
	"github.com/harmonyhub/harmony/lib/snapshots"
)

// pipeConn is an in-process Conn: the test pushes inbound messages and
// reads what the session writes
type pipeConn struct {
	in     chan []byte
	out    chan []byte
	closed chan struct{}
}

func newPipeConn() *pipeConn {
	return &pipeConn{
		in:     make(chan []byte, 64),
		out:    make(chan []byte, 64),
		closed: make(chan struct{}),
	}
}

func (c *pipeConn) ReadMessage() ([]byte, error) {
	select {
	case data := <-c.in:
		return data, nil
	case <-c.closed:
		return nil, errors.New("connection closed")
	}
}

func (c *pipeConn) WriteMessage(data []byte) error {
	select {
	case c.out <- data:
		return nil
	case <-c.closed:
		return errors.New("connection closed")
	}
}

func (c *pipeConn) Close() error {
	select {
	case <-c.closed:
	default:
		close(c.closed)
	}
	return nil
}

// harness bundles one connected session with its test-side endpoints
type harness struct {
	t    *testing.T
	cdc  codec.ICodec
	conn *pipeConn
	sess *Session
}

func connect(t *testing.T, rm *room.Room, cdc codec.ICodec, clientID string, summary crdt.VersionVector) *harness {
	t.Helper()
	h := &harness{t: t, cdc: cdc, conn: newPipeConn()}
	h.sess = New(rm, cdc, h.conn, 16)
	go h.sess.Run()
	h.send(common.NewSyncRequest(clientID, summary))
	return h
}

func (h *harness) send(msg *common.Message) {
	h.t.Helper()
	raw, err := h.cdc.Encode(msg)
	if err != nil {
		h.t.Fatal(err)
	}
	h.sendRaw(raw)
}

func (h *harness) sendRaw(raw []byte) {
	h.t.Helper()
	select {
	case h.conn.in <- raw:
	case <-time.After(time.Second):
		h.t.Fatal("session not reading")
	}
}

func (h *harness) recv() *common.Message {
	h.t.Helper()
	select {
	case raw := <-h.conn.out:
		var msg common.Message
		if err := h.cdc.Decode(raw, &msg); err != nil {
			h.t.Fatalf("decoding session output: %v", err)
		}
		return &msg
	case <-time.After(2 * time.Second):
		h.t.Fatal("no message from session")
		return nil
	}
}

func (h *harness) waitClosed() {
	h.t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if h.sess.State() == StateClosed {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	h.t.Fatalf("session state = %s, want %s", h.sess.State(), StateClosed)
}

func newTestRoom(t *testing.T) (*room.Registry, *room.Room, codec.ICodec) {
	t.Helper()
	cdc := codec.NewBinaryCodec()
	reg := room.NewRegistry(room.Options{
		Codec:       cdc,
		Snapshots:   snapshots.NewMemoryStore(),
		GracePeriod: time.Hour,
	})
	return reg, reg.JoinRoom("proj-1"), cdc
}

func TestHandshakeAndUpdateFlow(t *testing.T) {
	_, rm, cdc := newTestRoom(t)

	alice := connect(t, rm, cdc, "alice", crdt.NewVersionVector())
	resp := alice.recv()
	if resp.MsgType != common.MsgTSyncSnapshot {
		t.Fatalf("handshake response = %s, want %s", resp.MsgType, common.MsgTSyncSnapshot)
	}
	if alice.sess.ClientID() != "alice" {
		t.Fatalf("client id = %q", alice.sess.ClientID())
	}

	bob := connect(t, rm, cdc, "bob", crdt.NewVersionVector())
	bob.recv() // handshake snapshot

	// alice edits; bob receives the exact update
	doc := crdt.NewDocument()
	op, err := doc.LocalInsert("alice", crdt.ID{}, []byte("h"))
	if err != nil {
		t.Fatal(err)
	}
	alice.send(common.NewUpdate(op))

	got := bob.recv()
	if got.MsgType != common.MsgTUpdate || len(got.Ops) != 1 || got.Ops[0].ID != op.ID {
		t.Fatalf("bob received %+v", got)
	}

	// a later joiner catches up through its handshake alone
	carol := connect(t, rm, cdc, "carol", crdt.NewVersionVector())
	snap := carol.recv()
	if snap.MsgType != common.MsgTSyncSnapshot {
		t.Fatalf("late join response = %s", snap.MsgType)
	}
	if len(snap.Snapshot.Elements) != 1 || string(snap.Snapshot.Elements[0].Value) != "h" {
		t.Fatalf("late join snapshot = %+v", snap.Snapshot.Elements)
	}
}

func TestPresenceFlow(t *testing.T) {
	_, rm, cdc := newTestRoom(t)

	alice := connect(t, rm, cdc, "alice", crdt.NewVersionVector())
	alice.recv()
	bob := connect(t, rm, cdc, "bob", crdt.NewVersionVector())
	bob.recv()

	alice.send(common.NewPresenceUpdate("alice", []byte(`{"cursor":3}`)))
	got := bob.recv()
	if got.MsgType != common.MsgTPresence || got.ClientID != "alice" {
		t.Fatalf("bob received %+v", got)
	}

	// a later joiner is told about alice's presence right after the handshake
	carol := connect(t, rm, cdc, "carol", crdt.NewVersionVector())
	carol.recv() // snapshot
	pres := carol.recv()
	if pres.MsgType != common.MsgTPresence || pres.ClientID != "alice" {
		t.Fatalf("late joiner presence = %+v", pres)
	}
}

func TestMalformedMessageClosesSession(t *testing.T) {
	_, rm, cdc := newTestRoom(t)

	alice := connect(t, rm, cdc, "alice", crdt.NewVersionVector())
	alice.recv()
	bob := connect(t, rm, cdc, "bob", crdt.NewVersionVector())
	bob.recv()

	alice.sendRaw([]byte("not a message"))

	// alice is notified and closed
	errMsg := alice.recv()
	if errMsg.MsgType != common.MsgTError {
		t.Fatalf("expected error notification, got %s", errMsg.MsgType)
	}
	alice.waitClosed()

	// the room and the sibling session are unaffected
	n, err := rm.Members()
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("members = %d, want 1", n)
	}
	if bob.sess.State() != StateActive {
		t.Fatalf("sibling state = %s", bob.sess.State())
	}
}

func TestHandshakeRequiresSyncRequest(t *testing.T) {
	_, rm, cdc := newTestRoom(t)

	h := &harness{t: t, cdc: cdc, conn: newPipeConn()}
	h.sess = New(rm, cdc, h.conn, 16)
	go h.sess.Run()

	// first message is an update instead of a syncRequest
	h.send(common.NewUpdate(crdt.Operation{Kind: crdt.OpInsert, ID: crdt.ID{Actor: "a", Seq: 1}}))

	errMsg := h.recv()
	if errMsg.MsgType != common.MsgTError {
		t.Fatalf("expected error notification, got %s", errMsg.MsgType)
	}
	h.waitClosed()

	n, err := rm.Members()
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Fatalf("members = %d, want 0", n)
	}
}

func TestPresenceForeignClientRejected(t *testing.T) {
	_, rm, cdc := newTestRoom(t)

	alice := connect(t, rm, cdc, "alice", crdt.NewVersionVector())
	alice.recv()

	// presence claiming someone else's identity
	alice.send(common.NewPresenceUpdate("mallory", []byte("x")))

	errMsg := alice.recv()
	if errMsg.MsgType != common.MsgTError {
		t.Fatalf("expected error notification, got %s", errMsg.MsgType)
	}
	alice.waitClosed()
}

func TestDisconnectDetachesFromRoom(t *testing.T) {
	_, rm, cdc := newTestRoom(t)

	alice := connect(t, rm, cdc, "alice", crdt.NewVersionVector())
	alice.recv()

	n, err := rm.Members()
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("members = %d, want 1", n)
	}

	_ = alice.conn.Close()
	alice.waitClosed()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if n, err = rm.Members(); err == nil && n == 0 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("members = %d after disconnect, want 0", n)
}
