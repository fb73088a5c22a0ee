// Package session implements the per-connection state machine sitting
// between one transport connection and its room.
//
// A session moves through Connecting -> Syncing -> Active -> Closed. In
// Syncing the peer's state summary is exchanged against the room's and the
// catch-up diff (or a full snapshot for a fresh peer) is delivered. In
// Active, inbound edits are decoded, applied to the room's document and
// fanned out; inbound presence goes straight to the presence tracker; and
// broadcasts from sibling sessions are written back to the connection.
//
// A malformed message transitions the session directly to Closed and
// terminates the connection: malformed bytes never produce a decoded
// operation, so a misbehaving peer cannot corrupt shared state. Closing a
// session never affects its room or its siblings.
package session

import (
	"errors"
	"sync"
	"sync/atomic"

	"github.com/golang/glog"
	"github.com/google/uuid"

	"github.com/harmonyhub/harmony/hub/codec"
	"github.com/harmonyhub/harmony/hub/common"
	"github.com/harmonyhub/harmony/hub/room"
	"github.com/harmonyhub/harmony/lib/crdt"
)

// --------------------------------------------------------------------------
// Connection Interface
// --------------------------------------------------------------------------

// Conn abstracts the reliable ordered byte-message stream a session runs
// on. The hub server adapts gorilla websocket connections to it; tests use
// in-process pipes.
type Conn interface {
	// ReadMessage blocks until the next inbound message or disconnect.
	ReadMessage() ([]byte, error)
	// WriteMessage sends one message.
	WriteMessage(data []byte) error
	// Close terminates the connection. Must be safe to call more than
	// once and must unblock a pending ReadMessage.
	Close() error
}

// --------------------------------------------------------------------------
// Session States
// --------------------------------------------------------------------------

// State is the lifecycle state of a session.
type State int32

const (
	StateConnecting State = iota // connection accepted and bound to a room
	StateSyncing                 // handshake in progress
	StateActive                  // bidirectional update/presence flow
	StateClosed                  // terminal
)

// String returns the string representation of a State.
func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateSyncing:
		return "syncing"
	case StateActive:
		return "active"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// --------------------------------------------------------------------------
// Session
// --------------------------------------------------------------------------

// Session binds one connection to one room for the connection's lifetime.
type Session struct {
	id       string
	clientID atomic.Value // string, set during the handshake
	rm       *room.Room
	cdc      codec.ICodec
	conn     Conn

	state     atomic.Int32
	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

// New creates a session for a connection already bound to its room.
// queueSize bounds the outbound queue; when a slow consumer fills it the
// room drops the session.
func New(rm *room.Room, cdc codec.ICodec, conn Conn, queueSize int) *Session {
	s := &Session{
		id:   uuid.NewString(),
		rm:   rm,
		cdc:  cdc,
		conn: conn,
		send: make(chan []byte, queueSize),
		done: make(chan struct{}),
	}
	s.clientID.Store("")
	return s
}

// ID returns the session id.
func (s *Session) ID() string {
	return s.id
}

// ClientID returns the actor identity announced in the handshake, or the
// empty string before it.
func (s *Session) ClientID() string {
	return s.clientID.Load().(string)
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	return State(s.state.Load())
}

// --------------------------------------------------------------------------
// Peer Interface (docu see room.Peer)
// --------------------------------------------------------------------------

// Enqueue hands encoded bytes to the outbound queue without blocking.
func (s *Session) Enqueue(msg []byte) bool {
	select {
	case s.send <- msg:
		return true
	default:
		return false
	}
}

// Kick terminates the session from the room side.
func (s *Session) Kick(err error) {
	s.closeWith(err, false)
}

// --------------------------------------------------------------------------
// Main Loop
// --------------------------------------------------------------------------

// Run drives the session until the connection closes; it blocks and is
// meant to be called from the connection's handler goroutine.
func (s *Session) Run() {
	go s.writeLoop()
	s.readLoop()
	<-s.done
}

// writeLoop drains the outbound queue onto the connection.
func (s *Session) writeLoop() {
	for {
		select {
		case msg := <-s.send:
			if err := s.conn.WriteMessage(msg); err != nil {
				s.closeWith(err, false)
				return
			}
		case <-s.done:
			return
		}
	}
}

// readLoop performs the handshake and then dispatches inbound messages
// until disconnect or error.
func (s *Session) readLoop() {
	if err := s.handshake(); err != nil {
		s.closeWith(err, true)
		return
	}
	s.state.Store(int32(StateActive))

	for {
		data, err := s.conn.ReadMessage()
		if err != nil {
			// Normal terminal transition: disconnects are not failures.
			s.closeWith(nil, false)
			return
		}
		var msg common.Message
		if err := s.cdc.Decode(data, &msg); err != nil {
			s.closeWith(err, true)
			return
		}
		if err := s.dispatch(&msg, data); err != nil {
			s.closeWith(err, true)
			return
		}
	}
}

// handshake reads the peer's SyncRequest and joins the room, which
// atomically computes and enqueues the catch-up response.
func (s *Session) handshake() error {
	s.state.Store(int32(StateSyncing))
	data, err := s.conn.ReadMessage()
	if err != nil {
		return err
	}
	var msg common.Message
	if err := s.cdc.Decode(data, &msg); err != nil {
		return err
	}
	if msg.MsgType != common.MsgTSyncRequest {
		return common.NewError(common.RetCMalformedMessage, "expected syncRequest, got %s", msg.MsgType)
	}
	clientID := msg.ClientID
	if clientID == "" {
		return common.NewError(common.RetCMalformedMessage, "syncRequest without client id")
	}
	s.clientID.Store(clientID)

	summary := msg.Summary
	if summary == nil {
		summary = crdt.NewVersionVector()
	}
	return s.rm.Join(s, summary)
}

// dispatch handles one decoded inbound message in the Active state.
func (s *Session) dispatch(msg *common.Message, raw []byte) error {
	switch msg.MsgType {
	case common.MsgTUpdate:
		if len(msg.Ops) != 1 {
			return common.NewError(common.RetCMalformedMessage, "update carries %d operations, want 1", len(msg.Ops))
		}
		if err := msg.Ops[0].Validate(); err != nil {
			return common.NewError(common.RetCMalformedMessage, "invalid operation: %v", err)
		}
		return s.rm.Update(s.id, msg.Ops[0], raw)
	case common.MsgTPresence:
		if msg.ClientID != s.ClientID() {
			return common.NewError(common.RetCMalformedMessage, "presence for foreign client %q", msg.ClientID)
		}
		return s.rm.Presence(s.id, msg.ClientID, msg.Payload, raw)
	default:
		return common.NewError(common.RetCMalformedMessage, "unexpected %s message in active state", msg.MsgType)
	}
}

// --------------------------------------------------------------------------
// Shutdown
// --------------------------------------------------------------------------

// closeWith moves the session to Closed exactly once, detaches it from the
// room and terminates the connection. When notify is set (protocol
// errors), a best-effort Error message is written first so well-behaved
// clients learn why they were cut off.
func (s *Session) closeWith(err error, notify bool) {
	s.closeOnce.Do(func() {
		s.state.Store(int32(StateClosed))
		if err != nil && !errors.Is(err, room.ErrRoomClosed) {
			glog.Infof("[session %s] closing: %v", s.id, err)
		}
		if notify && err != nil {
			if raw, encErr := s.cdc.Encode(common.NewErrorMessage(err)); encErr == nil {
				_ = s.conn.WriteMessage(raw)
			}
		}
		s.rm.Leave(s.id)
		_ = s.conn.Close()
		close(s.done)
	})
}
