// Package client implements the Go client for the hub: a local document
// replica kept converged with the room over a websocket connection.
//
// Local edits apply to the replica immediately and are sent to the hub
// asynchronously. On connect (and on every reconnect) the client runs the
// sync handshake, which repairs divergence in both directions: the
// response carries the operations the client is missing, and the client
// pushes the operations the hub's summary shows it never received.
package client

import (
	"fmt"
	"net/url"
	"sync"

	"github.com/cenkalti/backoff"
	"github.com/golang/glog"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/harmonyhub/harmony/hub/codec"
	"github.com/harmonyhub/harmony/hub/common"
	"github.com/harmonyhub/harmony/lib/crdt"
)

// --------------------------------------------------------------------------
// Client
// --------------------------------------------------------------------------

// Handlers carries the optional event callbacks of a client. Callbacks run
// on the client's read goroutine and must not block.
type Handlers struct {
	// OnChange fires after the replica changed through a remote update or
	// a handshake.
	OnChange func()
	// OnPresence fires on a collaborator's presence update. A nil payload
	// means the collaborator went offline.
	OnPresence func(clientID string, payload []byte)
}

// Client is a replica of one project's document connected to the hub.
type Client struct {
	cfg      common.ClientConfig
	cdc      codec.ICodec
	handlers Handlers

	mu   sync.Mutex
	doc  *crdt.Document
	conn *websocket.Conn
	wmu  sync.Mutex // serializes writes on conn

	done      chan struct{}
	closeOnce sync.Once
}

// New creates an unconnected client. A random client id is generated when
// the configuration leaves it empty.
func New(cfg common.ClientConfig, cdc codec.ICodec, handlers Handlers) *Client {
	if cfg.ClientID == "" {
		cfg.ClientID = uuid.NewString()
	}
	return &Client{
		cfg:      cfg,
		cdc:      cdc,
		handlers: handlers,
		doc:      crdt.NewDocument(),
		done:     make(chan struct{}),
	}
}

// ClientID returns the actor identity of this replica.
func (c *Client) ClientID() string {
	return c.cfg.ClientID
}

// --------------------------------------------------------------------------
// Connection Management
// --------------------------------------------------------------------------

// Run connects to the hub and services the connection until Close is
// called, reconnecting and resyncing after failures. It blocks.
func (c *Client) Run() error {
	for {
		select {
		case <-c.done:
			return nil
		default:
		}

		if err := c.connectWithRetry(); err != nil {
			return err
		}
		c.readLoop()
	}
}

// connectWithRetry dials and handshakes under exponential backoff, bounded
// by the configured retry count.
func (c *Client) connectWithRetry() error {
	attempt := func() error {
		select {
		case <-c.done:
			return backoff.Permanent(fmt.Errorf("client closed"))
		default:
		}
		return c.connect()
	}
	policy := backoff.WithMaxRetries(backoff.NewExponentialBackOff(), uint64(c.cfg.RetryCount))
	return backoff.Retry(attempt, policy)
}

// connect dials the room endpoint and runs the sync handshake.
func (c *Client) connect() error {
	target, err := c.roomURL()
	if err != nil {
		return backoff.Permanent(err)
	}
	conn, _, err := websocket.DefaultDialer.Dial(target, nil)
	if err != nil {
		glog.V(1).Infof("[client %s] dial %s: %v", c.cfg.ClientID, target, err)
		return err
	}

	if err := c.handshake(conn); err != nil {
		_ = conn.Close()
		return err
	}

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
	glog.Infof("[client %s] synced with room %s", c.cfg.ClientID, c.cfg.ProjectID)
	return nil
}

// roomURL derives the websocket URL for the configured project.
func (c *Client) roomURL() (string, error) {
	u, err := url.Parse(c.cfg.Endpoint)
	if err != nil {
		return "", fmt.Errorf("invalid endpoint %q: %w", c.cfg.Endpoint, err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported endpoint scheme %q", u.Scheme)
	}
	u.Path = fmt.Sprintf("/jam/%s", c.cfg.ProjectID)
	return u.String(), nil
}

// handshake announces the replica's summary and integrates the catch-up
// response; afterwards any operations the hub is missing are pushed back.
func (c *Client) handshake(conn *websocket.Conn) error {
	c.mu.Lock()
	summary := c.doc.Summary().Clone()
	c.mu.Unlock()

	raw, err := c.cdc.Encode(common.NewSyncRequest(c.cfg.ClientID, summary))
	if err != nil {
		return err
	}
	if err := conn.WriteMessage(websocket.BinaryMessage, raw); err != nil {
		return err
	}

	_, data, err := conn.ReadMessage()
	if err != nil {
		return err
	}
	var msg common.Message
	if err := c.cdc.Decode(data, &msg); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	switch msg.MsgType {
	case common.MsgTSyncResponse:
		for _, op := range msg.Ops {
			if err := c.doc.Apply(op); err != nil {
				return err
			}
		}
		return c.pushMissing(conn, msg.Summary)
	case common.MsgTSyncSnapshot:
		if msg.Snapshot == nil {
			return common.NewError(common.RetCMalformedMessage, "syncSnapshot without snapshot")
		}
		// Replaying the snapshot as operations merges it into whatever
		// local state survived a reconnect.
		for _, op := range msg.Snapshot.Ops() {
			if err := c.doc.Apply(op); err != nil {
				return err
			}
		}
		return c.pushMissing(conn, msg.Snapshot.Vector)
	case common.MsgTError:
		return common.NewError(common.RetCInternalError, "hub rejected handshake: %s", msg.Err)
	default:
		return common.NewError(common.RetCMalformedMessage, "unexpected %s during handshake", msg.MsgType)
	}
}

// pushMissing sends every local operation the hub's summary does not
// cover. Called with c.mu held.
func (c *Client) pushMissing(conn *websocket.Conn, hubSummary crdt.VersionVector) error {
	if hubSummary == nil {
		hubSummary = crdt.NewVersionVector()
	}
	ops, ok := c.doc.OpsSince(hubSummary)
	if !ok {
		// The replica no longer has the full history below the hub's
		// horizon; convergence is still reached for everything it has.
		ops, _ = c.doc.OpsSince(crdt.NewVersionVector())
	}
	for _, op := range ops {
		raw, err := c.cdc.Encode(common.NewUpdate(op))
		if err != nil {
			return err
		}
		if err := conn.WriteMessage(websocket.BinaryMessage, raw); err != nil {
			return err
		}
	}
	return nil
}

// readLoop consumes broadcasts until the connection fails or the client
// closes.
func (c *Client) readLoop() {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return
	}

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-c.done:
			default:
				glog.V(1).Infof("[client %s] connection lost: %v", c.cfg.ClientID, err)
			}
			return
		}
		var msg common.Message
		if err := c.cdc.Decode(data, &msg); err != nil {
			glog.Warningf("[client %s] dropping undecodable message: %v", c.cfg.ClientID, err)
			continue
		}
		c.handleBroadcast(&msg)
	}
}

// handleBroadcast integrates one inbound message from the room.
func (c *Client) handleBroadcast(msg *common.Message) {
	switch msg.MsgType {
	case common.MsgTUpdate:
		c.mu.Lock()
		for _, op := range msg.Ops {
			if err := c.doc.Apply(op); err != nil {
				glog.Warningf("[client %s] rejected update: %v", c.cfg.ClientID, err)
			}
		}
		c.mu.Unlock()
		if c.handlers.OnChange != nil {
			c.handlers.OnChange()
		}
	case common.MsgTPresence:
		if msg.ClientID == c.cfg.ClientID {
			return
		}
		if c.handlers.OnPresence != nil {
			c.handlers.OnPresence(msg.ClientID, msg.Payload)
		}
	case common.MsgTError:
		glog.Warningf("[client %s] hub error: %s", c.cfg.ClientID, msg.Err)
	default:
		glog.V(1).Infof("[client %s] ignoring %s broadcast", c.cfg.ClientID, msg.MsgType)
	}
}

// --------------------------------------------------------------------------
// Editing API
// --------------------------------------------------------------------------

// InsertAfter inserts value after the element left (the zero ID inserts at
// the head) and sends the edit to the hub. It returns the new element's id
// for chaining subsequent inserts.
func (c *Client) InsertAfter(left crdt.ID, value []byte) (crdt.ID, error) {
	c.mu.Lock()
	op, err := c.doc.LocalInsert(c.cfg.ClientID, left, value)
	c.mu.Unlock()
	if err != nil {
		return crdt.ID{}, err
	}
	return op.ID, c.send(common.NewUpdate(op))
}

// Delete removes the element with the given id and sends the edit to the
// hub.
func (c *Client) Delete(target crdt.ID) error {
	c.mu.Lock()
	op, err := c.doc.LocalDelete(c.cfg.ClientID, target)
	c.mu.Unlock()
	if err != nil {
		return err
	}
	return c.send(common.NewUpdate(op))
}

// SendPresence publishes this client's presence payload to the room.
func (c *Client) SendPresence(payload []byte) error {
	return c.send(common.NewPresenceUpdate(c.cfg.ClientID, payload))
}

// send encodes and writes one message on the current connection.
func (c *Client) send(msg *common.Message) error {
	raw, err := c.cdc.Encode(msg)
	if err != nil {
		return err
	}
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return common.NewError(common.RetCInternalError, "not connected")
	}
	c.wmu.Lock()
	defer c.wmu.Unlock()
	return conn.WriteMessage(websocket.BinaryMessage, raw)
}

// --------------------------------------------------------------------------
// Read API
// --------------------------------------------------------------------------

// Bytes returns the visible document content.
func (c *Client) Bytes() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.doc.Bytes()
}

// Elements returns the visible elements in document order.
func (c *Client) Elements() []crdt.Element {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.doc.Elements()
}

// Summary returns the replica's current state summary.
func (c *Client) Summary() crdt.VersionVector {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.doc.Summary().Clone()
}

// Close disconnects the client. Run returns after the connection unwinds.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.mu.Lock()
		if c.conn != nil {
			_ = c.conn.Close()
		}
		c.mu.Unlock()
	})
}
