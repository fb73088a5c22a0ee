package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/harmonyhub/harmony/hub/codec"
	"github.com/harmonyhub/harmony/hub/common"
	"github.com/harmonyhub/harmony/hub/room"
	"github.com/harmonyhub/harmony/lib/assets"
	"github.com/harmonyhub/harmony/lib/crdt"
	"github.com/harmonyhub/harmony/lib/projects"
	"github.com/harmonyhub/harmony/lib/snapshots"
)

func newTestServer(t *testing.T, strictRooms bool) (*Server, *httptest.Server) {
	t.Helper()
	cfg := common.ServerConfig{
		Codec:              "binary",
		GracePeriodSec:     3600,
		PresenceTimeoutSec: 60,
		SendQueueSize:      64,
		StrictRooms:        strictRooms,
		AssetBucketURL:     "https://assets.local/uploads",
	}
	cdc := codec.NewBinaryCodec()
	registry := room.NewRegistry(room.Options{
		Codec:           cdc,
		Snapshots:       snapshots.NewMemoryStore(),
		GracePeriod:     cfg.GracePeriod(),
		PresenceTimeout: cfg.PresenceTimeout(),
	})
	srv := New(cfg, cdc, registry, projects.NewMemoryStore(), assets.NewIssuer(cfg.AssetBucketURL))
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)
	return srv, ts
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.Post(url, "application/json", bytes.NewReader(data))
	if err != nil {
		t.Fatal(err)
	}
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, into any) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(into); err != nil {
		t.Fatal(err)
	}
}

func TestCreateAndGetProject(t *testing.T) {
	_, ts := newTestServer(t, false)

	resp := postJSON(t, ts.URL+"/api/projects", map[string]string{"title": "My Jam"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("create status = %d", resp.StatusCode)
	}
	var created struct {
		ProjectID string `json:"projectId"`
	}
	decodeBody(t, resp, &created)
	if created.ProjectID == "" {
		t.Fatal("no project id returned")
	}

	getResp, err := http.Get(ts.URL + "/api/projects/" + created.ProjectID)
	if err != nil {
		t.Fatal(err)
	}
	if getResp.StatusCode != http.StatusOK {
		t.Fatalf("get status = %d", getResp.StatusCode)
	}
	var p projects.Project
	decodeBody(t, getResp, &p)
	if p.Title != "My Jam" || p.ID != created.ProjectID {
		t.Fatalf("project = %+v", p)
	}
}

func TestCreateProjectDefaultTitle(t *testing.T) {
	_, ts := newTestServer(t, false)

	resp := postJSON(t, ts.URL+"/api/projects", map[string]string{})
	var created struct {
		ProjectID string `json:"projectId"`
	}
	decodeBody(t, resp, &created)

	getResp, err := http.Get(ts.URL + "/api/projects/" + created.ProjectID)
	if err != nil {
		t.Fatal(err)
	}
	var p projects.Project
	decodeBody(t, getResp, &p)
	if p.Title != "Untitled Jam" {
		t.Fatalf("default title = %q, want %q", p.Title, "Untitled Jam")
	}
}

func TestGetUnknownProject(t *testing.T) {
	_, ts := newTestServer(t, false)

	resp, err := http.Get(ts.URL + "/api/projects/no-such-id")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
}

func TestIssueUploadTarget(t *testing.T) {
	_, ts := newTestServer(t, false)

	resp := postJSON(t, ts.URL+"/api/assets/upload-url", map[string]string{
		"filename": "kick drum.wav",
		"filetype": "audio/wav",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var target assets.Target
	decodeBody(t, resp, &target)
	if target.AssetID == "" {
		t.Fatal("no asset id")
	}
	if !strings.HasPrefix(target.UploadURL, "https://assets.local/uploads/") {
		t.Fatalf("upload url = %q", target.UploadURL)
	}
	if strings.Contains(target.UploadURL, " ") {
		t.Fatalf("upload url not sanitized: %q", target.UploadURL)
	}

	// filename is required
	resp = postJSON(t, ts.URL+"/api/assets/upload-url", map[string]string{})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("missing filename status = %d, want 400", resp.StatusCode)
	}
}

func TestStrictRoomsRejectsUnknownProject(t *testing.T) {
	_, ts := newTestServer(t, true)

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/jam/no-such-project"
	_, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err == nil {
		t.Fatal("expected dial to fail for unknown project")
	}
	if resp == nil || resp.StatusCode != http.StatusNotFound {
		t.Fatalf("handshake response = %+v", resp)
	}
}

// wsClient is a minimal raw websocket test client
type wsClient struct {
	t    *testing.T
	cdc  codec.ICodec
	conn *websocket.Conn
}

func dialJam(t *testing.T, ts *httptest.Server, projectID, clientID string) *wsClient {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/jam/" + projectID
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = conn.Close() })

	c := &wsClient{t: t, cdc: codec.NewBinaryCodec(), conn: conn}
	c.send(common.NewSyncRequest(clientID, crdt.NewVersionVector()))
	return c
}

func (c *wsClient) send(msg *common.Message) {
	c.t.Helper()
	raw, err := c.cdc.Encode(msg)
	if err != nil {
		c.t.Fatal(err)
	}
	if err := c.conn.WriteMessage(websocket.BinaryMessage, raw); err != nil {
		c.t.Fatal(err)
	}
}

func (c *wsClient) recv() *common.Message {
	c.t.Helper()
	_ = c.conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, raw, err := c.conn.ReadMessage()
	if err != nil {
		c.t.Fatalf("reading from hub: %v", err)
	}
	var msg common.Message
	if err := c.cdc.Decode(raw, &msg); err != nil {
		c.t.Fatal(err)
	}
	return &msg
}

// TestWebsocketConvergence runs two clients against the real HTTP stack
// and checks that edits flow end to end.
func TestWebsocketConvergence(t *testing.T) {
	_, ts := newTestServer(t, false)

	alice := dialJam(t, ts, "proj-ws", "alice")
	if resp := alice.recv(); resp.MsgType != common.MsgTSyncSnapshot {
		t.Fatalf("handshake response = %s", resp.MsgType)
	}
	bob := dialJam(t, ts, "proj-ws", "bob")
	if resp := bob.recv(); resp.MsgType != common.MsgTSyncSnapshot {
		t.Fatalf("handshake response = %s", resp.MsgType)
	}

	doc := crdt.NewDocument()
	op1, err := doc.LocalInsert("alice", crdt.ID{}, []byte("h"))
	if err != nil {
		t.Fatal(err)
	}
	op2, err := doc.LocalInsert("alice", op1.ID, []byte("i"))
	if err != nil {
		t.Fatal(err)
	}
	alice.send(common.NewUpdate(op1))
	alice.send(common.NewUpdate(op2))

	bobDoc := crdt.NewDocument()
	for i := 0; i < 2; i++ {
		msg := bob.recv()
		if msg.MsgType != common.MsgTUpdate {
			t.Fatalf("bob received %s", msg.MsgType)
		}
		for _, op := range msg.Ops {
			if err := bobDoc.Apply(op); err != nil {
				t.Fatal(err)
			}
		}
	}
	if got := string(bobDoc.Bytes()); got != "hi" {
		t.Fatalf("bob's document = %q, want %q", got, "hi")
	}

	// a late joiner converges through the handshake alone
	carol := dialJam(t, ts, "proj-ws", "carol")
	snap := carol.recv()
	if snap.MsgType != common.MsgTSyncSnapshot {
		t.Fatalf("late join response = %s", snap.MsgType)
	}
	carolDoc, err := crdt.RestoreSnapshot(snap.Snapshot)
	if err != nil {
		t.Fatal(err)
	}
	if got := string(carolDoc.Bytes()); got != "hi" {
		t.Fatalf("carol's document = %q, want %q", got, "hi")
	}
}
