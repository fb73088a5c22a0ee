// Package server wires the hub together behind one HTTP listener: the
// project/asset REST API, the /jam/{projectId} websocket endpoint that
// binds connections to rooms, and the metrics endpoint.
package server

import (
	"encoding/json"
	"net/http"

	"github.com/VictoriaMetrics/metrics"
	"github.com/felixge/httpsnoop"
	"github.com/golang/glog"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/harmonyhub/harmony/hub/codec"
	"github.com/harmonyhub/harmony/hub/common"
	"github.com/harmonyhub/harmony/hub/room"
	"github.com/harmonyhub/harmony/hub/session"
	"github.com/harmonyhub/harmony/lib/assets"
	"github.com/harmonyhub/harmony/lib/projects"
)

// mockOwner stands in until authentication exists; every project is owned
// by the same placeholder user.
const mockOwner = "user_123"

const defaultTitle = "Untitled Jam"

// --------------------------------------------------------------------------
// Server
// --------------------------------------------------------------------------

// Server hosts the REST API and the websocket rooms.
type Server struct {
	cfg      common.ServerConfig
	cdc      codec.ICodec
	registry *room.Registry
	projects projects.IStore
	assets   *assets.Issuer
	upgrader websocket.Upgrader
	httpSrv  *http.Server
}

// New creates a server over an already constructed registry and stores.
func New(cfg common.ServerConfig, cdc codec.ICodec, registry *room.Registry, projectStore projects.IStore, issuer *assets.Issuer) *Server {
	s := &Server{
		cfg:      cfg,
		cdc:      cdc,
		registry: registry,
		projects: projectStore,
		assets:   issuer,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Authentication is out of scope; collaboration URLs are
			// capability tokens for now.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
	return s
}

// Router builds the HTTP routing table.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.Use(corsMiddleware)
	r.Use(accessLogMiddleware)

	r.Methods(http.MethodPost).Path("/api/projects").HandlerFunc(s.createProject)
	r.Methods(http.MethodGet).Path("/api/projects/{id}").HandlerFunc(s.getProject)
	r.Methods(http.MethodPost).Path("/api/assets/upload-url").HandlerFunc(s.issueUploadTarget)
	r.Methods(http.MethodGet).Path("/jam/{projectId}").HandlerFunc(s.handleJam)
	r.Methods(http.MethodGet).Path("/metrics").HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		metrics.WritePrometheus(w, true)
	})
	return r
}

// Serve blocks listening on the configured endpoint.
func (s *Server) Serve() error {
	s.httpSrv = &http.Server{Addr: s.cfg.Endpoint, Handler: s.Router()}
	glog.Infof("hub server listening on %s", s.cfg.Endpoint)
	return s.httpSrv.ListenAndServe()
}

// Shutdown stops the listener and evicts all rooms, flushing snapshots.
func (s *Server) Shutdown() {
	if s.httpSrv != nil {
		_ = s.httpSrv.Close()
	}
	s.registry.Shutdown()
}

// --------------------------------------------------------------------------
// REST Handlers
// --------------------------------------------------------------------------

func (s *Server) createProject(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Title string `json:"title"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Title == "" {
		req.Title = defaultTitle
	}
	p, err := s.projects.Create(r.Context(), req.Title, mockOwner)
	if err != nil {
		glog.Errorf("create project: %v", err)
		writeError(w, http.StatusInternalServerError, "could not create project")
		return
	}
	glog.Infof("created project %s (%q)", p.ID, p.Title)
	writeJSON(w, http.StatusOK, map[string]string{
		"projectId": p.ID,
		"message":   "Project created successfully",
	})
}

func (s *Server) getProject(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	p, ok, err := s.projects.Get(r.Context(), id)
	if err != nil {
		glog.Errorf("get project %s: %v", id, err)
		writeError(w, http.StatusInternalServerError, "could not load project")
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "project not found")
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) issueUploadTarget(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Filename string `json:"filename"`
		Filetype string `json:"filetype"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Filename == "" {
		writeError(w, http.StatusBadRequest, "filename is required")
		return
	}
	target := s.assets.Issue(req.Filename, req.Filetype)
	glog.Infof("issued upload target for %q", req.Filename)
	writeJSON(w, http.StatusOK, target)
}

// --------------------------------------------------------------------------
// WebSocket Handler
// --------------------------------------------------------------------------

// handleJam binds an incoming connection to its project room and runs a
// session on it until disconnect.
func (s *Server) handleJam(w http.ResponseWriter, r *http.Request) {
	projectID := mux.Vars(r)["projectId"]

	if s.cfg.StrictRooms {
		_, ok, err := s.projects.Get(r.Context(), projectID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "could not resolve project")
			return
		}
		if !ok {
			// The transport is expected to bind connections to existing
			// projects; anything else is fatal to the connection only.
			writeError(w, http.StatusNotFound, common.NewError(common.RetCUnknownRoom, "no such project %q", projectID).Error())
			return
		}
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		glog.Infof("websocket upgrade failed: %v", err)
		return
	}

	glog.V(1).Infof("new connection for jam %s", projectID)
	rm := s.registry.JoinRoom(projectID)
	sess := session.New(rm, s.cdc, newWSConn(conn), s.cfg.SendQueueSize)
	sess.Run()
}

// --------------------------------------------------------------------------
// Middleware and Helpers
// --------------------------------------------------------------------------

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func accessLogMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m := httpsnoop.CaptureMetrics(next, w, r)
		glog.V(1).Infof("handled %s %s status=%d duration=%s", r.Method, r.URL.Path, m.Code, m.Duration)
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		glog.Errorf("writing response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
