// Package api provides the HTTP API for the weave daemon.
package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"weave/internal/config"
	"weave/internal/kernel"
	"weave/internal/node"
	"weave/internal/patch"
	"weave/internal/proto"
	"weave/internal/schedule"
	"weave/internal/session"
	"weave/internal/store"
)

// Version is the daemon version string.
const Version = "0.1.0"

// Handler wraps the session registry, kernel manager and config.
type Handler struct {
	cfg     *config.Config
	manager *kernel.Manager
	db      *store.DB

	mu       sync.Mutex
	sessions map[string]*session.Session

	upgrader websocket.Upgrader
}

// NewHandler creates a new API handler. db may be nil.
func NewHandler(cfg *config.Config, manager *kernel.Manager, db *store.DB) *Handler {
	return &Handler{
		cfg:      cfg,
		manager:  manager,
		db:       db,
		sessions: make(map[string]*session.Session),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
}

// NewRouter creates the HTTP router with all routes registered.
func NewRouter(cfg *config.Config, manager *kernel.Manager, db *store.DB) http.Handler {
	h := NewHandler(cfg, manager, db)
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", h.Health)
	mux.HandleFunc("GET /healthz", h.Health)

	mux.HandleFunc("POST /v1/sessions", h.CreateSession)
	mux.HandleFunc("GET /v1/sessions", h.ListSessions)
	mux.HandleFunc("GET /v1/sessions/{id}", h.GetDocument)
	mux.HandleFunc("POST /v1/sessions/{id}/patch", h.ApplyPatch)
	mux.HandleFunc("POST /v1/sessions/{id}/diff", h.Diff)
	mux.HandleFunc("POST /v1/sessions/{id}/update", h.Update)
	mux.HandleFunc("POST /v1/sessions/{id}/execute", h.Execute)
	mux.HandleFunc("POST /v1/sessions/{id}/cancel/{node}", h.Cancel)
	mux.HandleFunc("GET /v1/sessions/{id}/patches", h.PatchFeed)

	mux.HandleFunc("GET /v1/kernels", h.ListKernels)

	return mux
}

func (h *Handler) sessionFor(r *http.Request) (*session.Session, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	s, ok := h.sessions[r.PathValue("id")]
	return s, ok
}

// ----- Health -----

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, proto.HealthResponse{
		Status:  "ok",
		Version: Version,
	})
}

// ----- Sessions -----

func (h *Handler) CreateSession(w http.ResponseWriter, r *http.Request) {
	var req proto.CreateSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	if len(req.Document) == 0 {
		writeError(w, http.StatusBadRequest, "document required", nil)
		return
	}
	format := session.Format(req.Format)
	if format == "" {
		format = session.FormatJSON
	}
	id := req.ID
	if id == "" {
		id = uuid.NewString()
	}

	h.mu.Lock()
	if _, exists := h.sessions[id]; exists {
		h.mu.Unlock()
		writeError(w, http.StatusConflict, fmt.Sprintf("session %q already exists", id), nil)
		return
	}
	opts := schedule.Options{MaxConcurrency: h.cfg.MaxConcurrency}
	s := session.New(id, h.manager, opts, h.db)
	h.sessions[id] = s
	h.mu.Unlock()

	if err := s.Load(req.Document, format); err != nil {
		h.mu.Lock()
		delete(h.sessions, id)
		h.mu.Unlock()
		writeError(w, http.StatusBadRequest, "failed to load document", err)
		return
	}
	writeJSON(w, http.StatusCreated, proto.SessionInfo{ID: id, Seq: s.Seq()})
}

func (h *Handler) ListSessions(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	infos := make([]proto.SessionInfo, 0, len(h.sessions))
	for id, s := range h.sessions {
		infos = append(infos, proto.SessionInfo{ID: id, Seq: s.Seq()})
	}
	h.mu.Unlock()
	sort.Slice(infos, func(i, j int) bool { return infos[i].ID < infos[j].ID })
	writeJSON(w, http.StatusOK, proto.SessionsResponse{Sessions: infos})
}

func (h *Handler) GetDocument(w http.ResponseWriter, r *http.Request) {
	s, ok := h.sessionFor(r)
	if !ok {
		writeError(w, http.StatusNotFound, "session not found", nil)
		return
	}
	writeJSON(w, http.StatusOK, s.Root())
}

func (h *Handler) ApplyPatch(w http.ResponseWriter, r *http.Request) {
	s, ok := h.sessionFor(r)
	if !ok {
		writeError(w, http.StatusNotFound, "session not found", nil)
		return
	}
	var p patch.Patch
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		writeError(w, http.StatusBadRequest, "invalid patch", err)
		return
	}
	if err := s.Apply(p); err != nil {
		writeError(w, http.StatusUnprocessableEntity, "failed to apply patch", err)
		return
	}
	writeJSON(w, http.StatusOK, proto.ApplyResponse{Seq: s.Seq()})
}

func (h *Handler) Diff(w http.ResponseWriter, r *http.Request) {
	s, ok := h.sessionFor(r)
	if !ok {
		writeError(w, http.StatusNotFound, "session not found", nil)
		return
	}
	var req proto.UpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	incoming, err := node.FromJSON(req.Document)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid document", err)
		return
	}
	raw, err := s.Diff(incoming).ToJSON()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to encode patch", err)
		return
	}
	writeJSON(w, http.StatusOK, proto.DiffResponse{Patch: raw})
}

func (h *Handler) Update(w http.ResponseWriter, r *http.Request) {
	s, ok := h.sessionFor(r)
	if !ok {
		writeError(w, http.StatusNotFound, "session not found", nil)
		return
	}
	var req proto.UpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	incoming, err := node.FromJSON(req.Document)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid document", err)
		return
	}
	p, err := s.Update(incoming)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, "failed to apply update", err)
		return
	}
	raw, err := p.ToJSON()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to encode patch", err)
		return
	}
	writeJSON(w, http.StatusOK, proto.UpdateResponse{Patch: raw, Seq: s.Seq()})
}

func (h *Handler) Execute(w http.ResponseWriter, r *http.Request) {
	s, ok := h.sessionFor(r)
	if !ok {
		writeError(w, http.StatusNotFound, "session not found", nil)
		return
	}
	terminal, err := s.Execute(r.Context())
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, "execution failed", err)
		return
	}
	statuses := make(map[string]string, len(terminal))
	for id, st := range terminal {
		statuses[id] = string(st)
	}
	writeJSON(w, http.StatusOK, proto.ExecuteResponse{Statuses: statuses})
}

func (h *Handler) Cancel(w http.ResponseWriter, r *http.Request) {
	s, ok := h.sessionFor(r)
	if !ok {
		writeError(w, http.StatusNotFound, "session not found", nil)
		return
	}
	s.Cancel(r.PathValue("node"))
	w.WriteHeader(http.StatusNoContent)
}

// PatchFeed upgrades to a WebSocket and streams every patch applied to
// the session until the client disconnects.
func (h *Handler) PatchFeed(w http.ResponseWriter, r *http.Request) {
	s, ok := h.sessionFor(r)
	if !ok {
		writeError(w, http.StatusNotFound, "session not found", nil)
		return
	}
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	feed, unsubscribe := s.Subscribe()
	defer unsubscribe()

	// Reader goroutine: we never expect messages, only the close.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case p, ok := <-feed:
			if !ok {
				return
			}
			if err := conn.WriteJSON(p); err != nil {
				return
			}
		case <-closed:
			return
		}
	}
}

// ----- Kernels -----

func (h *Handler) ListKernels(w http.ResponseWriter, r *http.Request) {
	types := h.manager.Types()
	infos := make([]proto.KernelInfo, 0, len(types))
	for _, t := range types {
		infos = append(infos, proto.KernelInfo{
			Name:      t.Name,
			Languages: t.Languages,
			Tags:      t.Tags,
			Fork:      t.Fork,
		})
	}
	writeJSON(w, http.StatusOK, proto.KernelsResponse{Kernels: infos})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string, err error) {
	resp := proto.ErrorResponse{Error: msg}
	if err != nil {
		resp.Details = err.Error()
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(resp)
}
