// Package api exposes the local control surface for driving the
// orchestrator: start/join/hangup/mute plus status and transcript
// reads. Bound to loopback by default; there is no auth layer here.
package api

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	logging "github.com/ipfs/go-log/v2"

	"github.com/hireloop/agentcall/internal/schedule"
	"github.com/hireloop/agentcall/internal/session"
)

var log = logging.Logger("api")

// Factory builds a session and its schedule gate. A zero scheduled time
// means "join immediately".
type Factory func(id string, scheduled time.Time) (*session.Session, *schedule.Gate, error)

// Server is the control API. Sessions live in the manager; the server
// only tracks the schedule gate attached to each one.
type Server struct {
	mgr     *session.Manager
	factory Factory

	mu    sync.Mutex
	gates map[string]*schedule.Gate
}

func New(mgr *session.Manager, factory Factory) *Server {
	return &Server{
		mgr:     mgr,
		factory: factory,
		gates:   make(map[string]*schedule.Gate),
	}
}

// Router builds the HTTP routes.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/api/call/start", s.handleStart).Methods(http.MethodPost)
	r.HandleFunc("/api/call/debug", s.handleDebug).Methods(http.MethodGet)
	r.HandleFunc("/api/call/{id}/join", s.handleJoin).Methods(http.MethodPost)
	r.HandleFunc("/api/call/{id}/hangup", s.handleHangup).Methods(http.MethodPost)
	r.HandleFunc("/api/call/{id}/mute", s.handleMute).Methods(http.MethodPost)
	r.HandleFunc("/api/call/{id}/message", s.handleMessage).Methods(http.MethodPost)
	r.HandleFunc("/api/call/{id}/status", s.handleStatus).Methods(http.MethodGet)
	r.HandleFunc("/api/call/{id}/transcript", s.handleTranscript).Methods(http.MethodGet)
	r.HandleFunc("/api/call/{id}", s.handleDelete).Methods(http.MethodDelete)
	return r
}

// Shutdown stops every gate and hangs up every session, waiting for
// the teardowns so the caller may leave the room afterwards.
func (s *Server) Shutdown() {
	s.mu.Lock()
	gates := s.gates
	s.gates = make(map[string]*schedule.Gate)
	s.mu.Unlock()

	for _, g := range gates {
		g.Stop()
	}
	s.mgr.CloseAll()
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ScheduledStartTime string `json:"scheduled_start_time,omitempty"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}

	var scheduled time.Time
	if req.ScheduledStartTime != "" {
		t, err := time.Parse(time.RFC3339, req.ScheduledStartTime)
		if err != nil {
			http.Error(w, "scheduled_start_time must be RFC3339", http.StatusBadRequest)
			return
		}
		scheduled = t
	}

	id := uuid.NewString()
	sess, gate, err := s.factory(id, scheduled)
	if err != nil {
		http.Error(w, "create session: "+err.Error(), http.StatusInternalServerError)
		return
	}

	s.mgr.Add(sess)
	s.mu.Lock()
	s.gates[id] = gate
	s.mu.Unlock()

	waiting := !gate.ShouldJoinNow()
	gate.Start(schedule.Callbacks{
		Attempt: sess.Start,
		Failed: func(err error) {
			log.Warnf("api: session %s failed to join: %v", id, err)
		},
	})

	writeJSON(w, map[string]any{
		"id":                id,
		"state":             sess.State(),
		"waiting":           waiting,
		"remaining_seconds": int(gate.Remaining() / time.Second),
	})
}

func (s *Server) handleJoin(w http.ResponseWriter, r *http.Request) {
	sess, gate, ok := s.lookup(mux.Vars(r)["id"])
	if !ok {
		http.Error(w, "session not found", http.StatusNotFound)
		return
	}
	gate.JoinNow()
	writeJSON(w, map[string]any{"state": sess.State()})
}

func (s *Server) handleHangup(w http.ResponseWriter, r *http.Request) {
	sess, gate, ok := s.lookup(mux.Vars(r)["id"])
	if !ok {
		http.Error(w, "session not found", http.StatusNotFound)
		return
	}
	gate.Stop()
	sess.Hangup()
	writeJSON(w, map[string]string{"status": "hung_up"})
}

// handleDelete hangs the session up and drops it from the registry, so
// its final status and transcript stop being served.
func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	sess, gate, ok := s.lookup(id)
	if !ok {
		http.Error(w, "session not found", http.StatusNotFound)
		return
	}
	gate.Stop()
	sess.Hangup()
	<-sess.Done()

	s.mgr.Remove(id)
	s.mu.Lock()
	delete(s.gates, id)
	s.mu.Unlock()

	writeJSON(w, map[string]string{"status": "removed"})
}

func (s *Server) handleMute(w http.ResponseWriter, r *http.Request) {
	sess, _, ok := s.lookup(mux.Vars(r)["id"])
	if !ok {
		http.Error(w, "session not found", http.StatusNotFound)
		return
	}
	writeJSON(w, map[string]bool{"muted": sess.ToggleMute()})
}

func (s *Server) handleMessage(w http.ResponseWriter, r *http.Request) {
	sess, _, ok := s.lookup(mux.Vars(r)["id"])
	if !ok {
		http.Error(w, "session not found", http.StatusNotFound)
		return
	}
	var req struct {
		Content string `json:"content"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Content == "" {
		http.Error(w, "missing content", http.StatusBadRequest)
		return
	}
	sess.PushUserTurn(req.Content)
	writeJSON(w, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	sess, _, ok := s.lookup(mux.Vars(r)["id"])
	if !ok {
		http.Error(w, "session not found", http.StatusNotFound)
		return
	}
	writeJSON(w, sess.Status())
}

func (s *Server) handleTranscript(w http.ResponseWriter, r *http.Request) {
	sess, _, ok := s.lookup(mux.Vars(r)["id"])
	if !ok {
		http.Error(w, "session not found", http.StatusNotFound)
		return
	}
	writeJSON(w, map[string]any{
		"turns":   sess.Transcript(),
		"partial": sess.Partial(),
	})
}

func (s *Server) handleDebug(w http.ResponseWriter, r *http.Request) {
	sessions := s.mgr.All()
	statuses := make([]session.Status, 0, len(sessions))
	for _, sess := range sessions {
		statuses = append(statuses, sess.Status())
	}
	writeJSON(w, map[string]any{
		"session_count": len(statuses),
		"sessions":      statuses,
	})
}

func (s *Server) lookup(id string) (*session.Session, *schedule.Gate, bool) {
	sess, ok := s.mgr.Get(id)
	if !ok {
		return nil, nil, false
	}
	s.mu.Lock()
	gate := s.gates[id]
	s.mu.Unlock()
	if gate == nil {
		return nil, nil, false
	}
	return sess, gate, true
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Debugf("api: write response: %v", err)
	}
}

// decodeJSON parses the request body; an empty body decodes to the zero
// value so POSTs without arguments stay valid.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if r.Body == nil || r.ContentLength == 0 {
		return true
	}
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		http.Error(w, "invalid JSON body", http.StatusBadRequest)
		return false
	}
	return true
}
