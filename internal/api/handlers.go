package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/mattjoyce/tandem/internal/controller"
	"github.com/mattjoyce/tandem/internal/dot"
	"github.com/mattjoyce/tandem/internal/events"
	"github.com/mattjoyce/tandem/internal/graph"
	"github.com/mattjoyce/tandem/internal/jobspec"
	"github.com/mattjoyce/tandem/internal/script"
	"github.com/mattjoyce/tandem/internal/state"
)

// maxBodyBytes bounds request bodies; pipeline text is small.
const maxBodyBytes = 1 << 20

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, HealthzResponse{
		Status:        "ok",
		UptimeSeconds: int64(time.Since(s.startedAt).Seconds()),
		Sessions:      s.sessionCount(),
		Persistent:    s.store != nil,
	})
}

// handleCreateSession handles POST /v1/sessions.
func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req CreateSessionRequest
	if r.ContentLength != 0 {
		if !s.decode(w, r, &req) {
			return
		}
	}
	if req.Flavor != "" && !req.Flavor.Valid() {
		s.writeError(w, http.StatusBadRequest, "unknown flavor: "+string(req.Flavor))
		return
	}

	sess := s.newSession(uuid.NewString(), req.Flavor)
	resp := SessionResponse{}

	sess.mu.Lock()
	defer sess.mu.Unlock()
	if req.Text != "" {
		rep := sess.ctrl.Flavor().Representations()[0]
		res, err := sess.ctrl.ApplyEdit(controller.TextEdit(rep, req.Text))
		sess.turns.Flush()
		if err != nil {
			s.writeEditError(w, err)
			return
		}
		resp.Result = res
	}
	snap := sess.ctrl.Snapshot()
	fillSession(&resp, snap)
	resp.Revision = s.persist(r.Context(), snap)

	s.register(sess)
	s.events.Publish(sess.ctrl.Session(), events.SessionCreated, map[string]any{
		"session": sess.ctrl.Session(),
		"flavor":  sess.ctrl.Flavor(),
	})
	s.logger.Info("session created", "session_id", sess.ctrl.Session(), "flavor", sess.ctrl.Flavor())

	respondJSON(w, http.StatusCreated, resp)
}

// handleGetSession handles GET /v1/sessions/{id}.
func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}

	sess.mu.Lock()
	snap := sess.ctrl.Snapshot()
	sess.mu.Unlock()

	var resp SessionResponse
	fillSession(&resp, snap)
	respondJSON(w, http.StatusOK, resp)
}

// handleDeleteSession handles DELETE /v1/sessions/{id}.
func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	live := s.forget(id)

	if s.store != nil {
		err := s.store.Delete(r.Context(), id)
		if err != nil && !(errors.Is(err, state.ErrSessionNotFound) && live) {
			s.writeStoreError(w, err)
			return
		}
	} else if !live {
		s.writeError(w, http.StatusNotFound, "session not found")
		return
	}

	s.logger.Info("session deleted", "session_id", id)
	w.WriteHeader(http.StatusNoContent)
}

// handleApplyEdit handles POST /v1/sessions/{id}/edits. The body is one
// edit event; the session's deferred work is drained before responding.
func (s *Server) handleApplyEdit(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}

	var ev controller.Event
	if !s.decode(w, r, &ev) {
		return
	}
	if ev.Type == "" {
		s.writeError(w, http.StatusBadRequest, "edit type is required")
		return
	}
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}

	sess.mu.Lock()
	res, err := sess.ctrl.ApplyEdit(ev)
	sess.turns.Flush()
	if err != nil {
		sess.mu.Unlock()
		s.writeEditError(w, err)
		return
	}
	resp := EditResponse{Result: res}
	if res.Changed {
		resp.Revision = s.persist(r.Context(), sess.ctrl.Snapshot())
	}
	sess.mu.Unlock()

	respondJSON(w, http.StatusOK, resp)
}

// handleRevisions handles GET /v1/sessions/{id}/revisions.
func (s *Server) handleRevisions(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		s.writeError(w, http.StatusNotFound, "session persistence is disabled")
		return
	}
	id := chi.URLParam(r, "id")
	revs, err := s.store.Revisions(r.Context(), id)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, RevisionsResponse{Session: id, Revisions: revs})
}

// handleParseJobs handles POST /v1/jobs/parse.
func (s *Server) handleParseJobs(w http.ResponseWriter, r *http.Request) {
	var req TextRequest
	if !s.decode(w, r, &req) {
		return
	}
	res := jobspec.Parse(req.Text)
	g, err := graph.Build(res.Nodes, res.Edges)
	if err != nil {
		s.writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, ParseResponse{Graph: g.Document(), Warnings: res.Warnings})
}

// handleParseScript handles POST /v1/script/parse.
func (s *Server) handleParseScript(w http.ResponseWriter, r *http.Request) {
	var req TextRequest
	if !s.decode(w, r, &req) {
		return
	}
	res := script.Parser{Banner: s.config.Engine.Script.Banner}.Parse(req.Text)
	g, err := graph.Build(res.Nodes, res.Edges)
	if err != nil {
		s.writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, ParseResponse{Graph: g.Document()})
}

// handleGenerateJobs handles POST /v1/jobs/generate.
func (s *Server) handleGenerateJobs(w http.ResponseWriter, r *http.Request) {
	g, ok := s.decodeGraph(w, r, nil)
	if !ok {
		return
	}
	gen := jobspec.Generator{DefaultImage: s.config.Engine.DefaultImage}
	respondJSON(w, http.StatusOK, GenerateResponse{Text: gen.Generate(g)})
}

// handleGenerateScript handles POST /v1/script/generate.
func (s *Server) handleGenerateScript(w http.ResponseWriter, r *http.Request) {
	g, ok := s.decodeGraph(w, r, nil)
	if !ok {
		return
	}
	respondJSON(w, http.StatusOK, rendered(s.config.Engine.Script.Render(g)))
}

// handleGenerateWorkflow handles POST /v1/workflow/generate.
func (s *Server) handleGenerateWorkflow(w http.ResponseWriter, r *http.Request) {
	g, ok := s.decodeGraph(w, r, nil)
	if !ok {
		return
	}
	respondJSON(w, http.StatusOK, rendered(s.config.Engine.Workflow.Render(g)))
}

// handleGraphDOT handles POST /v1/graph/dot and answers with DOT source.
func (s *Server) handleGraphDOT(w http.ResponseWriter, r *http.Request) {
	var req GraphRequest
	g, ok := s.decodeGraph(w, r, &req)
	if !ok {
		return
	}
	src, err := dot.Export(g, req.Name)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "failed to export graph: "+err.Error())
		return
	}
	w.Header().Set("Content-Type", "text/vnd.graphviz; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(src))
}

// session resolves the {id} route parameter, writing the error response
// when it cannot.
func (s *Server) session(w http.ResponseWriter, r *http.Request) (*session, bool) {
	sess, err := s.lookup(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeStoreError(w, err)
		return nil, false
	}
	return sess, true
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

func (s *Server) decodeGraph(w http.ResponseWriter, r *http.Request, req *GraphRequest) (*graph.Graph, bool) {
	if req == nil {
		req = &GraphRequest{}
	}
	if !s.decode(w, r, req) {
		return nil, false
	}
	g, err := req.Graph.Graph()
	if err != nil {
		s.writeError(w, http.StatusUnprocessableEntity, err.Error())
		return nil, false
	}
	return g, true
}

func rendered(out script.Rendered) GenerateResponse {
	resp := GenerateResponse{Text: out.Text, Truncated: out.Truncated, Omitted: out.Omitted}
	if out.Truncated {
		resp.Stop = string(out.Stop)
	}
	return resp
}

func fillSession(resp *SessionResponse, snap controller.Snapshot) {
	resp.Session = snap.Session
	resp.Flavor = snap.Flavor
	resp.Graph = snap.Graph
	resp.Texts = snap.Texts
	resp.Manual = snap.Manual
}

// respondJSON is a helper to write JSON responses
func respondJSON(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response
func (s *Server) writeError(w http.ResponseWriter, statusCode int, message string) {
	respondJSON(w, statusCode, ErrorResponse{Error: message})
}

func (s *Server) writeEditError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, controller.ErrInvalidEdit), errors.Is(err, controller.ErrUnsupportedRepresentation):
		s.writeError(w, http.StatusUnprocessableEntity, err.Error())
	default:
		s.logger.Error("edit failed", "error", err)
		s.writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func (s *Server) writeStoreError(w http.ResponseWriter, err error) {
	if errors.Is(err, state.ErrSessionNotFound) {
		s.writeError(w, http.StatusNotFound, "session not found")
		return
	}
	s.logger.Error("session store failed", "error", err)
	s.writeError(w, http.StatusInternalServerError, "session store failed")
}
