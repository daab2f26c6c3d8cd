// Package api serves editing sessions and the stateless converters over HTTP.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/mattjoyce/tandem/internal/controller"
	"github.com/mattjoyce/tandem/internal/events"
	"github.com/mattjoyce/tandem/internal/log"
	"github.com/mattjoyce/tandem/internal/state"
)

const defaultShutdownTimeout = 10 * time.Second

// Config holds API server configuration.
type Config struct {
	Listen          string
	ShutdownTimeout time.Duration
	// Token, when set, is required on every /v1 route.
	Token string
	// Engine is the template for new sessions. Session and Flavor are
	// filled per request; Deferrer is always owned by the server.
	Engine controller.Options
}

// Server is the HTTP API server.
type Server struct {
	config    Config
	store     SessionStore
	events    *events.Hub
	logger    *slog.Logger
	server    *http.Server
	startedAt time.Time

	mu       sync.Mutex
	sessions map[string]*session
}

// session serializes edits to one controller and drains its deferred work
// after every request.
type session struct {
	mu    sync.Mutex
	ctrl  *controller.Controller
	turns *controller.TurnQueue
}

// New creates a server. store may be nil, in which case sessions live only
// in memory.
func New(config Config, store SessionStore, hub *events.Hub, logger *slog.Logger) *Server {
	if config.ShutdownTimeout <= 0 {
		config.ShutdownTimeout = defaultShutdownTimeout
	}
	if hub == nil {
		hub = events.NewHub(256)
	}
	if logger == nil {
		logger = log.WithComponent("api")
	}
	return &Server{
		config:    config,
		store:     store,
		events:    hub,
		logger:    logger,
		startedAt: time.Now(),
		sessions:  make(map[string]*session),
	}
}

// Handler returns the routed handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.setupRoutes()
}

// Start starts the HTTP server (blocking)
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:         s.config.Listen,
		Handler:      s.setupRoutes(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 0, // SSE streams stay open
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("API server starting", "listen", s.config.Listen)

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("API server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}
		return ctx.Err()
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}
}

func (s *Server) setupRoutes() *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.loggingMiddleware)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealthz)
	r.Get("/openapi.json", s.handleOpenAPI)

	r.Route("/v1", func(r chi.Router) {
		r.Use(s.authMiddleware)

		r.Post("/sessions", s.handleCreateSession)
		r.Get("/sessions/{id}", s.handleGetSession)
		r.Delete("/sessions/{id}", s.handleDeleteSession)
		r.Post("/sessions/{id}/edits", s.handleApplyEdit)
		r.Get("/sessions/{id}/revisions", s.handleRevisions)

		r.Post("/jobs/parse", s.handleParseJobs)
		r.Post("/jobs/generate", s.handleGenerateJobs)
		r.Post("/script/parse", s.handleParseScript)
		r.Post("/script/generate", s.handleGenerateScript)
		r.Post("/workflow/generate", s.handleGenerateWorkflow)
		r.Post("/graph/dot", s.handleGraphDOT)

		r.Get("/events", s.handleEvents)
	})

	return r
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

// newSession builds a controller for id from the engine template.
func (s *Server) newSession(id string, flavor controller.Flavor) *session {
	turns := controller.NewTurnQueue()
	opts := s.config.Engine
	opts.Session = id
	opts.Deferrer = turns
	if flavor != "" {
		opts.Flavor = flavor
	}
	return &session{
		ctrl:  controller.New(opts, s.events, nil),
		turns: turns,
	}
}

// lookup returns the live session, restoring it from the store when the
// server has restarted since it was last used.
func (s *Server) lookup(ctx context.Context, id string) (*session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sess, ok := s.sessions[id]; ok {
		return sess, nil
	}
	if s.store == nil {
		return nil, state.ErrSessionNotFound
	}

	rec, err := s.store.Load(ctx, id)
	if err != nil {
		return nil, err
	}
	sess := s.newSession(id, rec.Flavor)
	if err := sess.ctrl.Restore(rec.Snapshot); err != nil {
		return nil, fmt.Errorf("restore session %s: %w", id, err)
	}
	s.sessions[id] = sess
	s.logger.Info("session restored", "session_id", id, "revision", rec.Revision)
	return sess, nil
}

func (s *Server) register(sess *session) {
	s.mu.Lock()
	s.sessions[sess.ctrl.Session()] = sess
	s.mu.Unlock()
}

func (s *Server) forget(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.sessions[id]
	delete(s.sessions, id)
	return ok
}

func (s *Server) sessionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// persist saves snap. Callers hold the session lock so revisions are written
// in the order edits were applied. Failures are logged; the in-memory session
// stays authoritative.
func (s *Server) persist(ctx context.Context, snap controller.Snapshot) string {
	if s.store == nil {
		return ""
	}
	revision, saved, err := s.store.Save(ctx, snap)
	if err != nil {
		s.logger.Warn("failed to persist session", "session_id", snap.Session, "error", err)
		return ""
	}
	if saved {
		s.logger.Debug("session persisted", "session_id", snap.Session, "revision", revision)
	}
	return revision
}
