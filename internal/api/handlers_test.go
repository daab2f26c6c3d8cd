package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/tandem/internal/api/mocks"
	"github.com/mattjoyce/tandem/internal/controller"
	"github.com/mattjoyce/tandem/internal/events"
	"github.com/mattjoyce/tandem/internal/graph"
	"github.com/mattjoyce/tandem/internal/state"
)

const threeJobs = `- name: build
  image: golang:1.22
  commands: go build ./...
- name: test
  image: golang:1.22
  commands: go test ./...
  dependencies: [build]
- name: deploy
  image: alpine
  dependencies: [test]
`

func newTestServer(t *testing.T, store SessionStore, cfg Config) (*Server, *events.Hub) {
	t.Helper()
	hub := events.NewHub(64)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(cfg, store, hub, logger), hub
}

func doJSON(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, rd)
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func decodeBody[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &out), rr.Body.String())
	return out
}

func createJobsSession(t *testing.T, h http.Handler) SessionResponse {
	t.Helper()
	rr := doJSON(t, h, http.MethodPost, "/v1/sessions", CreateSessionRequest{Flavor: controller.FlavorJobs, Text: threeJobs})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	return decodeBody[SessionResponse](t, rr)
}

func TestHealthz(t *testing.T) {
	s, _ := newTestServer(t, nil, Config{})
	h := s.Handler()
	createJobsSession(t, h)

	rr := doJSON(t, h, http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	resp := decodeBody[HealthzResponse](t, rr)
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, 1, resp.Sessions)
	assert.False(t, resp.Persistent)
}

func TestCreateAndGetSession(t *testing.T) {
	s, _ := newTestServer(t, nil, Config{})
	h := s.Handler()

	created := createJobsSession(t, h)
	assert.NotEmpty(t, created.Session)
	assert.Equal(t, controller.FlavorJobs, created.Flavor)
	require.NotNil(t, created.Result)
	assert.True(t, created.Result.Changed)
	assert.Len(t, created.Graph.Nodes, 3)
	assert.Len(t, created.Graph.Edges, 2)
	assert.Equal(t, threeJobs, created.Texts[controller.Jobs])

	rr := doJSON(t, h, http.MethodGet, "/v1/sessions/"+created.Session, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	got := decodeBody[SessionResponse](t, rr)
	assert.Equal(t, created.Graph, got.Graph)
	assert.Nil(t, got.Result)
}

func TestCreateSessionDefaults(t *testing.T) {
	s, _ := newTestServer(t, nil, Config{Engine: controller.Options{Flavor: controller.FlavorScript}})
	h := s.Handler()

	rr := doJSON(t, h, http.MethodPost, "/v1/sessions", nil)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	resp := decodeBody[SessionResponse](t, rr)
	assert.Equal(t, controller.FlavorScript, resp.Flavor)
	require.Len(t, resp.Graph.Nodes, 1)
	assert.Equal(t, graph.KindStart, resp.Graph.Nodes[0].Kind)
	assert.Contains(t, resp.Texts, controller.Workflow)
}

func TestCreateSessionRejectsUnknownFlavor(t *testing.T) {
	s, _ := newTestServer(t, nil, Config{})
	rr := doJSON(t, s.Handler(), http.MethodPost, "/v1/sessions", CreateSessionRequest{Flavor: "gitlab"})
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestApplyEditAddsNode(t *testing.T) {
	s, _ := newTestServer(t, nil, Config{})
	h := s.Handler()
	created := createJobsSession(t, h)

	ev := controller.AddNode(&graph.Node{Kind: graph.KindNotify, DisplayName: "Notify"})
	rr := doJSON(t, h, http.MethodPost, "/v1/sessions/"+created.Session+"/edits", ev)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	resp := decodeBody[EditResponse](t, rr)
	require.NotNil(t, resp.Result)
	assert.Equal(t, ev.ID, resp.Result.EventID)
	assert.Equal(t, "node-1", resp.Result.NodeID)
	assert.True(t, resp.Result.Changed)
	assert.Len(t, resp.Result.Graph.Nodes, 4)
	assert.Contains(t, resp.Result.Texts[controller.Jobs], "name: notify")
	assert.Empty(t, resp.Revision)
}

func TestApplyEditFollowUpTextIsAcknowledged(t *testing.T) {
	s, _ := newTestServer(t, nil, Config{})
	h := s.Handler()
	created := createJobsSession(t, h)
	path := "/v1/sessions/" + created.Session + "/edits"

	rr := doJSON(t, h, http.MethodPost, path, controller.AddNode(&graph.Node{Kind: graph.KindTest}))
	require.Equal(t, http.StatusOK, rr.Code)
	text := decodeBody[EditResponse](t, rr).Result.Texts[controller.Jobs]
	require.NotEmpty(t, text)

	// An editor echoing the regenerated text back changes nothing.
	rr = doJSON(t, h, http.MethodPost, path, controller.TextEdit(controller.Jobs, text))
	require.Equal(t, http.StatusOK, rr.Code)
	res := decodeBody[EditResponse](t, rr).Result
	assert.True(t, res.Acknowledged)
	assert.False(t, res.Changed)
}

func TestApplyEditErrors(t *testing.T) {
	s, _ := newTestServer(t, nil, Config{})
	h := s.Handler()
	created := createJobsSession(t, h)
	path := "/v1/sessions/" + created.Session + "/edits"

	tests := []struct {
		name string
		body any
		want int
	}{
		{"missing type", map[string]any{"text": "x"}, http.StatusBadRequest},
		{"unknown type", map[string]any{"type": "node_exploded"}, http.StatusUnprocessableEntity},
		{"derived representation", controller.TextEdit(controller.Script, "echo hi"), http.StatusUnprocessableEntity},
		{"move without position", map[string]any{"type": "node_moved", "node_id": "job-0"}, http.StatusUnprocessableEntity},
		{"not json", "{", http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var rr *httptest.ResponseRecorder
			if raw, ok := tt.body.(string); ok {
				req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(raw))
				rr = httptest.NewRecorder()
				h.ServeHTTP(rr, req)
			} else {
				rr = doJSON(t, h, http.MethodPost, path, tt.body)
			}
			assert.Equal(t, tt.want, rr.Code, rr.Body.String())
			assert.NotEmpty(t, decodeBody[ErrorResponse](t, rr).Error)
		})
	}
}

func TestUnknownSessionWithoutStore(t *testing.T) {
	s, _ := newTestServer(t, nil, Config{})
	h := s.Handler()

	assert.Equal(t, http.StatusNotFound, doJSON(t, h, http.MethodGet, "/v1/sessions/nope", nil).Code)
	assert.Equal(t, http.StatusNotFound, doJSON(t, h, http.MethodDelete, "/v1/sessions/nope", nil).Code)
	assert.Equal(t, http.StatusNotFound, doJSON(t, h, http.MethodGet, "/v1/sessions/nope/revisions", nil).Code)
}

func TestSessionsArePersisted(t *testing.T) {
	ctrl := gomock.NewController(t)
	store := mocks.NewMockSessionStore(ctrl)
	s, _ := newTestServer(t, store, Config{})
	h := s.Handler()

	var saved []controller.Snapshot
	store.EXPECT().Save(gomock.Any(), gomock.Any()).DoAndReturn(func(_ context.Context, snap controller.Snapshot) (string, bool, error) {
		saved = append(saved, snap)
		return "rev-1", true, nil
	})
	created := createJobsSession(t, h)
	assert.Equal(t, "rev-1", created.Revision)

	store.EXPECT().Save(gomock.Any(), gomock.Any()).Return("rev-2", true, nil)
	rr := doJSON(t, h, http.MethodPost, "/v1/sessions/"+created.Session+"/edits", controller.RemoveNode("job-2"))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "rev-2", decodeBody[EditResponse](t, rr).Revision)

	// A no-op edit is not persisted.
	rr = doJSON(t, h, http.MethodPost, "/v1/sessions/"+created.Session+"/edits", controller.RemoveNode("job-2"))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Empty(t, decodeBody[EditResponse](t, rr).Revision)

	require.Len(t, saved, 1)
	assert.Equal(t, created.Session, saved[0].Session)
	assert.Len(t, saved[0].Graph.Nodes, 3)
}

func TestConcurrentEditsPersistInOrder(t *testing.T) {
	ctrl := gomock.NewController(t)
	store := mocks.NewMockSessionStore(ctrl)
	s, _ := newTestServer(t, store, Config{})
	h := s.Handler()

	var (
		mu     sync.Mutex
		counts []int
	)
	store.EXPECT().Save(gomock.Any(), gomock.Any()).DoAndReturn(func(_ context.Context, snap controller.Snapshot) (string, bool, error) {
		size := 0
		for _, text := range snap.Texts {
			size += len(text)
		}
		mu.Lock()
		defer mu.Unlock()
		counts = append(counts, len(snap.Graph.Nodes))
		return "rev", size > 0, nil
	}).AnyTimes()

	created := createJobsSession(t, h)
	path := "/v1/sessions/" + created.Session + "/edits"

	const workers, perWorker = 8, 20
	var wg sync.WaitGroup
	codes := make(chan int, workers*perWorker)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				ev := controller.AddNode(&graph.Node{Kind: graph.KindNotify, DisplayName: "Notify"})
				codes <- doJSON(t, h, http.MethodPost, path, ev).Code
				_ = doJSON(t, h, http.MethodGet, "/v1/sessions/"+created.Session, nil)
			}
		}()
	}
	wg.Wait()
	close(codes)
	for code := range codes {
		assert.Equal(t, http.StatusOK, code)
	}

	rr := doJSON(t, h, http.MethodGet, "/v1/sessions/"+created.Session, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Len(t, decodeBody[SessionResponse](t, rr).Graph.Nodes, 3+workers*perWorker)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, counts, 1+workers*perWorker)
	for i := 1; i < len(counts); i++ {
		assert.Equal(t, counts[i-1]+1, counts[i], "revision %d saved out of order", i)
	}
}

func TestPersistFailureDoesNotFailEdit(t *testing.T) {
	ctrl := gomock.NewController(t)
	store := mocks.NewMockSessionStore(ctrl)
	s, _ := newTestServer(t, store, Config{})

	store.EXPECT().Save(gomock.Any(), gomock.Any()).Return("", false, errors.New("disk full"))
	rr := doJSON(t, s.Handler(), http.MethodPost, "/v1/sessions", CreateSessionRequest{Text: threeJobs})
	require.Equal(t, http.StatusCreated, rr.Code)
	assert.Empty(t, decodeBody[SessionResponse](t, rr).Revision)
}

func TestSessionIsRestoredLazily(t *testing.T) {
	source := controller.New(controller.Options{Session: "restored", Flavor: controller.FlavorJobs}, nil, nil)
	_, err := source.ApplyEdit(controller.TextEdit(controller.Jobs, threeJobs))
	require.NoError(t, err)
	snap := source.Snapshot()

	ctrl := gomock.NewController(t)
	store := mocks.NewMockSessionStore(ctrl)
	s, _ := newTestServer(t, store, Config{})
	h := s.Handler()

	store.EXPECT().Load(gomock.Any(), "restored").Return(&state.Record{
		ID:       "restored",
		Flavor:   controller.FlavorJobs,
		Revision: "rev-9",
		Snapshot: snap,
	}, nil).Times(1)

	rr := doJSON(t, h, http.MethodGet, "/v1/sessions/restored", nil)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	got := decodeBody[SessionResponse](t, rr)
	assert.Equal(t, snap.Graph, got.Graph)
	assert.Equal(t, threeJobs, got.Texts[controller.Jobs])

	// Second lookup is served from memory.
	rr = doJSON(t, h, http.MethodGet, "/v1/sessions/restored", nil)
	require.Equal(t, http.StatusOK, rr.Code)
}

func TestSessionStoreErrors(t *testing.T) {
	ctrl := gomock.NewController(t)
	store := mocks.NewMockSessionStore(ctrl)
	s, _ := newTestServer(t, store, Config{})
	h := s.Handler()

	store.EXPECT().Load(gomock.Any(), "gone").Return(nil, state.ErrSessionNotFound)
	assert.Equal(t, http.StatusNotFound, doJSON(t, h, http.MethodGet, "/v1/sessions/gone", nil).Code)

	store.EXPECT().Load(gomock.Any(), "broken").Return(nil, errors.New("database is locked"))
	rr := doJSON(t, h, http.MethodGet, "/v1/sessions/broken", nil)
	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.Equal(t, "session store failed", decodeBody[ErrorResponse](t, rr).Error)
}

func TestDeleteSession(t *testing.T) {
	ctrl := gomock.NewController(t)
	store := mocks.NewMockSessionStore(ctrl)
	s, _ := newTestServer(t, store, Config{})
	h := s.Handler()

	store.EXPECT().Save(gomock.Any(), gomock.Any()).Return("rev-1", true, nil)
	created := createJobsSession(t, h)

	store.EXPECT().Delete(gomock.Any(), created.Session).Return(nil)
	rr := doJSON(t, h, http.MethodDelete, "/v1/sessions/"+created.Session, nil)
	assert.Equal(t, http.StatusNoContent, rr.Code)
	assert.Equal(t, 0, s.sessionCount())

	store.EXPECT().Delete(gomock.Any(), created.Session).Return(state.ErrSessionNotFound)
	rr = doJSON(t, h, http.MethodDelete, "/v1/sessions/"+created.Session, nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestRevisions(t *testing.T) {
	ctrl := gomock.NewController(t)
	store := mocks.NewMockSessionStore(ctrl)
	s, _ := newTestServer(t, store, Config{})

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	store.EXPECT().Revisions(gomock.Any(), "abc").Return([]state.Revision{
		{ID: "r2", Fingerprint: "f2", CreatedAt: now},
		{ID: "r1", Fingerprint: "f1", CreatedAt: now.Add(-time.Minute)},
	}, nil)

	rr := doJSON(t, s.Handler(), http.MethodGet, "/v1/sessions/abc/revisions", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	resp := decodeBody[RevisionsResponse](t, rr)
	assert.Equal(t, "abc", resp.Session)
	require.Len(t, resp.Revisions, 2)
	assert.Equal(t, "r2", resp.Revisions[0].ID)
}

func chainDocument(t *testing.T) graph.Document {
	t.Helper()
	g := graph.New()
	require.NoError(t, g.AddNode(&graph.Node{ID: "start", Kind: graph.KindStart, DisplayName: "Start"}))
	require.NoError(t, g.AddNode(&graph.Node{ID: "a", Kind: graph.KindBuild, DisplayName: "Build"}))
	require.NoError(t, g.AddEdge(graph.Edge{Source: "start", Target: "a"}))
	return g.Document()
}

func TestStatelessConverters(t *testing.T) {
	s, _ := newTestServer(t, nil, Config{})
	h := s.Handler()

	t.Run("jobs parse", func(t *testing.T) {
		rr := doJSON(t, h, http.MethodPost, "/v1/jobs/parse", TextRequest{Text: threeJobs})
		require.Equal(t, http.StatusOK, rr.Code)
		resp := decodeBody[ParseResponse](t, rr)
		assert.Len(t, resp.Graph.Nodes, 3)
		assert.Len(t, resp.Graph.Edges, 2)
		assert.Empty(t, resp.Warnings)
	})

	t.Run("jobs parse warns", func(t *testing.T) {
		rr := doJSON(t, h, http.MethodPost, "/v1/jobs/parse", TextRequest{Text: "name: [unclosed"})
		require.Equal(t, http.StatusOK, rr.Code)
		resp := decodeBody[ParseResponse](t, rr)
		assert.Empty(t, resp.Graph.Nodes)
		assert.NotEmpty(t, resp.Warnings)
	})

	t.Run("jobs generate", func(t *testing.T) {
		rr := doJSON(t, h, http.MethodPost, "/v1/jobs/generate", GraphRequest{Graph: chainDocument(t)})
		require.Equal(t, http.StatusOK, rr.Code)
		assert.Contains(t, decodeBody[GenerateResponse](t, rr).Text, "name: build")
	})

	t.Run("script parse", func(t *testing.T) {
		rr := doJSON(t, h, http.MethodPost, "/v1/script/parse", TextRequest{Text: "#!/usr/bin/env bash\nmake build\n"})
		require.Equal(t, http.StatusOK, rr.Code)
		resp := decodeBody[ParseResponse](t, rr)
		require.Len(t, resp.Graph.Nodes, 2)
		assert.Equal(t, graph.KindStart, resp.Graph.Nodes[0].Kind)
		assert.Equal(t, "make build", resp.Graph.Nodes[1].Attrs.Command)
	})

	t.Run("script generate", func(t *testing.T) {
		rr := doJSON(t, h, http.MethodPost, "/v1/script/generate", GraphRequest{Graph: chainDocument(t)})
		require.Equal(t, http.StatusOK, rr.Code)
		resp := decodeBody[GenerateResponse](t, rr)
		assert.Contains(t, resp.Text, "make build")
		assert.False(t, resp.Truncated)
		assert.Empty(t, resp.Stop)
	})

	t.Run("workflow generate", func(t *testing.T) {
		rr := doJSON(t, h, http.MethodPost, "/v1/workflow/generate", GraphRequest{Graph: chainDocument(t)})
		require.Equal(t, http.StatusOK, rr.Code)
		resp := decodeBody[GenerateResponse](t, rr)
		assert.Contains(t, resp.Text, "run: make build")
	})

	t.Run("dot", func(t *testing.T) {
		rr := doJSON(t, h, http.MethodPost, "/v1/graph/dot", GraphRequest{Graph: chainDocument(t), Name: "demo"})
		require.Equal(t, http.StatusOK, rr.Code)
		assert.Contains(t, rr.Header().Get("Content-Type"), "text/vnd.graphviz")
		assert.Contains(t, rr.Body.String(), "digraph")
		assert.Contains(t, rr.Body.String(), "->")
	})

	t.Run("dangling edge", func(t *testing.T) {
		doc := graph.Document{
			Nodes: []*graph.Node{{ID: "a", Kind: graph.KindBuild}},
			Edges: []graph.Edge{{ID: "a->b", Source: "a", Target: "b"}},
		}
		rr := doJSON(t, h, http.MethodPost, "/v1/jobs/generate", GraphRequest{Graph: doc})
		assert.Equal(t, http.StatusUnprocessableEntity, rr.Code)
	})
}

func TestTokenAuth(t *testing.T) {
	s, _ := newTestServer(t, nil, Config{Token: "secret"})
	h := s.Handler()

	rr := doJSON(t, h, http.MethodPost, "/v1/sessions", nil)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	req := httptest.NewRequest(http.MethodPost, "/v1/sessions", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	req = httptest.NewRequest(http.MethodPost, "/v1/sessions", nil)
	req.Header.Set("Authorization", "Bearer secret")
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusCreated, rr.Code)

	// Health stays open.
	assert.Equal(t, http.StatusOK, doJSON(t, h, http.MethodGet, "/healthz", nil).Code)
}

func TestExtractToken(t *testing.T) {
	tests := []struct {
		name    string
		header  string
		want    string
		wantErr bool
	}{
		{"bearer", "Bearer test-key", "test-key", false},
		{"padded", "Bearer   test-key ", "test-key", false},
		{"missing", "", "", true},
		{"basic", "Basic abc", "", true},
		{"blank", "Bearer   ", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "http://example.test", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			got, err := ExtractToken(req)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	assert.True(t, ValidateToken("abc", "abc"))
	assert.False(t, ValidateToken("abc", "abd"))
	assert.False(t, ValidateToken("", ""))
}

func TestOpenAPIDocument(t *testing.T) {
	s, _ := newTestServer(t, nil, Config{Token: "secret"})
	rr := doJSON(t, s.Handler(), http.MethodGet, "/openapi.json", nil)
	require.Equal(t, http.StatusOK, rr.Code)

	var doc struct {
		Paths map[string]map[string]struct {
			Summary  string `json:"summary"`
			Security []any  `json:"security"`
		} `json:"paths"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &doc))
	for _, rt := range routes {
		ops, ok := doc.Paths[rt.path]
		require.True(t, ok, rt.path)
		op, ok := ops[strings.ToLower(rt.method)]
		require.True(t, ok, rt.method+" "+rt.path)
		assert.Equal(t, rt.summary, op.Summary)
		assert.NotEmpty(t, op.Security)
	}
}
