// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package gds

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianGDS/services/gds/algorithm"
	"github.com/AleutianAI/AleutianGDS/services/gds/catalog"
	"github.com/AleutianAI/AleutianGDS/services/gds/graph"
	"github.com/AleutianAI/AleutianGDS/services/gds/graph/graphtest"
	"github.com/AleutianAI/AleutianGDS/services/gds/history"
	"github.com/AleutianAI/AleutianGDS/services/gds/progress"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// blockAlgorithm runs until its job is stopped.
const blockAlgorithm = "block"

type testEnv struct {
	router  *gin.Engine
	catalog *catalog.Catalog
	jobs    *JobManager
	graphs  *GraphManager
	history *history.Store
}

func setupTestRouter(t *testing.T) *testEnv {
	t.Helper()

	hist, err := history.OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = hist.Close() })

	algorithms := DefaultAlgorithms()
	require.NoError(t, algorithms.Register(blockAlgorithm, "Waits for cancellation",
		func(map[string]any) (Invocation, error) {
			return func(ec *algorithm.ExecutionContext, _ graph.GraphStore) (algorithm.Result, error) {
				for {
					if err := ec.AssertRunning(); err != nil {
						return nil, err
					}
					time.Sleep(time.Millisecond)
				}
			}, nil
		}))

	cat := catalog.New(nil)
	tasks := progress.NewTaskRegistry(time.Millisecond)
	jobs, err := NewJobManager(JobManagerDeps{
		Catalog:    cat,
		History:    hist,
		Algorithms: algorithms,
		Tasks:      tasks,
	}, JobManagerConfig{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = jobs.Shutdown(context.Background()) })

	graphs := NewGraphManager(cat, nil, nil, 10*time.Millisecond, nil)
	t.Cleanup(graphs.Close)

	h := NewHandlers(HandlersDeps{
		Catalog:     cat,
		Graphs:      graphs,
		Jobs:        jobs,
		Algorithms:  algorithms,
		History:     hist,
		Tasks:       tasks,
		MaxSyncWait: 10 * time.Second,
	})
	router := gin.New()
	RegisterRoutes(router.Group("/v1"), h)

	return &testEnv{router: router, catalog: cat, jobs: jobs, graphs: graphs, history: hist}
}

func (e *testEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	switch b := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(b))
	default:
		data, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func waitStatus(t *testing.T, jobs *JobManager, id string) history.Record {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	rec, err := jobs.Wait(ctx, id)
	require.NoError(t, err)
	return rec
}

func TestHandleHealth(t *testing.T) {
	env := setupTestRouter(t)
	require.NoError(t, env.catalog.Put(graphtest.Path(t, 3)))

	w := env.do(t, http.MethodGet, "/v1/gds/health", nil)
	require.Equal(t, http.StatusOK, w.Code)
	resp := decode[HealthResponse](t, w)
	assert.Equal(t, "healthy", resp.Status)
	assert.Equal(t, ServiceVersion, resp.Version)
	assert.Equal(t, 1, resp.Graphs)
	assert.Equal(t, 0, resp.RunningJobs)
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
}

func TestHandleListAlgorithms(t *testing.T) {
	env := setupTestRouter(t)

	w := env.do(t, http.MethodGet, "/v1/gds/algorithms", nil)
	require.Equal(t, http.StatusOK, w.Code)
	resp := decode[AlgorithmListResponse](t, w)

	names := make([]string, len(resp.Algorithms))
	for i, a := range resp.Algorithms {
		names[i] = a.Name
		assert.NotEmpty(t, a.Description)
	}
	assert.Equal(t, []string{"block", "degree", "labelprop", "pagerank", "scaleproperties", "trianglecount", "wcc"}, names)
}

func TestHandleGenerateGraph(t *testing.T) {
	env := setupTestRouter(t)

	tests := []struct {
		name       string
		body       any
		wantStatus int
		wantCode   string
	}{
		{
			name:       "generated",
			body:       map[string]any{"name": "gen", "node_count": 100, "average_degree": 2, "seed": 7},
			wantStatus: http.StatusCreated,
		},
		{
			name:       "duplicate name",
			body:       map[string]any{"name": "gen", "node_count": 10},
			wantStatus: http.StatusConflict,
			wantCode:   CodeGraphExists,
		},
		{
			name:       "invalid config",
			body:       map[string]any{"name": "neg", "node_count": -1},
			wantStatus: http.StatusBadRequest,
			wantCode:   CodeInvalidConfig,
		},
		{
			name:       "malformed body",
			body:       "{not json",
			wantStatus: http.StatusBadRequest,
			wantCode:   CodeInvalidRequest,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.do(t, http.MethodPost, "/v1/gds/graphs/generate", tt.body)
			require.Equal(t, tt.wantStatus, w.Code, w.Body.String())
			if tt.wantCode != "" {
				assert.Equal(t, tt.wantCode, decode[ErrorResponse](t, w).Code)
			}
		})
	}

	w := env.do(t, http.MethodGet, "/v1/gds/graphs", nil)
	require.Equal(t, http.StatusOK, w.Code)
	list := decode[GraphListResponse](t, w)
	require.Equal(t, 1, list.Count)
	assert.Equal(t, "gen", list.Graphs[0].Name)
	assert.Equal(t, int64(100), list.Graphs[0].NodeCount)

	w = env.do(t, http.MethodGet, "/v1/gds/graphs/gen", nil)
	require.Equal(t, http.StatusOK, w.Code)
	w = env.do(t, http.MethodGet, "/v1/gds/graphs/nope", nil)
	require.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, CodeGraphNotFound, decode[ErrorResponse](t, w).Code)
}

func TestSubmitJobSync(t *testing.T) {
	env := setupTestRouter(t)
	require.NoError(t, env.catalog.Put(graphtest.Path(t, 4)))

	w := env.do(t, http.MethodPost, "/v1/gds/jobs", JobRequest{
		Graph:     "test",
		Algorithm: "wcc",
		Config:    map[string]any{"orientation": "UNDIRECTED"},
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	rec := decode[history.Record](t, w)
	assert.Equal(t, history.StatusCompleted, rec.Status)
	assert.EqualValues(t, 1, rec.Summary["component_count"])
	assert.EqualValues(t, 4, rec.Summary["node_count"])
	require.NotNil(t, rec.Tasks)
	assert.Equal(t, "wcc", rec.Tasks.Description)
	assert.Equal(t, progress.Finished.String(), rec.Tasks.Status)
	assert.Equal(t, "/v1/gds/jobs/"+rec.ID, w.Header().Get("Location"))

	w = env.do(t, http.MethodGet, "/v1/gds/jobs/"+rec.ID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, history.StatusCompleted, decode[history.Record](t, w).Status)

	w = env.do(t, http.MethodGet, "/v1/gds/history?algorithm=wcc", nil)
	require.Equal(t, http.StatusOK, w.Code)
	hist := decode[HistoryResponse](t, w)
	require.Equal(t, 1, hist.Count)
	assert.Equal(t, rec.ID, hist.Records[0].ID)

	// The graph reference is released once the job ends.
	summary, err := env.catalog.Describe("test")
	require.NoError(t, err)
	assert.Equal(t, int32(0), summary.References)
}

func TestSubmitJobErrors(t *testing.T) {
	env := setupTestRouter(t)
	require.NoError(t, env.catalog.Put(graphtest.Path(t, 4)))

	tests := []struct {
		name       string
		body       any
		wantStatus int
		wantCode   string
	}{
		{
			name:       "missing fields",
			body:       map[string]any{"algorithm": "degree"},
			wantStatus: http.StatusBadRequest,
			wantCode:   CodeInvalidRequest,
		},
		{
			name:       "unknown graph",
			body:       JobRequest{Graph: "nope", Algorithm: "degree"},
			wantStatus: http.StatusNotFound,
			wantCode:   CodeGraphNotFound,
		},
		{
			name:       "unknown algorithm",
			body:       JobRequest{Graph: "test", Algorithm: "betweenness"},
			wantStatus: http.StatusNotFound,
			wantCode:   CodeAlgorithmNotFound,
		},
		{
			name:       "unknown config key",
			body:       JobRequest{Graph: "test", Algorithm: "degree", Config: map[string]any{"bogus": 1}},
			wantStatus: http.StatusBadRequest,
			wantCode:   CodeInvalidConfig,
		},
		{
			name:       "invalid config value",
			body:       JobRequest{Graph: "test", Algorithm: "pagerank", Config: map[string]any{"concurrency": -3}},
			wantStatus: http.StatusBadRequest,
			wantCode:   CodeInvalidConfig,
		},
		{
			name:       "missing relationship type",
			body:       JobRequest{Graph: "test", Algorithm: "degree", Config: map[string]any{"relationship_types": []string{"NOPE"}}},
			wantStatus: http.StatusBadRequest,
			wantCode:   CodeGraphError,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.do(t, http.MethodPost, "/v1/gds/jobs", tt.body)
			require.Equal(t, tt.wantStatus, w.Code, w.Body.String())
			if tt.wantCode != "" {
				assert.Equal(t, tt.wantCode, decode[ErrorResponse](t, w).Code)
			}
		})
	}
}

func TestSubmitJobMutatesGraph(t *testing.T) {
	env := setupTestRouter(t)
	require.NoError(t, env.catalog.Put(graphtest.Path(t, 3)))
	before, err := env.catalog.Describe("test")
	require.NoError(t, err)

	w := env.do(t, http.MethodPost, "/v1/gds/jobs", JobRequest{
		Graph:          "test",
		Algorithm:      "degree",
		MutateProperty: "out_degree",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "out_degree", decode[history.Record](t, w).MutateProperty)

	after, err := env.catalog.Describe("test")
	require.NoError(t, err)
	keys := make([]string, 0, len(after.Schema.NodeProperties))
	for _, p := range after.Schema.NodeProperties {
		keys = append(keys, p.Key)
	}
	assert.Contains(t, keys, "out_degree")
	assert.False(t, after.PublishedAt.Before(before.PublishedAt))

	entry, release, err := env.catalog.Get("test")
	require.NoError(t, err)
	defer release()
	values, ok := entry.Store.NodeProperty("out_degree")
	require.True(t, ok)
	assert.Equal(t, int64(3), values.ElementCount())
}

func TestCancelJob(t *testing.T) {
	env := setupTestRouter(t)
	require.NoError(t, env.catalog.Put(graphtest.Path(t, 3)))

	w := env.do(t, http.MethodPost, "/v1/gds/jobs", JobRequest{Graph: "test", Algorithm: blockAlgorithm, Async: true})
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	rec := decode[history.Record](t, w)
	assert.Equal(t, history.StatusRunning, rec.Status)

	w = env.do(t, http.MethodGet, "/v1/gds/jobs", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1, decode[HistoryResponse](t, w).Count)

	w = env.do(t, http.MethodDelete, "/v1/gds/jobs/"+rec.ID, nil)
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())

	final := waitStatus(t, env.jobs, rec.ID)
	assert.Equal(t, history.StatusCancelled, final.Status)
	assert.Equal(t, CodeCancelled, final.ErrorCode)
	assert.Contains(t, final.Error, "cancelled by request")

	w = env.do(t, http.MethodGet, "/v1/gds/jobs/"+rec.ID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, history.StatusCancelled, decode[history.Record](t, w).Status)

	w = env.do(t, http.MethodDelete, "/v1/gds/jobs/"+rec.ID, nil)
	require.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, CodeJobFinished, decode[ErrorResponse](t, w).Code)

	w = env.do(t, http.MethodDelete, "/v1/gds/jobs/unknown", nil)
	require.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, CodeJobNotFound, decode[ErrorResponse](t, w).Code)
}

func TestSubmitJobTimeoutReportsCancelled(t *testing.T) {
	env := setupTestRouter(t)
	require.NoError(t, env.catalog.Put(graphtest.Path(t, 3)))

	w := env.do(t, http.MethodPost, "/v1/gds/jobs", JobRequest{Graph: "test", Algorithm: blockAlgorithm, TimeoutMillis: 20})
	require.Equal(t, http.StatusConflict, w.Code, w.Body.String())
	resp := decode[ErrorResponse](t, w)
	assert.Equal(t, CodeCancelled, resp.Code)
	assert.True(t, strings.HasPrefix(resp.Details, "job_id="))
}

func TestDropGraphInUse(t *testing.T) {
	env := setupTestRouter(t)
	require.NoError(t, env.catalog.Put(graphtest.Path(t, 3)))

	w := env.do(t, http.MethodPost, "/v1/gds/jobs", JobRequest{Graph: "test", Algorithm: blockAlgorithm, Async: true})
	require.Equal(t, http.StatusAccepted, w.Code)
	id := decode[history.Record](t, w).ID

	w = env.do(t, http.MethodDelete, "/v1/gds/graphs/test", nil)
	require.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, CodeGraphInUse, decode[ErrorResponse](t, w).Code)

	w = env.do(t, http.MethodDelete, "/v1/gds/graphs/test?force=true", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "test", decode[catalog.Summary](t, w).Name)

	require.NoError(t, env.jobs.Cancel(context.Background(), id))
	assert.Equal(t, history.StatusCancelled, waitStatus(t, env.jobs, id).Status)

	w = env.do(t, http.MethodDelete, "/v1/gds/graphs/test", nil)
	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestHandleSubgraph(t *testing.T) {
	env := setupTestRouter(t)
	require.NoError(t, env.catalog.Put(graphtest.Path(t, 5)))

	w := env.do(t, http.MethodPost, "/v1/gds/graphs/test/subgraph", SubgraphRequest{Name: "head", NodeIDs: []int64{0, 1, 2}})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	resp := decode[SubgraphResponse](t, w)
	assert.Equal(t, "head", resp.Graph.Name)
	assert.Equal(t, int64(3), resp.Graph.NodeCount)
	assert.Equal(t, map[string]int64{"REL": 2}, resp.RelationshipsKeptByType)

	w = env.do(t, http.MethodPost, "/v1/gds/graphs/test/subgraph", SubgraphRequest{Name: "tail", Filter: "id >= 3"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	resp = decode[SubgraphResponse](t, w)
	assert.Equal(t, int64(2), resp.Graph.NodeCount)
	assert.Equal(t, int64(1), resp.Graph.RelationshipCount)

	tests := []struct {
		name       string
		source     string
		body       SubgraphRequest
		wantStatus int
		wantCode   string
	}{
		{"both selections", "test", SubgraphRequest{Name: "x", NodeIDs: []int64{1}, Filter: "true"}, http.StatusBadRequest, CodeInvalidConfig},
		{"no selection", "test", SubgraphRequest{Name: "x"}, http.StatusBadRequest, CodeInvalidConfig},
		{"bad filter", "test", SubgraphRequest{Name: "x", Filter: "id +"}, http.StatusBadRequest, CodeInvalidConfig},
		{"unknown id", "test", SubgraphRequest{Name: "x", NodeIDs: []int64{42}}, http.StatusBadRequest, CodeGraphError},
		{"existing name", "test", SubgraphRequest{Name: "head", NodeIDs: []int64{1}}, http.StatusConflict, CodeGraphExists},
		{"unknown source", "nope", SubgraphRequest{Name: "x", NodeIDs: []int64{1}}, http.StatusNotFound, CodeGraphNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.do(t, http.MethodPost, "/v1/gds/graphs/"+tt.source+"/subgraph", tt.body)
			require.Equal(t, tt.wantStatus, w.Code, w.Body.String())
			assert.Equal(t, tt.wantCode, decode[ErrorResponse](t, w).Code)
		})
	}
}

const testManifest = `name: social
nodes:
  source: nodes.csv
relationships:
  - type: KNOWS
    source: rels.csv
`

func writeManifest(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "social.yaml")
	require.NoError(t, os.WriteFile(path, []byte(testManifest), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "nodes.csv"), []byte("id\n10\n20\n30\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "rels.csv"), []byte("source,target\n10,20\n20,30\n"), 0o644))
	return path
}

func TestHandleLoadGraph(t *testing.T) {
	env := setupTestRouter(t)
	manifest := writeManifest(t)

	w := env.do(t, http.MethodPost, "/v1/gds/graphs/load", LoadRequest{Manifest: manifest})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	summary := decode[catalog.Summary](t, w)
	assert.Equal(t, "social", summary.Name)
	assert.Equal(t, int64(3), summary.NodeCount)
	assert.Equal(t, int64(2), summary.RelationshipCount)
	assert.Equal(t, manifest, summary.Source)

	w = env.do(t, http.MethodPost, "/v1/gds/graphs/load", LoadRequest{Manifest: manifest})
	require.Equal(t, http.StatusConflict, w.Code)

	w = env.do(t, http.MethodPost, "/v1/gds/graphs/load", LoadRequest{Manifest: manifest, Replace: true, Watch: true})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.Equal(t, 1, env.graphs.Watching())

	w = env.do(t, http.MethodDelete, "/v1/gds/graphs/social", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 0, env.graphs.Watching())

	invalid := filepath.Join(t.TempDir(), "invalid.yaml")
	require.NoError(t, os.WriteFile(invalid, []byte("nodes:\n  source: n.csv\n"), 0o644))

	tests := []struct {
		name       string
		manifest   string
		wantStatus int
		wantCode   string
	}{
		{"missing manifest", filepath.Join(t.TempDir(), "none.yaml"), http.StatusUnprocessableEntity, CodeLoadFailed},
		{"invalid manifest", invalid, http.StatusBadRequest, CodeInvalidConfig},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.do(t, http.MethodPost, "/v1/gds/graphs/load", LoadRequest{Manifest: tt.manifest})
			require.Equal(t, tt.wantStatus, w.Code, w.Body.String())
			assert.Equal(t, tt.wantCode, decode[ErrorResponse](t, w).Code)
		})
	}
}

func TestHandleListHistoryValidation(t *testing.T) {
	env := setupTestRouter(t)

	w := env.do(t, http.MethodGet, "/v1/gds/history?limit=-1", nil)
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, CodeInvalidRequest, decode[ErrorResponse](t, w).Code)

	w = env.do(t, http.MethodGet, "/v1/gds/history", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 0, decode[HistoryResponse](t, w).Count)
}

func dialProgress(t *testing.T, server *httptest.Server, id string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/v1/gds/jobs/" + id + "/progress"
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func TestHandleJobProgressStreamsUntilJobEnds(t *testing.T) {
	env := setupTestRouter(t)
	require.NoError(t, env.catalog.Put(graphtest.Path(t, 3)))
	server := httptest.NewServer(env.router)
	defer server.Close()

	id, err := env.jobs.Submit(context.Background(), JobRequest{Graph: "test", Algorithm: blockAlgorithm})
	require.NoError(t, err)

	conn := dialProgress(t, server, id)
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))

	var first progress.Snapshot
	require.NoError(t, conn.ReadJSON(&first))
	assert.Equal(t, blockAlgorithm, first.Description)

	require.NoError(t, env.jobs.Cancel(context.Background(), id))

	var last progress.Snapshot
	for {
		var snap progress.Snapshot
		if err := conn.ReadJSON(&snap); err != nil {
			assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "unexpected error: %v", err)
			break
		}
		last = snap
	}
	assert.Equal(t, progress.Failed.String(), last.Status)
}

func TestHandleJobProgressFinishedJob(t *testing.T) {
	env := setupTestRouter(t)
	require.NoError(t, env.catalog.Put(graphtest.Path(t, 3)))
	server := httptest.NewServer(env.router)
	defer server.Close()

	id, err := env.jobs.Submit(context.Background(), JobRequest{Graph: "test", Algorithm: "degree"})
	require.NoError(t, err)
	require.Equal(t, history.StatusCompleted, waitStatus(t, env.jobs, id).Status)

	conn := dialProgress(t, server, id)
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))

	var snap progress.Snapshot
	require.NoError(t, conn.ReadJSON(&snap))
	assert.Equal(t, progress.Finished.String(), snap.Status)

	_, _, err = conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "unexpected error: %v", err)

	w := env.do(t, http.MethodGet, "/v1/gds/jobs/unknown/progress", nil)
	require.Equal(t, http.StatusNotFound, w.Code)
}
