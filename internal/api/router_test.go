package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/rcliao/hybrid-memory/internal/embedding"
	"github.com/rcliao/hybrid-memory/internal/memory"
	"github.com/rcliao/hybrid-memory/internal/model"
	"github.com/rcliao/hybrid-memory/internal/observability"
	"github.com/rcliao/hybrid-memory/internal/store"
	"github.com/rcliao/hybrid-memory/internal/vector"
)

const testDims = 512

type downEmbedder struct{}

func (downEmbedder) Embed(context.Context, string) (embedding.Vector, error) {
	return nil, errors.New("provider down")
}

func (downEmbedder) Dims() int { return testDims }

func newTestServer(t *testing.T, emb embedding.Embedder) *httptest.Server {
	t.Helper()
	return newTestServerWith(t, emb, Options{
		CORSOrigins:   []string{"http://localhost:3000"},
		MinSimilarity: 0.7,
	})
}

func newTestServerWith(t *testing.T, emb embedding.Embedder, opts Options) *httptest.Server {
	t.Helper()

	st, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "api.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	idx, err := vector.NewChromemIndex(vector.ChromemOptions{Collection: "api", Dims: testDims})
	require.NoError(t, err)

	if emb == nil {
		emb = embedding.NewHashEmbedder(testDims)
	}
	metrics := observability.NewCollector("test")
	svc := memory.NewService(memory.Deps{
		Repo:     st,
		Index:    idx,
		Embedder: emb,
		Logger:   zap.NewNop(),
		Metrics:  metrics,
	}, memory.Options{Version: "test"})

	rt := NewRouter(svc, metrics, zap.NewNop(), opts)
	srv := httptest.NewServer(rt.Setup())
	t.Cleanup(srv.Close)
	return srv
}

func do(t *testing.T, method, url string, body interface{}) *http.Response {
	t.Helper()
	var rd *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(b)
	} else {
		rd = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, rd)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, v interface{}) {
	t.Helper()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
}

func createMemory(t *testing.T, srv *httptest.Server, body map[string]interface{}) model.Memory {
	t.Helper()
	resp := do(t, http.MethodPost, srv.URL+"/memories", body)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var m model.Memory
	decodeBody(t, resp, &m)
	return m
}

func TestMemoryLifecycle(t *testing.T) {
	srv := newTestServer(t, nil)

	m := createMemory(t, srv, map[string]interface{}{
		"content":          "Team decided to use React",
		"context":          "frontend",
		"tags":             []string{"decision"},
		"importance_score": 7,
	})
	assert.NotEmpty(t, m.ID)
	require.NotNil(t, m.VectorID)

	resp := do(t, http.MethodGet, srv.URL+"/memories/"+m.ID, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var got model.Memory
	decodeBody(t, resp, &got)
	assert.Equal(t, 1, got.AccessCount)

	resp = do(t, http.MethodPut, srv.URL+"/memories/"+m.ID, map[string]interface{}{"importance_score": 9})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	decodeBody(t, resp, &got)
	assert.Equal(t, 9, got.ImportanceScore)
	assert.Equal(t, "Team decided to use React", got.Content)

	resp = do(t, http.MethodDelete, srv.URL+"/memories/"+m.ID, nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = do(t, http.MethodDelete, srv.URL+"/memories/"+m.ID, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = do(t, http.MethodGet, srv.URL+"/memories/"+m.ID, nil)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	var e ErrorResponse
	decodeBody(t, resp, &e)
	assert.Equal(t, "not_found", e.Error)
	assert.False(t, e.Timestamp.IsZero())
}

func TestCreateMemory_Validation(t *testing.T) {
	srv := newTestServer(t, nil)

	resp := do(t, http.MethodPost, srv.URL+"/memories", map[string]interface{}{"content": "x", "importance_score": 11})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	var e ErrorResponse
	decodeBody(t, resp, &e)
	assert.Equal(t, "validation_failed", e.Error)
	assert.Contains(t, e.Detail, "importance_score must be at most 10")

	req, err := http.NewRequest(http.MethodPost, srv.URL+"/memories", strings.NewReader("{not json"))
	require.NoError(t, err)
	raw, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer raw.Body.Close()
	assert.Equal(t, http.StatusBadRequest, raw.StatusCode)
}

func TestCreateMemory_EmbeddingUnavailable(t *testing.T) {
	srv := newTestServer(t, downEmbedder{})

	resp := do(t, http.MethodPost, srv.URL+"/memories", map[string]interface{}{"content": "x"})
	require.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	var e ErrorResponse
	decodeBody(t, resp, &e)
	assert.Equal(t, "embedding_unavailable", e.Error)

	resp = do(t, http.MethodGet, srv.URL+"/memories/recent", nil)
	var recent []model.Memory
	decodeBody(t, resp, &recent)
	assert.Empty(t, recent)
}

func TestSearch(t *testing.T) {
	srv := newTestServer(t, nil)
	react := createMemory(t, srv, map[string]interface{}{"content": "Team decided to use React", "importance_score": 7})
	createMemory(t, srv, map[string]interface{}{"content": "Lunch at noon"})

	resp := do(t, http.MethodGet, srv.URL+"/memories/search?query=React&include_semantic=false", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var res SearchResponse
	decodeBody(t, resp, &res)
	assert.Equal(t, "keyword", res.SearchType)
	require.Len(t, res.Memories, 1)
	assert.Equal(t, 1, res.TotalCount)
	assert.Equal(t, react.ID, res.Memories[0].ID)
	assert.Equal(t, 0.5, *res.Memories[0].SimilarityScore)
	assert.GreaterOrEqual(t, res.QueryTimeMS, 0.0)

	resp = do(t, http.MethodGet, srv.URL+"/memories/search?query=lunch+at+noon", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	decodeBody(t, resp, &res)
	assert.Equal(t, "hybrid", res.SearchType)
	require.Len(t, res.Memories, 1)
	assert.InDelta(t, 1.0, *res.Memories[0].SimilarityScore, 1e-6)
}

func TestSearch_BadParams(t *testing.T) {
	srv := newTestServer(t, nil)
	for _, qs := range []string{
		"",
		"query=",
		"query=x&limit=abc",
		"query=x&limit=500",
		"query=x&min_similarity=2",
		"query=x&include_keyword=maybe",
	} {
		t.Run(qs, func(t *testing.T) {
			resp := do(t, http.MethodGet, srv.URL+"/memories/search?"+qs, nil)
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		})
	}
}

func TestBatch(t *testing.T) {
	srv := newTestServer(t, nil)

	resp := do(t, http.MethodPost, srv.URL+"/memories/batch", []map[string]interface{}{
		{"content": "first"},
		{"content": ""},
		{"content": "third", "tags": []string{"x"}},
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var res BatchResponse
	decodeBody(t, resp, &res)
	assert.Equal(t, 2, res.Succeeded)
	assert.Equal(t, 1, res.Failed)
	require.Len(t, res.Memories, 2)
	assert.Equal(t, "first", res.Memories[0].Content)
	assert.Equal(t, "third", res.Memories[1].Content)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, 1, res.Errors[0].Index)
	assert.Equal(t, "validation_failed", res.Errors[0].Error)

	tooMany := make([]map[string]interface{}, memory.MaxBatchSize+1)
	for i := range tooMany {
		tooMany[i] = map[string]interface{}{"content": fmt.Sprintf("m%d", i)}
	}
	resp = do(t, http.MethodPost, srv.URL+"/memories/batch", tooMany)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
}

func TestRecentStatsHealthMetrics(t *testing.T) {
	srv := newTestServer(t, nil)
	createMemory(t, srv, map[string]interface{}{"content": "a", "context": "work", "user_id": "u1"})
	createMemory(t, srv, map[string]interface{}{"content": "b", "user_id": "u2"})

	resp := do(t, http.MethodGet, srv.URL+"/memories/recent?user_id=u1", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var recent []model.Memory
	decodeBody(t, resp, &recent)
	require.Len(t, recent, 1)
	assert.Equal(t, "a", recent[0].Content)

	resp = do(t, http.MethodGet, srv.URL+"/stats", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var st model.Stats
	decodeBody(t, resp, &st)
	assert.Equal(t, 2, st.TotalMemories)
	assert.Equal(t, 2, st.TotalUsers)
	assert.Equal(t, map[string]int{"work": 1, "uncategorized": 1}, st.MemoriesByContext)
	assert.Equal(t, 2, st.VectorEntries)

	resp = do(t, http.MethodGet, srv.URL+"/health", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var h memory.HealthStatus
	decodeBody(t, resp, &h)
	assert.Equal(t, "healthy", h.Status)
	assert.Equal(t, "test", h.Version)

	resp = do(t, http.MethodGet, srv.URL+"/metrics", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var buf bytes.Buffer
	_, err := buf.ReadFrom(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "test_memories_created_total 2")
}

func TestRepair(t *testing.T) {
	srv := newTestServer(t, nil)
	createMemory(t, srv, map[string]interface{}{"content": "fine"})

	resp := do(t, http.MethodPost, srv.URL+"/admin/repair?dry_run=true", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var report memory.RepairReport
	decodeBody(t, resp, &report)
	assert.True(t, report.DryRun)
	assert.Equal(t, 0, report.Dangling)
	assert.Empty(t, report.Issues)
}

func TestUnknownRoute(t *testing.T) {
	srv := newTestServer(t, nil)
	resp := do(t, http.MethodGet, srv.URL+"/nope", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestStatusFor(t *testing.T) {
	tests := map[memory.Kind]int{
		memory.NotFound:             http.StatusNotFound,
		memory.ValidationFailed:     http.StatusBadRequest,
		memory.EmbeddingUnavailable: http.StatusServiceUnavailable,
		memory.IndexWriteFailed:     http.StatusBadGateway,
		memory.IndexReadFailed:      http.StatusBadGateway,
		memory.StoreCommitFailed:    http.StatusInternalServerError,
		memory.Inconsistent:         http.StatusConflict,
		memory.Internal:             http.StatusInternalServerError,
	}
	for kind, want := range tests {
		assert.Equal(t, want, statusFor(kind), kind)
	}
}

func TestRateLimitPerClientIP(t *testing.T) {
	srv := newTestServerWith(t, nil, Options{MinSimilarity: 0.7, RateLimit: 2, RateWindow: time.Minute})

	get := func(path, ip string) *http.Response {
		req, err := http.NewRequest(http.MethodGet, srv.URL+path, nil)
		require.NoError(t, err)
		req.Header.Set("X-Forwarded-For", ip)
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		t.Cleanup(func() { resp.Body.Close() })
		return resp
	}

	for i := 0; i < 2; i++ {
		assert.Equal(t, http.StatusOK, get("/stats", "10.0.0.1").StatusCode)
	}
	resp := get("/memories/recent", "10.0.0.1")
	require.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	var body ErrorResponse
	decodeBody(t, resp, &body)
	assert.Equal(t, "rate_limit_exceeded", body.Error)
	assert.Contains(t, body.Message, "2 requests")

	assert.Equal(t, http.StatusOK, get("/stats", "10.0.0.2").StatusCode, "other clients keep their own budget")
	assert.Equal(t, http.StatusOK, get("/health", "10.0.0.1").StatusCode, "health is never limited")
}
