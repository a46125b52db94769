package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/rcliao/hybrid-memory/internal/memory"
	"github.com/rcliao/hybrid-memory/internal/model"
)

const maxBodyBytes = 4 << 20

// SearchResponse is the body of GET /memories/search.
type SearchResponse struct {
	Memories    []model.Memory `json:"memories"`
	TotalCount  int            `json:"total_count"`
	SearchType  string         `json:"search_type"`
	QueryTimeMS float64        `json:"query_time_ms"`
}

// BatchResponse is the body of POST /memories/batch.
type BatchResponse struct {
	Memories  []model.Memory `json:"memories"`
	Errors    []BatchError   `json:"errors"`
	Succeeded int            `json:"succeeded"`
	Failed    int            `json:"failed"`
}

// BatchError reports one rejected item by its position in the request.
type BatchError struct {
	Index   int    `json:"index"`
	Error   string `json:"error"`
	Message string `json:"message"`
}

func (rt *Router) decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		rt.respondError(w, http.StatusBadRequest, memory.ValidationFailed, "Invalid request body: "+err.Error())
		return false
	}
	return true
}

// createMemory handles POST /memories
func (rt *Router) createMemory(w http.ResponseWriter, r *http.Request) {
	var d model.Draft
	if !rt.decode(w, r, &d) {
		return
	}
	m, err := rt.svc.CreateMemory(r.Context(), d)
	if err != nil {
		rt.respondServiceError(w, err)
		return
	}
	rt.respondJSON(w, http.StatusCreated, m)
}

// createBatch handles POST /memories/batch
func (rt *Router) createBatch(w http.ResponseWriter, r *http.Request) {
	var drafts []model.Draft
	if !rt.decode(w, r, &drafts) {
		return
	}
	if len(drafts) > memory.MaxBatchSize {
		rt.respondError(w, http.StatusUnprocessableEntity, memory.ValidationFailed,
			fmt.Sprintf("Batch size cannot exceed %d", memory.MaxBatchSize))
		return
	}

	res, err := rt.svc.CreateMemories(r.Context(), drafts)
	if err != nil {
		rt.respondServiceError(w, err)
		return
	}

	resp := BatchResponse{
		Memories:  make([]model.Memory, 0, res.Succeeded),
		Errors:    make([]BatchError, 0, res.Failed),
		Succeeded: res.Succeeded,
		Failed:    res.Failed,
	}
	for _, it := range res.Items {
		if it.Err != nil {
			kind := memory.KindOf(it.Err)
			msg := publicMessages[kind]
			if kind == memory.ValidationFailed {
				msg = it.Err.Error()
			}
			resp.Errors = append(resp.Errors, BatchError{Index: it.Index, Error: string(kind), Message: msg})
			continue
		}
		resp.Memories = append(resp.Memories, *it.Memory)
	}
	rt.respondJSON(w, http.StatusCreated, resp)
}

// searchMemories handles GET /memories/search
func (rt *Router) searchMemories(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	req := memory.SearchRequest{
		Query: q.Get("query"),
		Filters: memory.Filters{
			Context:        q.Get("context"),
			UserID:         q.Get("user_id"),
			ConversationID: q.Get("conversation_id"),
			Tags:           q["tags"],
		},
		MinSimilarity:   rt.opts.MinSimilarity,
		IncludeSemantic: true,
		IncludeKeyword:  true,
	}

	var err error
	if req.Limit, err = intParam(q, "limit", 0); err != nil {
		rt.respondError(w, http.StatusBadRequest, memory.ValidationFailed, err.Error())
		return
	}
	if req.MinSimilarity, err = floatParam(q, "min_similarity", req.MinSimilarity); err != nil {
		rt.respondError(w, http.StatusBadRequest, memory.ValidationFailed, err.Error())
		return
	}
	if req.IncludeSemantic, err = boolParam(q, "include_semantic", true); err != nil {
		rt.respondError(w, http.StatusBadRequest, memory.ValidationFailed, err.Error())
		return
	}
	if req.IncludeKeyword, err = boolParam(q, "include_keyword", true); err != nil {
		rt.respondError(w, http.StatusBadRequest, memory.ValidationFailed, err.Error())
		return
	}

	res, err := rt.svc.SearchMemories(r.Context(), req)
	if err != nil {
		rt.respondServiceError(w, err)
		return
	}
	rt.respondJSON(w, http.StatusOK, SearchResponse{
		Memories:    nonNil(res.Memories),
		TotalCount:  res.TotalCount,
		SearchType:  res.SearchType,
		QueryTimeMS: float64(res.QueryTime) / float64(time.Millisecond),
	})
}

// recentMemories handles GET /memories/recent
func (rt *Router) recentMemories(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, err := intParam(q, "limit", 0)
	if err != nil {
		rt.respondError(w, http.StatusBadRequest, memory.ValidationFailed, err.Error())
		return
	}
	ms, err := rt.svc.GetRecentMemories(r.Context(), memory.RecentRequest{
		Limit:   limit,
		UserID:  q.Get("user_id"),
		Context: q.Get("context"),
	})
	if err != nil {
		rt.respondServiceError(w, err)
		return
	}
	rt.respondJSON(w, http.StatusOK, nonNil(ms))
}

// getMemory handles GET /memories/{memoryID}. Reads through the API count as accesses.
func (rt *Router) getMemory(w http.ResponseWriter, r *http.Request) {
	m, err := rt.svc.GetMemory(r.Context(), chi.URLParam(r, "memoryID"), true)
	if err != nil {
		rt.respondServiceError(w, err)
		return
	}
	rt.respondJSON(w, http.StatusOK, m)
}

// updateMemory handles PUT /memories/{memoryID}
func (rt *Router) updateMemory(w http.ResponseWriter, r *http.Request) {
	var p model.Patch
	if !rt.decode(w, r, &p) {
		return
	}
	m, err := rt.svc.UpdateMemory(r.Context(), chi.URLParam(r, "memoryID"), p)
	if err != nil {
		rt.respondServiceError(w, err)
		return
	}
	rt.respondJSON(w, http.StatusOK, m)
}

// deleteMemory handles DELETE /memories/{memoryID}
func (rt *Router) deleteMemory(w http.ResponseWriter, r *http.Request) {
	ok, err := rt.svc.DeleteMemory(r.Context(), chi.URLParam(r, "memoryID"))
	if err != nil {
		rt.respondServiceError(w, err)
		return
	}
	if !ok {
		rt.respondError(w, http.StatusNotFound, memory.NotFound, "memory not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// stats handles GET /stats
func (rt *Router) stats(w http.ResponseWriter, r *http.Request) {
	st, err := rt.svc.GetStats(r.Context())
	if err != nil {
		rt.respondServiceError(w, err)
		return
	}
	rt.respondJSON(w, http.StatusOK, st)
}

// health handles GET /health
func (rt *Router) health(w http.ResponseWriter, r *http.Request) {
	h := rt.svc.Health(r.Context())
	status := http.StatusOK
	if !h.Healthy() {
		status = http.StatusServiceUnavailable
	}
	rt.respondJSON(w, status, h)
}

// repair handles POST /admin/repair?dry_run=&orphan_id=
func (rt *Router) repair(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	opts := rt.opts.Repair
	var err error
	if opts.DryRun, err = boolParam(q, "dry_run", false); err != nil {
		rt.respondError(w, http.StatusBadRequest, memory.ValidationFailed, err.Error())
		return
	}
	opts.OrphanIDs = q["orphan_id"]

	report, err := rt.svc.Repair(r.Context(), opts)
	if err != nil {
		rt.respondServiceError(w, err)
		return
	}
	rt.respondJSON(w, http.StatusOK, report)
}

func intParam(q url.Values, name string, def int) (int, error) {
	v := q.Get(name)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer", name)
	}
	return n, nil
}

func floatParam(q url.Values, name string, def float64) (float64, error) {
	v := q.Get(name)
	if v == "" {
		return def, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("%s must be a number", name)
	}
	return f, nil
}

func boolParam(q url.Values, name string, def bool) (bool, error) {
	v := q.Get(name)
	if v == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, errors.New(name + " must be true or false")
	}
	return b, nil
}

func nonNil(ms []model.Memory) []model.Memory {
	if ms == nil {
		return []model.Memory{}
	}
	return ms
}
