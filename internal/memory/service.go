package memory

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/rcliao/hybrid-memory/internal/embedding"
	"github.com/rcliao/hybrid-memory/internal/model"
	"github.com/rcliao/hybrid-memory/internal/store"
	"github.com/rcliao/hybrid-memory/internal/vector"
)

// Deps are the long-lived handles the service is built on.
type Deps struct {
	Repo     Repository
	Index    vector.Index
	Embedder embedding.Embedder
	Logger   *zap.Logger
	Metrics  Metrics
}

// Options tunes the service.
type Options struct {
	BatchConcurrency   int
	DefaultSearchLimit int
	DefaultRecentLimit int
	Version            string
}

// Service is the entry point used by the HTTP and CLI layers. Every input is
// validated here before it reaches the coordinator or the retrieval engine.
type Service struct {
	repo     Repository
	index    vector.Index
	embedder embedding.Embedder
	logger   *zap.Logger
	metrics  Metrics
	opts     Options

	coord  *Coordinator
	engine *Engine

	started time.Time
	now     func() time.Time
}

// NewService wires a Service from its dependencies.
func NewService(d Deps, o Options) *Service {
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	if d.Metrics == nil {
		d.Metrics = nopMetrics{}
	}
	if o.DefaultSearchLimit <= 0 {
		o.DefaultSearchLimit = 10
	}
	if o.DefaultRecentLimit <= 0 {
		o.DefaultRecentLimit = 10
	}
	if o.Version == "" {
		o.Version = "dev"
	}
	return &Service{
		repo:     d.Repo,
		index:    d.Index,
		embedder: d.Embedder,
		logger:   d.Logger,
		metrics:  d.Metrics,
		opts:     o,
		coord:    NewCoordinator(d.Repo, d.Index, d.Embedder, d.Logger, d.Metrics, o.BatchConcurrency),
		engine:   NewEngine(d.Repo, d.Index, d.Embedder, d.Logger),
		started:  time.Now(),
		now:      time.Now,
	}
}

// observe records a failure metric for err. NotFound is a normal outcome.
func (s *Service) observe(op string, err error) error {
	if err == nil {
		return nil
	}
	if kind := KindOf(err); kind != NotFound {
		s.metrics.OperationFailed(op, string(kind))
		if kind != ValidationFailed {
			s.logger.Warn("memory operation failed", zap.String("op", op), zap.Error(err))
		}
	}
	return err
}

// CreateMemory validates and stores a new memory.
func (s *Service) CreateMemory(ctx context.Context, d model.Draft) (model.Memory, error) {
	d, err := normalizeDraft(d)
	if err != nil {
		return model.Memory{}, s.observe("create", err)
	}
	m, err := s.coord.Create(ctx, d)
	return m, s.observe("create", err)
}

// CreateMemories creates up to MaxBatchSize memories. Invalid drafts fail
// individually with ValidationFailed.
func (s *Service) CreateMemories(ctx context.Context, drafts []model.Draft) (BatchResult, error) {
	if len(drafts) > MaxBatchSize {
		return BatchResult{}, s.observe("batch", validationError("batch",
			fmt.Sprintf("batch must contain at most %d memories, got %d", MaxBatchSize, len(drafts))))
	}

	items := make([]BatchItem, len(drafts))
	var valid []model.Draft
	var positions []int
	for i, d := range drafts {
		nd, err := normalizeDraft(d)
		if err != nil {
			items[i] = BatchItem{Index: i, Err: err}
			continue
		}
		valid = append(valid, nd)
		positions = append(positions, i)
	}

	created := s.coord.CreateBatch(ctx, valid)
	for j, it := range created.Items {
		it.Index = positions[j]
		items[positions[j]] = it
	}
	for _, it := range items {
		s.observe("batch", it.Err)
	}

	res := tally(items)
	s.logger.Info("batch create finished",
		zap.Int("requested", len(drafts)), zap.Int("succeeded", res.Succeeded), zap.Int("failed", res.Failed))
	return res, nil
}

// GetMemory loads a memory. With track set the access count and last access
// time are bumped atomically and the updated row is returned.
func (s *Service) GetMemory(ctx context.Context, id string, track bool) (model.Memory, error) {
	const op = "get"

	var m model.Memory
	var err error
	if track {
		m, err = s.repo.IncrementAccess(ctx, id)
	} else {
		m, err = s.repo.Get(ctx, id)
	}
	if errors.Is(err, store.ErrNotFound) {
		return model.Memory{}, newError(NotFound, op, id, nil)
	}
	if err != nil {
		return model.Memory{}, s.observe(op, newError(Internal, op, id, err))
	}
	return m, nil
}

// UpdateMemory validates and applies a partial update.
func (s *Service) UpdateMemory(ctx context.Context, id string, p model.Patch) (model.Memory, error) {
	p, err := normalizePatch(p)
	if err != nil {
		return model.Memory{}, s.observe("update", err)
	}
	m, err := s.coord.Update(ctx, id, p)
	return m, s.observe("update", err)
}

// DeleteMemory removes a memory from both stores.
func (s *Service) DeleteMemory(ctx context.Context, id string) (bool, error) {
	ok, err := s.coord.Delete(ctx, id)
	return ok, s.observe("delete", err)
}

// SearchMemories runs a hybrid search.
func (s *Service) SearchMemories(ctx context.Context, req SearchRequest) (SearchResponse, error) {
	req, err := normalizeSearch(req, s.opts.DefaultSearchLimit)
	if err != nil {
		return SearchResponse{}, s.observe("search", err)
	}
	resp, err := s.engine.Search(ctx, req)
	if err != nil {
		return SearchResponse{}, s.observe("search", err)
	}
	s.metrics.SearchCompleted(resp.SearchType, resp.QueryTime, resp.TotalCount)
	return resp, nil
}

// GetRecentMemories lists the newest memories.
func (s *Service) GetRecentMemories(ctx context.Context, req RecentRequest) ([]model.Memory, error) {
	req, err := normalizeRecent(req, s.opts.DefaultRecentLimit)
	if err != nil {
		return nil, s.observe("recent", err)
	}
	ms, err := s.repo.QueryRecent(ctx, store.RecentQuery{Limit: req.Limit, UserID: req.UserID, Context: req.Context})
	if err != nil {
		return nil, s.observe("recent", newError(Internal, "recent", "", err))
	}
	return ms, nil
}

// GetStats aggregates statistics over the stored memories.
func (s *Service) GetStats(ctx context.Context) (model.Stats, error) {
	st, err := s.repo.AggregateStats(ctx, s.now())
	if err != nil {
		return model.Stats{}, s.observe("stats", newError(Internal, "stats", "", err))
	}
	st.VectorEntries = s.index.Count()
	return st, nil
}

// HealthStatus reports the reachability of both stores.
type HealthStatus struct {
	Status        string    `json:"status"`
	Database      string    `json:"database"`
	VectorDB      string    `json:"vector_db"`
	Version       string    `json:"version"`
	UptimeSeconds float64   `json:"uptime_seconds"`
	Timestamp     time.Time `json:"timestamp"`
}

// Healthy reports whether both stores are reachable.
func (h HealthStatus) Healthy() bool { return h.Status == "healthy" }

// Health checks both stores.
func (s *Service) Health(ctx context.Context) HealthStatus {
	now := s.now()
	h := HealthStatus{
		Status:        "healthy",
		Database:      "connected",
		VectorDB:      "connected",
		Version:       s.opts.Version,
		UptimeSeconds: now.Sub(s.started).Seconds(),
		Timestamp:     now.UTC(),
	}
	if err := s.repo.Ping(ctx); err != nil {
		s.logger.Warn("database health check failed", zap.Error(err))
		h.Database = "disconnected"
		h.Status = "degraded"
	}
	if !s.indexReachable() {
		h.VectorDB = "disconnected"
		h.Status = "degraded"
	}
	return h
}

func (s *Service) indexReachable() (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Warn("vector index health check panicked", zap.Any("panic", r))
			ok = false
		}
	}()
	s.index.Count()
	return true
}
