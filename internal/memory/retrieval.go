package memory

import (
	"context"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/rcliao/hybrid-memory/internal/embedding"
	"github.com/rcliao/hybrid-memory/internal/model"
	"github.com/rcliao/hybrid-memory/internal/store"
	"github.com/rcliao/hybrid-memory/internal/vector"
)

// Engine answers searches by merging a semantic leg over the vector index with
// a keyword leg over the relational store.
type Engine struct {
	repo     Repository
	index    vector.Index
	embedder embedding.Embedder
	logger   *zap.Logger
	now      func() time.Time
}

// NewEngine creates a retrieval Engine.
func NewEngine(repo Repository, index vector.Index, embedder embedding.Embedder, logger *zap.Logger) *Engine {
	return &Engine{repo: repo, index: index, embedder: embedder, logger: logger, now: time.Now}
}

// Search runs the requested legs and merges them. req must already be validated.
func (e *Engine) Search(ctx context.Context, req SearchRequest) (SearchResponse, error) {
	const op = "search"
	start := e.now()

	var semantic []model.Memory
	if req.IncludeSemantic {
		var err error
		semantic, err = e.semanticLeg(ctx, req)
		if err != nil {
			return SearchResponse{}, err
		}
	}

	var keyword []model.Memory
	if !req.IncludeSemantic || req.IncludeKeyword {
		var err error
		keyword, err = e.repo.QueryByText(ctx, store.TextQuery{
			Query:          req.Query,
			Context:        req.Filters.Context,
			UserID:         req.Filters.UserID,
			ConversationID: req.Filters.ConversationID,
			Tags:           req.Filters.Tags,
			Limit:          req.Limit,
		})
		if err != nil {
			return SearchResponse{}, newError(Internal, op, "", err)
		}
	}

	merged := mergeResults(semantic, keyword, req.Limit)
	return SearchResponse{
		Memories:   merged,
		TotalCount: len(merged),
		SearchType: searchType(req),
		QueryTime:  e.now().Sub(start),
	}, nil
}

func (e *Engine) semanticLeg(ctx context.Context, req SearchRequest) ([]model.Memory, error) {
	const op = "search"

	vec, err := e.embedder.Embed(ctx, req.Query)
	if err != nil {
		return nil, newError(EmbeddingUnavailable, op, "", err)
	}

	hits, err := e.index.Search(ctx, vec, vector.Filter{
		Context:        req.Filters.Context,
		UserID:         req.Filters.UserID,
		ConversationID: req.Filters.ConversationID,
	}, req.Limit, req.MinSimilarity)
	if err != nil {
		return nil, newError(IndexReadFailed, op, "", err)
	}
	if len(hits) == 0 {
		return nil, nil
	}

	ids := make([]string, len(hits))
	for i, h := range hits {
		ids[i] = h.ID
	}
	rows, err := e.repo.GetMany(ctx, ids)
	if err != nil {
		return nil, newError(Internal, op, "", err)
	}

	out := make([]model.Memory, 0, len(hits))
	var tombstoned []string
	for _, h := range hits {
		m, ok := rows[h.ID]
		if !ok {
			tombstoned = append(tombstoned, h.ID)
			continue
		}
		// The payload may predate a label-only update; the row is authoritative.
		if !matchesLabels(m, req.Filters) {
			continue
		}
		score := h.Score
		m.SimilarityScore = &score
		out = append(out, m)
	}
	if len(tombstoned) > 0 {
		e.logger.Debug("dropped vector hits without a row",
			zap.Strings("memory_ids", tombstoned), zap.Int("count", len(tombstoned)))
	}
	return out, nil
}

func matchesLabels(m model.Memory, f Filters) bool {
	if f.Context != "" && model.Deref(m.Context) != f.Context {
		return false
	}
	if f.UserID != "" && model.Deref(m.UserID) != f.UserID {
		return false
	}
	if f.ConversationID != "" && model.Deref(m.ConversationID) != f.ConversationID {
		return false
	}
	return true
}

// mergeResults unions both legs by id, letting semantic scores win, orders the
// union and truncates it to limit.
func mergeResults(semantic, keyword []model.Memory, limit int) []model.Memory {
	seen := make(map[string]bool, len(semantic)+len(keyword))
	out := make([]model.Memory, 0, len(semantic)+len(keyword))

	for _, m := range semantic {
		if seen[m.ID] {
			continue
		}
		seen[m.ID] = true
		out = append(out, m)
	}
	for _, m := range keyword {
		if seen[m.ID] {
			continue
		}
		seen[m.ID] = true
		score := KeywordScore
		m.SimilarityScore = &score
		out = append(out, m)
	}

	sort.SliceStable(out, func(i, j int) bool { return rankBefore(out[i], out[j]) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// rankBefore orders by score, importance and creation time, all descending.
// The id breaks remaining ties so the order is total.
func rankBefore(a, b model.Memory) bool {
	sa, sb := scoreOf(a), scoreOf(b)
	if sa != sb {
		return sa > sb
	}
	if a.ImportanceScore != b.ImportanceScore {
		return a.ImportanceScore > b.ImportanceScore
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.After(b.CreatedAt)
	}
	return a.ID > b.ID
}

func scoreOf(m model.Memory) float64 {
	if m.SimilarityScore == nil {
		return 0
	}
	return *m.SimilarityScore
}

func searchType(req SearchRequest) string {
	switch {
	case !req.IncludeSemantic:
		return SearchKeyword
	case req.IncludeKeyword:
		return SearchHybrid
	default:
		return SearchSemantic
	}
}
