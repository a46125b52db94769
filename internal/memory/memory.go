// Package memory coordinates the relational store, the vector index and the
// embedding provider. It owns the write protocol that keeps both stores
// converging, hybrid retrieval, access tracking and consistency repair.
package memory

import (
	"context"
	"time"

	"github.com/rcliao/hybrid-memory/internal/model"
	"github.com/rcliao/hybrid-memory/internal/store"
	"github.com/rcliao/hybrid-memory/internal/vector"
)

// Repository is the relational system of record. store.SQLiteStore implements it.
// Absent rows are reported as store.ErrNotFound.
type Repository interface {
	InsertTentative(ctx context.Context, f store.Fields) (string, error)
	Commit(ctx context.Context, id, vectorID string) (model.Memory, error)
	Get(ctx context.Context, id string) (model.Memory, error)
	GetMany(ctx context.Context, ids []string) (map[string]model.Memory, error)
	Update(ctx context.Context, id string, p model.Patch) (model.Memory, error)
	Delete(ctx context.Context, id string) (bool, error)
	IncrementAccess(ctx context.Context, id string) (model.Memory, error)
	QueryByText(ctx context.Context, q store.TextQuery) ([]model.Memory, error)
	QueryRecent(ctx context.Context, q store.RecentQuery) ([]model.Memory, error)
	AggregateStats(ctx context.Context, now time.Time) (model.Stats, error)
	ListUnindexed(ctx context.Context, olderThan time.Time, limit int) ([]model.Memory, error)
	ListIndexed(ctx context.Context, afterID string, limit int) ([]model.Memory, error)
	Ping(ctx context.Context) error
}

// Metrics receives operational counters. observability.Collector implements it.
type Metrics interface {
	MemoryCreated()
	MemoryDeleted()
	OperationFailed(op, kind string)
	Compensation(op, outcome string)
	SearchCompleted(searchType string, took time.Duration, results int)
}

type nopMetrics struct{}

func (nopMetrics) MemoryCreated() {}
func (nopMetrics) MemoryDeleted() {}
func (nopMetrics) OperationFailed(string, string) {}
func (nopMetrics) Compensation(string, string) {}
func (nopMetrics) SearchCompleted(string, time.Duration, int) {}

// Filters narrows a search. Empty fields do not filter.
type Filters struct {
	Context        string   `json:"context,omitempty" validate:"max=255"`
	UserID         string   `json:"user_id,omitempty" validate:"max=255"`
	ConversationID string   `json:"conversation_id,omitempty" validate:"max=255"`
	Tags           []string `json:"tags,omitempty" validate:"omitempty,dive,max=255"`
}

// SearchRequest holds the parameters of a hybrid search.
type SearchRequest struct {
	Query           string  `json:"query" validate:"required"`
	Filters         Filters `json:"filters"`
	Limit           int     `json:"limit" validate:"min=1,max=100"`
	MinSimilarity   float64 `json:"min_similarity" validate:"min=0,max=1"`
	IncludeSemantic bool    `json:"include_semantic"`
	IncludeKeyword  bool    `json:"include_keyword"`
}

// Search types reported with every search response.
const (
	SearchSemantic = "semantic"
	SearchKeyword  = "keyword"
	SearchHybrid   = "hybrid"
)

// KeywordScore is the similarity assigned to hits found only by the keyword leg.
const KeywordScore = 0.5

// SearchResponse is the merged, ordered search result.
type SearchResponse struct {
	Memories   []model.Memory
	TotalCount int
	SearchType string
	QueryTime  time.Duration
}

// RecentRequest holds the parameters for listing the newest memories.
type RecentRequest struct {
	Limit   int    `json:"limit" validate:"min=1,max=100"`
	UserID  string `json:"user_id,omitempty" validate:"max=255"`
	Context string `json:"context,omitempty" validate:"max=255"`
}

// BatchItem is the outcome of one draft in a batch create.
type BatchItem struct {
	Index  int
	Memory *model.Memory
	Err    error
}

// BatchResult lists per-item outcomes in input order.
type BatchResult struct {
	Items     []BatchItem
	Succeeded int
	Failed    int
}

// payloadFor builds the vector payload mirroring m.
func payloadFor(m model.Memory) vector.Payload {
	return vector.Payload{
		MemoryID:        m.ID,
		Content:         m.Content,
		Context:         m.Context,
		UserID:          m.UserID,
		ConversationID:  m.ConversationID,
		ImportanceScore: m.ImportanceScore,
		Tags:            m.Tags,
	}
}
