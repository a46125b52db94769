package memory

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/rcliao/hybrid-memory/internal/embedding"
	"github.com/rcliao/hybrid-memory/internal/model"
	"github.com/rcliao/hybrid-memory/internal/store"
	"github.com/rcliao/hybrid-memory/internal/vector"
)

const testDims = 1024

var errInjected = errors.New("injected failure")

type flakyEmbedder struct {
	embedding.Embedder

	mu     sync.Mutex
	fail   bool
	failOn map[string]bool
	calls  int
}

func (f *flakyEmbedder) Embed(ctx context.Context, text string) (embedding.Vector, error) {
	f.mu.Lock()
	f.calls++
	fail := f.fail || f.failOn[text]
	f.mu.Unlock()
	if fail {
		return nil, errInjected
	}
	return f.Embedder.Embed(ctx, text)
}

func (f *flakyEmbedder) setFail(v bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fail = v
}

func (f *flakyEmbedder) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type flakyIndex struct {
	vector.Index

	mu         sync.Mutex
	failUpsert bool
	failDelete bool
	failSearch bool

	afterUpsert func(id string)
}

func (f *flakyIndex) Upsert(ctx context.Context, id string, vec []float32, p vector.Payload) error {
	f.mu.Lock()
	fail := f.failUpsert
	f.mu.Unlock()
	if fail {
		return errInjected
	}
	if err := f.Index.Upsert(ctx, id, vec, p); err != nil {
		return err
	}
	if f.afterUpsert != nil {
		f.afterUpsert(id)
	}
	return nil
}

func (f *flakyIndex) Delete(ctx context.Context, id string) error {
	f.mu.Lock()
	fail := f.failDelete
	f.mu.Unlock()
	if fail {
		return errInjected
	}
	return f.Index.Delete(ctx, id)
}

func (f *flakyIndex) Search(ctx context.Context, vec []float32, flt vector.Filter, limit int, minScore float64) ([]vector.Hit, error) {
	f.mu.Lock()
	fail := f.failSearch
	f.mu.Unlock()
	if fail {
		return nil, errInjected
	}
	return f.Index.Search(ctx, vec, flt, limit, minScore)
}

type flakyRepo struct {
	Repository

	mu         sync.Mutex
	failCommit bool
	failDelete bool
	failUpdate bool

	// Hooks run after a repair page has been read.
	afterListIndexed   func()
	afterListUnindexed func()
}

func (f *flakyRepo) ListIndexed(ctx context.Context, afterID string, limit int) ([]model.Memory, error) {
	page, err := f.Repository.ListIndexed(ctx, afterID, limit)
	if f.afterListIndexed != nil {
		f.afterListIndexed()
	}
	return page, err
}

func (f *flakyRepo) ListUnindexed(ctx context.Context, olderThan time.Time, limit int) ([]model.Memory, error) {
	page, err := f.Repository.ListUnindexed(ctx, olderThan, limit)
	if f.afterListUnindexed != nil {
		f.afterListUnindexed()
	}
	return page, err
}

func (f *flakyRepo) Commit(ctx context.Context, id, vectorID string) (model.Memory, error) {
	f.mu.Lock()
	fail := f.failCommit
	f.mu.Unlock()
	if fail {
		return model.Memory{}, errInjected
	}
	return f.Repository.Commit(ctx, id, vectorID)
}

func (f *flakyRepo) Delete(ctx context.Context, id string) (bool, error) {
	f.mu.Lock()
	fail := f.failDelete
	f.mu.Unlock()
	if fail {
		return false, errInjected
	}
	return f.Repository.Delete(ctx, id)
}

func (f *flakyRepo) Update(ctx context.Context, id string, p model.Patch) (model.Memory, error) {
	f.mu.Lock()
	fail := f.failUpdate
	f.mu.Unlock()
	if fail {
		return model.Memory{}, errInjected
	}
	return f.Repository.Update(ctx, id, p)
}

type harness struct {
	svc      *Service
	store    *store.SQLiteStore
	index    *vector.ChromemIndex
	embedder *flakyEmbedder
	flakyIdx *flakyIndex
	repo     *flakyRepo
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	st, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "memory.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	idx, err := vector.NewChromemIndex(vector.ChromemOptions{Collection: "test", Dims: testDims})
	require.NoError(t, err)

	h := &harness{
		store:    st,
		index:    idx,
		embedder: &flakyEmbedder{Embedder: embedding.NewHashEmbedder(testDims), failOn: map[string]bool{}},
		flakyIdx: &flakyIndex{Index: idx},
		repo:     &flakyRepo{Repository: st},
	}
	h.svc = NewService(Deps{
		Repo:     h.repo,
		Index:    h.flakyIdx,
		Embedder: h.embedder,
		Logger:   zap.NewNop(),
	}, Options{BatchConcurrency: 3, Version: "test"})
	return h
}

func (h *harness) create(t *testing.T, content string, importance int) model.Memory {
	t.Helper()
	m, err := h.svc.CreateMemory(context.Background(), model.Draft{Content: content, ImportanceScore: &importance})
	require.NoError(t, err)
	return m
}

// rows returns every relational row, tentative ones included.
func (h *harness) rows(t *testing.T) []model.Memory {
	t.Helper()
	all, err := h.store.ExportAll(context.Background())
	require.NoError(t, err)
	return all
}

func intp(n int) *int { return &n }

func strp(s string) *string { return &s }
