package memory

import (
	"context"
	"errors"
	"hash/fnv"
	"sync"

	"go.uber.org/zap"

	"github.com/rcliao/hybrid-memory/internal/embedding"
	"github.com/rcliao/hybrid-memory/internal/model"
	"github.com/rcliao/hybrid-memory/internal/store"
	"github.com/rcliao/hybrid-memory/internal/vector"
)

// Coordinator orders writes across the relational store and the vector index.
// Creates and updates write the vector before the relational commit; deletes
// remove the vector first. Failures are compensated where possible and the
// remainder is left detectable for Repair.
type Coordinator struct {
	repo        Repository
	index       vector.Index
	embedder    embedding.Embedder
	logger      *zap.Logger
	metrics     Metrics
	concurrency int
	locks       idLocks
}

const lockStripes = 64

// idLocks serialises deletes, updates and repairs of the same memory id
// within one process.
type idLocks struct {
	stripes [lockStripes]sync.Mutex
}

func (l *idLocks) lock(id string) func() {
	h := fnv.New32a()
	h.Write([]byte(id))
	mu := &l.stripes[h.Sum32()%lockStripes]
	mu.Lock()
	return mu.Unlock
}

// NewCoordinator creates a Coordinator. concurrency bounds parallel batch items.
func NewCoordinator(repo Repository, index vector.Index, embedder embedding.Embedder, logger *zap.Logger, metrics Metrics, concurrency int) *Coordinator {
	if concurrency <= 0 {
		concurrency = 4
	}
	if metrics == nil {
		metrics = nopMetrics{}
	}
	return &Coordinator{
		repo:        repo,
		index:       index,
		embedder:    embedder,
		logger:      logger,
		metrics:     metrics,
		concurrency: concurrency,
	}
}

// Create writes a validated draft to both stores.
func (c *Coordinator) Create(ctx context.Context, d model.Draft) (model.Memory, error) {
	const op = "create"

	id, err := c.repo.InsertTentative(ctx, store.FieldsFromDraft(d))
	if err != nil {
		return model.Memory{}, newError(Internal, op, "", err)
	}

	vec, err := c.embedder.Embed(ctx, d.Content)
	if err != nil {
		c.discardRow(ctx, op, id)
		return model.Memory{}, newError(EmbeddingUnavailable, op, id, err)
	}

	draft := model.Memory{
		ID:              id,
		Content:         d.Content,
		Context:         d.Context,
		Tags:            d.Tags,
		UserID:          d.UserID,
		ConversationID:  d.ConversationID,
		ImportanceScore: d.Importance(),
	}
	if err := c.index.Upsert(ctx, id, vec, payloadFor(draft)); err != nil {
		c.discardRow(ctx, op, id)
		return model.Memory{}, newError(IndexWriteFailed, op, id, err)
	}

	m, err := c.repo.Commit(ctx, id, id)
	if err != nil {
		c.discardVectorAndRow(ctx, op, id, err)
		return model.Memory{}, newError(StoreCommitFailed, op, id, err)
	}

	c.logger.Info("memory created", zap.String("memory_id", id))
	c.metrics.MemoryCreated()
	return m, nil
}

// discardRow deletes a tentative row after a failed create.
func (c *Coordinator) discardRow(ctx context.Context, op, id string) {
	if _, err := c.repo.Delete(context.WithoutCancel(ctx), id); err != nil {
		c.logger.Warn("tentative row left behind",
			zap.String("memory_id", id), zap.String("op", op), zap.Error(err))
		c.metrics.Compensation(op, "failed")
		return
	}
	c.metrics.Compensation(op, "ok")
}

// discardVectorAndRow undoes a create whose relational commit failed. The row
// is only dropped once the vector is gone, so a vector never outlives its row.
func (c *Coordinator) discardVectorAndRow(ctx context.Context, op, id string, cause error) {
	cctx := context.WithoutCancel(ctx)
	if err := c.index.Delete(cctx, id); err != nil {
		c.logger.Error("irreconcilable state: vector written but row not committed",
			zap.String("memory_id", id), zap.NamedError("cause", cause), zap.NamedError("cleanup_error", err))
		c.metrics.Compensation(op, "failed")
		return
	}
	c.discardRow(ctx, op, id)
}

// Update applies a validated patch. When content changes the vector is
// re-indexed before the relational update is committed.
func (c *Coordinator) Update(ctx context.Context, id string, p model.Patch) (model.Memory, error) {
	const op = "update"
	defer c.locks.lock(id)()

	cur, err := c.repo.Get(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return model.Memory{}, newError(NotFound, op, id, nil)
	}
	if err != nil {
		return model.Memory{}, newError(Internal, op, id, err)
	}

	reindex := p.Content != nil && *p.Content != cur.Content
	if reindex {
		next := p.Apply(cur)
		vec, err := c.embedder.Embed(ctx, next.Content)
		if err != nil {
			return model.Memory{}, newError(EmbeddingUnavailable, op, id, err)
		}
		if err := c.index.Upsert(ctx, id, vec, payloadFor(next)); err != nil {
			return model.Memory{}, newError(IndexWriteFailed, op, id, err)
		}
	}

	m, err := c.repo.Update(ctx, id, p)
	if err != nil {
		if reindex {
			c.restoreVector(ctx, op, cur, err)
		}
		if errors.Is(err, store.ErrNotFound) {
			return model.Memory{}, newError(NotFound, op, id, nil)
		}
		return model.Memory{}, newError(StoreCommitFailed, op, id, err)
	}

	c.logger.Info("memory updated", zap.String("memory_id", id), zap.Bool("reindexed", reindex))
	return m, nil
}

// restoreVector puts back the pre-update vector after a failed relational update.
// If the row vanished meanwhile the vector is removed instead.
func (c *Coordinator) restoreVector(ctx context.Context, op string, prev model.Memory, cause error) {
	cctx := context.WithoutCancel(ctx)

	var err error
	if errors.Is(cause, store.ErrNotFound) {
		err = c.index.Delete(cctx, prev.ID)
	} else {
		var vec embedding.Vector
		vec, err = c.embedder.Embed(cctx, prev.Content)
		if err == nil {
			err = c.index.Upsert(cctx, prev.ID, vec, payloadFor(prev))
		}
	}
	if err != nil {
		c.logger.Error("irreconcilable state: vector ahead of row",
			zap.String("memory_id", prev.ID), zap.NamedError("cause", cause), zap.NamedError("cleanup_error", err))
		c.metrics.Compensation(op, "failed")
		return
	}
	c.logger.Warn("vector restored after failed update", zap.String("memory_id", prev.ID), zap.Error(cause))
	c.metrics.Compensation(op, "ok")
}

// Delete removes the vector entry, then the row. It reports false when the
// memory does not exist.
func (c *Coordinator) Delete(ctx context.Context, id string) (bool, error) {
	const op = "delete"
	defer c.locks.lock(id)()

	if _, err := c.repo.Get(ctx, id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return false, nil
		}
		return false, newError(Internal, op, id, err)
	}

	if err := c.index.Delete(ctx, id); err != nil {
		return false, newError(IndexWriteFailed, op, id, err)
	}

	ok, err := c.repo.Delete(ctx, id)
	if err != nil {
		c.logger.Warn("vector removed but row remains", zap.String("memory_id", id), zap.Error(err))
		return false, newError(StoreCommitFailed, op, id, err)
	}
	if ok {
		c.logger.Info("memory deleted", zap.String("memory_id", id))
		c.metrics.MemoryDeleted()
	}
	return ok, nil
}

// CreateBatch creates each draft independently. A failed item does not stop
// its siblings. Items in the result keep input order.
func (c *Coordinator) CreateBatch(ctx context.Context, drafts []model.Draft) BatchResult {
	items := make([]BatchItem, len(drafts))
	sem := make(chan struct{}, c.concurrency)
	var wg sync.WaitGroup

	for i, d := range drafts {
		wg.Add(1)
		sem <- struct{}{}
		go func(i int, d model.Draft) {
			defer wg.Done()
			defer func() { <-sem }()

			m, err := c.Create(ctx, d)
			if err != nil {
				items[i] = BatchItem{Index: i, Err: err}
				return
			}
			items[i] = BatchItem{Index: i, Memory: &m}
		}(i, d)
	}
	wg.Wait()

	return tally(items)
}

func tally(items []BatchItem) BatchResult {
	res := BatchResult{Items: items}
	for _, it := range items {
		if it.Err != nil {
			res.Failed++
		} else {
			res.Succeeded++
		}
	}
	return res
}
