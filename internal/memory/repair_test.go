package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rcliao/hybrid-memory/internal/model"
)

// stuckCreate leaves a tentative row whose vector was written but never committed.
func stuckCreate(t *testing.T, h *harness, content string) model.Memory {
	t.Helper()
	h.repo.failCommit = true
	h.flakyIdx.failDelete = true
	_, err := h.svc.CreateMemory(context.Background(), model.Draft{Content: content})
	require.Equal(t, StoreCommitFailed, KindOf(err))
	h.repo.failCommit = false
	h.flakyIdx.failDelete = false

	rows := h.rows(t)
	for _, r := range rows {
		if r.Content == content {
			return r
		}
	}
	t.Fatalf("tentative row for %q not found", content)
	return model.Memory{}
}

func TestRepair_CommitsUnindexedRows(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	stuck := stuckCreate(t, h, "left behind")
	time.Sleep(2 * time.Millisecond)

	report, err := h.svc.Repair(ctx, RepairOptions{GracePeriod: time.Millisecond})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Unindexed)
	assert.Equal(t, 1, report.Reindexed)
	assert.Equal(t, 0, report.Failed)
	require.Len(t, report.Issues, 1)
	assert.Equal(t, RepairIssue{MemoryID: stuck.ID, Kind: Inconsistent, Action: "reindex"}, report.Issues[0])

	got, err := h.svc.GetMemory(ctx, stuck.ID, false)
	require.NoError(t, err)
	assert.True(t, got.Indexed())
	assert.Equal(t, 1, h.index.Count())
}

func TestRepair_GracePeriodSkipsFreshRows(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	stuckCreate(t, h, "in flight")

	report, err := h.svc.Repair(ctx, RepairOptions{})
	require.NoError(t, err)
	assert.Equal(t, 0, report.Unindexed)
	assert.Empty(t, report.Issues)
}

func TestRepair_ReindexesDanglingRows(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	m := h.create(t, "lost vector", 5)
	h.create(t, "healthy", 5)
	require.NoError(t, h.index.Delete(ctx, m.ID))

	report, err := h.svc.Repair(ctx, RepairOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Dangling)
	assert.Equal(t, 1, report.Reindexed)

	p, found, err := h.index.Get(ctx, m.ID)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "lost vector", p.Content)
}

func TestRepair_RemovesOrphanVectors(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	orphan := h.create(t, "row deleted", 5)
	live := h.create(t, "row kept", 5)
	_, err := h.store.Delete(ctx, orphan.ID)
	require.NoError(t, err)

	report, err := h.svc.Repair(ctx, RepairOptions{OrphanIDs: []string{orphan.ID, live.ID, "unknown"}})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Orphans)
	assert.Equal(t, 1, report.OrphansRemoved)

	exists, err := h.index.Exists(ctx, orphan.ID)
	require.NoError(t, err)
	assert.False(t, exists)
	exists, err = h.index.Exists(ctx, live.ID)
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestRepair_DryRunChangesNothing(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	dangling := h.create(t, "dangling", 5)
	orphan := h.create(t, "orphan", 5)
	require.NoError(t, h.index.Delete(ctx, dangling.ID))
	_, err := h.store.Delete(ctx, orphan.ID)
	require.NoError(t, err)

	report, err := h.svc.Repair(ctx, RepairOptions{DryRun: true, OrphanIDs: []string{orphan.ID}})
	require.NoError(t, err)
	assert.True(t, report.DryRun)
	assert.Equal(t, 1, report.Dangling)
	assert.Equal(t, 1, report.Orphans)
	assert.Equal(t, 0, report.Reindexed)
	assert.Equal(t, 0, report.OrphansRemoved)

	actions := map[string]string{}
	for _, is := range report.Issues {
		actions[is.MemoryID] = is.Action
	}
	assert.Equal(t, map[string]string{dangling.ID: "would_reindex", orphan.ID: "would_delete_vector"}, actions)

	exists, err := h.index.Exists(ctx, dangling.ID)
	require.NoError(t, err)
	assert.False(t, exists)
	exists, err = h.index.Exists(ctx, orphan.ID)
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestRepair_RecordsFailures(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	m := h.create(t, "unfixable", 5)
	require.NoError(t, h.index.Delete(ctx, m.ID))
	h.embedder.setFail(true)

	report, err := h.svc.Repair(ctx, RepairOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Dangling)
	assert.Equal(t, 1, report.Failed)
	require.Len(t, report.Issues, 1)
	assert.Equal(t, "failed", report.Issues[0].Action)
	assert.Contains(t, report.Issues[0].Error, "embedding_unavailable")
}

func TestRepair_LimitCapsDanglingScan(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	for i := 0; i < 3; i++ {
		m := h.create(t, "gap", 5)
		require.NoError(t, h.index.Delete(ctx, m.ID))
	}

	report, err := h.svc.Repair(ctx, RepairOptions{Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, 2, report.Dangling)
	assert.Equal(t, 2, report.Reindexed)
	assert.Equal(t, 2, h.index.Count())
}

func TestRepair_RowDeletedDuringReindexDropsVector(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	m := h.create(t, "deleted mid sweep", 5)
	require.NoError(t, h.index.Delete(ctx, m.ID))

	h.repo.afterListIndexed = func() {
		h.repo.afterListIndexed = nil
		// Delete finds no vector to remove and drops the row.
		ok, err := h.svc.DeleteMemory(ctx, m.ID)
		require.NoError(t, err)
		require.True(t, ok)
	}

	report, err := h.svc.Repair(ctx, RepairOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Dangling)
	assert.Equal(t, 0, report.Reindexed)
	assert.Equal(t, 0, report.Failed)
	require.Len(t, report.Issues, 1)
	assert.Equal(t, "row_gone", report.Issues[0].Action)

	_, err = h.svc.GetMemory(ctx, m.ID, false)
	assert.Equal(t, NotFound, KindOf(err))
	exists, err := h.index.Exists(ctx, m.ID)
	require.NoError(t, err)
	assert.False(t, exists, "vector must not outlive its row")
	assert.Equal(t, 0, h.index.Count())
}

func TestRepair_RowDeletedElsewhereAfterUpsertDropsVector(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	m := h.create(t, "deleted by another process", 5)
	require.NoError(t, h.index.Delete(ctx, m.ID))

	h.flakyIdx.afterUpsert = func(id string) {
		h.flakyIdx.afterUpsert = nil
		_, err := h.store.Delete(ctx, id)
		require.NoError(t, err)
	}

	report, err := h.svc.Repair(ctx, RepairOptions{})
	require.NoError(t, err)
	require.Len(t, report.Issues, 1)
	assert.Equal(t, "row_gone", report.Issues[0].Action)
	assert.Equal(t, 0, report.Reindexed)

	exists, err := h.index.Exists(ctx, m.ID)
	require.NoError(t, err)
	assert.False(t, exists, "vector must not outlive its row")
	assert.Empty(t, h.rows(t))
}

func TestRepair_ReindexUsesCurrentContent(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	m := h.create(t, "before edit", 5)
	require.NoError(t, h.index.Delete(ctx, m.ID))

	h.repo.afterListIndexed = func() {
		h.repo.afterListIndexed = nil
		_, err := h.store.Update(ctx, m.ID, model.Patch{Content: strp("after edit")})
		require.NoError(t, err)
	}

	report, err := h.svc.Repair(ctx, RepairOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Reindexed)

	p, found, err := h.index.Get(ctx, m.ID)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "after edit", p.Content)
}

func TestRepair_TentativeRowDeletedBeforeCommitDropsVector(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	stuck := stuckCreate(t, h, "abandoned")
	time.Sleep(2 * time.Millisecond)

	h.repo.afterListUnindexed = func() {
		h.repo.afterListUnindexed = nil
		_, err := h.store.Delete(ctx, stuck.ID)
		require.NoError(t, err)
	}

	report, err := h.svc.Repair(ctx, RepairOptions{GracePeriod: time.Millisecond})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Unindexed)
	assert.Equal(t, 0, report.Reindexed)
	require.Len(t, report.Issues, 1)
	assert.Equal(t, "row_gone", report.Issues[0].Action)

	exists, err := h.index.Exists(ctx, stuck.ID)
	require.NoError(t, err)
	assert.False(t, exists)
	assert.Empty(t, h.rows(t))
}
