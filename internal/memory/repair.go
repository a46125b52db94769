package memory

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/rcliao/hybrid-memory/internal/model"
	"github.com/rcliao/hybrid-memory/internal/store"
)

// DefaultGracePeriod keeps Repair away from creates that are still in flight.
const DefaultGracePeriod = time.Minute

const repairPageSize = 100

// RepairOptions controls a consistency sweep.
type RepairOptions struct {
	// GracePeriod skips tentative rows younger than this.
	GracePeriod time.Duration
	// Limit caps the repairs made by each pass. Zero means 100.
	Limit  int
	DryRun bool
	// OrphanIDs are vector ids suspected to have lost their row.
	OrphanIDs []string
}

// RepairIssue describes one partially written memory found by Repair.
type RepairIssue struct {
	MemoryID string `json:"memory_id"`
	Kind     Kind   `json:"kind"`
	Action   string `json:"action"`
	Error    string `json:"error,omitempty"`
}

// RepairReport summarises a sweep.
type RepairReport struct {
	Unindexed      int           `json:"unindexed"`
	Dangling       int           `json:"dangling"`
	Orphans        int           `json:"orphans"`
	Reindexed      int           `json:"reindexed"`
	OrphansRemoved int           `json:"orphans_removed"`
	Failed         int           `json:"failed"`
	DryRun         bool          `json:"dry_run"`
	Issues         []RepairIssue `json:"issues"`
}

// Repair finds partially written memories and completes or removes them:
// tentative rows past the grace period are indexed and committed, rows whose
// vector entry is missing are re-indexed, and listed orphan vectors without a
// row are deleted.
func (s *Service) Repair(ctx context.Context, opts RepairOptions) (RepairReport, error) {
	const op = "repair"
	if opts.GracePeriod <= 0 {
		opts.GracePeriod = DefaultGracePeriod
	}
	if opts.Limit <= 0 {
		opts.Limit = 100
	}
	report := RepairReport{DryRun: opts.DryRun, Issues: []RepairIssue{}}

	pending, err := s.repo.ListUnindexed(ctx, s.now().Add(-opts.GracePeriod), opts.Limit)
	if err != nil {
		return report, s.observe(op, newError(Internal, op, "", err))
	}
	for _, m := range pending {
		report.Unindexed++
		s.repairOne(ctx, &report, m, true, opts.DryRun)
	}

	if err := s.scanDangling(ctx, &report, opts); err != nil {
		return report, s.observe(op, newError(Internal, op, "", err))
	}

	for _, id := range opts.OrphanIDs {
		s.removeOrphan(ctx, &report, id, opts.DryRun)
	}

	s.logger.Info("repair finished",
		zap.Bool("dry_run", opts.DryRun),
		zap.Int("unindexed", report.Unindexed),
		zap.Int("dangling", report.Dangling),
		zap.Int("orphans", report.Orphans),
		zap.Int("reindexed", report.Reindexed),
		zap.Int("failed", report.Failed))
	return report, nil
}

// scanDangling pages through committed rows and re-indexes those whose vector
// entry is gone.
func (s *Service) scanDangling(ctx context.Context, report *RepairReport, opts RepairOptions) error {
	after := ""
	for report.Dangling < opts.Limit {
		page, err := s.repo.ListIndexed(ctx, after, repairPageSize)
		if err != nil {
			return err
		}
		for _, m := range page {
			ok, err := s.index.Exists(ctx, m.ID)
			if err != nil {
				return err
			}
			if ok {
				continue
			}
			report.Dangling++
			s.repairOne(ctx, report, m, false, opts.DryRun)
			if report.Dangling >= opts.Limit {
				return nil
			}
		}
		if len(page) < repairPageSize {
			return nil
		}
		after = page[len(page)-1].ID
	}
	return nil
}

// repairOne re-embeds m and writes its vector. Tentative rows are committed
// afterwards. If the row disappears while the vector is being written, for
// instance by a writer in another process, the vector is removed again.
func (s *Service) repairOne(ctx context.Context, report *RepairReport, m model.Memory, commit, dryRun bool) {
	issue := RepairIssue{MemoryID: m.ID, Kind: Inconsistent, Action: "reindex"}
	if dryRun {
		issue.Action = "would_reindex"
		report.Issues = append(report.Issues, issue)
		return
	}
	defer s.coord.locks.lock(m.ID)()

	rowGone, err := s.reindex(ctx, m, commit)
	switch {
	case err != nil:
		issue.Action = "failed"
		issue.Error = err.Error()
		report.Failed++
		s.logger.Warn("repair failed", zap.String("memory_id", m.ID), zap.Error(err))
	case rowGone:
		issue.Action = "row_gone"
		s.logger.Info("row deleted during repair, vector dropped", zap.String("memory_id", m.ID))
	default:
		report.Reindexed++
	}
	report.Issues = append(report.Issues, issue)
}

func (s *Service) reindex(ctx context.Context, m model.Memory, commit bool) (rowGone bool, err error) {
	const op = "repair"

	if !commit {
		cur, err := s.repo.Get(ctx, m.ID)
		if errors.Is(err, store.ErrNotFound) {
			return true, nil
		}
		if err != nil {
			return false, newError(Internal, op, m.ID, err)
		}
		m = cur
	}

	vec, err := s.embedder.Embed(ctx, m.Content)
	if err != nil {
		return false, newError(EmbeddingUnavailable, op, m.ID, err)
	}
	if err := s.index.Upsert(ctx, m.ID, vec, payloadFor(m)); err != nil {
		return false, newError(IndexWriteFailed, op, m.ID, err)
	}

	if commit {
		_, err = s.repo.Commit(ctx, m.ID, m.ID)
	} else {
		_, err = s.repo.Get(ctx, m.ID)
	}
	if errors.Is(err, store.ErrNotFound) {
		if err := s.index.Delete(context.WithoutCancel(ctx), m.ID); err != nil {
			return true, newError(IndexWriteFailed, op, m.ID, err)
		}
		return true, nil
	}
	if err != nil {
		if commit {
			return false, newError(StoreCommitFailed, op, m.ID, err)
		}
		return false, newError(Internal, op, m.ID, err)
	}
	return false, nil
}

func (s *Service) removeOrphan(ctx context.Context, report *RepairReport, id string, dryRun bool) {
	if _, err := s.repo.Get(ctx, id); !errors.Is(err, store.ErrNotFound) {
		return
	}
	exists, err := s.index.Exists(ctx, id)
	if err != nil || !exists {
		return
	}

	report.Orphans++
	issue := RepairIssue{MemoryID: id, Kind: Inconsistent, Action: "delete_vector"}
	if dryRun {
		issue.Action = "would_delete_vector"
	} else if err := s.index.Delete(ctx, id); err != nil {
		issue.Action = "failed"
		issue.Error = err.Error()
		report.Failed++
	} else {
		report.OrphansRemoved++
	}
	report.Issues = append(report.Issues, issue)
}
