package store

import (
	"context"

	"github.com/rcliao/hybrid-memory/internal/model"
)

// ExportAll returns every memory row in creation order.
func (s *SQLiteStore) ExportAll(ctx context.Context) ([]model.Memory, error) {
	return s.queryMemories(ctx,
		`SELECT `+memoryColumns+` FROM memories ORDER BY created_at, id`)
}
