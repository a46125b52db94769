package store

import (
	"context"
	"fmt"
	"time"

	"github.com/rcliao/hybrid-memory/internal/model"
)

const (
	statsWindowDays = 30
	topTagsLimit    = 10
	uncategorized   = "uncategorized"
)

// AggregateStats computes counts over committed memories. Tentative rows only
// show up in UnindexedMemories. Daily counts cover the statsWindowDays days
// before now.
func (s *SQLiteStore) AggregateStats(ctx context.Context, now time.Time) (model.Stats, error) {
	st := model.Stats{
		MemoriesByContext: map[string]int{},
		MemoriesByDay:     map[string]int{},
		TopTags:           []model.TagCount{},
	}

	var all int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
		       COUNT(vector_id),
		       COALESCE(AVG(CASE WHEN `+committed+` THEN access_count END), 0),
		       COUNT(DISTINCT CASE WHEN `+committed+` THEN user_id END)
		FROM memories`).Scan(&all, &st.TotalMemories, &st.AvgAccessCount, &st.TotalUsers)
	if err != nil {
		return st, fmt.Errorf("count memories: %w", err)
	}
	st.IndexedMemories = st.TotalMemories
	st.UnindexedMemories = all - st.TotalMemories

	rows, err := s.db.QueryContext(ctx, `
		SELECT COALESCE(context, ?), COUNT(*)
		FROM memories WHERE `+committed+`
		GROUP BY COALESCE(context, ?)`, uncategorized, uncategorized)
	if err != nil {
		return st, fmt.Errorf("count by context: %w", err)
	}
	for rows.Next() {
		var label string
		var n int
		if err := rows.Scan(&label, &n); err != nil {
			rows.Close()
			return st, err
		}
		st.MemoriesByContext[label] = n
	}
	rows.Close()

	since := formatTime(now.AddDate(0, 0, -statsWindowDays))
	rows, err = s.db.QueryContext(ctx, `
		SELECT substr(created_at, 1, 10) AS day, COUNT(*)
		FROM memories WHERE `+committed+` AND created_at >= ?
		GROUP BY day ORDER BY day`, since)
	if err != nil {
		return st, fmt.Errorf("count by day: %w", err)
	}
	for rows.Next() {
		var day string
		var n int
		if err := rows.Scan(&day, &n); err != nil {
			rows.Close()
			return st, err
		}
		st.MemoriesByDay[day] = n
	}
	rows.Close()

	rows, err = s.db.QueryContext(ctx, `
		SELECT t.value, COUNT(*) AS cnt
		FROM memories m, json_each(m.tags) t
		WHERE m.`+committed+`
		GROUP BY t.value
		ORDER BY cnt DESC, t.value ASC
		LIMIT ?`, topTagsLimit)
	if err != nil {
		return st, fmt.Errorf("top tags: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var tc model.TagCount
		if err := rows.Scan(&tc.Tag, &tc.Count); err != nil {
			return st, err
		}
		st.TopTags = append(st.TopTags, tc)
	}

	return st, rows.Err()
}
