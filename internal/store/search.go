package store

import (
	"context"
	"database/sql/driver"
	"fmt"
	"strings"

	"modernc.org/sqlite"

	"github.com/rcliao/hybrid-memory/internal/model"
)

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// init registers fold(x), a Unicode-aware lower(). SQLite's own lower() only
// folds ASCII.
func init() {
	sqlite.MustRegisterDeterministicScalarFunction("fold", 1, func(_ *sqlite.FunctionContext, args []driver.Value) (driver.Value, error) {
		switch v := args[0].(type) {
		case string:
			return strings.ToLower(v), nil
		case []byte:
			return strings.ToLower(string(v)), nil
		default:
			return v, nil
		}
	})
}

// QueryByText finds memories whose content contains the query, ignoring case.
// Results are ordered by importance, then recency, then id, all descending.
func (s *SQLiteStore) QueryByText(ctx context.Context, q TextQuery) ([]model.Memory, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = 10
	}

	where := []string{"m." + committed, `fold(m.content) LIKE fold(?) ESCAPE '\'`}
	args := []interface{}{"%" + likeEscaper.Replace(q.Query) + "%"}

	if q.Context != "" {
		where = append(where, "m.context = ?")
		args = append(args, q.Context)
	}
	if q.UserID != "" {
		where = append(where, "m.user_id = ?")
		args = append(args, q.UserID)
	}
	if q.ConversationID != "" {
		where = append(where, "m.conversation_id = ?")
		args = append(args, q.ConversationID)
	}
	for _, tag := range q.Tags {
		where = append(where, "EXISTS (SELECT 1 FROM json_each(m.tags) t WHERE t.value = ?)")
		args = append(args, tag)
	}
	args = append(args, limit)

	query := fmt.Sprintf(`
		SELECT %s
		FROM memories m
		WHERE %s
		ORDER BY m.importance_score DESC, m.created_at DESC, m.id DESC
		LIMIT ?`, prefixed("m", memoryColumns), strings.Join(where, " AND "))

	memories, err := s.queryMemories(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("keyword search: %w", err)
	}
	return memories, nil
}

// prefixed qualifies a comma separated column list with a table alias.
func prefixed(alias, columns string) string {
	parts := strings.Split(columns, ",")
	for i, p := range parts {
		parts[i] = alias + "." + strings.TrimSpace(p)
	}
	return strings.Join(parts, ", ")
}
