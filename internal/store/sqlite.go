package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	_ "modernc.org/sqlite"

	"github.com/rcliao/hybrid-memory/internal/model"
)

// timeLayout is fixed width so that stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// committed restricts reads to fully written rows; tentative rows stay hidden
// until Commit records their vector reference.
const committed = "vector_id IS NOT NULL"

const memoryColumns = `id, content, context, tags, metadata, user_id, conversation_id,
	importance_score, access_count, created_at, updated_at, last_accessed, vector_id`

// SQLiteStore implements the relational memory contract using SQLite.
type SQLiteStore struct {
	db *sql.DB

	mu      sync.Mutex
	entropy *rand.Rand
}

// NewSQLiteStore opens or creates a SQLite database at the given path.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(wal)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(on)")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	// SQLite allows one writer; a single connection serialises writers without SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{
		db:      db,
		entropy: rand.New(rand.NewSource(time.Now().UnixNano())),
	}

	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return s, nil
}

func (s *SQLiteStore) newID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), s.entropy).String()
}

func (s *SQLiteStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS memories (
		id               TEXT PRIMARY KEY,
		content          TEXT NOT NULL,
		context          TEXT,
		tags             TEXT NOT NULL DEFAULT '[]',
		metadata         TEXT,
		user_id          TEXT,
		conversation_id  TEXT,
		importance_score INTEGER NOT NULL DEFAULT 1 CHECK (importance_score BETWEEN 1 AND 10),
		access_count     INTEGER NOT NULL DEFAULT 0,
		created_at       TEXT NOT NULL,
		updated_at       TEXT NOT NULL,
		last_accessed    TEXT,
		vector_id        TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_memories_context ON memories(context);
	CREATE INDEX IF NOT EXISTS idx_memories_user ON memories(user_id);
	CREATE INDEX IF NOT EXISTS idx_memories_conversation ON memories(conversation_id);
	CREATE INDEX IF NOT EXISTS idx_memories_created ON memories(created_at DESC);
	CREATE INDEX IF NOT EXISTS idx_memories_importance ON memories(importance_score DESC, created_at DESC);
	CREATE INDEX IF NOT EXISTS idx_memories_vector ON memories(vector_id);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Ping checks that the database is reachable.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// InsertTentative inserts a row with no vector reference and returns its generated id.
func (s *SQLiteStore) InsertTentative(ctx context.Context, f Fields) (string, error) {
	now := formatTime(time.Now())
	id := s.newID()

	tagsJSON, err := encodeTags(f.Tags)
	if err != nil {
		return "", err
	}
	metaJSON, err := encodeMetadata(f.Metadata)
	if err != nil {
		return "", err
	}
	importance := f.ImportanceScore
	if importance == 0 {
		importance = model.DefaultImportance
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO memories (id, content, context, tags, metadata, user_id, conversation_id,
		                       importance_score, access_count, created_at, updated_at, vector_id)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, 0, ?, ?, NULL)`,
		id, f.Content, f.Context, tagsJSON, metaJSON, f.UserID, f.ConversationID,
		importance, now, now)
	if err != nil {
		return "", fmt.Errorf("insert memory: %w", err)
	}
	return id, nil
}

// Commit records the vector reference of a tentative row, making it fully written.
func (s *SQLiteStore) Commit(ctx context.Context, id, vectorID string) (model.Memory, error) {
	row := s.db.QueryRowContext(ctx,
		`UPDATE memories SET vector_id = ? WHERE id = ? RETURNING `+memoryColumns,
		vectorID, id)
	m, err := scanMemory(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Memory{}, ErrNotFound
	}
	if err != nil {
		return model.Memory{}, fmt.Errorf("commit memory: %w", err)
	}
	return m, nil
}

// Get loads a committed memory without touching access tracking.
func (s *SQLiteStore) Get(ctx context.Context, id string) (model.Memory, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+memoryColumns+` FROM memories WHERE id = ? AND `+committed, id)
	m, err := scanMemory(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Memory{}, ErrNotFound
	}
	if err != nil {
		return model.Memory{}, fmt.Errorf("get memory: %w", err)
	}
	return m, nil
}

// GetMany loads the rows for ids, keyed by id. Missing ids are absent from the map.
func (s *SQLiteStore) GetMany(ctx context.Context, ids []string) (map[string]model.Memory, error) {
	out := make(map[string]model.Memory, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	placeholders := make([]string, len(ids))
	args := make([]interface{}, len(ids))
	for i, id := range ids {
		placeholders[i] = "?"
		args[i] = id
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+memoryColumns+` FROM memories WHERE `+committed+` AND id IN (`+strings.Join(placeholders, ",")+`)`,
		args...)
	if err != nil {
		return nil, fmt.Errorf("get memories: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		m, err := scanMemory(rows)
		if err != nil {
			return nil, err
		}
		out[m.ID] = m
	}
	return out, rows.Err()
}

// Update applies the present fields of p and refreshes updated_at in the same statement.
func (s *SQLiteStore) Update(ctx context.Context, id string, p model.Patch) (model.Memory, error) {
	sets := []string{"updated_at = ?"}
	args := []interface{}{formatTime(time.Now())}

	if p.Content != nil {
		sets = append(sets, "content = ?")
		args = append(args, *p.Content)
	}
	if p.Context != nil {
		// An empty label clears the context.
		sets = append(sets, "context = NULLIF(?, '')")
		args = append(args, *p.Context)
	}
	if p.Tags != nil {
		tagsJSON, err := encodeTags(*p.Tags)
		if err != nil {
			return model.Memory{}, err
		}
		sets = append(sets, "tags = ?")
		args = append(args, tagsJSON)
	}
	if p.Metadata != nil {
		metaJSON, err := encodeMetadata(*p.Metadata)
		if err != nil {
			return model.Memory{}, err
		}
		sets = append(sets, "metadata = ?")
		args = append(args, metaJSON)
	}
	if p.ImportanceScore != nil {
		sets = append(sets, "importance_score = ?")
		args = append(args, *p.ImportanceScore)
	}
	args = append(args, id)

	row := s.db.QueryRowContext(ctx,
		`UPDATE memories SET `+strings.Join(sets, ", ")+` WHERE id = ? AND `+committed+` RETURNING `+memoryColumns,
		args...)
	m, err := scanMemory(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Memory{}, ErrNotFound
	}
	if err != nil {
		return model.Memory{}, fmt.Errorf("update memory: %w", err)
	}
	return m, nil
}

// Delete removes a row. It reports false when the row did not exist.
func (s *SQLiteStore) Delete(ctx context.Context, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM memories WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("delete memory: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete memory: %w", err)
	}
	return n > 0, nil
}

// IncrementAccess atomically bumps access_count and last_accessed and returns the updated row.
func (s *SQLiteStore) IncrementAccess(ctx context.Context, id string) (model.Memory, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return model.Memory{}, err
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx,
		`UPDATE memories SET access_count = access_count + 1, last_accessed = ?
		 WHERE id = ? AND `+committed+` RETURNING `+memoryColumns,
		formatTime(time.Now()), id)
	m, err := scanMemory(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Memory{}, ErrNotFound
	}
	if err != nil {
		return model.Memory{}, fmt.Errorf("increment access: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return model.Memory{}, fmt.Errorf("increment access: %w", err)
	}
	return m, nil
}

// QueryRecent returns the newest memories, optionally filtered by user and context.
func (s *SQLiteStore) QueryRecent(ctx context.Context, q RecentQuery) ([]model.Memory, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = 10
	}

	where := []string{committed}
	var args []interface{}
	if q.UserID != "" {
		where = append(where, "user_id = ?")
		args = append(args, q.UserID)
	}
	if q.Context != "" {
		where = append(where, "context = ?")
		args = append(args, q.Context)
	}
	args = append(args, limit)

	query := fmt.Sprintf(`SELECT %s FROM memories WHERE %s
		ORDER BY created_at DESC, id DESC LIMIT ?`, memoryColumns, strings.Join(where, " AND "))

	return s.queryMemories(ctx, query, args...)
}

// ListUnindexed returns rows without a vector reference created before olderThan, oldest first.
func (s *SQLiteStore) ListUnindexed(ctx context.Context, olderThan time.Time, limit int) ([]model.Memory, error) {
	if limit <= 0 {
		limit = 100
	}
	return s.queryMemories(ctx,
		`SELECT `+memoryColumns+` FROM memories
		 WHERE vector_id IS NULL AND created_at < ?
		 ORDER BY created_at ASC, id ASC LIMIT ?`,
		formatTime(olderThan), limit)
}

// ListIndexed pages through rows that claim a vector entry, ordered by id.
func (s *SQLiteStore) ListIndexed(ctx context.Context, afterID string, limit int) ([]model.Memory, error) {
	if limit <= 0 {
		limit = 100
	}
	return s.queryMemories(ctx,
		`SELECT `+memoryColumns+` FROM memories
		 WHERE vector_id IS NOT NULL AND id > ?
		 ORDER BY id ASC LIMIT ?`,
		afterID, limit)
}

func (s *SQLiteStore) queryMemories(ctx context.Context, query string, args ...interface{}) ([]model.Memory, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	memories := []model.Memory{}
	for rows.Next() {
		m, err := scanMemory(rows)
		if err != nil {
			return nil, err
		}
		memories = append(memories, m)
	}
	return memories, rows.Err()
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanMemory(row scanner) (model.Memory, error) {
	var m model.Memory
	var ctxLabel, metaJSON, userID, convID, lastAccessed, vectorID sql.NullString
	var tagsJSON, createdAt, updatedAt string

	err := row.Scan(
		&m.ID, &m.Content, &ctxLabel, &tagsJSON, &metaJSON, &userID, &convID,
		&m.ImportanceScore, &m.AccessCount, &createdAt, &updatedAt, &lastAccessed, &vectorID,
	)
	if err != nil {
		return m, err
	}

	m.CreatedAt = parseTime(createdAt)
	m.UpdatedAt = parseTime(updatedAt)
	m.Context = nullString(ctxLabel)
	m.UserID = nullString(userID)
	m.ConversationID = nullString(convID)
	m.VectorID = nullString(vectorID)
	if lastAccessed.Valid {
		t := parseTime(lastAccessed.String)
		m.LastAccessed = &t
	}

	m.Tags = []string{}
	if tagsJSON != "" {
		if err := json.Unmarshal([]byte(tagsJSON), &m.Tags); err != nil {
			return m, fmt.Errorf("decode tags: %w", err)
		}
	}
	if metaJSON.Valid && metaJSON.String != "" {
		if err := json.Unmarshal([]byte(metaJSON.String), &m.Metadata); err != nil {
			return m, fmt.Errorf("decode metadata: %w", err)
		}
	}

	return m, nil
}

func nullString(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	v := ns.String
	return &v
}

func encodeTags(tags []string) (string, error) {
	if tags == nil {
		tags = []string{}
	}
	b, err := json.Marshal(tags)
	if err != nil {
		return "", fmt.Errorf("encode tags: %w", err)
	}
	return string(b), nil
}

func encodeMetadata(meta model.Metadata) (*string, error) {
	if meta == nil {
		return nil, nil
	}
	b, err := json.Marshal(meta)
	if err != nil {
		return nil, fmt.Errorf("encode metadata: %w", err)
	}
	v := string(b)
	return &v, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		t, _ = time.Parse(time.RFC3339Nano, s)
	}
	return t
}
