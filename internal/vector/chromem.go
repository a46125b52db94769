package vector

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"

	chromem "github.com/philippgille/chromem-go"
)

const (
	keyMemoryID       = "memory_id"
	keyContext        = "context"
	keyUserID         = "user_id"
	keyConversationID = "conversation_id"
	keyImportance     = "importance_score"
	keyTags           = "tags"
)

// ChromemOptions configures a ChromemIndex.
type ChromemOptions struct {
	// Path enables on-disk persistence when non-empty.
	Path       string
	Compress   bool
	Collection string
	// Dims, when positive, rejects vectors of any other length.
	Dims int
}

// ChromemIndex implements Index on an embedded chromem-go collection.
type ChromemIndex struct {
	db   *chromem.DB
	col  *chromem.Collection
	dims int
}

// NewChromemIndex opens the collection, creating it if needed.
func NewChromemIndex(opts ChromemOptions) (*ChromemIndex, error) {
	name := opts.Collection
	if name == "" {
		name = "memories"
	}

	var db *chromem.DB
	if opts.Path == "" {
		db = chromem.NewDB()
	} else {
		var err error
		db, err = chromem.NewPersistentDB(opts.Path, opts.Compress)
		if err != nil {
			return nil, fmt.Errorf("open vector db: %w", err)
		}
	}

	// Vectors are always supplied by the caller, so no embedding func is needed.
	col, err := db.GetOrCreateCollection(name, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("create collection: %w", err)
	}

	return &ChromemIndex{db: db, col: col, dims: opts.Dims}, nil
}

func (x *ChromemIndex) checkDims(vec []float32) error {
	if len(vec) == 0 || (x.dims > 0 && len(vec) != x.dims) {
		return fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, len(vec), x.dims)
	}
	return nil
}

// Upsert implements Index. chromem overwrites documents with the same id.
func (x *ChromemIndex) Upsert(ctx context.Context, id string, vec []float32, p Payload) error {
	if err := x.checkDims(vec); err != nil {
		return err
	}
	meta, err := encodePayload(p)
	if err != nil {
		return err
	}
	// chromem normalises in place; keep the caller's slice intact.
	emb := append([]float32(nil), vec...)
	doc := chromem.Document{
		ID:        id,
		Content:   p.Content,
		Embedding: emb,
		Metadata:  meta,
	}
	if err := x.col.AddDocument(ctx, doc); err != nil {
		return fmt.Errorf("add document: %w", err)
	}
	return nil
}

// Search implements Index.
func (x *ChromemIndex) Search(ctx context.Context, vec []float32, f Filter, limit int, minScore float64) ([]Hit, error) {
	if err := x.checkDims(vec); err != nil {
		return nil, err
	}
	// chromem requires nResults <= collection size.
	n := limit
	if c := x.col.Count(); n > c {
		n = c
	}
	if n <= 0 {
		return []Hit{}, nil
	}

	query := append([]float32(nil), vec...)
	results, err := x.col.QueryEmbedding(ctx, query, n, f.where(), nil)
	if err != nil && x.col.Count() < n {
		// Entries were deleted between Count and the query.
		if n = x.col.Count(); n == 0 {
			return []Hit{}, nil
		}
		results, err = x.col.QueryEmbedding(ctx, query, n, f.where(), nil)
	}
	if err != nil {
		return nil, fmt.Errorf("query embedding: %w", err)
	}

	hits := make([]Hit, 0, len(results))
	for _, r := range results {
		score := clamp(float64(r.Similarity))
		if score < minScore {
			continue
		}
		p, err := decodePayload(r.ID, r.Content, r.Metadata)
		if err != nil {
			return nil, err
		}
		hits = append(hits, Hit{ID: r.ID, Score: score, Payload: p})
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	return hits, nil
}

// Delete implements Index.
func (x *ChromemIndex) Delete(ctx context.Context, id string) error {
	ok, err := x.Exists(ctx, id)
	if err != nil || !ok {
		return err
	}
	if err := x.col.Delete(ctx, nil, nil, id); err != nil {
		return fmt.Errorf("delete document: %w", err)
	}
	return nil
}

// Exists implements Index.
func (x *ChromemIndex) Exists(ctx context.Context, id string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if id == "" {
		return false, nil
	}
	// GetByID only fails for an empty or unknown id.
	if _, err := x.col.GetByID(ctx, id); err != nil {
		return false, nil
	}
	return true, nil
}

// Count implements Index.
func (x *ChromemIndex) Count() int {
	return x.col.Count()
}

// Get returns the stored payload for id.
func (x *ChromemIndex) Get(ctx context.Context, id string) (Payload, bool, error) {
	ok, err := x.Exists(ctx, id)
	if err != nil || !ok {
		return Payload{}, false, err
	}
	doc, err := x.col.GetByID(ctx, id)
	if err != nil {
		return Payload{}, false, nil
	}
	p, err := decodePayload(doc.ID, doc.Content, doc.Metadata)
	if err != nil {
		return Payload{}, false, err
	}
	return p, true, nil
}

func (f Filter) where() map[string]string {
	w := map[string]string{}
	if f.Context != "" {
		w[keyContext] = f.Context
	}
	if f.UserID != "" {
		w[keyUserID] = f.UserID
	}
	if f.ConversationID != "" {
		w[keyConversationID] = f.ConversationID
	}
	if len(w) == 0 {
		return nil
	}
	return w
}

func encodePayload(p Payload) (map[string]string, error) {
	tags := p.Tags
	if tags == nil {
		tags = []string{}
	}
	b, err := json.Marshal(tags)
	if err != nil {
		return nil, fmt.Errorf("encode tags: %w", err)
	}
	meta := map[string]string{
		keyMemoryID:   p.MemoryID,
		keyImportance: strconv.Itoa(p.ImportanceScore),
		keyTags:       string(b),
	}
	// Absent labels are omitted so equality filters never match them.
	if p.Context != nil {
		meta[keyContext] = *p.Context
	}
	if p.UserID != nil {
		meta[keyUserID] = *p.UserID
	}
	if p.ConversationID != nil {
		meta[keyConversationID] = *p.ConversationID
	}
	return meta, nil
}

func decodePayload(id, content string, meta map[string]string) (Payload, error) {
	p := Payload{MemoryID: meta[keyMemoryID], Content: content}
	if p.MemoryID == "" {
		p.MemoryID = id
	}
	if v, ok := meta[keyContext]; ok {
		p.Context = &v
	}
	if v, ok := meta[keyUserID]; ok {
		p.UserID = &v
	}
	if v, ok := meta[keyConversationID]; ok {
		p.ConversationID = &v
	}
	if v := meta[keyImportance]; v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return p, fmt.Errorf("decode importance for %s: %w", id, err)
		}
		p.ImportanceScore = n
	}
	if v := meta[keyTags]; v != "" {
		if err := json.Unmarshal([]byte(v), &p.Tags); err != nil {
			return p, fmt.Errorf("decode tags for %s: %w", id, err)
		}
	}
	return p, nil
}

func clamp(s float64) float64 {
	switch {
	case s < 0:
		return 0
	case s > 1:
		return 1
	}
	return s
}
