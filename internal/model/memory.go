// Package model defines the core memory data types.
package model

import (
	"encoding/json"
	"time"
)

const (
	// MaxContentLength bounds memory content, counted in characters.
	MaxContentLength = 10000
	// MaxLabelLength bounds context, user and conversation identifiers.
	MaxLabelLength = 255

	MinImportance     = 1
	MaxImportance     = 10
	DefaultImportance = 1
)

// Metadata is an opaque key/value payload attached to a memory. The core never
// interprets it; it is stored as JSON and returned as-is.
type Metadata map[string]any

// Clone returns a deep copy made through a JSON round trip.
func (m Metadata) Clone() Metadata {
	if m == nil {
		return nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return m
	}
	var out Metadata
	if err := json.Unmarshal(b, &out); err != nil {
		return m
	}
	return out
}

// Memory represents a stored memory entry.
type Memory struct {
	ID              string     `json:"id"`
	Content         string     `json:"content"`
	Context         *string    `json:"context"`
	Tags            []string   `json:"tags"`
	Metadata        Metadata   `json:"metadata"`
	UserID          *string    `json:"user_id"`
	ConversationID  *string    `json:"conversation_id"`
	ImportanceScore int        `json:"importance_score"`
	AccessCount     int        `json:"access_count"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
	LastAccessed    *time.Time `json:"last_accessed"`
	VectorID        *string    `json:"vector_id"`
	SimilarityScore *float64   `json:"similarity_score,omitempty"`
}

// Indexed reports whether the memory claims a vector index entry.
func (m Memory) Indexed() bool {
	return m.VectorID != nil && *m.VectorID != ""
}

// Draft holds the caller-supplied fields of a memory to create.
type Draft struct {
	Content         string   `json:"content" validate:"required,max=10000"`
	Context         *string  `json:"context,omitempty" validate:"omitempty,max=255"`
	Tags            []string `json:"tags,omitempty" validate:"omitempty,dive,max=255"`
	Metadata        Metadata `json:"metadata,omitempty"`
	UserID          *string  `json:"user_id,omitempty" validate:"omitempty,max=255"`
	ConversationID  *string  `json:"conversation_id,omitempty" validate:"omitempty,max=255"`
	ImportanceScore *int     `json:"importance_score,omitempty" validate:"omitempty,min=1,max=10"`
}

// Importance returns the draft's importance, falling back to the default.
func (d Draft) Importance() int {
	if d.ImportanceScore == nil {
		return DefaultImportance
	}
	return *d.ImportanceScore
}

// Patch is a partial update. A nil field is left untouched; only presence matters.
// A present but empty Context clears the label.
type Patch struct {
	Content         *string   `json:"content,omitempty" validate:"omitempty,min=1,max=10000"`
	Context         *string   `json:"context,omitempty" validate:"omitempty,max=255"`
	Tags            *[]string `json:"tags,omitempty" validate:"omitempty,dive,max=255"`
	Metadata        *Metadata `json:"metadata,omitempty"`
	ImportanceScore *int      `json:"importance_score,omitempty" validate:"omitempty,min=1,max=10"`
}

// Empty reports whether the patch sets no field at all.
func (p Patch) Empty() bool {
	return p.Content == nil && p.Context == nil && p.Tags == nil && p.Metadata == nil && p.ImportanceScore == nil
}

// Apply returns a copy of m with the present patch fields applied.
func (p Patch) Apply(m Memory) Memory {
	out := m
	if p.Content != nil {
		out.Content = *p.Content
	}
	if p.Context != nil {
		out.Context = StringPtr(*p.Context)
	}
	if p.Tags != nil {
		out.Tags = append([]string(nil), (*p.Tags)...)
	}
	if p.Metadata != nil {
		out.Metadata = p.Metadata.Clone()
	}
	if p.ImportanceScore != nil {
		out.ImportanceScore = *p.ImportanceScore
	}
	return out
}

// TagCount is one entry of the most used tags.
type TagCount struct {
	Tag   string `json:"tag"`
	Count int    `json:"count"`
}

// Stats summarises the stored memories.
type Stats struct {
	TotalMemories     int            `json:"total_memories"`
	MemoriesByContext map[string]int `json:"memories_by_context"`
	MemoriesByDay     map[string]int `json:"memories_by_day"`
	TopTags           []TagCount     `json:"top_tags"`
	AvgAccessCount    float64        `json:"avg_access_count"`
	TotalUsers        int            `json:"total_users"`
	IndexedMemories   int            `json:"indexed_memories"`
	UnindexedMemories int            `json:"unindexed_memories"`
	VectorEntries     int            `json:"vector_entries"`
}

// StringPtr returns a pointer to s, or nil when s is empty.
func StringPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// Deref returns the pointed-to string or "".
func Deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
