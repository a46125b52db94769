// Package vector provides the similarity index that mirrors memory rows.
package vector

import (
	"context"
	"errors"
)

// ErrDimensionMismatch is returned when a vector does not match the index dimensionality.
var ErrDimensionMismatch = errors.New("vector dimension mismatch")

// Payload is the denormalised copy of a memory stored next to its vector.
type Payload struct {
	MemoryID        string
	Content         string
	Context         *string
	UserID          *string
	ConversationID  *string
	ImportanceScore int
	Tags            []string
}

// Filter restricts a search to entries whose payload fields equal the given values.
// Empty fields do not filter.
type Filter struct {
	Context        string
	UserID         string
	ConversationID string
}

// Hit is one search result. Score is a similarity in [0,1].
type Hit struct {
	ID      string
	Score   float64
	Payload Payload
}

// Index stores one vector per memory id.
type Index interface {
	// Upsert creates or overwrites the entry for id.
	Upsert(ctx context.Context, id string, vec []float32, p Payload) error
	// Search returns at most limit hits with score >= minScore, best first.
	Search(ctx context.Context, vec []float32, f Filter, limit int, minScore float64) ([]Hit, error)
	// Delete removes the entry for id. Deleting a missing entry is not an error.
	Delete(ctx context.Context, id string) error
	// Exists reports whether an entry for id is present.
	Exists(ctx context.Context, id string) (bool, error)
	// Count returns the number of entries.
	Count() int
}
