// Package store provides the relational system of record for memories, backed by SQLite.
package store

import (
	"errors"

	"github.com/rcliao/hybrid-memory/internal/model"
)

// ErrNotFound is returned when a memory row does not exist.
var ErrNotFound = errors.New("memory not found")

// Fields holds the column values of a new memory row.
type Fields struct {
	Content         string
	Context         *string
	Tags            []string
	Metadata        model.Metadata
	UserID          *string
	ConversationID  *string
	ImportanceScore int
}

// FieldsFromDraft copies a validated draft into row fields.
func FieldsFromDraft(d model.Draft) Fields {
	return Fields{
		Content:         d.Content,
		Context:         d.Context,
		Tags:            d.Tags,
		Metadata:        d.Metadata,
		UserID:          d.UserID,
		ConversationID:  d.ConversationID,
		ImportanceScore: d.Importance(),
	}
}

// TextQuery holds parameters for the keyword search.
type TextQuery struct {
	Query          string
	Context        string
	UserID         string
	ConversationID string
	Tags           []string
	Limit          int
}

// RecentQuery holds parameters for listing the newest memories.
type RecentQuery struct {
	Context string
	UserID  string
	Limit   int
}
