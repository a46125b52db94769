package memory

import (
	"errors"
	"fmt"
	"strings"
)

// Kind classifies a failure so callers can map it to a transport status.
type Kind string

const (
	NotFound             Kind = "not_found"
	ValidationFailed     Kind = "validation_failed"
	EmbeddingUnavailable Kind = "embedding_unavailable"
	IndexWriteFailed     Kind = "index_write_failed"
	IndexReadFailed      Kind = "index_read_failed"
	StoreCommitFailed    Kind = "store_commit_failed"
	Inconsistent         Kind = "inconsistent"
	Internal             Kind = "internal"
)

// Sentinels for errors.Is checks. They match any *Error of the same kind.
var (
	ErrNotFound             = &Error{Kind: NotFound}
	ErrValidationFailed     = &Error{Kind: ValidationFailed}
	ErrEmbeddingUnavailable = &Error{Kind: EmbeddingUnavailable}
	ErrIndexWriteFailed     = &Error{Kind: IndexWriteFailed}
	ErrIndexReadFailed      = &Error{Kind: IndexReadFailed}
	ErrStoreCommitFailed    = &Error{Kind: StoreCommitFailed}
	ErrInconsistent         = &Error{Kind: Inconsistent}
)

// Error is the failure type returned by the service.
type Error struct {
	Kind Kind
	Op   string
	ID   string
	// Details lists individual field problems for ValidationFailed.
	Details []string
	Err     error
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	b.WriteString(string(e.Kind))
	if e.ID != "" {
		fmt.Fprintf(&b, " (id=%s)", e.ID)
	}
	if len(e.Details) > 0 {
		b.WriteString(": ")
		b.WriteString(strings.Join(e.Details, "; "))
	} else if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches another *Error of the same kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

// KindOf returns the kind of err, Internal for foreign errors and "" for nil.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Internal
}

func newError(kind Kind, op, id string, err error) *Error {
	return &Error{Kind: kind, Op: op, ID: id, Err: err}
}

func validationError(op string, details ...string) *Error {
	return &Error{Kind: ValidationFailed, Op: op, Details: details}
}
