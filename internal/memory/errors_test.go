package memory

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rcliao/hybrid-memory/internal/model"
)

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"nil", nil, ""},
		{"typed", newError(IndexWriteFailed, "create", "id", errInjected), IndexWriteFailed},
		{"wrapped", fmt.Errorf("outer: %w", newError(NotFound, "get", "id", nil)), NotFound},
		{"foreign", errors.New("boom"), Internal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, KindOf(tt.err))
		})
	}
}

func TestError_IsAndUnwrap(t *testing.T) {
	err := newError(StoreCommitFailed, "delete", "m1", errInjected)

	assert.ErrorIs(t, err, ErrStoreCommitFailed)
	assert.NotErrorIs(t, err, ErrIndexWriteFailed)
	assert.ErrorIs(t, err, errInjected)
	assert.Equal(t, "delete: store_commit_failed (id=m1): injected failure", err.Error())
}

func TestValidationError_ListsFields(t *testing.T) {
	long := make([]byte, model.MaxLabelLength+1)
	for i := range long {
		long[i] = 'x'
	}
	_, err := normalizeDraft(model.Draft{
		Content:         "ok",
		Context:         strp(string(long)),
		ImportanceScore: intp(0),
	})

	var e *Error
	assert.True(t, errors.As(err, &e))
	assert.Equal(t, ValidationFailed, e.Kind)
	assert.ElementsMatch(t, []string{
		"context must be at most 255 characters",
		"importance_score must be at least 1",
	}, e.Details)
}

func TestNormalizeDraft(t *testing.T) {
	d, err := normalizeDraft(model.Draft{
		Content: "  body ",
		Context: strp("   "),
		UserID:  strp(" u1 "),
		Tags:    []string{" a ", "", "b"},
	})
	assert.NoError(t, err)
	assert.Equal(t, "body", d.Content)
	assert.Nil(t, d.Context)
	assert.Equal(t, "u1", model.Deref(d.UserID))
	assert.Equal(t, []string{"a", "b"}, d.Tags)

	_, err = normalizeDraft(model.Draft{Content: string(make([]rune, model.MaxContentLength+1))})
	assert.Equal(t, ValidationFailed, KindOf(err))
}

func TestNormalizePatch_RejectsEmptyContent(t *testing.T) {
	_, err := normalizePatch(model.Patch{Content: strp("  ")})
	assert.Equal(t, ValidationFailed, KindOf(err))

	p, err := normalizePatch(model.Patch{Tags: &[]string{" x ", " "}})
	assert.NoError(t, err)
	assert.Equal(t, []string{"x"}, *p.Tags)

	p, err = normalizePatch(model.Patch{Context: strp("  ")})
	assert.NoError(t, err)
	require.NotNil(t, p.Context, "a blank context is kept so the update clears it")
	assert.Equal(t, "", *p.Context)
}
