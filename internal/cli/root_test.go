package cli

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitTags(t *testing.T) {
	assert.Equal(t, []string{"a", "b c"}, splitTags(" a, ,b c ,"))
	assert.Nil(t, splitTags(""))
}

func TestParseMeta(t *testing.T) {
	meta, err := parseMeta(`{"source":"chat","n":2}`)
	require.NoError(t, err)
	assert.Equal(t, "chat", meta["source"])

	meta, err = parseMeta("")
	require.NoError(t, err)
	assert.Nil(t, meta)

	_, err = parseMeta(`[1,2]`)
	assert.Error(t, err)
}

func TestFirstLine(t *testing.T) {
	assert.Equal(t, "hello", firstLine("hello\nworld", 80))
	assert.Equal(t, "héll...", firstLine("héllo", 4))
}

func TestNonEmpty(t *testing.T) {
	assert.NotNil(t, nonEmpty[string](nil))
	assert.Equal(t, []int{1}, nonEmpty([]int{1}))
}
