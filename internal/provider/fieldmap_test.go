package provider

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stoneforge-ai/stoneforge/internal/core"
)

func TestNewFieldTransformRejectsUnknownKind(t *testing.T) {
	_, err := NewFieldTransform("priority", "priority", TransformKind("made-up"))
	assert.True(t, core.Is(err, core.ErrInvalidInput), "unknown transform names must be rejected, not silently looked up")
}

func TestNewFieldTransformAcceptsEnumeratedKinds(t *testing.T) {
	for _, k := range []TransformKind{TransformIdentity, TransformLabelsAsSet, TransformPriorityRemap} {
		_, err := NewFieldTransform("a", "b", k)
		require.NoError(t, err)
	}
}

func TestLabelsAsSetDedupesAndSorts(t *testing.T) {
	tr, err := NewFieldTransform("tags", "labels", TransformLabelsAsSet)
	require.NoError(t, err)

	out, err := tr.ToExternal([]string{"urgent", "bug", "bug"})
	require.NoError(t, err)
	assert.Equal(t, []string{"bug", "urgent"}, out)
}

func TestPriorityRemapFallsBackToDefault(t *testing.T) {
	tr, err := NewFieldTransform("priority", "priority", TransformPriorityRemap)
	require.NoError(t, err)
	tr.PriorityMap = map[int]int{1: 4, 2: 3}
	tr.DefaultPriority = 2

	out, err := tr.ToExternal(1)
	require.NoError(t, err)
	assert.Equal(t, 4, out)

	out, err = tr.ToExternal(99) // unmapped input
	require.NoError(t, err)
	assert.Equal(t, 2, out)
}

func TestIdentityTransformPassesThrough(t *testing.T) {
	tr, err := NewFieldTransform("title", "title", TransformIdentity)
	require.NoError(t, err)
	out, err := tr.ToExternal("hello")
	require.NoError(t, err)
	assert.Equal(t, "hello", out)
}
