package graph

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stoneforge-ai/stoneforge/internal/core"
)

type fakeWalker struct {
	outgoing map[core.ElementID][]core.Dependency
	incoming map[core.ElementID][]core.Dependency
}

func (f *fakeWalker) Outgoing(ctx context.Context, id core.ElementID) ([]core.Dependency, error) {
	return f.outgoing[id], nil
}

func (f *fakeWalker) Incoming(ctx context.Context, id core.ElementID) ([]core.Dependency, error) {
	return f.incoming[id], nil
}

func edge(blocked, blocker core.ElementID, t core.DependencyType) core.Dependency {
	return core.Dependency{Blocked: blocked, Blocker: blocker, Type: t}
}

func TestTreeWalksToRequestedDepth(t *testing.T) {
	w := &fakeWalker{outgoing: map[core.ElementID][]core.Dependency{
		"el-aaa": {edge("el-aaa", "el-bbb", core.DepBlocks)},
		"el-bbb": {edge("el-bbb", "el-ccc", core.DepBlocks)},
		"el-ccc": {edge("el-ccc", "el-ddd", core.DepBlocks)},
	}}

	nodes, err := Tree(context.Background(), w, "el-aaa", DirectionOutgoing, 2)
	require.NoError(t, err)
	require.Len(t, nodes, 2, "depth cap must stop the walk before el-ddd")
	assert.Equal(t, core.ElementID("el-bbb"), nodes[0].ID)
	assert.Equal(t, 1, nodes[0].Depth)
	assert.Equal(t, core.ElementID("el-ccc"), nodes[1].ID)
	assert.Equal(t, 2, nodes[1].Depth)
}

func TestTreeDeduplicatesDiamonds(t *testing.T) {
	// aaa depends on bbb and ccc; both depend on ddd.
	w := &fakeWalker{outgoing: map[core.ElementID][]core.Dependency{
		"el-aaa": {edge("el-aaa", "el-bbb", core.DepBlocks), edge("el-aaa", "el-ccc", core.DepBlocks)},
		"el-bbb": {edge("el-bbb", "el-ddd", core.DepBlocks)},
		"el-ccc": {edge("el-ccc", "el-ddd", core.DepBlocks)},
	}}

	nodes, err := Tree(context.Background(), w, "el-aaa", DirectionOutgoing, 5)
	require.NoError(t, err)
	ids := make(map[core.ElementID]int)
	for _, n := range nodes {
		ids[n.ID]++
	}
	assert.Equal(t, 1, ids["el-ddd"], "a node reachable by two paths appears once")
	assert.Len(t, nodes, 3)
}

func TestTreeIncomingDirection(t *testing.T) {
	w := &fakeWalker{incoming: map[core.ElementID][]core.Dependency{
		"el-ddd": {edge("el-bbb", "el-ddd", core.DepBlocks)},
	}}

	nodes, err := Tree(context.Background(), w, "el-ddd", DirectionIncoming, 1)
	require.NoError(t, err)
	require.Len(t, nodes, 1)
	assert.Equal(t, core.ElementID("el-bbb"), nodes[0].ID)
}

func TestAreRelatedIsSymmetric(t *testing.T) {
	// Canonical storage puts the smaller id as blocked: el-aaa -> el-bbb.
	rel := edge("el-aaa", "el-bbb", core.DepRelatesTo)
	w := &fakeWalker{
		outgoing: map[core.ElementID][]core.Dependency{"el-aaa": {rel}},
		incoming: map[core.ElementID][]core.Dependency{"el-bbb": {rel}},
	}

	ab, err := AreRelated(context.Background(), w, "el-aaa", "el-bbb")
	require.NoError(t, err)
	ba, err := AreRelated(context.Background(), w, "el-bbb", "el-aaa")
	require.NoError(t, err)
	assert.True(t, ab)
	assert.True(t, ba, "areRelated(a,b) must equal areRelated(b,a)")

	other, err := AreRelated(context.Background(), w, "el-aaa", "el-zzz")
	require.NoError(t, err)
	assert.False(t, other)
}

func TestRelatedCollectsBothOrderings(t *testing.T) {
	rel := edge("el-aaa", "el-bbb", core.DepRelatesTo)
	w := &fakeWalker{
		outgoing: map[core.ElementID][]core.Dependency{"el-aaa": {rel}},
		incoming: map[core.ElementID][]core.Dependency{"el-bbb": {rel}},
	}

	fromA, err := Related(context.Background(), w, "el-aaa")
	require.NoError(t, err)
	fromB, err := Related(context.Background(), w, "el-bbb")
	require.NoError(t, err)
	assert.Equal(t, []core.ElementID{"el-bbb"}, fromA)
	assert.Equal(t, []core.ElementID{"el-aaa"}, fromB)
}
