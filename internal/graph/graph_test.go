package graph

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stoneforge-ai/stoneforge/internal/core"
)

type fakeSource struct {
	outgoing map[core.ElementID][]core.Dependency
	tasks    map[core.TaskID]*core.Task
}

func (f *fakeSource) Outgoing(ctx context.Context, id core.ElementID) ([]core.Dependency, error) {
	return f.outgoing[id], nil
}

func (f *fakeSource) GetTask(ctx context.Context, id core.TaskID) (*core.Task, error) {
	t, ok := f.tasks[id]
	if !ok {
		return nil, core.NewError(core.ErrNotFound, "task %s not found", id)
	}
	return t, nil
}

func TestBlockedCache_BlockedUntilBlockerCloses(t *testing.T) {
	src := &fakeSource{
		outgoing: map[core.ElementID][]core.Dependency{
			"el-aaa": {{Blocked: "el-aaa", Blocker: "el-bbb", Type: core.DepBlocks}},
		},
		tasks: map[core.TaskID]*core.Task{
			"el-bbb": {Element: core.Element{ID: "el-bbb"}, Status: core.StatusOpen},
		},
	}
	c := New(src)

	blocked, err := c.IsBlocked(context.Background(), "el-aaa")
	require.NoError(t, err)
	assert.True(t, blocked)

	// Blocker closes; cache must be invalidated before the next read.
	src.tasks["el-bbb"].Status = core.StatusClosed
	c.Invalidate("el-aaa")

	blocked, err = c.IsBlocked(context.Background(), "el-aaa")
	require.NoError(t, err)
	assert.False(t, blocked)
}

func TestBlockedCache_ServesCachedValueUntilInvalidated(t *testing.T) {
	src := &fakeSource{
		outgoing: map[core.ElementID][]core.Dependency{
			"el-aaa": {{Blocked: "el-aaa", Blocker: "el-bbb", Type: core.DepBlocks}},
		},
		tasks: map[core.TaskID]*core.Task{
			"el-bbb": {Element: core.Element{ID: "el-bbb"}, Status: core.StatusOpen},
		},
	}
	c := New(src)

	blocked, err := c.IsBlocked(context.Background(), "el-aaa")
	require.NoError(t, err)
	assert.True(t, blocked)

	// Mutate underlying state without invalidating: cache should still
	// serve the stale (but version-consistent) answer.
	src.tasks["el-bbb"].Status = core.StatusClosed
	blocked, err = c.IsBlocked(context.Background(), "el-aaa")
	require.NoError(t, err)
	assert.True(t, blocked, "cached answer should not change until Invalidate is called")
}

func TestBlockedCache_MissingBlockerDoesNotBlock(t *testing.T) {
	src := &fakeSource{
		outgoing: map[core.ElementID][]core.Dependency{
			"el-aaa": {{Blocked: "el-aaa", Blocker: "el-zzz", Type: core.DepBlocks}},
		},
		tasks: map[core.TaskID]*core.Task{},
	}
	c := New(src)

	blocked, err := c.IsBlocked(context.Background(), "el-aaa")
	require.NoError(t, err)
	assert.False(t, blocked)
}

func TestBlockedCache_AwaitsGate(t *testing.T) {
	src := &fakeSource{
		outgoing: map[core.ElementID][]core.Dependency{
			"el-aaa": {{
				Blocked: "el-aaa", Blocker: "el-bbb", Type: core.DepAwaits,
				Gate: &core.Gate{Type: core.GateExternal, Received: false},
			}},
		},
	}
	c := New(src)
	blocked, err := c.IsBlocked(context.Background(), "el-aaa")
	require.NoError(t, err)
	assert.True(t, blocked)

	src.outgoing["el-aaa"][0].Gate.Received = true
	c.Invalidate("el-aaa")
	blocked, err = c.IsBlocked(context.Background(), "el-aaa")
	require.NoError(t, err)
	assert.False(t, blocked)
}
