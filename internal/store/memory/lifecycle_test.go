package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stoneforge-ai/stoneforge/internal/core"
)

func TestWorkflowLifecycle(t *testing.T) {
	s := New()
	ctx := context.Background()
	w := &core.Workflow{
		Element: core.Element{ID: "el-wf1", CreatedAt: time.Now().UTC(), UpdatedAt: time.Now().UTC()},
		Name:    "deploy",
	}
	require.NoError(t, s.CreateWorkflow(ctx, w, "el-actor"))

	got, err := s.GetWorkflow(ctx, "el-wf1")
	require.NoError(t, err)
	assert.Equal(t, core.WorkflowPending, got.Status, "a workflow with no explicit status starts pending")

	require.NoError(t, s.UpdateWorkflowStatus(ctx, "el-wf1", core.WorkflowRunning, "el-actor"))
	require.NoError(t, s.UpdateWorkflowStatus(ctx, "el-wf1", core.WorkflowCompleted, "el-actor"))

	// Terminal states are absorbing.
	err = s.UpdateWorkflowStatus(ctx, "el-wf1", core.WorkflowRunning, "el-actor")
	assert.True(t, core.Is(err, core.ErrInvalidStatus))

	final, err := s.GetWorkflow(ctx, "el-wf1")
	require.NoError(t, err)
	assert.Equal(t, core.WorkflowCompleted, final.Status)
	assert.NotNil(t, final.StartedAt)
	assert.NotNil(t, final.EndedAt)
}

func TestPlanCommitIsIdempotent(t *testing.T) {
	s := New()
	ctx := context.Background()
	p := &core.Plan{
		Element: core.Element{ID: "el-pl1", CreatedAt: time.Now().UTC(), UpdatedAt: time.Now().UTC()},
		Name:    "release plan",
		TaskIDs: []core.TaskID{"el-aaa", "el-bbb"},
	}
	require.NoError(t, s.CreatePlan(ctx, p, "el-actor"))

	got, err := s.GetPlan(ctx, "el-pl1")
	require.NoError(t, err)
	assert.True(t, got.IsDraft())

	require.NoError(t, s.CommitPlan(ctx, "el-pl1", "el-actor"))
	require.NoError(t, s.CommitPlan(ctx, "el-pl1", "el-actor"), "re-committing a committed plan is a no-op")

	committed, err := s.GetPlan(ctx, "el-pl1")
	require.NoError(t, err)
	assert.Equal(t, core.PlanCommitted, committed.Status)

	plans, err := s.ListPlans(ctx)
	require.NoError(t, err)
	assert.Len(t, plans, 1)
}

func TestEntityCreateAndResolveViaGetElement(t *testing.T) {
	s := New()
	ctx := context.Background()
	e := &core.Entity{
		Element:     core.Element{ID: "el-usr", CreatedAt: time.Now().UTC(), UpdatedAt: time.Now().UTC()},
		DisplayName: "Ada",
	}
	require.NoError(t, s.CreateEntity(ctx, e, "el-usr"))

	got, err := s.GetEntity(ctx, "el-usr")
	require.NoError(t, err)
	assert.Equal(t, "Ada", got.DisplayName)

	el, err := s.GetElement(ctx, "el-usr")
	require.NoError(t, err)
	ent, ok := el.(*core.Entity)
	require.True(t, ok)
	assert.Equal(t, "Ada", ent.DisplayName)
}

func TestListDependenciesFiltersByType(t *testing.T) {
	s := New()
	ctx := context.Background()
	for _, id := range []core.TaskID{"el-aaa", "el-bbb", "el-ccc"} {
		require.NoError(t, s.CreateTask(ctx, newTask(id, string(id)), "el-actor"))
	}
	require.NoError(t, s.AddDependency(ctx, core.Dependency{Blocked: "el-aaa", Blocker: "el-bbb", Type: core.DepBlocks, CreatedBy: "el-actor"}))
	require.NoError(t, s.AddDependency(ctx, core.Dependency{Blocked: "el-aaa", Blocker: "el-ccc", Type: core.DepRelatesTo, CreatedBy: "el-actor"}))

	blocks, err := s.ListDependencies(ctx, core.DepBlocks)
	require.NoError(t, err)
	require.Len(t, blocks, 1)
	assert.Equal(t, core.ElementID("el-bbb"), blocks[0].Blocker)

	related, err := s.ListDependencies(ctx, core.DepRelatesTo)
	require.NoError(t, err)
	assert.Len(t, related, 1)
}
