package sqlite

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stoneforge-ai/stoneforge/internal/core"
)

func TestWorkflowLifecycleRoundTrips(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()
	w := &core.Workflow{
		Element: core.Element{ID: "el-wf1", CreatedAt: now, UpdatedAt: now},
		Name:    "nightly sync",
	}
	require.NoError(t, s.CreateWorkflow(ctx, w, "el-actor"))

	got, err := s.GetWorkflow(ctx, "el-wf1")
	require.NoError(t, err)
	assert.Equal(t, core.WorkflowPending, got.Status)

	require.NoError(t, s.UpdateWorkflowStatus(ctx, "el-wf1", core.WorkflowRunning, "el-actor"))
	require.NoError(t, s.UpdateWorkflowStatus(ctx, "el-wf1", core.WorkflowFailed, "el-actor"))

	err = s.UpdateWorkflowStatus(ctx, "el-wf1", core.WorkflowRunning, "el-actor")
	assert.True(t, core.Is(err, core.ErrInvalidStatus), "terminal workflow states are absorbing")

	final, err := s.GetWorkflow(ctx, "el-wf1")
	require.NoError(t, err)
	assert.Equal(t, core.WorkflowFailed, final.Status)
	assert.NotNil(t, final.StartedAt)
	assert.NotNil(t, final.EndedAt)
}

func TestPlanRoundTripAndCommit(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()
	p := &core.Plan{
		Element: core.Element{ID: "el-pl1", CreatedAt: now, UpdatedAt: now},
		Name:    "milestone one",
		TaskIDs: []core.TaskID{"el-aaa", "el-bbb"},
	}
	require.NoError(t, s.CreatePlan(ctx, p, "el-actor"))

	got, err := s.GetPlan(ctx, "el-pl1")
	require.NoError(t, err)
	assert.True(t, got.IsDraft())
	assert.Equal(t, []core.TaskID{"el-aaa", "el-bbb"}, got.TaskIDs)

	require.NoError(t, s.CommitPlan(ctx, "el-pl1", "el-actor"))
	committed, err := s.GetPlan(ctx, "el-pl1")
	require.NoError(t, err)
	assert.Equal(t, core.PlanCommitted, committed.Status)

	plans, err := s.ListPlans(ctx)
	require.NoError(t, err)
	assert.Len(t, plans, 1)
}

func TestEntityAndPlaybookRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	ent := &core.Entity{
		Element:     core.Element{ID: "el-usr", CreatedAt: now, UpdatedAt: now},
		DisplayName: "Grace",
	}
	require.NoError(t, s.CreateEntity(ctx, ent, "el-usr"))
	gotEnt, err := s.GetEntity(ctx, "el-usr")
	require.NoError(t, err)
	assert.Equal(t, "Grace", gotEnt.DisplayName)

	pb := &core.Playbook{
		Element: core.Element{ID: "el-pb1", CreatedAt: now, UpdatedAt: now},
		Name:    "incident response",
	}
	require.NoError(t, s.CreatePlaybook(ctx, pb, "el-usr"))
	gotPb, err := s.GetPlaybook(ctx, "el-pb1")
	require.NoError(t, err)
	assert.Equal(t, "incident response", gotPb.Name)

	el, err := s.GetElement(ctx, "el-pb1")
	require.NoError(t, err)
	_, ok := el.(*core.Playbook)
	assert.True(t, ok)
}

func TestListDependenciesByType(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.CreateTask(ctx, newTask("el-aaa", "a", core.TaskGeneric), "el-actor"))
	require.NoError(t, s.CreateTask(ctx, newTask("el-bbb", "b", core.TaskGeneric), "el-actor"))
	require.NoError(t, s.AddDependency(ctx, core.Dependency{Blocked: "el-aaa", Blocker: "el-bbb", Type: core.DepBlocks, CreatedAt: time.Now().UTC(), CreatedBy: "el-actor"}))
	require.NoError(t, s.AddDependency(ctx, core.Dependency{Blocked: "el-bbb", Blocker: "el-aaa", Type: core.DepRelatesTo, CreatedAt: time.Now().UTC(), CreatedBy: "el-actor"}))

	blocks, err := s.ListDependencies(ctx, core.DepBlocks)
	require.NoError(t, err)
	require.Len(t, blocks, 1)
	assert.Equal(t, core.ElementID("el-aaa"), blocks[0].Blocked)

	// relates-to was canonicalized on insert: smaller id stored as blocked.
	related, err := s.ListDependencies(ctx, core.DepRelatesTo)
	require.NoError(t, err)
	require.Len(t, related, 1)
	assert.Equal(t, core.ElementID("el-aaa"), related[0].Blocked)
}
