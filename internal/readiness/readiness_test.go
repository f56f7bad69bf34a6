package readiness

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stoneforge-ai/stoneforge/internal/core"
	"github.com/stoneforge-ai/stoneforge/internal/store"
)

type fakeSource struct {
	ready     []*core.Task
	blocked   []store.BlockedTask
	all       []*core.Task
	plans     []*core.Plan
	workflows map[core.WorkflowID]*core.Workflow
}

func (f *fakeSource) ListPlans(ctx context.Context) ([]*core.Plan, error) {
	return f.plans, nil
}

func (f *fakeSource) GetWorkflow(ctx context.Context, id core.WorkflowID) (*core.Workflow, error) {
	w, ok := f.workflows[id]
	if !ok {
		return nil, core.NewError(core.ErrNotFound, "workflow %s not found", id)
	}
	return w, nil
}

func (f *fakeSource) GetReadyTasks(ctx context.Context, filter store.TaskFilter) ([]*core.Task, error) {
	return f.ready, nil
}

func (f *fakeSource) GetBlockedTasks(ctx context.Context, filter store.TaskFilter) ([]store.BlockedTask, error) {
	return f.blocked, nil
}

func (f *fakeSource) ListTasks(ctx context.Context, filter store.TaskFilter) ([]*core.Task, error) {
	var out []*core.Task
	for _, t := range f.all {
		if len(filter.Status) > 0 {
			match := false
			for _, s := range filter.Status {
				if t.Status == s {
					match = true
					break
				}
			}
			if !match {
				continue
			}
		}
		out = append(out, t)
	}
	return out, nil
}

func task(id core.TaskID, priority int, createdAt time.Time) *core.Task {
	return &core.Task{
		Element: core.Element{ID: core.ElementID(id), Type: core.TypeTask, CreatedAt: createdAt, UpdatedAt: createdAt},
		Title:   string(id), Status: core.StatusOpen, Priority: priority, Complexity: 1, TaskType: core.TaskGeneric,
	}
}

func TestReadyOrdersByPriorityThenCreatedAtThenID(t *testing.T) {
	t0 := time.Now().UTC()
	a := task("el-bbb", 2, t0)
	b := task("el-aaa", 2, t0)
	c := task("el-ccc", 1, t0.Add(time.Minute))
	src := &fakeSource{ready: []*core.Task{a, b, c}}

	out, err := Ready(context.Background(), src, store.TaskFilter{})
	require.NoError(t, err)
	require.Len(t, out, 3)
	assert.Equal(t, core.ElementID("el-ccc"), out[0].ID, "lower priority value sorts first")
	assert.Equal(t, core.ElementID("el-aaa"), out[1].ID, "equal priority and createdAt: id asc breaks the tie")
	assert.Equal(t, core.ElementID("el-bbb"), out[2].ID)
}

func TestBlockedKeepsOnlyFirstBlockerPerTask(t *testing.T) {
	tsk := task("el-ddd", 3, time.Now().UTC())
	src := &fakeSource{blocked: []store.BlockedTask{
		{Task: tsk, BlockerID: "el-aaa", BlockerType: core.DepBlocks},
		{Task: tsk, BlockerID: "el-bbb", BlockerType: core.DepAwaits},
	}}

	out, err := Blocked(context.Background(), src, store.TaskFilter{})
	require.NoError(t, err)
	require.Len(t, out, 1, "only the first blocker per task is kept")
	assert.Equal(t, core.ElementID("el-aaa"), out[0].BlockerID)
	assert.Contains(t, out[0].Reason, "not closed")
}

func TestBlockedOrdersByPriorityThenUpdatedAt(t *testing.T) {
	t0 := time.Now().UTC()
	low := task("el-eee", 5, t0)
	high := task("el-fff", 1, t0.Add(time.Hour))
	src := &fakeSource{blocked: []store.BlockedTask{
		{Task: low, BlockerID: "el-xxx", BlockerType: core.DepBlocks},
		{Task: high, BlockerID: "el-yyy", BlockerType: core.DepBlocks},
	}}

	out, err := Blocked(context.Background(), src, store.TaskFilter{})
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, core.ElementID("el-fff"), out[0].Task.ID, "lower priority value sorts first regardless of updatedAt")
}

func TestBlockedReasonTextVariesByEdgeType(t *testing.T) {
	cases := []struct {
		edge     core.DependencyType
		contains string
	}{
		{core.DepBlocks, "not closed"},
		{core.DepParentChild, "transitively"},
		{core.DepAwaits, "awaiting gate"},
		{core.DepRelatesTo, "relates-to"},
	}
	for _, c := range cases {
		got := reasonFor(c.edge, "el-blocker")
		assert.Contains(t, got, c.contains)
	}
}

func TestReadyExcludesTasksInDraftPlans(t *testing.T) {
	t0 := time.Now().UTC()
	free := task("el-aaa", 3, t0)
	planned := task("el-bbb", 3, t0)
	src := &fakeSource{
		ready: []*core.Task{free, planned},
		plans: []*core.Plan{{
			Element: core.Element{ID: "el-pln", Type: core.TypePlan},
			Status:  core.PlanDraft,
			TaskIDs: []core.TaskID{"el-bbb"},
		}},
	}

	out, err := Ready(context.Background(), src, store.TaskFilter{})
	require.NoError(t, err)
	require.Len(t, out, 1, "draft-plan membership excludes a task from ready()")
	assert.Equal(t, core.ElementID("el-aaa"), out[0].ID)

	// Committing the plan releases its tasks.
	src.plans[0].Status = core.PlanCommitted
	out2, err := Ready(context.Background(), src, store.TaskFilter{})
	require.NoError(t, err)
	assert.Len(t, out2, 2)
}

func TestReadyExcludesTasksOfTerminalWorkflows(t *testing.T) {
	t0 := time.Now().UTC()
	owned := task("el-ccc", 3, t0)
	owned.Metadata = map[string]interface{}{"_workflow": "el-wf1"}
	src := &fakeSource{
		ready: []*core.Task{owned},
		workflows: map[core.WorkflowID]*core.Workflow{
			"el-wf1": {Element: core.Element{ID: "el-wf1"}, Status: core.WorkflowCancelled},
		},
	}

	out, err := Ready(context.Background(), src, store.TaskFilter{})
	require.NoError(t, err)
	assert.Empty(t, out, "a task owned by a terminated workflow is not ready")

	src.workflows["el-wf1"].Status = core.WorkflowRunning
	out2, err := Ready(context.Background(), src, store.TaskFilter{})
	require.NoError(t, err)
	assert.Len(t, out2, 1)
}

func TestBacklogFiltersToBacklogStatus(t *testing.T) {
	open := task("el-ggg", 3, time.Now().UTC())
	backlog := task("el-hhh", 3, time.Now().UTC())
	backlog.Status = core.StatusBacklog
	src := &fakeSource{all: []*core.Task{open, backlog}}

	out, err := Backlog(context.Background(), src, store.TaskFilter{})
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, core.ElementID("el-hhh"), out[0].ID)
}
