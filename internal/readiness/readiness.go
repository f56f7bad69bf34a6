// Package readiness derives the ready/blocked/backlog task sets
// from the Element Store's task listing and dependency-view queries,
// applying the deterministic ordering and filter rules the store's SQL
// views don't themselves guarantee.
package readiness

import (
	"context"
	"fmt"
	"sort"

	"github.com/stoneforge-ai/stoneforge/internal/core"
	"github.com/stoneforge-ai/stoneforge/internal/store"
)

// Source is the subset of store.Storage readiness derivation needs.
type Source interface {
	GetReadyTasks(ctx context.Context, filter store.TaskFilter) ([]*core.Task, error)
	GetBlockedTasks(ctx context.Context, filter store.TaskFilter) ([]store.BlockedTask, error)
	ListTasks(ctx context.Context, filter store.TaskFilter) ([]*core.Task, error)
	ListPlans(ctx context.Context) ([]*core.Plan, error)
	GetWorkflow(ctx context.Context, id core.WorkflowID) (*core.Workflow, error)
}

// workflowMetaKey is the metadata key a task carries when it is owned by
// a workflow; readiness excludes tasks whose owning workflow has reached
// a terminal state.
const workflowMetaKey = "_workflow"

// Ready returns tasks with status in {open, in_progress}, blocked-cache
// false, no future scheduledFor, not in a draft plan, owning workflow
// (if any) not terminal, ordered by (priority asc, createdAt asc, id
// asc).
func Ready(ctx context.Context, src Source, filter store.TaskFilter) ([]*core.Task, error) {
	tasks, err := src.GetReadyTasks(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("readiness: ready: %w", err)
	}

	draft, err := draftPlanTasks(ctx, src)
	if err != nil {
		return nil, err
	}
	out := tasks[:0]
	for _, t := range tasks {
		if draft[t.ID] {
			continue
		}
		excluded, err := workflowExcluded(ctx, src, t)
		if err != nil {
			return nil, err
		}
		if excluded {
			continue
		}
		out = append(out, t)
	}

	sortReady(out)
	return out, nil
}

// draftPlanTasks collects the ids of every task belonging to a draft
// plan; those are excluded from ready() until the plan is committed.
func draftPlanTasks(ctx context.Context, src Source) (map[core.ElementID]bool, error) {
	plans, err := src.ListPlans(ctx)
	if err != nil {
		return nil, fmt.Errorf("readiness: list plans: %w", err)
	}
	out := make(map[core.ElementID]bool)
	for _, p := range plans {
		if !p.IsDraft() {
			continue
		}
		for _, id := range p.TaskIDs {
			out[core.ElementID(id)] = true
		}
	}
	return out, nil
}

// workflowExcluded reports whether t's owning workflow (if it has one)
// has reached a terminal state, which removes the task from ready().
func workflowExcluded(ctx context.Context, src Source, t *core.Task) (bool, error) {
	if t.Metadata == nil {
		return false, nil
	}
	raw, ok := t.Metadata[workflowMetaKey]
	if !ok {
		return false, nil
	}
	wfID, ok := raw.(string)
	if !ok || wfID == "" {
		return false, nil
	}
	wf, err := src.GetWorkflow(ctx, core.WorkflowID(wfID))
	if err != nil {
		if core.Is(err, core.ErrNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("readiness: resolve owning workflow: %w", err)
	}
	switch wf.Status {
	case core.WorkflowCompleted, core.WorkflowFailed, core.WorkflowCancelled:
		return true, nil
	}
	return false, nil
}

func sortReady(tasks []*core.Task) {
	sort.SliceStable(tasks, func(i, j int) bool {
		a, b := tasks[i], tasks[j]
		if a.Priority != b.Priority {
			return a.Priority < b.Priority
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})
}

// BlockedReason describes why a task is blocked, in both structured and
// human-readable form: the first blocker plus a reason drawn from the
// edge type and blocker state.
type BlockedReason struct {
	Task      *core.Task
	BlockerID core.ElementID
	EdgeType  core.DependencyType
	Reason    string
}

// Blocked returns each blocked open/in-progress task paired with its
// first blocker and a human-readable reason, ordered by (priority asc,
// updatedAt asc).
func Blocked(ctx context.Context, src Source, filter store.TaskFilter) ([]BlockedReason, error) {
	rows, err := src.GetBlockedTasks(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("readiness: blocked: %w", err)
	}

	// Keep only the first blocker per task (store may return multiple
	// blocking edges; only the first is reported per task).
	seen := make(map[core.ElementID]bool, len(rows))
	out := make([]BlockedReason, 0, len(rows))
	for _, r := range rows {
		if seen[r.Task.ID] {
			continue
		}
		seen[r.Task.ID] = true
		out = append(out, BlockedReason{
			Task:      r.Task,
			BlockerID: r.BlockerID,
			EdgeType:  r.BlockerType,
			Reason:    reasonFor(r.BlockerType, r.BlockerID),
		})
	}

	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i].Task, out[j].Task
		if a.Priority != b.Priority {
			return a.Priority < b.Priority
		}
		return a.UpdatedAt.Before(b.UpdatedAt)
	})
	return out, nil
}

func reasonFor(edgeType core.DependencyType, blockerID core.ElementID) string {
	switch edgeType {
	case core.DepBlocks:
		return fmt.Sprintf("blocked by %s, which is not closed", blockerID)
	case core.DepParentChild:
		return fmt.Sprintf("blocked transitively through parent %s", blockerID)
	case core.DepAwaits:
		return fmt.Sprintf("awaiting gate on %s", blockerID)
	default:
		return fmt.Sprintf("blocked by %s (%s)", blockerID, edgeType)
	}
}

// Backlog returns tasks with status = backlog.
func Backlog(ctx context.Context, src Source, filter store.TaskFilter) ([]*core.Task, error) {
	filter.Status = []core.Status{core.StatusBacklog}
	tasks, err := src.ListTasks(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("readiness: backlog: %w", err)
	}
	return tasks, nil
}
