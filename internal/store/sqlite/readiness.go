package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/stoneforge-ai/stoneforge/internal/core"
	"github.com/stoneforge-ai/stoneforge/internal/store"
)

// awaitsBlocking reports whether id has an outgoing 'awaits' edge whose
// gate is not yet satisfied. SQL
// views can't evaluate gate state (timer comparisons, distinct-approver
// counting), so this runs in Go on top of the blocks/parent-child views.
// It returns the first unsatisfied blocker's id, for the blocked-reason
// pairing.
func (s *SQLiteStorage) awaitsBlocking(ctx context.Context, id core.ElementID) (core.ElementID, bool, error) {
	edges, err := s.Outgoing(ctx, id)
	if err != nil {
		return "", false, err
	}
	for _, d := range edges {
		if d.Type != core.DepAwaits {
			continue
		}
		if !d.Gate.Satisfied(time.Now().UTC()) {
			return d.Blocker, true, nil
		}
	}
	return "", false, nil
}

// GetReadyTasks queries the ready_tasks view, applying the
// filter's assignee/type constraints on top (status/tombstone/schedule
// are already enforced by the view itself).
func (s *SQLiteStorage) GetReadyTasks(ctx context.Context, filter store.TaskFilter) ([]*core.Task, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+readyTaskSelectColumns+`
		FROM ready_tasks r
		JOIN elements e ON e.id = r.id
	`)
	if err != nil {
		return nil, fmt.Errorf("sqlite: query ready tasks: %w", err)
	}
	defer rows.Close()

	var out []*core.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite: scan ready task: %w", err)
		}
		if filter.Assignee != nil && (t.Assignee == nil || *t.Assignee != *filter.Assignee) {
			continue
		}
		if len(filter.TaskType) > 0 && !containsTaskType(filter.TaskType, t.TaskType) {
			continue
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	filtered := out[:0]
	for _, t := range out {
		_, blocked, err := s.awaitsBlocking(ctx, t.ID)
		if err != nil {
			return nil, fmt.Errorf("sqlite: evaluate awaits gate for %s: %w", t.ID, err)
		}
		if !blocked {
			filtered = append(filtered, t)
		}
	}
	return filtered, nil
}

// readyTaskSelectColumns mirrors taskSelectColumns but against the
// ready_tasks view's row shape (r.* already carries every tasks column).
const readyTaskSelectColumns = `
	e.id, e.type, e.created_at, e.updated_at, e.created_by, e.tags, e.metadata, e.tombstone, e.deleted_at,
	r.title, r.status, r.priority, r.complexity, r.task_type, r.assignee, r.description_ref, r.scheduled_for, r.close_reason, r.reconciliation_count
`

func containsTaskType(types []core.TaskType, t core.TaskType) bool {
	for _, c := range types {
		if c == t {
			return true
		}
	}
	return false
}

// GetBlockedTasks queries the blocked_tasks view, joining back to the
// full task row for each (element_id, blocker_id, blocker_type) tuple.
func (s *SQLiteStorage) GetBlockedTasks(ctx context.Context, filter store.TaskFilter) ([]store.BlockedTask, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT b.blocker_id, b.blocker_type, `+taskSelectColumns+`
		FROM blocked_tasks b
		JOIN elements e ON e.id = b.element_id
		JOIN tasks t ON t.id = b.element_id
	`)
	if err != nil {
		return nil, fmt.Errorf("sqlite: query blocked tasks: %w", err)
	}
	defer rows.Close()

	var out []store.BlockedTask
	for rows.Next() {
		var blockerID, blockerType string
		t, err := scanBlockedTaskRow(rows, &blockerID, &blockerType)
		if err != nil {
			return nil, fmt.Errorf("sqlite: scan blocked task: %w", err)
		}
		if filter.Assignee != nil && (t.Assignee == nil || *t.Assignee != *filter.Assignee) {
			continue
		}
		out = append(out, store.BlockedTask{
			Task:        t,
			BlockerID:   core.ElementID(blockerID),
			BlockerType: core.DependencyType(blockerType),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	alreadyBlocked := make(map[core.ElementID]bool, len(out))
	for _, b := range out {
		alreadyBlocked[b.Task.ID] = true
	}

	openTasks, err := s.ListTasks(ctx, store.TaskFilter{Status: []core.Status{core.StatusOpen, core.StatusInProgress}})
	if err != nil {
		return nil, fmt.Errorf("sqlite: list candidate tasks for awaits check: %w", err)
	}
	for _, t := range openTasks {
		if alreadyBlocked[t.ID] || !t.EffectiveScheduledFor(time.Now().UTC()) {
			continue
		}
		blockerID, blocked, err := s.awaitsBlocking(ctx, t.ID)
		if err != nil {
			return nil, fmt.Errorf("sqlite: evaluate awaits gate for %s: %w", t.ID, err)
		}
		if !blocked {
			continue
		}
		if filter.Assignee != nil && (t.Assignee == nil || *t.Assignee != *filter.Assignee) {
			continue
		}
		out = append(out, store.BlockedTask{Task: t, BlockerID: blockerID, BlockerType: core.DepAwaits})
	}
	return out, nil
}

// scanBlockedTaskRow scans a row that carries (blockerID, blockerType)
// ahead of the standard taskSelectColumns shape.
func scanBlockedTaskRow(rows *sql.Rows, blockerID, blockerType *string) (*core.Task, error) {
	var t core.Task
	var id, typ, createdBy, tagsJSON, metaJSON string
	var tombstone int
	var deletedAt sql.NullTime
	var status, taskType string
	var assignee, descRef sql.NullString
	var scheduledFor sql.NullTime
	var closeReason string
	var reconCount int

	if err := rows.Scan(
		blockerID, blockerType,
		&id, &typ, &t.CreatedAt, &t.UpdatedAt, &createdBy, &tagsJSON, &metaJSON, &tombstone, &deletedAt,
		&t.Title, &status, &t.Priority, &t.Complexity, &taskType, &assignee, &descRef, &scheduledFor, &closeReason, &reconCount,
	); err != nil {
		return nil, err
	}
	t.ID = core.ElementID(id)
	t.Type = core.ElementType(typ)
	t.CreatedBy = core.EntityID(createdBy)
	t.Tombstone = tombstone != 0
	if deletedAt.Valid {
		t.DeletedAt = &deletedAt.Time
	}
	_ = json.Unmarshal([]byte(tagsJSON), &t.Tags)
	_ = json.Unmarshal([]byte(metaJSON), &t.Metadata)
	t.Status = core.Status(status)
	t.TaskType = core.TaskType(taskType)
	if assignee.Valid {
		e := core.EntityID(assignee.String)
		t.Assignee = &e
	}
	if descRef.Valid {
		d := core.DocumentID(descRef.String)
		t.DescriptionRef = &d
	}
	if scheduledFor.Valid {
		t.ScheduledFor = &scheduledFor.Time
	}
	t.CloseReason = closeReason
	t.ReconciliationCount = reconCount
	return &t, nil
}
