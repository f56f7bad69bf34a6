package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/stoneforge-ai/stoneforge/internal/core"
	"github.com/stoneforge-ai/stoneforge/internal/store"
	"github.com/stoneforge-ai/stoneforge/internal/validation"
)

func isUniqueConstraintError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") || strings.Contains(msg, "constraint failed: UNIQUE")
}

func insertElement(ctx context.Context, ex execer, e *core.Element, actor core.EntityID) error {
	tagsJSON, err := json.Marshal(e.Tags)
	if err != nil {
		return fmt.Errorf("sqlite: marshal tags: %w", err)
	}
	metaJSON, err := json.Marshal(e.Metadata)
	if err != nil {
		return fmt.Errorf("sqlite: marshal metadata: %w", err)
	}
	_, err = ex.ExecContext(ctx, `
		INSERT INTO elements (id, type, created_at, updated_at, created_by, tags, metadata, tombstone, deleted_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, 0, NULL)
	`, string(e.ID), string(e.Type), e.CreatedAt, e.UpdatedAt, string(e.CreatedBy), string(tagsJSON), string(metaJSON))
	if err != nil {
		if isUniqueConstraintError(err) {
			return core.NewError(core.ErrAlreadyExists, "element %s already exists", e.ID)
		}
		return fmt.Errorf("sqlite: insert element: %w", err)
	}
	return nil
}

func (s *SQLiteStorage) CreateTask(ctx context.Context, task *core.Task, actor core.EntityID) error {
	return createTask(ctx, s.db, task, actor)
}

func (tx *sqlTx) CreateTask(ctx context.Context, task *core.Task, actor core.EntityID) error {
	return createTask(ctx, tx.conn, task, actor)
}

func createTask(ctx context.Context, ex execer, task *core.Task, actor core.EntityID) error {
	if err := validation.Title(task.Title); err != nil {
		return err
	}
	if err := validation.Priority(task.Priority); err != nil {
		return err
	}
	if err := validation.Complexity(task.Complexity); err != nil {
		return err
	}
	if !task.TaskType.IsValid() {
		return core.NewError(core.ErrInvalidInput, "invalid task type: %s", task.TaskType)
	}
	if task.Status == "" {
		task.Status = core.StatusBacklog
	}
	if !task.Status.IsValid() {
		return core.NewError(core.ErrInvalidStatus, "invalid status: %s", task.Status)
	}
	task.Type = core.TypeTask

	if err := insertElement(ctx, ex, &task.Element, actor); err != nil {
		return err
	}

	var assignee interface{}
	if task.Assignee != nil {
		assignee = string(*task.Assignee)
	}
	var descRef interface{}
	if task.DescriptionRef != nil {
		descRef = string(*task.DescriptionRef)
	}
	var scheduledFor interface{}
	if task.ScheduledFor != nil {
		scheduledFor = *task.ScheduledFor
	}

	_, err := ex.ExecContext(ctx, `
		INSERT INTO tasks (id, title, status, priority, complexity, task_type, assignee, description_ref, scheduled_for, close_reason, reconciliation_count)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, string(task.ID), task.Title, string(task.Status), task.Priority, task.Complexity, string(task.TaskType),
		assignee, descRef, scheduledFor, task.CloseReason, task.ReconciliationCount)
	if err != nil {
		return fmt.Errorf("sqlite: insert task: %w", err)
	}

	return appendEvent(ctx, ex, string(task.ID), core.EventCreate, actor, map[string]interface{}{"title": task.Title}, "")
}

func scanTask(row interface {
	Scan(dest ...interface{}) error
}) (*core.Task, error) {
	var t core.Task
	var id, typ, createdBy, tagsJSON, metaJSON string
	var tombstone int
	var deletedAt sql.NullTime
	var status, taskType string
	var assignee, descRef sql.NullString
	var scheduledFor sql.NullTime
	var closeReason string
	var reconCount int

	if err := row.Scan(
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

const taskSelectColumns = `
	e.id, e.type, e.created_at, e.updated_at, e.created_by, e.tags, e.metadata, e.tombstone, e.deleted_at,
	t.title, t.status, t.priority, t.complexity, t.task_type, t.assignee, t.description_ref, t.scheduled_for, t.close_reason, t.reconciliation_count
`

func (s *SQLiteStorage) GetTask(ctx context.Context, id core.TaskID) (*core.Task, error) {
	return getTask(ctx, s.db, id)
}

func (tx *sqlTx) GetTask(ctx context.Context, id core.TaskID) (*core.Task, error) {
	return getTask(ctx, tx.conn, id)
}

func getTask(ctx context.Context, ex execer, id core.TaskID) (*core.Task, error) {
	row := ex.QueryRowContext(ctx, `
		SELECT `+taskSelectColumns+`
		FROM elements e JOIN tasks t ON t.id = e.id
		WHERE e.id = ?
	`, string(id))
	task, err := scanTask(row)
	if err == sql.ErrNoRows {
		return nil, core.NewError(core.ErrNotFound, "task %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: get task: %w", err)
	}
	return task, nil
}

// UpdateTask applies patch to the named fields, advancing updatedAt and
// enforcing OCC when opts.ExpectedUpdatedAt is set.
func (s *SQLiteStorage) UpdateTask(ctx context.Context, id core.TaskID, patch map[string]interface{}, opts store.UpdateOptions) error {
	lock := s.elementLock(string(id))
	lock.Lock()
	defer lock.Unlock()
	return updateTask(ctx, s.db, id, patch, opts)
}

func (tx *sqlTx) UpdateTask(ctx context.Context, id core.TaskID, patch map[string]interface{}, opts store.UpdateOptions) error {
	return updateTask(ctx, tx.conn, id, patch, opts)
}

var updatableTaskFields = map[string]string{
	"title":          "title",
	"status":         "status",
	"priority":       "priority",
	"complexity":     "complexity",
	"taskType":       "task_type",
	"assignee":       "assignee",
	"descriptionRef": "description_ref",
	"scheduledFor":   "scheduled_for",
	"closeReason":    "close_reason",
}

func updateTask(ctx context.Context, ex execer, id core.TaskID, patch map[string]interface{}, opts store.UpdateOptions) error {
	existing, err := getTask(ctx, ex, id)
	if err != nil {
		return err
	}
	if err := validation.ForUpdate()(string(id), existing); err != nil {
		return err
	}
	if opts.ExpectedUpdatedAt != nil && !opts.ExpectedUpdatedAt.Equal(existing.UpdatedAt) {
		return core.NewError(core.ErrConflict, "task %s was modified concurrently", id)
	}

	if rawStatus, ok := patch["status"]; ok {
		newStatus := core.Status(fmt.Sprintf("%v", rawStatus))
		if err := validation.StatusTransition(newStatus)(string(id), existing); err != nil {
			return err
		}
	}
	if rawTitle, ok := patch["title"]; ok {
		if err := validation.Title(fmt.Sprintf("%v", rawTitle)); err != nil {
			return err
		}
	}

	setClauses := make([]string, 0, len(patch))
	args := make([]interface{}, 0, len(patch)+1)
	for field, value := range patch {
		col, ok := updatableTaskFields[field]
		if !ok {
			continue
		}
		setClauses = append(setClauses, col+" = ?")
		args = append(args, value)
	}
	changed := len(setClauses) > 0
	if changed {
		args = append(args, string(id))
		query := fmt.Sprintf(`UPDATE tasks SET %s WHERE id = ?`, strings.Join(setClauses, ", "))
		if _, err := ex.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("sqlite: update task: %w", err)
		}
	}

	// metadata and tags live on the elements table and are merged rather
	// than replaced wholesale, so a patch carrying only _externalSync (or
	// only a tag add/remove) doesn't clobber unrelated keys written by a
	// concurrent mutation.
	if rawMeta, ok := patch["metadata"]; ok {
		if err := mergeElementMetadata(ctx, ex, string(id), rawMeta); err != nil {
			return err
		}
		changed = true
	}
	if rawTags, ok := patch["tags"]; ok {
		if err := setElementTags(ctx, ex, string(id), rawTags); err != nil {
			return err
		}
		changed = true
	}

	if !changed {
		return nil
	}

	now := time.Now().UTC()
	if _, err := ex.ExecContext(ctx, `UPDATE elements SET updated_at = ? WHERE id = ?`, now, string(id)); err != nil {
		return fmt.Errorf("sqlite: touch element: %w", err)
	}

	kind := core.EventUpdate
	if _, ok := patch["status"]; ok {
		kind = core.EventStatusChange
	}
	return appendEvent(ctx, ex, string(id), kind, opts.Actor, patch, "")
}

func (s *SQLiteStorage) CloseTask(ctx context.Context, id core.TaskID, reason string, actor core.EntityID) error {
	lock := s.elementLock(string(id))
	lock.Lock()
	defer lock.Unlock()
	return closeTask(ctx, s.db, id, reason, actor)
}

func (tx *sqlTx) DeleteTask(ctx context.Context, id core.TaskID, reason string, actor core.EntityID) error {
	return deleteTask(ctx, tx.conn, id, reason, actor)
}

func closeTask(ctx context.Context, ex execer, id core.TaskID, reason string, actor core.EntityID) error {
	existing, err := getTask(ctx, ex, id)
	if err != nil {
		return err
	}
	if err := validation.ForClose()(string(id), existing); err != nil {
		return err
	}
	now := time.Now().UTC()
	if _, err := ex.ExecContext(ctx, `UPDATE tasks SET status = ?, close_reason = ? WHERE id = ?`, string(core.StatusClosed), reason, string(id)); err != nil {
		return fmt.Errorf("sqlite: close task: %w", err)
	}
	if _, err := ex.ExecContext(ctx, `UPDATE elements SET updated_at = ? WHERE id = ?`, now, string(id)); err != nil {
		return err
	}
	return appendEvent(ctx, ex, string(id), core.EventStatusChange, actor, map[string]interface{}{"status": "closed", "closeReason": reason}, reason)
}

func (s *SQLiteStorage) ReopenTask(ctx context.Context, id core.TaskID, actor core.EntityID) error {
	lock := s.elementLock(string(id))
	lock.Lock()
	defer lock.Unlock()
	existing, err := getTask(ctx, s.db, id)
	if err != nil {
		return err
	}
	if err := validation.ForReopen()(string(id), existing); err != nil {
		return err
	}
	now := time.Now().UTC()
	existing.Reopen(now)
	if _, err := s.db.ExecContext(ctx, `
		UPDATE tasks SET status = ?, assignee = NULL, close_reason = '', reconciliation_count = ? WHERE id = ?
	`, string(core.StatusOpen), existing.ReconciliationCount, string(id)); err != nil {
		return fmt.Errorf("sqlite: reopen task: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, `UPDATE elements SET updated_at = ? WHERE id = ?`, now, string(id)); err != nil {
		return err
	}
	return appendEvent(ctx, s.db, string(id), core.EventStatusChange, actor, map[string]interface{}{"status": "open"}, "reopened")
}

func (s *SQLiteStorage) DeleteTask(ctx context.Context, id core.TaskID, reason string, actor core.EntityID) error {
	lock := s.elementLock(string(id))
	lock.Lock()
	defer lock.Unlock()
	return deleteTask(ctx, s.db, id, reason, actor)
}

func deleteTask(ctx context.Context, ex execer, id core.TaskID, reason string, actor core.EntityID) error {
	existing, err := getTask(ctx, ex, id)
	if err != nil {
		return err
	}
	if err := validation.ForDelete()(string(id), existing); err != nil {
		return err
	}
	now := time.Now().UTC()
	if _, err := ex.ExecContext(ctx, `UPDATE elements SET tombstone = 1, deleted_at = ?, updated_at = ? WHERE id = ?`, now, now, string(id)); err != nil {
		return fmt.Errorf("sqlite: tombstone task: %w", err)
	}
	return appendEvent(ctx, ex, string(id), core.EventDelete, actor, map[string]interface{}{"reason": reason}, reason)
}

func (s *SQLiteStorage) ListTasks(ctx context.Context, filter store.TaskFilter) ([]*core.Task, error) {
	query := `SELECT ` + taskSelectColumns + ` FROM elements e JOIN tasks t ON t.id = e.id WHERE 1=1`
	var args []interface{}
	if !filter.IncludeTombstones {
		query += ` AND e.tombstone = 0`
	}
	if len(filter.Status) > 0 {
		placeholders := make([]string, len(filter.Status))
		for i, st := range filter.Status {
			placeholders[i] = "?"
			args = append(args, string(st))
		}
		query += ` AND t.status IN (` + strings.Join(placeholders, ",") + `)`
	}
	if len(filter.TaskType) > 0 {
		placeholders := make([]string, len(filter.TaskType))
		for i, tt := range filter.TaskType {
			placeholders[i] = "?"
			args = append(args, string(tt))
		}
		query += ` AND t.task_type IN (` + strings.Join(placeholders, ",") + `)`
	}
	if filter.Assignee != nil {
		query += ` AND t.assignee = ?`
		args = append(args, string(*filter.Assignee))
	}
	query += ` ORDER BY t.priority ASC, e.created_at ASC, e.id ASC`
	if filter.Limit > 0 {
		query += fmt.Sprintf(` LIMIT %d`, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list tasks: %w", err)
	}
	defer rows.Close()

	var out []*core.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite: scan task: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// ListElementIDs returns every element id of every kind, tombstoned or
// not; callers that need live elements filter after resolving.
func (s *SQLiteStorage) ListElementIDs(ctx context.Context) ([]core.ElementID, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM elements ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list element ids: %w", err)
	}
	defer rows.Close()

	var out []core.ElementID
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, core.ElementID(id))
	}
	return out, rows.Err()
}

// GetElement resolves any kind of id to its concrete type.
func (s *SQLiteStorage) GetElement(ctx context.Context, id core.ElementID) (interface{}, error) {
	var typ string
	err := s.db.QueryRowContext(ctx, `SELECT type FROM elements WHERE id = ?`, string(id)).Scan(&typ)
	if err == sql.ErrNoRows {
		return nil, core.NewError(core.ErrNotFound, "element %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: get element: %w", err)
	}
	switch core.ElementType(typ) {
	case core.TypeTask:
		return s.GetTask(ctx, core.TaskID(id))
	case core.TypeDocument:
		return s.GetDocument(ctx, core.DocumentID(id))
	case core.TypeChannel:
		return s.GetChannel(ctx, core.ChannelID(id))
	case core.TypeMessage:
		return s.GetMessage(ctx, core.MessageID(id))
	case core.TypeEntity:
		return s.GetEntity(ctx, core.EntityID(id))
	case core.TypeWorkflow:
		return s.GetWorkflow(ctx, core.WorkflowID(id))
	case core.TypePlaybook:
		return s.GetPlaybook(ctx, core.PlaybookID(id))
	case core.TypePlan:
		return s.GetPlan(ctx, core.PlanID(id))
	default:
		return nil, core.NewError(core.ErrInvalidInput, "unsupported element type %s for id %s", typ, id)
	}
}
