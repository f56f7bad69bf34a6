package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/stoneforge-ai/stoneforge/internal/core"
)

func (s *SQLiteStorage) CreateEntity(ctx context.Context, e *core.Entity, actor core.EntityID) error {
	e.Type = core.TypeEntity
	return s.execInTx(ctx, func(ex execer) error {
		if err := insertElement(ctx, ex, &e.Element, actor); err != nil {
			return err
		}
		if _, err := ex.ExecContext(ctx, `
			INSERT INTO entities (id, display_name) VALUES (?, ?)
		`, string(e.ID), e.DisplayName); err != nil {
			return fmt.Errorf("sqlite: insert entity: %w", err)
		}
		return appendEvent(ctx, ex, string(e.ID), core.EventCreate, actor, nil, "")
	})
}

func (s *SQLiteStorage) GetEntity(ctx context.Context, id core.EntityID) (*core.Entity, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT e.id, e.type, e.created_at, e.updated_at, e.created_by, e.tags, e.metadata, e.tombstone, e.deleted_at,
		       n.display_name
		FROM elements e JOIN entities n ON n.id = e.id WHERE e.id = ?
	`, string(id))

	var ent core.Entity
	var eid, typ, createdBy, tagsJSON, metaJSON string
	var tombstone int
	var deletedAt sql.NullTime
	err := row.Scan(&eid, &typ, &ent.CreatedAt, &ent.UpdatedAt, &createdBy, &tagsJSON, &metaJSON, &tombstone, &deletedAt, &ent.DisplayName)
	if err == sql.ErrNoRows {
		return nil, core.NewError(core.ErrNotFound, "entity %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: get entity: %w", err)
	}
	ent.ID = core.ElementID(eid)
	ent.Type = core.ElementType(typ)
	ent.CreatedBy = core.EntityID(createdBy)
	ent.Tombstone = tombstone != 0
	if deletedAt.Valid {
		ent.DeletedAt = &deletedAt.Time
	}
	_ = json.Unmarshal([]byte(tagsJSON), &ent.Tags)
	_ = json.Unmarshal([]byte(metaJSON), &ent.Metadata)
	return &ent, nil
}

func (s *SQLiteStorage) CreateWorkflow(ctx context.Context, w *core.Workflow, actor core.EntityID) error {
	if w.Status == "" {
		w.Status = core.WorkflowPending
	}
	if !w.Status.IsValid() {
		return core.NewError(core.ErrInvalidStatus, "invalid workflow status: %s", w.Status)
	}
	w.Type = core.TypeWorkflow
	return s.execInTx(ctx, func(ex execer) error {
		if err := insertElement(ctx, ex, &w.Element, actor); err != nil {
			return err
		}
		var started, ended interface{}
		if w.StartedAt != nil {
			started = *w.StartedAt
		}
		if w.EndedAt != nil {
			ended = *w.EndedAt
		}
		if _, err := ex.ExecContext(ctx, `
			INSERT INTO workflows (id, name, status, started_at, ended_at) VALUES (?, ?, ?, ?, ?)
		`, string(w.ID), w.Name, string(w.Status), started, ended); err != nil {
			return fmt.Errorf("sqlite: insert workflow: %w", err)
		}
		return appendEvent(ctx, ex, string(w.ID), core.EventCreate, actor, map[string]interface{}{"status": string(w.Status)}, "")
	})
}

func (s *SQLiteStorage) GetWorkflow(ctx context.Context, id core.WorkflowID) (*core.Workflow, error) {
	return getWorkflow(ctx, s.db, id)
}

func getWorkflow(ctx context.Context, ex execer, id core.WorkflowID) (*core.Workflow, error) {
	row := ex.QueryRowContext(ctx, `
		SELECT e.id, e.type, e.created_at, e.updated_at, e.created_by, e.tags, e.metadata, e.tombstone, e.deleted_at,
		       w.name, w.status, w.started_at, w.ended_at
		FROM elements e JOIN workflows w ON w.id = e.id WHERE e.id = ?
	`, string(id))

	var wf core.Workflow
	var eid, typ, createdBy, tagsJSON, metaJSON, status string
	var tombstone int
	var deletedAt, startedAt, endedAt sql.NullTime
	err := row.Scan(&eid, &typ, &wf.CreatedAt, &wf.UpdatedAt, &createdBy, &tagsJSON, &metaJSON, &tombstone, &deletedAt,
		&wf.Name, &status, &startedAt, &endedAt)
	if err == sql.ErrNoRows {
		return nil, core.NewError(core.ErrNotFound, "workflow %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: get workflow: %w", err)
	}
	wf.ID = core.ElementID(eid)
	wf.Type = core.ElementType(typ)
	wf.CreatedBy = core.EntityID(createdBy)
	wf.Tombstone = tombstone != 0
	if deletedAt.Valid {
		wf.DeletedAt = &deletedAt.Time
	}
	_ = json.Unmarshal([]byte(tagsJSON), &wf.Tags)
	_ = json.Unmarshal([]byte(metaJSON), &wf.Metadata)
	wf.Status = core.WorkflowStatus(status)
	if startedAt.Valid {
		wf.StartedAt = &startedAt.Time
	}
	if endedAt.Valid {
		wf.EndedAt = &endedAt.Time
	}
	return &wf, nil
}

// UpdateWorkflowStatus validates the transition against the workflow
// state machine (terminal states absorbing) before applying it.
func (s *SQLiteStorage) UpdateWorkflowStatus(ctx context.Context, id core.WorkflowID, next core.WorkflowStatus, actor core.EntityID) error {
	lock := s.elementLock(string(id))
	lock.Lock()
	defer lock.Unlock()
	return s.execInTx(ctx, func(ex execer) error {
		existing, err := getWorkflow(ctx, ex, id)
		if err != nil {
			return err
		}
		now := time.Now().UTC()
		if err := existing.Transition(next, now); err != nil {
			return err
		}
		var started, ended interface{}
		if existing.StartedAt != nil {
			started = *existing.StartedAt
		}
		if existing.EndedAt != nil {
			ended = *existing.EndedAt
		}
		if _, err := ex.ExecContext(ctx, `
			UPDATE workflows SET status = ?, started_at = ?, ended_at = ? WHERE id = ?
		`, string(next), started, ended, string(id)); err != nil {
			return fmt.Errorf("sqlite: update workflow status: %w", err)
		}
		if _, err := ex.ExecContext(ctx, `UPDATE elements SET updated_at = ? WHERE id = ?`, now, string(id)); err != nil {
			return err
		}
		return appendEvent(ctx, ex, string(id), core.EventStatusChange, actor, map[string]interface{}{"status": string(next)}, "")
	})
}

func (s *SQLiteStorage) CreatePlaybook(ctx context.Context, p *core.Playbook, actor core.EntityID) error {
	p.Type = core.TypePlaybook
	return s.execInTx(ctx, func(ex execer) error {
		if err := insertElement(ctx, ex, &p.Element, actor); err != nil {
			return err
		}
		var descRef interface{}
		if p.DescriptionRef != nil {
			descRef = string(*p.DescriptionRef)
		}
		if _, err := ex.ExecContext(ctx, `
			INSERT INTO playbooks (id, name, description_ref) VALUES (?, ?, ?)
		`, string(p.ID), p.Name, descRef); err != nil {
			return fmt.Errorf("sqlite: insert playbook: %w", err)
		}
		return appendEvent(ctx, ex, string(p.ID), core.EventCreate, actor, nil, "")
	})
}

func (s *SQLiteStorage) GetPlaybook(ctx context.Context, id core.PlaybookID) (*core.Playbook, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT e.id, e.type, e.created_at, e.updated_at, e.created_by, e.tags, e.metadata, e.tombstone, e.deleted_at,
		       p.name, p.description_ref
		FROM elements e JOIN playbooks p ON p.id = e.id WHERE e.id = ?
	`, string(id))

	var pb core.Playbook
	var eid, typ, createdBy, tagsJSON, metaJSON string
	var tombstone int
	var deletedAt sql.NullTime
	var descRef sql.NullString
	err := row.Scan(&eid, &typ, &pb.CreatedAt, &pb.UpdatedAt, &createdBy, &tagsJSON, &metaJSON, &tombstone, &deletedAt,
		&pb.Name, &descRef)
	if err == sql.ErrNoRows {
		return nil, core.NewError(core.ErrNotFound, "playbook %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: get playbook: %w", err)
	}
	pb.ID = core.ElementID(eid)
	pb.Type = core.ElementType(typ)
	pb.CreatedBy = core.EntityID(createdBy)
	pb.Tombstone = tombstone != 0
	if deletedAt.Valid {
		pb.DeletedAt = &deletedAt.Time
	}
	_ = json.Unmarshal([]byte(tagsJSON), &pb.Tags)
	_ = json.Unmarshal([]byte(metaJSON), &pb.Metadata)
	if descRef.Valid {
		d := core.DocumentID(descRef.String)
		pb.DescriptionRef = &d
	}
	return &pb, nil
}

func (s *SQLiteStorage) CreatePlan(ctx context.Context, p *core.Plan, actor core.EntityID) error {
	if p.Status == "" {
		p.Status = core.PlanDraft
	}
	p.Type = core.TypePlan
	return s.execInTx(ctx, func(ex execer) error {
		if err := insertElement(ctx, ex, &p.Element, actor); err != nil {
			return err
		}
		var playbookID interface{}
		if p.PlaybookID != nil {
			playbookID = string(*p.PlaybookID)
		}
		taskIDsJSON, err := json.Marshal(p.TaskIDs)
		if err != nil {
			return fmt.Errorf("sqlite: marshal plan task ids: %w", err)
		}
		if _, err := ex.ExecContext(ctx, `
			INSERT INTO plans (id, name, playbook_id, status, task_ids) VALUES (?, ?, ?, ?, ?)
		`, string(p.ID), p.Name, playbookID, string(p.Status), string(taskIDsJSON)); err != nil {
			return fmt.Errorf("sqlite: insert plan: %w", err)
		}
		return appendEvent(ctx, ex, string(p.ID), core.EventCreate, actor, map[string]interface{}{"status": string(p.Status)}, "")
	})
}

const planSelectColumns = `
	e.id, e.type, e.created_at, e.updated_at, e.created_by, e.tags, e.metadata, e.tombstone, e.deleted_at,
	p.name, p.playbook_id, p.status, p.task_ids
`

func scanPlan(row interface {
	Scan(dest ...interface{}) error
}) (*core.Plan, error) {
	var pl core.Plan
	var eid, typ, createdBy, tagsJSON, metaJSON, status, taskIDsJSON string
	var tombstone int
	var deletedAt sql.NullTime
	var playbookID sql.NullString
	if err := row.Scan(&eid, &typ, &pl.CreatedAt, &pl.UpdatedAt, &createdBy, &tagsJSON, &metaJSON, &tombstone, &deletedAt,
		&pl.Name, &playbookID, &status, &taskIDsJSON); err != nil {
		return nil, err
	}
	pl.ID = core.ElementID(eid)
	pl.Type = core.ElementType(typ)
	pl.CreatedBy = core.EntityID(createdBy)
	pl.Tombstone = tombstone != 0
	if deletedAt.Valid {
		pl.DeletedAt = &deletedAt.Time
	}
	_ = json.Unmarshal([]byte(tagsJSON), &pl.Tags)
	_ = json.Unmarshal([]byte(metaJSON), &pl.Metadata)
	pl.Status = core.PlanStatus(status)
	if playbookID.Valid {
		p := core.PlaybookID(playbookID.String)
		pl.PlaybookID = &p
	}
	_ = json.Unmarshal([]byte(taskIDsJSON), &pl.TaskIDs)
	return &pl, nil
}

func (s *SQLiteStorage) GetPlan(ctx context.Context, id core.PlanID) (*core.Plan, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+planSelectColumns+` FROM elements e JOIN plans p ON p.id = e.id WHERE e.id = ?
	`, string(id))
	pl, err := scanPlan(row)
	if err == sql.ErrNoRows {
		return nil, core.NewError(core.ErrNotFound, "plan %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: get plan: %w", err)
	}
	return pl, nil
}

func (s *SQLiteStorage) ListPlans(ctx context.Context) ([]*core.Plan, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+planSelectColumns+` FROM elements e JOIN plans p ON p.id = e.id WHERE e.tombstone = 0
	`)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list plans: %w", err)
	}
	defer rows.Close()

	var out []*core.Plan
	for rows.Next() {
		pl, err := scanPlan(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite: scan plan: %w", err)
		}
		out = append(out, pl)
	}
	return out, rows.Err()
}

// CommitPlan moves a draft plan to committed, releasing its tasks into
// readiness derivation.
func (s *SQLiteStorage) CommitPlan(ctx context.Context, id core.PlanID, actor core.EntityID) error {
	lock := s.elementLock(string(id))
	lock.Lock()
	defer lock.Unlock()
	return s.execInTx(ctx, func(ex execer) error {
		var status string
		err := ex.QueryRowContext(ctx, `SELECT status FROM plans WHERE id = ?`, string(id)).Scan(&status)
		if err == sql.ErrNoRows {
			return core.NewError(core.ErrNotFound, "plan %s not found", id)
		}
		if err != nil {
			return fmt.Errorf("sqlite: get plan status: %w", err)
		}
		if core.PlanStatus(status) == core.PlanCommitted {
			return nil
		}
		now := time.Now().UTC()
		if _, err := ex.ExecContext(ctx, `UPDATE plans SET status = ? WHERE id = ?`, string(core.PlanCommitted), string(id)); err != nil {
			return fmt.Errorf("sqlite: commit plan: %w", err)
		}
		if _, err := ex.ExecContext(ctx, `UPDATE elements SET updated_at = ? WHERE id = ?`, now, string(id)); err != nil {
			return err
		}
		return appendEvent(ctx, ex, string(id), core.EventStatusChange, actor, map[string]interface{}{"status": string(core.PlanCommitted)}, "")
	})
}
