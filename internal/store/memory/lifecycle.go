package memory

import (
	"context"
	"time"

	"github.com/stoneforge-ai/stoneforge/internal/core"
)

func (s *Store) CreateEntity(ctx context.Context, e *core.Entity, actor core.EntityID) error {
	e.Type = core.TypeEntity
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.kinds[e.ID]; exists {
		return core.NewError(core.ErrAlreadyExists, "element %s already exists", e.ID)
	}
	cp := *e
	cp.Tags = cloneTags(e.Tags)
	cp.Metadata = cloneMeta(e.Metadata)
	s.entities[core.EntityID(e.ID)] = &cp
	s.kinds[e.ID] = core.TypeEntity
	s.appendEvent(e.ID, core.EventCreate, actor, nil, "")
	return nil
}

func (s *Store) GetEntity(ctx context.Context, id core.EntityID) (*core.Entity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entities[id]
	if !ok {
		return nil, core.NewError(core.ErrNotFound, "entity %s not found", id)
	}
	cp := *e
	cp.Tags = cloneTags(e.Tags)
	cp.Metadata = cloneMeta(e.Metadata)
	return &cp, nil
}

func (s *Store) CreateWorkflow(ctx context.Context, w *core.Workflow, actor core.EntityID) error {
	if w.Status == "" {
		w.Status = core.WorkflowPending
	}
	if !w.Status.IsValid() {
		return core.NewError(core.ErrInvalidStatus, "invalid workflow status: %s", w.Status)
	}
	w.Type = core.TypeWorkflow
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.kinds[w.ID]; exists {
		return core.NewError(core.ErrAlreadyExists, "element %s already exists", w.ID)
	}
	cp := *w
	cp.Tags = cloneTags(w.Tags)
	cp.Metadata = cloneMeta(w.Metadata)
	s.workflows[core.WorkflowID(w.ID)] = &cp
	s.kinds[w.ID] = core.TypeWorkflow
	s.appendEvent(w.ID, core.EventCreate, actor, map[string]interface{}{"status": string(w.Status)}, "")
	return nil
}

func (s *Store) GetWorkflow(ctx context.Context, id core.WorkflowID) (*core.Workflow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	w, ok := s.workflows[id]
	if !ok {
		return nil, core.NewError(core.ErrNotFound, "workflow %s not found", id)
	}
	cp := *w
	cp.Tags = cloneTags(w.Tags)
	cp.Metadata = cloneMeta(w.Metadata)
	return &cp, nil
}

func (s *Store) UpdateWorkflowStatus(ctx context.Context, id core.WorkflowID, next core.WorkflowStatus, actor core.EntityID) error {
	lock := s.elementLock(core.ElementID(id))
	lock.Lock()
	defer lock.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.workflows[id]
	if !ok {
		return core.NewError(core.ErrNotFound, "workflow %s not found", id)
	}
	now := time.Now().UTC()
	if err := w.Transition(next, now); err != nil {
		return err
	}
	w.UpdatedAt = now
	s.appendEvent(core.ElementID(id), core.EventStatusChange, actor, map[string]interface{}{"status": string(next)}, "")
	return nil
}

func (s *Store) CreatePlaybook(ctx context.Context, p *core.Playbook, actor core.EntityID) error {
	p.Type = core.TypePlaybook
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.kinds[p.ID]; exists {
		return core.NewError(core.ErrAlreadyExists, "element %s already exists", p.ID)
	}
	cp := *p
	cp.Tags = cloneTags(p.Tags)
	cp.Metadata = cloneMeta(p.Metadata)
	s.playbooks[core.PlaybookID(p.ID)] = &cp
	s.kinds[p.ID] = core.TypePlaybook
	s.appendEvent(p.ID, core.EventCreate, actor, nil, "")
	return nil
}

func (s *Store) GetPlaybook(ctx context.Context, id core.PlaybookID) (*core.Playbook, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.playbooks[id]
	if !ok {
		return nil, core.NewError(core.ErrNotFound, "playbook %s not found", id)
	}
	cp := *p
	cp.Tags = cloneTags(p.Tags)
	cp.Metadata = cloneMeta(p.Metadata)
	return &cp, nil
}

func (s *Store) CreatePlan(ctx context.Context, p *core.Plan, actor core.EntityID) error {
	if p.Status == "" {
		p.Status = core.PlanDraft
	}
	p.Type = core.TypePlan
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.kinds[p.ID]; exists {
		return core.NewError(core.ErrAlreadyExists, "element %s already exists", p.ID)
	}
	cp := *p
	cp.Tags = cloneTags(p.Tags)
	cp.Metadata = cloneMeta(p.Metadata)
	cp.TaskIDs = append([]core.TaskID(nil), p.TaskIDs...)
	s.plans[core.PlanID(p.ID)] = &cp
	s.kinds[p.ID] = core.TypePlan
	s.appendEvent(p.ID, core.EventCreate, actor, map[string]interface{}{"status": string(p.Status)}, "")
	return nil
}

func (s *Store) GetPlan(ctx context.Context, id core.PlanID) (*core.Plan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.plans[id]
	if !ok {
		return nil, core.NewError(core.ErrNotFound, "plan %s not found", id)
	}
	cp := *p
	cp.Tags = cloneTags(p.Tags)
	cp.Metadata = cloneMeta(p.Metadata)
	cp.TaskIDs = append([]core.TaskID(nil), p.TaskIDs...)
	return &cp, nil
}

func (s *Store) ListPlans(ctx context.Context) ([]*core.Plan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*core.Plan, 0, len(s.plans))
	for _, p := range s.plans {
		if p.Tombstone {
			continue
		}
		cp := *p
		cp.Tags = cloneTags(p.Tags)
		cp.Metadata = cloneMeta(p.Metadata)
		cp.TaskIDs = append([]core.TaskID(nil), p.TaskIDs...)
		out = append(out, &cp)
	}
	return out, nil
}

func (s *Store) CommitPlan(ctx context.Context, id core.PlanID, actor core.EntityID) error {
	lock := s.elementLock(core.ElementID(id))
	lock.Lock()
	defer lock.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.plans[id]
	if !ok {
		return core.NewError(core.ErrNotFound, "plan %s not found", id)
	}
	if p.Status == core.PlanCommitted {
		return nil
	}
	p.Status = core.PlanCommitted
	p.UpdatedAt = time.Now().UTC()
	s.appendEvent(core.ElementID(id), core.EventStatusChange, actor, map[string]interface{}{"status": string(core.PlanCommitted)}, "")
	return nil
}
