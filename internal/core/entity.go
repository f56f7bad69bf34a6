package core

import "time"

// Entity is the minimal actor element referenced by createdBy, assignee,
// and channel members. The distillation names the type but defines
// no shape beyond identity, so Entity carries only what the rest of the
// data model actually dereferences: a display name and free-form metadata.
type Entity struct {
	Element
	DisplayName string
}

// WorkflowStatus is the closed status taxonomy for a Workflow element:
// pending to running or cancelled; running to completed, failed, or
// cancelled.
type WorkflowStatus string

const (
	WorkflowPending   WorkflowStatus = "pending"
	WorkflowRunning   WorkflowStatus = "running"
	WorkflowCompleted WorkflowStatus = "completed"
	WorkflowFailed    WorkflowStatus = "failed"
	WorkflowCancelled WorkflowStatus = "cancelled"
)

func (s WorkflowStatus) IsValid() bool {
	switch s {
	case WorkflowPending, WorkflowRunning, WorkflowCompleted, WorkflowFailed, WorkflowCancelled:
		return true
	}
	return false
}

// workflowTransitions mirrors statusTransitions in task.go: terminal
// states (completed, failed, cancelled) are absorbing and appear with no
// outgoing edges.
var workflowTransitions = map[WorkflowStatus][]WorkflowStatus{
	WorkflowPending: {WorkflowRunning, WorkflowCancelled},
	WorkflowRunning: {WorkflowCompleted, WorkflowFailed, WorkflowCancelled},
}

// CanTransition reports whether moving from s to next is a legal Workflow
// status transition.
func (s WorkflowStatus) CanTransition(next WorkflowStatus) bool {
	for _, allowed := range workflowTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Workflow is a thin Element subtype carrying only the fields its state
// machine requires; the distillation gives it no richer shape.
type Workflow struct {
	Element
	Name      string
	Status    WorkflowStatus
	StartedAt *time.Time
	EndedAt   *time.Time
}

// Transition validates and applies a status change, stamping StartedAt /
// EndedAt the way Task.Reopen stamps its own lifecycle fields.
func (w *Workflow) Transition(next WorkflowStatus, now time.Time) error {
	if !next.IsValid() {
		return NewError(ErrInvalidStatus, "invalid workflow status: %s", next)
	}
	if !w.Status.CanTransition(next) {
		return NewError(ErrInvalidStatus, "cannot transition workflow from %s to %s", w.Status, next)
	}
	w.Status = next
	switch next {
	case WorkflowRunning:
		w.StartedAt = &now
	case WorkflowCompleted, WorkflowFailed, WorkflowCancelled:
		w.EndedAt = &now
	}
	return nil
}

// Playbook is a reusable, named procedure definition. Membership in a
// Plan's step list is the only thing readiness derivation cares about, so
// no further shape is invented beyond identity and a descriptive body.
type Playbook struct {
	Element
	Name           string
	DescriptionRef *DocumentID
}

// PlanStatus distinguishes a draft plan (excluded from readiness) from
// one that has been committed.
type PlanStatus string

const (
	PlanDraft     PlanStatus = "draft"
	PlanCommitted PlanStatus = "committed"
)

// Plan instantiates a Playbook against a concrete set of tasks. A draft
// Plan's tasks are excluded from readiness computation until committed.
type Plan struct {
	Element
	Name       string
	PlaybookID *PlaybookID
	Status     PlanStatus
	TaskIDs    []TaskID
}

func (p *Plan) IsDraft() bool { return p.Status == PlanDraft || p.Status == "" }
