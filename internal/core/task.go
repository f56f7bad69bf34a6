package core

import "time"

// Status is the closed task lifecycle taxonomy.
type Status string

const (
	StatusBacklog    Status = "backlog"
	StatusOpen       Status = "open"
	StatusInProgress Status = "in_progress"
	StatusClosed     Status = "closed"
	StatusDeferred   Status = "deferred"
)

// IsValid reports whether s is one of the built-in statuses.
func (s Status) IsValid() bool {
	return s.IsValidWithCustom(nil)
}

// IsValidWithCustom additionally accepts any status in customStatuses,
// for deployments with project-defined statuses.
func (s Status) IsValidWithCustom(customStatuses []string) bool {
	switch s {
	case StatusBacklog, StatusOpen, StatusInProgress, StatusClosed, StatusDeferred:
		return true
	}
	for _, c := range customStatuses {
		if string(s) == c {
			return true
		}
	}
	return false
}

// statusTransitions enumerates the allowed edges of the task status
// DAG. Reopen (closed -> open) is permitted but handled
// specially by callers since it also clears assignee/closeReason.
var statusTransitions = map[Status]map[Status]bool{
	StatusBacklog:    {StatusOpen: true},
	StatusOpen:       {StatusInProgress: true, StatusDeferred: true, StatusClosed: true},
	StatusInProgress: {StatusOpen: true, StatusClosed: true},
	StatusDeferred:   {StatusOpen: true, StatusClosed: true},
	StatusClosed:     {StatusOpen: true},
}

// CanTransition reports whether moving a task from 'from' to 'to' is a
// legal status transition.
func CanTransition(from, to Status) bool {
	if from == to {
		return true
	}
	edges, ok := statusTransitions[from]
	return ok && edges[to]
}

// TaskType is the closed task-kind taxonomy.
type TaskType string

const (
	TaskBug     TaskType = "bug"
	TaskFeature TaskType = "feature"
	TaskChore   TaskType = "chore"
	TaskGeneric TaskType = "task"
)

func (t TaskType) IsValid() bool {
	switch t {
	case TaskBug, TaskFeature, TaskChore, TaskGeneric:
		return true
	}
	return false
}

// Task extends Element with the fields of a unit of work.
type Task struct {
	Element

	Title          string
	Status         Status
	Priority       int // 1 (highest) .. 5
	Complexity     int // 1..5
	TaskType       TaskType
	Assignee       *EntityID
	DescriptionRef *DocumentID
	ScheduledFor   *time.Time
	CloseReason    string

	// ReconciliationCount increments every reopen, tracking how many
	// times a closed task has been reopened.
	ReconciliationCount int
}

// EffectiveScheduledFor reports whether the task's scheduledFor, if any,
// is effective (i.e. in the past relative to now).
func (t *Task) EffectiveScheduledFor(now time.Time) bool {
	return t.ScheduledFor == nil || !t.ScheduledFor.After(now)
}

// Reopen transitions a closed task back to open, clearing assignee and
// closeReason while counting the reconciliation.
func (t *Task) Reopen(now time.Time) {
	t.Status = StatusOpen
	t.Assignee = nil
	t.CloseReason = ""
	t.ReconciliationCount++
	t.UpdatedAt = now
}
