// Package validation provides composable validators for Element mutations,
// following the chain-of-validators style used throughout Stoneforge's
// store layer.
package validation

import (
	"github.com/stoneforge-ai/stoneforge/internal/core"
)

// TaskValidator validates a task and returns an error if validation
// fails. Validators compose via Chain() for per-operation rule sets.
type TaskValidator func(id string, task *core.Task) error

// Chain composes multiple validators into one; the first error stops
// the chain.
func Chain(validators ...TaskValidator) TaskValidator {
	return func(id string, task *core.Task) error {
		for _, v := range validators {
			if err := v(id, task); err != nil {
				return err
			}
		}
		return nil
	}
}

// Exists validates that a task was found.
func Exists() TaskValidator {
	return func(id string, task *core.Task) error {
		if task == nil {
			return core.NewError(core.ErrNotFound, "task %s not found", id)
		}
		return nil
	}
}

// NotTombstoned validates that a task has not been soft-deleted.
func NotTombstoned() TaskValidator {
	return func(id string, task *core.Task) error {
		if task == nil {
			return nil
		}
		if task.Tombstone {
			return core.NewError(core.ErrNotFound, "task %s has been deleted", id)
		}
		return nil
	}
}

// NotClosed validates that a task is not already closed.
func NotClosed() TaskValidator {
	return func(id string, task *core.Task) error {
		if task == nil {
			return nil
		}
		if task.Status == core.StatusClosed {
			return core.NewError(core.ErrConstraint, "task %s is already closed", id)
		}
		return nil
	}
}

// HasStatus validates that a task's status is one of allowed.
func HasStatus(allowed ...core.Status) TaskValidator {
	return func(id string, task *core.Task) error {
		if task == nil {
			return nil
		}
		for _, s := range allowed {
			if task.Status == s {
				return nil
			}
		}
		return core.NewError(core.ErrInvalidStatus, "task %s has status %s, expected one of: %v", id, task.Status, allowed)
	}
}

// HasType validates that a task's type is one of allowed.
func HasType(allowed ...core.TaskType) TaskValidator {
	return func(id string, task *core.Task) error {
		if task == nil {
			return nil
		}
		for _, t := range allowed {
			if task.TaskType == t {
				return nil
			}
		}
		return core.NewError(core.ErrInvalidInput, "task %s has type %s, expected one of: %v", id, task.TaskType, allowed)
	}
}

// StatusTransition validates that moving from the task's current status
// to 'to' is a legal edge of the status DAG.
func StatusTransition(to core.Status) TaskValidator {
	return func(id string, task *core.Task) error {
		if task == nil {
			return nil
		}
		if !core.CanTransition(task.Status, to) {
			return core.NewError(core.ErrInvalidStatus, "task %s cannot transition from %s to %s", id, task.Status, to)
		}
		return nil
	}
}

// ForUpdate returns the validator chain for generic field updates.
func ForUpdate() TaskValidator {
	return Chain(Exists(), NotTombstoned())
}

// ForClose returns the validator chain for close operations.
func ForClose() TaskValidator {
	return Chain(
		Exists(),
		NotTombstoned(),
		HasStatus(core.StatusOpen, core.StatusInProgress, core.StatusDeferred),
	)
}

// ForReopen returns the validator chain for reopen operations.
func ForReopen() TaskValidator {
	return Chain(
		Exists(),
		NotTombstoned(),
		HasStatus(core.StatusClosed),
	)
}

// ForDelete returns the validator chain for soft-delete operations.
func ForDelete() TaskValidator {
	return Chain(Exists(), NotTombstoned())
}

// Title validates the task title constraint.
func Title(title string) error {
	if len(title) == 0 {
		return core.NewError(core.ErrMissingRequiredField, "title is required")
	}
	if len(title) > 500 {
		return core.NewError(core.ErrTitleTooLong, "title must be 1-500 characters")
	}
	return nil
}

// Priority validates the task priority constraint.
func Priority(p int) error {
	if p < 1 || p > 5 {
		return core.NewError(core.ErrInvalidInput, "priority must be between 1 and 5 (got %d)", p)
	}
	return nil
}

// Complexity validates the task complexity constraint.
func Complexity(c int) error {
	if c < 1 || c > 5 {
		return core.NewError(core.ErrInvalidInput, "complexity must be between 1 and 5 (got %d)", c)
	}
	return nil
}
