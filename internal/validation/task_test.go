package validation

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/stoneforge-ai/stoneforge/internal/core"
)

func TestTitleValidation(t *testing.T) {
	assert.NoError(t, Title("ok"))
	assert.True(t, core.Is(Title(""), core.ErrMissingRequiredField))

	long := make([]byte, 501)
	for i := range long {
		long[i] = 'a'
	}
	assert.True(t, core.Is(Title(string(long)), core.ErrTitleTooLong))
}

func TestPriorityAndComplexityValidation(t *testing.T) {
	assert.NoError(t, Priority(1))
	assert.NoError(t, Priority(5))
	assert.Error(t, Priority(0))
	assert.Error(t, Priority(6))

	assert.NoError(t, Complexity(1))
	assert.Error(t, Complexity(6))
}

func TestExistsValidator(t *testing.T) {
	err := Exists()("el-aaa", nil)
	assert.True(t, core.Is(err, core.ErrNotFound))

	task := &core.Task{Element: core.Element{ID: "el-aaa"}}
	assert.NoError(t, Exists()("el-aaa", task))
}

func TestNotTombstonedValidator(t *testing.T) {
	task := &core.Task{Element: core.Element{ID: "el-aaa", Tombstone: true}}
	err := NotTombstoned()("el-aaa", task)
	assert.True(t, core.Is(err, core.ErrNotFound))
}

func TestStatusTransitionValidator(t *testing.T) {
	task := &core.Task{Element: core.Element{ID: "el-aaa"}, Status: core.StatusOpen}
	assert.NoError(t, StatusTransition(core.StatusInProgress)(string(task.ID), task))

	task.Status = core.StatusBacklog
	err := StatusTransition(core.StatusInProgress)(string(task.ID), task)
	assert.True(t, core.Is(err, core.ErrInvalidStatus), "backlog can only go to open, not directly to in_progress")
}

func TestForCloseRejectsAlreadyClosed(t *testing.T) {
	task := &core.Task{Element: core.Element{ID: "el-aaa"}, Status: core.StatusClosed}
	err := ForClose()(string(task.ID), task)
	assert.True(t, core.Is(err, core.ErrInvalidStatus))
}

func TestForReopenRequiresClosed(t *testing.T) {
	task := &core.Task{Element: core.Element{ID: "el-aaa"}, Status: core.StatusOpen}
	err := ForReopen()(string(task.ID), task)
	assert.True(t, core.Is(err, core.ErrInvalidStatus))

	task.Status = core.StatusClosed
	assert.NoError(t, ForReopen()(string(task.ID), task))
}

func TestChainStopsAtFirstError(t *testing.T) {
	calls := 0
	ok := func(id string, task *core.Task) error { calls++; return nil }
	fails := func(id string, task *core.Task) error { calls++; return core.NewError(core.ErrInvalidInput, "nope") }
	never := func(id string, task *core.Task) error { calls++; return nil }

	err := Chain(ok, fails, never)("el-aaa", &core.Task{})
	assert.Error(t, err)
	assert.Equal(t, 2, calls, "chain must stop after the first failing validator")
}
