package sqlite

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stoneforge-ai/stoneforge/internal/core"
	"github.com/stoneforge-ai/stoneforge/internal/store"
)

func newTestStore(t *testing.T) *SQLiteStorage {
	t.Helper()
	s, err := New(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func newTask(id core.TaskID, title string, taskType core.TaskType) *core.Task {
	now := time.Now().UTC()
	return &core.Task{
		Element: core.Element{ID: core.ElementID(id), Type: core.TypeTask, CreatedAt: now, UpdatedAt: now},
		Title:   title, Status: core.StatusOpen, Priority: 3, Complexity: 1, TaskType: taskType,
	}
}

func TestCreateAndGetTaskRoundTrips(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.CreateTask(ctx, newTask("el-aaa", "ship it", core.TaskGeneric), "el-actor"))

	got, err := s.GetTask(ctx, "el-aaa")
	require.NoError(t, err)
	assert.Equal(t, "ship it", got.Title)
	assert.Equal(t, core.StatusOpen, got.Status)
}

func TestCreateTaskRejectsDuplicateID(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.CreateTask(ctx, newTask("el-bbb", "first", core.TaskGeneric), "el-actor"))

	err := s.CreateTask(ctx, newTask("el-bbb", "second", core.TaskGeneric), "el-actor")
	require.Error(t, err)
	assert.True(t, core.Is(err, core.ErrAlreadyExists))
}

func TestListTasksFiltersByTaskType(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.CreateTask(ctx, newTask("el-ccc", "a bug", core.TaskBug), "el-actor"))
	require.NoError(t, s.CreateTask(ctx, newTask("el-ddd", "a chore", core.TaskChore), "el-actor"))
	require.NoError(t, s.CreateTask(ctx, newTask("el-eee", "generic", core.TaskGeneric), "el-actor"))

	bugs, err := s.ListTasks(ctx, store.TaskFilter{TaskType: []core.TaskType{core.TaskBug}})
	require.NoError(t, err)
	require.Len(t, bugs, 1)
	assert.Equal(t, core.ElementID("el-ccc"), bugs[0].ID)

	bugsAndChores, err := s.ListTasks(ctx, store.TaskFilter{TaskType: []core.TaskType{core.TaskBug, core.TaskChore}})
	require.NoError(t, err)
	assert.Len(t, bugsAndChores, 2)
}

func TestListTasksExcludesTombstonesByDefault(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.CreateTask(ctx, newTask("el-fff", "to delete", core.TaskGeneric), "el-actor"))
	require.NoError(t, s.DeleteTask(ctx, "el-fff", "obsolete", "el-actor"))

	out, err := s.ListTasks(ctx, store.TaskFilter{})
	require.NoError(t, err)
	assert.Len(t, out, 0)

	withTombstones, err := s.ListTasks(ctx, store.TaskFilter{IncludeTombstones: true})
	require.NoError(t, err)
	require.Len(t, withTombstones, 1)
	assert.True(t, withTombstones[0].Tombstone)
}

func TestUpdateTaskEnforcesOCC(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.CreateTask(ctx, newTask("el-ggg", "original", core.TaskGeneric), "el-actor"))

	stale := time.Now().UTC().Add(-time.Hour)
	err := s.UpdateTask(ctx, "el-ggg", map[string]interface{}{"title": "new title"}, store.UpdateOptions{
		Actor: "el-actor", ExpectedUpdatedAt: &stale,
	})
	require.Error(t, err)
	assert.True(t, core.Is(err, core.ErrConflict), "a stale expectedUpdatedAt must be rejected as a conflict")

	got, err := s.GetTask(ctx, "el-ggg")
	require.NoError(t, err)
	assert.Equal(t, "original", got.Title, "the rejected update must not have applied")
}

func TestUpdateTaskMergesMetadataRatherThanReplacing(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	task := newTask("el-hhh", "meta task", core.TaskGeneric)
	require.NoError(t, s.CreateTask(ctx, task, "el-actor"))

	require.NoError(t, s.UpdateTask(ctx, "el-hhh", map[string]interface{}{
		"metadata": map[string]interface{}{"a": "1"},
	}, store.UpdateOptions{Actor: "el-actor"}))
	require.NoError(t, s.UpdateTask(ctx, "el-hhh", map[string]interface{}{
		"metadata": map[string]interface{}{"b": "2"},
	}, store.UpdateOptions{Actor: "el-actor"}))

	got, err := s.GetTask(ctx, "el-hhh")
	require.NoError(t, err)
	assert.Equal(t, "1", got.Metadata["a"])
	assert.Equal(t, "2", got.Metadata["b"])
}

func TestCloseAndReopenTask(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.CreateTask(ctx, newTask("el-iii", "closeable", core.TaskGeneric), "el-actor"))

	require.NoError(t, s.CloseTask(ctx, "el-iii", "done", "el-actor"))
	closed, err := s.GetTask(ctx, "el-iii")
	require.NoError(t, err)
	assert.Equal(t, core.StatusClosed, closed.Status)
	assert.Equal(t, "done", closed.CloseReason)

	require.NoError(t, s.ReopenTask(ctx, "el-iii", "el-actor"))
	reopened, err := s.GetTask(ctx, "el-iii")
	require.NoError(t, err)
	assert.Equal(t, core.StatusOpen, reopened.Status)
	assert.Empty(t, reopened.CloseReason)
}

func TestDeleteTaskIsTombstoneNotHardDelete(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.CreateTask(ctx, newTask("el-jjj", "soft deletable", core.TaskGeneric), "el-actor"))
	require.NoError(t, s.DeleteTask(ctx, "el-jjj", "dup", "el-actor"))

	got, err := s.GetTask(ctx, "el-jjj")
	require.NoError(t, err, "a tombstoned task is still readable by id")
	assert.True(t, got.Tombstone)
	assert.NotNil(t, got.DeletedAt)
}

func TestRunInTransactionRollsBackOnError(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	err := s.RunInTransaction(ctx, func(tx store.Transaction) error {
		if err := tx.CreateTask(ctx, newTask("el-kkk", "doomed", core.TaskGeneric), "el-actor"); err != nil {
			return err
		}
		return assert.AnError
	})
	require.Error(t, err)

	_, err = s.GetTask(ctx, "el-kkk")
	assert.True(t, core.Is(err, core.ErrNotFound), "a rolled-back transaction must not leave the task visible")
}

func TestRunInTransactionCommitsOnSuccess(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	err := s.RunInTransaction(ctx, func(tx store.Transaction) error {
		return tx.CreateTask(ctx, newTask("el-lll", "committed", core.TaskGeneric), "el-actor")
	})
	require.NoError(t, err)

	got, err := s.GetTask(ctx, "el-lll")
	require.NoError(t, err)
	assert.Equal(t, "committed", got.Title)
}
