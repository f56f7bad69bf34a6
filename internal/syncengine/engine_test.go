package syncengine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stoneforge-ai/stoneforge/internal/core"
	"github.com/stoneforge-ai/stoneforge/internal/provider"
	"github.com/stoneforge-ai/stoneforge/internal/store"
	"github.com/stoneforge-ai/stoneforge/internal/store/memory"
)

// fakeTaskAdapter is an in-memory stand-in for a real provider's task
// adapter, grounded on the same interface the linear adapter implements.
type fakeTaskAdapter struct {
	issues  map[string]*core.ExternalTask
	counter int
}

func newFakeTaskAdapter() *fakeTaskAdapter {
	return &fakeTaskAdapter{issues: make(map[string]*core.ExternalTask)}
}

func (f *fakeTaskAdapter) GetIssue(ctx context.Context, project, externalID string) (*core.ExternalTask, error) {
	t, ok := f.issues[externalID]
	if !ok {
		return nil, core.NewError(core.ErrNotFound, "issue %s not found", externalID)
	}
	cp := *t
	return &cp, nil
}

func (f *fakeTaskAdapter) ListIssuesSince(ctx context.Context, project string, since time.Time) ([]core.ExternalTask, error) {
	var out []core.ExternalTask
	for _, t := range f.issues {
		if !t.UpdatedAt.After(since) && !t.UpdatedAt.Equal(since) {
			continue
		}
		out = append(out, *t)
	}
	return out, nil
}

func (f *fakeTaskAdapter) CreateIssue(ctx context.Context, project string, input core.ExternalTask) (*core.ExternalTask, error) {
	f.counter++
	id := string(rune('a' + f.counter))
	now := time.Now().UTC()
	input.ExternalID = id
	input.URL = "https://fake/" + id
	input.CreatedAt = now
	input.UpdatedAt = now
	f.issues[id] = &input
	cp := input
	return &cp, nil
}

func (f *fakeTaskAdapter) UpdateIssue(ctx context.Context, project, externalID string, partial map[string]interface{}) (*core.ExternalTask, error) {
	t, ok := f.issues[externalID]
	if !ok {
		return nil, core.NewError(core.ErrNotFound, "issue %s not found", externalID)
	}
	if v, ok := partial["title"].(string); ok {
		t.Title = v
	}
	if v, ok := partial["state"].(string); ok {
		t.State = v
	}
	if v, ok := partial["priority"].(int); ok {
		t.Priority = &v
	}
	t.UpdatedAt = time.Now().UTC()
	cp := *t
	return &cp, nil
}

func (f *fakeTaskAdapter) FieldMapConfig() provider.TaskFieldMapConfig {
	return provider.TaskFieldMapConfig{}
}

type fakeProvider struct {
	name string
	ta   *fakeTaskAdapter
}

func (p *fakeProvider) Name() string           { return p.name }
func (p *fakeProvider) APIVersion() string     { return "v1.0.0" }
func (p *fakeProvider) MinCoreVersion() string { return "" }
func (p *fakeProvider) SupportedAdapters() []core.AdapterType {
	return []core.AdapterType{core.AdapterTask}
}
func (p *fakeProvider) TaskAdapter() (provider.TaskAdapter, bool)         { return p.ta, true }
func (p *fakeProvider) DocumentAdapter() (provider.DocumentAdapter, bool) { return nil, false }
func (p *fakeProvider) MessageAdapter() (provider.MessageAdapter, bool)   { return nil, false }

var _ provider.Provider = (*fakeProvider)(nil)

func newTask(id core.TaskID, title string) *core.Task {
	now := time.Now().UTC()
	return &core.Task{
		Element: core.Element{ID: core.ElementID(id), Type: core.TypeTask, CreatedAt: now, UpdatedAt: now},
		Title:   title, Status: core.StatusOpen, Priority: 3, Complexity: 1, TaskType: core.TaskGeneric,
	}
}

func newHarness(t *testing.T) (*Engine, *memory.Store, *fakeTaskAdapter) {
	t.Helper()
	st := memory.New()
	ta := newFakeTaskAdapter()
	reg := provider.NewRegistry()
	require.NoError(t, reg.Register(&fakeProvider{name: "fake", ta: ta}))
	return New(st, reg, nil), st, ta
}

func TestPushCreatesUnlinkedTaskRemotely(t *testing.T) {
	e, st, ta := newHarness(t)
	ctx := context.Background()
	task := newTask("el-aaa", "ship feature")
	require.NoError(t, st.CreateTask(ctx, task, "el-actor"))

	result, err := e.Push(ctx, Options{Provider: "fake", All: true})
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, 1, result.Pushed)
	assert.Len(t, ta.issues, 1)

	got, err := st.GetTask(ctx, "el-aaa")
	require.NoError(t, err)
	sync, linked := got.ExternalSync()
	require.True(t, linked)
	assert.Equal(t, "fake", sync.Provider)
	assert.NotEmpty(t, sync.LastPushedHash)
}

func TestPushSkipsUnchangedLinkedTask(t *testing.T) {
	e, st, _ := newHarness(t)
	ctx := context.Background()
	task := newTask("el-bbb", "unchanged task")
	require.NoError(t, st.CreateTask(ctx, task, "el-actor"))
	require.NoError(t, e.Link(ctx, "el-bbb", "fake", ""))

	result, err := e.Push(ctx, Options{Provider: "fake"})
	require.NoError(t, err)
	assert.Equal(t, 0, result.Pushed)
	assert.Equal(t, 1, result.Skipped)
}

func TestPullCreatesLocalTaskForUnknownRemote(t *testing.T) {
	e, st, ta := newHarness(t)
	ctx := context.Background()
	now := time.Now().UTC()
	ta.issues["x1"] = &core.ExternalTask{ExternalID: "x1", Title: "remote-born", State: "open", CreatedAt: now, UpdatedAt: now}

	result, err := e.Pull(ctx, Options{Provider: "fake"})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Pulled)

	tasks, err := st.ListTasks(ctx, store.TaskFilter{})
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, "remote-born", tasks[0].Title)
}

func TestSyncBidirectionalLastWriteWinsRemoteWins(t *testing.T) {
	e, st, ta := newHarness(t)
	ctx := context.Background()

	task := newTask("el-ccc", "original title")
	require.NoError(t, st.CreateTask(ctx, task, "el-actor"))
	require.NoError(t, e.Link(ctx, "el-ccc", "fake", ""))

	linked, err := st.GetTask(ctx, "el-ccc")
	require.NoError(t, err)
	sync, _ := linked.ExternalSync()

	// Local change after link (T1).
	require.NoError(t, st.UpdateTask(ctx, "el-ccc", map[string]interface{}{"title": "local edit"}, store.UpdateOptions{Actor: "el-actor"}))

	// Remote change after the local edit (T2 > T1): remote should win.
	remote := ta.issues[sync.ExternalID]
	remote.Title = "remote edit"
	remote.UpdatedAt = time.Now().UTC().Add(time.Hour)

	// Pull directly: conflict detection compares local-changed-since-push
	// against remote-changed-since-pull, so this must run before any Push
	// re-syncs the local hash (Sync's push-then-pull ordering would
	// otherwise resolve the local change first and mask the conflict).
	result, err := e.Pull(ctx, Options{Provider: "fake", ConflictStrategy: core.LastWriteWins})
	require.NoError(t, err)
	require.True(t, result.Success)
	require.Len(t, result.Conflicts, 1)
	assert.Equal(t, "remote", result.Conflicts[0].Winner)

	final, err := st.GetTask(ctx, "el-ccc")
	require.NoError(t, err)
	assert.Equal(t, "remote edit", final.Title, "bidirectional LWW takes the remote title when remote is later")
}

func TestSyncBidirectionalManualPreservesBothSides(t *testing.T) {
	e, st, ta := newHarness(t)
	ctx := context.Background()

	task := newTask("el-ddd", "original title")
	require.NoError(t, st.CreateTask(ctx, task, "el-actor"))
	require.NoError(t, e.Link(ctx, "el-ddd", "fake", ""))

	linked, err := st.GetTask(ctx, "el-ddd")
	require.NoError(t, err)
	sync, _ := linked.ExternalSync()

	require.NoError(t, st.UpdateTask(ctx, "el-ddd", map[string]interface{}{"title": "local edit"}, store.UpdateOptions{Actor: "el-actor"}))
	remote := ta.issues[sync.ExternalID]
	remote.Title = "remote edit"
	remote.UpdatedAt = time.Now().UTC().Add(time.Hour)

	result, err := e.Pull(ctx, Options{Provider: "fake", ConflictStrategy: core.Manual})
	require.NoError(t, err)
	require.Len(t, result.Conflicts, 1)
	assert.Equal(t, "none", result.Conflicts[0].Winner)

	final, err := st.GetTask(ctx, "el-ddd")
	require.NoError(t, err)
	assert.Equal(t, "local edit", final.Title, "manual strategy leaves the local side untouched")
	assert.True(t, final.HasTag(core.SyncConflictTag))

	// A subsequent sync pass must skip the tagged element.
	result2, err := e.Sync(ctx, Options{Provider: "fake", ConflictStrategy: core.Manual})
	require.NoError(t, err)
	assert.Empty(t, result2.Conflicts, "tagged element should be skipped on the next pass, not conflict again")
}

func TestLinkAllThenUnlinkAll(t *testing.T) {
	e, st, _ := newHarness(t)
	ctx := context.Background()
	require.NoError(t, st.CreateTask(ctx, newTask("el-eee", "task one"), "el-actor"))
	require.NoError(t, st.CreateTask(ctx, newTask("el-fff", "task two"), "el-actor"))

	result, err := e.LinkAll(ctx, "fake", core.TaskGeneric, false)
	require.NoError(t, err)
	assert.Equal(t, 2, result.Pushed, "every task of the requested type gets linked to the provider")

	for _, id := range []core.TaskID{"el-eee", "el-fff"} {
		task, err := st.GetTask(ctx, id)
		require.NoError(t, err)
		sync, linked := task.ExternalSync()
		require.True(t, linked)
		assert.Equal(t, "fake", sync.Provider)
	}

	unlinkResult, err := e.UnlinkAll(ctx, "fake")
	require.NoError(t, err)
	assert.Equal(t, 2, unlinkResult.Skipped)

	for _, id := range []core.TaskID{"el-eee", "el-fff"} {
		task, err := st.GetTask(ctx, id)
		require.NoError(t, err)
		_, linked := task.ExternalSync()
		assert.False(t, linked, "unlink-all must remove _externalSync from every task bound to the provider")
	}
}
