package incremental

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stoneforge-ai/stoneforge/internal/core"
	"github.com/stoneforge-ai/stoneforge/internal/store"
	"github.com/stoneforge-ai/stoneforge/internal/store/memory"
)

func newTask(id core.TaskID, title string) *core.Task {
	now := time.Now().UTC()
	return &core.Task{
		Element: core.Element{ID: core.ElementID(id), Type: core.TypeTask, CreatedAt: now, UpdatedAt: now},
		Title:   title, Status: core.StatusOpen, Priority: 3, Complexity: 1, TaskType: core.TaskGeneric,
	}
}

func TestExportFullEmitsEveryNonTombstonedElement(t *testing.T) {
	st := memory.New()
	ctx := context.Background()
	now := time.Now().UTC()
	require.NoError(t, st.CreateTask(ctx, newTask("el-aaa", "alpha"), "el-actor"))
	require.NoError(t, st.CreateTask(ctx, newTask("el-bbb", "beta"), "el-actor"))
	require.NoError(t, st.DeleteTask(ctx, "el-bbb", "no longer needed", "el-actor"))

	// A full export spans every element kind, not just tasks.
	doc := &core.Document{
		Element:     core.Element{ID: "el-doc", Type: core.TypeDocument, CreatedAt: now, UpdatedAt: now},
		ContentType: core.ContentText, Content: "body", Version: 1,
	}
	require.NoError(t, st.CreateDocument(ctx, doc, "el-actor"))
	ch, err := core.NewDirectChannel("el-chn", "el-usra", "el-usrb")
	require.NoError(t, err)
	ch.CreatedAt, ch.UpdatedAt = now, now
	require.NoError(t, st.CreateChannel(ctx, ch, "el-usra"))
	msg := &core.Message{
		Element:    core.Element{ID: "el-msg", Type: core.TypeMessage, CreatedAt: now, UpdatedAt: now, CreatedBy: "el-usra"},
		ChannelID:  "el-chn",
		ContentRef: "el-doc",
	}
	require.NoError(t, st.CreateMessage(ctx, msg, "el-usra"))

	dir := t.TempDir()
	result, err := Export(ctx, st, dir, ExportOptions{Full: true})
	require.NoError(t, err)
	assert.Equal(t, 4, result.Elements, "one live task, the document, the channel, and the message; the tombstoned task is never emitted")

	lines := readBackLines(t, filepath.Join(dir, elementsFile))
	assert.Len(t, lines, 4)
}

func TestExportIncrementalEmitsOnlyDirtySetThenClearsIt(t *testing.T) {
	st := memory.New()
	ctx := context.Background()
	require.NoError(t, st.CreateTask(ctx, newTask("el-ccc", "gamma"), "el-actor"))
	require.NoError(t, st.CreateTask(ctx, newTask("el-ddd", "delta"), "el-actor"))

	dir := t.TempDir()
	first, err := Export(ctx, st, dir, ExportOptions{Full: false})
	require.NoError(t, err)
	assert.Equal(t, 2, first.Elements, "both newly created tasks are dirty")

	second, err := Export(ctx, st, dir, ExportOptions{Full: false})
	require.NoError(t, err)
	assert.Equal(t, 0, second.Elements, "a repeat incremental export after a clean pass emits nothing")
}

func TestExportIncrementalIsIdempotentAcrossRepeatedEmptyPasses(t *testing.T) {
	st := memory.New()
	ctx := context.Background()
	require.NoError(t, st.CreateTask(ctx, newTask("el-eee", "epsilon"), "el-actor"))
	dir := t.TempDir()

	_, err := Export(ctx, st, dir, ExportOptions{Full: false})
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		result, err := Export(ctx, st, dir, ExportOptions{Full: false})
		require.NoError(t, err)
		assert.Equal(t, 0, result.Elements, "repeated incremental exports stay idempotent once dirty set is clean")
		assert.Equal(t, 0, result.Dependencies)
	}
}

func TestExportDependenciesFullIncludesEveryEdge(t *testing.T) {
	st := memory.New()
	ctx := context.Background()
	now := time.Now().UTC()
	require.NoError(t, st.CreateTask(ctx, newTask("el-fff", "blocker"), "el-actor"))
	require.NoError(t, st.CreateTask(ctx, newTask("el-ggg", "blocked"), "el-actor"))
	require.NoError(t, st.AddDependency(ctx, core.Dependency{
		Blocked: "el-ggg", Blocker: "el-fff", Type: core.DepBlocks, CreatedAt: now, CreatedBy: "el-actor",
	}))
	// Non-blocking edges are part of a full export too.
	require.NoError(t, st.AddDependency(ctx, core.Dependency{
		Blocked: "el-ggg", Blocker: "el-fff", Type: core.DepRelatesTo, CreatedAt: now, CreatedBy: "el-actor",
	}))

	dir := t.TempDir()
	result, err := Export(ctx, st, dir, ExportOptions{Full: true})
	require.NoError(t, err)
	assert.Equal(t, 2, result.Dependencies, "both the blocking edge and the relates-to edge are emitted")

	lines := readBackLines(t, filepath.Join(dir, dependenciesFile))
	require.Len(t, lines, 2)

	types := map[string]bool{}
	for _, line := range lines {
		var rec dependencyRecord
		require.NoError(t, json.Unmarshal(line, &rec))
		types[rec.Type] = true
	}
	assert.True(t, types[string(core.DepBlocks)])
	assert.True(t, types[string(core.DepRelatesTo)], "associative edges must round-trip through a full export")
}

func TestImportCreatesUnknownElementsAndSkipsOlderRecords(t *testing.T) {
	srcSt := memory.New()
	ctx := context.Background()
	require.NoError(t, srcSt.CreateTask(ctx, newTask("el-hhh", "imported task"), "el-actor"))

	dir := t.TempDir()
	_, err := Export(ctx, srcSt, dir, ExportOptions{Full: true})
	require.NoError(t, err)

	dstSt := memory.New()
	result, err := Import(ctx, dstSt, dir, ImportOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Created)
	assert.Equal(t, 0, result.Updated)

	got, err := dstSt.GetTask(ctx, "el-hhh")
	require.NoError(t, err)
	assert.Equal(t, "imported task", got.Title)

	// A second import of the same unchanged export is a no-op update-wise:
	// the remote record's UpdatedAt is not strictly after the local copy's.
	result2, err := Import(ctx, dstSt, dir, ImportOptions{})
	require.NoError(t, err)
	assert.Equal(t, 0, result2.Created)
	assert.Equal(t, 0, result2.Updated)
	assert.Equal(t, 1, result2.Skipped)
}

func TestImportUpdatesWhenRemoteRecordIsNewer(t *testing.T) {
	dstSt := memory.New()
	ctx := context.Background()
	require.NoError(t, dstSt.CreateTask(ctx, newTask("el-iii", "stale title"), "el-actor"))

	srcSt := memory.New()
	require.NoError(t, srcSt.CreateTask(ctx, newTask("el-iii", "stale title"), "el-actor"))
	require.NoError(t, srcSt.UpdateTask(ctx, "el-iii", map[string]interface{}{"title": "fresh title"}, store.UpdateOptions{Actor: "el-actor"}))

	dir := t.TempDir()
	_, err := Export(ctx, srcSt, dir, ExportOptions{Full: true})
	require.NoError(t, err)

	result, err := Import(ctx, dstSt, dir, ImportOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Updated)

	got, err := dstSt.GetTask(ctx, "el-iii")
	require.NoError(t, err)
	assert.Equal(t, "fresh title", got.Title)
}

func TestImportDependenciesSkipsDuplicates(t *testing.T) {
	st := memory.New()
	ctx := context.Background()
	require.NoError(t, st.CreateTask(ctx, newTask("el-jjj", "a"), "el-actor"))
	require.NoError(t, st.CreateTask(ctx, newTask("el-kkk", "b"), "el-actor"))
	require.NoError(t, st.AddDependency(ctx, core.Dependency{
		Blocked: "el-kkk", Blocker: "el-jjj", Type: core.DepBlocks, CreatedAt: time.Now().UTC(), CreatedBy: "el-actor",
	}))

	dir := t.TempDir()
	_, err := Export(ctx, st, dir, ExportOptions{Full: true})
	require.NoError(t, err)

	result, err := Import(ctx, st, dir, ImportOptions{})
	require.NoError(t, err)
	assert.Equal(t, 0, result.Created, "the edge already exists locally, so re-import must skip it (idempotent)")
	assert.Equal(t, 1, result.Skipped)
}

func TestExportReleasesLockFileAfterCompletion(t *testing.T) {
	st := memory.New()
	ctx := context.Background()
	require.NoError(t, st.CreateTask(ctx, newTask("el-lll", "locked"), "el-actor"))
	dir := t.TempDir()

	_, err := Export(ctx, st, dir, ExportOptions{Full: true})
	require.NoError(t, err)
	_, err = os.Stat(filepath.Join(dir, elementsFile))
	require.NoError(t, err)

	// The lock must be released so a second export in the same dir succeeds.
	_, err = Export(ctx, st, dir, ExportOptions{Full: true})
	require.NoError(t, err)
}

func readBackLines(t *testing.T, path string) [][]byte {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var lines [][]byte
	start := 0
	for i, b := range data {
		if b == '\n' {
			if i > start {
				lines = append(lines, data[start:i])
			}
			start = i + 1
		}
	}
	return lines
}
