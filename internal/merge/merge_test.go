package merge

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/stoneforge-ai/stoneforge/internal/core"
)

func TestResolveLocalWins(t *testing.T) {
	local := &core.Task{Element: core.Element{ID: "el-aaa"}, Title: "local title"}
	remote := &core.ExternalTask{Title: "remote title"}
	patch, outcome := Resolve(core.LocalWins, local, time.Now(), remote)
	assert.Nil(t, patch)
	assert.Equal(t, "local", outcome.Winner)
}

func TestResolveRemoteWins(t *testing.T) {
	local := &core.Task{Element: core.Element{ID: "el-aaa"}, Title: "local title"}
	remote := &core.ExternalTask{Title: "remote title", State: "open"}
	patch, outcome := Resolve(core.RemoteWins, local, time.Now(), remote)
	assert.Equal(t, "remote title", patch["title"])
	assert.Equal(t, "remote", outcome.Winner)
}

func TestResolveLastWriteWinsPicksLaterTimestamp(t *testing.T) {
	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	t1 := t0.Add(time.Hour)
	t2 := t1.Add(time.Hour)

	local := &core.Task{Element: core.Element{ID: "el-aaa"}, Title: "local"}
	remote := &core.ExternalTask{Title: "remote", State: "open", UpdatedAt: t2}

	// Local updated at t1, remote at t2 (later) -> remote wins.
	patch, outcome := Resolve(core.LastWriteWins, local, t1, remote)
	assert.Equal(t, "remote", outcome.Winner)
	assert.Equal(t, "remote", patch["title"])

	// Local updated after remote -> local wins, no patch.
	remote.UpdatedAt = t0
	patch2, outcome2 := Resolve(core.LastWriteWins, local, t1, remote)
	assert.Nil(t, patch2)
	assert.Equal(t, "local", outcome2.Winner)
}

func TestResolveManualAppliesNeitherSide(t *testing.T) {
	local := &core.Task{Element: core.Element{ID: "el-aaa"}, Title: "local"}
	remote := &core.ExternalTask{Title: "remote", State: "open"}
	patch, outcome := Resolve(core.Manual, local, time.Now(), remote)
	assert.Nil(t, patch, "manual strategy preserves both sides, no overwrite")
	assert.Equal(t, "none", outcome.Winner)
}

func TestRemoteAsPatchClosedStateWins(t *testing.T) {
	remote := &core.ExternalTask{Title: "t", State: "closed"}
	patch, _ := Resolve(core.RemoteWins, &core.Task{}, time.Now(), remote)
	assert.Equal(t, string(core.StatusClosed), patch["status"])
}
