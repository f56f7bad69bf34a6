package hash

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/stoneforge-ai/stoneforge/internal/core"
)

func TestSumStableAcrossLabelOrder(t *testing.T) {
	a := Sum(Projection{Title: "Fix bug", State: "open", Labels: []string{"bug", "urgent"}})
	b := Sum(Projection{Title: "Fix bug", State: "open", Labels: []string{"urgent", "bug"}})
	assert.Equal(t, a, b, "label order must not affect the hash")
}

func TestSumStableAcrossAssigneeOrder(t *testing.T) {
	a := Sum(Projection{Title: "t", Assignees: []string{"el-a", "el-b"}})
	b := Sum(Projection{Title: "t", Assignees: []string{"el-b", "el-a"}})
	assert.Equal(t, a, b)
}

func TestSumNormalizesLineEndings(t *testing.T) {
	a := Sum(Projection{Title: "t", Body: "line1\r\nline2"})
	b := Sum(Projection{Title: "t", Body: "line1\nline2"})
	assert.Equal(t, a, b, "CRLF and LF bodies must hash identically")
}

func TestSumDiffersOnContentChange(t *testing.T) {
	a := Sum(Projection{Title: "t1"})
	b := Sum(Projection{Title: "t2"})
	assert.NotEqual(t, a, b)
}

func TestSumDeterministic(t *testing.T) {
	p := Projection{Title: "t", Body: "b", State: "open", Labels: []string{"x"}, Assignees: []string{"el-a"}}
	assert.Equal(t, Sum(p), Sum(p))
}

func TestOfTaskAndOfExternalTaskProduceComparableHashes(t *testing.T) {
	prio := 2
	task := &core.Task{
		Element:  core.Element{ID: "el-aaa", Tags: []string{"bug"}},
		Title:    "Fix crash",
		Status:   core.StatusOpen,
		Priority: prio,
	}
	local := OfTaskWithBody(task, "steps to reproduce")

	remote := &core.ExternalTask{
		Title:    "Fix crash",
		Body:     "steps to reproduce",
		State:    "open",
		Labels:   []string{"bug"},
		Priority: &prio,
	}
	remoteProj := OfExternalTask(remote)

	assert.Equal(t, Sum(local), Sum(remoteProj), "identical logical content must hash identically regardless of provider")
}

func TestOfTaskClosedState(t *testing.T) {
	task := &core.Task{Element: core.Element{ID: "el-bbb"}, Title: "t", Status: core.StatusClosed}
	p := OfTask(task)
	assert.Equal(t, "closed", p.State)
}
