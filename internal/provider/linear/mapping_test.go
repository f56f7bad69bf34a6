package linear

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizedPriorityMapsLinearScaleToLocalScale(t *testing.T) {
	cases := map[int]int{0: 5, 1: 1, 2: 2, 3: 3, 4: 4}
	for linear, local := range cases {
		p := normalizedPriority(linear)
		require.NotNil(t, p)
		assert.Equal(t, local, *p)
	}
}

func TestNormalizedPriorityUnknownValueReturnsNil(t *testing.T) {
	assert.Nil(t, normalizedPriority(99))
}

func TestToExternalTaskMapsStateTypeToOpenClosed(t *testing.T) {
	now := time.Now().UTC()
	n := issueNode{
		ID: "issue-1", Identifier: "ENG-1", Title: "fix the bug", Priority: 1,
		CreatedAt: now, UpdatedAt: now,
	}
	n.State.Type = "completed"
	n.State.ID = "state-1"
	n.State.Name = "Done"

	ext := toExternalTask(n, "team-a")
	assert.Equal(t, "closed", ext.State)
	assert.Equal(t, "linear", ext.Provider)
	assert.Equal(t, "team-a", ext.Project)
	require.NotNil(t, ext.Priority)
	assert.Equal(t, 1, *ext.Priority, "linear priority 1 (urgent) maps to local highest")
	assert.Equal(t, "ENG-1", ext.Raw["identifier"])
}

func TestToExternalTaskUnknownStateTypeDefaultsToOpen(t *testing.T) {
	n := issueNode{ID: "issue-2", Title: "t"}
	n.State.Type = "triage" // not in stateTypeToLocal
	ext := toExternalTask(n, "team-a")
	assert.Equal(t, "open", ext.State)
}

func TestToExternalTaskCollectsLabelsAndAssignee(t *testing.T) {
	n := issueNode{ID: "issue-3", Title: "t"}
	n.Labels.Nodes = []struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	}{{ID: "l1", Name: "bug"}, {ID: "l2", Name: "urgent"}}
	n.Assignee = &struct {
		ID          string `json:"id"`
		Name        string `json:"name"`
		Email       string `json:"email"`
		DisplayName string `json:"displayName"`
	}{ID: "user-1", Name: "Ada"}

	ext := toExternalTask(n, "team-a")
	assert.Equal(t, []string{"bug", "urgent"}, ext.Labels)
	assert.Equal(t, []string{"user-1"}, ext.Assignees)
}

func TestTaskFieldMapConfigDeclaresPriorityAndLabelTransforms(t *testing.T) {
	cfg := taskFieldMapConfig()
	require.Len(t, cfg.Transforms, 2)
	assert.Equal(t, "priority", cfg.Transforms[0].LocalField)
	assert.Equal(t, "labels", cfg.Transforms[1].LocalField)
}
