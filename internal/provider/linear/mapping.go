package linear

import (
	"github.com/stoneforge-ai/stoneforge/internal/core"
	"github.com/stoneforge-ai/stoneforge/internal/provider"
)

// priorityToLocal maps Linear's 0-4 priority scale (0=none, 1=urgent,
// 4=low) onto the core 1-5 scale (1=highest).
var priorityToLocal = map[int]int{
	0: 5, // no priority -> lowest
	1: 1, // urgent -> highest
	2: 2,
	3: 3,
	4: 4,
}

var priorityToLinear = map[int]int{
	1: 1,
	2: 2,
	3: 3,
	4: 4,
	5: 0,
}

// stateTypeToLocal maps Linear state types to the local open/closed
// split ExternalTask.State carries.
var stateTypeToLocal = map[string]string{
	"backlog":   "open",
	"unstarted": "open",
	"started":   "open",
	"completed": "closed",
	"canceled":  "closed",
}

func normalizedPriority(linearPriority int) *int {
	p, ok := priorityToLocal[linearPriority]
	if !ok {
		return nil
	}
	return &p
}

func toExternalTask(n issueNode, project string) core.ExternalTask {
	labels := make([]string, 0, len(n.Labels.Nodes))
	for _, l := range n.Labels.Nodes {
		labels = append(labels, l.Name)
	}
	var assignees []string
	if n.Assignee != nil {
		assignees = []string{n.Assignee.ID}
	}
	state := stateTypeToLocal[n.State.Type]
	if state == "" {
		state = "open"
	}

	return core.ExternalTask{
		ExternalID: n.ID,
		URL:        n.URL,
		Provider:   "linear",
		Project:    project,
		Title:      n.Title,
		Body:       n.Description,
		State:      state,
		Labels:     labels,
		Assignees:  assignees,
		Priority:   normalizedPriority(n.Priority),
		CreatedAt:  n.CreatedAt,
		UpdatedAt:  n.UpdatedAt,
		ClosedAt:   n.CompletedAt,
		Raw: map[string]interface{}{
			"identifier": n.Identifier,
			"stateId":    n.State.ID,
			"stateName":  n.State.Name,
		},
	}
}

// taskFieldMapConfig declares the priority-remap and labels-as-set
// transforms this adapter applies when the local model carries a field
// Linear represents differently, using the enumerated transform set in
// internal/provider.
func taskFieldMapConfig() provider.TaskFieldMapConfig {
	return provider.TaskFieldMapConfig{
		Transforms: []provider.FieldTransform{
			{
				LocalField:      "priority",
				ExternalField:   "priority",
				Kind:            provider.TransformPriorityRemap,
				PriorityMap:     priorityToLinear,
				DefaultPriority: 0,
			},
			{
				LocalField:    "labels",
				ExternalField: "labels",
				Kind:          provider.TransformLabelsAsSet,
			},
		},
	}
}
