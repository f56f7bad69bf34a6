// Package merge resolves bidirectional sync conflicts between a local
// task and its remote counterpart. It is adapted from the
// field-level merge functions of a vendored 3-way merge originally
// written for Beads-issue JSONL conflicts; the field-conflict rules
// (latest-wins by timestamp, "closed beats open") are generalized here
// from that Issue-specific shape to core.Task.
//
// Originally vendored with permission from @neongreen
// (https://github.com/neongreen/mono/tree/main/beads-merge), MIT
// licensed. See the upstream repository for the original 3-way JSONL
// merge driver this package's field-merge rules are descended from.
package merge

import (
	"time"

	"github.com/stoneforge-ai/stoneforge/internal/core"
)

// Outcome records which side won a conflict, for the event log's
// conflict record.
type Outcome struct {
	Winner      string // "local" | "remote" | "none" (MANUAL)
	Strategy    core.ConflictStrategy
	FieldsTaken []string
}

// Resolve applies strategy to a linked task that has changed on both
// sides since the last sync, returning the merged field values to write
// locally. It does not mutate local or remote; callers apply the result.
func Resolve(strategy core.ConflictStrategy, local *core.Task, localUpdatedAt time.Time, remote *core.ExternalTask) (map[string]interface{}, Outcome) {
	switch strategy {
	case core.LocalWins:
		return nil, Outcome{Winner: "local", Strategy: strategy}
	case core.RemoteWins:
		return remoteAsPatch(remote), Outcome{Winner: "remote", Strategy: strategy, FieldsTaken: []string{"title", "status", "priority"}}
	case core.LastWriteWins:
		if remote.UpdatedAt.After(localUpdatedAt) {
			return remoteAsPatch(remote), Outcome{Winner: "remote", Strategy: strategy, FieldsTaken: []string{"title", "status", "priority"}}
		}
		return nil, Outcome{Winner: "local", Strategy: strategy}
	default:
		// MANUAL: caller tags sync-conflict and applies neither side.
		return nil, Outcome{Winner: "none", Strategy: strategy}
	}
}

// remoteAsPatch produces a store.UpdateTask-compatible patch for the
// task fields a remote ExternalTask can overwrite directly: title,
// status and priority. Body, labels and assignees are not carried; the
// body lives in the task's descriptionRef document, which the sync
// engine does not update from the remote.
func remoteAsPatch(remote *core.ExternalTask) map[string]interface{} {
	patch := map[string]interface{}{
		"title":  remote.Title,
		"status": string(mergeStatus(remote.State)),
	}
	if remote.Priority != nil {
		patch["priority"] = *remote.Priority
	}
	return patch
}

// mergeStatus maps the remote's two-state {open, closed} model onto the
// local five-state status taxonomy, preserving "closed always wins"
// from the source merge rules: a remote close always closes the local
// task regardless of its current in-progress/deferred nuance.
func mergeStatus(remoteState string) core.Status {
	if remoteState == "closed" {
		return core.StatusClosed
	}
	return core.StatusOpen
}
