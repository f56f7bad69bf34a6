package syncengine

import (
	"context"
	"time"

	"github.com/stoneforge-ai/stoneforge/internal/core"
	"github.com/stoneforge-ai/stoneforge/internal/hash"
	"github.com/stoneforge-ai/stoneforge/internal/store"
)

// idExists adapts the store's GetTask into an idgen.Exists check.
func (e *Engine) idExists(ctx context.Context) func(id string) (bool, error) {
	return func(id string) (bool, error) {
		_, err := e.store.GetTask(ctx, core.TaskID(id))
		if err == nil {
			return true, nil
		}
		if core.Is(err, core.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
}

// writeSyncState persists sync as the task's ExternalSyncState, via the
// same metadata-merge path a normal patch uses.
func (e *Engine) writeSyncState(ctx context.Context, t *core.Task, sync *core.ExternalSyncState) error {
	metaPatch := map[string]interface{}{"_externalSync": sync}
	return e.store.UpdateTask(ctx, core.TaskID(t.ID), map[string]interface{}{"metadata": metaPatch}, store.UpdateOptions{Actor: systemActor})
}

// latestPulledAt returns the most recent lastPulledAt among the local
// tasks linked to providerName, or the zero time if none are linked yet.
func (e *Engine) latestPulledAt(ctx context.Context, providerName string) (time.Time, error) {
	tasks, err := e.store.ListTasks(ctx, store.TaskFilter{})
	if err != nil {
		return time.Time{}, err
	}
	var latest time.Time
	for _, t := range tasks {
		sync, ok := t.ExternalSync()
		if !ok || sync.Provider != providerName || sync.LastPulledAt == nil {
			continue
		}
		if sync.LastPulledAt.After(latest) {
			latest = *sync.LastPulledAt
		}
	}
	return latest, nil
}

// findByExternalID locates the local task linked to (providerName,
// externalID), if any.
func (e *Engine) findByExternalID(ctx context.Context, providerName, externalID string) (*core.Task, *core.ExternalSyncState, error) {
	tasks, err := e.store.ListTasks(ctx, store.TaskFilter{})
	if err != nil {
		return nil, nil, err
	}
	for _, t := range tasks {
		sync, ok := t.ExternalSync()
		if ok && sync.Provider == providerName && sync.ExternalID == externalID {
			return t, sync, nil
		}
	}
	return nil, nil, nil
}

// Link attaches id to an external resource: if externalRef names an
// existing remote item, fetch it and write sync state without creating
// anything; otherwise push a new remote item.
func (e *Engine) Link(ctx context.Context, id core.TaskID, providerName, externalRef string) error {
	t, err := e.store.GetTask(ctx, id)
	if err != nil {
		return err
	}
	if _, linked := t.ExternalSync(); linked {
		return core.NewError(core.ErrAlreadyExists, "task %s is already linked", id)
	}
	_, ta, err := e.taskAdapterFor(providerName)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	if externalRef != "" {
		remote, err := ta.GetIssue(ctx, "", externalRef)
		if err != nil {
			return err
		}
		sync := &core.ExternalSyncState{
			Provider: providerName, ExternalID: remote.ExternalID, URL: remote.URL,
			LastPulledAt: &now, LastPulledHash: hash.Sum(hash.OfExternalTask(remote)),
			Direction: core.DirectionBidirectional, AdapterType: core.AdapterTask,
		}
		return e.writeSyncState(ctx, t, sync)
	}

	body, err := e.taskBody(ctx, t)
	if err != nil {
		return err
	}
	ext, err := ta.CreateIssue(ctx, "", core.ExternalTask{
		Title: t.Title, Body: body, State: issueState(t.Status), Labels: t.Tags, Priority: &t.Priority,
	})
	if err != nil {
		return err
	}
	sync := &core.ExternalSyncState{
		Provider: providerName, ExternalID: ext.ExternalID, URL: ext.URL,
		LastPushedAt: &now, LastPushedHash: hash.Sum(hash.OfTaskWithBody(t, body)),
		Direction: core.DirectionBidirectional, AdapterType: core.AdapterTask,
	}
	return e.writeSyncState(ctx, t, sync)
}

// Unlink removes an element's sync state; a no-op for unlinked
// elements.
func (e *Engine) Unlink(ctx context.Context, id core.TaskID) error {
	t, err := e.store.GetTask(ctx, id)
	if err != nil {
		return err
	}
	if _, linked := t.ExternalSync(); !linked {
		return nil
	}
	metaPatch := map[string]interface{}{"_externalSync": nil}
	return e.store.UpdateTask(ctx, id, map[string]interface{}{"metadata": metaPatch}, store.UpdateOptions{Actor: systemActor})
}

// LinkAll walks every task (optionally filtered by taskType) and links
// unlinked ones to providerName; force also re-links tasks already bound
// to the same provider, re-creating the remote resource.
func (e *Engine) LinkAll(ctx context.Context, providerName string, taskType core.TaskType, force bool) (*core.ExternalSyncResult, error) {
	filter := store.TaskFilter{}
	if taskType != "" {
		filter.TaskType = []core.TaskType{taskType}
	}
	tasks, err := e.store.ListTasks(ctx, filter)
	if err != nil {
		return nil, err
	}
	result := &core.ExternalSyncResult{Success: true, Provider: providerName}
	for _, t := range tasks {
		sync, linked := t.ExternalSync()
		if linked {
			if !force || sync.Provider != providerName {
				result.Skipped++
				continue
			}
			if err := e.Unlink(ctx, core.TaskID(t.ID)); err != nil {
				result.Errors = append(result.Errors, asSyncError(providerName, err))
				continue
			}
		}
		if err := e.Link(ctx, core.TaskID(t.ID), providerName, ""); err != nil {
			result.Errors = append(result.Errors, asSyncError(providerName, err))
			continue
		}
		result.Pushed++
	}
	return result, nil
}

// UnlinkAll unlinks every task currently bound to providerName.
func (e *Engine) UnlinkAll(ctx context.Context, providerName string) (*core.ExternalSyncResult, error) {
	tasks, err := e.store.ListTasks(ctx, store.TaskFilter{})
	if err != nil {
		return nil, err
	}
	result := &core.ExternalSyncResult{Success: true, Provider: providerName}
	for _, t := range tasks {
		sync, linked := t.ExternalSync()
		if !linked || sync.Provider != providerName {
			continue
		}
		if err := e.Unlink(ctx, core.TaskID(t.ID)); err != nil {
			result.Errors = append(result.Errors, asSyncError(providerName, err))
			continue
		}
		result.Skipped++
	}
	return result, nil
}
