package syncengine

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/stoneforge-ai/stoneforge/internal/core"
	"github.com/stoneforge-ai/stoneforge/internal/hash"
	"github.com/stoneforge-ai/stoneforge/internal/idgen"
	"github.com/stoneforge-ai/stoneforge/internal/provider"
	"github.com/stoneforge-ai/stoneforge/internal/store"
)

// Push pushes target tasks to their linked provider, or to opts.Provider
// for any unlinked task.
func (e *Engine) Push(ctx context.Context, opts Options) (*core.ExternalSyncResult, error) {
	tasks, err := e.targetTasks(ctx, opts)
	if err != nil {
		return nil, err
	}
	groups := make(map[string][]*core.Task)
	for _, t := range tasks {
		name := opts.Provider
		if sync, ok := t.ExternalSync(); ok {
			name = sync.Provider
		}
		if name == "" {
			continue
		}
		if opts.Provider != "" && name != opts.Provider {
			continue
		}
		groups[name] = append(groups[name], t)
	}

	return e.runPerProvider(ctx, groups, func(ctx context.Context, providerName string, batch []*core.Task, result *core.ExternalSyncResult) error {
		_, ta, err := e.taskAdapterFor(providerName)
		if err != nil {
			result.Errors = append(result.Errors, core.NewSyncError(providerName, "", err.Error(), false))
			return nil
		}
		for _, t := range batch {
			if err := e.pushOne(ctx, providerName, ta, t, opts, result); err != nil {
				result.Errors = append(result.Errors, asSyncError(providerName, err))
			}
		}
		return nil
	})
}

func (e *Engine) pushOne(ctx context.Context, providerName string, ta provider.TaskAdapter, t *core.Task, opts Options, result *core.ExternalSyncResult) error {
	if t.HasTag(core.SyncConflictTag) {
		result.Skipped++
		return nil
	}

	body, err := e.taskBody(ctx, t)
	if err != nil {
		return err
	}
	sync, linked := t.ExternalSync()

	if !linked {
		if opts.DryRun {
			result.Pushed++
			return nil
		}
		ext, err := ta.CreateIssue(ctx, "", core.ExternalTask{
			Title: t.Title, Body: body, State: issueState(t.Status),
			Labels: t.Tags, Priority: &t.Priority,
		})
		if err != nil {
			return err
		}
		now := time.Now().UTC()
		newSync := &core.ExternalSyncState{
			Provider: providerName, ExternalID: ext.ExternalID, URL: ext.URL,
			LastPushedAt: &now, LastPushedHash: hash.Sum(hash.OfTaskWithBody(t, body)),
			Direction: core.DirectionPush, AdapterType: core.AdapterTask,
		}
		if err := e.writeSyncState(ctx, t, newSync); err != nil {
			return err
		}
		result.Pushed++
		e.logger.Info("pushed new task", zap.String("task", string(t.ID)), zap.String("provider", providerName), zap.String("externalId", ext.ExternalID))
		return nil
	}

	if !localChanged(t, body, sync) {
		result.Skipped++
		return nil
	}
	if opts.DryRun {
		result.Pushed++
		return nil
	}
	partial := map[string]interface{}{
		"title":    t.Title,
		"priority": t.Priority,
		"state":    issueState(t.Status),
		"labels":   t.Tags,
	}
	if err := applyFieldMap(ta.FieldMapConfig(), partial); err != nil {
		return err
	}
	ext, err := ta.UpdateIssue(ctx, sync.Project, sync.ExternalID, partial)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	updated := *sync
	updated.LastPushedAt = &now
	updated.LastPushedHash = hash.Sum(hash.OfTaskWithBody(t, body))
	updated.URL = ext.URL
	if err := e.writeSyncState(ctx, t, &updated); err != nil {
		return err
	}
	result.Pushed++
	return nil
}

// Pull requests items changed since the latest lastPulledAt across
// linked elements of each target provider and reconciles them locally.
func (e *Engine) Pull(ctx context.Context, opts Options) (*core.ExternalSyncResult, error) {
	var names []string
	for _, p := range e.registry.All() {
		if opts.Provider != "" && p.Name() != opts.Provider {
			continue
		}
		if _, ok := p.TaskAdapter(); !ok {
			continue
		}
		names = append(names, p.Name())
	}

	result := &core.ExternalSyncResult{Success: true}
	for _, name := range names {
		_, ta, err := e.taskAdapterFor(name)
		if err != nil {
			result.Errors = append(result.Errors, core.NewSyncError(name, "", err.Error(), false))
			continue
		}
		since, err := e.latestPulledAt(ctx, name)
		if err != nil {
			return nil, err
		}
		items, err := ta.ListIssuesSince(ctx, "", since)
		if err != nil {
			result.Errors = append(result.Errors, asSyncError(name, err))
			continue
		}
		for i := range items {
			if err := e.pullOne(ctx, name, items[i], opts, result); err != nil {
				result.Errors = append(result.Errors, asSyncError(name, err))
			}
		}
	}
	return result, nil
}

func (e *Engine) pullOne(ctx context.Context, providerName string, remote core.ExternalTask, opts Options, result *core.ExternalSyncResult) error {
	t, sync, err := e.findByExternalID(ctx, providerName, remote.ExternalID)
	if err != nil {
		return err
	}
	if t == nil {
		if opts.DryRun {
			result.Pulled++
			return nil
		}
		return e.createLinkedFromRemote(ctx, providerName, remote, result)
	}

	if t.HasTag(core.SyncConflictTag) {
		// A tagged element is skipped until the caller clears the tag —
		// regardless of which side is dirty, not just the both-sides-dirty
		// case.
		result.Skipped++
		return nil
	}

	body, err := e.taskBody(ctx, t)
	if err != nil {
		return err
	}
	localDirty := localChanged(t, body, sync)
	remoteDirty := remoteChanged(&remote, sync)

	switch {
	case localDirty && remoteDirty:
		strategy := opts.ConflictStrategy
		if strategy == "" {
			strategy = core.LastWriteWins
		}
		if opts.DryRun {
			result.Pulled++
			return nil
		}
		winner, err := e.applyMergeOutcome(ctx, t, strategy, &remote, result, sync)
		if err != nil {
			return err
		}
		if winner == "none" {
			// MANUAL deferral: neither side written, sync state frozen so
			// the conflict is still detectable once the tag is cleared.
			result.Skipped++
			return nil
		}
	case remoteDirty:
		if opts.DryRun {
			result.Pulled++
			return nil
		}
		patch := map[string]interface{}{
			"title":  remote.Title,
			"status": string(issueStatus(remote.State)),
		}
		if remote.Priority != nil {
			patch["priority"] = *remote.Priority
		}
		if err := e.store.UpdateTask(ctx, core.TaskID(t.ID), patch, store.UpdateOptions{Actor: systemActor}); err != nil {
			return err
		}
	default:
		result.Skipped++
		return nil
	}

	now := time.Now().UTC()
	updated := *sync
	updated.LastPulledAt = &now
	updated.LastPulledHash = hash.Sum(hash.OfExternalTask(&remote))
	if err := e.writeSyncState(ctx, t, &updated); err != nil {
		return err
	}
	result.Pulled++
	return nil
}

func (e *Engine) createLinkedFromRemote(ctx context.Context, providerName string, remote core.ExternalTask, result *core.ExternalSyncResult) error {
	now := time.Now().UTC()
	priority := 3
	if remote.Priority != nil {
		priority = *remote.Priority
	}
	t := &core.Task{
		Element: core.Element{Type: core.TypeTask, CreatedAt: now, UpdatedAt: now, CreatedBy: systemActor},
		Title:   remote.Title, Status: issueStatus(remote.State), Priority: priority, Complexity: 3,
		TaskType: core.TaskGeneric,
	}
	t.SetTags(remote.Labels)
	id, err := idgen.GenerateUnique(remote.Title, remote.Body, string(systemActor), now, 6, 10, e.idExists(ctx))
	if err != nil {
		return err
	}
	t.ID = core.ElementID(id)
	if err := e.store.CreateTask(ctx, t, systemActor); err != nil {
		return err
	}
	sync := &core.ExternalSyncState{
		Provider: providerName, ExternalID: remote.ExternalID, URL: remote.URL,
		LastPulledAt: &now, LastPulledHash: hash.Sum(hash.OfExternalTask(&remote)),
		Direction: core.DirectionPull, AdapterType: core.AdapterTask,
	}
	if err := e.writeSyncState(ctx, t, sync); err != nil {
		return err
	}
	result.Pulled++
	return nil
}

// Sync runs a bidirectional pass: push first (local-changed elements
// reach the provider), then pull (remote-changed items reconcile back),
// so a single call settles both directions in one pass.
func (e *Engine) Sync(ctx context.Context, opts Options) (*core.ExternalSyncResult, error) {
	pushed, err := e.Push(ctx, opts)
	if err != nil {
		return nil, err
	}
	pulled, err := e.Pull(ctx, opts)
	if err != nil {
		return nil, err
	}
	merged := &core.ExternalSyncResult{
		Success:   pushed.Success && pulled.Success,
		Provider:  opts.Provider,
		Pushed:    pushed.Pushed,
		Pulled:    pulled.Pulled,
		Skipped:   pushed.Skipped + pulled.Skipped,
		Conflicts: append(pushed.Conflicts, pulled.Conflicts...),
		Errors:    append(pushed.Errors, pulled.Errors...),
	}
	return merged, nil
}

func issueState(status core.Status) string {
	if status == core.StatusClosed {
		return "closed"
	}
	return "open"
}

func issueStatus(state string) core.Status {
	if state == "closed" {
		return core.StatusClosed
	}
	return core.StatusOpen
}

// applyFieldMap runs the adapter's declared field transforms over a
// partial update in the local-to-external direction. Fields without a
// declared transform pass through unchanged.
func applyFieldMap(cfg provider.TaskFieldMapConfig, partial map[string]interface{}) error {
	for _, tr := range cfg.Transforms {
		v, ok := partial[tr.LocalField]
		if !ok {
			continue
		}
		mapped, err := tr.ToExternal(v)
		if err != nil {
			return err
		}
		if tr.ExternalField != tr.LocalField {
			delete(partial, tr.LocalField)
		}
		partial[tr.ExternalField] = mapped
	}
	return nil
}

// asSyncError coerces any error into a *core.SyncError for the result
// envelope, classifying it retryable=false unless it already carries a
// retryability verdict from the adapter.
func asSyncError(providerName string, err error) *core.SyncError {
	if se, ok := err.(*core.SyncError); ok {
		return se
	}
	return core.NewSyncError(providerName, "", err.Error(), false)
}
