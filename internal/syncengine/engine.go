// Package syncengine implements push/pull/sync orchestration against
// the provider plane: change detection, per-provider concurrency
// limits, conflict resolution, and link/unlink bookkeeping. Pagination
// and retry live in each adapter; this package adds the cross-provider
// scheduling and merge policy layer.
package syncengine

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/stoneforge-ai/stoneforge/internal/core"
	"github.com/stoneforge-ai/stoneforge/internal/hash"
	"github.com/stoneforge-ai/stoneforge/internal/merge"
	"github.com/stoneforge-ai/stoneforge/internal/provider"
	"github.com/stoneforge-ai/stoneforge/internal/store"
)

// Options carries the optional selection and behavior flags for
// push/pull/sync.
type Options struct {
	TaskIDs          []core.TaskID
	All              bool
	Provider         string
	Type             core.AdapterType
	DryRun           bool
	Force            bool
	ConflictStrategy core.ConflictStrategy
}

// DefaultProviderConcurrency bounds how many in-flight adapter calls a
// single sync pass makes against one provider, so the engine never
// interleaves writes to the same external resource under load.
const DefaultProviderConcurrency = 4

// Engine orchestrates push/pull/sync across every registered provider.
type Engine struct {
	store    store.Storage
	registry provider.Resolver
	logger   *zap.Logger

	concurrency int64
}

// New builds a sync engine over the given store and provider resolver
// (a plain Registry or a configuration-backed ConfiguredRegistry). A
// nil logger is replaced with zap's no-op logger so callers never need
// a nil check.
func New(st store.Storage, reg provider.Resolver, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{store: st, registry: reg, logger: logger, concurrency: DefaultProviderConcurrency}
}

// WithConcurrency overrides the per-provider concurrency cap.
func (e *Engine) WithConcurrency(n int64) *Engine {
	e.concurrency = n
	return e
}

// targetTasks resolves opts into the concrete task list a push/pull/sync
// call should operate on, honoring TaskIDs, All, and a linked-to-provider
// filter.
func (e *Engine) targetTasks(ctx context.Context, opts Options) ([]*core.Task, error) {
	if len(opts.TaskIDs) > 0 {
		out := make([]*core.Task, 0, len(opts.TaskIDs))
		for _, id := range opts.TaskIDs {
			t, err := e.store.GetTask(ctx, id)
			if err != nil {
				return nil, err
			}
			out = append(out, t)
		}
		return out, nil
	}
	tasks, err := e.store.ListTasks(ctx, store.TaskFilter{})
	if err != nil {
		return nil, err
	}
	if !opts.All && opts.Provider == "" {
		return nil, core.NewError(core.ErrInvalidInput, "sync options must set taskIds, all, or provider")
	}
	if opts.Provider == "" {
		return tasks, nil
	}
	out := make([]*core.Task, 0, len(tasks))
	for _, t := range tasks {
		sync, linked := t.ExternalSync()
		if linked {
			if sync.Provider == opts.Provider {
				out = append(out, t)
			}
			continue
		}
		// An unlinked task is only a push candidate for opts.Provider when
		// All is set; otherwise a bare provider filter scopes to tasks
		// already bound to that provider.
		if opts.All {
			out = append(out, t)
		}
	}
	return out, nil
}

// taskAdapterFor resolves the provider.TaskAdapter for the named
// provider, surfacing provider.ErrUnsupportedAdapter if it doesn't
// expose one.
func (e *Engine) taskAdapterFor(name string) (provider.Provider, provider.TaskAdapter, error) {
	p, err := e.registry.Get(name)
	if err != nil {
		return nil, nil, err
	}
	ta, ok := p.TaskAdapter()
	if !ok {
		return nil, nil, provider.ErrUnsupportedAdapter(name, core.AdapterTask)
	}
	return p, ta, nil
}

// localChanged reports whether the task's current projection hash
// differs from the last pushed hash.
func localChanged(t *core.Task, body string, sync *core.ExternalSyncState) bool {
	return hash.Sum(hash.OfTaskWithBody(t, body)) != sync.LastPushedHash
}

// remoteChanged reports whether the remote item has changed since the
// last pull.
func remoteChanged(remote *core.ExternalTask, sync *core.ExternalSyncState) bool {
	epoch := time.Time{}
	lastPulled := epoch
	if sync.LastPulledAt != nil {
		lastPulled = *sync.LastPulledAt
	}
	if !remote.UpdatedAt.After(lastPulled) {
		return false
	}
	return hash.Sum(hash.OfExternalTask(remote)) != sync.LastPulledHash
}

// taskBody resolves the task's description document content, if any.
func (e *Engine) taskBody(ctx context.Context, t *core.Task) (string, error) {
	if t.DescriptionRef == nil {
		return "", nil
	}
	doc, err := e.store.GetDocument(ctx, *t.DescriptionRef)
	if err != nil {
		if core.Is(err, core.ErrNotFound) {
			return "", nil
		}
		return "", err
	}
	return doc.Content, nil
}

// runPerProvider groups tasks by their linked provider and runs fn for
// each group concurrently, bounded by the engine's concurrency cap per
// provider, merging every group's ExternalSyncResult into one.
func (e *Engine) runPerProvider(ctx context.Context, groups map[string][]*core.Task, fn func(ctx context.Context, providerName string, tasks []*core.Task, result *core.ExternalSyncResult) error) (*core.ExternalSyncResult, error) {
	result := &core.ExternalSyncResult{Success: true}
	var mu resultMutex

	g, gctx := errgroup.WithContext(ctx)
	for name, tasks := range groups {
		name, tasks := name, tasks
		g.Go(func() error {
			sem := semaphore.NewWeighted(e.concurrency)
			sub := &core.ExternalSyncResult{Success: true, Provider: name}
			inner, innerCtx := errgroup.WithContext(gctx)
			for _, t := range tasks {
				t := t
				inner.Go(func() error {
					if err := sem.Acquire(innerCtx, 1); err != nil {
						return err
					}
					defer sem.Release(1)
					return fn(innerCtx, name, []*core.Task{t}, sub)
				})
			}
			if err := inner.Wait(); err != nil {
				e.logger.Error("sync group failed", zap.String("provider", name), zap.Error(err))
			}
			mu.merge(result, sub)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		result.Success = false
		result.Errors = append(result.Errors, core.NewSyncError("", "", err.Error(), false))
	}
	return result, nil
}

// resultMutex serializes merges of per-group results into the aggregate,
// since runPerProvider's groups run concurrently.
type resultMutex struct{ mu sync.Mutex }

func (m *resultMutex) merge(into, from *core.ExternalSyncResult) {
	m.mu.Lock()
	defer m.mu.Unlock()
	into.Pushed += from.Pushed
	into.Pulled += from.Pulled
	into.Skipped += from.Skipped
	into.Conflicts = append(into.Conflicts, from.Conflicts...)
	into.Errors = append(into.Errors, from.Errors...)
	if !from.Success {
		into.Success = false
	}
}

// applyMergeOutcome resolves a both-sides-dirty conflict through the
// merge package and writes the winning patch, reporting which side won
// so the caller knows whether to refresh sync state ("none" means MANUAL
// deferral: neither side was touched and sync state must not advance).
func (e *Engine) applyMergeOutcome(ctx context.Context, t *core.Task, strategy core.ConflictStrategy, remote *core.ExternalTask, result *core.ExternalSyncResult, sync *core.ExternalSyncState) (string, error) {
	patch, outcome := merge.Resolve(strategy, t, t.UpdatedAt, remote)
	switch outcome.Winner {
	case "none":
		if err := e.tagConflict(ctx, t); err != nil {
			return "", err
		}
	case "remote":
		if err := e.store.UpdateTask(ctx, core.TaskID(t.ID), patch, store.UpdateOptions{Actor: systemActor}); err != nil {
			return "", err
		}
	}
	result.Conflicts = append(result.Conflicts, core.ConflictRecord{
		ElementID: t.ID, Provider: sync.Provider, ExternalID: sync.ExternalID,
		Strategy: strategy, Winner: outcome.Winner,
	})
	return outcome.Winner, nil
}

func (e *Engine) tagConflict(ctx context.Context, t *core.Task) error {
	if t.HasTag(core.SyncConflictTag) {
		return nil
	}
	tags := append(append([]string(nil), t.Tags...), core.SyncConflictTag)
	return e.store.UpdateTask(ctx, core.TaskID(t.ID), map[string]interface{}{"tags": tags}, store.UpdateOptions{Actor: systemActor})
}

// systemActor attributes sync-engine-initiated mutations distinctly from
// a human or the CLI's own actor.
const systemActor core.EntityID = "el-sync0"
