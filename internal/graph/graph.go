// Package graph implements the dependency-graph invariant engine:
// typed edges, cycle prevention over the blocking family, and a
// version-counted blocked-status cache. The cache checks each element's
// direct outgoing edges only; blocking propagated through parent-child
// chains is computed by the store backends' readiness queries.
//
// The SQLite store already enforces cycle-freedom and computes readiness
// via recursive views at query time (internal/store/sqlite); this package
// adds an in-memory blocked-cache layer on top of it, so that a hot read
// path doesn't re-walk the blocking subgraph on every call and so that
// stale-reader correctness has an explicit version counter to check:
//
//	"if a read returns ready, at the moment of that read no blocking
//	 edge with an unsatisfied blocker existed."
package graph

import (
	"context"
	"sync"
	"time"

	"github.com/stoneforge-ai/stoneforge/internal/core"
)

// now is a var so tests can freeze time for gate evaluation.
var now = time.Now

// EdgeSource is the subset of store.Storage the cache needs to recompute
// blocked status for an element. Kept narrow so the cache can be tested
// against a fake without pulling in the full Storage interface.
type EdgeSource interface {
	Outgoing(ctx context.Context, id core.ElementID) ([]core.Dependency, error)
	GetTask(ctx context.Context, id core.TaskID) (*core.Task, error)
}

// entry is one element's cached blocked-status, tagged with the version
// it was computed at.
type entry struct {
	blocked bool
	version uint64
}

// BlockedCache is a version-counted cache of per-element blocked status,
// guarded by a single RWMutex. Invalidation bumps the affected element's
// own version counter; a stale read (computed at an older version) is
// recomputed rather than trusted.
type BlockedCache struct {
	src EdgeSource

	mu       sync.RWMutex
	entries  map[core.ElementID]entry
	versions map[core.ElementID]uint64
}

// New builds a BlockedCache backed by src.
func New(src EdgeSource) *BlockedCache {
	return &BlockedCache{
		src:      src,
		entries:  make(map[core.ElementID]entry),
		versions: make(map[core.ElementID]uint64),
	}
}

// Invalidate bumps id's version, forcing the next IsBlocked call to
// recompute. Called on (i) incident blocking-edge add/remove, (ii)
// blocker status change, (iii) gate-state change.
func (c *BlockedCache) Invalidate(id core.ElementID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.versions[id]++
	delete(c.entries, id)
}

// IsBlocked reports whether id (an open/in-progress task) is currently
// blocked: any outgoing blocking edge whose blocker is not in a terminal
// closing state. The result is served from cache when the cached
// version still matches the live version counter.
func (c *BlockedCache) IsBlocked(ctx context.Context, id core.ElementID) (bool, error) {
	c.mu.RLock()
	curVersion := c.versions[id]
	if e, ok := c.entries[id]; ok && e.version == curVersion {
		c.mu.RUnlock()
		return e.blocked, nil
	}
	c.mu.RUnlock()

	blocked, err := c.compute(ctx, id)
	if err != nil {
		return false, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	// Only cache the result if nothing invalidated us while computing.
	if c.versions[id] == curVersion {
		c.entries[id] = entry{blocked: blocked, version: curVersion}
	}
	return blocked, nil
}

func (c *BlockedCache) compute(ctx context.Context, id core.ElementID) (bool, error) {
	edges, err := c.src.Outgoing(ctx, id)
	if err != nil {
		return false, err
	}
	for _, d := range edges {
		if !d.Type.IsBlocking() {
			continue
		}
		if d.Type == core.DepAwaits {
			if !d.Gate.Satisfied(now()) {
				return true, nil
			}
			continue
		}
		blockerTask, err := c.src.GetTask(ctx, core.TaskID(d.Blocker))
		if err != nil {
			if core.Is(err, core.ErrNotFound) {
				// A blocker that doesn't resolve to a task doesn't block.
				continue
			}
			return false, err
		}
		// Tombstones remain resolvable but don't block.
		if !blockerTask.Tombstone && blockerTask.Status != core.StatusClosed {
			return true, nil
		}
	}
	return false, nil
}
