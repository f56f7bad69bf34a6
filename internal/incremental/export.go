// Package incremental implements the JSONL export/import protocol:
// elements.jsonl and dependencies.jsonl, dirty-tracked so a repeated
// export only emits what changed since the last one, spanning every
// element kind.
package incremental

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"

	"github.com/stoneforge-ai/stoneforge/internal/core"
	"github.com/stoneforge-ai/stoneforge/internal/store"
)

const (
	elementsFile     = "elements.jsonl"
	dependenciesFile = "dependencies.jsonl"
	lockFile         = ".stoneforge-export.lock"
)

// ExportOptions selects full vs incremental export.
type ExportOptions struct {
	Full bool
}

// ExportResult reports what an export wrote.
type ExportResult struct {
	Elements     int
	Dependencies int
}

// dependencyRecord is the JSONL wire shape of an edge.
type dependencyRecord struct {
	BlockedID string                 `json:"blockedId"`
	BlockerID string                 `json:"blockerId"`
	Type      string                 `json:"type"`
	CreatedAt string                 `json:"createdAt"`
	CreatedBy string                 `json:"createdBy"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

// Export writes elements.jsonl and dependencies.jsonl into outputDir. A
// full export emits every non-tombstoned element and every edge; an
// incremental export emits only the dirty set and clears it atomically
// on success.
func Export(ctx context.Context, st store.Storage, outputDir string, opts ExportOptions) (*ExportResult, error) {
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return nil, fmt.Errorf("incremental: create output dir: %w", err)
	}

	fl := flock.New(filepath.Join(outputDir, lockFile))
	locked, err := fl.TryLockContext(ctx, lockRetryInterval)
	if err != nil {
		return nil, fmt.Errorf("incremental: acquire export lock: %w", err)
	}
	if !locked {
		return nil, core.NewError(core.ErrConstraint, "another export is in progress in %s", outputDir)
	}
	defer fl.Unlock()

	var ids []core.ElementID
	if !opts.Full {
		ids, err = st.GetDirtyElements(ctx)
		if err != nil {
			return nil, err
		}
	}

	elements, err := collectElements(ctx, st, opts.Full, ids)
	if err != nil {
		return nil, err
	}
	deps, err := collectDependencies(ctx, st, opts.Full, elements)
	if err != nil {
		return nil, err
	}

	if err := writeJSONLAtomic(filepath.Join(outputDir, elementsFile), elements); err != nil {
		return nil, err
	}
	if err := writeJSONLAtomic(filepath.Join(outputDir, dependenciesFile), deps); err != nil {
		return nil, err
	}

	if !opts.Full {
		if err := st.ClearDirtyElements(ctx, ids); err != nil {
			return nil, fmt.Errorf("incremental: clear dirty set after export: %w", err)
		}
	}

	return &ExportResult{Elements: len(elements), Dependencies: len(deps)}, nil
}

// collectElements resolves the elements to emit: every non-tombstoned
// element of every kind for a full export, or the dirty set's elements
// for an incremental one. Tombstoned elements are never emitted.
func collectElements(ctx context.Context, st store.Storage, full bool, dirtyIDs []core.ElementID) ([]interface{}, error) {
	var ids []core.ElementID
	if full {
		all, err := st.ListElementIDs(ctx)
		if err != nil {
			return nil, err
		}
		ids = all
	} else {
		ids = dirtyIDs
	}

	out := make([]interface{}, 0, len(ids))
	for _, id := range ids {
		el, err := st.GetElement(ctx, id)
		if err != nil {
			if core.Is(err, core.ErrNotFound) {
				continue
			}
			return nil, err
		}
		if tombstoned(el) {
			continue
		}
		out = append(out, el)
	}
	return out, nil
}

func tombstoned(el interface{}) bool {
	switch v := el.(type) {
	case *core.Task:
		return v.Tombstone
	case *core.Document:
		return v.Tombstone
	case *core.Channel:
		return v.Tombstone
	case *core.Message:
		return v.Tombstone
	case *core.Entity:
		return v.Tombstone
	case *core.Workflow:
		return v.Tombstone
	case *core.Playbook:
		return v.Tombstone
	case *core.Plan:
		return v.Tombstone
	default:
		return false
	}
}

// collectDependencies gathers the edges touching the exported elements
// (full export: every edge of every type via AllDependencies).
func collectDependencies(ctx context.Context, st store.Storage, full bool, elements []interface{}) ([]dependencyRecord, error) {
	var edges []core.Dependency
	if full {
		all, err := st.AllDependencies(ctx)
		if err != nil {
			return nil, err
		}
		edges = all
	} else {
		seen := make(map[core.DependencyKey]struct{})
		for _, el := range elements {
			id := elementID(el)
			if id == "" {
				continue
			}
			out, err := st.Outgoing(ctx, id)
			if err != nil {
				return nil, err
			}
			in, err := st.Incoming(ctx, id)
			if err != nil {
				return nil, err
			}
			for _, d := range append(out, in...) {
				k := d.Key()
				if _, ok := seen[k]; ok {
					continue
				}
				seen[k] = struct{}{}
				edges = append(edges, d)
			}
		}
	}

	out := make([]dependencyRecord, 0, len(edges))
	for _, d := range edges {
		out = append(out, dependencyRecord{
			BlockedID: string(d.Blocked), BlockerID: string(d.Blocker), Type: string(d.Type),
			CreatedAt: d.CreatedAt.Format(rfc3339), CreatedBy: string(d.CreatedBy), Metadata: d.Metadata,
		})
	}
	return out, nil
}

func elementID(el interface{}) core.ElementID {
	switch v := el.(type) {
	case *core.Task:
		return v.ID
	case *core.Document:
		return v.ID
	case *core.Channel:
		return v.ID
	case *core.Message:
		return v.ID
	case *core.Entity:
		return v.ID
	case *core.Workflow:
		return v.ID
	case *core.Playbook:
		return v.ID
	case *core.Plan:
		return v.ID
	default:
		return ""
	}
}

// writeJSONLAtomic writes records to path via a temp-file-then-rename so
// a crash mid-write never leaves a half-written file for a concurrent
// reader to observe.
func writeJSONLAtomic(path string, records interface{}) error {
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("incremental: create %s: %w", tmp, err)
	}
	w := bufio.NewWriter(f)

	switch recs := records.(type) {
	case []interface{}:
		for _, r := range recs {
			if err := writeLine(w, r); err != nil {
				f.Close()
				return err
			}
		}
	case []dependencyRecord:
		for _, r := range recs {
			if err := writeLine(w, r); err != nil {
				f.Close()
				return err
			}
		}
	}

	if err := w.Flush(); err != nil {
		f.Close()
		return fmt.Errorf("incremental: flush %s: %w", tmp, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("incremental: close %s: %w", tmp, err)
	}
	return os.Rename(tmp, path)
}

func writeLine(w *bufio.Writer, v interface{}) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("incremental: marshal record: %w", err)
	}
	if _, err := w.Write(b); err != nil {
		return err
	}
	return w.WriteByte('\n')
}

const rfc3339 = "2006-01-02T15:04:05.999999999Z07:00"

// lockRetryInterval paces TryLockContext's internal retry loop while
// waiting for a concurrent export to release the lock file.
const lockRetryInterval = 50 * time.Millisecond
