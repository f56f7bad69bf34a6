package incremental

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/stoneforge-ai/stoneforge/internal/core"
	"github.com/stoneforge-ai/stoneforge/internal/store"
)

// ImportOptions controls whether import actually writes.
type ImportOptions struct {
	DryRun bool
}

// ImportResult tallies what an import did, and carries malformed-line
// errors that did not abort the stream.
type ImportResult struct {
	Created int
	Updated int
	Skipped int
	Errors  []error
}

// Import reads elements.jsonl and dependencies.jsonl from inputDir and
// reconciles each record by id: absent locally creates, newer remote
// updates, equal or older remote skips.
func Import(ctx context.Context, st store.Storage, inputDir string, opts ImportOptions) (*ImportResult, error) {
	result := &ImportResult{}

	if err := importElements(ctx, st, filepath.Join(inputDir, elementsFile), opts, result); err != nil {
		return nil, err
	}
	if err := importDependencies(ctx, st, filepath.Join(inputDir, dependenciesFile), opts, result); err != nil {
		return nil, err
	}
	return result, nil
}

func importElements(ctx context.Context, st store.Storage, path string, opts ImportOptions, result *ImportResult) error {
	lines, err := readLines(path)
	if err != nil {
		return err
	}
	for lineNo, line := range lines {
		var rec map[string]interface{}
		if err := json.Unmarshal(line, &rec); err != nil {
			result.Errors = append(result.Errors, fmt.Errorf("incremental: elements.jsonl line %d: %w", lineNo+1, err))
			continue
		}
		if err := reconcileElement(ctx, st, rec, opts, result); err != nil {
			result.Errors = append(result.Errors, fmt.Errorf("incremental: elements.jsonl line %d: %w", lineNo+1, err))
		}
	}
	return nil
}

func reconcileElement(ctx context.Context, st store.Storage, rec map[string]interface{}, opts ImportOptions, result *ImportResult) error {
	id, _ := rec["ID"].(string)
	typ, _ := rec["Type"].(string)
	if id == "" || typ == "" {
		return fmt.Errorf("record missing id or type")
	}
	remoteUpdatedAt, err := parseRecordTime(rec["UpdatedAt"])
	if err != nil {
		return fmt.Errorf("parse updatedAt: %w", err)
	}

	existing, err := st.GetElement(ctx, core.ElementID(id))
	if err != nil && !core.Is(err, core.ErrNotFound) {
		return err
	}
	if existing == nil {
		if opts.DryRun {
			result.Created++
			return nil
		}
		if err := createFromRecord(ctx, st, core.ElementType(typ), rec); err != nil {
			return err
		}
		result.Created++
		return nil
	}

	localUpdatedAt := elementUpdatedAt(existing)
	switch {
	case remoteUpdatedAt.After(localUpdatedAt):
		if opts.DryRun {
			result.Updated++
			return nil
		}
		if err := updateFromRecord(ctx, st, core.ElementType(typ), core.ElementID(id), rec); err != nil {
			return err
		}
		result.Updated++
	default:
		result.Skipped++
	}
	return nil
}

func elementUpdatedAt(el interface{}) time.Time {
	switch v := el.(type) {
	case *core.Task:
		return v.UpdatedAt
	case *core.Document:
		return v.UpdatedAt
	case *core.Channel:
		return v.UpdatedAt
	case *core.Message:
		return v.UpdatedAt
	case *core.Entity:
		return v.UpdatedAt
	case *core.Workflow:
		return v.UpdatedAt
	case *core.Playbook:
		return v.UpdatedAt
	case *core.Plan:
		return v.UpdatedAt
	default:
		return time.Time{}
	}
}

func createFromRecord(ctx context.Context, st store.Storage, typ core.ElementType, rec map[string]interface{}) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	switch typ {
	case core.TypeTask:
		var t core.Task
		if err := json.Unmarshal(raw, &t); err != nil {
			return err
		}
		return st.CreateTask(ctx, &t, t.CreatedBy)
	case core.TypeDocument:
		var d core.Document
		if err := json.Unmarshal(raw, &d); err != nil {
			return err
		}
		return st.CreateDocument(ctx, &d, d.CreatedBy)
	case core.TypeChannel:
		var c core.Channel
		if err := json.Unmarshal(raw, &c); err != nil {
			return err
		}
		return st.CreateChannel(ctx, &c, c.CreatedBy)
	case core.TypeMessage:
		var m core.Message
		if err := json.Unmarshal(raw, &m); err != nil {
			return err
		}
		return st.CreateMessage(ctx, &m, m.CreatedBy)
	case core.TypeEntity:
		var e core.Entity
		if err := json.Unmarshal(raw, &e); err != nil {
			return err
		}
		return st.CreateEntity(ctx, &e, e.CreatedBy)
	case core.TypeWorkflow:
		var w core.Workflow
		if err := json.Unmarshal(raw, &w); err != nil {
			return err
		}
		return st.CreateWorkflow(ctx, &w, w.CreatedBy)
	case core.TypePlaybook:
		var p core.Playbook
		if err := json.Unmarshal(raw, &p); err != nil {
			return err
		}
		return st.CreatePlaybook(ctx, &p, p.CreatedBy)
	case core.TypePlan:
		var p core.Plan
		if err := json.Unmarshal(raw, &p); err != nil {
			return err
		}
		return st.CreatePlan(ctx, &p, p.CreatedBy)
	default:
		return fmt.Errorf("unsupported element type %q", typ)
	}
}

func updateFromRecord(ctx context.Context, st store.Storage, typ core.ElementType, id core.ElementID, rec map[string]interface{}) error {
	switch typ {
	case core.TypeTask:
		patch := taskPatchFromRecord(rec)
		if len(patch) == 0 {
			return nil
		}
		return st.UpdateTask(ctx, core.TaskID(id), patch, store.UpdateOptions{Actor: importActor})
	case core.TypeDocument:
		content, _ := rec["Content"].(string)
		_, err := st.UpdateDocumentContent(ctx, core.DocumentID(id), content, importActor)
		return err
	default:
		// Channels and messages are immutable post-creation; a newer
		// remote record for either is a no-op besides the create path
		// above.
		return nil
	}
}

var taskRecordFields = map[string]string{
	"Title":          "title",
	"Status":         "status",
	"Priority":       "priority",
	"Complexity":     "complexity",
	"TaskType":       "taskType",
	"Assignee":       "assignee",
	"DescriptionRef": "descriptionRef",
	"ScheduledFor":   "scheduledFor",
	"CloseReason":    "closeReason",
	"Tags":           "tags",
	"Metadata":       "metadata",
}

func taskPatchFromRecord(rec map[string]interface{}) map[string]interface{} {
	patch := make(map[string]interface{})
	for recKey, patchKey := range taskRecordFields {
		v, ok := rec[recKey]
		if !ok || v == nil {
			continue
		}
		switch patchKey {
		case "priority", "complexity":
			if f, ok := v.(float64); ok {
				v = int(f)
			}
		case "scheduledFor":
			if t, err := parseRecordTime(v); err == nil {
				v = t
			}
		}
		patch[patchKey] = v
	}
	return patch
}

func parseRecordTime(v interface{}) (time.Time, error) {
	s, ok := v.(string)
	if !ok {
		return time.Time{}, fmt.Errorf("not a string")
	}
	return time.Parse(time.RFC3339Nano, s)
}

func importDependencies(ctx context.Context, st store.Storage, path string, opts ImportOptions, result *ImportResult) error {
	lines, err := readLines(path)
	if err != nil {
		return err
	}
	for lineNo, line := range lines {
		var rec dependencyRecord
		if err := json.Unmarshal(line, &rec); err != nil {
			result.Errors = append(result.Errors, fmt.Errorf("incremental: dependencies.jsonl line %d: %w", lineNo+1, err))
			continue
		}
		dep := core.Dependency{
			Blocked: core.ElementID(rec.BlockedID), Blocker: core.ElementID(rec.BlockerID),
			Type: core.DependencyType(rec.Type), CreatedBy: core.EntityID(rec.CreatedBy), Metadata: rec.Metadata,
		}
		if createdAt, err := time.Parse(time.RFC3339Nano, rec.CreatedAt); err == nil {
			dep.CreatedAt = createdAt
		}

		// AddDependency is spec-idempotent: re-inserting an existing
		// triple succeeds silently rather than erroring, so a pre-check
		// against the existing edge set is how import distinguishes a
		// genuinely new edge from a no-op re-import for reporting purposes.
		exists, err := dependencyExists(ctx, st, dep.Key())
		if err != nil {
			result.Errors = append(result.Errors, fmt.Errorf("incremental: dependencies.jsonl line %d: %w", lineNo+1, err))
			continue
		}
		if exists {
			result.Skipped++
			continue
		}
		if opts.DryRun {
			result.Created++
			continue
		}
		if err := st.AddDependency(ctx, dep); err != nil {
			result.Errors = append(result.Errors, fmt.Errorf("incremental: dependencies.jsonl line %d: %w", lineNo+1, err))
			continue
		}
		result.Created++
	}
	return nil
}

func dependencyExists(ctx context.Context, st store.Storage, key core.DependencyKey) (bool, error) {
	edges, err := st.Outgoing(ctx, key.Blocked)
	if err != nil {
		return false, err
	}
	for _, e := range edges {
		if e.Key() == key {
			return true, nil
		}
	}
	return false, nil
}

func readLines(path string) ([][]byte, error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("incremental: open %s: %w", path, err)
	}
	defer f.Close()

	var lines [][]byte
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		cp := make([]byte, len(line))
		copy(cp, line)
		lines = append(lines, cp)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("incremental: scan %s: %w", path, err)
	}
	return lines, nil
}

// importActor attributes import-driven mutations distinctly from a
// human or sync-engine actor.
const importActor core.EntityID = "el-import0"
