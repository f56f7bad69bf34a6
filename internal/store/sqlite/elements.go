package sqlite

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
)

// mergeElementMetadata shallow-merges patch on top of the element's
// existing metadata blob, rather than replacing it wholesale, so a
// caller linking/unlinking a provider doesn't clobber unrelated
// metadata keys written by a concurrent mutation. A patch value of nil
// at a key deletes that key (used by unlink to remove _externalSync).
func mergeElementMetadata(ctx context.Context, ex execer, id string, patch interface{}) error {
	patchMap, ok := patch.(map[string]interface{})
	if !ok {
		return fmt.Errorf("sqlite: metadata patch must be map[string]interface{}, got %T", patch)
	}

	var existingJSON string
	if err := ex.QueryRowContext(ctx, `SELECT metadata FROM elements WHERE id = ?`, id).Scan(&existingJSON); err != nil {
		return fmt.Errorf("sqlite: read metadata for merge: %w", err)
	}
	existing := make(map[string]interface{})
	if existingJSON != "" {
		if err := json.Unmarshal([]byte(existingJSON), &existing); err != nil {
			return fmt.Errorf("sqlite: unmarshal existing metadata: %w", err)
		}
	}
	for k, v := range patchMap {
		if v == nil {
			delete(existing, k)
			continue
		}
		existing[k] = v
	}
	merged, err := json.Marshal(existing)
	if err != nil {
		return fmt.Errorf("sqlite: marshal merged metadata: %w", err)
	}
	if _, err := ex.ExecContext(ctx, `UPDATE elements SET metadata = ? WHERE id = ?`, string(merged), id); err != nil {
		return fmt.Errorf("sqlite: write merged metadata: %w", err)
	}
	return nil
}

// setElementTags normalizes and writes the element's tag set, matching
// core.Element.SetTags (dedup + sort) rather than trusting caller order.
func setElementTags(ctx context.Context, ex execer, id string, patch interface{}) error {
	var tags []string
	switch v := patch.(type) {
	case []string:
		tags = v
	case []interface{}:
		for _, t := range v {
			if s, ok := t.(string); ok {
				tags = append(tags, s)
			}
		}
	default:
		return fmt.Errorf("sqlite: tags patch must be a string slice, got %T", patch)
	}

	seen := make(map[string]struct{}, len(tags))
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	sort.Strings(out)

	tagsJSON, err := json.Marshal(out)
	if err != nil {
		return fmt.Errorf("sqlite: marshal tags: %w", err)
	}
	if _, err := ex.ExecContext(ctx, `UPDATE elements SET tags = ? WHERE id = ?`, string(tagsJSON), id); err != nil {
		return fmt.Errorf("sqlite: write tags: %w", err)
	}
	return nil
}
