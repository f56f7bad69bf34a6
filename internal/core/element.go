package core

import (
	"sort"
	"time"
)

// ElementType is the closed set of first-class persisted entity kinds.
type ElementType string

const (
	TypeTask     ElementType = "task"
	TypeDocument ElementType = "document"
	TypeChannel  ElementType = "channel"
	TypeMessage  ElementType = "message"
	TypeWorkflow ElementType = "workflow"
	TypePlaybook ElementType = "playbook"
	TypePlan     ElementType = "plan"
	TypeEntity   ElementType = "entity"
)

func (t ElementType) IsValid() bool {
	switch t {
	case TypeTask, TypeDocument, TypeChannel, TypeMessage, TypeWorkflow, TypePlaybook, TypePlan, TypeEntity:
		return true
	}
	return false
}

// Element is the base embedded by every persisted entity kind. Tags are
// set semantics (case-sensitive, no duplicates); callers should treat the
// slice as unordered and use SetTags/HasTag rather than index access.
type Element struct {
	ID        ElementID
	Type      ElementType
	CreatedAt time.Time
	UpdatedAt time.Time
	CreatedBy EntityID
	Tags      []string
	Metadata  map[string]interface{}
	Tombstone bool
	DeletedAt *time.Time
}

// SetTags normalizes tags into a deduplicated, sorted set.
func (e *Element) SetTags(tags []string) {
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
	e.Tags = out
}

func (e *Element) HasTag(tag string) bool {
	for _, t := range e.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// externalSyncMetaKey is the reserved metadata key carrying an
// ExternalSyncState once an element is linked to a provider.
const externalSyncMetaKey = "_externalSync"

// ExternalSync extracts the element's ExternalSyncState, if linked. The
// value round-trips through JSON when an element is reloaded from
// storage, so it may be stored either as a live *ExternalSyncState (an
// element just mutated in-process) or as a map[string]interface{} (an
// element freshly scanned from the store); both are decoded here.
func (e *Element) ExternalSync() (*ExternalSyncState, bool) {
	if e.Metadata == nil {
		return nil, false
	}
	raw, ok := e.Metadata[externalSyncMetaKey]
	if !ok {
		return nil, false
	}
	switch v := raw.(type) {
	case *ExternalSyncState:
		return v, true
	case map[string]interface{}:
		s, err := externalSyncStateFromMap(v)
		if err != nil {
			return nil, false
		}
		return s, true
	default:
		return nil, false
	}
}

// SetExternalSync writes (or replaces) the element's sync state.
func (e *Element) SetExternalSync(s *ExternalSyncState) {
	if e.Metadata == nil {
		e.Metadata = make(map[string]interface{})
	}
	e.Metadata[externalSyncMetaKey] = s
}

// ClearExternalSync removes the element's sync state, if any.
func (e *Element) ClearExternalSync() {
	if e.Metadata == nil {
		return
	}
	delete(e.Metadata, externalSyncMetaKey)
}
