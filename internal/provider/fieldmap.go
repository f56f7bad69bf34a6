package provider

import (
	"sort"

	"github.com/stoneforge-ai/stoneforge/internal/core"
)

// TransformKind enumerates the finite set of permitted field-map
// transforms. Transforms are a closed set: anything else is rejected at
// registration time rather than resolved by dynamic lookup.
type TransformKind string

const (
	// TransformIdentity copies the value verbatim.
	TransformIdentity TransformKind = "identity"
	// TransformLabelsAsSet normalizes a value to a case-sensitive sorted
	// string set.
	TransformLabelsAsSet TransformKind = "labels-as-set"
	// TransformPriorityRemap remaps an integer through a configured
	// lookup table with a default fallback.
	TransformPriorityRemap TransformKind = "priority-remap"
)

func (k TransformKind) valid() bool {
	switch k {
	case TransformIdentity, TransformLabelsAsSet, TransformPriorityRemap:
		return true
	}
	return false
}

// FieldTransform is one field's transform declaration. PriorityMap and
// DefaultPriority are only consulted when Kind == TransformPriorityRemap.
type FieldTransform struct {
	LocalField    string
	ExternalField string
	Kind          TransformKind

	PriorityMap     map[int]int
	DefaultPriority int
}

// TaskFieldMapConfig is the field-map a task adapter declares via
// FieldMapConfig(), consulted by the sync engine when pushing a
// field a provider has no native concept for (e.g. priority-as-label).
type TaskFieldMapConfig struct {
	Transforms []FieldTransform
}

// NewFieldTransform validates kind against the enumerated set before
// constructing a FieldTransform, returning a VALIDATION error for any
// unrecognized transform name rather than allowing it through and
// failing silently at apply time.
func NewFieldTransform(localField, externalField string, kind TransformKind) (FieldTransform, error) {
	if !kind.valid() {
		return FieldTransform{}, core.NewError(core.ErrInvalidInput, "unknown field-map transform %q", kind)
	}
	return FieldTransform{LocalField: localField, ExternalField: externalField, Kind: kind}, nil
}

// ToExternal applies the transform in the local-to-external direction.
func (t FieldTransform) ToExternal(value interface{}) (interface{}, error) {
	switch t.Kind {
	case TransformIdentity:
		return value, nil
	case TransformLabelsAsSet:
		return labelsAsSet(value), nil
	case TransformPriorityRemap:
		return t.remapPriority(value), nil
	default:
		return nil, core.NewError(core.ErrInvalidInput, "unknown field-map transform %q", t.Kind)
	}
}

// ToLocal applies the transform in the external-to-local direction. For
// labels-as-set it is symmetric with ToExternal; for priority-remap the
// caller is expected to supply the inverse table (providers register one
// FieldTransform per direction since the remap tables are not generally
// invertible 1:1).
func (t FieldTransform) ToLocal(value interface{}) (interface{}, error) {
	switch t.Kind {
	case TransformIdentity:
		return value, nil
	case TransformLabelsAsSet:
		return labelsAsSet(value), nil
	case TransformPriorityRemap:
		return t.remapPriority(value), nil
	default:
		return nil, core.NewError(core.ErrInvalidInput, "unknown field-map transform %q", t.Kind)
	}
}

func labelsAsSet(value interface{}) []string {
	var in []string
	switch v := value.(type) {
	case []string:
		in = v
	case string:
		if v != "" {
			in = []string{v}
		}
	default:
		return nil
	}
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

func (t FieldTransform) remapPriority(value interface{}) int {
	n, ok := value.(int)
	if !ok {
		return t.DefaultPriority
	}
	if mapped, ok := t.PriorityMap[n]; ok {
		return mapped
	}
	return t.DefaultPriority
}
