package core

import (
	"encoding/json"
	"time"
)

// DependencyFamily partitions DependencyType into four disjoint
// families. Only the blocking family participates in cycle detection
// and readiness computation.
type DependencyFamily string

const (
	FamilyBlocking    DependencyFamily = "blocking"
	FamilyAssociative DependencyFamily = "associative"
	FamilyAttribution DependencyFamily = "attribution"
	FamilyThreading   DependencyFamily = "threading"
)

// DependencyType is the closed edge-kind taxonomy.
type DependencyType string

const (
	DepBlocks      DependencyType = "blocks"
	DepParentChild DependencyType = "parent-child"
	DepAwaits      DependencyType = "awaits"

	DepRelatesTo  DependencyType = "relates-to"
	DepReferences DependencyType = "references"
	DepSupersedes DependencyType = "supersedes"
	DepDuplicates DependencyType = "duplicates"
	DepCausedBy   DependencyType = "caused-by"
	DepValidates  DependencyType = "validates"
	DepMentions   DependencyType = "mentions"

	DepAuthoredBy DependencyType = "authored-by"
	DepAssignedTo DependencyType = "assigned-to"
	DepApprovedBy DependencyType = "approved-by"

	DepRepliesTo DependencyType = "replies-to"
)

var dependencyFamilies = map[DependencyType]DependencyFamily{
	DepBlocks:      FamilyBlocking,
	DepParentChild: FamilyBlocking,
	DepAwaits:      FamilyBlocking,

	DepRelatesTo:  FamilyAssociative,
	DepReferences: FamilyAssociative,
	DepSupersedes: FamilyAssociative,
	DepDuplicates: FamilyAssociative,
	DepCausedBy:   FamilyAssociative,
	DepValidates:  FamilyAssociative,
	DepMentions:   FamilyAssociative,

	DepAuthoredBy: FamilyAttribution,
	DepAssignedTo: FamilyAttribution,
	DepApprovedBy: FamilyAttribution,

	DepRepliesTo: FamilyThreading,
}

// Family returns t's dependency family, or "" if t is not a recognized type.
func (t DependencyType) Family() DependencyFamily {
	return dependencyFamilies[t]
}

func (t DependencyType) IsValid() bool {
	_, ok := dependencyFamilies[t]
	return ok
}

// IsBlocking reports whether t participates in cycle detection and
// readiness computation.
func (t DependencyType) IsBlocking() bool {
	return t.Family() == FamilyBlocking
}

// GateType is the closed awaits-edge gate taxonomy.
type GateType string

const (
	GateTimer    GateType = "timer"
	GateApproval GateType = "approval"
	GateExternal GateType = "external"
	GateWebhook  GateType = "webhook"
)

// Gate is the unblocking condition attached to an awaits edge.
type Gate struct {
	Type GateType

	// timer
	WaitUntil *time.Time

	// approval
	ApprovalCount     int
	RequiredApprovers []EntityID
	ApprovedBy        []EntityID // members who have recorded approval

	// external / webhook
	ExternalSystem string
	Received       bool
}

// Satisfied evaluates the gate's unblocking condition as of now.
func (g *Gate) Satisfied(now time.Time) bool {
	if g == nil {
		return true
	}
	switch g.Type {
	case GateTimer:
		return g.WaitUntil == nil || !g.WaitUntil.After(now)
	case GateApproval:
		distinct := make(map[EntityID]struct{}, len(g.ApprovedBy))
		required := make(map[EntityID]struct{}, len(g.RequiredApprovers))
		for _, a := range g.RequiredApprovers {
			required[a] = struct{}{}
		}
		for _, a := range g.ApprovedBy {
			if _, ok := required[a]; ok {
				distinct[a] = struct{}{}
			}
		}
		return len(distinct) >= g.ApprovalCount
	case GateExternal, GateWebhook:
		return g.Received
	default:
		return false
	}
}

// ValidatesResult is the closed result taxonomy for a validates edge.
type ValidatesResult string

const (
	ValidatesPass ValidatesResult = "pass"
	ValidatesFail ValidatesResult = "fail"
)

// ValidatesInfo is the payload carried by a validates dependency.
type ValidatesInfo struct {
	TestType string
	Result   ValidatesResult
	Details  string
}

// Dependency is a directed edge: Blocked waits on Blocker.
type Dependency struct {
	Blocked   ElementID
	Blocker   ElementID
	Type      DependencyType
	CreatedAt time.Time
	CreatedBy EntityID
	Metadata  map[string]interface{}

	Gate      *Gate          // populated iff Type == DepAwaits
	Validates *ValidatesInfo // populated iff Type == DepValidates
}

// Normalize canonicalizes a relates-to edge by ensuring Blocked holds
// the lexicographically smaller id (relates-to is symmetric). Other
// types are returned unchanged.
func (d Dependency) Normalize() Dependency {
	if d.Type == DepRelatesTo && d.Blocker < d.Blocked {
		d.Blocked, d.Blocker = d.Blocker, d.Blocked
	}
	return d
}

// gateMetaKey and validatesMetaKey are the reserved Metadata keys an
// awaits/validates edge's typed payload round-trips through when a
// Dependency is persisted and reloaded; the typed Gate/Validates fields
// are a convenience view over that same metadata, the same pattern
// Element.ExternalSync uses for "_externalSync".
const (
	gateMetaKey      = "_gate"
	validatesMetaKey = "_validates"
)

// EncodeMetadata folds a populated Gate or Validates field into
// Metadata so a storage layer that only persists Metadata (plus the
// Blocked/Blocker/Type/CreatedAt/CreatedBy columns) round-trips them.
// Call before writing the dependency to storage.
func (d *Dependency) EncodeMetadata() {
	if d.Gate != nil {
		if d.Metadata == nil {
			d.Metadata = make(map[string]interface{})
		}
		d.Metadata[gateMetaKey] = d.Gate
	}
	if d.Validates != nil {
		if d.Metadata == nil {
			d.Metadata = make(map[string]interface{})
		}
		d.Metadata[validatesMetaKey] = d.Validates
	}
}

// DecodeMetadata populates Gate/Validates from Metadata, the inverse of
// EncodeMetadata. Call after scanning a dependency back from storage,
// where Gate/Validates round-tripped through Metadata as plain maps.
func (d *Dependency) DecodeMetadata() error {
	if d.Metadata == nil {
		return nil
	}
	if raw, ok := d.Metadata[gateMetaKey]; ok {
		g, err := decodeVia[Gate](raw)
		if err != nil {
			return err
		}
		d.Gate = g
	}
	if raw, ok := d.Metadata[validatesMetaKey]; ok {
		v, err := decodeVia[ValidatesInfo](raw)
		if err != nil {
			return err
		}
		d.Validates = v
	}
	return nil
}

// decodeVia decodes raw (either an already-typed *T from an in-process
// Dependency, or a map[string]interface{} scanned from storage) into *T
// via a JSON round trip.
func decodeVia[T any](raw interface{}) (*T, error) {
	if v, ok := raw.(*T); ok {
		return v, nil
	}
	b, err := json.Marshal(raw)
	if err != nil {
		return nil, err
	}
	var v T
	if err := json.Unmarshal(b, &v); err != nil {
		return nil, err
	}
	return &v, nil
}

// Key identifies a dependency by the triple the engine keys edges on.
type DependencyKey struct {
	Blocked ElementID
	Blocker ElementID
	Type    DependencyType
}

func (d Dependency) Key() DependencyKey {
	return DependencyKey{Blocked: d.Blocked, Blocker: d.Blocker, Type: d.Type}
}
