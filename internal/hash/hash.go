// Package hash computes the deterministic content hash used for sync
// change-detection: identical logical content must always produce
// the identical hash, regardless of field ordering or provider.
package hash

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"

	"github.com/stoneforge-ai/stoneforge/internal/core"
)

// Projection is the normalized shape a task adapter would serialize,
// hashed the same way on both the local and remote side so that a
// conforming implementation always produces identical hashes for
// identical logical content.
type Projection struct {
	Title     string
	Body      string
	State     string
	Labels    []string
	Assignees []string
	Priority  *int
}

// Sum returns the SHA-256 hex digest of the normalized projection. Labels
// and assignees are sorted so that set-equal slices in different orders
// hash identically.
func Sum(p Projection) string {
	labels := append([]string(nil), p.Labels...)
	sort.Strings(labels)
	assignees := append([]string(nil), p.Assignees...)
	sort.Strings(assignees)

	var sb strings.Builder
	sb.WriteString(strings.TrimSpace(p.Title))
	sb.WriteByte(0)
	sb.WriteString(normalizeUTF8(p.Body))
	sb.WriteByte(0)
	sb.WriteString(p.State)
	sb.WriteByte(0)
	sb.WriteString(strings.Join(labels, ","))
	sb.WriteByte(0)
	sb.WriteString(strings.Join(assignees, ","))
	sb.WriteByte(0)
	if p.Priority != nil {
		fmt.Fprintf(&sb, "%d", *p.Priority)
	}

	sum := sha256.Sum256([]byte(sb.String()))
	return hex.EncodeToString(sum[:])
}

// normalizeUTF8 canonicalizes line endings so semantically identical
// bodies from different providers hash identically.
func normalizeUTF8(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	return strings.ReplaceAll(s, "\r", "\n")
}

// OfTask projects a local task into the same shape a task adapter would
// push, for local-changed detection.
func OfTask(t *core.Task) Projection {
	state := "open"
	if t.Status == core.StatusClosed {
		state = "closed"
	}
	var assignees []string
	if t.Assignee != nil {
		assignees = []string{string(*t.Assignee)}
	}
	priority := normalizedPriority(t.Priority)
	return Projection{
		Title:     t.Title,
		Body:      "", // body lives in DescriptionRef's document; callers that load it pass Body separately via OfTaskWithBody
		State:     state,
		Labels:    t.Tags,
		Assignees: assignees,
		Priority:  &priority,
	}
}

// OfTaskWithBody is OfTask but with an explicitly supplied body, for
// callers that have already resolved the task's DescriptionRef document.
func OfTaskWithBody(t *core.Task, body string) Projection {
	p := OfTask(t)
	p.Body = body
	return p
}

// OfExternalTask projects an adapter-normalized ExternalTask into the same
// shape, for remote-changed detection.
func OfExternalTask(et *core.ExternalTask) Projection {
	return Projection{
		Title:     et.Title,
		Body:      et.Body,
		State:     et.State,
		Labels:    et.Labels,
		Assignees: et.Assignees,
		Priority:  et.Priority,
	}
}

// normalizedPriority maps the local 1..5 (1 highest) scale onto itself;
// kept as a named step so a future provider-specific remap has one place
// to plug into (see provider.TransformPriorityRemap).
func normalizedPriority(p int) int { return p }
