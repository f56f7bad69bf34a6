package core

import (
	"encoding/json"
	"time"
)

// SyncDirection is the closed sync-direction taxonomy for a linked element.
type SyncDirection string

const (
	DirectionPush          SyncDirection = "push"
	DirectionPull          SyncDirection = "pull"
	DirectionBidirectional SyncDirection = "bidirectional"
)

// AdapterType is the closed set of kinds a provider adapter can serve.
type AdapterType string

const (
	AdapterTask     AdapterType = "task"
	AdapterDocument AdapterType = "document"
	AdapterMessage  AdapterType = "message"
)

// ExternalSyncState pins an element's link to an external resource plus
// the last-seen hashes and timestamps used for change detection.
// It lives in an element's Metadata under the reserved key "_externalSync".
type ExternalSyncState struct {
	Provider       string
	Project        string
	ExternalID     string
	URL            string
	LastPushedAt   *time.Time
	LastPulledAt   *time.Time
	LastPushedHash string
	LastPulledHash string
	Direction      SyncDirection
	AdapterType    AdapterType
}

// ConflictStrategy is the closed set of bidirectional-merge policies.
type ConflictStrategy string

const (
	LastWriteWins ConflictStrategy = "LAST_WRITE_WINS"
	LocalWins     ConflictStrategy = "LOCAL_WINS"
	RemoteWins    ConflictStrategy = "REMOTE_WINS"
	Manual        ConflictStrategy = "MANUAL"
)

// externalSyncStateFromMap decodes an ExternalSyncState that has round-
// tripped through JSON as a plain map (the shape a store scan produces),
// via a JSON marshal/unmarshal round trip rather than hand-written field
// extraction so new ExternalSyncState fields never need a second
// decoder kept in sync.
func externalSyncStateFromMap(m map[string]interface{}) (*ExternalSyncState, error) {
	raw, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	var s ExternalSyncState
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// SyncConflictTag is the tag applied to a local element under MANUAL
// conflict resolution; subsequent sync passes skip tagged elements
// until the caller clears it.
const SyncConflictTag = "sync-conflict"

// ExternalTask is the normalized external representation of a task, as
// produced or consumed by a task adapter.
type ExternalTask struct {
	ExternalID string
	URL        string
	Provider   string
	Project    string

	Title     string
	Body      string
	State     string // "open" | "closed"
	Labels    []string
	Assignees []string
	Priority  *int // 1..5 normalized, nil if provider has no concept

	CreatedAt time.Time
	UpdatedAt time.Time
	ClosedAt  *time.Time

	// Raw is the opaque provider payload retained for round-tripping
	// unknown fields.
	Raw map[string]interface{}
}

// ExternalDocument is the normalized external representation of a
// document, produced or consumed by a document adapter, analogous to
// ExternalTask.
type ExternalDocument struct {
	ExternalID string
	URL        string
	Provider   string
	Project    string

	Title    string
	Content  string
	Category string

	CreatedAt time.Time
	UpdatedAt time.Time

	Raw map[string]interface{}
}

// SyncError is the error shape a provider adapter or the sync engine
// produces for a failed operation.
type SyncError struct {
	Provider   string
	Project    string
	ElementID  ElementID
	ExternalID string
	Message    string
	Code       string
	Retryable  bool
}

func (e *SyncError) Error() string {
	return e.Message
}

// NewSyncError builds a SyncError for the given provider/project.
func NewSyncError(provider, project, message string, retryable bool) *SyncError {
	return &SyncError{Provider: provider, Project: project, Message: message, Retryable: retryable}
}

// ConflictRecord captures one bidirectional-merge conflict the sync
// engine resolved or deferred.
type ConflictRecord struct {
	ElementID  ElementID
	Provider   string
	ExternalID string
	Strategy   ConflictStrategy
	Winner     string // "local" | "remote" | "none" (MANUAL deferral)
}

// ExternalSyncResult is what every push/pull/sync call returns.
// Partial failure is expressed by Success=true with a non-empty Errors;
// only an unrecoverable orchestrator failure sets Success=false.
type ExternalSyncResult struct {
	Success     bool
	Provider    string
	Project     string
	AdapterType AdapterType
	Pushed      int
	Pulled      int
	Skipped     int
	Conflicts   []ConflictRecord
	Errors      []*SyncError
}

// ExternalMessage is the normalized external representation of a
// message, produced or consumed by a message adapter.
type ExternalMessage struct {
	ExternalID string
	URL        string
	Provider   string
	Project    string

	ChannelExternalID string
	SenderExternalID  string
	Body              string

	CreatedAt time.Time

	Raw map[string]interface{}
}
