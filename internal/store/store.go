// Package store defines the Element Store interface: CRUD with
// optimistic concurrency, an append-only event log, soft-delete, dirty
// tracking for incremental sync, and versioned documents.
package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/stoneforge-ai/stoneforge/internal/core"
)

// ErrDBNotInitialized is returned when a database-backed feature is used
// before the backing database has been opened.
var ErrDBNotInitialized = errors.New("database not initialized")

// UpdateOptions carries the optional OCC check and attribution for a
// mutating call.
type UpdateOptions struct {
	ExpectedUpdatedAt *time.Time
	Actor             core.EntityID
}

// TaskFilter selects tasks for List/Ready/Blocked/Backlog queries.
type TaskFilter struct {
	Status            []core.Status
	TaskType          []core.TaskType
	Assignee          *core.EntityID
	Tags              []string
	IncludeTombstones bool
	Limit             int
}

// BlockedTask pairs a blocked task with its first blocker and a
// human-readable reason.
type BlockedTask struct {
	Task        *core.Task
	BlockerID   core.ElementID
	BlockerType core.DependencyType
	Reason      string
}

// Transaction exposes the subset of Storage operations that execute
// atomically within a single database transaction, used for compound
// workflows such as creating a task together with its initial
// dependencies.
type Transaction interface {
	CreateTask(ctx context.Context, task *core.Task, actor core.EntityID) error
	UpdateTask(ctx context.Context, id core.TaskID, patch map[string]interface{}, opts UpdateOptions) error
	DeleteTask(ctx context.Context, id core.TaskID, reason string, actor core.EntityID) error
	GetTask(ctx context.Context, id core.TaskID) (*core.Task, error)

	AddDependency(ctx context.Context, dep core.Dependency) error
	RemoveDependency(ctx context.Context, key core.DependencyKey, actor core.EntityID) error

	SetConfig(ctx context.Context, key, value string) error
	GetConfig(ctx context.Context, key string) (string, error)
}

// Storage is the Element Store backend contract. Implementations must
// serialize writes to a given id (single-writer-per-element) and
// support OCC via UpdateOptions.ExpectedUpdatedAt.
type Storage interface {
	// Tasks
	CreateTask(ctx context.Context, task *core.Task, actor core.EntityID) error
	GetTask(ctx context.Context, id core.TaskID) (*core.Task, error)
	UpdateTask(ctx context.Context, id core.TaskID, patch map[string]interface{}, opts UpdateOptions) error
	CloseTask(ctx context.Context, id core.TaskID, reason string, actor core.EntityID) error
	ReopenTask(ctx context.Context, id core.TaskID, actor core.EntityID) error
	DeleteTask(ctx context.Context, id core.TaskID, reason string, actor core.EntityID) error
	ListTasks(ctx context.Context, filter TaskFilter) ([]*core.Task, error)

	// Documents
	CreateDocument(ctx context.Context, doc *core.Document, actor core.EntityID) error
	GetDocument(ctx context.Context, id core.DocumentID) (*core.Document, error)
	UpdateDocumentContent(ctx context.Context, id core.DocumentID, content string, actor core.EntityID) (*core.Document, error)
	DeleteDocument(ctx context.Context, id core.DocumentID, actor core.EntityID) error

	// Channels & messages
	CreateChannel(ctx context.Context, ch *core.Channel, actor core.EntityID) error
	GetChannel(ctx context.Context, id core.ChannelID) (*core.Channel, error)
	CreateMessage(ctx context.Context, msg *core.Message, actor core.EntityID) error
	GetMessage(ctx context.Context, id core.MessageID) (*core.Message, error)

	// Entities (actors referenced by createdBy, assignee, members)
	CreateEntity(ctx context.Context, e *core.Entity, actor core.EntityID) error
	GetEntity(ctx context.Context, id core.EntityID) (*core.Entity, error)

	// Workflows (lifecycle state machine)
	CreateWorkflow(ctx context.Context, w *core.Workflow, actor core.EntityID) error
	GetWorkflow(ctx context.Context, id core.WorkflowID) (*core.Workflow, error)
	UpdateWorkflowStatus(ctx context.Context, id core.WorkflowID, next core.WorkflowStatus, actor core.EntityID) error

	// Playbooks & plans (draft plans exclude their tasks from readiness)
	CreatePlaybook(ctx context.Context, p *core.Playbook, actor core.EntityID) error
	GetPlaybook(ctx context.Context, id core.PlaybookID) (*core.Playbook, error)
	CreatePlan(ctx context.Context, p *core.Plan, actor core.EntityID) error
	GetPlan(ctx context.Context, id core.PlanID) (*core.Plan, error)
	ListPlans(ctx context.Context) ([]*core.Plan, error)
	CommitPlan(ctx context.Context, id core.PlanID, actor core.EntityID) error

	// Generic element access, spanning every kind.
	GetElement(ctx context.Context, id core.ElementID) (interface{}, error)
	ListElementIDs(ctx context.Context) ([]core.ElementID, error)

	// Dependencies
	AddDependency(ctx context.Context, dep core.Dependency) error
	RemoveDependency(ctx context.Context, key core.DependencyKey, actor core.EntityID) error
	Outgoing(ctx context.Context, id core.ElementID) ([]core.Dependency, error)
	Incoming(ctx context.Context, id core.ElementID) ([]core.Dependency, error)
	ListDependencies(ctx context.Context, depType core.DependencyType) ([]core.Dependency, error)
	AllDependencies(ctx context.Context) ([]core.Dependency, error)
	AllBlockingEdges(ctx context.Context) ([]core.Dependency, error)

	// Readiness
	GetReadyTasks(ctx context.Context, filter TaskFilter) ([]*core.Task, error)
	GetBlockedTasks(ctx context.Context, filter TaskFilter) ([]BlockedTask, error)

	// Events
	GetEvents(ctx context.Context, id core.ElementID, limit int) ([]*core.Event, error)

	// Dirty tracking — independent of sync-state hashes.
	GetDirtyElements(ctx context.Context) ([]core.ElementID, error)
	ClearDirtyElements(ctx context.Context, ids []core.ElementID) error

	// Export hash tracking, for timestamp-only dedup during incremental
	// export.
	GetExportHash(ctx context.Context, id core.ElementID) (string, error)
	SetExportHash(ctx context.Context, id core.ElementID, hash string) error
	ClearAllExportHashes(ctx context.Context) error

	// Config
	SetConfig(ctx context.Context, key, value string) error
	GetConfig(ctx context.Context, key string) (string, error)
	GetAllConfig(ctx context.Context) (map[string]string, error)
	DeleteConfig(ctx context.Context, key string) error

	// Metadata (internal bookkeeping, e.g. import hashes)
	SetMetadata(ctx context.Context, key, value string) error
	GetMetadata(ctx context.Context, key string) (string, error)

	// Transactions
	RunInTransaction(ctx context.Context, fn func(tx Transaction) error) error

	// Lifecycle
	Close() error
	Path() string
	UnderlyingDB() *sql.DB
}

// Config holds storage backend configuration.
type Config struct {
	Backend string // "sqlite" (only backend implemented in this core)
	Path    string
}
