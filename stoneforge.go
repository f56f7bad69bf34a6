// Package stoneforge is the minimal public surface of the sync core: a
// facade over the internal packages, not a reimplementation of them.
// It re-exports the pieces a host process (daemon, CLI, test harness)
// assembles an Element Store and sync engine out of.
package stoneforge

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/stoneforge-ai/stoneforge/internal/config"
	"github.com/stoneforge-ai/stoneforge/internal/core"
	"github.com/stoneforge-ai/stoneforge/internal/graph"
	"github.com/stoneforge-ai/stoneforge/internal/incremental"
	"github.com/stoneforge-ai/stoneforge/internal/logging"
	"github.com/stoneforge-ai/stoneforge/internal/provider"
	"github.com/stoneforge-ai/stoneforge/internal/provider/linear"
	"github.com/stoneforge-ai/stoneforge/internal/readiness"
	"github.com/stoneforge-ai/stoneforge/internal/schedule"
	"github.com/stoneforge-ai/stoneforge/internal/scheduler"
	"github.com/stoneforge-ai/stoneforge/internal/store"
	"github.com/stoneforge-ai/stoneforge/internal/store/memory"
	"github.com/stoneforge-ai/stoneforge/internal/store/sqlite"
	"github.com/stoneforge-ai/stoneforge/internal/syncengine"
)

// Storage is the Element Store contract every backend implements.
type Storage = store.Storage

// Transaction provides atomic multi-operation support within a
// database transaction. Use Storage.RunInTransaction to obtain one.
type Transaction = store.Transaction

// NewSQLiteStorage opens (creating if necessary) a SQLite-backed store
// at path. Pass ":memory:" for a private in-process database.
func NewSQLiteStorage(ctx context.Context, path string) (Storage, error) {
	return sqlite.New(ctx, path)
}

// NewMemoryStorage builds an in-process Storage with no backing file,
// useful for tests and short-lived tooling that never persists.
func NewMemoryStorage() Storage {
	return memory.New()
}

// Core types from internal/core.
type (
	Element            = core.Element
	ElementID          = core.ElementID
	ElementType        = core.ElementType
	Task               = core.Task
	TaskID             = core.TaskID
	Status             = core.Status
	TaskType           = core.TaskType
	Document           = core.Document
	DocumentID         = core.DocumentID
	Channel            = core.Channel
	ChannelID          = core.ChannelID
	Message            = core.Message
	MessageID          = core.MessageID
	Entity             = core.Entity
	EntityID           = core.EntityID
	Workflow           = core.Workflow
	WorkflowID         = core.WorkflowID
	WorkflowStatus     = core.WorkflowStatus
	Playbook           = core.Playbook
	PlaybookID         = core.PlaybookID
	Plan               = core.Plan
	PlanID             = core.PlanID
	PlanStatus         = core.PlanStatus
	Dependency         = core.Dependency
	DependencyType     = core.DependencyType
	DependencyFamily   = core.DependencyFamily
	Gate               = core.Gate
	Event              = core.Event
	EventKind          = core.EventKind
	Error              = core.Error
	ErrorKind          = core.ErrorKind
	SyncDirection      = core.SyncDirection
	AdapterType        = core.AdapterType
	ConflictStrategy   = core.ConflictStrategy
	ExternalSyncState  = core.ExternalSyncState
	ExternalTask       = core.ExternalTask
	ExternalDocument   = core.ExternalDocument
	ExternalMessage    = core.ExternalMessage
	ExternalSyncResult = core.ExternalSyncResult
	ConflictRecord     = core.ConflictRecord
	SyncError          = core.SyncError
)

// Status constants.
const (
	StatusBacklog    = core.StatusBacklog
	StatusOpen       = core.StatusOpen
	StatusInProgress = core.StatusInProgress
	StatusClosed     = core.StatusClosed
)

// Dependency type constants.
const (
	DepBlocks      = core.DepBlocks
	DepAwaits      = core.DepAwaits
	DepRelatesTo   = core.DepRelatesTo
	DepParentChild = core.DepParentChild
	DepDuplicates  = core.DepDuplicates
	DepRepliesTo   = core.DepRepliesTo
)

// Sync direction constants.
const (
	DirectionPush          = core.DirectionPush
	DirectionPull          = core.DirectionPull
	DirectionBidirectional = core.DirectionBidirectional
)

// Conflict strategy constants.
const (
	LastWriteWins = core.LastWriteWins
	LocalWins     = core.LocalWins
	RemoteWins    = core.RemoteWins
	Manual        = core.Manual
)

// Error kind constants.
const (
	ErrNotFound      = core.ErrNotFound
	ErrAlreadyExists = core.ErrAlreadyExists
	ErrConflict      = core.ErrConflict
	ErrCycleDetected = core.ErrCycleDetected
	ErrImmutable     = core.ErrImmutable
)

// Is reports whether err is a *Error of the given kind.
func Is(err error, kind ErrorKind) bool { return core.Is(err, kind) }

// Config is the loaded configuration surface: provider records and
// sync settings, read via internal/config's viper precedence walk.
type Config = config.Config

// LoadConfig reads configuration the way internal/config.Load does:
// project dir -> user config dir -> home dir, STONEFORGE_-prefixed
// environment override, sane defaults when nothing is found.
func LoadConfig() (*Config, error) {
	return config.Load()
}

// Registry holds the registered sync providers.
type Registry = provider.Registry

// NewRegistry builds an empty provider registry.
func NewRegistry() *Registry { return provider.NewRegistry() }

// NewConfiguredRegistry builds the configuration-backed registry
// variant: providers are instantiated lazily from cfg's sync
// settings, with the built-in Linear factory pre-registered. Additional
// factories can be installed on the returned registry before first use.
func NewConfiguredRegistry(cfg *Config) *provider.ConfiguredRegistry {
	r := provider.NewConfiguredRegistry()
	r.RegisterFactory("linear", linear.Factory)
	for name, pc := range cfg.Sync.Providers {
		r.Configure(name, provider.Record{
			Provider:       pc.Provider,
			Token:          pc.Token,
			APIBaseURL:     pc.APIBaseURL,
			DefaultProject: pc.DefaultProject,
		})
	}
	return r
}

// SyncEngine orchestrates push/pull/sync across registered providers.
type SyncEngine = syncengine.Engine

// SyncOptions parameterizes a push/pull/sync call.
type SyncOptions = syncengine.Options

// NewSyncEngine builds a sync engine over st and reg (a *Registry or a
// *provider.ConfiguredRegistry). A nil logger uses zap's no-op logger.
func NewSyncEngine(st Storage, reg provider.Resolver, logger *zap.Logger) *SyncEngine {
	return syncengine.New(st, reg, logger)
}

// BlockedCache is the version-counted blocked-status cache backing
// readiness derivation.
type BlockedCache = graph.BlockedCache

// NewBlockedCache builds a BlockedCache over src.
func NewBlockedCache(src graph.EdgeSource) *BlockedCache { return graph.New(src) }

// ReadyTasks returns the ready task set, ordered per the core's
// deterministic tie-break rule.
func ReadyTasks(ctx context.Context, st Storage, filter store.TaskFilter) ([]*Task, error) {
	return readiness.Ready(ctx, st, filter)
}

// Scheduler drives periodic sync on a configured interval.
type Scheduler = scheduler.Scheduler

// NewScheduler builds a Scheduler. A nil logger uses zap's no-op logger.
func NewScheduler(logger *zap.Logger) *Scheduler { return scheduler.New(logger) }

// LoggingConfig controls the structured logger built by NewLogger.
type LoggingConfig = logging.Config

// NewLogger builds the structured zap logger a host wires into
// NewSyncEngine and NewScheduler, with an optional rotating file sink.
func NewLogger(cfg LoggingConfig) (*zap.Logger, error) { return logging.New(cfg) }

// ParseScheduledFor resolves a natural-language expression ("tomorrow
// at 5pm", "in 3 days") relative to base into a Task.ScheduledFor
// value, or nil if text is empty.
func ParseScheduledFor(text string, base time.Time) (*time.Time, error) {
	return schedule.ParseScheduledFor(text, base)
}

// ParseWaitUntil resolves a natural-language expression into a timer
// Gate's WaitUntil value, or nil if text is empty.
func ParseWaitUntil(text string, base time.Time) (*time.Time, error) {
	return schedule.ParseWaitUntil(text, base)
}

// EverySpec renders a poll interval as the cron "@every" spec
// Scheduler.Start expects.
func EverySpec(interval time.Duration) string { return scheduler.EverySpec(interval) }

// ExportJSONL and ImportJSONL drive the incremental JSONL sync
// format: dirty-tracked export and identity-reconciling import.
func ExportJSONL(ctx context.Context, st Storage, dir string, opts incremental.ExportOptions) (*incremental.ExportResult, error) {
	return incremental.Export(ctx, st, dir, opts)
}

func ImportJSONL(ctx context.Context, st Storage, dir string, opts incremental.ImportOptions) (*incremental.ImportResult, error) {
	return incremental.Import(ctx, st, dir, opts)
}
