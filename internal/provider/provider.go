// Package provider defines the Provider/Adapter contracts of the Sync
// Engine's provider plane: a Provider is a connection facade to
// one external service, identified by a stable machine name, offering a
// per-kind adapter object for whichever of {task, document, message} it
// supports.
package provider

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/mod/semver"

	"github.com/stoneforge-ai/stoneforge/internal/core"
)

// TaskAdapter is the task-kind operation set a provider exposes.
type TaskAdapter interface {
	GetIssue(ctx context.Context, project, externalID string) (*core.ExternalTask, error)
	ListIssuesSince(ctx context.Context, project string, since time.Time) ([]core.ExternalTask, error)
	CreateIssue(ctx context.Context, project string, input core.ExternalTask) (*core.ExternalTask, error)
	UpdateIssue(ctx context.Context, project, externalID string, partial map[string]interface{}) (*core.ExternalTask, error)
	FieldMapConfig() TaskFieldMapConfig
}

// DocumentAdapter is the document-kind operation set, analogous to
// TaskAdapter but over document-shaped external resources (e.g. a wiki
// page, a knowledge-base article).
type DocumentAdapter interface {
	GetDocument(ctx context.Context, project, externalID string) (*core.ExternalDocument, error)
	ListDocumentsSince(ctx context.Context, project string, since time.Time) ([]core.ExternalDocument, error)
	CreateDocument(ctx context.Context, project string, input core.ExternalDocument) (*core.ExternalDocument, error)
	UpdateDocument(ctx context.Context, project, externalID string, partial map[string]interface{}) (*core.ExternalDocument, error)
}

// MessageAdapter is the message-kind operation set: external chat
// services are push-only in practice (no polling for edits), so it
// exposes create but no update/list-since.
type MessageAdapter interface {
	CreateMessage(ctx context.Context, project string, input core.ExternalMessage) (*core.ExternalMessage, error)
}

// Provider is a connection facade to one external service, identified by
// a stable machine name (e.g. "linear", "github").
type Provider interface {
	Name() string

	// APIVersion reports the provider adapter's own semver. The registry
	// does not check it; only MinCoreVersion is compared with CoreVersion.
	APIVersion() string

	// MinCoreVersion is the minimum core semver this provider requires.
	MinCoreVersion() string

	SupportedAdapters() []core.AdapterType

	TaskAdapter() (TaskAdapter, bool)
	DocumentAdapter() (DocumentAdapter, bool)
	MessageAdapter() (MessageAdapter, bool)
}

// CoreVersion is the semver of this module's sync-engine contract,
// checked against each provider's declared MinCoreVersion at
// registration time.
const CoreVersion = "v1.0.0"

// Registry maps provider name to Provider.
type Registry struct {
	providers map[string]Provider
}

// NewRegistry returns an empty provider registry.
func NewRegistry() *Registry {
	return &Registry{providers: make(map[string]Provider)}
}

// Register adds p to the registry after validating its declared
// MinCoreVersion is satisfied by CoreVersion. A provider whose
// minimum required core version exceeds CoreVersion is rejected with a
// VALIDATION error rather than registered and silently mismatched.
func (r *Registry) Register(p Provider) error {
	if p.Name() == "" {
		return core.NewError(core.ErrInvalidInput, "provider name must not be empty")
	}
	if err := checkVersionContract(p); err != nil {
		return err
	}
	r.providers[p.Name()] = p
	return nil
}

// checkVersionContract validates p's declared MinCoreVersion against
// CoreVersion, shared by Registry and ConfiguredRegistry.
func checkVersionContract(p Provider) error {
	min := p.MinCoreVersion()
	if min == "" {
		return nil
	}
	if !semver.IsValid(min) {
		return core.NewError(core.ErrInvalidInput, "provider %s: MinCoreVersion %q is not valid semver", p.Name(), min)
	}
	if semver.Compare(CoreVersion, min) < 0 {
		return core.NewError(core.ErrInvalidInput, "provider %s requires core >= %s, have %s", p.Name(), min, CoreVersion)
	}
	return nil
}

// Get returns the registered provider by name, or NOT_FOUND.
func (r *Registry) Get(name string) (Provider, error) {
	p, ok := r.providers[name]
	if !ok {
		return nil, core.NewError(core.ErrNotFound, "provider %q not registered", name)
	}
	return p, nil
}

// Names returns every registered provider name.
func (r *Registry) Names() []string {
	out := make([]string, 0, len(r.providers))
	for name := range r.providers {
		out = append(out, name)
	}
	return out
}

// All returns every registered provider.
func (r *Registry) All() []Provider {
	out := make([]Provider, 0, len(r.providers))
	for _, p := range r.providers {
		out = append(out, p)
	}
	return out
}

// ErrUnsupportedAdapter builds the error the sync engine surfaces when a
// requested adapter kind isn't among a provider's SupportedAdapters.
func ErrUnsupportedAdapter(providerName string, kind core.AdapterType) error {
	return fmt.Errorf("provider %s does not support %s adapter", providerName, kind)
}
