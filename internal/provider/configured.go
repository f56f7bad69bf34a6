package provider

import (
	"sync"

	"github.com/stoneforge-ai/stoneforge/internal/core"
)

// Resolver is what the sync engine needs from a registry: name lookup
// and enumeration. Registry satisfies it directly; ConfiguredRegistry
// satisfies it by instantiating providers from configuration on first
// use.
type Resolver interface {
	Get(name string) (Provider, error)
	All() []Provider
}

var (
	_ Resolver = (*Registry)(nil)
	_ Resolver = (*ConfiguredRegistry)(nil)
)

// Record is a provider's configuration record: what is needed to
// instantiate a connection to one external service.
type Record struct {
	Provider       string
	Token          string
	APIBaseURL     string
	DefaultProject string
}

// Factory builds a live Provider from its configuration record.
type Factory func(rec Record) (Provider, error)

// ConfiguredRegistry is the registry variant parameterized by provider
// records: configured providers are substituted for their
// placeholders at request time, so a provider whose credentials are
// present in configuration but never used is never dialed.
type ConfiguredRegistry struct {
	mu        sync.Mutex
	factories map[string]Factory
	records   map[string]Record
	built     map[string]Provider
}

// NewConfiguredRegistry returns an empty configured registry.
func NewConfiguredRegistry() *ConfiguredRegistry {
	return &ConfiguredRegistry{
		factories: make(map[string]Factory),
		records:   make(map[string]Record),
		built:     make(map[string]Provider),
	}
}

// RegisterFactory installs the factory for a provider kind (the value
// of a record's Provider field, e.g. "linear").
func (r *ConfiguredRegistry) RegisterFactory(kind string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[kind] = f
}

// Configure installs (or replaces) the record for the named provider.
// An already-built instance for that name is discarded so the next Get
// observes the new configuration.
func (r *ConfiguredRegistry) Configure(name string, rec Record) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records[name] = rec
	delete(r.built, name)
}

// Get resolves the named provider, building it from its record on first
// use and validating its version contract the way Registry.Register does.
func (r *ConfiguredRegistry) Get(name string) (Provider, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.getLocked(name)
}

func (r *ConfiguredRegistry) getLocked(name string) (Provider, error) {
	if p, ok := r.built[name]; ok {
		return p, nil
	}
	rec, ok := r.records[name]
	if !ok {
		return nil, core.NewError(core.ErrNotFound, "provider %q not configured", name)
	}
	kind := rec.Provider
	if kind == "" {
		kind = name
	}
	f, ok := r.factories[kind]
	if !ok {
		return nil, core.NewError(core.ErrNotFound, "no factory registered for provider kind %q", kind)
	}
	p, err := f(rec)
	if err != nil {
		return nil, err
	}
	if err := checkVersionContract(p); err != nil {
		return nil, err
	}
	r.built[name] = p
	return p, nil
}

// All materializes every configured provider, skipping ones whose
// factory fails (a broken record must not hide the working providers
// from a pull pass; the failure surfaces when that provider is named
// explicitly).
func (r *ConfiguredRegistry) All() []Provider {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Provider, 0, len(r.records))
	for name := range r.records {
		p, err := r.getLocked(name)
		if err != nil {
			continue
		}
		out = append(out, p)
	}
	return out
}
