package provider

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stoneforge-ai/stoneforge/internal/core"
)

func TestConfiguredRegistryBuildsLazilyAndCaches(t *testing.T) {
	built := 0
	r := NewConfiguredRegistry()
	r.RegisterFactory("fake", func(rec Record) (Provider, error) {
		built++
		return &fakeProvider{name: rec.Provider}, nil
	})
	r.Configure("work", Record{Provider: "fake", Token: "tok"})

	assert.Equal(t, 0, built, "nothing is instantiated until requested")

	p, err := r.Get("work")
	require.NoError(t, err)
	assert.Equal(t, "fake", p.Name())
	assert.Equal(t, 1, built)

	// A second Get serves the cached instance.
	_, err = r.Get("work")
	require.NoError(t, err)
	assert.Equal(t, 1, built)
}

func TestConfiguredRegistryReconfigureDiscardsInstance(t *testing.T) {
	built := 0
	r := NewConfiguredRegistry()
	r.RegisterFactory("fake", func(rec Record) (Provider, error) {
		built++
		return &fakeProvider{name: rec.Provider}, nil
	})
	r.Configure("work", Record{Provider: "fake"})
	_, err := r.Get("work")
	require.NoError(t, err)

	r.Configure("work", Record{Provider: "fake", Token: "rotated"})
	_, err = r.Get("work")
	require.NoError(t, err)
	assert.Equal(t, 2, built, "reconfiguration must rebuild the provider")
}

func TestConfiguredRegistryUnknownNameAndKind(t *testing.T) {
	r := NewConfiguredRegistry()
	_, err := r.Get("nope")
	assert.True(t, core.Is(err, core.ErrNotFound))

	r.Configure("work", Record{Provider: "unregistered-kind"})
	_, err = r.Get("work")
	assert.True(t, core.Is(err, core.ErrNotFound))
}

func TestConfiguredRegistryValidatesVersionContract(t *testing.T) {
	r := NewConfiguredRegistry()
	r.RegisterFactory("fake", func(rec Record) (Provider, error) {
		return &fakeProvider{name: "future", minCore: "v99.0.0"}, nil
	})
	r.Configure("future", Record{Provider: "fake"})
	_, err := r.Get("future")
	assert.True(t, core.Is(err, core.ErrInvalidInput), "an incompatible provider must be rejected at instantiation")
}

func TestConfiguredRegistryAllSkipsBrokenRecords(t *testing.T) {
	r := NewConfiguredRegistry()
	r.RegisterFactory("fake", func(rec Record) (Provider, error) {
		return &fakeProvider{name: rec.Provider}, nil
	})
	r.Configure("good", Record{Provider: "fake"})
	r.Configure("broken", Record{Provider: "no-such-kind"})

	all := r.All()
	require.Len(t, all, 1)
	assert.Equal(t, "fake", all[0].Name())
}
