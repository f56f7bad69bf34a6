package linear

import (
	"context"
	"time"

	"github.com/stoneforge-ai/stoneforge/internal/core"
	"github.com/stoneforge-ai/stoneforge/internal/provider"
)

// APIVersion is this adapter's own semver, reported through
// Provider.APIVersion; the registry does not check it.
const APIVersion = "v1.0.0"

// MinCoreVersion is the minimum Stoneforge core version this adapter
// requires.
const MinCoreVersion = "v1.0.0"

// Provider is the Linear provider façade: a connection to one
// Linear workspace team, offering a task adapter only (Linear has no
// document or message concept in this integration).
type Provider struct {
	client *Client
}

// NewProvider builds a Linear provider for the given API key and team.
func NewProvider(apiKey, teamID string) *Provider {
	return &Provider{client: NewClient(apiKey, teamID)}
}

// Factory instantiates a Linear provider from its configuration record, for
// registration with a provider.ConfiguredRegistry: Token is the API
// key, DefaultProject the team id, APIBaseURL an optional endpoint
// override (self-hosted proxies, tests).
func Factory(rec provider.Record) (provider.Provider, error) {
	if rec.Token == "" {
		return nil, core.NewError(core.ErrMissingRequiredField, "linear provider requires a token")
	}
	c := NewClient(rec.Token, rec.DefaultProject)
	if rec.APIBaseURL != "" {
		c = c.WithEndpoint(rec.APIBaseURL)
	}
	return &Provider{client: c}, nil
}

func (p *Provider) Name() string { return "linear" }

func (p *Provider) APIVersion() string { return APIVersion }

func (p *Provider) MinCoreVersion() string { return MinCoreVersion }

func (p *Provider) SupportedAdapters() []core.AdapterType {
	return []core.AdapterType{core.AdapterTask}
}

func (p *Provider) TaskAdapter() (provider.TaskAdapter, bool) {
	return &taskAdapter{client: p.client}, true
}

func (p *Provider) DocumentAdapter() (provider.DocumentAdapter, bool) { return nil, false }

func (p *Provider) MessageAdapter() (provider.MessageAdapter, bool) { return nil, false }

// taskAdapter implements provider.TaskAdapter against a Linear Client.
type taskAdapter struct {
	client *Client
}

func (a *taskAdapter) GetIssue(ctx context.Context, project, externalID string) (*core.ExternalTask, error) {
	n, err := a.client.fetchIssueByID(ctx, externalID)
	if err != nil {
		return nil, err
	}
	if n == nil {
		return nil, nil
	}
	t := toExternalTask(*n, project)
	return &t, nil
}

func (a *taskAdapter) ListIssuesSince(ctx context.Context, project string, since time.Time) ([]core.ExternalTask, error) {
	nodes, err := a.client.fetchIssuesSince(ctx, project, since)
	if err != nil {
		return nil, err
	}
	out := make([]core.ExternalTask, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, toExternalTask(n, project))
	}
	return out, nil
}

func (a *taskAdapter) CreateIssue(ctx context.Context, project string, input core.ExternalTask) (*core.ExternalTask, error) {
	priority := 0
	if input.Priority != nil {
		priority = priorityToLinear[*input.Priority]
	}
	n, err := a.client.createIssue(ctx, project, input.Title, input.Body, priority, nil)
	if err != nil {
		return nil, err
	}
	t := toExternalTask(*n, project)
	return &t, nil
}

func (a *taskAdapter) UpdateIssue(ctx context.Context, project, externalID string, partial map[string]interface{}) (*core.ExternalTask, error) {
	n, err := a.client.updateIssue(ctx, externalID, partial)
	if err != nil {
		return nil, err
	}
	t := toExternalTask(*n, project)
	return &t, nil
}

func (a *taskAdapter) FieldMapConfig() provider.TaskFieldMapConfig {
	return taskFieldMapConfig()
}
