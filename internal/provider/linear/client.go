// Package linear adapts the Linear GraphQL API to the Stoneforge
// provider/adapter contract: GraphQL transport with pagination and
// retry, emitting normalized core.ExternalTask records, wrapped with
// rate limiting and circuit breaking.
package linear

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/stoneforge-ai/stoneforge/internal/core"
)

const (
	DefaultAPIEndpoint = "https://api.linear.app/graphql"
	DefaultTimeout     = 30 * time.Second
	MaxRetries         = 3
	RetryDelay         = 500 * time.Millisecond
	MaxPageSize        = 100
)

// issuesQuery is the GraphQL query for fetching issues with the fields
// the normalized ExternalTask shape needs.
const issuesQuery = `
	query Issues($filter: IssueFilter!, $first: Int!, $after: String) {
		issues(first: $first, after: $after, filter: $filter) {
			nodes {
				id
				identifier
				title
				description
				url
				priority
				state { id name type }
				assignee { id name email displayName }
				labels { nodes { id name } }
				createdAt
				updatedAt
				completedAt
			}
			pageInfo { hasNextPage endCursor }
		}
	}
`

type graphQLRequest struct {
	Query     string                 `json:"query"`
	Variables map[string]interface{} `json:"variables,omitempty"`
}

type graphQLError struct {
	Message string `json:"message"`
}

type issueNode struct {
	ID          string `json:"id"`
	Identifier  string `json:"identifier"`
	Title       string `json:"title"`
	Description string `json:"description"`
	URL         string `json:"url"`
	Priority    int    `json:"priority"`
	State       struct {
		ID   string `json:"id"`
		Name string `json:"name"`
		Type string `json:"type"`
	} `json:"state"`
	Assignee *struct {
		ID          string `json:"id"`
		Name        string `json:"name"`
		Email       string `json:"email"`
		DisplayName string `json:"displayName"`
	} `json:"assignee"`
	Labels struct {
		Nodes []struct {
			ID   string `json:"id"`
			Name string `json:"name"`
		} `json:"nodes"`
	} `json:"labels"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
	CompletedAt *time.Time `json:"completedAt"`
}

type issuesResponse struct {
	Issues struct {
		Nodes    []issueNode `json:"nodes"`
		PageInfo struct {
			HasNextPage bool   `json:"hasNextPage"`
			EndCursor   string `json:"endCursor"`
		} `json:"pageInfo"`
	} `json:"issues"`
}

type issueMutationResponse struct {
	Success bool      `json:"success"`
	Issue   issueNode `json:"issue"`
}

// Client is a Linear GraphQL client wrapped with per-client rate
// limiting and circuit breaking, retrying rate-limited calls with
// exponential backoff.
type Client struct {
	APIKey     string
	TeamID     string
	Endpoint   string
	HTTPClient *http.Client

	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker
}

// NewClient builds a Linear client for the given API key and team,
// pacing requests at 5 per second (burst of 10) and tripping a circuit
// breaker after repeated consecutive failures.
func NewClient(apiKey, teamID string) *Client {
	return &Client{
		APIKey:     apiKey,
		TeamID:     teamID,
		Endpoint:   DefaultAPIEndpoint,
		HTTPClient: &http.Client{Timeout: DefaultTimeout},
		limiter:    rate.NewLimiter(rate.Limit(5), 10),
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "linear",
			MaxRequests: 3,
			Timeout:     30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
		}),
	}
}

// WithEndpoint overrides the GraphQL endpoint (tests, self-hosted proxies).
func (c *Client) WithEndpoint(endpoint string) *Client {
	clone := *c
	clone.Endpoint = endpoint
	return &clone
}

// WithHTTPClient overrides the underlying HTTP client.
func (c *Client) WithHTTPClient(hc *http.Client) *Client {
	clone := *c
	clone.HTTPClient = hc
	return &clone
}

// execute sends a GraphQL request, pacing via the rate limiter, tripping
// the circuit breaker on repeated failure, and retrying with exponential
// backoff on rate-limit responses (429).
func (c *Client) execute(ctx context.Context, req *graphQLRequest) (json.RawMessage, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, core.WrapError(core.ErrConstraint, err, "linear: rate limiter wait")
	}

	raw, err := c.breaker.Execute(func() (interface{}, error) {
		return c.executeOnce(ctx, req)
	})
	if err != nil {
		if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
			return nil, syncError("linear", "", "", "circuit breaker open: "+err.Error(), true)
		}
		return nil, err
	}
	return raw.(json.RawMessage), nil
}

func (c *Client) executeOnce(ctx context.Context, req *graphQLRequest) (json.RawMessage, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("linear: marshal request: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt <= MaxRetries; attempt++ {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.Endpoint, bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("linear: build request: %w", err)
		}
		httpReq.Header.Set("Content-Type", "application/json")
		httpReq.Header.Set("Authorization", c.APIKey)

		resp, err := c.HTTPClient.Do(httpReq)
		if err != nil {
			lastErr = syncError("linear", "", "", fmt.Sprintf("request failed (attempt %d/%d): %v", attempt+1, MaxRetries+1, err), true)
			continue
		}

		respBody, err := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if err != nil {
			lastErr = syncError("linear", "", "", fmt.Sprintf("read response (attempt %d/%d): %v", attempt+1, MaxRetries+1, err), true)
			continue
		}

		if resp.StatusCode == http.StatusTooManyRequests {
			delay := RetryDelay * time.Duration(1<<attempt)
			lastErr = syncError("linear", "", "", fmt.Sprintf("rate limited (attempt %d/%d)", attempt+1, MaxRetries+1), true)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
				continue
			}
		}

		if resp.StatusCode >= 500 {
			lastErr = syncError("linear", "", "", fmt.Sprintf("server error %d", resp.StatusCode), true)
			continue
		}

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return nil, syncError("linear", "", "", fmt.Sprintf("API error: %s (status %d)", string(respBody), resp.StatusCode), false)
		}

		var gqlResp struct {
			Data   json.RawMessage `json:"data"`
			Errors []graphQLError  `json:"errors,omitempty"`
		}
		if err := json.Unmarshal(respBody, &gqlResp); err != nil {
			return nil, fmt.Errorf("linear: parse response: %w (body: %s)", err, string(respBody))
		}
		if len(gqlResp.Errors) > 0 {
			msgs := make([]string, len(gqlResp.Errors))
			for i, e := range gqlResp.Errors {
				msgs[i] = e.Message
			}
			return nil, syncError("linear", "", "", "GraphQL errors: "+strings.Join(msgs, "; "), false)
		}
		return gqlResp.Data, nil
	}

	return nil, fmt.Errorf("linear: max retries exceeded: %w", lastErr)
}

// fetchIssuesSince pages through issues updated since the given time,
// monotone in since, per the adapter contract.
func (c *Client) fetchIssuesSince(ctx context.Context, project string, since time.Time) ([]issueNode, error) {
	var all []issueNode
	var cursor string

	filter := map[string]interface{}{
		"team":      map[string]interface{}{"id": map[string]interface{}{"eq": c.TeamID}},
		"updatedAt": map[string]interface{}{"gte": since.UTC().Format(time.RFC3339)},
	}
	if project != "" {
		filter["project"] = map[string]interface{}{"id": map[string]interface{}{"eq": project}}
	}

	for {
		variables := map[string]interface{}{"filter": filter, "first": MaxPageSize}
		if cursor != "" {
			variables["after"] = cursor
		}
		data, err := c.execute(ctx, &graphQLRequest{Query: issuesQuery, Variables: variables})
		if err != nil {
			return nil, fmt.Errorf("linear: fetch issues since %s: %w", since, err)
		}
		var resp issuesResponse
		if err := json.Unmarshal(data, &resp); err != nil {
			return nil, fmt.Errorf("linear: parse issues response: %w", err)
		}
		all = append(all, resp.Issues.Nodes...)
		if !resp.Issues.PageInfo.HasNextPage {
			break
		}
		cursor = resp.Issues.PageInfo.EndCursor
	}
	return all, nil
}

func (c *Client) fetchIssueByID(ctx context.Context, externalID string) (*issueNode, error) {
	query := `
		query IssueByID($id: String!) {
			issue(id: $id) {
				id identifier title description url priority
				state { id name type }
				assignee { id name email displayName }
				labels { nodes { id name } }
				createdAt updatedAt completedAt
			}
		}
	`
	data, err := c.execute(ctx, &graphQLRequest{Query: query, Variables: map[string]interface{}{"id": externalID}})
	if err != nil {
		return nil, fmt.Errorf("linear: fetch issue %s: %w", externalID, err)
	}
	var resp struct {
		Issue *issueNode `json:"issue"`
	}
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("linear: parse issue response: %w", err)
	}
	return resp.Issue, nil
}

func (c *Client) createIssue(ctx context.Context, project, title, description string, priority int, labelIDs []string) (*issueNode, error) {
	query := `
		mutation CreateIssue($input: IssueCreateInput!) {
			issueCreate(input: $input) {
				success
				issue {
					id identifier title description url priority
					state { id name type }
					createdAt updatedAt completedAt
				}
			}
		}
	`
	input := map[string]interface{}{
		"teamId":      c.TeamID,
		"title":       title,
		"description": description,
	}
	if project != "" {
		input["projectId"] = project
	}
	if priority > 0 {
		input["priority"] = priority
	}
	if len(labelIDs) > 0 {
		input["labelIds"] = labelIDs
	}

	data, err := c.execute(ctx, &graphQLRequest{Query: query, Variables: map[string]interface{}{"input": input}})
	if err != nil {
		return nil, fmt.Errorf("linear: create issue: %w", err)
	}
	var resp struct {
		IssueCreate issueMutationResponse `json:"issueCreate"`
	}
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("linear: parse create response: %w", err)
	}
	if !resp.IssueCreate.Success {
		return nil, syncError("linear", project, "", "issue creation reported unsuccessful", false)
	}
	return &resp.IssueCreate.Issue, nil
}

func (c *Client) updateIssue(ctx context.Context, externalID string, updates map[string]interface{}) (*issueNode, error) {
	query := `
		mutation UpdateIssue($id: String!, $input: IssueUpdateInput!) {
			issueUpdate(id: $id, input: $input) {
				success
				issue {
					id identifier title description url priority
					state { id name type }
					createdAt updatedAt completedAt
				}
			}
		}
	`
	data, err := c.execute(ctx, &graphQLRequest{Query: query, Variables: map[string]interface{}{"id": externalID, "input": updates}})
	if err != nil {
		return nil, fmt.Errorf("linear: update issue: %w", err)
	}
	var resp struct {
		IssueUpdate issueMutationResponse `json:"issueUpdate"`
	}
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("linear: parse update response: %w", err)
	}
	if !resp.IssueUpdate.Success {
		return nil, syncError("linear", "", externalID, "issue update reported unsuccessful", false)
	}
	return &resp.IssueUpdate.Issue, nil
}

// syncError builds the sync error shape the engine expects from providers:
// {provider, project, elementId?, externalId?, message, retryable}.
func syncError(provider, project, externalID, message string, retryable bool) *core.SyncError {
	return &core.SyncError{
		Provider:   provider,
		Project:    project,
		ExternalID: externalID,
		Message:    message,
		Retryable:  retryable,
	}
}
