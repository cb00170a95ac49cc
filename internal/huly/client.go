// Package huly provides the typed REST client for the issue tracker.
//
// The tracker is the authoritative system of record: its "PROJ-NNN"
// identifiers are the canonical issue identity everywhere else.
package huly

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/syncforge/trisync/internal/httpx"
)

// Default page bound when no incremental cursor is available.
const defaultPageLimit = 500

// Client talks to the tracker REST API through the shared HTTP pool.
type Client struct {
	baseURL string
	token   string
	pool    *httpx.Pool
}

// NewClient creates a tracker client.
func NewClient(baseURL, token string, pool *httpx.Pool) *Client {
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		token:   token,
		pool:    pool,
	}
}

func (c *Client) headers() http.Header {
	h := http.Header{}
	h.Set("Authorization", "Bearer "+c.token)
	return h
}

// ListProjects fetches every non-archived project.
func (c *Client) ListProjects(ctx context.Context) ([]Project, error) {
	var result projectList
	err := c.pool.DoJSON(ctx, httpx.Request{
		Method: http.MethodGet,
		URL:    c.baseURL + "/api/projects",
		Header: c.headers(),
	}, &result)
	if err != nil {
		return nil, fmt.Errorf("huly: list projects: %w", err)
	}

	out := result.Projects[:0]
	for _, p := range result.Projects {
		if !p.Archived {
			out = append(out, p)
		}
	}
	return out, nil
}

// ListIssues fetches a project's issues. A non-zero since enables
// incremental fetch; otherwise a bounded full page is returned.
func (c *Client) ListIssues(ctx context.Context, project string, since time.Time) ([]Issue, error) {
	params := url.Values{}
	if !since.IsZero() {
		params.Set("modifiedAfter", since.UTC().Format(time.RFC3339))
	} else {
		params.Set("limit", fmt.Sprint(defaultPageLimit))
	}

	var result issueList
	err := c.pool.DoJSON(ctx, httpx.Request{
		Method: http.MethodGet,
		URL: fmt.Sprintf("%s/api/projects/%s/issues?%s",
			c.baseURL, url.PathEscape(project), params.Encode()),
		Header: c.headers(),
	}, &result)
	if err != nil {
		return nil, fmt.Errorf("huly: list issues %s: %w", project, err)
	}
	return result.Issues, nil
}

// GetIssue fetches one issue by internal ID.
func (c *Client) GetIssue(ctx context.Context, id string) (*Issue, error) {
	var issue Issue
	err := c.pool.DoJSON(ctx, httpx.Request{
		Method: http.MethodGet,
		URL:    c.baseURL + "/api/issues/" + url.PathEscape(id),
		Header: c.headers(),
	}, &issue)
	if err != nil {
		return nil, fmt.Errorf("huly: get issue %s: %w", id, err)
	}
	return &issue, nil
}

// UpdateIssueStatus sets the status label on an issue.
func (c *Client) UpdateIssueStatus(ctx context.Context, id, status string) error {
	err := c.pool.DoJSON(ctx, httpx.Request{
		Method: http.MethodPatch,
		URL:    c.baseURL + "/api/issues/" + url.PathEscape(id),
		Header: c.headers(),
		Body:   map[string]string{"status": status},
	}, nil)
	if err != nil {
		return fmt.Errorf("huly: update status %s: %w", id, err)
	}
	return nil
}

// UpdateIssueDescription replaces the whole description body
// (last-writer-wins, no field merging).
func (c *Client) UpdateIssueDescription(ctx context.Context, id, text string) error {
	err := c.pool.DoJSON(ctx, httpx.Request{
		Method: http.MethodPatch,
		URL:    c.baseURL + "/api/issues/" + url.PathEscape(id),
		Header: c.headers(),
		Body:   map[string]string{"description": text},
	}, nil)
	if err != nil {
		return fmt.Errorf("huly: update description %s: %w", id, err)
	}
	return nil
}
