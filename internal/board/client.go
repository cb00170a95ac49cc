// Package board provides the typed REST client for the kanban board,
// including its SSE task event stream.
//
// Wire contract: every task/project update MUST use PUT. The board platform
// rejects PATCH semantics silently, so the guard here is bit-exact and
// non-negotiable.
package board

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/syncforge/trisync/internal/httpx"
)

// Client talks to the board REST API through the shared HTTP pool.
type Client struct {
	baseURL string
	token   string
	pool    *httpx.Pool
}

// NewClient creates a board client.
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

// update issues a mutating request, enforcing the PUT contract.
func (c *Client) update(ctx context.Context, method, path string, body, out any) error {
	if method != http.MethodPut {
		return fmt.Errorf("board: update %s must use PUT, got %s", path, method)
	}
	return c.pool.DoJSON(ctx, httpx.Request{
		Method: method,
		URL:    c.baseURL + path,
		Header: c.headers(),
		Body:   body,
	}, out)
}

// HealthCheck verifies the board is reachable. Some deployments return a
// non-JSON body from /health; success is defined as "a projects list can be
// retrieved", so the probe falls back to ListProjects.
func (c *Client) HealthCheck(ctx context.Context) error {
	body, err := c.pool.Do(ctx, httpx.Request{
		Method: http.MethodGet,
		URL:    c.baseURL + "/health",
		Header: c.headers(),
	})
	if err == nil {
		var probe map[string]any
		if json.Unmarshal(body, &probe) == nil {
			return nil
		}
	}
	if _, err := c.ListProjects(ctx); err != nil {
		return fmt.Errorf("board: health check: %w", err)
	}
	return nil
}

// ListProjects fetches every board project.
func (c *Client) ListProjects(ctx context.Context) ([]Project, error) {
	var projects []Project
	err := c.pool.DoJSON(ctx, httpx.Request{
		Method: http.MethodGet,
		URL:    c.baseURL + "/api/projects",
		Header: c.headers(),
	}, &projects)
	if err != nil {
		return nil, fmt.Errorf("board: list projects: %w", err)
	}
	return projects, nil
}

// CreateProject creates a board project.
func (c *Client) CreateProject(ctx context.Context, p Project) (*Project, error) {
	var created Project
	err := c.pool.DoJSON(ctx, httpx.Request{
		Method: http.MethodPost,
		URL:    c.baseURL + "/api/projects",
		Header: c.headers(),
		Body:   p,
	}, &created)
	if err != nil {
		return nil, fmt.Errorf("board: create project %s: %w", p.Title, err)
	}
	return &created, nil
}

// UpdateProject updates a board project via PUT.
func (c *Client) UpdateProject(ctx context.Context, p Project) error {
	err := c.update(ctx, http.MethodPut, fmt.Sprintf("/api/projects/%d", p.ID), p, nil)
	if err != nil {
		return fmt.Errorf("board: update project %d: %w", p.ID, err)
	}
	return nil
}

// ListTasks fetches a project's tasks.
func (c *Client) ListTasks(ctx context.Context, projectID int64) ([]Task, error) {
	var tasks []Task
	err := c.pool.DoJSON(ctx, httpx.Request{
		Method: http.MethodGet,
		URL:    fmt.Sprintf("%s/api/projects/%d/tasks", c.baseURL, projectID),
		Header: c.headers(),
	}, &tasks)
	if err != nil {
		return nil, fmt.Errorf("board: list tasks %d: %w", projectID, err)
	}
	return tasks, nil
}

// CreateTask creates a task in a project.
func (c *Client) CreateTask(ctx context.Context, task Task) (*Task, error) {
	var created Task
	err := c.pool.DoJSON(ctx, httpx.Request{
		Method: http.MethodPost,
		URL:    fmt.Sprintf("%s/api/projects/%d/tasks", c.baseURL, task.ProjectID),
		Header: c.headers(),
		Body:   task,
	}, &created)
	if err != nil {
		return nil, fmt.Errorf("board: create task %q: %w", task.Title, err)
	}
	return &created, nil
}

// UpdateTask updates a task via PUT and returns the task as the board
// observed it, so callers can record actual rather than intended state.
func (c *Client) UpdateTask(ctx context.Context, task Task) (*Task, error) {
	var updated Task
	err := c.update(ctx, http.MethodPut, fmt.Sprintf("/api/tasks/%d", task.ID), task, &updated)
	if err != nil {
		return nil, fmt.Errorf("board: update task %d: %w", task.ID, err)
	}
	return &updated, nil
}

// BulkUpdateTasks applies several task updates in one call via PUT.
func (c *Client) BulkUpdateTasks(ctx context.Context, projectID int64, updates []TaskUpdate) error {
	err := c.update(ctx, http.MethodPut,
		fmt.Sprintf("/api/projects/%d/tasks/bulk", projectID),
		map[string]any{"tasks": updates}, nil)
	if err != nil {
		return fmt.Errorf("board: bulk update %d: %w", projectID, err)
	}
	return nil
}

// DeleteTask archives a task.
func (c *Client) DeleteTask(ctx context.Context, taskID int64) error {
	err := c.pool.DoJSON(ctx, httpx.Request{
		Method: http.MethodDelete,
		URL:    fmt.Sprintf("%s/api/tasks/%d", c.baseURL, taskID),
		Header: c.headers(),
	}, nil)
	if err != nil {
		return fmt.Errorf("board: delete task %d: %w", taskID, err)
	}
	return nil
}
