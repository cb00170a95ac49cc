// Package letta provides the typed client for the agent platform: agents,
// memory blocks, tools, folders, sources, and file uploads.
//
// Two hard invariants live here. Query parameters are preserved end-to-end
// on every list call, verified once at startup against a tag-filtered
// listing. And block upserts are hash-suppressed through a process-wide
// content-hash cache so an unchanged block value costs zero network calls.
package letta

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/syncforge/trisync/internal/httpx"
)

// SleeptimeSuffix marks a background-processing counterpart agent. Bindings
// must never point at one.
const SleeptimeSuffix = "-sleeptime"

// ServiceTag is attached to every agent this service manages.
const ServiceTag = "trisync-managed"

// ErrPlaceholder marks a source that could not be resolved after a 409;
// uploads against it are skipped.
var ErrPlaceholder = errors.New("placeholder source")

// Client talks to the agent platform REST API.
type Client struct {
	baseURL string
	apiKey  string
	pool    *httpx.Pool

	hashes  *hashCache
	folders *folderCache
}

// NewClient creates a platform client.
func NewClient(baseURL, apiKey string, pool *httpx.Pool) *Client {
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		apiKey:  apiKey,
		pool:    pool,
		hashes:  newHashCache(),
		folders: newFolderCache(),
	}
}

func (c *Client) headers() http.Header {
	h := http.Header{}
	h.Set("Authorization", "Bearer "+c.apiKey)
	return h
}

// ClearAgentCaches drops the agent-scoped caches. Called at end-of-sync so
// the next run re-observes platform state.
func (c *Client) ClearAgentCaches() {
	c.hashes.clear()
	c.folders.clear()
}

// VerifyQueryFiltering is the startup self-check for the query-parameter
// contract: a listing filtered by an unlikely tag must return fewer (or
// equal) results than the unfiltered listing, proving the server saw the
// filter. A proxy that strips query strings fails this check.
func (c *Client) VerifyQueryFiltering(ctx context.Context) error {
	all, err := c.ListAgents(ctx, ListAgentsOptions{Limit: 50})
	if err != nil {
		return fmt.Errorf("letta: self-check list: %w", err)
	}
	filtered, err := c.ListAgents(ctx, ListAgentsOptions{
		Tags:         []string{"trisync-selfcheck-nonexistent"},
		MatchAllTags: true,
		Limit:        50,
	})
	if err != nil {
		return fmt.Errorf("letta: self-check filtered list: %w", err)
	}
	if len(all) > 0 && len(filtered) >= len(all) {
		return fmt.Errorf("letta: query parameters are not honored: filtered listing returned %d of %d agents", len(filtered), len(all))
	}
	return nil
}

// ListAgents lists agents with server-side filters.
func (c *Client) ListAgents(ctx context.Context, opts ListAgentsOptions) ([]Agent, error) {
	params := url.Values{}
	if opts.Name != "" {
		params.Set("name", opts.Name)
	}
	for _, tag := range opts.Tags {
		params.Add("tags", tag)
	}
	if opts.MatchAllTags {
		params.Set("match_all_tags", "true")
	}
	if opts.Limit > 0 {
		params.Set("limit", strconv.Itoa(opts.Limit))
	}
	if opts.Offset > 0 {
		params.Set("offset", strconv.Itoa(opts.Offset))
	}

	endpoint := c.baseURL + "/v1/agents"
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}

	var agents []Agent
	if err := c.pool.DoJSON(ctx, httpx.Request{
		Method: http.MethodGet, URL: endpoint, Header: c.headers(),
	}, &agents); err != nil {
		return nil, fmt.Errorf("letta: list agents: %w", err)
	}
	return agents, nil
}

// GetAgent fetches one agent by ID.
func (c *Client) GetAgent(ctx context.Context, id string) (*Agent, error) {
	var agent Agent
	if err := c.pool.DoJSON(ctx, httpx.Request{
		Method: http.MethodGet,
		URL:    c.baseURL + "/v1/agents/" + url.PathEscape(id),
		Header: c.headers(),
	}, &agent); err != nil {
		return nil, fmt.Errorf("letta: get agent %s: %w", id, err)
	}
	return &agent, nil
}

// CreateAgent creates a named agent.
func (c *Client) CreateAgent(ctx context.Context, req CreateAgentRequest) (*Agent, error) {
	var agent Agent
	if err := c.pool.DoJSON(ctx, httpx.Request{
		Method: http.MethodPost,
		URL:    c.baseURL + "/v1/agents",
		Header: c.headers(),
		Body:   req,
	}, &agent); err != nil {
		return nil, fmt.Errorf("letta: create agent %s: %w", req.Name, err)
	}
	return &agent, nil
}

// RenameAgent renames an agent in place.
func (c *Client) RenameAgent(ctx context.Context, id, name string) error {
	if err := c.pool.DoJSON(ctx, httpx.Request{
		Method: http.MethodPatch,
		URL:    c.baseURL + "/v1/agents/" + url.PathEscape(id),
		Header: c.headers(),
		Body:   map[string]string{"name": name},
	}, nil); err != nil {
		return fmt.Errorf("letta: rename agent %s: %w", id, err)
	}
	return nil
}

// DeleteAgent deletes an agent.
func (c *Client) DeleteAgent(ctx context.Context, id string) error {
	if err := c.pool.DoJSON(ctx, httpx.Request{
		Method: http.MethodDelete,
		URL:    c.baseURL + "/v1/agents/" + url.PathEscape(id),
		Header: c.headers(),
	}, nil); err != nil {
		return fmt.Errorf("letta: delete agent %s: %w", id, err)
	}
	return nil
}

// ListAgentTools lists the tools attached to an agent.
func (c *Client) ListAgentTools(ctx context.Context, agentID string) ([]Tool, error) {
	var tools []Tool
	if err := c.pool.DoJSON(ctx, httpx.Request{
		Method: http.MethodGet,
		URL:    c.baseURL + "/v1/agents/" + url.PathEscape(agentID) + "/tools",
		Header: c.headers(),
	}, &tools); err != nil {
		return nil, fmt.Errorf("letta: list tools %s: %w", agentID, err)
	}
	return tools, nil
}

// AttachTool attaches a tool to an agent. The platform accepts an empty
// PATCH body here; no body is sent rather than risking invalid JSON.
func (c *Client) AttachTool(ctx context.Context, agentID, toolID string) error {
	if err := c.pool.DoJSON(ctx, httpx.Request{
		Method: http.MethodPatch,
		URL: fmt.Sprintf("%s/v1/agents/%s/tools/attach/%s",
			c.baseURL, url.PathEscape(agentID), url.PathEscape(toolID)),
		Header: c.headers(),
	}, nil); err != nil {
		return fmt.Errorf("letta: attach tool %s to %s: %w", toolID, agentID, err)
	}
	return nil
}

// DetachTool detaches a tool from an agent.
func (c *Client) DetachTool(ctx context.Context, agentID, toolID string) error {
	if err := c.pool.DoJSON(ctx, httpx.Request{
		Method: http.MethodPatch,
		URL: fmt.Sprintf("%s/v1/agents/%s/tools/detach/%s",
			c.baseURL, url.PathEscape(agentID), url.PathEscape(toolID)),
		Header: c.headers(),
	}, nil); err != nil {
		return fmt.Errorf("letta: detach tool %s from %s: %w", toolID, agentID, err)
	}
	return nil
}

// UploadFile uploads one file into a folder as multipart form data.
func (c *Client) UploadFile(ctx context.Context, folderID, fileName string, content []byte) (*FileUpload, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", fileName)
	if err != nil {
		return nil, fmt.Errorf("letta: build upload: %w", err)
	}
	if _, err := io.Copy(part, bytes.NewReader(content)); err != nil {
		return nil, fmt.Errorf("letta: build upload: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("letta: build upload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		fmt.Sprintf("%s/v1/folders/%s/upload", c.baseURL, url.PathEscape(folderID)),
		&buf)
	if err != nil {
		return nil, fmt.Errorf("letta: upload %s: %w", fileName, err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.pool.Client().Do(req)
	if err != nil {
		return nil, fmt.Errorf("letta: upload %s: %w", fileName, err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("letta: upload %s: %w", fileName,
			&httpx.StatusError{StatusCode: resp.StatusCode, Body: string(body)})
	}

	var uploaded FileUpload
	if len(body) > 0 {
		if err := parseJSON(body, &uploaded); err != nil {
			return nil, fmt.Errorf("letta: upload %s: %w", fileName, err)
		}
	}
	return &uploaded, nil
}

// IsConflict reports whether err is an HTTP 409.
func IsConflict(err error) bool {
	var se *httpx.StatusError
	return errors.As(err, &se) && se.StatusCode == http.StatusConflict
}

// IsNotFound reports whether err is an HTTP 404.
func IsNotFound(err error) bool {
	var se *httpx.StatusError
	return errors.As(err, &se) && se.StatusCode == http.StatusNotFound
}
