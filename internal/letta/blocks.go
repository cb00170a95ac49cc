package letta

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
)

// ListAgentBlocks lists the memory blocks attached to an agent.
func (c *Client) ListAgentBlocks(ctx context.Context, agentID string) ([]Block, error) {
	var blocks []Block
	if err := c.pool.DoJSON(ctx, httpxGet(c, "/v1/agents/"+url.PathEscape(agentID)+"/core-memory/blocks"), &blocks); err != nil {
		return nil, fmt.Errorf("letta: list blocks %s: %w", agentID, err)
	}
	return blocks, nil
}

// GetAgentBlock fetches one labeled block from an agent. Returns platform
// 404 via IsNotFound when the label is absent.
func (c *Client) GetAgentBlock(ctx context.Context, agentID, label string) (*Block, error) {
	var block Block
	if err := c.pool.DoJSON(ctx, httpxGet(c,
		fmt.Sprintf("/v1/agents/%s/core-memory/blocks/%s",
			url.PathEscape(agentID), url.PathEscape(label))), &block); err != nil {
		return nil, fmt.Errorf("letta: get block %s/%s: %w", agentID, label, err)
	}
	return &block, nil
}

// ModifyAgentBlock rewrites a block's value in place. Modifying in place
// keeps the block ID stable; detach-create-attach would orphan references.
func (c *Client) ModifyAgentBlock(ctx context.Context, agentID, label, value string) error {
	if err := c.pool.DoJSON(ctx, request(c, http.MethodPatch,
		fmt.Sprintf("/v1/agents/%s/core-memory/blocks/%s",
			url.PathEscape(agentID), url.PathEscape(label)),
		map[string]string{"value": value}), nil); err != nil {
		return fmt.Errorf("letta: modify block %s/%s: %w", agentID, label, err)
	}
	return nil
}

// CreateBlock creates a standalone labeled block.
func (c *Client) CreateBlock(ctx context.Context, label, value string) (*Block, error) {
	var block Block
	if err := c.pool.DoJSON(ctx, request(c, http.MethodPost, "/v1/blocks",
		Block{Label: label, Value: value}), &block); err != nil {
		return nil, fmt.Errorf("letta: create block %s: %w", label, err)
	}
	return &block, nil
}

// AttachBlock attaches a standalone block to an agent.
func (c *Client) AttachBlock(ctx context.Context, agentID, blockID string) error {
	if err := c.pool.DoJSON(ctx, request(c, http.MethodPatch,
		fmt.Sprintf("/v1/agents/%s/core-memory/blocks/attach/%s",
			url.PathEscape(agentID), url.PathEscape(blockID)), nil), nil); err != nil {
		return fmt.Errorf("letta: attach block %s to %s: %w", blockID, agentID, err)
	}
	return nil
}

// DetachBlock detaches a block from an agent without deleting it.
func (c *Client) DetachBlock(ctx context.Context, agentID, blockID string) error {
	if err := c.pool.DoJSON(ctx, request(c, http.MethodPatch,
		fmt.Sprintf("/v1/agents/%s/core-memory/blocks/detach/%s",
			url.PathEscape(agentID), url.PathEscape(blockID)), nil), nil); err != nil {
		return fmt.Errorf("letta: detach block %s from %s: %w", blockID, agentID, err)
	}
	return nil
}

// DeleteBlock deletes a standalone block.
func (c *Client) DeleteBlock(ctx context.Context, blockID string) error {
	if err := c.pool.DoJSON(ctx, request(c, http.MethodDelete,
		"/v1/blocks/"+url.PathEscape(blockID), nil), nil); err != nil {
		return fmt.Errorf("letta: delete block %s: %w", blockID, err)
	}
	return nil
}

// UpsertAgentBlock writes value into the agent's labeled block, suppressed
// by content hash: an unchanged value costs zero network calls. On a cache
// miss the platform's current value is fetched first, so a cold cache that
// already matches costs one read and no write. Missing labels are created
// and attached. Returns true when a write happened.
func (c *Client) UpsertAgentBlock(ctx context.Context, agentID, label, value string) (bool, error) {
	if c.hashes.unchanged(agentID, label, value) {
		return false, nil
	}

	existing, err := c.GetAgentBlock(ctx, agentID, label)
	switch {
	case err == nil:
		if contentHash(existing.Value) == contentHash(value) {
			// The platform already holds this content.
			c.hashes.store(agentID, label, value)
			return false, nil
		}
		if merr := c.ModifyAgentBlock(ctx, agentID, label, value); merr != nil {
			return false, merr
		}
	case IsNotFound(err):
		block, cerr := c.CreateBlock(ctx, label, value)
		if cerr != nil {
			return false, cerr
		}
		if aerr := c.AttachBlock(ctx, agentID, block.ID); aerr != nil {
			return false, aerr
		}
	default:
		return false, err
	}

	c.hashes.store(agentID, label, value)
	return true, nil
}

// BlockHash exposes the cache's content hash for persisting into the state
// store alongside the binding.
func BlockHash(value string) string { return contentHash(value) }
