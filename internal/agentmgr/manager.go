// Package agentmgr manages the per-project memory agent lifecycle: ensure,
// block upserts, Control Agent tool sync, and repository doc uploads.
package agentmgr

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/syncforge/trisync/internal/letta"
	"github.com/syncforge/trisync/internal/memblocks"
	"github.com/syncforge/trisync/internal/storage"
	"github.com/syncforge/trisync/internal/types"
)

// toolOpSpacing is the minimum gap between tool attach/detach calls per
// agent; the platform serializes tool mutations and rejects bursts.
const toolOpSpacing = 200 * time.Millisecond

// blockConcurrency caps concurrent block writes per agent to avoid
// transactional conflicts on the platform.
const blockConcurrency = 2

// Options configure the manager from the service configuration.
type Options struct {
	NamePrefix     string // canonical agent names are "<Prefix>-<IDENT>-PM"
	Model          string
	Embedding      string
	ControlName    string // Control Agent name; never managed as a project agent
	SyncTools      bool
	SyncToolsForce bool
	AttachRepoDocs bool
	ToolCacheTTL   time.Duration // Control Agent tool list cache; 0 disables
}

// Manager drives the agent platform for project agents.
type Manager struct {
	client *letta.Client
	store  *storage.Store
	opts   Options
	log    *slog.Logger

	toolsMu      sync.Mutex
	controlTools []letta.Tool
	toolsFetched time.Time

	blockOutcome func(outcome string)
}

// New creates a manager.
func New(client *letta.Client, store *storage.Store, opts Options, log *slog.Logger) *Manager {
	if opts.NamePrefix == "" {
		opts.NamePrefix = "TriSync"
	}
	if log == nil {
		log = slog.Default()
	}
	return &Manager{client: client, store: store, opts: opts, log: log}
}

// SetBlockWriteObserver installs a callback invoked once per block upsert
// with the outcome: "written", "suppressed", or "failed". Set during wiring,
// before the manager is shared.
func (m *Manager) SetBlockWriteObserver(fn func(outcome string)) { m.blockOutcome = fn }

func (m *Manager) reportBlock(outcome string) {
	if m.blockOutcome != nil {
		m.blockOutcome(outcome)
	}
}

// AgentName is the canonical primary agent name for a project.
func (m *Manager) AgentName(identifier string) string {
	return m.opts.NamePrefix + "-" + strings.ToUpper(identifier) + "-PM"
}

func projectTag(identifier string) string {
	return "project:" + strings.ToUpper(identifier)
}

// EnsureAgent resolves the project's primary agent, creating it when absent,
// deduplicating when multiple exist, and rejecting sleep-time bindings. The
// resulting ID is persisted to the state store and mirrored to the
// project's .state/settings.local.json for CLI interop.
func (m *Manager) EnsureAgent(ctx context.Context, p *types.Project) (string, error) {
	if p.Agent.AgentID != "" {
		agent, err := m.client.GetAgent(ctx, p.Agent.AgentID)
		switch {
		case letta.IsNotFound(err):
			// Stale binding; fall through to query/create.
		case err != nil:
			return "", err
		case strings.HasSuffix(agent.Name, letta.SleeptimeSuffix):
			m.log.Warn("bound agent is a sleep-time partner, unbinding",
				"project", p.Identifier, "agent_id", agent.ID, "agent_name", agent.Name)
		default:
			// A valid binding does not rule out accidental duplicates
			// created out of band; they still get pruned.
			m.pruneDuplicates(ctx, p, agent.ID)
			m.constrainSleeptime(ctx, p)
			return agent.ID, nil
		}
	}

	agentID, err := m.findOrCreate(ctx, p)
	if err != nil {
		return "", err
	}

	p.Agent.AgentID = agentID
	if err := m.store.SaveAgentBinding(ctx, p.Identifier, p.Agent); err != nil {
		return "", fmt.Errorf("agentmgr: persist binding for %s: %w", p.Identifier, err)
	}
	if err := m.mirrorSettings(p.FilesystemPath, agentID); err != nil {
		m.log.Warn("could not mirror agent id to project settings",
			"project", p.Identifier, "error", err)
	}
	m.constrainSleeptime(ctx, p)
	return agentID, nil
}

// constrainSleeptime limits a sleep-time partner's core memory to the
// scratchpad block. The partner is never bound as a primary, but when a
// multi-agent group created one it must not hold managed blocks.
func (m *Manager) constrainSleeptime(ctx context.Context, p *types.Project) {
	name := m.AgentName(p.Identifier) + letta.SleeptimeSuffix
	agents, err := m.client.ListAgents(ctx, letta.ListAgentsOptions{Name: name})
	if err != nil || len(agents) == 0 {
		return
	}
	partner := agents[0]

	blocks, err := m.client.ListAgentBlocks(ctx, partner.ID)
	if err != nil {
		m.log.Warn("could not list sleep-time partner blocks",
			"project", p.Identifier, "agent_id", partner.ID, "error", err)
		return
	}
	for _, b := range blocks {
		if b.Label == memblocks.LabelScratchpad {
			continue
		}
		if err := m.client.DetachBlock(ctx, partner.ID, b.ID); err != nil {
			m.log.Warn("could not detach block from sleep-time partner",
				"project", p.Identifier, "agent_id", partner.ID,
				"label", b.Label, "error", err)
			continue
		}
		m.log.Info("detached managed block from sleep-time partner",
			"project", p.Identifier, "agent_id", partner.ID, "label", b.Label)
	}
}

func (m *Manager) findOrCreate(ctx context.Context, p *types.Project) (string, error) {
	primaries, err := m.listPrimaries(ctx, p)
	if err != nil {
		return "", err
	}

	switch len(primaries) {
	case 0:
		return m.createAgent(ctx, p, m.AgentName(p.Identifier))
	case 1:
		return primaries[0].ID, nil
	default:
		keep := m.pickPrimary(primaries, p.Agent.AgentID)
		m.deleteDuplicates(ctx, p, primaries, keep.ID)
		return keep.ID, nil
	}
}

// listPrimaries queries the platform by canonical name and by service tags,
// deduplicates, and filters out sleep-time partners and the Control Agent.
func (m *Manager) listPrimaries(ctx context.Context, p *types.Project) ([]letta.Agent, error) {
	byName, err := m.client.ListAgents(ctx, letta.ListAgentsOptions{Name: m.AgentName(p.Identifier)})
	if err != nil {
		return nil, err
	}
	byTags, err := m.client.ListAgents(ctx, letta.ListAgentsOptions{
		Tags:         []string{letta.ServiceTag, projectTag(p.Identifier)},
		MatchAllTags: true,
	})
	if err != nil {
		return nil, err
	}

	candidates := dedupeAgents(append(byName, byTags...))
	primaries := candidates[:0]
	for _, a := range candidates {
		if strings.HasSuffix(a.Name, letta.SleeptimeSuffix) {
			continue
		}
		if a.Name == m.opts.ControlName {
			continue
		}
		primaries = append(primaries, a)
	}
	return primaries, nil
}

func (m *Manager) deleteDuplicates(ctx context.Context, p *types.Project, primaries []letta.Agent, keepID string) {
	for _, a := range primaries {
		if a.ID == keepID {
			continue
		}
		m.log.Warn("deleting duplicate project agent",
			"project", p.Identifier, "agent_id", a.ID, "kept", keepID)
		if err := m.client.DeleteAgent(ctx, a.ID); err != nil {
			m.log.Warn("could not delete duplicate agent",
				"agent_id", a.ID, "error", err)
		}
	}
}

// pruneDuplicates deletes any primary-named agent other than the bound one.
// Listing failures are logged, never fatal: duplicate cleanup must not block
// the sync pass.
func (m *Manager) pruneDuplicates(ctx context.Context, p *types.Project, keepID string) {
	primaries, err := m.listPrimaries(ctx, p)
	if err != nil {
		m.log.Warn("could not list agents for duplicate pruning",
			"project", p.Identifier, "error", err)
		return
	}
	m.deleteDuplicates(ctx, p, primaries, keepID)
}

// pickPrimary keeps the stored binding when it is among the duplicates,
// otherwise the most recently created.
func (m *Manager) pickPrimary(agents []letta.Agent, boundID string) letta.Agent {
	for _, a := range agents {
		if boundID != "" && a.ID == boundID {
			return a
		}
	}
	newest := agents[0]
	for _, a := range agents[1:] {
		if a.CreatedAt.After(newest.CreatedAt) {
			newest = a
		}
	}
	return newest
}

func (m *Manager) createAgent(ctx context.Context, p *types.Project, name string) (string, error) {
	persona := memblocks.Persona(p.Name)
	human := memblocks.Human(p.Name)
	if control, err := m.controlAgent(ctx); err == nil && control != nil {
		if blocks, err := m.client.ListAgentBlocks(ctx, control.ID); err == nil {
			for _, b := range blocks {
				switch b.Label {
				case memblocks.LabelPersona:
					persona = b.Value
				case memblocks.LabelHuman:
					human = b.Value
				}
			}
		}
	}

	agent, err := m.client.CreateAgent(ctx, letta.CreateAgentRequest{
		Name:      name,
		Tags:      []string{letta.ServiceTag, projectTag(p.Identifier)},
		Model:     m.opts.Model,
		Embedding: m.opts.Embedding,
		MemoryBlocks: []letta.Block{
			{Label: memblocks.LabelPersona, Value: persona},
			{Label: memblocks.LabelHuman, Value: human},
			{Label: memblocks.LabelScratchpad, Value: memblocks.Scratchpad()},
		},
	})
	if err != nil {
		return "", err
	}
	m.log.Info("created project agent",
		"project", p.Identifier, "agent_id", agent.ID, "name", name)
	return agent.ID, nil
}

func (m *Manager) controlAgent(ctx context.Context) (*letta.Agent, error) {
	if m.opts.ControlName == "" {
		return nil, nil
	}
	agents, err := m.client.ListAgents(ctx, letta.ListAgentsOptions{Name: m.opts.ControlName})
	if err != nil {
		return nil, err
	}
	for i := range agents {
		if agents[i].Name == m.opts.ControlName {
			return &agents[i], nil
		}
	}
	return nil, nil
}

// UpsertBlocks writes the managed block set with hash suppression and a
// concurrency cap. Individual block failures are collected; the batch is a
// partial failure, not an abort.
func (m *Manager) UpsertBlocks(ctx context.Context, p *types.Project, agentID string, blocks map[string]string) error {
	// Persisted hashes prime the cache so the first run after a restart
	// still suppresses unchanged writes.
	if len(p.Agent.BlockHashes) > 0 {
		m.client.Seed(agentID, p.Agent.BlockHashes)
	}

	sem := semaphore.NewWeighted(blockConcurrency)
	errCh := make(chan error, len(blocks))

	for _, label := range memblocks.ManagedLabels {
		value, ok := blocks[label]
		if !ok {
			continue
		}
		if err := sem.Acquire(ctx, 1); err != nil {
			return err
		}
		go func(label, value string) {
			defer sem.Release(1)
			wrote, err := m.client.UpsertAgentBlock(ctx, agentID, label, value)
			if err != nil {
				m.reportBlock("failed")
				errCh <- fmt.Errorf("block %s: %w", label, err)
				return
			}
			if !wrote {
				m.reportBlock("suppressed")
				return
			}
			m.reportBlock("written")
			if err := m.store.SaveBlockHash(ctx, p.Identifier, label, letta.BlockHash(value)); err != nil {
				errCh <- fmt.Errorf("block %s hash persist: %w", label, err)
			}
		}(label, value)
	}

	if err := sem.Acquire(ctx, blockConcurrency); err != nil {
		return err
	}
	close(errCh)

	var errs []error
	for err := range errCh {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return fmt.Errorf("agentmgr: %d of %d block upserts failed for %s: %w",
			len(errs), len(blocks), p.Identifier, errors.Join(errs...))
	}
	return nil
}

// FinishRun drops the platform client's run-scoped caches. Hash suppression
// survives via the persisted hashes seeded on the next UpsertBlocks; folder
// and source resolutions are re-fetched fresh each run.
func (m *Manager) FinishRun() {
	m.client.ClearAgentCaches()
}

// SyncTools reconciles the project agent's tool set against the Control
// Agent. Additive mode attaches missing tools; force mode also detaches
// extras. Tool operations are spaced >= 200ms apart.
func (m *Manager) SyncTools(ctx context.Context, agentID string) error {
	if !m.opts.SyncTools {
		return nil
	}
	control, err := m.controlAgent(ctx)
	if err != nil {
		return err
	}
	if control == nil {
		m.log.Warn("control agent not found, skipping tool sync",
			"control", m.opts.ControlName)
		return nil
	}
	if control.ID == agentID {
		return nil
	}

	want, err := m.controlToolList(ctx, control.ID)
	if err != nil {
		return err
	}
	have, err := m.client.ListAgentTools(ctx, agentID)
	if err != nil {
		return err
	}

	haveIDs := make(map[string]bool, len(have))
	for _, t := range have {
		haveIDs[t.ID] = true
	}
	wantIDs := make(map[string]bool, len(want))
	for _, t := range want {
		wantIDs[t.ID] = true
	}

	ticker := time.NewTicker(toolOpSpacing)
	defer ticker.Stop()
	pace := func() error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			return nil
		}
	}

	for _, t := range want {
		if haveIDs[t.ID] {
			continue
		}
		if err := pace(); err != nil {
			return err
		}
		if err := m.client.AttachTool(ctx, agentID, t.ID); err != nil {
			return err
		}
		m.log.Debug("attached tool", "agent_id", agentID, "tool", t.Name)
	}

	if m.opts.SyncToolsForce {
		for _, t := range have {
			if wantIDs[t.ID] {
				continue
			}
			if err := pace(); err != nil {
				return err
			}
			if err := m.client.DetachTool(ctx, agentID, t.ID); err != nil {
				return err
			}
			m.log.Debug("detached tool", "agent_id", agentID, "tool", t.Name)
		}
	}
	return nil
}

// controlToolList fetches the Control Agent's tool set, cached for the
// configured TTL so a multi-project run lists it once.
func (m *Manager) controlToolList(ctx context.Context, controlID string) ([]letta.Tool, error) {
	m.toolsMu.Lock()
	defer m.toolsMu.Unlock()
	if m.opts.ToolCacheTTL > 0 && m.controlTools != nil &&
		time.Since(m.toolsFetched) < m.opts.ToolCacheTTL {
		return m.controlTools, nil
	}
	tools, err := m.client.ListAgentTools(ctx, controlID)
	if err != nil {
		return nil, err
	}
	m.controlTools = tools
	m.toolsFetched = time.Now()
	return tools, nil
}

// mirrorSettings writes the agent ID into the project's local settings file
// for CLI interop, preserving any unrelated keys already present.
func (m *Manager) mirrorSettings(path, agentID string) error {
	if path == "" {
		return nil
	}
	stateDir := filepath.Join(path, ".state")
	settingsPath := filepath.Join(stateDir, "settings.local.json")

	settings := map[string]any{}
	if raw, err := os.ReadFile(settingsPath); err == nil {
		if err := json.Unmarshal(raw, &settings); err != nil {
			settings = map[string]any{}
		}
	}
	settings["lastAgent"] = agentID

	if err := os.MkdirAll(stateDir, 0o755); err != nil {
		return err
	}
	raw, err := json.MarshalIndent(settings, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(settingsPath, append(raw, '\n'), 0o644)
}

func dedupeAgents(agents []letta.Agent) []letta.Agent {
	seen := make(map[string]bool, len(agents))
	out := agents[:0]
	for _, a := range agents {
		if seen[a.ID] {
			continue
		}
		seen[a.ID] = true
		out = append(out, a)
	}
	return out
}
