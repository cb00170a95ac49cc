package agentmgr

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syncforge/trisync/internal/httpx"
	"github.com/syncforge/trisync/internal/letta"
	"github.com/syncforge/trisync/internal/memblocks"
	"github.com/syncforge/trisync/internal/storage"
	"github.com/syncforge/trisync/internal/types"
)

// fakePlatform is a minimal in-memory agent platform.
type fakePlatform struct {
	mu       sync.Mutex
	agents   map[string]*letta.Agent
	deleted  []string
	created  []string
	nextID   int
	toolSets map[string][]letta.Tool
	toolOps  []time.Time

	blockSets      map[string][]letta.Block
	detachedBlocks []string
}

func newFakePlatform() *fakePlatform {
	return &fakePlatform{
		agents:    map[string]*letta.Agent{},
		toolSets:  map[string][]letta.Tool{},
		blockSets: map[string][]letta.Block{},
	}
}

func (f *fakePlatform) addAgent(name string, tags []string, createdAt time.Time) *letta.Agent {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	id := "ag-" + name + "-" + time.Now().Format("150405") + "-" + string(rune('0'+f.nextID))
	a := &letta.Agent{ID: id, Name: name, Tags: tags, CreatedAt: createdAt}
	f.agents[id] = a
	return a
}

func (f *fakePlatform) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/agents", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		q := r.URL.Query()
		var out []letta.Agent
		for _, a := range f.agents {
			if name := q.Get("name"); name != "" && a.Name != name {
				continue
			}
			if tags := q["tags"]; len(tags) > 0 {
				if q.Get("match_all_tags") != "true" {
					t.Error("expected match_all_tags=true on tag queries")
				}
				if !hasAllTags(a.Tags, tags) {
					continue
				}
			}
			out = append(out, *a)
		}
		json.NewEncoder(w).Encode(out)
	})
	mux.HandleFunc("GET /v1/agents/{id}", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		a, ok := f.agents[r.PathValue("id")]
		if !ok {
			http.Error(w, `{"detail":"not found"}`, http.StatusNotFound)
			return
		}
		json.NewEncoder(w).Encode(a)
	})
	mux.HandleFunc("POST /v1/agents", func(w http.ResponseWriter, r *http.Request) {
		var req letta.CreateAgentRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		a := f.addAgent(req.Name, req.Tags, time.Now())
		f.mu.Lock()
		f.created = append(f.created, a.ID)
		f.mu.Unlock()
		json.NewEncoder(w).Encode(a)
	})
	mux.HandleFunc("DELETE /v1/agents/{id}", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		id := r.PathValue("id")
		delete(f.agents, id)
		f.deleted = append(f.deleted, id)
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("GET /v1/agents/{id}/tools", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		tools := f.toolSets[r.PathValue("id")]
		if tools == nil {
			tools = []letta.Tool{}
		}
		json.NewEncoder(w).Encode(tools)
	})
	mux.HandleFunc("PATCH /v1/agents/{id}/tools/attach/{tool}", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		id := r.PathValue("id")
		f.toolOps = append(f.toolOps, time.Now())
		f.toolSets[id] = append(f.toolSets[id], letta.Tool{ID: r.PathValue("tool")})
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("PATCH /v1/agents/{id}/tools/detach/{tool}", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		id, tool := r.PathValue("id"), r.PathValue("tool")
		f.toolOps = append(f.toolOps, time.Now())
		kept := f.toolSets[id][:0]
		for _, t := range f.toolSets[id] {
			if t.ID != tool {
				kept = append(kept, t)
			}
		}
		f.toolSets[id] = kept
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("GET /v1/agents/{id}/core-memory/blocks", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		blocks := f.blockSets[r.PathValue("id")]
		if blocks == nil {
			blocks = []letta.Block{}
		}
		json.NewEncoder(w).Encode(blocks)
	})
	mux.HandleFunc("GET /v1/agents/{id}/core-memory/blocks/{label}", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"detail":"block not found"}`, http.StatusNotFound)
	})
	mux.HandleFunc("PATCH /v1/agents/{id}/core-memory/blocks/{label}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("POST /v1/blocks", func(w http.ResponseWriter, r *http.Request) {
		var block letta.Block
		require.NoError(t, json.NewDecoder(r.Body).Decode(&block))
		block.ID = "blk-" + block.Label
		json.NewEncoder(w).Encode(block)
	})
	mux.HandleFunc("PATCH /v1/agents/{id}/core-memory/blocks/attach/{block}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("PATCH /v1/agents/{id}/core-memory/blocks/detach/{block}", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		id, block := r.PathValue("id"), r.PathValue("block")
		f.detachedBlocks = append(f.detachedBlocks, block)
		kept := f.blockSets[id][:0]
		for _, b := range f.blockSets[id] {
			if b.ID != block {
				kept = append(kept, b)
			}
		}
		f.blockSets[id] = kept
		w.WriteHeader(http.StatusOK)
	})
	return mux
}

func hasAllTags(have, want []string) bool {
	set := map[string]bool{}
	for _, t := range have {
		set[t] = true
	}
	for _, t := range want {
		if !set[t] {
			return false
		}
	}
	return true
}

func newTestManager(t *testing.T, f *fakePlatform, opts Options) (*Manager, *storage.Store) {
	t.Helper()
	srv := httptest.NewServer(f.handler(t))
	t.Cleanup(srv.Close)

	store, err := storage.Open(context.Background(), filepath.Join(t.TempDir(), "state.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	pool := httpx.NewPool(5*time.Second, nil)
	client := letta.NewClient(srv.URL, "key", pool)
	return New(client, store, opts, nil), store
}

func seedProject(t *testing.T, store *storage.Store, p *types.Project) {
	t.Helper()
	require.NoError(t, store.UpsertProject(context.Background(), p))
}

func TestEnsureAgentCreatesWhenAbsent(t *testing.T) {
	f := newFakePlatform()
	m, store := newTestManager(t, f, Options{NamePrefix: "TriSync"})

	p := &types.Project{Identifier: "ACME", Name: "Acme", State: types.ProjectActive}
	seedProject(t, store, p)

	id, err := m.EnsureAgent(context.Background(), p)
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	agent := f.agents[id]
	require.NotNil(t, agent)
	assert.Equal(t, "TriSync-ACME-PM", agent.Name)
	assert.Contains(t, agent.Tags, letta.ServiceTag)
	assert.Contains(t, agent.Tags, "project:ACME")

	stored, err := store.GetProject(context.Background(), "ACME")
	require.NoError(t, err)
	assert.Equal(t, id, stored.Agent.AgentID)
}

func TestEnsureAgentReusesValidBinding(t *testing.T) {
	f := newFakePlatform()
	m, store := newTestManager(t, f, Options{NamePrefix: "TriSync"})

	existing := f.addAgent("TriSync-ACME-PM", []string{letta.ServiceTag, "project:ACME"}, time.Now())
	p := &types.Project{
		Identifier: "ACME", Name: "Acme", State: types.ProjectActive,
		Agent: types.AgentBinding{AgentID: existing.ID},
	}
	seedProject(t, store, p)

	id, err := m.EnsureAgent(context.Background(), p)
	require.NoError(t, err)
	assert.Equal(t, existing.ID, id)
	assert.Empty(t, f.created, "no new agent should be created")
}

func TestEnsureAgentRejectsSleeptimeBinding(t *testing.T) {
	f := newFakePlatform()
	m, store := newTestManager(t, f, Options{NamePrefix: "TriSync"})

	sleeper := f.addAgent("TriSync-ACME-PM"+letta.SleeptimeSuffix, nil, time.Now())
	p := &types.Project{
		Identifier: "ACME", Name: "Acme", State: types.ProjectActive,
		Agent: types.AgentBinding{AgentID: sleeper.ID},
	}
	seedProject(t, store, p)

	id, err := m.EnsureAgent(context.Background(), p)
	require.NoError(t, err)
	assert.NotEqual(t, sleeper.ID, id, "sleep-time agent must never be bound")
	assert.Len(t, f.created, 1)
}

func TestSleeptimePartnerConstrainedToScratchpad(t *testing.T) {
	f := newFakePlatform()
	m, store := newTestManager(t, f, Options{NamePrefix: "TriSync"})

	primary := f.addAgent("TriSync-ACME-PM", []string{letta.ServiceTag, "project:ACME"}, time.Now())
	partner := f.addAgent("TriSync-ACME-PM"+letta.SleeptimeSuffix, nil, time.Now())
	f.blockSets[partner.ID] = []letta.Block{
		{ID: "blk-persona", Label: memblocks.LabelPersona, Value: "p"},
		{ID: "blk-scratch", Label: memblocks.LabelScratchpad, Value: "s"},
	}

	p := &types.Project{
		Identifier: "ACME", Name: "Acme", State: types.ProjectActive,
		Agent: types.AgentBinding{AgentID: primary.ID},
	}
	seedProject(t, store, p)

	_, err := m.EnsureAgent(context.Background(), p)
	require.NoError(t, err)

	assert.Contains(t, f.detachedBlocks, "blk-persona")
	assert.NotContains(t, f.detachedBlocks, "blk-scratch")
	require.Len(t, f.blockSets[partner.ID], 1)
	assert.Equal(t, memblocks.LabelScratchpad, f.blockSets[partner.ID][0].Label)
}

func TestEnsureAgentDeduplicates(t *testing.T) {
	f := newFakePlatform()
	m, store := newTestManager(t, f, Options{NamePrefix: "TriSync"})

	older := f.addAgent("TriSync-ACME-PM", []string{letta.ServiceTag, "project:ACME"}, time.Now().Add(-time.Hour))
	newer := f.addAgent("TriSync-ACME-PM", []string{letta.ServiceTag, "project:ACME"}, time.Now())

	p := &types.Project{Identifier: "ACME", Name: "Acme", State: types.ProjectActive}
	seedProject(t, store, p)

	id, err := m.EnsureAgent(context.Background(), p)
	require.NoError(t, err)
	assert.Equal(t, newer.ID, id, "most recently created duplicate wins without a stored binding")
	assert.Contains(t, f.deleted, older.ID)
}

func TestEnsureAgentPrunesDuplicateOfValidBinding(t *testing.T) {
	f := newFakePlatform()
	m, store := newTestManager(t, f, Options{NamePrefix: "TriSync"})

	primary := f.addAgent("TriSync-ACME-PM", []string{letta.ServiceTag, "project:ACME"}, time.Now().Add(-time.Hour))
	dup := f.addAgent("TriSync-ACME-PM", []string{letta.ServiceTag, "project:ACME"}, time.Now())

	p := &types.Project{
		Identifier: "ACME", Name: "Acme", State: types.ProjectActive,
		Agent: types.AgentBinding{AgentID: primary.ID},
	}
	seedProject(t, store, p)

	id, err := m.EnsureAgent(context.Background(), p)
	require.NoError(t, err)
	assert.Equal(t, primary.ID, id, "binding unchanged")
	assert.Contains(t, f.deleted, dup.ID, "accidental duplicate deleted")
	assert.Empty(t, f.created)
}

func TestPickPrimaryPrefersStoredBinding(t *testing.T) {
	m := &Manager{}
	older := letta.Agent{ID: "ag-old", CreatedAt: time.Now().Add(-time.Hour)}
	newer := letta.Agent{ID: "ag-new", CreatedAt: time.Now()}

	got := m.pickPrimary([]letta.Agent{newer, older}, "ag-old")
	assert.Equal(t, "ag-old", got.ID, "stored binding wins over recency")

	got = m.pickPrimary([]letta.Agent{older, newer}, "")
	assert.Equal(t, "ag-new", got.ID, "most recent wins without a stored binding")
}

func TestEnsureAgentMirrorsSettings(t *testing.T) {
	f := newFakePlatform()
	m, store := newTestManager(t, f, Options{NamePrefix: "TriSync"})

	dir := t.TempDir()
	settingsPath := filepath.Join(dir, ".state", "settings.local.json")
	require.NoError(t, os.MkdirAll(filepath.Dir(settingsPath), 0o755))
	require.NoError(t, os.WriteFile(settingsPath, []byte(`{"editor":"vim"}`), 0o644))

	p := &types.Project{Identifier: "ACME", Name: "Acme", FilesystemPath: dir, State: types.ProjectActive}
	seedProject(t, store, p)

	id, err := m.EnsureAgent(context.Background(), p)
	require.NoError(t, err)

	raw, err := os.ReadFile(settingsPath)
	require.NoError(t, err)
	var settings map[string]any
	require.NoError(t, json.Unmarshal(raw, &settings))
	assert.Equal(t, id, settings["lastAgent"])
	assert.Equal(t, "vim", settings["editor"], "unrelated keys preserved")
}

func TestSyncToolsAdditive(t *testing.T) {
	f := newFakePlatform()
	control := f.addAgent("Sync-Control", nil, time.Now())
	f.toolSets[control.ID] = []letta.Tool{{ID: "tool-a", Name: "a"}, {ID: "tool-b", Name: "b"}}
	project := f.addAgent("TriSync-ACME-PM", nil, time.Now())
	f.toolSets[project.ID] = []letta.Tool{{ID: "tool-a", Name: "a"}, {ID: "tool-x", Name: "x"}}

	m, _ := newTestManager(t, f, Options{
		NamePrefix: "TriSync", ControlName: "Sync-Control", SyncTools: true,
	})

	require.NoError(t, m.SyncTools(context.Background(), project.ID))

	ids := toolIDs(f.toolSets[project.ID])
	assert.Contains(t, ids, "tool-b", "missing control tool attached")
	assert.Contains(t, ids, "tool-x", "extra tool kept in additive mode")
}

func TestSyncToolsForceDetachesExtras(t *testing.T) {
	f := newFakePlatform()
	control := f.addAgent("Sync-Control", nil, time.Now())
	f.toolSets[control.ID] = []letta.Tool{{ID: "tool-a", Name: "a"}}
	project := f.addAgent("TriSync-ACME-PM", nil, time.Now())
	f.toolSets[project.ID] = []letta.Tool{{ID: "tool-x", Name: "x"}}

	m, _ := newTestManager(t, f, Options{
		NamePrefix: "TriSync", ControlName: "Sync-Control",
		SyncTools: true, SyncToolsForce: true,
	})

	require.NoError(t, m.SyncTools(context.Background(), project.ID))

	ids := toolIDs(f.toolSets[project.ID])
	assert.Contains(t, ids, "tool-a")
	assert.NotContains(t, ids, "tool-x", "extra tool detached in force mode")

	require.GreaterOrEqual(t, len(f.toolOps), 2)
	for i := 1; i < len(f.toolOps); i++ {
		gap := f.toolOps[i].Sub(f.toolOps[i-1])
		assert.GreaterOrEqual(t, gap, 150*time.Millisecond, "tool ops must be spaced")
	}
}

func TestUpsertBlocksPersistsHashes(t *testing.T) {
	f := newFakePlatform()
	m, store := newTestManager(t, f, Options{NamePrefix: "TriSync"})

	agent := f.addAgent("TriSync-ACME-PM", nil, time.Now())
	p := &types.Project{Identifier: "ACME", Name: "Acme", State: types.ProjectActive}
	seedProject(t, store, p)

	blocks := map[string]string{
		memblocks.LabelProject:      "identifier: ACME",
		memblocks.LabelBoardMetrics: "total: 0",
	}
	require.NoError(t, m.UpsertBlocks(context.Background(), p, agent.ID, blocks))

	stored, err := store.GetProject(context.Background(), "ACME")
	require.NoError(t, err)
	assert.Equal(t, letta.BlockHash("identifier: ACME"), stored.Agent.BlockHashes[memblocks.LabelProject])
	assert.Equal(t, letta.BlockHash("total: 0"), stored.Agent.BlockHashes[memblocks.LabelBoardMetrics])
}

func TestUpsertBlocksReportsOutcomes(t *testing.T) {
	f := newFakePlatform()
	m, store := newTestManager(t, f, Options{NamePrefix: "TriSync"})

	var mu sync.Mutex
	counts := map[string]int{}
	m.SetBlockWriteObserver(func(outcome string) {
		mu.Lock()
		counts[outcome]++
		mu.Unlock()
	})

	agent := f.addAgent("TriSync-ACME-PM", nil, time.Now())
	p := &types.Project{Identifier: "ACME", Name: "Acme", State: types.ProjectActive}
	seedProject(t, store, p)

	blocks := map[string]string{memblocks.LabelProject: "identifier: ACME"}
	require.NoError(t, m.UpsertBlocks(context.Background(), p, agent.ID, blocks))
	require.NoError(t, m.UpsertBlocks(context.Background(), p, agent.ID, blocks))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, counts["written"], "first upsert writes")
	assert.Equal(t, 1, counts["suppressed"], "identical content suppressed")
	assert.Zero(t, counts["failed"])
}

func toolIDs(tools []letta.Tool) []string {
	out := make([]string, len(tools))
	for i, t := range tools {
		out[i] = t.ID
	}
	return out
}
