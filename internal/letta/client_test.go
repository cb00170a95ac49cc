package letta

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/syncforge/trisync/internal/httpx"
)

func newTestClient(t *testing.T, handler http.Handler) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	pool := httpx.NewPool(5*time.Second, nil)
	return NewClient(srv.URL, "test-key", pool), srv
}

func TestListAgentsForwardsQueryParams(t *testing.T) {
	var gotQuery string
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		if auth := r.Header.Get("Authorization"); auth != "Bearer test-key" {
			t.Errorf("Authorization = %q", auth)
		}
		json.NewEncoder(w).Encode([]Agent{{ID: "ag-1", Name: "TriSync-ACME-PM"}})
	}))

	agents, err := c.ListAgents(context.Background(), ListAgentsOptions{
		Name:         "TriSync-ACME-PM",
		Tags:         []string{ServiceTag, "project:ACME"},
		MatchAllTags: true,
		Limit:        10,
		Offset:       5,
	})
	if err != nil {
		t.Fatalf("ListAgents: %v", err)
	}
	if len(agents) != 1 || agents[0].ID != "ag-1" {
		t.Fatalf("agents = %+v", agents)
	}

	q, err := url.ParseQuery(gotQuery)
	if err != nil {
		t.Fatal(err)
	}
	if q.Get("name") != "TriSync-ACME-PM" {
		t.Errorf("name = %q", q.Get("name"))
	}
	if tags := q["tags"]; len(tags) != 2 || tags[0] != ServiceTag || tags[1] != "project:ACME" {
		t.Errorf("tags = %v", tags)
	}
	if q.Get("match_all_tags") != "true" {
		t.Errorf("match_all_tags = %q", q.Get("match_all_tags"))
	}
	if q.Get("limit") != "10" || q.Get("offset") != "5" {
		t.Errorf("limit/offset = %q/%q", q.Get("limit"), q.Get("offset"))
	}
}

func TestVerifyQueryFilteringDetectsStrippedParams(t *testing.T) {
	// A broken proxy returns the same unfiltered list regardless of query.
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode([]Agent{{ID: "a"}, {ID: "b"}})
	}))
	if err := c.VerifyQueryFiltering(context.Background()); err == nil {
		t.Fatal("expected failure when filters are ignored")
	}
}

func TestVerifyQueryFilteringPasses(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if len(r.URL.Query()["tags"]) > 0 {
			json.NewEncoder(w).Encode([]Agent{})
			return
		}
		json.NewEncoder(w).Encode([]Agent{{ID: "a"}, {ID: "b"}})
	}))
	if err := c.VerifyQueryFiltering(context.Background()); err != nil {
		t.Fatalf("VerifyQueryFiltering: %v", err)
	}
}

func TestUpsertAgentBlockHashSuppression(t *testing.T) {
	var patches int
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPatch {
			patches++
		}
		json.NewEncoder(w).Encode(Block{Label: "project", Value: "v"})
	}))

	ctx := context.Background()
	wrote, err := c.UpsertAgentBlock(ctx, "ag-1", "project", "content v1")
	if err != nil {
		t.Fatalf("first upsert: %v", err)
	}
	if !wrote || patches != 1 {
		t.Fatalf("first upsert wrote=%v patches=%d", wrote, patches)
	}

	wrote, err = c.UpsertAgentBlock(ctx, "ag-1", "project", "content v1")
	if err != nil {
		t.Fatalf("second upsert: %v", err)
	}
	if wrote || patches != 1 {
		t.Fatalf("unchanged value must be suppressed: wrote=%v patches=%d", wrote, patches)
	}

	wrote, err = c.UpsertAgentBlock(ctx, "ag-1", "project", "content v2")
	if err != nil {
		t.Fatalf("third upsert: %v", err)
	}
	if !wrote || patches != 2 {
		t.Fatalf("changed value must write: wrote=%v patches=%d", wrote, patches)
	}
}

func TestUpsertAgentBlockCreatesMissingLabel(t *testing.T) {
	var createdBlock, attached bool
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/v1/agents/ag-1/core-memory/blocks/hotspots":
			http.Error(w, `{"detail":"block not found"}`, http.StatusNotFound)
		case r.Method == http.MethodPost && r.URL.Path == "/v1/blocks":
			createdBlock = true
			json.NewEncoder(w).Encode(Block{ID: "blk-9", Label: "hotspots"})
		case r.Method == http.MethodPatch && r.URL.Path == "/v1/agents/ag-1/core-memory/blocks/attach/blk-9":
			attached = true
			w.WriteHeader(http.StatusOK)
		default:
			t.Errorf("unexpected call %s %s", r.Method, r.URL.Path)
			http.NotFound(w, r)
		}
	}))

	wrote, err := c.UpsertAgentBlock(context.Background(), "ag-1", "hotspots", "hot files")
	if err != nil {
		t.Fatalf("UpsertAgentBlock: %v", err)
	}
	if !wrote || !createdBlock || !attached {
		t.Fatalf("wrote=%v created=%v attached=%v", wrote, createdBlock, attached)
	}
}

func TestSeedSuppressesFirstWrite(t *testing.T) {
	var patches int
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		patches++
		w.WriteHeader(http.StatusOK)
	}))

	value := "persisted content"
	c.Seed("ag-1", map[string]string{"project": BlockHash(value)})

	wrote, err := c.UpsertAgentBlock(context.Background(), "ag-1", "project", value)
	if err != nil {
		t.Fatalf("UpsertAgentBlock: %v", err)
	}
	if wrote || patches != 0 {
		t.Fatalf("seeded hash must suppress write: wrote=%v patches=%d", wrote, patches)
	}
}

func TestGetOrCreateSourcePlaceholderAfterConflict(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/v1/folders/fold-1/sources":
			json.NewEncoder(w).Encode([]Source{{ID: "s-root", Name: "fold-1-root"}})
		case r.Method == http.MethodPost && r.URL.Path == "/v1/sources":
			http.Error(w, `{"detail":"name taken"}`, http.StatusConflict)
		case r.Method == http.MethodGet && r.URL.Path == "/v1/sources/name/docs":
			http.Error(w, `{"detail":"not found"}`, http.StatusNotFound)
		default:
			http.NotFound(w, r)
		}
	}))

	src, err := c.GetOrCreateSource(context.Background(), "fold-1", "docs")
	if err != nil {
		t.Fatalf("GetOrCreateSource: %v", err)
	}
	if !src.Placeholder {
		t.Fatalf("expected placeholder, got %+v", src)
	}

	// Cached resolution does not retry the conflict.
	again, err := c.GetOrCreateSource(context.Background(), "fold-1", "docs")
	if err != nil {
		t.Fatalf("second GetOrCreateSource: %v", err)
	}
	if again != src {
		t.Error("expected cached placeholder instance")
	}
}

func TestGetOrCreateSourceResolvesConflictByName(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/v1/folders/fold-1/sources":
			json.NewEncoder(w).Encode([]Source{})
		case r.Method == http.MethodPost && r.URL.Path == "/v1/sources":
			http.Error(w, `{"detail":"name taken"}`, http.StatusConflict)
		case r.Method == http.MethodGet && r.URL.Path == "/v1/sources/name/docs":
			json.NewEncoder(w).Encode(Source{ID: "src-7", Name: "docs"})
		default:
			http.NotFound(w, r)
		}
	}))

	src, err := c.GetOrCreateSource(context.Background(), "fold-1", "docs")
	if err != nil {
		t.Fatalf("GetOrCreateSource: %v", err)
	}
	if src.Placeholder || src.ID != "src-7" {
		t.Fatalf("src = %+v", src)
	}
}

func TestListSourcesSkipsRootEntries(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode([]Source{
			{ID: "s-1", Name: "myproject-root"},
			{ID: "s-2", Name: "docs"},
		})
	}))

	sources, err := c.ListSources(context.Background(), "fold-1")
	if err != nil {
		t.Fatalf("ListSources: %v", err)
	}
	if len(sources) != 1 || sources[0].Name != "docs" {
		t.Fatalf("sources = %+v", sources)
	}
}

func TestListFoldersPaginates(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		offset := r.URL.Query().Get("offset")
		if offset == "0" || offset == "" {
			page := make([]Folder, folderPageSize)
			for i := range page {
				page[i] = Folder{ID: fmt.Sprintf("f-%d", i), Name: fmt.Sprintf("folder-%d", i)}
			}
			json.NewEncoder(w).Encode(page)
			return
		}
		json.NewEncoder(w).Encode([]Folder{{ID: "f-last", Name: "folder-last"}})
	}))

	folders, err := c.ListFolders(context.Background())
	if err != nil {
		t.Fatalf("ListFolders: %v", err)
	}
	if len(folders) != folderPageSize+1 {
		t.Fatalf("len(folders) = %d, want %d", len(folders), folderPageSize+1)
	}
}

func TestGetOrCreateFolderCachesResolution(t *testing.T) {
	var lists int
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		lists++
		json.NewEncoder(w).Encode([]Folder{{ID: "f-1", Name: "myproject"}})
	}))

	ctx := context.Background()
	f1, err := c.GetOrCreateFolder(ctx, "myproject")
	if err != nil {
		t.Fatalf("GetOrCreateFolder: %v", err)
	}
	f2, err := c.GetOrCreateFolder(ctx, "myproject")
	if err != nil {
		t.Fatalf("second GetOrCreateFolder: %v", err)
	}
	if f1.ID != "f-1" || f2 != f1 {
		t.Fatalf("f1=%+v f2=%+v", f1, f2)
	}
	if lists != 1 {
		t.Errorf("lists = %d, want 1 (second call cached)", lists)
	}

	c.ClearAgentCaches()
	if _, err := c.GetOrCreateFolder(ctx, "myproject"); err != nil {
		t.Fatalf("post-clear GetOrCreateFolder: %v", err)
	}
	if lists != 2 {
		t.Errorf("lists = %d, want 2 after cache clear", lists)
	}
}

func TestUploadFile(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Fatalf("parse multipart: %v", err)
		}
		f, hdr, err := r.FormFile("file")
		if err != nil {
			t.Fatalf("form file: %v", err)
		}
		defer f.Close()
		if hdr.Filename != "CLAUDE.md" {
			t.Errorf("filename = %q", hdr.Filename)
		}
		json.NewEncoder(w).Encode(FileUpload{ID: "file-1", FileName: hdr.Filename})
	}))

	up, err := c.UploadFile(context.Background(), "fold-1", "CLAUDE.md", []byte("# Project notes"))
	if err != nil {
		t.Fatalf("UploadFile: %v", err)
	}
	if up.ID != "file-1" {
		t.Fatalf("up = %+v", up)
	}
}
