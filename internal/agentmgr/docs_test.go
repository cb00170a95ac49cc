package agentmgr

import (
	"context"
	"encoding/json"
	"fmt"
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
	"github.com/syncforge/trisync/internal/storage"
	"github.com/syncforge/trisync/internal/types"
)

// docsPlatform extends the agent fake with folders, sources, and uploads.
type docsPlatform struct {
	*fakePlatform

	mu       sync.Mutex
	folders  []letta.Folder
	sources  map[string][]letta.Source // folder ID -> sources
	uploads  map[string][]string       // folder ID -> uploaded file names
	attached []string                  // "agentID/folderID"
}

func newDocsPlatform() *docsPlatform {
	return &docsPlatform{
		fakePlatform: newFakePlatform(),
		sources:      map[string][]letta.Source{},
		uploads:      map[string][]string{},
	}
}

func (d *docsPlatform) handler(t *testing.T) http.Handler {
	base := d.fakePlatform.handler(t).(*http.ServeMux)

	base.HandleFunc("GET /v1/folders", func(w http.ResponseWriter, r *http.Request) {
		d.mu.Lock()
		defer d.mu.Unlock()
		json.NewEncoder(w).Encode(d.folders)
	})
	base.HandleFunc("POST /v1/folders", func(w http.ResponseWriter, r *http.Request) {
		var req map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		d.mu.Lock()
		defer d.mu.Unlock()
		f := letta.Folder{ID: fmt.Sprintf("fld-%d", len(d.folders)+1), Name: req["name"]}
		d.folders = append(d.folders, f)
		json.NewEncoder(w).Encode(f)
	})
	base.HandleFunc("GET /v1/folders/{id}/sources", func(w http.ResponseWriter, r *http.Request) {
		d.mu.Lock()
		defer d.mu.Unlock()
		srcs := d.sources[r.PathValue("id")]
		if srcs == nil {
			srcs = []letta.Source{}
		}
		json.NewEncoder(w).Encode(srcs)
	})
	base.HandleFunc("POST /v1/sources", func(w http.ResponseWriter, r *http.Request) {
		var req map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		d.mu.Lock()
		defer d.mu.Unlock()
		folderID := req["folder_id"]
		s := letta.Source{
			ID:       fmt.Sprintf("src-%d", len(d.sources[folderID])+1),
			Name:     req["name"],
			FolderID: folderID,
		}
		d.sources[folderID] = append(d.sources[folderID], s)
		json.NewEncoder(w).Encode(s)
	})
	base.HandleFunc("POST /v1/folders/{id}/upload", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseMultipartForm(1<<20))
		_, header, err := r.FormFile("file")
		require.NoError(t, err)
		d.mu.Lock()
		defer d.mu.Unlock()
		d.uploads[r.PathValue("id")] = append(d.uploads[r.PathValue("id")], header.Filename)
		json.NewEncoder(w).Encode(letta.FileUpload{ID: "file-1", FileName: header.Filename})
	})
	base.HandleFunc("PATCH /v1/agents/{id}/folders/attach/{folder}", func(w http.ResponseWriter, r *http.Request) {
		d.mu.Lock()
		defer d.mu.Unlock()
		d.attached = append(d.attached, r.PathValue("id")+"/"+r.PathValue("folder"))
		w.WriteHeader(http.StatusOK)
	})
	return base
}

func newTestManagerWith(t *testing.T, h http.Handler, opts Options) (*Manager, *storage.Store) {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	store, err := storage.Open(context.Background(), filepath.Join(t.TempDir(), "state.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	pool := httpx.NewPool(5*time.Second, nil)
	client := letta.NewClient(srv.URL, "key", pool)
	return New(client, store, opts, nil), store
}

func writeProjectDocs(t *testing.T, dir string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "README.md"), []byte("# Acme\n"), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "docs"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "docs", "design.md"), []byte("design\n"), 0o644))
}

func TestSyncDocsUploadsAndAttaches(t *testing.T) {
	d := newDocsPlatform()
	m, store := newTestManagerWith(t, d.handler(t), Options{NamePrefix: "TriSync", AttachRepoDocs: true})

	dir := t.TempDir()
	writeProjectDocs(t, dir)

	agent := d.addAgent("TriSync-ACME-PM", nil, time.Now())
	p := &types.Project{Identifier: "ACME", Name: "Acme", FilesystemPath: dir, State: types.ProjectActive}
	seedProject(t, store, p)

	require.NoError(t, m.SyncDocs(context.Background(), p, agent.ID))

	require.Len(t, d.folders, 1)
	assert.Equal(t, "acme", d.folders[0].Name, "folder named after lowercased identifier")

	uploaded := d.uploads[d.folders[0].ID]
	assert.Contains(t, uploaded, "README.md")
	assert.Contains(t, uploaded, "docs-design.md", "nested path flattened for upload")
	assert.Contains(t, d.attached, agent.ID+"/"+d.folders[0].ID)

	// Folder and source IDs are bound onto the project row.
	stored, err := store.GetProject(context.Background(), "ACME")
	require.NoError(t, err)
	assert.Equal(t, d.folders[0].ID, stored.Agent.FolderID)
	assert.NotEmpty(t, stored.Agent.SourceID)
}

func TestSyncDocsSuppressesUnchangedContent(t *testing.T) {
	d := newDocsPlatform()
	m, store := newTestManagerWith(t, d.handler(t), Options{NamePrefix: "TriSync", AttachRepoDocs: true})

	dir := t.TempDir()
	writeProjectDocs(t, dir)

	agent := d.addAgent("TriSync-ACME-PM", nil, time.Now())
	p := &types.Project{Identifier: "ACME", Name: "Acme", FilesystemPath: dir, State: types.ProjectActive}
	seedProject(t, store, p)

	require.NoError(t, m.SyncDocs(context.Background(), p, agent.ID))
	first := len(d.uploads[d.folders[0].ID])
	require.Greater(t, first, 0)

	// Second pass with identical content uploads nothing.
	require.NoError(t, m.SyncDocs(context.Background(), p, agent.ID))
	assert.Equal(t, first, len(d.uploads[d.folders[0].ID]))

	// A content change re-uploads just that file.
	require.NoError(t, os.WriteFile(filepath.Join(dir, "README.md"), []byte("# Acme v2\n"), 0o644))
	require.NoError(t, m.SyncDocs(context.Background(), p, agent.ID))
	assert.Equal(t, first+1, len(d.uploads[d.folders[0].ID]))
}

func TestDocFilesCapsDocsDir(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "docs"), 0o755))
	for i := 0; i < maxDocsDirFiles+5; i++ {
		name := fmt.Sprintf("page-%02d.md", i)
		require.NoError(t, os.WriteFile(filepath.Join(dir, "docs", name), []byte("x"), 0o644))
	}

	files := docFiles(dir)
	docsCount := 0
	for _, f := range files {
		if filepath.Dir(f) == "docs" {
			docsCount++
		}
	}
	assert.Equal(t, maxDocsDirFiles, docsCount)
}
