package letta

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"sync"

	"github.com/syncforge/trisync/internal/httpx"
)

// contentHash is the canonical hash for block values and doc uploads.
func contentHash(value string) string {
	sum := sha256.Sum256([]byte(value))
	return hex.EncodeToString(sum[:])
}

// hashCache remembers the last-written content hash per (agent, label).
// Process-lifetime only; the persisted copy lives in the state store.
type hashCache struct {
	mu     sync.RWMutex
	hashes map[[2]string]string
}

func newHashCache() *hashCache {
	return &hashCache{hashes: make(map[[2]string]string)}
}

func (h *hashCache) unchanged(agentID, label, value string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.hashes[[2]string{agentID, label}] == contentHash(value)
}

func (h *hashCache) store(agentID, label, value string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.hashes[[2]string{agentID, label}] = contentHash(value)
}

// Seed primes the hash cache from persisted hashes so the first run after a
// restart still suppresses unchanged writes.
func (c *Client) Seed(agentID string, hashes map[string]string) {
	c.hashes.mu.Lock()
	defer c.hashes.mu.Unlock()
	for label, hash := range hashes {
		c.hashes.hashes[[2]string{agentID, label}] = hash
	}
}

func (h *hashCache) clear() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.hashes = make(map[[2]string]string)
}

// folderCache caches folder and source resolutions for one sync run.
type folderCache struct {
	mu      sync.RWMutex
	byName  map[string]*Folder
	sources map[[2]string]*Source
}

func newFolderCache() *folderCache {
	return &folderCache{
		byName:  make(map[string]*Folder),
		sources: make(map[[2]string]*Source),
	}
}

func (f *folderCache) folder(name string) (*Folder, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	fl, ok := f.byName[name]
	return fl, ok
}

func (f *folderCache) storeFolder(fl *Folder) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.byName[fl.Name] = fl
}

func (f *folderCache) source(folderID, name string) (*Source, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	s, ok := f.sources[[2]string{folderID, name}]
	return s, ok
}

func (f *folderCache) storeSource(folderID string, s *Source) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sources[[2]string{folderID, s.Name}] = s
}

func (f *folderCache) clear() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.byName = make(map[string]*Folder)
	f.sources = make(map[[2]string]*Source)
}

func parseJSON(data []byte, out any) error {
	return json.Unmarshal(data, out)
}

func request(c *Client, method, path string, body any) httpx.Request {
	return httpx.Request{
		Method: method,
		URL:    c.baseURL + path,
		Body:   body,
		Header: c.headers(),
	}
}

func httpxGet(c *Client, path string) httpx.Request {
	return request(c, http.MethodGet, path, nil)
}
