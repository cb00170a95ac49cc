package agentmgr

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/syncforge/trisync/internal/letta"
	"github.com/syncforge/trisync/internal/types"
)

// docFileNames are the repository root files uploaded into the project's
// folder so the agent can search them.
var docFileNames = []string{
	"README.md",
	"CLAUDE.md",
	"AGENTS.md",
	"CONTRIBUTING.md",
	"ARCHITECTURE.md",
}

// maxDocsDirFiles caps how many docs/*.md files are considered per project.
const maxDocsDirFiles = 20

// docFiles lists the candidate doc paths for a project, relative to its
// root: the fixed root set plus docs/*.md in sorted order.
func docFiles(root string) []string {
	names := append([]string{}, docFileNames...)

	matches, err := filepath.Glob(filepath.Join(root, "docs", "*.md"))
	if err != nil {
		return names
	}
	sort.Strings(matches)
	if len(matches) > maxDocsDirFiles {
		matches = matches[:maxDocsDirFiles]
	}
	for _, m := range matches {
		names = append(names, filepath.ToSlash(filepath.Join("docs", filepath.Base(m))))
	}
	return names
}

// docHashLabel namespaces persisted doc-upload hashes away from block
// labels in the same per-project hash map.
func docHashLabel(name string) string { return "doc:" + name }

// SyncDocs uploads README-like files from the project's filesystem path
// into the project's folder, suppressed by content hash. Placeholder
// sources skip uploads entirely.
func (m *Manager) SyncDocs(ctx context.Context, p *types.Project, agentID string) error {
	if !m.opts.AttachRepoDocs || p.FilesystemPath == "" {
		return nil
	}

	folderName := strings.ToLower(p.Identifier)
	folder, err := m.client.GetOrCreateFolder(ctx, folderName)
	if err != nil {
		return err
	}
	source, err := m.client.GetOrCreateSource(ctx, folder.ID, folderName)
	if err != nil {
		return err
	}
	if source.Placeholder {
		m.log.Warn("source unresolvable after conflict, skipping doc uploads",
			"project", p.Identifier, "source", folderName)
		return nil
	}

	bindingChanged := false
	if p.Agent.FolderID != folder.ID || p.Agent.SourceID != source.ID {
		p.Agent.FolderID = folder.ID
		p.Agent.SourceID = source.ID
		bindingChanged = true
	}

	for _, name := range docFiles(p.FilesystemPath) {
		content, err := os.ReadFile(filepath.Join(p.FilesystemPath, filepath.FromSlash(name)))
		if err != nil {
			continue
		}
		hash := letta.BlockHash(string(content))
		label := docHashLabel(name)
		if p.Agent.BlockHashes[label] == hash {
			continue
		}

		uploadName := strings.ReplaceAll(name, "/", "-")
		if _, err := m.client.UploadFile(ctx, folder.ID, uploadName, content); err != nil {
			m.log.Warn("doc upload failed",
				"project", p.Identifier, "file", name, "error", err)
			continue
		}
		if err := m.store.SaveBlockHash(ctx, p.Identifier, label, hash); err != nil {
			return err
		}
		if p.Agent.BlockHashes == nil {
			p.Agent.BlockHashes = map[string]string{}
		}
		p.Agent.BlockHashes[label] = hash
		m.log.Info("uploaded project doc", "project", p.Identifier, "file", name)
	}

	if bindingChanged {
		if err := m.store.SaveAgentBinding(ctx, p.Identifier, p.Agent); err != nil {
			return err
		}
	}
	if err := m.client.AttachFolder(ctx, agentID, folder.ID); err != nil {
		// Already-attached is a platform 409; anything else is worth a log
		// but not a failed phase.
		if !letta.IsConflict(err) {
			m.log.Warn("could not attach folder to agent",
				"project", p.Identifier, "folder", folder.ID, "error", err)
		}
	}
	return nil
}
