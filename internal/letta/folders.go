package letta

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

// folderPageSize is the page size for folder/source listings.
const folderPageSize = 50

// ListFolders pages through all folders.
func (c *Client) ListFolders(ctx context.Context) ([]Folder, error) {
	var all []Folder
	for offset := 0; ; offset += folderPageSize {
		var page []Folder
		if err := c.pool.DoJSON(ctx, httpxGet(c,
			"/v1/folders?"+pageParams(folderPageSize, offset)), &page); err != nil {
			return nil, fmt.Errorf("letta: list folders: %w", err)
		}
		all = append(all, page...)
		if len(page) < folderPageSize {
			return all, nil
		}
	}
}

// GetOrCreateFolder resolves a folder by name, creating it on first use.
// Resolutions are cached for the duration of the sync run.
func (c *Client) GetOrCreateFolder(ctx context.Context, name string) (*Folder, error) {
	if f, ok := c.folders.folder(name); ok {
		return f, nil
	}

	folders, err := c.ListFolders(ctx)
	if err != nil {
		return nil, err
	}
	for i := range folders {
		if folders[i].Name == name {
			c.folders.storeFolder(&folders[i])
			return &folders[i], nil
		}
	}

	var created Folder
	err = c.pool.DoJSON(ctx, request(c, http.MethodPost, "/v1/folders",
		map[string]string{"name": name}), &created)
	if IsConflict(err) {
		// Lost a create race; the folder exists now.
		folders, lerr := c.ListFolders(ctx)
		if lerr != nil {
			return nil, lerr
		}
		for i := range folders {
			if folders[i].Name == name {
				c.folders.storeFolder(&folders[i])
				return &folders[i], nil
			}
		}
		return nil, fmt.Errorf("letta: folder %s conflicted but is not listed", name)
	}
	if err != nil {
		return nil, fmt.Errorf("letta: create folder %s: %w", name, err)
	}
	c.folders.storeFolder(&created)
	return &created, nil
}

// ListSources pages through all sources in a folder, skipping internal
// "-root" entries the platform creates alongside each folder.
func (c *Client) ListSources(ctx context.Context, folderID string) ([]Source, error) {
	var all []Source
	for offset := 0; ; offset += folderPageSize {
		var page []Source
		if err := c.pool.DoJSON(ctx, httpxGet(c,
			fmt.Sprintf("/v1/folders/%s/sources?%s",
				url.PathEscape(folderID), pageParams(folderPageSize, offset))), &page); err != nil {
			return nil, fmt.Errorf("letta: list sources %s: %w", folderID, err)
		}
		for _, s := range page {
			if strings.HasSuffix(s.Name, "-root") {
				continue
			}
			all = append(all, s)
		}
		if len(page) < folderPageSize {
			return all, nil
		}
	}
}

// GetSourceByName looks a source up by name.
func (c *Client) GetSourceByName(ctx context.Context, name string) (*Source, error) {
	var src Source
	if err := c.pool.DoJSON(ctx, httpxGet(c,
		"/v1/sources/name/"+url.PathEscape(name)), &src); err != nil {
		return nil, fmt.Errorf("letta: get source %s: %w", name, err)
	}
	return &src, nil
}

// GetOrCreateSource resolves a source by name within a folder. A 409 on
// create means the name exists somewhere: resolve it by name, then by
// listing. When neither works the returned Source is a Placeholder so the
// caller skips uploads against it instead of failing the whole phase.
func (c *Client) GetOrCreateSource(ctx context.Context, folderID, name string) (*Source, error) {
	if s, ok := c.folders.source(folderID, name); ok {
		return s, nil
	}

	sources, err := c.ListSources(ctx, folderID)
	if err != nil {
		return nil, err
	}
	for i := range sources {
		if sources[i].Name == name {
			c.folders.storeSource(folderID, &sources[i])
			return &sources[i], nil
		}
	}

	var created Source
	err = c.pool.DoJSON(ctx, request(c, http.MethodPost, "/v1/sources",
		map[string]string{"name": name, "folder_id": folderID}), &created)
	if err == nil {
		c.folders.storeSource(folderID, &created)
		return &created, nil
	}
	if !IsConflict(err) {
		return nil, fmt.Errorf("letta: create source %s: %w", name, err)
	}

	if src, nerr := c.GetSourceByName(ctx, name); nerr == nil && src.ID != "" {
		c.folders.storeSource(folderID, src)
		return src, nil
	}
	if sources, lerr := c.ListSources(ctx, folderID); lerr == nil {
		for i := range sources {
			if sources[i].Name == name {
				c.folders.storeSource(folderID, &sources[i])
				return &sources[i], nil
			}
		}
	}

	placeholder := &Source{Name: name, FolderID: folderID, Placeholder: true}
	c.folders.storeSource(folderID, placeholder)
	return placeholder, nil
}

// DeleteSource removes a source and its files.
func (c *Client) DeleteSource(ctx context.Context, sourceID string) error {
	if err := c.pool.DoJSON(ctx, request(c, http.MethodDelete,
		"/v1/sources/"+url.PathEscape(sourceID), nil), nil); err != nil {
		return fmt.Errorf("letta: delete source %s: %w", sourceID, err)
	}
	return nil
}

// ListFolderFiles lists the files uploaded into a folder.
func (c *Client) ListFolderFiles(ctx context.Context, folderID string) ([]FileUpload, error) {
	var files []FileUpload
	if err := c.pool.DoJSON(ctx, httpxGet(c,
		fmt.Sprintf("/v1/folders/%s/files", url.PathEscape(folderID))), &files); err != nil {
		return nil, fmt.Errorf("letta: list files %s: %w", folderID, err)
	}
	return files, nil
}

// DeleteFolderFile removes one uploaded file from a folder.
func (c *Client) DeleteFolderFile(ctx context.Context, folderID, fileID string) error {
	if err := c.pool.DoJSON(ctx, request(c, http.MethodDelete,
		fmt.Sprintf("/v1/folders/%s/files/%s",
			url.PathEscape(folderID), url.PathEscape(fileID)), nil), nil); err != nil {
		return fmt.Errorf("letta: delete file %s: %w", fileID, err)
	}
	return nil
}

// AttachFolder attaches a folder to an agent so its files are searchable.
func (c *Client) AttachFolder(ctx context.Context, agentID, folderID string) error {
	if err := c.pool.DoJSON(ctx, request(c, http.MethodPatch,
		fmt.Sprintf("/v1/agents/%s/folders/attach/%s",
			url.PathEscape(agentID), url.PathEscape(folderID)), nil), nil); err != nil {
		return fmt.Errorf("letta: attach folder %s to %s: %w", folderID, agentID, err)
	}
	return nil
}

func pageParams(limit, offset int) string {
	v := url.Values{}
	v.Set("limit", strconv.Itoa(limit))
	v.Set("offset", strconv.Itoa(offset))
	return v.Encode()
}
