package letta

import "time"

// Agent is a platform agent.
type Agent struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Tags      []string  `json:"tags,omitempty"`
	Model     string    `json:"model,omitempty"`
	Embedding string    `json:"embedding,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Block is a labeled memory block.
type Block struct {
	ID    string `json:"id"`
	Label string `json:"label"`
	Value string `json:"value"`
	Limit int    `json:"limit,omitempty"`
}

// Tool is an attachable tool.
type Tool struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Folder groups sources of uploaded files.
type Folder struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Source is a file container inside a folder.
type Source struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	FolderID string `json:"folder_id,omitempty"`
	// Placeholder sources mark a 409-unresolvable name; callers skip uploads
	// against them instead of crashing.
	Placeholder bool `json:"-"`
}

// FileUpload is the metadata returned after uploading a file to a folder.
type FileUpload struct {
	ID       string `json:"id"`
	FileName string `json:"file_name"`
}

// CreateAgentRequest creates a named agent with seeded memory blocks.
type CreateAgentRequest struct {
	Name         string   `json:"name"`
	Tags         []string `json:"tags,omitempty"`
	Model        string   `json:"model,omitempty"`
	Embedding    string   `json:"embedding,omitempty"`
	MemoryBlocks []Block  `json:"memory_blocks,omitempty"`
}

// ListAgentsOptions are server-side filters for agent listing. Every set
// field is forwarded as a query parameter; dropping one silently is a
// contract violation (see Client.VerifyQueryFiltering).
type ListAgentsOptions struct {
	Name         string
	Tags         []string
	MatchAllTags bool
	Limit        int
	Offset       int
}

// ListOptions are pagination options for folder/source listings.
type ListOptions struct {
	Limit  int
	Offset int
}
