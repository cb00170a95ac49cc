package huly

import "time"

// Project is a tracker project as returned by the REST API.
type Project struct {
	ID          string `json:"id"`
	Identifier  string `json:"identifier"` // short UPPERCASE token, e.g. "ACME"
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Archived    bool   `json:"archived"`
}

// Issue is a tracker issue. Identifier is the canonical "PROJ-NNN" key for
// the whole system.
type Issue struct {
	ID          string    `json:"id"`
	Identifier  string    `json:"identifier"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	Status      string    `json:"status"`
	Priority    string    `json:"priority,omitempty"`
	Project     string    `json:"project"` // project identifier
	ModifiedAt  time.Time `json:"modifiedOn"`
	CreatedAt   time.Time `json:"createdOn"`
}

type projectList struct {
	Projects []Project `json:"projects"`
}

type issueList struct {
	Issues []Issue `json:"issues"`
	Total  int     `json:"total"`
}
