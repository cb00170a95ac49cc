package board

import "time"

// Project is a board project.
type Project struct {
	ID          int64  `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Identifier  string `json:"identifier,omitempty"`
	GitURL      string `json:"git_url,omitempty"`
}

// Task is a board task. Status is one of the five lattice values.
type Task struct {
	ID          int64     `json:"id"`
	ProjectID   int64     `json:"project_id"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	Status      string    `json:"status"`
	Position    float64   `json:"position,omitempty"`
	Created     time.Time `json:"created"`
	Updated     time.Time `json:"updated"`
}

// TaskUpdate is one entry in a bulk task update.
type TaskUpdate struct {
	ID     int64  `json:"id"`
	Status string `json:"status,omitempty"`
	Title  string `json:"title,omitempty"`
}

// Event is one SSE task event.
type Event struct {
	Type      string `json:"type"` // task.created, task.updated, task.deleted
	ProjectID int64  `json:"project_id"`
	TaskID    int64  `json:"task_id"`
}
