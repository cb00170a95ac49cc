package huly

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/syncforge/trisync/internal/httpx"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return NewClient(server.URL, "test-token", httpx.NewPool(5*time.Second, nil))
}

func TestListProjectsFiltersArchived(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if auth := r.Header.Get("Authorization"); auth != "Bearer test-token" {
			t.Errorf("Authorization = %q", auth)
		}
		if r.URL.Path != "/api/projects" {
			t.Errorf("path = %q", r.URL.Path)
		}
		json.NewEncoder(w).Encode(projectList{Projects: []Project{
			{ID: "p1", Identifier: "ACME", Name: "Acme"},
			{ID: "p2", Identifier: "OLD", Name: "Old", Archived: true},
		}})
	})

	projects, err := client.ListProjects(context.Background())
	if err != nil {
		t.Fatalf("ListProjects: %v", err)
	}
	if len(projects) != 1 || projects[0].Identifier != "ACME" {
		t.Errorf("projects = %+v, want only ACME", projects)
	}
}

func TestListIssuesIncremental(t *testing.T) {
	since := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		got := r.URL.Query().Get("modifiedAfter")
		if got != "2026-08-01T12:00:00Z" {
			t.Errorf("modifiedAfter = %q", got)
		}
		if r.URL.Query().Get("limit") != "" {
			t.Error("incremental fetch should not set limit")
		}
		json.NewEncoder(w).Encode(issueList{Issues: []Issue{
			{ID: "i1", Identifier: "ACME-1", Title: "Bootstrap", Status: "Backlog"},
		}})
	})

	issues, err := client.ListIssues(context.Background(), "ACME", since)
	if err != nil {
		t.Fatalf("ListIssues: %v", err)
	}
	if len(issues) != 1 || issues[0].Identifier != "ACME-1" {
		t.Errorf("issues = %+v", issues)
	}
}

func TestListIssuesFullPageBounded(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("limit"); got != "500" {
			t.Errorf("limit = %q, want 500", got)
		}
		json.NewEncoder(w).Encode(issueList{})
	})

	if _, err := client.ListIssues(context.Background(), "ACME", time.Time{}); err != nil {
		t.Fatalf("ListIssues: %v", err)
	}
}

func TestUpdateIssueStatus(t *testing.T) {
	var gotBody map[string]string
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPatch {
			t.Errorf("method = %q", r.Method)
		}
		if r.URL.Path != "/api/issues/i1" {
			t.Errorf("path = %q", r.URL.Path)
		}
		json.NewDecoder(r.Body).Decode(&gotBody)
		w.Write([]byte(`{}`))
	})

	if err := client.UpdateIssueStatus(context.Background(), "i1", "In Progress"); err != nil {
		t.Fatalf("UpdateIssueStatus: %v", err)
	}
	if gotBody["status"] != "In Progress" {
		t.Errorf("body = %v", gotBody)
	}
}

func TestGetIssueHTTPError(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	_, err := client.GetIssue(context.Background(), "missing")
	if err == nil {
		t.Fatal("expected error")
	}
	if httpx.IsRetriable(err) {
		t.Error("404 classified as retriable")
	}
}
