// Package search finds tasks by text, through Meilisearch when it is
// reachable and PostgreSQL full-text search otherwise.
package search

import (
	"context"
	"time"

	"agileflow/api/internal/rbac"
)

// Result is a single search hit returned to the caller.
type Result struct {
	ID         string `json:"id"`
	Title      string `json:"title"`
	Snippet    string `json:"snippet"`
	Status     string `json:"status"`
	AssignedBy string `json:"assigned_by"`
	AssignedTo string `json:"assigned_to"`
}

// Query describes a search request. Actor decides which tasks may appear.
type Query struct {
	Text   string
	Actor  rbac.Actor
	Status string
	Limit  int
	Offset int
}

func (q Query) limit() int {
	if q.Limit <= 0 || q.Limit > 100 {
		return 20
	}
	return q.Limit
}

func (q Query) offset() int {
	if q.Offset < 0 {
		return 0
	}
	return q.Offset
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// Searcher can execute a full-text search.
type Searcher interface {
	Search(ctx context.Context, q Query) ([]Result, int, error)
	Healthy() bool
}

// Indexer can push tasks into a search index.
type Indexer interface {
	IndexTask(t TaskRecord) error
	IndexTasks(ts []TaskRecord) error
	DeleteTask(id string) error
}

// TaskRecord is the data we index for a task.
type TaskRecord struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Status      string `json:"status"`
	AssignedBy  string `json:"assignedBy"`
	AssignedTo  string `json:"assignedTo"`
	// Unix seconds, zero when unset.
	Deadline  int64 `json:"deadline"`
	CreatedAt int64 `json:"createdAt"`
}

func NewTaskRecord(id, title, description, status, assignedBy, assignedTo string, deadline *time.Time, createdAt time.Time) TaskRecord {
	r := TaskRecord{
		ID:          id,
		Title:       title,
		Description: description,
		Status:      status,
		AssignedBy:  assignedBy,
		AssignedTo:  assignedTo,
		CreatedAt:   createdAt.Unix(),
	}
	if deadline != nil {
		r.Deadline = deadline.Unix()
	}
	return r
}
