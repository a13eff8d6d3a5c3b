package search

import (
	"context"
	"encoding/json"
	"errors"
	"reflect"
	"testing"
	"time"

	"agileflow/api/internal/rbac"
	meili "github.com/meilisearch/meilisearch-go"
)

type fakeBackend struct {
	healthy  bool
	results  []Result
	err      error
	indexed  chan TaskRecord
	deleted  chan string
	all      []TaskRecord
	searched int
}

func (f *fakeBackend) Healthy() bool { return f.healthy }

func (f *fakeBackend) Search(_ context.Context, _ Query) ([]Result, int, error) {
	f.searched++
	return f.results, len(f.results), f.err
}

func (f *fakeBackend) IndexTask(t TaskRecord) error {
	f.indexed <- t
	return nil
}

func (f *fakeBackend) IndexTasks(ts []TaskRecord) error {
	f.all = append(f.all, ts...)
	return nil
}

func (f *fakeBackend) DeleteTask(id string) error {
	f.deleted <- id
	return nil
}

func (f *fakeBackend) LoadAllTasks(context.Context) ([]TaskRecord, error) {
	return []TaskRecord{{ID: "t1"}, {ID: "t2"}}, nil
}

func TestBuildQueryScopes(t *testing.T) {
	cases := []struct {
		name      string
		actor     rbac.Actor
		status    string
		wantWhere string
		wantArgs  []any
	}{
		{
			name:      "hod sees all",
			actor:     rbac.Actor{ID: "h", Role: rbac.RoleHOD},
			wantWhere: "t.search_vector @@ plainto_tsquery('english', $1)",
			wantArgs:  []any{"exam"},
		},
		{
			name:      "professor participant",
			actor:     rbac.Actor{ID: "p", Role: rbac.RoleProfessor},
			wantWhere: "t.search_vector @@ plainto_tsquery('english', $1) AND (t.assigned_by = $2 OR t.assigned_to = $2)",
			wantArgs:  []any{"exam", "p"},
		},
		{
			name:      "student assigned with status",
			actor:     rbac.Actor{ID: "s", Role: rbac.RoleStudent},
			status:    "Completed",
			wantWhere: "t.search_vector @@ plainto_tsquery('english', $1) AND t.assigned_to = $2 AND t.status = $3",
			wantArgs:  []any{"exam", "s", "Completed"},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			where, args := buildQuery(Query{Text: "exam", Actor: tc.actor, Status: tc.status})
			if where != tc.wantWhere {
				t.Fatalf("where = %q", where)
			}
			if !reflect.DeepEqual(args, tc.wantArgs) {
				t.Fatalf("args = %v", args)
			}
		})
	}
}

func TestMeiliFilters(t *testing.T) {
	got := meiliFilters(Query{Actor: rbac.Actor{ID: "p", Role: rbac.RoleProfessor}, Status: "Pending"})
	want := []string{`assignedBy = "p" OR assignedTo = "p"`, `status = "Pending"`}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("filters = %v", got)
	}
	if got := meiliFilters(Query{Actor: rbac.Actor{ID: "h", Role: rbac.RoleHOD}}); len(got) != 0 {
		t.Fatalf("hod filters = %v", got)
	}
}

func TestHitToResultPrefersFormatted(t *testing.T) {
	hit := meili.Hit{
		"id":          json.RawMessage(`"t1"`),
		"title":       json.RawMessage(`"Grade exams"`),
		"description": json.RawMessage(`"all of them"`),
		"assignedTo":  json.RawMessage(`"s"`),
		"_formatted":  json.RawMessage(`{"title":"Grade <mark>exams</mark>","deadline":0}`),
	}
	r := hitToResult(hit)
	if r.ID != "t1" || r.Title != "Grade <mark>exams</mark>" || r.Snippet != "all of them" || r.AssignedTo != "s" {
		t.Fatalf("unexpected result %+v", r)
	}
}

func TestServiceFallsBackAndFiltersScope(t *testing.T) {
	student := rbac.Actor{ID: "s", Role: rbac.RoleStudent}
	primary := &fakeBackend{healthy: true, err: errors.New("boom")}
	fallback := &fakeBackend{healthy: true, results: []Result{
		{ID: "mine", AssignedBy: "p", AssignedTo: "s"},
		{ID: "stale", AssignedBy: "p", AssignedTo: "other"},
	}}
	s := &Service{index: primary, fallback: fallback}

	resp := s.Search(context.Background(), Query{Text: "exam", Actor: student})
	if primary.searched != 1 || fallback.searched != 1 {
		t.Fatalf("searched primary=%d fallback=%d", primary.searched, fallback.searched)
	}
	if len(resp.Results) != 1 || resp.Results[0].ID != "mine" {
		t.Fatalf("results = %+v", resp.Results)
	}
	if resp.Total != 1 {
		t.Fatalf("total = %d, want dropped hits excluded", resp.Total)
	}
}

func TestServiceSkipsUnhealthyIndex(t *testing.T) {
	primary := &fakeBackend{healthy: false}
	s := &Service{index: primary}
	resp := s.Search(context.Background(), Query{Text: "x", Actor: rbac.Actor{ID: "h", Role: rbac.RoleHOD}})
	if primary.searched != 0 {
		t.Fatal("unhealthy index was queried")
	}
	if resp.Results == nil {
		t.Fatal("results must be an empty slice, not nil")
	}

	s.IndexTask(TaskRecord{ID: "t1"})
	s.DeleteTask("t1")
	s.Wait()
}

func TestServiceIndexWrites(t *testing.T) {
	primary := &fakeBackend{healthy: true, indexed: make(chan TaskRecord, 1), deleted: make(chan string, 1)}
	s := &Service{index: primary, fallback: &fakeBackend{}}

	deadline := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	s.IndexTask(NewTaskRecord("t1", "Grade", "", "Pending", "p", "s", &deadline, deadline))
	s.DeleteTask("t9")
	s.Wait()

	if got := <-primary.indexed; got.ID != "t1" || got.Deadline != deadline.Unix() {
		t.Fatalf("indexed %+v", got)
	}
	if got := <-primary.deleted; got != "t9" {
		t.Fatalf("deleted %q", got)
	}

	s.ReindexAll(context.Background())
	if len(primary.all) != 2 {
		t.Fatalf("reindexed %d tasks", len(primary.all))
	}
}
