package search

import (
	"context"
	"log/slog"
	"sync"

	"agileflow/api/internal/rbac"
)

type indexBackend interface {
	Searcher
	Indexer
}

type fallbackBackend interface {
	Searcher
	LoadAllTasks(ctx context.Context) ([]TaskRecord, error)
}

// Service tries Meilisearch first and falls back to PG FTS. Index writes go
// to Meilisearch only; Postgres keeps its own vector up to date.
type Service struct {
	index    indexBackend
	fallback fallbackBackend
	wg       sync.WaitGroup
}

// NewService creates a search service. meili may be nil if Meilisearch is not configured.
func NewService(meili *Meili, pgfts *PgFTS) *Service {
	s := &Service{}
	if meili != nil {
		s.index = meili
	}
	if pgfts != nil {
		s.fallback = pgfts
	}
	return s
}

// Search never fails: backend errors are logged and yield an empty page.
func (s *Service) Search(ctx context.Context, q Query) Response {
	if s.index != nil && s.index.Healthy() {
		results, total, err := s.index.Search(ctx, q)
		if err == nil {
			return scopedResponse(q, results, total)
		}
		slog.Warn("search: meilisearch error, falling back to pgfts", "error", err)
	}

	if s.fallback == nil {
		return Response{Results: []Result{}, Query: q.Text}
	}
	results, total, err := s.fallback.Search(ctx, q)
	if err != nil {
		slog.Error("search: pgfts error", "error", err)
		return Response{Results: []Result{}, Total: 0, Query: q.Text}
	}
	return scopedResponse(q, results, total)
}

// IndexTask indexes a task (fire-and-forget to Meilisearch).
func (s *Service) IndexTask(t TaskRecord) {
	if s.index == nil || !s.index.Healthy() {
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.index.IndexTask(t); err != nil {
			slog.Warn("search: index task", "task_id", t.ID, "error", err)
		}
	}()
}

// DeleteTask removes a task from the search index (fire-and-forget).
func (s *Service) DeleteTask(id string) {
	if s.index == nil || !s.index.Healthy() {
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.index.DeleteTask(id); err != nil {
			slog.Warn("search: delete task", "task_id", id, "error", err)
		}
	}()
}

// ReindexAll pushes every task from Postgres into Meilisearch.
func (s *Service) ReindexAll(ctx context.Context) {
	if s.index == nil || !s.index.Healthy() || s.fallback == nil {
		return
	}
	tasks, err := s.fallback.LoadAllTasks(ctx)
	if err != nil {
		slog.Error("search: reindex load failed", "error", err)
		return
	}
	if err := s.index.IndexTasks(tasks); err != nil {
		slog.Error("search: reindex tasks", "count", len(tasks), "error", err)
		return
	}
	slog.Info("search: reindexed tasks", "count", len(tasks))
}

// Wait blocks until pending index writes have finished.
func (s *Service) Wait() {
	s.wg.Wait()
}

// scopedResponse filters a backend page and lowers the total by the hits
// dropped from it. Both backends already scope by actor, so a drop only
// happens when the index lags.
func scopedResponse(q Query, results []Result, total int) Response {
	visible := visibleResults(q.Actor, results)
	total -= len(results) - len(visible)
	if total < len(visible) {
		total = len(visible)
	}
	return Response{Results: visible, Total: total, Query: q.Text}
}

// visibleResults drops hits outside the actor's task scope, in case the
// index lags behind a reassignment.
func visibleResults(actor rbac.Actor, results []Result) []Result {
	filtered := make([]Result, 0, len(results))
	for _, r := range results {
		if rbac.CanViewTask(actor, r.AssignedBy, r.AssignedTo) {
			filtered = append(filtered, r)
		}
	}
	return filtered
}
