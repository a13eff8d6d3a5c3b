package search

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"agileflow/api/internal/rbac"
)

// PgFTS implements Searcher using PostgreSQL full-text search as a fallback.
type PgFTS struct {
	db *sql.DB
}

func NewPgFTS(db *sql.DB) *PgFTS {
	return &PgFTS{db: db}
}

// Healthy is always true; without Postgres nothing else works either.
func (p *PgFTS) Healthy() bool {
	return true
}

// buildQuery returns the WHERE clause and its arguments. $1 is always the
// search text.
func buildQuery(q Query) (string, []any) {
	args := []any{q.Text}
	where := []string{"t.search_vector @@ plainto_tsquery('english', $1)"}

	switch rbac.TaskScopeFor(q.Actor) {
	case rbac.ScopeAll:
	case rbac.ScopeParticipant:
		args = append(args, q.Actor.ID)
		where = append(where, fmt.Sprintf("(t.assigned_by = $%d OR t.assigned_to = $%d)", len(args), len(args)))
	default:
		args = append(args, q.Actor.ID)
		where = append(where, fmt.Sprintf("t.assigned_to = $%d", len(args)))
	}
	if q.Status != "" {
		args = append(args, q.Status)
		where = append(where, fmt.Sprintf("t.status = $%d", len(args)))
	}
	return strings.Join(where, " AND "), args
}

// Search ranks matching tasks with ts_rank and builds snippets with
// ts_headline over the description.
func (p *PgFTS) Search(ctx context.Context, q Query) ([]Result, int, error) {
	if strings.TrimSpace(q.Text) == "" {
		return nil, 0, nil
	}

	where, args := buildQuery(q)

	var total int
	if err := p.db.QueryRowContext(ctx, "SELECT count(*) FROM tasks t WHERE "+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("pgfts count: %w", err)
	}

	dataSQL := fmt.Sprintf(`SELECT t.id, t.title,
			ts_headline('english', t.description, plainto_tsquery('english', $1), 'MaxFragments=1,MaxWords=30,StartSel=<mark>,StopSel=</mark>'),
			t.status, t.assigned_by, t.assigned_to
		FROM tasks t
		WHERE %s
		ORDER BY ts_rank(t.search_vector, plainto_tsquery('english', $1)) DESC, t.created_at DESC
		LIMIT %d OFFSET %d`, where, q.limit(), q.offset())

	rows, err := p.db.QueryContext(ctx, dataSQL, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("pgfts query: %w", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var r Result
		if err := rows.Scan(&r.ID, &r.Title, &r.Snippet, &r.Status, &r.AssignedBy, &r.AssignedTo); err != nil {
			return nil, 0, fmt.Errorf("pgfts scan: %w", err)
		}
		results = append(results, r)
	}
	return results, total, rows.Err()
}

// LoadAllTasks returns every task for a full reindex.
func (p *PgFTS) LoadAllTasks(ctx context.Context) ([]TaskRecord, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, title, description, status, assigned_by, assigned_to,
			COALESCE(EXTRACT(EPOCH FROM deadline)::bigint, 0),
			EXTRACT(EPOCH FROM created_at)::bigint
		FROM tasks
	`)
	if err != nil {
		return nil, fmt.Errorf("load tasks: %w", err)
	}
	defer rows.Close()

	tasks := make([]TaskRecord, 0)
	for rows.Next() {
		var t TaskRecord
		if err := rows.Scan(&t.ID, &t.Title, &t.Description, &t.Status, &t.AssignedBy, &t.AssignedTo, &t.Deadline, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		tasks = append(tasks, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tasks: %w", err)
	}
	return tasks, nil
}
