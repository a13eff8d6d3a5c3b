package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"agileflow/api/internal/lifecycle"
	"agileflow/api/internal/rbac"
)

const selectTask = `
	SELECT t.id, t.title, t.description, t.deadline, t.assigned_by, t.assigned_to, t.status,
		t.created_at, t.updated_at,
		ab.id, ab.name, ab.email, ab.role,
		at.id, at.name, at.email, at.role
	FROM tasks t
	LEFT JOIN users ab ON ab.id = t.assigned_by
	LEFT JOIN users at ON at.id = t.assigned_to
`

func scanTask(row rowScanner) (Task, error) {
	var (
		task     Task
		deadline sql.NullTime
		assigner nullSummary
		assignee nullSummary
	)
	dest := []any{
		&task.ID, &task.Title, &task.Description, &deadline, &task.AssignedBy, &task.AssignedTo, &task.Status,
		&task.CreatedAt, &task.UpdatedAt,
	}
	dest = append(dest, assigner.targets()...)
	dest = append(dest, assignee.targets()...)
	if err := row.Scan(dest...); err != nil {
		return Task{}, err
	}
	if deadline.Valid {
		task.Deadline = &deadline.Time
	}
	var err error
	if task.Assigner, err = assigner.value(); err != nil {
		return Task{}, fmt.Errorf("scan assigner: %w", err)
	}
	if task.Assignee, err = assignee.value(); err != nil {
		return Task{}, fmt.Errorf("scan assignee: %w", err)
	}
	return task, nil
}

// taskScopeClause renders the visibility predicate for filter, appending its
// arguments to args.
func taskScopeClause(filter TaskFilter, args []any) (string, []any) {
	switch filter.Scope {
	case rbac.ScopeAll:
		return "TRUE", args
	case rbac.ScopeParticipant:
		args = append(args, filter.ActorID)
		n := len(args)
		return fmt.Sprintf("(t.assigned_by=$%d OR t.assigned_to=$%d)", n, n), args
	default:
		args = append(args, filter.ActorID)
		return fmt.Sprintf("t.assigned_to=$%d", len(args)), args
	}
}

func (s *PostgresStore) ListTasks(ctx context.Context, filter TaskFilter) ([]Task, error) {
	clause, args := taskScopeClause(filter, nil)
	where := []string{clause}
	if filter.Status != "" {
		args = append(args, filter.Status)
		where = append(where, fmt.Sprintf("t.status=$%d", len(args)))
	}
	if filter.AssignedTo != "" {
		args = append(args, filter.AssignedTo)
		where = append(where, fmt.Sprintf("t.assigned_to=$%d", len(args)))
	}
	if filter.AssignedBy != "" {
		args = append(args, filter.AssignedBy)
		where = append(where, fmt.Sprintf("t.assigned_by=$%d", len(args)))
	}

	query := selectTask + ` WHERE ` + strings.Join(where, " AND ") + ` ORDER BY t.created_at DESC`
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	items := make([]Task, 0)
	for rows.Next() {
		item, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tasks: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) GetTask(ctx context.Context, id string) (Task, error) {
	return scanTask(s.db.QueryRowContext(ctx, selectTask+` WHERE t.id=$1`, id))
}

func (s *PostgresStore) CreateTask(ctx context.Context, task Task) (Task, error) {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tasks (id, title, description, deadline, assigned_by, assigned_to, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, task.ID, strings.TrimSpace(task.Title), task.Description, task.Deadline, task.AssignedBy, task.AssignedTo, task.Status)
	if err != nil {
		return Task{}, fmt.Errorf("create task: %w", err)
	}
	return s.GetTask(ctx, task.ID)
}

// UpdateTask applies the fields present in patch. Authorization is the
// caller's job.
func (s *PostgresStore) UpdateTask(ctx context.Context, id string, patch lifecycle.Patch) (Task, error) {
	sets := []string{"updated_at=NOW()"}
	args := []any{id}
	if patch.Title != nil {
		args = append(args, strings.TrimSpace(*patch.Title))
		sets = append(sets, fmt.Sprintf("title=$%d", len(args)))
	}
	if patch.Description != nil {
		args = append(args, *patch.Description)
		sets = append(sets, fmt.Sprintf("description=$%d", len(args)))
	}
	if patch.Deadline.Set {
		args = append(args, patch.Deadline.Time)
		sets = append(sets, fmt.Sprintf("deadline=$%d", len(args)))
	}
	if patch.Status != nil {
		args = append(args, *patch.Status)
		sets = append(sets, fmt.Sprintf("status=$%d", len(args)))
	}

	res, err := s.db.ExecContext(ctx, `UPDATE tasks SET `+strings.Join(sets, ", ")+` WHERE id=$1`, args...)
	if err != nil {
		return Task{}, fmt.Errorf("update task: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return Task{}, sql.ErrNoRows
	}
	return s.GetTask(ctx, id)
}

func (s *PostgresStore) DeleteTask(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM tasks WHERE id=$1`, id)
	if err != nil {
		return fmt.Errorf("delete task: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return sql.ErrNoRows
	}
	return nil
}
