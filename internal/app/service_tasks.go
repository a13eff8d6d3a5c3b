package app

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"strings"

	"agileflow/api/internal/email"
	"agileflow/api/internal/lifecycle"
	"agileflow/api/internal/rbac"
	"agileflow/api/internal/realtime"
	"agileflow/api/internal/search"
	"agileflow/api/internal/store"
	"github.com/google/uuid"
)

func (s *Service) ListTasks(ctx context.Context, actor rbac.Actor, q TaskQuery) ([]store.Task, error) {
	filter := store.TaskFilter{
		Scope:      rbac.TaskScopeFor(actor),
		ActorID:    actor.ID,
		AssignedTo: strings.TrimSpace(q.AssignedTo),
		AssignedBy: strings.TrimSpace(q.AssignedBy),
	}
	if q.Status != "" {
		status, err := lifecycle.ParseStatus(q.Status)
		if err != nil {
			return nil, err
		}
		filter.Status = status
	}
	return s.store.ListTasks(ctx, filter)
}

// TaskStats counts over exactly the tasks ListTasks would return unfiltered.
func (s *Service) TaskStats(ctx context.Context, actor rbac.Actor) (lifecycle.Summary, error) {
	tasks, err := s.ListTasks(ctx, actor, TaskQuery{})
	if err != nil {
		return lifecycle.Summary{}, err
	}
	items := make([]lifecycle.Item, 0, len(tasks))
	for _, t := range tasks {
		items = append(items, t.Item())
	}
	return lifecycle.Stats(actor.ID, items), nil
}

func (s *Service) SearchTasks(ctx context.Context, actor rbac.Actor, text, status string, limit, offset int) (search.Response, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return search.Response{}, validationError("Search query is required")
	}
	if status != "" {
		if _, err := lifecycle.ParseStatus(status); err != nil {
			return search.Response{}, err
		}
	}
	if s.search == nil {
		return search.Response{}, domainError(http.StatusServiceUnavailable, codeUnavailable, "Search is not available", nil)
	}
	return s.search.Search(ctx, search.Query{
		Text:   text,
		Actor:  actor,
		Status: status,
		Limit:  limit,
		Offset: offset,
	}), nil
}

func (s *Service) GetTask(ctx context.Context, actor rbac.Actor, id string) (store.Task, error) {
	task, err := s.store.GetTask(ctx, id)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Task{}, notFound("Task not found")
	}
	if err != nil {
		return store.Task{}, err
	}
	if err := lifecycle.AuthorizeView(actor, task.AssignedBy, task.AssignedTo); err != nil {
		return store.Task{}, err
	}
	return task, nil
}

// CreateTask checks the author, then the draft, then the assignee's role. The
// assignment email is sent in the background and never fails the request.
func (s *Service) CreateTask(ctx context.Context, actor rbac.Actor, in CreateTaskInput) (store.Task, error) {
	if err := lifecycle.AuthorizeCreator(actor); err != nil {
		return store.Task{}, err
	}
	draft := lifecycle.Draft{
		Title:       strings.TrimSpace(in.Title),
		Description: in.Description,
		Deadline:    in.Deadline.Time,
		AssignedTo:  strings.TrimSpace(in.AssignedTo),
	}
	if err := lifecycle.ValidateDraft(draft); err != nil {
		return store.Task{}, err
	}

	assignee, err := s.store.GetUser(ctx, draft.AssignedTo)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Task{}, notFound("Assigned user not found")
	}
	if err != nil {
		return store.Task{}, err
	}
	if err := lifecycle.AuthorizeAssignee(actor, assignee.Role); err != nil {
		return store.Task{}, err
	}

	task, err := s.store.CreateTask(ctx, store.Task{
		ID:          uuid.NewString(),
		Title:       draft.Title,
		Description: draft.Description,
		Deadline:    draft.Deadline,
		AssignedBy:  actor.ID,
		AssignedTo:  assignee.ID,
		Status:      lifecycle.InitialStatus,
	})
	if err != nil {
		return store.Task{}, err
	}

	if s.mailer != nil {
		s.mailer.NotifyTaskAssigned(email.TaskAssignment{
			RecipientEmail: assignee.Email,
			RecipientName:  assignee.Name,
			TaskTitle:      task.Title,
			AssignerName:   actor.Name,
			Deadline:       task.Deadline,
		})
	}
	s.indexTask(task)
	s.publish(ctx, realtime.TableTasks, realtime.EventInsert, task, "", task.AssignedBy, task.AssignedTo)
	return task, nil
}

// UpdateTask authorizes the patch against the stored task before anything is
// written.
func (s *Service) UpdateTask(ctx context.Context, actor rbac.Actor, id string, patch lifecycle.Patch) (store.Task, error) {
	current, err := s.store.GetTask(ctx, id)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Task{}, notFound("Task not found")
	}
	if err != nil {
		return store.Task{}, err
	}
	if err := lifecycle.AuthorizeUpdate(actor, current.AssignedBy, current.AssignedTo, patch); err != nil {
		return store.Task{}, err
	}
	if patch.Fields() == 0 {
		return current, nil
	}
	if patch.Title != nil {
		title := strings.TrimSpace(*patch.Title)
		patch.Title = &title
	}

	task, err := s.store.UpdateTask(ctx, id, patch)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Task{}, notFound("Task not found")
	}
	if err != nil {
		return store.Task{}, err
	}
	s.indexTask(task)
	s.publish(ctx, realtime.TableTasks, realtime.EventUpdate, task, "", task.AssignedBy, task.AssignedTo)
	return task, nil
}

func (s *Service) DeleteTask(ctx context.Context, actor rbac.Actor, id string) error {
	task, err := s.store.GetTask(ctx, id)
	if errors.Is(err, sql.ErrNoRows) {
		return notFound("Task not found")
	}
	if err != nil {
		return err
	}
	if err := lifecycle.AuthorizeDelete(actor, task.AssignedBy); err != nil {
		return err
	}
	if err := s.store.DeleteTask(ctx, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return notFound("Task not found")
		}
		return err
	}
	if s.search != nil {
		s.search.DeleteTask(id)
	}
	s.publish(ctx, realtime.TableTasks, realtime.EventDelete, map[string]string{"id": id}, "", task.AssignedBy, task.AssignedTo)
	return nil
}

func (s *Service) indexTask(t store.Task) {
	if s.search == nil {
		return
	}
	s.search.IndexTask(search.NewTaskRecord(t.ID, t.Title, t.Description, string(t.Status), t.AssignedBy, t.AssignedTo, t.Deadline, t.CreatedAt))
}
