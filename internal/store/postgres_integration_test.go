package store

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"agileflow/api/internal/lifecycle"
	"agileflow/api/internal/rbac"
	"github.com/google/uuid"
)

func openIntegrationStore(t *testing.T) (*PostgresStore, context.Context) {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	dsn := strings.TrimSpace(os.Getenv("AGILEFLOW_TEST_DATABASE_URL"))
	if dsn == "" {
		t.Skip("AGILEFLOW_TEST_DATABASE_URL is not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	t.Cleanup(cancel)

	db, err := Open(ctx, dsn)
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	if err := resetPublicSchema(ctx, db); err != nil {
		t.Fatalf("reset schema: %v", err)
	}
	if err := ApplyMigrations(ctx, db, filepath.Join("..", "..", "db", "migrations")); err != nil {
		t.Fatalf("apply migrations: %v", err)
	}
	return NewPostgresStore(db), ctx
}

func mustCreateUser(t *testing.T, ctx context.Context, s *PostgresStore, name string, role rbac.Role) User {
	t.Helper()
	user, err := s.CreateUser(ctx, User{
		ID:    uuid.NewString(),
		Email: strings.ToLower(name) + "@dept.example.edu",
		Name:  name,
		Role:  role,
	})
	if err != nil {
		t.Fatalf("create user %s: %v", name, err)
	}
	return user
}

func TestPostgresTaskScopes(t *testing.T) {
	s, ctx := openIntegrationStore(t)

	hod := mustCreateUser(t, ctx, s, "Hana", rbac.RoleHOD)
	prof := mustCreateUser(t, ctx, s, "Pavel", rbac.RoleProfessor)
	student := mustCreateUser(t, ctx, s, "Sami", rbac.RoleStudent)

	for _, task := range []Task{
		{ID: uuid.NewString(), Title: "Review syllabus", AssignedBy: hod.ID, AssignedTo: prof.ID, Status: lifecycle.StatusPending},
		{ID: uuid.NewString(), Title: "Lab report", AssignedBy: prof.ID, AssignedTo: student.ID, Status: lifecycle.StatusPending},
		{ID: uuid.NewString(), Title: "Budget", AssignedBy: hod.ID, AssignedTo: hod.ID, Status: lifecycle.StatusCompleted},
	} {
		if _, err := s.CreateTask(ctx, task); err != nil {
			t.Fatalf("create task: %v", err)
		}
	}

	cases := []struct {
		name  string
		actor User
		want  int
	}{
		{name: "hod sees all", actor: hod, want: 3},
		{name: "professor sees both directions", actor: prof, want: 2},
		{name: "student sees received", actor: student, want: 1},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			actor := tc.actor.Actor()
			tasks, err := s.ListTasks(ctx, TaskFilter{Scope: rbac.TaskScopeFor(actor), ActorID: actor.ID})
			if err != nil {
				t.Fatalf("list tasks: %v", err)
			}
			if len(tasks) != tc.want {
				t.Fatalf("got %d tasks, want %d", len(tasks), tc.want)
			}
			for _, task := range tasks {
				if task.Assigner == nil || task.Assignee == nil {
					t.Fatalf("task %s missing joined users", task.ID)
				}
			}
		})
	}

	filtered, err := s.ListTasks(ctx, TaskFilter{Scope: rbac.ScopeAll, Status: lifecycle.StatusCompleted})
	if err != nil || len(filtered) != 1 || filtered[0].Title != "Budget" {
		t.Fatalf("status filter: %v %+v", err, filtered)
	}
}

func TestPostgresMarkReadIsIdempotent(t *testing.T) {
	s, ctx := openIntegrationStore(t)

	hod := mustCreateUser(t, ctx, s, "Hana", rbac.RoleHOD)
	prof := mustCreateUser(t, ctx, s, "Pavel", rbac.RoleProfessor)

	msg, err := s.CreatePrivateMessage(ctx, PrivateMessage{
		ID: uuid.NewString(), SenderID: hod.ID, ReceiverID: prof.ID, Message: "Staff meeting at 3", ClientRef: "ref-1",
	})
	if err != nil {
		t.Fatalf("create message: %v", err)
	}
	if msg.ClientRef != "ref-1" || msg.Sender == nil || msg.Sender.Role != rbac.RoleHOD {
		t.Fatalf("unexpected message %+v", msg)
	}

	for i := 0; i < 2; i++ {
		read, err := s.MarkPrivateMessageRead(ctx, msg.ID)
		if err != nil {
			t.Fatalf("mark read pass %d: %v", i, err)
		}
		if !read.Read {
			t.Fatalf("pass %d: message not read", i)
		}
	}

	if n, err := s.CountUnread(ctx, prof.ID); err != nil || n != 0 {
		t.Fatalf("unread = %d (%v)", n, err)
	}
	if _, err := s.MarkPrivateMessageRead(ctx, uuid.NewString()); !errors.Is(err, sql.ErrNoRows) {
		t.Fatalf("missing message: %v", err)
	}
}

func TestPostgresCommunityMessagesAreChronological(t *testing.T) {
	s, ctx := openIntegrationStore(t)
	student := mustCreateUser(t, ctx, s, "Sami", rbac.RoleStudent)

	for _, body := range []string{"one", "two", "three"} {
		if _, err := s.CreateCommunityMessage(ctx, CommunityMessage{ID: uuid.NewString(), SenderID: student.ID, Message: body}); err != nil {
			t.Fatalf("create community message: %v", err)
		}
		time.Sleep(5 * time.Millisecond)
	}

	items, err := s.ListCommunityMessages(ctx, 2)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(items) != 2 || items[0].Message != "two" || items[1].Message != "three" {
		t.Fatalf("unexpected window %+v", items)
	}
}

func TestPostgresDuplicateEmail(t *testing.T) {
	s, ctx := openIntegrationStore(t)
	mustCreateUser(t, ctx, s, "Sami", rbac.RoleStudent)
	_, err := s.CreateUser(ctx, User{ID: uuid.NewString(), Email: "SAMI@dept.example.edu", Name: "Other", Role: rbac.RoleStudent})
	if !errors.Is(err, ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}
}
