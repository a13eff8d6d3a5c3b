package store

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"agileflow/api/internal/lifecycle"
	"agileflow/api/internal/rbac"
)

func readMigration(t *testing.T, name string) string {
	t.Helper()
	sqlBytes, err := os.ReadFile(filepath.Join("..", "..", "db", "migrations", name))
	if err != nil {
		t.Fatalf("read migration: %v", err)
	}
	return string(sqlBytes)
}

func TestUserRoleConstraintMatchesRoles(t *testing.T) {
	sqlText := readMigration(t, "0001_accounts_users.up.sql")
	for _, role := range rbac.Roles {
		if !strings.Contains(sqlText, "'"+role.String()+"'") {
			t.Fatalf("users.role check constraint is missing %q", role)
		}
	}
}

func TestTaskStatusConstraintMatchesStatuses(t *testing.T) {
	sqlText := readMigration(t, "0002_tasks.up.sql")
	for _, status := range lifecycle.Statuses {
		if !strings.Contains(sqlText, "'"+string(status)+"'") {
			t.Fatalf("tasks.status check constraint is missing %q", status)
		}
	}
	if !strings.Contains(sqlText, "DEFAULT '"+string(lifecycle.InitialStatus)+"'") {
		t.Fatalf("tasks.status default should be %q", lifecycle.InitialStatus)
	}
}

func TestTaskScopeClause(t *testing.T) {
	cases := []struct {
		scope rbac.TaskScope
		want  string
		args  int
	}{
		{scope: rbac.ScopeAll, want: "TRUE", args: 0},
		{scope: rbac.ScopeParticipant, want: "(t.assigned_by=$1 OR t.assigned_to=$1)", args: 1},
		{scope: rbac.ScopeAssignedOnly, want: "t.assigned_to=$1", args: 1},
	}
	for _, tc := range cases {
		clause, args := taskScopeClause(TaskFilter{Scope: tc.scope, ActorID: "u1"}, nil)
		if clause != tc.want || len(args) != tc.args {
			t.Fatalf("scope %v: clause %q args %v", tc.scope, clause, args)
		}
	}
}
