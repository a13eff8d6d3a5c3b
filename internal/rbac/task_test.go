package rbac

import "testing"

func TestEditableTaskFieldsMatrix(t *testing.T) {
	const (
		none   TaskField = 0
		status           = FieldStatus
		all              = AllTaskFields
	)
	want := map[Role]map[Relation]TaskField{
		RoleHOD: {
			RelationNeither:  all,
			RelationAssigner: all,
			RelationAssignee: all,
			RelationBoth:     all,
		},
		RoleProfessor: {
			RelationNeither:  none,
			RelationAssigner: all,
			RelationAssignee: status,
			RelationBoth:     all,
		},
		RoleSupportingStaff: {
			RelationNeither:  none,
			RelationAssigner: none,
			RelationAssignee: status,
			RelationBoth:     status,
		},
		RoleStudent: {
			RelationNeither:  none,
			RelationAssigner: none,
			RelationAssignee: status,
			RelationBoth:     status,
		},
	}

	relations := []Relation{RelationNeither, RelationAssigner, RelationAssignee, RelationBoth}
	for _, role := range Roles {
		for _, rel := range relations {
			t.Run(role.String()+"/"+rel.String(), func(t *testing.T) {
				got := EditableTaskFields(Actor{ID: "actor", Role: role}, rel)
				if got != want[role][rel] {
					t.Fatalf("EditableTaskFields(%v, %v) = %v, want %v", role, rel, got.Names(), want[role][rel].Names())
				}
			})
		}
	}
}

func TestRelationTo(t *testing.T) {
	actor := Actor{ID: "me", Role: RoleProfessor}
	cases := []struct {
		by, to string
		want   Relation
	}{
		{"me", "me", RelationBoth},
		{"me", "other", RelationAssigner},
		{"other", "me", RelationAssignee},
		{"other", "third", RelationNeither},
	}
	for _, tc := range cases {
		if got := RelationTo(actor, tc.by, tc.to); got != tc.want {
			t.Fatalf("RelationTo(%s,%s) = %v, want %v", tc.by, tc.to, got, tc.want)
		}
	}
	if got := RelationTo(Actor{}, "", ""); got != RelationNeither {
		t.Fatalf("anonymous actor relation = %v", got)
	}
}

func TestTaskScope(t *testing.T) {
	cases := []struct {
		role      Role
		scope     TaskScope
		byMe      bool
		toMe      bool
		unrelated bool
	}{
		{role: RoleHOD, scope: ScopeAll, byMe: true, toMe: true, unrelated: true},
		{role: RoleProfessor, scope: ScopeParticipant, byMe: true, toMe: true, unrelated: false},
		{role: RoleSupportingStaff, scope: ScopeAssignedOnly, byMe: false, toMe: true, unrelated: false},
		{role: RoleStudent, scope: ScopeAssignedOnly, byMe: false, toMe: true, unrelated: false},
	}
	for _, tc := range cases {
		t.Run(tc.role.String(), func(t *testing.T) {
			actor := Actor{ID: "me", Role: tc.role}
			scope := TaskScopeFor(actor)
			if scope != tc.scope {
				t.Fatalf("TaskScopeFor(%v) = %v, want %v", tc.role, scope, tc.scope)
			}
			if got := CanViewTask(actor, "me", "other"); got != tc.byMe {
				t.Fatalf("view assigned-by-me = %v, want %v", got, tc.byMe)
			}
			if got := CanViewTask(actor, "other", "me"); got != tc.toMe {
				t.Fatalf("view assigned-to-me = %v, want %v", got, tc.toMe)
			}
			if got := CanViewTask(actor, "x", "y"); got != tc.unrelated {
				t.Fatalf("view unrelated = %v, want %v", got, tc.unrelated)
			}
		})
	}
}

func TestCanDeleteTask(t *testing.T) {
	cases := []struct {
		name       string
		role       Role
		assignedBy string
		allow      bool
	}{
		{name: "hod any", role: RoleHOD, assignedBy: "other", allow: true},
		{name: "professor own", role: RoleProfessor, assignedBy: "me", allow: true},
		{name: "professor other", role: RoleProfessor, assignedBy: "other", allow: false},
		{name: "student other", role: RoleStudent, assignedBy: "other", allow: false},
		{name: "staff other", role: RoleSupportingStaff, assignedBy: "other", allow: false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := CanDeleteTask(Actor{ID: "me", Role: tc.role}, tc.assignedBy); got != tc.allow {
				t.Fatalf("CanDeleteTask() = %v, want %v", got, tc.allow)
			}
		})
	}
}
