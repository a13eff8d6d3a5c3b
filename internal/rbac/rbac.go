package rbac

import (
	"database/sql/driver"
	"fmt"
)

// Role is the closed set of department roles. The zero value is not a role.
type Role uint8

const (
	RoleStudent Role = iota + 1
	RoleSupportingStaff
	RoleProfessor
	RoleHOD
)

// Roles lists every valid role, lowest privilege first.
var Roles = []Role{RoleStudent, RoleSupportingStaff, RoleProfessor, RoleHOD}

func (r Role) String() string {
	switch r {
	case RoleHOD:
		return "HOD"
	case RoleProfessor:
		return "Professor"
	case RoleSupportingStaff:
		return "Supporting Staff"
	case RoleStudent:
		return "Student"
	default:
		return ""
	}
}

func (r Role) Valid() bool {
	return r.String() != ""
}

func ParseRole(value string) (Role, error) {
	for _, role := range Roles {
		if role.String() == value {
			return role, nil
		}
	}
	return 0, fmt.Errorf("invalid role %q", value)
}

func (r Role) MarshalText() ([]byte, error) {
	if !r.Valid() {
		return nil, fmt.Errorf("invalid role %d", r)
	}
	return []byte(r.String()), nil
}

func (r *Role) UnmarshalText(text []byte) error {
	parsed, err := ParseRole(string(text))
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}

// Scan reads a role stored as its display string.
func (r *Role) Scan(src any) error {
	switch value := src.(type) {
	case string:
		return r.UnmarshalText([]byte(value))
	case []byte:
		return r.UnmarshalText(value)
	default:
		return fmt.Errorf("scan role: unsupported type %T", src)
	}
}

func (r Role) Value() (driver.Value, error) {
	if !r.Valid() {
		return nil, fmt.Errorf("invalid role %d", r)
	}
	return r.String(), nil
}

// Capability is a bit set of coarse rights granted by a role.
type Capability uint16

const (
	CapCreateUser Capability = 1 << iota
	CapCreateAnyRole
	CapDeleteUser
	CapManageUsers
	CapCreateTask
	CapAssignAnyRole
	CapSeeAllTasks
	CapEditAnyTask
	CapPrivateMessaging
)

func (r Role) Capabilities() Capability {
	switch r {
	case RoleHOD:
		return CapCreateUser | CapCreateAnyRole | CapDeleteUser | CapManageUsers |
			CapCreateTask | CapAssignAnyRole | CapSeeAllTasks | CapEditAnyTask |
			CapPrivateMessaging
	case RoleProfessor:
		return CapCreateUser | CapCreateTask | CapPrivateMessaging
	case RoleSupportingStaff, RoleStudent:
		return 0
	default:
		return 0
	}
}

func Can(role Role, capability Capability) bool {
	return role.Capabilities()&capability == capability
}

// Actor is the authenticated caller a decision is made for.
type Actor struct {
	ID    string
	Name  string
	Email string
	Role  Role
}

// juniorRole is the set a Professor may create accounts for and assign work to.
func juniorRole(role Role) bool {
	return role == RoleStudent || role == RoleSupportingStaff
}

func CanCreateUser(actor Actor, target Role) bool {
	if !target.Valid() || !Can(actor.Role, CapCreateUser) {
		return false
	}
	return Can(actor.Role, CapCreateAnyRole) || juniorRole(target)
}

func CanDeleteUser(actor Actor) bool {
	return Can(actor.Role, CapDeleteUser)
}

// CanUpdateUser reports whether actor may edit targetID's profile. Role
// changes are reserved for user managers; everyone may edit their own profile.
func CanUpdateUser(actor Actor, targetID string, changesRole bool) bool {
	if Can(actor.Role, CapManageUsers) {
		return true
	}
	return actor.ID == targetID && !changesRole
}

func CanCreateTask(actor Actor) bool {
	return Can(actor.Role, CapCreateTask)
}

func CanAssignTo(actor Actor, assignee Role) bool {
	if !CanCreateTask(actor) || !assignee.Valid() {
		return false
	}
	return Can(actor.Role, CapAssignAnyRole) || juniorRole(assignee)
}

func CanUsePrivateMessaging(actor Actor) bool {
	return Can(actor.Role, CapPrivateMessaging)
}

// CanReceivePrivateMessage holds independently of who the sender is.
func CanReceivePrivateMessage(receiver Role) bool {
	return Can(receiver, CapPrivateMessaging)
}

func CanMarkRead(actor Actor, receiverID string) bool {
	return actor.ID != "" && actor.ID == receiverID
}
