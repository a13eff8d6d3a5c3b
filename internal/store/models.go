package store

import (
	"time"

	"agileflow/api/internal/lifecycle"
	"agileflow/api/internal/rbac"
)

// Account is the credential half of a locally managed identity.
type Account struct {
	ID           string
	Email        string
	PasswordHash string
	CreatedAt    time.Time
}

// UserSummary is the joined view of a related user.
type UserSummary struct {
	ID    string    `json:"id"`
	Name  string    `json:"name"`
	Email string    `json:"email,omitempty"`
	Role  rbac.Role `json:"role"`
}

type User struct {
	ID           string       `json:"id"`
	Email        string       `json:"email"`
	Name         string       `json:"name"`
	Role         rbac.Role    `json:"role"`
	OnlineStatus bool         `json:"online_status"`
	LastSeenAt   *time.Time   `json:"last_seen_at,omitempty"`
	CreatedBy    *string      `json:"created_by"`
	Creator      *UserSummary `json:"creator,omitempty"`
	CreatedAt    time.Time    `json:"created_at"`
	UpdatedAt    time.Time    `json:"updated_at"`
}

func (u User) Summary() UserSummary {
	return UserSummary{ID: u.ID, Name: u.Name, Email: u.Email, Role: u.Role}
}

func (u User) Actor() rbac.Actor {
	return rbac.Actor{ID: u.ID, Name: u.Name, Email: u.Email, Role: u.Role}
}

// UserChanges is a partial profile update; nil fields are left alone.
type UserChanges struct {
	Name         *string
	Role         *rbac.Role
	OnlineStatus *bool
}

type Task struct {
	ID          string           `json:"id"`
	Title       string           `json:"title"`
	Description string           `json:"description"`
	Deadline    *time.Time       `json:"deadline"`
	AssignedBy  string           `json:"assigned_by"`
	AssignedTo  string           `json:"assigned_to"`
	Status      lifecycle.Status `json:"status"`
	Assigner    *UserSummary     `json:"assigner,omitempty"`
	Assignee    *UserSummary     `json:"assignee,omitempty"`
	CreatedAt   time.Time        `json:"created_at"`
	UpdatedAt   time.Time        `json:"updated_at"`
}

func (t Task) Item() lifecycle.Item {
	return lifecycle.Item{Status: t.Status, AssignedBy: t.AssignedBy, AssignedTo: t.AssignedTo}
}

// TaskFilter narrows task listings. Scope is always applied; the remaining
// fields are optional equality filters.
type TaskFilter struct {
	Scope      rbac.TaskScope
	ActorID    string
	Status     lifecycle.Status
	AssignedTo string
	AssignedBy string
}

type PrivateMessage struct {
	ID         string       `json:"id"`
	SenderID   string       `json:"sender_id"`
	ReceiverID string       `json:"receiver_id"`
	Message    string       `json:"message"`
	Read       bool         `json:"read"`
	ClientRef  string       `json:"client_ref,omitempty"`
	Sender     *UserSummary `json:"sender,omitempty"`
	Receiver   *UserSummary `json:"receiver,omitempty"`
	CreatedAt  time.Time    `json:"created_at"`
}

type CommunityMessage struct {
	ID        string       `json:"id"`
	SenderID  string       `json:"sender_id"`
	Message   string       `json:"message"`
	ClientRef string       `json:"client_ref,omitempty"`
	Sender    *UserSummary `json:"sender,omitempty"`
	CreatedAt time.Time    `json:"created_at"`
}
