package lifecycle

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"agileflow/api/internal/rbac"
)

// Deadline is an optional timestamp that remembers whether it was present in
// a request at all, so that an explicit null clears the stored value.
type Deadline struct {
	Set  bool
	Time *time.Time
}

var deadlineLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02",
}

func ParseDeadline(value string) (*time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil, nil
	}
	for _, layout := range deadlineLayouts {
		if parsed, err := time.Parse(layout, value); err == nil {
			utc := parsed.UTC()
			return &utc, nil
		}
	}
	return nil, fmt.Errorf("%w %q", ErrInvalidDeadline, value)
}

func (d *Deadline) UnmarshalJSON(data []byte) error {
	d.Set = true
	d.Time = nil
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		return nil
	}
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidDeadline, err)
	}
	parsed, err := ParseDeadline(raw)
	if err != nil {
		return err
	}
	d.Time = parsed
	return nil
}

// Draft is a task as submitted for creation.
type Draft struct {
	Title       string
	Description string
	Deadline    *time.Time
	AssignedTo  string
}

// ValidateDraft checks the fields every new task must carry.
func ValidateDraft(d Draft) error {
	if strings.TrimSpace(d.Title) == "" || strings.TrimSpace(d.AssignedTo) == "" {
		return ErrTaskFieldsRequired
	}
	return nil
}

// AuthorizeCreator fails for actors that cannot author tasks at all.
func AuthorizeCreator(actor rbac.Actor) error {
	if !rbac.CanCreateTask(actor) {
		return ErrCreateForbidden
	}
	return nil
}

// AuthorizeAssignee is checked once the assignee has been resolved.
func AuthorizeAssignee(actor rbac.Actor, assignee rbac.Role) error {
	if err := AuthorizeCreator(actor); err != nil {
		return err
	}
	if !rbac.CanAssignTo(actor, assignee) {
		return ErrAssigneeRole
	}
	return nil
}

// Patch is a partial task update. Nil pointers and an unset Deadline mean the
// field was not part of the request.
type Patch struct {
	Title       *string  `json:"title"`
	Description *string  `json:"description"`
	Deadline    Deadline `json:"deadline"`
	Status      *Status  `json:"status"`
}

func (p Patch) Fields() rbac.TaskField {
	var fields rbac.TaskField
	if p.Title != nil {
		fields |= rbac.FieldTitle
	}
	if p.Description != nil {
		fields |= rbac.FieldDescription
	}
	if p.Deadline.Set {
		fields |= rbac.FieldDeadline
	}
	if p.Status != nil {
		fields |= rbac.FieldStatus
	}
	return fields
}

// AuthorizeUpdate decides a patch against the current participants of the
// task. Callers must load the task first and pass its stored assigner and
// assignee; nothing is written when this returns an error.
func AuthorizeUpdate(actor rbac.Actor, assignedBy, assignedTo string, p Patch) error {
	allowed := rbac.EditableTaskFields(actor, rbac.RelationTo(actor, assignedBy, assignedTo))
	if allowed == 0 {
		return ErrAccessDenied
	}
	if p.Fields()&^allowed != 0 {
		return ErrStatusOnly
	}
	if p.Title != nil && strings.TrimSpace(*p.Title) == "" {
		return ErrEmptyTitle
	}
	if p.Status != nil && !p.Status.Valid() {
		return fmt.Errorf("%w %q", ErrInvalidStatus, string(*p.Status))
	}
	return nil
}

func AuthorizeView(actor rbac.Actor, assignedBy, assignedTo string) error {
	if !rbac.CanViewTask(actor, assignedBy, assignedTo) {
		return ErrAccessDenied
	}
	return nil
}

func AuthorizeDelete(actor rbac.Actor, assignedBy string) error {
	if !rbac.CanDeleteTask(actor, assignedBy) {
		return ErrDeleteForbidden
	}
	return nil
}
