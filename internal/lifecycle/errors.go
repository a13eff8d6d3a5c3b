package lifecycle

import "errors"

var (
	ErrTaskFieldsRequired = errors.New("title and assigned_to are required")
	ErrEmptyTitle         = errors.New("title cannot be empty")
	ErrInvalidStatus      = errors.New("invalid status")
	ErrInvalidDeadline    = errors.New("invalid deadline")
	ErrCreateForbidden    = errors.New("only HOD and Professors can create tasks")
	ErrAssigneeRole       = errors.New("professors can only assign tasks to students and supporting staff")
	ErrAccessDenied       = errors.New("access denied")
	ErrStatusOnly         = errors.New("you can only update task status")
	ErrDeleteForbidden    = errors.New("only task creator or HOD can delete tasks")
)
