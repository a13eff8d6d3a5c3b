package lifecycle

import (
	"database/sql/driver"
	"fmt"
)

// Status is a task's progress marker. Any status may be set from any other;
// a Completed task can be reopened.
type Status string

const (
	StatusPending    Status = "Pending"
	StatusInProgress Status = "In Progress"
	StatusCompleted  Status = "Completed"
)

var Statuses = []Status{StatusPending, StatusInProgress, StatusCompleted}

// InitialStatus is the status every new task starts in.
const InitialStatus = StatusPending

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusInProgress, StatusCompleted:
		return true
	default:
		return false
	}
}

func ParseStatus(value string) (Status, error) {
	status := Status(value)
	if !status.Valid() {
		return "", fmt.Errorf("%w %q", ErrInvalidStatus, value)
	}
	return status, nil
}

func (s *Status) UnmarshalText(text []byte) error {
	parsed, err := ParseStatus(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

func (s *Status) Scan(src any) error {
	switch value := src.(type) {
	case string:
		return s.UnmarshalText([]byte(value))
	case []byte:
		return s.UnmarshalText(value)
	default:
		return fmt.Errorf("scan status: unsupported type %T", src)
	}
}

func (s Status) Value() (driver.Value, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("%w %q", ErrInvalidStatus, string(s))
	}
	return string(s), nil
}
