// Package realtime fans out record changes to connected clients.
package realtime

import (
	"encoding/json"
	"fmt"
	"slices"
	"time"

	"agileflow/api/internal/rbac"
	"github.com/google/uuid"
)

type EventType string

const (
	EventInsert EventType = "INSERT"
	EventUpdate EventType = "UPDATE"
	EventDelete EventType = "DELETE"
	EventAny    EventType = "*"
)

func ParseEventType(value string) (EventType, error) {
	switch t := EventType(value); t {
	case EventInsert, EventUpdate, EventDelete, EventAny:
		return t, nil
	case "":
		return EventAny, nil
	default:
		return "", fmt.Errorf("invalid event type %q", value)
	}
}

const (
	TableUsers             = "users"
	TableTasks             = "tasks"
	TablePrivateMessages   = "private_messages"
	TableCommunityMessages = "community_messages"
)

// Event is one row change. Participants carries the ids visibility is
// decided on: sender and receiver for private messages, assigner and
// assignee for tasks.
type Event struct {
	ID           string          `json:"id"`
	Table        string          `json:"table"`
	Type         EventType       `json:"type"`
	Record       json.RawMessage `json:"record"`
	ClientRef    string          `json:"client_ref,omitempty"`
	Participants []string        `json:"participants,omitempty"`
	At           time.Time       `json:"at"`
}

func NewEvent(table string, typ EventType, record any, clientRef string, participants ...string) (Event, error) {
	raw, err := json.Marshal(record)
	if err != nil {
		return Event{}, fmt.Errorf("marshal %s record: %w", table, err)
	}
	return Event{
		ID:           uuid.NewString(),
		Table:        table,
		Type:         typ,
		Record:       raw,
		ClientRef:    clientRef,
		Participants: participants,
		At:           time.Now().UTC(),
	}, nil
}

// Filter selects events by table and type. Empty fields match anything.
type Filter struct {
	Tables []string
	Type   EventType
}

func (f Filter) Matches(e Event) bool {
	if len(f.Tables) > 0 && !slices.Contains(f.Tables, e.Table) {
		return false
	}
	return f.Type == "" || f.Type == EventAny || f.Type == e.Type
}

// VisibleTo applies the read rules of the REST surface to a change event.
func VisibleTo(actor rbac.Actor, e Event) bool {
	switch e.Table {
	case TablePrivateMessages:
		return rbac.CanUsePrivateMessaging(actor) && slices.Contains(e.Participants, actor.ID)
	case TableTasks:
		if len(e.Participants) != 2 {
			return rbac.TaskScopeFor(actor) == rbac.ScopeAll
		}
		return rbac.CanViewTask(actor, e.Participants[0], e.Participants[1])
	default:
		return true
	}
}

// clientEvent is what goes over the wire to browsers.
type clientEvent struct {
	ID        string          `json:"id"`
	Table     string          `json:"table"`
	Type      EventType       `json:"type"`
	Record    json.RawMessage `json:"record"`
	ClientRef string          `json:"client_ref,omitempty"`
	At        time.Time       `json:"at"`
}

func (e Event) forClient() clientEvent {
	return clientEvent{ID: e.ID, Table: e.Table, Type: e.Type, Record: e.Record, ClientRef: e.ClientRef, At: e.At}
}
