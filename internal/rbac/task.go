package rbac

// TaskScope is the row filter applied to task reads for an actor.
type TaskScope int

const (
	// ScopeAssignedOnly admits tasks where the actor is the assignee.
	ScopeAssignedOnly TaskScope = iota
	// ScopeParticipant admits tasks the actor assigned or received.
	ScopeParticipant
	// ScopeAll admits every task.
	ScopeAll
)

func TaskScopeFor(actor Actor) TaskScope {
	switch {
	case Can(actor.Role, CapSeeAllTasks):
		return ScopeAll
	case Can(actor.Role, CapCreateTask):
		return ScopeParticipant
	default:
		return ScopeAssignedOnly
	}
}

// Admits reports whether a task with the given participants falls inside the scope.
func (s TaskScope) Admits(actorID, assignedBy, assignedTo string) bool {
	switch s {
	case ScopeAll:
		return true
	case ScopeParticipant:
		return assignedBy == actorID || assignedTo == actorID
	default:
		return assignedTo == actorID
	}
}

func CanViewTask(actor Actor, assignedBy, assignedTo string) bool {
	return TaskScopeFor(actor).Admits(actor.ID, assignedBy, assignedTo)
}

// CanDeleteTask allows the task's creator or anyone who may edit any task.
func CanDeleteTask(actor Actor, assignedBy string) bool {
	return Can(actor.Role, CapEditAnyTask) || (actor.ID != "" && actor.ID == assignedBy)
}

// Relation is how an actor relates to a single task.
type Relation int

const (
	RelationNeither Relation = iota
	RelationAssigner
	RelationAssignee
	RelationBoth
)

func (r Relation) String() string {
	switch r {
	case RelationAssigner:
		return "assigner"
	case RelationAssignee:
		return "assignee"
	case RelationBoth:
		return "both"
	default:
		return "neither"
	}
}

func RelationTo(actor Actor, assignedBy, assignedTo string) Relation {
	if actor.ID == "" {
		return RelationNeither
	}
	isAssigner := assignedBy == actor.ID
	isAssignee := assignedTo == actor.ID
	switch {
	case isAssigner && isAssignee:
		return RelationBoth
	case isAssigner:
		return RelationAssigner
	case isAssignee:
		return RelationAssignee
	default:
		return RelationNeither
	}
}

// TaskField is a bit set over the mutable task fields.
type TaskField uint8

const (
	FieldTitle TaskField = 1 << iota
	FieldDescription
	FieldDeadline
	FieldStatus
)

const (
	ContentFields = FieldTitle | FieldDescription | FieldDeadline
	AllTaskFields = ContentFields | FieldStatus
)

func (f TaskField) Has(other TaskField) bool {
	return f&other == other
}

// Names lists the set fields in a stable order, using their wire names.
func (f TaskField) Names() []string {
	names := make([]string, 0, 4)
	if f&FieldTitle != 0 {
		names = append(names, "title")
	}
	if f&FieldDescription != 0 {
		names = append(names, "description")
	}
	if f&FieldDeadline != 0 {
		names = append(names, "deadline")
	}
	if f&FieldStatus != 0 {
		names = append(names, "status")
	}
	return names
}

// EditableTaskFields returns the fields actor may change on a task it relates
// to by rel. Assigner rights only count for roles that can author tasks, and
// they take precedence over assignee rights on self-assigned tasks.
func EditableTaskFields(actor Actor, rel Relation) TaskField {
	if Can(actor.Role, CapEditAnyTask) {
		return AllTaskFields
	}
	isAssigner := rel == RelationAssigner || rel == RelationBoth
	isAssignee := rel == RelationAssignee || rel == RelationBoth
	switch {
	case isAssigner && Can(actor.Role, CapCreateTask):
		return AllTaskFields
	case isAssignee:
		return FieldStatus
	default:
		return 0
	}
}
