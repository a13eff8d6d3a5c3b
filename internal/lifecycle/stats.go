package lifecycle

// Item is the slice of a task the statistics fold needs.
type Item struct {
	Status     Status
	AssignedBy string
	AssignedTo string
}

type Summary struct {
	Total      int `json:"total"`
	Pending    int `json:"pending"`
	InProgress int `json:"inProgress"`
	Completed  int `json:"completed"`
	Assigned   int `json:"assigned"`
	Received   int `json:"received"`
}

// Stats folds an already scope-filtered task set into counters for actorID.
func Stats(actorID string, items []Item) Summary {
	var s Summary
	for _, item := range items {
		s.Total++
		switch item.Status {
		case StatusPending:
			s.Pending++
		case StatusInProgress:
			s.InProgress++
		case StatusCompleted:
			s.Completed++
		}
		if actorID != "" && item.AssignedBy == actorID {
			s.Assigned++
		}
		if actorID != "" && item.AssignedTo == actorID {
			s.Received++
		}
	}
	return s
}
