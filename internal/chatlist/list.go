// Package chatlist keeps a chat transcript that shows outgoing messages
// immediately and reconciles them with the server's copies by client_ref.
package chatlist

import (
	"slices"
	"sync"
	"time"
)

type Entry struct {
	// ID is empty while the entry is pending.
	ID         string
	ClientRef  string
	SenderID   string
	SenderName string
	Body       string
	CreatedAt  time.Time
	Pending    bool
}

type List struct {
	mu      sync.Mutex
	entries []Entry
}

func New() *List {
	return &List{}
}

// AddPending appends an unconfirmed outgoing message. A clientRef already in
// the list is ignored.
func (l *List) AddPending(clientRef, senderID, senderName, body string, at time.Time) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if clientRef == "" || l.indexRef(clientRef) >= 0 {
		return false
	}
	l.entries = append(l.entries, Entry{
		ClientRef:  clientRef,
		SenderID:   senderID,
		SenderName: senderName,
		Body:       body,
		CreatedAt:  at,
		Pending:    true,
	})
	return true
}

// Confirm folds a server record into the list. The pending entry with the
// same client_ref is replaced in place; records already present by ID are
// ignored; anything else is appended. It reports whether the list changed.
func (l *List) Confirm(e Entry) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	e.Pending = false
	if e.ID != "" && slices.ContainsFunc(l.entries, func(x Entry) bool { return x.ID == e.ID }) {
		return false
	}
	if e.ClientRef != "" {
		if i := l.indexRef(e.ClientRef); i >= 0 {
			l.entries[i] = e
			return true
		}
	}
	l.entries = append(l.entries, e)
	return true
}

// Fail drops the pending entry for clientRef. Confirmed entries stay.
func (l *List) Fail(clientRef string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	i := l.indexRef(clientRef)
	if i < 0 || !l.entries[i].Pending {
		return false
	}
	l.entries = slices.Delete(l.entries, i, i+1)
	return true
}

// Reset replaces the confirmed history with records, keeping pending entries
// the server has not echoed yet at the end.
func (l *List) Reset(records []Entry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	refs := make(map[string]bool, len(records))
	next := make([]Entry, 0, len(records)+len(l.entries))
	for _, r := range records {
		r.Pending = false
		if r.ClientRef != "" {
			refs[r.ClientRef] = true
		}
		next = append(next, r)
	}
	for _, e := range l.entries {
		if e.Pending && !refs[e.ClientRef] {
			next = append(next, e)
		}
	}
	l.entries = next
}

func (l *List) Entries() []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	return slices.Clone(l.entries)
}

func (l *List) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

func (l *List) indexRef(ref string) int {
	if ref == "" {
		return -1
	}
	return slices.IndexFunc(l.entries, func(x Entry) bool { return x.ClientRef == ref })
}
