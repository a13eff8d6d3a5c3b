package messaging

import (
	"sort"
	"time"
)

// Party is the public summary of a conversation participant.
type Party struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email,omitempty"`
	Role  string `json:"role"`
}

// Message is the part of a private message conversation derivation reads.
type Message struct {
	ID        string
	Sender    Party
	Receiver  Party
	Body      string
	Read      bool
	CreatedAt time.Time
}

type Conversation struct {
	User            Party     `json:"user"`
	LastMessage     string    `json:"lastMessage"`
	LastMessageTime time.Time `json:"lastMessageTime"`
	Unread          bool      `json:"unread"`
}

// DeriveConversations returns one entry per counterpart of actorID, newest
// thread first. Each entry reflects only the latest message of its thread;
// it is unread when that message was received by actorID and not yet read.
// Messages that do not involve actorID are ignored.
func DeriveConversations(actorID string, messages []Message) []Conversation {
	ordered := make([]Message, 0, len(messages))
	for _, m := range messages {
		if m.Sender.ID == actorID || m.Receiver.ID == actorID {
			ordered = append(ordered, m)
		}
	}
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].CreatedAt.After(ordered[j].CreatedAt)
	})

	seen := make(map[string]struct{}, len(ordered))
	out := make([]Conversation, 0)
	for _, m := range ordered {
		other := m.Receiver
		if m.Sender.ID != actorID {
			other = m.Sender
		}
		if _, ok := seen[other.ID]; ok {
			continue
		}
		seen[other.ID] = struct{}{}
		out = append(out, Conversation{
			User:            other,
			LastMessage:     m.Body,
			LastMessageTime: m.CreatedAt,
			Unread:          m.Receiver.ID == actorID && !m.Read,
		})
	}
	return out
}

// UnreadCount counts messages addressed to actorID that are still unread.
func UnreadCount(actorID string, messages []Message) int {
	n := 0
	for _, m := range messages {
		if m.Receiver.ID == actorID && !m.Read {
			n++
		}
	}
	return n
}
