package domain

import (
	"time"
)

// Role identifies who authored a message.
type Role string

const (
	RoleSystem Role = "system"
	RoleUser   Role = "user"
	RoleAgent  Role = "agent"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	switch r {
	case RoleSystem, RoleUser, RoleAgent:
		return true
	}
	return false
}

// ReplyTagPrefix marks an agent reply with the ID of the message it answers.
const ReplyTagPrefix = "reply-to:"

// Message is one append-only conversation turn.
type Message struct {
	ID        string    `json:"id"`
	SessionID string    `json:"sessionId"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"createdAt"`
	Tags      []string  `json:"tags,omitempty"`
}

// HasTag reports whether the message carries the given tag.
func (m *Message) HasTag(tag string) bool {
	for _, t := range m.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// MergeMessages appends every message from incoming whose ID is not yet in
// existing. Order of existing is preserved and new messages keep their
// incoming order.
func MergeMessages(existing []Message, incoming ...Message) []Message {
	seen := make(map[string]struct{}, len(existing)+len(incoming))
	merged := make([]Message, 0, len(existing)+len(incoming))
	for _, m := range existing {
		if _, dup := seen[m.ID]; dup {
			continue
		}
		seen[m.ID] = struct{}{}
		merged = append(merged, m)
	}
	for _, m := range incoming {
		if _, dup := seen[m.ID]; dup {
			continue
		}
		seen[m.ID] = struct{}{}
		merged = append(merged, m)
	}
	return merged
}

// RecentMessages returns the last n messages, oldest first.
func RecentMessages(messages []Message, n int) []Message {
	if n <= 0 || n >= len(messages) {
		return messages
	}
	return messages[len(messages)-n:]
}
