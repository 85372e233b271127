// Package types holds the records shared by the store, the backend client
// and the conversation layers.
package types

import (
	"fmt"
	"time"
)

// Role identifies who authored a turn.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Valid reports whether r is one of the three known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleSystem, RoleUser, RoleAssistant:
		return true
	}
	return false
}

// ParseRole converts a stored role string back into a Role.
func ParseRole(s string) (Role, error) {
	r := Role(s)
	if !r.Valid() {
		return "", fmt.Errorf("unknown role %q", s)
	}
	return r, nil
}

// Turn is one immutable message of a story session.
type Turn struct {
	ID         int64
	UserID     int64
	Role       Role
	Content    string
	CreatedAt  time.Time
	TokenCount int
	SessionID  int
}

// Message returns the role/content pair sent to the backend for this turn.
func (t Turn) Message() Message {
	return Message{Role: t.Role, Content: t.Content}
}

// Message is the backend-facing projection of a turn.
type Message struct {
	Role    Role
	Content string
}

// Messages projects a turn history into backend messages, preserving order.
func Messages(turns []Turn) []Message {
	out := make([]Message, 0, len(turns))
	for _, t := range turns {
		out = append(out, t.Message())
	}
	return out
}

// Mode selects the cue appended to the latest user message.
type Mode string

const (
	ModeContinue Mode = "continue"
	ModeEnd      Mode = "end"
)
