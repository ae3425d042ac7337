package domain

import (
	"errors"
	"time"
)

// ErrSessionNotFound is returned by session stores when no session exists for an id.
var ErrSessionNotFound = errors.New("session not found")

// Status is the evaluation state of a session.
type Status string

const (
	StatusInProgress Status = "in_progress"
	StatusAccepted   Status = "accepted"
	StatusRejected   Status = "rejected"
)

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusInProgress, StatusAccepted, StatusRejected:
		return true
	}
	return false
}

// Terminal reports whether no further turns may change the session.
func (s Status) Terminal() bool {
	return s == StatusAccepted || s == StatusRejected
}

// Session is one applicant's evaluation conversation and its accumulated state.
type Session struct {
	ID                string               `json:"id"`
	Messages          []Message            `json:"messages"`
	Status            Status               `json:"status"`
	ConnectedAccounts map[AccountKind]bool `json:"connectedAccounts"`
	Criteria          []Criterion          `json:"criteria,omitempty"`
	DAOName           string               `json:"daoName,omitempty"`
	TokenSymbol       string               `json:"tokenSymbol,omitempty"`
	CreatedAt         time.Time            `json:"createdAt"`
	UpdatedAt         time.Time            `json:"updatedAt"`
}

// Append adds a message to the end of the transcript.
func (s *Session) Append(msg Message) {
	s.Messages = append(s.Messages, msg)
}

// Clone returns a deep copy of the session.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	cp := *s
	cp.Messages = make([]Message, len(s.Messages))
	for i, m := range s.Messages {
		cp.Messages[i] = m.clone()
	}
	cp.ConnectedAccounts = make(map[AccountKind]bool, len(s.ConnectedAccounts))
	for k, v := range s.ConnectedAccounts {
		cp.ConnectedAccounts[k] = v
	}
	if s.Criteria != nil {
		cp.Criteria = append([]Criterion(nil), s.Criteria...)
	}
	return &cp
}

// Message is a single transcript entry.
type Message struct {
	Role      Role       `json:"role"`
	Content   string     `json:"content"`
	Timestamp time.Time  `json:"timestamp"`
	ToolCalls []ToolCall `json:"toolCalls,omitempty"` // assistant entries only
}

func (m Message) clone() Message {
	if m.ToolCalls != nil {
		m.ToolCalls = append([]ToolCall(nil), m.ToolCalls...)
	}
	return m
}

// Role identifies who authored a transcript entry.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)
