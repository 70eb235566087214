package models

import (
	"strings"

	"ai_gateway/internal/gwerr"
)

// Role is the author of a conversation turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// IsValid reports whether r may appear in a request history. Only user and
// assistant turns are accepted.
func (r Role) IsValid() bool {
	switch r {
	case RoleUser, RoleAssistant:
		return true
	default:
		return false
	}
}

// Message is one prior turn of the conversation.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// GenerationRequest is a single chat turn submitted to the gateway.
type GenerationRequest struct {
	Prompt         string    `json:"prompt"`
	History        []Message `json:"history,omitempty"`
	Model          string    `json:"model,omitempty"`
	ConversationID *int64    `json:"conversation_id,omitempty"`

	// Caller identity, filled from the authenticated session.
	UserID int64 `json:"-"`
	Admin  bool  `json:"-"`
}

// Validate checks the request before routing.
func (r *GenerationRequest) Validate() error {
	if strings.TrimSpace(r.Prompt) == "" {
		return gwerr.Validation("prompt", "must not be empty")
	}
	for i, m := range r.History {
		if !m.Role.IsValid() {
			return gwerr.Validation("history", "message %d has unknown role %q", i, m.Role)
		}
	}
	if r.ConversationID != nil && *r.ConversationID <= 0 {
		return gwerr.Validation("conversation_id", "must be positive")
	}
	return nil
}

// Messages returns the history followed by the prompt as a user turn.
func (r *GenerationRequest) Messages() []Message {
	out := make([]Message, 0, len(r.History)+1)
	out = append(out, r.History...)
	return append(out, Message{Role: RoleUser, Content: r.Prompt})
}
