package model

import (
	"time"
)

// Role identifies who authored a message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Valid reports whether the role is one of the declared roles.
func (r Role) Valid() bool {
	switch r {
	case RoleSystem, RoleUser, RoleAssistant:
		return true
	}
	return false
}

// Message represents one turn in a conversation. Messages are immutable once
// added; conversation order is semantically significant.
type Message struct {
	// Identity
	ID             string `json:"id"`
	ConversationID string `json:"conversation_id"`

	// Content
	Role    Role   `json:"role"`
	Content string `json:"content"`

	// IncludeInCompletion controls whether this message is part of the
	// rendered context for subsequent completions.
	IncludeInCompletion bool `json:"include_in_completion"`

	// CompletionID links an assistant message to the completion request
	// that produced it. Zero for user and system messages.
	CompletionID uint64 `json:"completion_id,omitempty"`

	// Generation metadata (assistant messages only)
	Model         *string    `json:"model,omitempty"`
	StopReason    *string    `json:"stop_reason,omitempty"`
	StreamStarted *time.Time `json:"stream_started,omitempty"`
	StreamEnded   *time.Time `json:"stream_ended,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// SendMessageRequest is the request to send a new user message and start a
// completion for it.
type SendMessageRequest struct {
	Content string `json:"content"`
}

// SendMessageResponse is the response after sending a message without
// streaming: the stored assistant reply plus the id of the completion
// request that produced it.
type SendMessageResponse struct {
	Message      *Message `json:"message"`
	CompletionID uint64   `json:"completion_id"`
}

// ListMessagesResponse is the response for listing messages.
type ListMessagesResponse struct {
	Messages []Message `json:"messages"`
	Total    int       `json:"total"`
}
