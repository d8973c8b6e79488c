package model

import (
	"time"
)

// CompletionEventType represents the type of a published completion event.
type CompletionEventType string

const (
	CompletionEventDone  CompletionEventType = "done"
	CompletionEventError CompletionEventType = "error"
)

// TokenEvent is one incremental text event streamed to a consumer while a
// completion is in flight.
type TokenEvent struct {
	CompletionID uint64 `json:"completion_id"`
	Text         string `json:"text"`
	Index        int    `json:"index"`
}

// CompletionEvent records the terminal outcome of a completion request. It is
// published for external consumers once the request leaves the processing
// state.
type CompletionEvent struct {
	ID             string              `json:"id"`
	ConversationID string              `json:"conversation_id"`
	TenantID       string              `json:"tenant_id"`
	CompletionID   uint64              `json:"completion_id"`
	Type           CompletionEventType `json:"type"`
	Reason         string              `json:"reason,omitempty"`
	CreatedAt      time.Time           `json:"created_at"`
}

// ErrorEvent is the SSE payload for a failed completion.
type ErrorEvent struct {
	CompletionID uint64 `json:"completion_id"`
	Code         string `json:"code"`
	Message      string `json:"message"`
}

// DoneEvent is the SSE payload closing a completion stream.
type DoneEvent struct {
	CompletionID uint64   `json:"completion_id"`
	Message      *Message `json:"message,omitempty"`
}
