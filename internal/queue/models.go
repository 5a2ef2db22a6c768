package queue

import (
	"github.com/luminahq/research-server/internal/config"
)

// HistoryEntry is one prior message in the chat, oldest first.
type HistoryEntry struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Task is the wire payload handed to workers. It is constructed at enqueue
// time, consumed exactly once per delivery and then discarded; the queue
// guarantees at-least-once delivery, so workers must treat processing as
// idempotent (re-submitting a result for a COMPLETED request is accepted).
type Task struct {
	RequestID string                     `json:"requestId"`
	UserID    *string                    `json:"userId"`
	ChatID    string                     `json:"chatId"`
	Query     string                     `json:"query"`
	History   []HistoryEntry             `json:"history"`
	Config    *config.GenerationDefaults `json:"config,omitempty"`
}
